package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gosyncprogress/backend"
	"gosyncprogress/internal/progress"
)

const (
	// BatchPath accepts POSTed batches of progress events
	BatchPath = "/v1/progress/batch"

	// HealthPath answers 200 when the server is reachable
	HealthPath = "/v1/health"

	// DefaultTimeout bounds a single request; expiry counts as a transient failure
	DefaultTimeout = 15 * time.Second
)

// TokenSource supplies the bearer credential attached to each request.
// Refresh is called once after an authorization failure.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// BatchRequest is the body of a batch submission
type BatchRequest struct {
	Events []progress.Event `json:"events"`
}

// BatchResponse carries one result per submitted event, in request order
type BatchResponse struct {
	Results []progress.Result `json:"results"`
}

// Client handles HTTP communication with the progress server
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a new progress server client. tokens may be nil for
// servers that do not require authentication.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest performs an HTTP request with authentication. When no token can
// be resolved the request goes out without one and credErr reports why, so
// the server decides whether a credential is needed.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) (resp *http.Response, credErr error, err error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		switch {
		case err != nil:
			credErr = err
		case token != "":
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err = c.httpClient.Do(req)
	return resp, credErr, err
}

// statusError builds the error for a non-200 response. A refused request
// sent without a token carries the reason no token was available.
func statusError(op string, resp *http.Response, credErr error) *backend.BackendError {
	message := http.StatusText(resp.StatusCode)
	be := backend.NewBackendError(op, resp.StatusCode, message)
	if credErr != nil && be.IsUnauthorized() {
		be.Message = message + ": no credentials available"
		be = be.WithError(credErr)
	}
	return be
}

// SubmitBatch sends events and returns one result per event in the same
// order. Re-sending an id the server already accepted is a no-op there, so a
// batch whose outcome is unknown can be resubmitted unchanged.
func (c *Client) SubmitBatch(ctx context.Context, events []progress.Event) ([]progress.Result, error) {
	if len(events) == 0 {
		return nil, nil
	}

	resp, credErr, err := c.doRequest(ctx, http.MethodPost, BatchPath, BatchRequest{Events: events})
	if err != nil {
		return nil, backend.NewBackendError("SubmitBatch", 0, err.Error()).
			WithBatchSize(len(events)).
			WithError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError("SubmitBatch", resp, credErr).
			WithBatchSize(len(events)).
			WithBody(string(body))
	}

	var decoded BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, backend.NewBackendError("SubmitBatch", http.StatusBadGateway, "failed to decode response").
			WithBatchSize(len(events)).
			WithError(err)
	}

	if err := checkResults(events, decoded.Results); err != nil {
		return nil, backend.NewBackendError("SubmitBatch", http.StatusBadGateway, err.Error()).
			WithBatchSize(len(events))
	}
	return decoded.Results, nil
}

// checkResults verifies the response pairs up with the request
func checkResults(events []progress.Event, results []progress.Result) error {
	if len(results) != len(events) {
		return fmt.Errorf("expected %d results, got %d", len(events), len(results))
	}
	for i := range events {
		if results[i].ID != events[i].ID {
			return fmt.Errorf("result %d is for %q, expected %q", i, results[i].ID, events[i].ID)
		}
		switch results[i].Outcome {
		case progress.OutcomeAccepted, progress.OutcomeRejected:
		default:
			return fmt.Errorf("result %d has unknown outcome %q", i, results[i].Outcome)
		}
	}
	return nil
}

// Ping checks that the server is reachable
func (c *Client) Ping(ctx context.Context) error {
	resp, credErr, err := c.doRequest(ctx, http.MethodGet, HealthPath, nil)
	if err != nil {
		return backend.NewBackendError("Ping", 0, err.Error()).WithError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError("Ping", resp, credErr)
	}
	return nil
}

// RefreshCredentials asks the token source for a new credential
func (c *Client) RefreshCredentials(ctx context.Context) error {
	if c.tokens == nil {
		return fmt.Errorf("no credential source configured")
	}
	if _, err := c.tokens.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh credentials: %w", err)
	}
	return nil
}
