package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a helpful suggestion for the user
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// ErrOfflineSentinel is matched by errors.Is for every error built with ErrOffline
var ErrOfflineSentinel = errors.New("progress server is unreachable")

// Common error constructors with suggestions

// ErrOffline creates an error when an immediate save cannot reach the server
func ErrOffline(reason string) error {
	suggestion := "Queued progress is kept on disk and will be sent when the connection returns"
	if strings.Contains(reason, "refused") {
		suggestion = "Check if the progress server is running and accessible"
	} else if strings.Contains(reason, "timeout") {
		suggestion = "The server may be slow or unreachable. Try again later"
	}

	err := ErrOfflineSentinel
	if reason != "" {
		err = fmt.Errorf("%w: %s", ErrOfflineSentinel, reason)
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrEventNotFound creates an error when a queued event id is unknown
func ErrEventNotFound(id string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no queued event with id '%s'", id),
		Suggestion: "Run 'gosyncprogress queue list' to see queued events",
	}
}

// ErrInvalidAction creates an error for an unknown progress action
func ErrInvalidAction(action string, valid []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid action: %s", action),
		Suggestion: fmt.Sprintf("Valid actions: %s", strings.Join(valid, ", ")),
	}
}

// ErrRemoteNotConfigured creates an error when no server URL is configured
func ErrRemoteNotConfigured() error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no progress server configured"),
		Suggestion: "Set 'remote.url' in ~/.config/gosyncprogress/config.json",
	}
}

// ErrCredentialsNotFound creates an error when no token is stored for a remote
func ErrCredentialsNotFound(remote, username string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("credentials not found for %s (user: %s)", remote, username),
		Suggestion: fmt.Sprintf("Store a token with 'gosyncprogress credentials set %s %s --prompt'", remote, username),
	}
}

// ErrInvalidConfig creates an error for invalid configuration
func ErrInvalidConfig(field string, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid configuration for '%s': %s", field, reason),
		Suggestion: fmt.Sprintf("Check ~/.config/gosyncprogress/config.json and fix the '%s' field", field),
	}
}

// WrapWithSuggestion wraps an existing error with a suggestion
func WrapWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}
