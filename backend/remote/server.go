package remote

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"gosyncprogress/internal/progress"
)

// MaxBatchSize is the largest batch the server accepts in one request
const MaxBatchSize = 100

// EntityState is the server's record of progress for one entity
type EntityState struct {
	Percent          int               `json:"percent"`
	Completed        bool              `json:"completed"`
	TimeSpentSeconds int64             `json:"timeSpentSeconds"`
	Score            *float64          `json:"score,omitempty"`
	Answers          map[string]string `json:"answers,omitempty"`
	LastEventAt      time.Time         `json:"lastEventAt"`
	Applied          int               `json:"applied"`
}

// ServerOptions configures the reference server
type ServerOptions struct {
	// Token, when set, is the bearer credential every request must carry
	Token string
	// Reject, when set, decides per event whether to refuse it and why
	Reject func(progress.Event) (reason string, reject bool)
}

// Server is a reference implementation of the batch-submit contract. It
// deduplicates by event id and applies progress monotonically. State is kept
// in memory.
type Server struct {
	opts   ServerOptions
	engine *gin.Engine

	mu          sync.Mutex
	accepted    map[string]bool
	entities    map[progress.EntityKey]*EntityState
	submissions int
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, errorEnvelope{Error: apiError{Message: msg, Code: code}})
}

// NewServer creates a reference server
func NewServer(opts ServerOptions) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		opts:     opts,
		accepted: make(map[string]bool),
		entities: make(map[progress.EntityKey]*EntityState),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(HealthPath, s.health)

	protected := r.Group("/")
	protected.Use(s.requireAuth())
	protected.POST(BatchPath, s.submitBatch)
	protected.GET("/v1/progress/:courseId", s.courseState)

	s.engine = r
	return s
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Token == "" {
			c.Next()
			return
		}
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) <= 7 || !strings.EqualFold(authHeader[:7], "Bearer ") || authHeader[7:] != s.opts.Token {
			respondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing or invalid token"))
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) submitBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, progress.ReasonValidation, err)
		return
	}
	if len(req.Events) > MaxBatchSize {
		respondError(c, http.StatusRequestEntityTooLarge, "batch_too_large", errors.New("too many events in batch"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions++

	results := make([]progress.Result, 0, len(req.Events))
	for _, e := range req.Events {
		results = append(results, s.applyLocked(e))
	}
	c.JSON(http.StatusOK, BatchResponse{Results: results})
}

// applyLocked records one event. Callers hold s.mu.
func (s *Server) applyLocked(e progress.Event) progress.Result {
	if s.accepted[e.ID] {
		return progress.Result{ID: e.ID, Outcome: progress.OutcomeAccepted}
	}
	if err := progress.Validate(e); err != nil {
		return progress.Result{ID: e.ID, Outcome: progress.OutcomeRejected, Reason: progress.ReasonValidation}
	}
	if s.opts.Reject != nil {
		if reason, reject := s.opts.Reject(e); reject {
			return progress.Result{ID: e.ID, Outcome: progress.OutcomeRejected, Reason: reason}
		}
	}

	state, ok := s.entities[e.EntityKey]
	if !ok {
		state = &EntityState{}
		s.entities[e.EntityKey] = state
	}
	state.Percent = max(state.Percent, e.Payload.Percent)
	state.Completed = state.Completed || e.Payload.Completed
	state.TimeSpentSeconds += e.Payload.TimeSpentSeconds
	if e.Payload.Score != nil && (state.Score == nil || *e.Payload.Score > *state.Score) {
		v := *e.Payload.Score
		state.Score = &v
	}
	if len(e.Payload.Answers) > 0 && !e.CreatedAt.Before(state.LastEventAt) {
		state.Answers = make(map[string]string, len(e.Payload.Answers))
		for k, v := range e.Payload.Answers {
			state.Answers[k] = v
		}
	}
	if e.CreatedAt.After(state.LastEventAt) {
		state.LastEventAt = e.CreatedAt
	}
	state.Applied++

	s.accepted[e.ID] = true
	return progress.Result{ID: e.ID, Outcome: progress.OutcomeAccepted}
}

func (s *Server) courseState(c *gin.Context) {
	courseID := c.Param("courseId")

	s.mu.Lock()
	defer s.mu.Unlock()

	type entry struct {
		progress.EntityKey
		EntityState
	}
	out := []entry{}
	for key, state := range s.entities {
		if key.CourseID == courseID {
			out = append(out, entry{EntityKey: key, EntityState: *state})
		}
	}
	c.JSON(http.StatusOK, gin.H{"entities": out})
}

// State returns a copy of the server's record for key
func (s *Server) State(key progress.EntityKey) (EntityState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.entities[key]
	if !ok {
		return EntityState{}, false
	}
	return *state, true
}

// Submissions returns how many batch requests were received
func (s *Server) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissions
}
