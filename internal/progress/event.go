package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action identifies what kind of progress change an event records.
type Action string

const (
	ActionLessonProgress Action = "lesson_progress"
	ActionLessonComplete Action = "lesson_complete"
	ActionModuleComplete Action = "module_complete"
	ActionCourseComplete Action = "course_complete"
	ActionQuizSubmit     Action = "quiz_submit"
	ActionTimeSpent      Action = "time_spent"
)

// AllActions lists every action kind in declaration order
func AllActions() []Action {
	return []Action{
		ActionLessonProgress,
		ActionLessonComplete,
		ActionModuleComplete,
		ActionCourseComplete,
		ActionQuizSubmit,
		ActionTimeSpent,
	}
}

// ParseAction converts a user-supplied string into an Action
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllActions() {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// DefaultPriority returns the priority an event of this action gets when the
// caller does not choose one.
func (a Action) DefaultPriority() Priority {
	switch a {
	case ActionLessonComplete, ActionModuleComplete, ActionCourseComplete, ActionQuizSubmit:
		return PriorityHigh
	case ActionLessonProgress:
		return PriorityNormal
	case ActionTimeSpent:
		return PriorityLow
	}
	panic(fmt.Sprintf("progress: unhandled action %q", string(a)))
}

// IsCompletion reports whether the action marks an entity as finished
func (a Action) IsCompletion() bool {
	switch a {
	case ActionLessonComplete, ActionModuleComplete, ActionCourseComplete:
		return true
	case ActionLessonProgress, ActionQuizSubmit, ActionTimeSpent:
		return false
	}
	panic(fmt.Sprintf("progress: unhandled action %q", string(a)))
}

// rank orders actions for merging; the higher rank names the merged event.
func (a Action) rank() int {
	switch a {
	case ActionTimeSpent:
		return 0
	case ActionLessonProgress:
		return 1
	case ActionQuizSubmit:
		return 2
	case ActionLessonComplete:
		return 3
	case ActionModuleComplete:
		return 4
	case ActionCourseComplete:
		return 5
	}
	panic(fmt.Sprintf("progress: unhandled action %q", string(a)))
}

// Priority is the delivery priority of an event. Higher values go first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses "low", "normal" or "high"
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityNormal, fmt.Errorf("invalid priority %q (expected low, normal or high)", s)
}

// MarshalText encodes the priority by name on the wire
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Status is the lifecycle state of a queued event.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusAcked    Status = "acked"
	StatusRequeued Status = "requeued"
	StatusDead     Status = "dead"
)

// EntityKey identifies what an event mutates: a course, optionally narrowed
// to a module and a lesson.
type EntityKey struct {
	CourseID string `json:"courseId" validate:"required"`
	ModuleID string `json:"moduleId,omitempty"`
	LessonID string `json:"lessonId,omitempty"`
}

// String renders the key as course/module/lesson with empty parts as "-"
func (k EntityKey) String() string {
	part := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}
	return part(k.CourseID) + "/" + part(k.ModuleID) + "/" + part(k.LessonID)
}

// Payload holds action-specific data. TimeSpentSeconds is always a delta.
type Payload struct {
	Percent          int               `json:"percent,omitempty" validate:"min=0,max=100"`
	Completed        bool              `json:"completed,omitempty"`
	TimeSpentSeconds int64             `json:"timeSpentSeconds,omitempty" validate:"min=0"`
	Score            *float64          `json:"score,omitempty" validate:"omitempty,min=0"`
	Answers          map[string]string `json:"answers,omitempty"`
}

// Event is a single queued progress change.
type Event struct {
	ID        string    `json:"id" validate:"required"`
	Action    Action    `json:"action" validate:"required,oneof=lesson_progress lesson_complete module_complete course_complete quiz_submit time_spent"`
	EntityKey EntityKey `json:"entityKey"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
	Attempts  int       `json:"attempts" validate:"min=0"`
	Priority  Priority  `json:"priority" validate:"min=0,max=2"`
	Status    Status    `json:"status,omitempty"`

	// Local bookkeeping, never sent to the server.
	NextAttemptAt time.Time `json:"-"`
	LastError     string    `json:"-"`
	UpdatedAt     time.Time `json:"-"`
	// Submitted is set once the event has been handed to the server. Its
	// outcome there may be unknown, so it is only ever resent under its own id.
	Submitted bool `json:"-"`
}

// NewEvent creates a pending event with a fresh id and the action's default
// priority. Completion actions always carry completed=true and percent=100.
func NewEvent(action Action, key EntityKey, payload Payload, now time.Time) Event {
	if action.IsCompletion() {
		payload.Completed = true
		payload.Percent = 100
	}
	return Event{
		ID:        uuid.NewString(),
		Action:    action,
		EntityKey: key,
		Payload:   payload,
		CreatedAt: now,
		Priority:  action.DefaultPriority(),
		Status:    StatusPending,
		UpdatedAt: now,
	}
}

// Eligible reports whether the event may be sent at the given time
func (e Event) Eligible(now time.Time) bool {
	return e.Status == StatusPending && !e.NextAttemptAt.After(now)
}

// Outcome is the server's per-item verdict.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Reason codes a server may return with a rejection
const (
	ReasonValidation = "validation_error"
	ReasonRetryable  = "retryable"
)

// Result is the acknowledgement for one submitted event.
type Result struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}
