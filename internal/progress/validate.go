package progress

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidationError reports a malformed event. It is permanent: the event is
// dead-lettered instead of retried.
type ValidationError struct {
	EventID string
	Field   string
	Reason  string
	Err     error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid event %s: %s: %s", e.EventID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid event %s: %s", e.EventID, e.Reason)
}

// Unwrap returns the underlying validator error, if any
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is (or wraps) a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks field constraints and the per-action requirements.
func Validate(e Event) error {
	if err := getValidator().Struct(e); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{
				EventID: e.ID,
				Field:   fe.Namespace(),
				Reason:  fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
				Err:     err,
			}
		}
		return &ValidationError{EventID: e.ID, Reason: err.Error(), Err: err}
	}

	invalid := func(field, reason string) error {
		return &ValidationError{EventID: e.ID, Field: field, Reason: reason}
	}

	switch e.Action {
	case ActionLessonProgress, ActionLessonComplete:
		if e.EntityKey.LessonID == "" {
			return invalid("EntityKey.LessonID", "required for "+string(e.Action))
		}
	case ActionModuleComplete:
		if e.EntityKey.ModuleID == "" {
			return invalid("EntityKey.ModuleID", "required for "+string(e.Action))
		}
	case ActionCourseComplete:
	case ActionQuizSubmit:
		if len(e.Payload.Answers) == 0 {
			return invalid("Payload.Answers", "quiz submission has no answers")
		}
	case ActionTimeSpent:
		if e.Payload.TimeSpentSeconds == 0 {
			return invalid("Payload.TimeSpentSeconds", "time_spent event carries no time")
		}
	default:
		return invalid("Action", fmt.Sprintf("unknown action %q", string(e.Action)))
	}
	return nil
}
