// Package retry decides what happens to an event after a failed delivery.
package retry

import (
	"time"

	"gosyncprogress/backend"
	"gosyncprogress/internal/progress"
)

// Defaults used when a Policy field is zero
const (
	DefaultMaxAttempts = 5
	DefaultBase        = time.Second
	DefaultCap         = 5 * time.Minute
)

// Class is the retry category of a failure
type Class int

const (
	// Transient failures are retried with backoff
	Transient Class = iota
	// Permanent failures dead-letter the event immediately
	Permanent
	// Reauth failures get one credential refresh and one resubmission
	Reauth
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Reauth:
		return "reauth"
	default:
		return "unknown"
	}
}

// Classify maps a delivery error to a retry class
func Classify(err error) Class {
	if err == nil {
		return Transient
	}
	if progress.IsValidationError(err) {
		return Permanent
	}
	if be, ok := backend.AsBackendError(err); ok {
		switch {
		case be.IsNetwork(), be.IsServerError(), be.IsThrottled():
			return Transient
		case be.IsValidation():
			return Permanent
		case be.IsClientError():
			return Reauth
		default:
			return Permanent
		}
	}
	// Timeouts, resets and anything unrecognized are worth another try.
	return Transient
}

// ClassifyRejection maps a per-item rejection reason to a retry class
func ClassifyRejection(reason string) Class {
	if reason == progress.ReasonRetryable {
		return Transient
	}
	return Permanent
}

// Policy holds the retry limits
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// DefaultPolicy returns 5 attempts with 1s base and 5m cap
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Base: DefaultBase, Cap: DefaultCap}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Base <= 0 {
		p.Base = DefaultBase
	}
	if p.Cap <= 0 {
		p.Cap = DefaultCap
	}
	return p
}

// Backoff returns min(Cap, Base * 2^attempts)
func (p Policy) Backoff(attempts int) time.Duration {
	p = p.normalized()
	if attempts < 0 {
		attempts = 0
	}
	d := p.Base
	for i := 0; i < attempts; i++ {
		if d >= p.Cap {
			return p.Cap
		}
		d *= 2
	}
	return min(d, p.Cap)
}

// Decision is the new bookkeeping for a failed event
type Decision struct {
	Status        progress.Status
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

// Dead reports whether the event is quarantined
func (d Decision) Dead() bool {
	return d.Status == progress.StatusDead
}

// OnFailure applies a failure of class c to e. Transient failures count an
// attempt and requeue with backoff until MaxAttempts is reached; everything
// else dead-letters. Reauth must be resolved by the caller first and is
// treated as permanent here.
func (p Policy) OnFailure(e progress.Event, c Class, reason string, now time.Time) Decision {
	p = p.normalized()
	attempts := e.Attempts + 1

	if c != Transient {
		return Decision{Status: progress.StatusDead, Attempts: attempts, LastError: reason}
	}
	if attempts >= p.MaxAttempts {
		return Decision{Status: progress.StatusDead, Attempts: attempts, LastError: reason}
	}
	return Decision{
		Status:        progress.StatusRequeued,
		Attempts:      attempts,
		NextAttemptAt: now.Add(p.Backoff(attempts)),
		LastError:     reason,
	}
}
