package progress

import "time"

// Merge folds two events for the same entity into one.
//
// Percent takes the maximum and Completed is OR-ed, so progress never moves
// backwards regardless of fold order. TimeSpentSeconds is summed because each
// raw event carries a delta. Timestamps, attempts and priority take the
// maximum. Quiz answers come from the later event. The result keeps a's id;
// callers that fold more than one event assign a new one.
func Merge(a, b Event) Event {
	older, newer := a, b
	if b.CreatedAt.Before(a.CreatedAt) {
		older, newer = b, a
	}

	c := a
	c.Action = higherAction(a.Action, b.Action)
	c.Payload = mergePayload(older.Payload, newer.Payload)
	c.CreatedAt = maxTime(a.CreatedAt, b.CreatedAt)
	c.UpdatedAt = maxTime(a.UpdatedAt, b.UpdatedAt)
	c.NextAttemptAt = maxTime(a.NextAttemptAt, b.NextAttemptAt)
	c.Attempts = max(a.Attempts, b.Attempts)
	c.Priority = max(a.Priority, b.Priority)
	c.Submitted = a.Submitted || b.Submitted

	if newer.LastError != "" {
		c.LastError = newer.LastError
	} else {
		c.LastError = older.LastError
	}
	return c
}

// MergeAll folds events left to right. It returns false for an empty slice.
func MergeAll(events []Event) (Event, bool) {
	if len(events) == 0 {
		return Event{}, false
	}
	merged := events[0]
	for _, e := range events[1:] {
		merged = Merge(merged, e)
	}
	return merged, true
}

func mergePayload(older, newer Payload) Payload {
	p := Payload{
		Percent:          max(older.Percent, newer.Percent),
		Completed:        older.Completed || newer.Completed,
		TimeSpentSeconds: older.TimeSpentSeconds + newer.TimeSpentSeconds,
		Score:            maxScore(older.Score, newer.Score),
	}

	answers := newer.Answers
	if len(answers) == 0 {
		answers = older.Answers
	}
	if len(answers) > 0 {
		p.Answers = make(map[string]string, len(answers))
		for k, v := range answers {
			p.Answers[k] = v
		}
	}
	return p
}

func higherAction(a, b Action) Action {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

func maxScore(a, b *float64) *float64 {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		v := *b
		return &v
	case b == nil:
		v := *a
		return &v
	}
	v := max(*a, *b)
	return &v
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
