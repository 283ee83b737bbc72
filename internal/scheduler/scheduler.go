// Package scheduler picks the next batch of queued progress events to send.
//
// Pending events for the same entity are coalesced into a single merged event
// so that one network item exists per entity per cycle. Entities that already
// have an event in flight are left alone until that event resolves.
//
// An event that has been submitted before may already be applied on the
// server. It is never folded into a merge: it goes out alone under its own id
// so the server can recognize the repeat, and newer events for its entity
// wait until it is acked or dead.
package scheduler

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"

	"gosyncprogress/internal/progress"
)

// Item is one entry of a batch: the event to send and the queued events it
// replaces.
type Item struct {
	Event     progress.Event
	SourceIDs []string

	// oldest is the earliest CreatedAt among the sources, used for FIFO order
	oldest time.Time
}

// Coalesced reports whether the item folds more than one queued event
func (i Item) Coalesced() bool {
	return len(i.SourceIDs) > 1
}

// Scheduler builds batches. The zero value is ready to use.
type Scheduler struct {
	// NewID names merged events. Defaults to uuid.NewString.
	NewID func() string
}

// NextBatch is a convenience wrapper around a zero Scheduler
func NextBatch(events []progress.Event, maxSize int, now time.Time) []Item {
	return Scheduler{}.NextBatch(events, maxSize, now)
}

// NextBatch returns up to maxSize items ordered by priority (high first) and
// then by age (oldest first). events is the whole queue; statuses other than
// pending are used only to find busy entities.
func (s Scheduler) NextBatch(events []progress.Event, maxSize int, now time.Time) []Item {
	if maxSize <= 0 {
		return nil
	}

	busy := make(map[progress.EntityKey]bool)
	groups := make(map[progress.EntityKey][]progress.Event)
	var order []progress.EntityKey

	for _, e := range events {
		switch e.Status {
		case progress.StatusInFlight:
			busy[e.EntityKey] = true
		case progress.StatusPending, progress.StatusRequeued:
			if _, seen := groups[e.EntityKey]; !seen {
				order = append(order, e.EntityKey)
			}
			groups[e.EntityKey] = append(groups[e.EntityKey], e)
		case progress.StatusDead, progress.StatusAcked:
		}
	}

	items := make([]Item, 0, len(order))
	for _, key := range order {
		if busy[key] {
			continue
		}
		item, ok := s.next(groups[key])
		if !ok || item.Event.NextAttemptAt.After(now) {
			continue
		}
		items = append(items, item)
	}

	slices.SortStableFunc(items, func(a, b Item) int {
		if c := cmp.Compare(b.Event.Priority, a.Event.Priority); c != 0 {
			return c
		}
		if c := a.oldest.Compare(b.oldest); c != 0 {
			return c
		}
		return cmp.Compare(a.Event.ID, b.Event.ID)
	})

	if len(items) > maxSize {
		items = items[:maxSize]
	}
	return items
}

// next picks the item for one entity: its oldest previously submitted event
// on its own, or else the fold of every fresh event.
func (s Scheduler) next(group []progress.Event) (Item, bool) {
	var resend *progress.Event
	for i := range group {
		e := &group[i]
		if !Resubmission(*e) {
			continue
		}
		if resend == nil || e.CreatedAt.Before(resend.CreatedAt) {
			resend = e
		}
	}
	if resend != nil {
		e := *resend
		e.Status = progress.StatusPending
		return Item{Event: e, SourceIDs: []string{e.ID}, oldest: e.CreatedAt}, true
	}
	return s.fold(group)
}

// Resubmission reports whether e may already have reached the server
func Resubmission(e progress.Event) bool {
	return e.Submitted || e.Attempts > 0
}

// fold merges one entity's fresh pending events under a new id
func (s Scheduler) fold(group []progress.Event) (Item, bool) {
	merged, ok := progress.MergeAll(group)
	if !ok {
		return Item{}, false
	}

	ids := make([]string, len(group))
	oldest := group[0].CreatedAt
	for i, e := range group {
		ids[i] = e.ID
		if e.CreatedAt.Before(oldest) {
			oldest = e.CreatedAt
		}
	}

	if len(group) > 1 {
		newID := s.NewID
		if newID == nil {
			newID = uuid.NewString
		}
		merged.ID = newID()
	}
	merged.Status = progress.StatusPending

	return Item{Event: merged, SourceIDs: ids, oldest: oldest}, true
}
