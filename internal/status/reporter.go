// Package status derives the UI-facing sync state from the queue, the
// orchestrator and the network monitor.
package status

import (
	"context"
	"reflect"
	"sync"
	"time"

	"gosyncprogress/backend/sqlite"
	"gosyncprogress/internal/progress"
	progresssync "gosyncprogress/internal/sync"
	"gosyncprogress/internal/utils"
)

// DefaultSampleSize is the number of queued items included in a snapshot
const DefaultSampleSize = 10

// SyncStatus summarizes the queue for display
type SyncStatus string

const (
	StatusSynced  SyncStatus = "synced"
	StatusPending SyncStatus = "pending"
	StatusError   SyncStatus = "error"
)

// QueuedItem is the display form of a queued event
type QueuedItem struct {
	ID        string    `json:"id" yaml:"id"`
	Action    string    `json:"action" yaml:"action"`
	Entity    string    `json:"entity" yaml:"entity"`
	Status    string    `json:"status" yaml:"status"`
	Priority  string    `json:"priority" yaml:"priority"`
	Attempts  int       `json:"attempts" yaml:"attempts"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	LastError string    `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

// Snapshot is the observable sync state.
// QueueSize is authoritative; QueuedItems is a bounded sample of it.
type Snapshot struct {
	IsOnline          bool         `json:"isOnline" yaml:"isOnline"`
	IsSaving          bool         `json:"isSaving" yaml:"isSaving"`
	SyncStatus        SyncStatus   `json:"syncStatus" yaml:"syncStatus"`
	PendingChanges    int          `json:"pendingChanges" yaml:"pendingChanges"`
	QueueSize         int          `json:"queueSize" yaml:"queueSize"`
	QueuedItems       []QueuedItem `json:"queuedItems" yaml:"queuedItems"`
	IsProcessingQueue bool         `json:"isProcessingQueue" yaml:"isProcessingQueue"`
	LastSaved         *time.Time   `json:"lastSaved,omitempty" yaml:"lastSaved,omitempty"`
	DeadLetters       int          `json:"deadLetters" yaml:"deadLetters"`
	Warnings          []string     `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Inputs are the raw facts a snapshot is derived from
type Inputs struct {
	Counts     sqlite.Counts
	Events     []progress.Event
	LastSaved  time.Time
	Flushing   bool
	Online     bool
	Warnings   []string
	SampleSize int
}

// Derive computes a snapshot. It has no side effects.
func Derive(in Inputs) Snapshot {
	s := Snapshot{
		IsOnline:          in.Online,
		IsSaving:          in.Flushing,
		IsProcessingQueue: in.Flushing,
		PendingChanges:    in.Counts.Pending + in.Counts.InFlight,
		QueueSize:         in.Counts.Total(),
		DeadLetters:       in.Counts.Dead,
		QueuedItems:       []QueuedItem{},
		Warnings:          in.Warnings,
	}

	switch {
	case in.Counts.Dead > 0:
		s.SyncStatus = StatusError
	case s.QueueSize > 0:
		s.SyncStatus = StatusPending
	default:
		s.SyncStatus = StatusSynced
	}

	if !in.LastSaved.IsZero() {
		t := in.LastSaved
		s.LastSaved = &t
	}

	size := in.SampleSize
	if size <= 0 {
		size = DefaultSampleSize
	}
	for _, e := range in.Events {
		if len(s.QueuedItems) >= size {
			break
		}
		s.QueuedItems = append(s.QueuedItems, QueuedItem{
			ID:        e.ID,
			Action:    string(e.Action),
			Entity:    e.EntityKey.String(),
			Status:    string(e.Status),
			Priority:  e.Priority.String(),
			Attempts:  e.Attempts,
			CreatedAt: e.CreatedAt,
			LastError: e.LastError,
		})
	}
	return s
}

// Store is the part of the queue the reporter reads
type Store interface {
	Counts(ctx context.Context) (sqlite.Counts, error)
	ListAll(ctx context.Context) ([]progress.Event, error)
	LastSaved(ctx context.Context) (time.Time, error)
	OnChange(fn func()) func()
}

// Orchestrator is the part of the sync orchestrator the reporter reads
type Orchestrator interface {
	State() progresssync.State
	IsOnline() bool
	Warnings() []string
	OnStateChange(fn func(progresssync.State)) func()
}

// Reporter keeps the latest snapshot and pushes changes to subscribers
type Reporter struct {
	store      Store
	orch       Orchestrator
	sampleSize int
	logger     *utils.Logger

	kick chan struct{}

	mu     sync.RWMutex
	last   Snapshot
	subs   map[int]func(Snapshot)
	nextID int
}

// NewReporter creates a reporter. orch may be nil for read-only inspection
// of the queue, in which case the snapshot is never saving or online.
func NewReporter(store Store, orch Orchestrator, sampleSize int, logger *utils.Logger) *Reporter {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Reporter{
		store:      store,
		orch:       orch,
		sampleSize: sampleSize,
		logger:     logger.With("component", "status"),
		kick:       make(chan struct{}, 1),
		subs:       make(map[int]func(Snapshot)),
	}
}

// Refresh recomputes the snapshot, notifies subscribers if it changed and
// returns it
func (r *Reporter) Refresh(ctx context.Context) (Snapshot, error) {
	in := Inputs{SampleSize: r.sampleSize}

	var err error
	if in.Counts, err = r.store.Counts(ctx); err != nil {
		return Snapshot{}, err
	}
	if in.Events, err = r.store.ListAll(ctx); err != nil {
		return Snapshot{}, err
	}
	if in.LastSaved, err = r.store.LastSaved(ctx); err != nil {
		return Snapshot{}, err
	}
	if r.orch != nil {
		in.Flushing = r.orch.State() == progresssync.StateFlushing
		in.Online = r.orch.IsOnline()
		in.Warnings = r.orch.Warnings()
	}

	snap := Derive(in)

	r.mu.Lock()
	changed := !reflect.DeepEqual(r.last, snap)
	r.last = snap
	var subs []func(Snapshot)
	if changed {
		for _, fn := range r.subs {
			subs = append(subs, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return snap, nil
}

// Snapshot returns the most recently computed snapshot
func (r *Reporter) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Subscribe registers fn for every changed snapshot
func (r *Reporter) Subscribe(fn func(Snapshot)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Reporter) poke() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run listens for store mutations and orchestrator state changes and
// recomputes the snapshot after each burst of them, until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	stopStore := r.store.OnChange(r.poke)
	defer stopStore()

	if r.orch != nil {
		stopOrch := r.orch.OnStateChange(func(progresssync.State) { r.poke() })
		defer stopOrch()
	}

	r.poke()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.kick:
			if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Failed to refresh status: %v", err)
			}
		}
	}
}
