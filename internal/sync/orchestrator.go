package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gosyncprogress/backend"
	"gosyncprogress/backend/sqlite"
	"gosyncprogress/internal/progress"
	"gosyncprogress/internal/retry"
	"gosyncprogress/internal/scheduler"
	"gosyncprogress/internal/utils"
)

// State is the orchestrator's flush state
type State string

const (
	StateIdle     State = "idle"
	StateFlushing State = "flushing"
)

// Defaults for Options fields left at zero
const (
	DefaultBatchSize             = 20
	DefaultFlushInterval         = 30 * time.Second
	DefaultMaxLowPriorityPending = 500
	DefaultLeaseTTL              = 2 * time.Minute
	maxWarnings                  = 10
)

var (
	// ErrDisposeTimeout is returned by Dispose when a cycle outlives the timeout
	ErrDisposeTimeout = errors.New("sync cycle did not finish before shutdown timeout")

	// ErrFlushBusy is returned by FlushQueue when another process holds the
	// flush lease on the same queue
	ErrFlushBusy = errors.New("another process is flushing the queue")
)

// Queue is the durable storage the orchestrator drives
type Queue interface {
	Enqueue(ctx context.Context, e progress.Event) error
	ListAll(ctx context.Context) ([]progress.Event, error)
	ReplaceMerged(ctx context.Context, merged progress.Event, sourceIDs []string) error
	Update(ctx context.Context, id string, patch sqlite.Patch) error
	Ack(ctx context.Context, ids []string, at time.Time) error
	ResetInFlight(ctx context.Context) (int, error)
	AcquireLease(ctx context.Context, owner string, ttl time.Duration, now time.Time) (sqlite.LeaseGrant, error)
	ReleaseLease(ctx context.Context, owner string) error
	ReviveDead(ctx context.Context) (int, error)
	ResetBackoff(ctx context.Context) (int, error)
	EvictLowPriority(ctx context.Context, limit int) ([]string, error)
	Counts(ctx context.Context) (sqlite.Counts, error)
}

// RemoteClient submits batches to the progress server
type RemoteClient interface {
	SubmitBatch(ctx context.Context, events []progress.Event) ([]progress.Result, error)
	RefreshCredentials(ctx context.Context) error
}

// Monitor reports connectivity
type Monitor interface {
	IsOnline() bool
	SetOnline(online bool)
	Probe(ctx context.Context) bool
	Subscribe(fn func(online bool)) func()
}

// Options configures an Orchestrator
type Options struct {
	BatchSize             int
	FlushInterval         time.Duration
	MaxLowPriorityPending int
	Retry                 retry.Policy
	// LeaseTTL is how long a flush lease outlives its last renewal. It must
	// exceed the longest submission, including a credential refresh.
	LeaseTTL time.Duration
	// Now overrides the clock
	Now func() time.Time
}

// CycleStats summarizes one flush cycle
type CycleStats struct {
	Sent     int
	Acked    int
	Requeued int
	Dead     int
	// Busy is set when the cycle was skipped because another process holds
	// the flush lease
	Busy bool
}

// Orchestrator decides when to flush the queue and applies the results.
// At most one cycle runs at a time; triggers that arrive during a cycle
// collapse into a single rerun. Across processes sharing a queue file, only
// the holder of the flush lease runs cycles.
type Orchestrator struct {
	owner     string
	queue     Queue
	client    RemoteClient
	monitor   Monitor
	opts      Options
	scheduler scheduler.Scheduler
	logger    *utils.Logger

	mu             sync.Mutex
	state          State
	rerunRequested bool
	waiters        []chan struct{}
	lastStats      CycleStats
	warnings       []string
	stateSubs      map[int]func(State)
	nextSubID      int
	started        bool
	closed         bool

	// cycles counts running flush goroutines, loops the timer goroutine
	cycles      sync.WaitGroup
	loops       sync.WaitGroup
	stopLoops   context.CancelFunc
	unsubscribe func()
}

// New creates an orchestrator. Nothing runs until Init.
func New(queue Queue, client RemoteClient, monitor Monitor, opts Options, logger *utils.Logger) (*Orchestrator, error) {
	if queue == nil || client == nil || monitor == nil {
		return nil, fmt.Errorf("queue, remote client, and monitor are required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.MaxLowPriorityPending < 0 {
		opts.MaxLowPriorityPending = 0
	} else if opts.MaxLowPriorityPending == 0 {
		opts.MaxLowPriorityPending = DefaultMaxLowPriorityPending
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = utils.GetLogger()
	}

	return &Orchestrator{
		owner:     uuid.NewString(),
		queue:     queue,
		client:    client,
		monitor:   monitor,
		opts:      opts,
		logger:    logger.With("component", "sync"),
		state:     StateIdle,
		stateSubs: make(map[int]func(State)),
	}, nil
}

// Init takes the flush lease when it is free, recovering events a previous
// holder left in flight, then subscribes to connectivity changes and starts
// the periodic flush timer.
func (o *Orchestrator) Init(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already initialized")
	}
	o.started = true
	o.mu.Unlock()

	held, err := o.takeLease(ctx)
	if err != nil {
		return err
	}
	if !held {
		o.logger.Debug("Flush lease is held by another process")
	}

	o.unsubscribe = o.monitor.Subscribe(func(online bool) {
		o.notifyCurrent()
		if online {
			o.Trigger("online")
		}
	})

	loopCtx, cancel := context.WithCancel(context.Background())
	o.stopLoops = cancel
	o.loops.Add(1)
	go o.timerLoop(loopCtx)

	o.Trigger("init")
	return nil
}

// timerLoop triggers a flush every interval while online with work queued
func (o *Orchestrator) timerLoop(ctx context.Context) {
	defer o.loops.Done()

	ticker := time.NewTicker(o.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !o.monitor.IsOnline() {
				continue
			}
			counts, err := o.queue.Counts(ctx)
			if err != nil {
				o.logger.Error("Failed to count queue: %v", err)
				continue
			}
			if counts.Pending > 0 {
				o.Trigger("timer")
			}
		}
	}
}

// Dispose stops the timer and waits up to timeout for a running cycle. An
// outstanding request is never cancelled; its events stay in flight on disk
// and are recovered by the next Init.
func (o *Orchestrator) Dispose(timeout time.Duration) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	if o.stopLoops != nil {
		o.stopLoops()
	}
	o.loops.Wait()

	done := make(chan struct{})
	go func() {
		o.cycles.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		o.logger.Warn("Pending sync cycle did not complete within %v", timeout)
		return ErrDisposeTimeout
	}

	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if started {
		if err := o.queue.ReleaseLease(context.Background(), o.owner); err != nil {
			o.logger.Warn("Failed to release flush lease: %v", err)
		}
	}
	return nil
}

// takeLease takes or renews the flush lease. Taking it over from an earlier
// holder recovers the rows that holder left in flight.
func (o *Orchestrator) takeLease(ctx context.Context) (bool, error) {
	grant, err := o.queue.AcquireLease(ctx, o.owner, o.opts.LeaseTTL, o.opts.Now())
	if err != nil {
		return false, fmt.Errorf("failed to take flush lease: %w", err)
	}
	if grant != sqlite.LeaseAcquired {
		return grant.Held(), nil
	}

	n, err := o.queue.ResetInFlight(ctx)
	if err != nil {
		// Give the lease back so the next taker recovers again
		if rerr := o.queue.ReleaseLease(ctx, o.owner); rerr != nil {
			o.logger.Warn("Failed to release flush lease: %v", rerr)
		}
		return false, fmt.Errorf("failed to recover in-flight events: %w", err)
	}
	if n > 0 {
		o.logger.Info("Recovered %d in-flight events from an unfinished flush", n)
	}
	return true, nil
}

// State returns the current flush state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// IsOnline reports the monitor's view of connectivity
func (o *Orchestrator) IsOnline() bool {
	return o.monitor.IsOnline()
}

// OnStateChange registers fn for idle/flushing transitions. fn also runs,
// with the current state, when a warning is recorded or connectivity changes.
func (o *Orchestrator) OnStateChange(fn func(State)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSubID
	o.nextSubID++
	o.stateSubs[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.stateSubs, id)
	}
}

// Warnings returns recent non-fatal problems such as evictions, newest last
func (o *Orchestrator) Warnings() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.warnings...)
}

// Enqueue validates and persists an event, then starts a cycle when online
// and idle. An event that fails validation is stored dead so it shows up as
// a hard failure; the returned event carries its final status. Only storage
// failures are returned as errors.
func (o *Orchestrator) Enqueue(ctx context.Context, e progress.Event) (progress.Event, error) {
	if e.Status == "" {
		e.Status = progress.StatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = o.opts.Now()
	}

	if err := progress.Validate(e); err != nil {
		e.Status = progress.StatusDead
		e.LastError = err.Error()
		o.logger.Warn("Rejected invalid %s event %s: %v", e.Action, e.ID, err)
	}

	if err := o.queue.Enqueue(ctx, e); err != nil {
		return e, err
	}

	if e.Priority == progress.PriorityLow {
		o.evict(ctx)
	}

	if e.Status == progress.StatusPending {
		o.Trigger("enqueue")
	}
	return e, nil
}

func (o *Orchestrator) evict(ctx context.Context) {
	ids, err := o.queue.EvictLowPriority(ctx, o.opts.MaxLowPriorityPending)
	if err != nil {
		o.logger.Error("Eviction failed: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	msg := fmt.Sprintf("evicted %d low-priority events beyond the %d event cap", len(ids), o.opts.MaxLowPriorityPending)
	o.logger.Warn("Storage cap reached: %s", msg)
	o.addWarning(msg)
}

func (o *Orchestrator) addWarning(msg string) {
	o.mu.Lock()
	o.warnings = append(o.warnings, msg)
	if len(o.warnings) > maxWarnings {
		o.warnings = o.warnings[len(o.warnings)-maxWarnings:]
	}
	o.mu.Unlock()
	o.notifyCurrent()
}

// notifyCurrent runs state subscribers with the unchanged current state
func (o *Orchestrator) notifyCurrent() {
	o.mu.Lock()
	subs := o.stateSubsLocked()
	state := o.state
	o.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// Trigger asks for a flush. It never blocks: when a cycle is running it
// schedules one rerun, when offline or disposed it does nothing.
func (o *Orchestrator) Trigger(reason string) {
	o.request(reason)
}

// request starts a cycle or marks a rerun and returns a channel closed once
// the machine is idle again
func (o *Orchestrator) request(reason string) <-chan struct{} {
	ch := make(chan struct{})

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		close(ch)
		return ch
	}
	if o.state == StateFlushing {
		o.rerunRequested = true
		o.waiters = append(o.waiters, ch)
		o.mu.Unlock()
		return ch
	}
	if !o.monitor.IsOnline() {
		o.mu.Unlock()
		close(ch)
		return ch
	}

	o.state = StateFlushing
	o.waiters = append(o.waiters, ch)
	o.lastStats = CycleStats{}
	subs := o.stateSubsLocked()
	o.cycles.Add(1)
	o.mu.Unlock()

	for _, fn := range subs {
		fn(StateFlushing)
	}
	o.logger.Debug("Flush started (%s)", reason)
	go o.run()
	return ch
}

func (o *Orchestrator) stateSubsLocked() []func(State) {
	subs := make([]func(State), 0, len(o.stateSubs))
	for _, fn := range o.stateSubs {
		subs = append(subs, fn)
	}
	return subs
}

// run executes cycles until no rerun is pending, then returns to idle
func (o *Orchestrator) run() {
	defer o.cycles.Done()

	for {
		stats := o.safeCycle()

		o.mu.Lock()
		o.lastStats = stats
		if o.rerunRequested && !o.closed && o.monitor.IsOnline() {
			o.rerunRequested = false
			o.mu.Unlock()
			continue
		}
		o.rerunRequested = false
		o.state = StateIdle
		waiters := o.waiters
		o.waiters = nil
		subs := o.stateSubsLocked()
		o.mu.Unlock()

		for _, w := range waiters {
			close(w)
		}
		for _, fn := range subs {
			fn(StateIdle)
		}
		return
	}
}

func (o *Orchestrator) safeCycle() (stats CycleStats) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Panic in sync cycle: %v", r)
		}
	}()
	return o.cycle(context.Background())
}

// cycle sends one batch and applies the results
func (o *Orchestrator) cycle(ctx context.Context) CycleStats {
	var stats CycleStats

	held, err := o.takeLease(ctx)
	if err != nil {
		o.logger.Error("%v", err)
		return stats
	}
	if !held {
		o.logger.Debug("Skipping flush: lease held by another process")
		stats.Busy = true
		return stats
	}

	all, err := o.queue.ListAll(ctx)
	if err != nil {
		o.logger.Error("Failed to read queue: %v", err)
		return stats
	}

	items := o.scheduler.NextBatch(all, o.opts.BatchSize, o.opts.Now())
	if len(items) == 0 {
		return stats
	}

	events := make([]progress.Event, 0, len(items))
	for _, item := range items {
		if err := o.queue.ReplaceMerged(ctx, item.Event, item.SourceIDs); err != nil {
			o.logger.Error("Failed to mark %s in flight: %v", item.Event.EntityKey, err)
			continue
		}
		if item.Coalesced() {
			o.logger.Debug("Coalesced %d events for %s into %s", len(item.SourceIDs), item.Event.EntityKey, item.Event.ID)
		}
		events = append(events, item.Event)
	}
	if len(events) == 0 {
		return stats
	}
	stats.Sent = len(events)

	results, err := o.submit(ctx, events)
	now := o.opts.Now()
	if err != nil {
		o.failBatch(ctx, events, err, now, &stats)
		return stats
	}
	o.applyResults(ctx, events, results, now, &stats)

	o.logger.Debug("Flush cycle done: sent=%d acked=%d requeued=%d dead=%d",
		stats.Sent, stats.Acked, stats.Requeued, stats.Dead)
	return stats
}

// submit sends the batch, refreshing credentials and resending once when
// the server refuses them
func (o *Orchestrator) submit(ctx context.Context, events []progress.Event) ([]progress.Result, error) {
	results, err := o.client.SubmitBatch(ctx, events)
	if err == nil || retry.Classify(err) != retry.Reauth {
		return results, err
	}

	o.logger.Info("Server refused credentials, refreshing: %v", err)
	if rerr := o.client.RefreshCredentials(ctx); rerr != nil {
		o.logger.Warn("Credential refresh failed: %v", rerr)
		return nil, err
	}
	return o.client.SubmitBatch(ctx, events)
}

func (o *Orchestrator) failBatch(ctx context.Context, events []progress.Event, err error, now time.Time, stats *CycleStats) {
	class := retry.Classify(err)
	if be, ok := backend.AsBackendError(err); ok && be.IsNetwork() {
		o.monitor.SetOnline(false)
	}
	o.logger.Warn("Batch of %d failed (%s): %v", len(events), class, err)

	for _, e := range events {
		o.applyFailure(ctx, e, class, err.Error(), now, stats)
	}
}

func (o *Orchestrator) applyResults(ctx context.Context, events []progress.Event, results []progress.Result, now time.Time, stats *CycleStats) {
	byID := make(map[string]progress.Result, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	var acked []string
	for _, e := range events {
		r, ok := byID[e.ID]
		switch {
		case !ok:
			o.applyFailure(ctx, e, retry.Transient, "missing result", now, stats)
		case r.Outcome == progress.OutcomeAccepted:
			acked = append(acked, e.ID)
		default:
			reason := r.Reason
			if reason == "" {
				reason = "rejected"
			}
			o.applyFailure(ctx, e, retry.ClassifyRejection(r.Reason), reason, now, stats)
		}
	}

	if err := o.queue.Ack(ctx, acked, now); err != nil {
		o.logger.Error("Failed to record %d acks: %v", len(acked), err)
		return
	}
	stats.Acked += len(acked)
}

func (o *Orchestrator) applyFailure(ctx context.Context, e progress.Event, class retry.Class, reason string, now time.Time, stats *CycleStats) {
	d := o.opts.Retry.OnFailure(e, class, reason, now)
	patch := sqlite.Patch{
		Status:        &d.Status,
		Attempts:      &d.Attempts,
		NextAttemptAt: &d.NextAttemptAt,
		LastError:     &d.LastError,
	}
	if err := o.queue.Update(ctx, e.ID, patch); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			o.logger.Debug("Event %s vanished before its result was applied", e.ID)
			return
		}
		o.logger.Error("Failed to record failure of %s: %v", e.ID, err)
		return
	}

	if d.Dead() {
		stats.Dead++
		o.logger.Warn("Event %s (%s %s) dead after %d attempts: %s", e.ID, e.Action, e.EntityKey, d.Attempts, reason)
	} else {
		stats.Requeued++
		o.logger.Debug("Event %s requeued, attempt %d, next at %s", e.ID, d.Attempts, d.NextAttemptAt.Format(time.RFC3339))
	}
}

// FlushQueue runs cycles until one sends nothing, the monitor reports
// offline or ctx is done. It waits for any cycle already running and returns
// ErrFlushBusy when another process holds the flush lease.
func (o *Orchestrator) FlushQueue(ctx context.Context) error {
	for {
		select {
		case <-o.request("flush"):
		case <-ctx.Done():
			return ctx.Err()
		}

		o.mu.Lock()
		stats := o.lastStats
		closed := o.closed
		o.mu.Unlock()

		if closed || !o.monitor.IsOnline() {
			return nil
		}
		if stats.Busy {
			return ErrFlushBusy
		}
		if stats.Sent == 0 {
			return nil
		}
	}
}

// ForceSave revives dead events, clears backoff delays and flushes now. It
// returns true when nothing is left in the queue. A false result or an
// error never means data was lost: everything stays queued on disk.
func (o *Orchestrator) ForceSave(ctx context.Context) (bool, error) {
	revived, err := o.queue.ReviveDead(ctx)
	if err != nil {
		return false, err
	}
	if revived > 0 {
		o.logger.Info("Revived %d dead events for retry", revived)
	}
	if _, err := o.queue.ResetBackoff(ctx); err != nil {
		return false, err
	}

	if !o.monitor.IsOnline() && !o.monitor.Probe(ctx) {
		return false, utils.ErrOffline("")
	}

	if err := o.FlushQueue(ctx); err != nil {
		return false, err
	}
	if !o.monitor.IsOnline() {
		return false, utils.ErrOffline("connection lost during save")
	}

	counts, err := o.queue.Counts(ctx)
	if err != nil {
		return false, err
	}
	return counts.Total() == 0, nil
}
