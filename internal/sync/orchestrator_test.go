package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gosyncprogress/backend"
	"gosyncprogress/backend/remote"
	"gosyncprogress/backend/sqlite"
	"gosyncprogress/internal/netmon"
	"gosyncprogress/internal/progress"
	"gosyncprogress/internal/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockClient records batches and detects overlapping submissions
type mockClient struct {
	mu        sync.Mutex
	batches   [][]progress.Event
	respond   func(call int, events []progress.Event) ([]progress.Result, error)
	delay     time.Duration
	refreshes int

	active    atomic.Int32
	maxActive atomic.Int32
}

func acceptAll(events []progress.Event) []progress.Result {
	results := make([]progress.Result, len(events))
	for i, e := range events {
		results[i] = progress.Result{ID: e.ID, Outcome: progress.OutcomeAccepted}
	}
	return results
}

func (m *mockClient) SubmitBatch(ctx context.Context, events []progress.Event) ([]progress.Result, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	batch := append([]progress.Event(nil), events...)
	m.batches = append(m.batches, batch)
	call := len(m.batches)
	respond, delay := m.respond, m.delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if respond == nil {
		return acceptAll(events), nil
	}
	return respond(call, events)
}

func (m *mockClient) RefreshCredentials(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return nil
}

func (m *mockClient) setRespond(fn func(call int, events []progress.Event) ([]progress.Result, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respond = fn
}

func (m *mockClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *mockClient) batch(i int) []progress.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[i]
}

func (m *mockClient) refreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

type harness struct {
	orch    *Orchestrator
	store   *sqlite.Store
	monitor *netmon.Monitor
	client  *mockClient
	clock   *fakeClock
}

func newHarness(t *testing.T, online bool, opts Options) *harness {
	t.Helper()
	return newHarnessAt(t, filepath.Join(t.TempDir(), "queue.db"), &mockClient{}, online, opts)
}

func newHarnessAt(t *testing.T, dbPath string, client *mockClient, online bool, opts Options) *harness {
	t.Helper()

	store, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := newFakeClock()
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	monitor := netmon.New(nil, netmon.Options{Online: online}, utils.NopLogger())

	orch, err := New(store, client, monitor, opts, utils.NopLogger())
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	if err := orch.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { orch.Dispose(5 * time.Second) })

	return &harness{orch: orch, store: store, monitor: monitor, client: client, clock: clock}
}

func (h *harness) enqueue(t *testing.T, action progress.Action, lesson string, payload progress.Payload) progress.Event {
	t.Helper()
	e := progress.NewEvent(action, progress.EntityKey{CourseID: "c1", ModuleID: "m1", LessonID: lesson}, payload, h.clock.Now())
	h.clock.Advance(time.Second)
	stored, err := h.orch.Enqueue(context.Background(), e)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return stored
}

func (h *harness) counts(t *testing.T) sqlite.Counts {
	t.Helper()
	c, err := h.store.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitDrained(t *testing.T) {
	t.Helper()
	waitFor(t, "queue to drain", func() bool {
		return h.orch.State() == StateIdle && h.counts(t).Total() == 0
	})
}

// TestOfflineEventsCoalesceToMaxPercent tests that two offline updates for a
// lesson go out as one submission carrying the higher percent
func TestOfflineEventsCoalesceToMaxPercent(t *testing.T) {
	h := newHarness(t, false, Options{})

	h.enqueue(t, progress.ActionLessonProgress, "l1", progress.Payload{Percent: 40})
	h.enqueue(t, progress.ActionLessonProgress, "l1", progress.Payload{Percent: 25})

	if h.client.calls() != 0 {
		t.Fatalf("Expected no submissions while offline, got %d", h.client.calls())
	}
	if c := h.counts(t); c.Pending != 2 {
		t.Fatalf("Expected 2 pending events, got %+v", c)
	}

	h.monitor.SetOnline(true)
	h.waitDrained(t)

	if h.client.calls() != 1 {
		t.Fatalf("Expected exactly 1 submission, got %d", h.client.calls())
	}
	batch := h.client.batch(0)
	if len(batch) != 1 {
		t.Fatalf("Expected 1 merged event, got %d", len(batch))
	}
	if batch[0].Payload.Percent != 40 {
		t.Errorf("Expected merged percent 40, got %d", batch[0].Payload.Percent)
	}

	saved, err := h.store.LastSaved(context.Background())
	if err != nil || saved.IsZero() {
		t.Errorf("Expected last saved time after ack, got %v (err %v)", saved, err)
	}
}

// TestTimeSpentDeltasAreSummed tests that time-spent heartbeats add up
func TestTimeSpentDeltasAreSummed(t *testing.T) {
	h := newHarness(t, false, Options{})

	h.enqueue(t, progress.ActionTimeSpent, "l1", progress.Payload{TimeSpentSeconds: 30})
	h.enqueue(t, progress.ActionTimeSpent, "l1", progress.Payload{TimeSpentSeconds: 45})

	h.monitor.SetOnline(true)
	h.waitDrained(t)

	batch := h.client.batch(0)
	if len(batch) != 1 || batch[0].Payload.TimeSpentSeconds != 75 {
		t.Errorf("Expected one event with 75 seconds, got %+v", batch)
	}
}

// TestRetryCapDeadLetters tests that an always-failing event is tried exactly
// MaxAttempts times and then stops counting as pending
func TestRetryCapDeadLetters(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.client.setRespond(func(int, []progress.Event) ([]progress.Result, error) {
		return nil, backend.NewBackendError("SubmitBatch", 503, "Service Unavailable")
	})

	e := h.enqueue(t, progress.ActionLessonProgress, "l1", progress.Payload{Percent: 10})

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		h.clock.Advance(10 * time.Minute)
		if err := h.orch.FlushQueue(ctx); err != nil {
			t.Fatalf("FlushQueue failed: %v", err)
		}
	}

	if h.client.calls() != 5 {
		t.Errorf("Expected exactly 5 attempts, got %d", h.client.calls())
	}
	c := h.counts(t)
	if c.Dead != 1 || c.Pending+c.InFlight != 0 {
		t.Errorf("Expected 1 dead and nothing pending, got %+v", c)
	}

	dead, err := h.store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if dead.Attempts != 5 {
		t.Errorf("Expected 5 attempts recorded, got %d", dead.Attempts)
	}
	if !strings.Contains(dead.LastError, "503") {
		t.Errorf("Expected last error to mention 503, got %q", dead.LastError)
	}
}

// TestNoOverlappingSubmissions tests that concurrent enqueues and forced
// flushes never produce two simultaneous submissions
func TestNoOverlappingSubmissions(t *testing.T) {
	h := newHarness(t, true, Options{BatchSize: 5})
	h.client.delay = 3 * time.Millisecond

	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				e := progress.NewEvent(progress.ActionLessonProgress,
					progress.EntityKey{CourseID: "c1", ModuleID: "m1", LessonID: fmt.Sprintf("l%d", (g+i)%6)},
					progress.Payload{Percent: g*10 + i}, h.clock.Now())
				if _, err := h.orch.Enqueue(ctx, e); err != nil {
					t.Errorf("Enqueue failed: %v", err)
					return
				}
				switch i % 3 {
				case 0:
					h.orch.Trigger("test")
				case 1:
					_ = h.orch.FlushQueue(ctx)
				case 2:
					_, _ = h.orch.ForceSave(ctx)
				}
			}
		}(g)
	}
	wg.Wait()

	if err := h.orch.FlushQueue(ctx); err != nil {
		t.Fatalf("FlushQueue failed: %v", err)
	}
	h.waitDrained(t)

	if got := h.client.maxActive.Load(); got != 1 {
		t.Errorf("Expected at most 1 concurrent submission, saw %d", got)
	}
	for i := 0; i < h.client.calls(); i++ {
		seen := map[progress.EntityKey]bool{}
		for _, e := range h.client.batch(i) {
			if seen[e.EntityKey] {
				t.Errorf("Batch %d contains %s twice", i, e.EntityKey)
			}
			seen[e.EntityKey] = true
		}
	}
}

// TestTriggersDuringFlushCollapseIntoOneRerun tests the rerun flag
func TestTriggersDuringFlushCollapseIntoOneRerun(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})

	h := newHarness(t, true, Options{})
	h.client.setRespond(func(call int, events []progress.Event) ([]progress.Result, error) {
		if call == 1 {
			entered <- struct{}{}
			<-release
		}
		return acceptAll(events), nil
	})

	h.enqueue(t, progress.ActionLessonProgress, "l1", progress.Payload{Percent: 10})
	<-entered

	for i := 2; i <= 4; i++ {
		h.enqueue(t, progress.ActionLessonProgress, fmt.Sprintf("l%d", i), progress.Payload{Percent: 10})
		h.orch.Trigger("test")
	}
	if h.orch.State() != StateFlushing {
		t.Fatalf("Expected flushing state, got %s", h.orch.State())
	}

	close(release)
	h.waitDrained(t)

	if h.client.calls() != 2 {
		t.Fatalf("Expected the first cycle plus one rerun, got %d submissions", h.client.calls())
	}
	if len(h.client.batch(1)) != 3 {
		t.Errorf("Expected rerun to carry 3 events, got %d", len(h.client.batch(1)))
	}
}

// TestRestartMidFlushRedeliversEverything tests durability when a process
// dies while a batch is outstanding
func TestRestartMidFlushRedeliversEverything(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	stuck := &mockClient{}
	stuck.setRespond(func(call int, events []progress.Event) ([]progress.Result, error) {
		if call == 1 {
			entered <- struct{}{}
		}
		<-release
		return nil, backend.NewBackendError("SubmitBatch", 0, "connection reset")
	})
	defer close(release)

	first := newHarnessAt(t, dbPath, stuck, true, Options{})
	first.enqueue(t, progress.ActionLessonProgress, "l1", progress.Payload{Percent: 10})
	<-entered
	first.enqueue(t, progress.ActionLessonComplete, "l2", progress.Payload{})
	first.enqueue(t, progress.ActionTimeSpent, "l3", progress.Payload{TimeSpentSeconds: 12})

	// A second handle on the same file stands in for the restarted process.
	second := newHarnessAt(t, dbPath, &mockClient{}, false, Options{})
	if c := second.counts(t); c.InFlight != 1 {
		t.Fatalf("Expected the live holder's row to stay in flight, got %+v", c)
	}

	// The first process never renews its lease again, as if it had died.
	second.clock.Advance(DefaultLeaseTTL + time.Minute)

	snapshot, err := second.store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(snapshot) != 3 {
		t.Fatalf("Expected 3 durable events after restart, got %d", len(snapshot))
	}
	for _, e := range snapshot {
		if e.Status != progress.StatusPending && e.Status != progress.StatusInFlight {
			t.Errorf("Event %s has unexpected status %s", e.ID, e.Status)
		}
	}

	second.monitor.SetOnline(true)
	second.waitDrained(t)

	delivered := map[string]bool{}
	for i := 0; i < second.client.calls(); i++ {
		for _, e := range second.client.batch(i) {
			delivered[e.EntityKey.LessonID] = true
		}
	}
	for _, lesson := range []string{"l1", "l2", "l3"} {
		if !delivered[lesson] {
			t.Errorf("Lesson %s was not re-delivered after restart", lesson)
		}
	}
}

// TestSecondProcessLeavesInFlightAlone tests that an orchestrator started
// while another process is mid-flush neither recovers that process's rows
// nor submits for the same lesson until the lease is free
func TestSecondProcessLeavesInFlightAlone(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	client := &mockClient{}
	client.setRespond(func(call int, events []progress.Event) ([]progress.Result, error) {
		if call == 1 {
			entered <- struct{}{}
			<-release
		}
		return acceptAll(events), nil
	})

	first := newHarnessAt(t, dbPath, client, true, Options{})
	first.enqueue(t, progress.ActionTimeSpent, "l1", progress.Payload{TimeSpentSeconds: 30})
	<-entered

	second := newHarnessAt(t, dbPath, client, true, Options{})
	second.enqueue(t, progress.ActionTimeSpent, "l1", progress.Payload{TimeSpentSeconds: 45})

	if err := second.orch.FlushQueue(ctx); !errors.Is(err, ErrFlushBusy) {
		t.Errorf("Expected ErrFlushBusy while another process flushes, got %v", err)
	}
	if c := second.counts(t); c.InFlight != 1 || c.Pending != 1 {
		t.Errorf("Expected 1 in flight and 1 pending, got %+v", c)
	}

	close(release)
	waitFor(t, "first flush to finish", func() bool {
		return first.orch.State() == StateIdle && first.counts(t).InFlight == 0
	})
	if err := first.orch.Dispose(time.Second); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}

	if err := second.orch.FlushQueue(ctx); err != nil {
		t.Fatalf("FlushQueue after release failed: %v", err)
	}
	second.waitDrained(t)

	if got := client.maxActive.Load(); got != 1 {
		t.Errorf("Expected at most 1 concurrent submission, saw %d", got)
	}
	if client.calls() != 2 {
		t.Fatalf("Expected 2 submissions, got %d", client.calls())
	}
	for i, want := range []int64{30, 45} {
		batch := client.batch(i)
		if len(batch) != 1 || batch[0].Payload.TimeSpentSeconds != want {
			t.Errorf("Batch %d: expected one event with %d seconds, got %+v", i, want, batch)
		}
	}
}

// TestUncertainDeliveryIsNotReapplied tests that an event whose reply was
// lost after the server applied it is resent under its own id instead of
// being merged with newer time
func TestUncertainDeliveryIsNotReapplied(t *testing.T) {
	srv := remote.NewServer(remote.ServerOptions{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	upstream := remote.NewClient(ts.URL, nil)

	h := newHarness(t, true, Options{})
	h.client.setRespond(func(call int, events []progress.Event) ([]progress.Result, error) {
		results, err := upstream.SubmitBatch(context.Background(), events)
		if call == 1 && err == nil {
			return nil, backend.NewBackendError("SubmitBatch", 0, "timeout awaiting response headers")
		}
		return results, err
	})

	h.enqueue(t, progress.ActionTimeSpent, "l1", progress.Payload{TimeSpentSeconds: 30})
	waitFor(t, "lost reply", func() bool {
		return h.client.calls() == 1 && h.orch.State() == StateIdle && h.counts(t).Pending == 1
	})
	if h.monitor.IsOnline() {
		t.Fatal("Expected a network failure to mark the monitor offline")
	}

	h.enqueue(t, progress.ActionTimeSpent, "l1", progress.Payload{TimeSpentSeconds: 45})
	h.clock.Advance(10 * time.Minute)
	h.monitor.SetOnline(true)
	if err := h.orch.FlushQueue(context.Background()); err != nil {
		t.Fatalf("FlushQueue failed: %v", err)
	}
	h.waitDrained(t)

	state, ok := srv.State(progress.EntityKey{CourseID: "c1", ModuleID: "m1", LessonID: "l1"})
	if !ok {
		t.Fatal("Server has no state for the lesson")
	}
	if state.TimeSpentSeconds != 75 {
		t.Errorf("Expected 75 seconds on the server, got %d", state.TimeSpentSeconds)
	}
	if state.Applied != 2 {
		t.Errorf("Expected 2 applied events, got %d", state.Applied)
	}

	first := h.client.batch(0)
	resend := h.client.batch(1)
	if len(resend) != 1 || resend[0].ID != first[0].ID {
		t.Errorf("Expected the lost event resent alone under id %s, got %+v", first[0].ID, resend)
	}
}

// TestForceSaveOffline tests that force-save reports offline without losing data
func TestForceSaveOffline(t *testing.T) {
	h := newHarness(t, false, Options{})
	h.enqueue(t, progress.ActionLessonProgress, "l1", progress.Payload{Percent: 50})

	saved, err := h.orch.ForceSave(context.Background())
	if saved {
		t.Error("Expected force-save to report not saved")
	}
	if !errors.Is(err, utils.ErrOfflineSentinel) {
		t.Errorf("Expected offline error, got %v", err)
	}
	if c := h.counts(t); c.Pending != 1 {
		t.Errorf("Expected event to stay queued, got %+v", c)
	}
}

// TestForceSaveRevivesDeadLetters tests that force-save retries dead events
func TestForceSaveRevivesDeadLetters(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.client.setRespond(func(_ int, events []progress.Event) ([]progress.Result, error) {
		results := make([]progress.Result, len(events))
		for i, e := range events {
			results[i] = progress.Result{ID: e.ID, Outcome: progress.OutcomeRejected, Reason: progress.ReasonValidation}
		}
		return results, nil
	})

	h.enqueue(t, progress.ActionLessonProgress, "l1", progress.Payload{Percent: 50})
	waitFor(t, "dead letter", func() bool {
		return h.orch.State() == StateIdle && h.counts(t).Dead == 1
	})
	if h.client.calls() != 1 {
		t.Errorf("Expected no retry of a rejected event, got %d submissions", h.client.calls())
	}

	h.client.setRespond(nil)
	saved, err := h.orch.ForceSave(context.Background())
	if err != nil {
		t.Fatalf("ForceSave failed: %v", err)
	}
	if !saved {
		t.Errorf("Expected force-save to drain the queue, counts %+v", h.counts(t))
	}
}

// TestRetryableRejectionRequeues tests that a retryable per-item rejection backs off
func TestRetryableRejectionRequeues(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.client.setRespond(func(_ int, events []progress.Event) ([]progress.Result, error) {
		return []progress.Result{{ID: events[0].ID, Outcome: progress.OutcomeRejected, Reason: progress.ReasonRetryable}}, nil
	})

	e := h.enqueue(t, progress.ActionLessonProgress, "l1", progress.Payload{Percent: 50})
	waitFor(t, "requeue", func() bool {
		got, err := h.store.Get(context.Background(), e.ID)
		return err == nil && got.Attempts == 1 && h.orch.State() == StateIdle
	})

	got, _ := h.store.Get(context.Background(), e.ID)
	if got.Status != progress.StatusPending {
		t.Errorf("Expected pending after retryable rejection, got %s", got.Status)
	}
	if !got.NextAttemptAt.After(h.clock.Now()) {
		t.Errorf("Expected a backoff delay, next attempt %v", got.NextAttemptAt)
	}
}

// TestAuthFailureRefreshesOnce tests the credential refresh path
func TestAuthFailureRefreshesOnce(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.client.setRespond(func(call int, events []progress.Event) ([]progress.Result, error) {
		if call == 1 {
			return nil, backend.NewBackendError("SubmitBatch", 401, "Unauthorized")
		}
		return acceptAll(events), nil
	})

	h.enqueue(t, progress.ActionLessonComplete, "l1", progress.Payload{})
	h.waitDrained(t)

	if h.client.refreshCount() != 1 {
		t.Errorf("Expected 1 credential refresh, got %d", h.client.refreshCount())
	}
	if h.client.calls() != 2 {
		t.Errorf("Expected original submission plus one resend, got %d", h.client.calls())
	}
}

// TestAuthFailureTwiceDeadLetters tests escalation when refresh does not help
func TestAuthFailureTwiceDeadLetters(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.client.setRespond(func(int, []progress.Event) ([]progress.Result, error) {
		return nil, backend.NewBackendError("SubmitBatch", 403, "Forbidden")
	})

	h.enqueue(t, progress.ActionLessonComplete, "l1", progress.Payload{})
	waitFor(t, "dead letter", func() bool {
		return h.orch.State() == StateIdle && h.counts(t).Dead == 1
	})

	if h.client.calls() != 2 || h.client.refreshCount() != 1 {
		t.Errorf("Expected 2 submissions and 1 refresh, got %d and %d", h.client.calls(), h.client.refreshCount())
	}
}

// TestInvalidEventIsStoredDead tests local validation at enqueue
func TestInvalidEventIsStoredDead(t *testing.T) {
	h := newHarness(t, true, Options{})

	e := h.enqueue(t, progress.ActionLessonProgress, "", progress.Payload{Percent: 10})
	if e.Status != progress.StatusDead {
		t.Errorf("Expected dead status, got %s", e.Status)
	}
	if e.LastError == "" {
		t.Error("Expected a validation message on the event")
	}
	if c := h.counts(t); c.Dead != 1 || c.Pending != 0 {
		t.Errorf("Expected 1 dead event, got %+v", c)
	}
	if h.client.calls() != 0 {
		t.Errorf("Expected no submission for invalid event, got %d", h.client.calls())
	}
}

// TestLowPriorityEviction tests the storage cap on time-spent heartbeats
func TestLowPriorityEviction(t *testing.T) {
	h := newHarness(t, false, Options{MaxLowPriorityPending: 2})

	h.enqueue(t, progress.ActionLessonComplete, "keep", progress.Payload{})
	for i := 0; i < 4; i++ {
		h.enqueue(t, progress.ActionTimeSpent, fmt.Sprintf("l%d", i), progress.Payload{TimeSpentSeconds: 5})
	}

	if c := h.counts(t); c.Pending != 3 {
		t.Errorf("Expected 1 high + 2 low pending events, got %+v", c)
	}
	if len(h.orch.Warnings()) == 0 {
		t.Error("Expected an eviction warning")
	}
}

// TestDisposeIsIdempotent tests shutdown
func TestDisposeIsIdempotent(t *testing.T) {
	h := newHarness(t, true, Options{})
	if err := h.orch.Dispose(time.Second); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
	if err := h.orch.Dispose(time.Second); err != nil {
		t.Fatalf("Second Dispose failed: %v", err)
	}

	h.enqueue(t, progress.ActionLessonProgress, "l1", progress.Payload{Percent: 5})
	time.Sleep(20 * time.Millisecond)
	if h.client.calls() != 0 {
		t.Errorf("Expected no cycles after dispose, got %d", h.client.calls())
	}
}
