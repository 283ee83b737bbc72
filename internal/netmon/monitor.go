// Package netmon tracks whether the progress server is reachable.
package netmon

import (
	"context"
	"sync"
	"time"

	"gosyncprogress/internal/utils"
)

// Defaults for Options fields left at zero
const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// Pinger checks reachability. A nil error means online.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Monitor
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	// Online is the state assumed before the first probe
	Online bool
}

// Monitor holds the current connectivity state and notifies subscribers on
// every offline/online transition.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *utils.Logger

	mu     sync.RWMutex
	online bool
	subs   map[int]func(online bool)
	nextID int
}

// New creates a monitor. pinger may be nil, in which case the state only
// changes through SetOnline.
func New(pinger Pinger, opts Options, logger *utils.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultProbeInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Monitor{
		pinger:   pinger,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		logger:   logger.With("component", "netmon"),
		online:   opts.Online,
		subs:     make(map[int]func(bool)),
	}
}

// IsOnline returns the last known state
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a state. Subscribers run only when the state changes.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	if online {
		m.logger.Info("Progress server reachable")
	} else {
		m.logger.Warn("Progress server unreachable")
	}
	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers fn for state transitions and returns a function that
// removes it
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Probe pings once with the probe timeout, records and returns the result
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.pinger == nil {
		return m.IsOnline()
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.Ping(ctx)
	if err != nil && ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
		// Caller cancelled; keep the previous state.
		return m.IsOnline()
	}
	if err != nil {
		m.logger.Debug("Probe failed: %v", err)
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	if m.pinger == nil {
		<-ctx.Done()
		return nil
	}

	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
