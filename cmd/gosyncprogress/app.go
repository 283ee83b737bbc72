package main

import (
	"context"
	"fmt"
	"time"

	"gosyncprogress/backend/remote"
	"gosyncprogress/backend/sqlite"
	"gosyncprogress/internal/config"
	"gosyncprogress/internal/credentials"
	"gosyncprogress/internal/netmon"
	"gosyncprogress/internal/progress"
	"gosyncprogress/internal/retry"
	"gosyncprogress/internal/status"
	progresssync "gosyncprogress/internal/sync"
	"gosyncprogress/internal/utils"
)

// disposeTimeout bounds how long a command waits for a running cycle on exit
const disposeTimeout = 10 * time.Second

// App holds the state shared by every command
type App struct {
	configPath string
	dbPath     string
	verbose    bool

	cfg    *config.Config
	logger *utils.Logger
	store  *sqlite.Store
}

// setup loads .env files and the config and configures logging. It runs
// before every command.
func (a *App) setup() error {
	if err := credentials.LoadDotEnv(); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	config.SetCustomConfigPath(a.configPath)
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = utils.GetLogger()
	a.logger.SetVerbose(a.verbose || cfg.Log.Verbose)
	return nil
}

// openStore opens the queue database once per process
func (a *App) openStore() (*sqlite.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	path := a.dbPath
	if path == "" {
		var err error
		if path, err = a.cfg.DatabasePath(); err != nil {
			return nil, fmt.Errorf("invalid database path: %w", err)
		}
	}

	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	a.logger.Debug("Opened queue at %s", store.Path())
	a.store = store
	return store, nil
}

// forwardedArgs repeats the global flags for a spawned child process
func (a *App) forwardedArgs() []string {
	var args []string
	if a.configPath != "" {
		args = append(args, "--config", a.configPath)
	}
	if a.dbPath != "" {
		args = append(args, "--db", a.dbPath)
	}
	return args
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close queue database: %v", err)
		}
		a.store = nil
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

// newClient builds the progress server client with keyring/env/config tokens
func (a *App) newClient() (*remote.Client, error) {
	if a.cfg.Remote.URL == "" {
		return nil, utils.ErrRemoteNotConfigured()
	}
	if err := utils.ValidateServerURL(a.cfg.Remote.URL); err != nil {
		return nil, utils.ErrInvalidConfig("remote.url", err.Error())
	}

	tokens := credentials.NewTokenSource(nil, credentials.Request{
		Remote:      a.cfg.Remote.Name,
		Username:    a.cfg.Remote.Username,
		TokenEnv:    a.cfg.Remote.TokenEnv,
		ConfigToken: a.cfg.Remote.Token,
	})
	client := remote.NewClient(a.cfg.Remote.URL, tokens, remote.WithTimeout(a.cfg.RemoteTimeout()))
	return client, nil
}

// remoteClient is what the engine needs from the progress server client
type remoteClient interface {
	progresssync.RemoteClient
	netmon.Pinger
}

// unconfiguredClient stands in for the server client when no URL is set, so
// progress can still be queued. Every call fails and the monitor stays offline.
type unconfiguredClient struct{}

func (unconfiguredClient) SubmitBatch(ctx context.Context, events []progress.Event) ([]progress.Result, error) {
	return nil, utils.ErrRemoteNotConfigured()
}

func (unconfiguredClient) RefreshCredentials(ctx context.Context) error {
	return utils.ErrRemoteNotConfigured()
}

func (unconfiguredClient) Ping(ctx context.Context) error {
	return utils.ErrRemoteNotConfigured()
}

// engine bundles the running pieces of the sync subsystem
type engine struct {
	store    *sqlite.Store
	client   remoteClient
	monitor  *netmon.Monitor
	orch     *progresssync.Orchestrator
	reporter *status.Reporter
}

// remoteConfigured reports whether a server URL is set
func (a *App) remoteConfigured() bool {
	return a.cfg.Remote.URL != ""
}

// newEngine wires store, client, monitor, orchestrator and reporter. The
// monitor starts offline; callers probe or run it before flushing. Without a
// configured server the engine can only queue.
func (a *App) newEngine() (*engine, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	var client remoteClient = unconfiguredClient{}
	if a.remoteConfigured() {
		c, err := a.newClient()
		if err != nil {
			return nil, err
		}
		client = c
	}

	monitor := netmon.New(client, netmon.Options{
		Interval: a.cfg.ProbeInterval(),
	}, a.logger)

	orch, err := progresssync.New(store, client, monitor, progresssync.Options{
		BatchSize:             a.cfg.Sync.BatchSize,
		FlushInterval:         a.cfg.FlushInterval(),
		MaxLowPriorityPending: a.cfg.Sync.MaxLowPriorityPending,
		LeaseTTL:              max(progresssync.DefaultLeaseTTL, 4*a.cfg.RemoteTimeout()),
		Retry: retry.Policy{
			MaxAttempts: a.cfg.Sync.MaxAttempts,
			Base:        a.cfg.BackoffBase(),
			Cap:         a.cfg.BackoffCap(),
		},
	}, a.logger)
	if err != nil {
		return nil, err
	}

	return &engine{
		store:    store,
		client:   client,
		monitor:  monitor,
		orch:     orch,
		reporter: status.NewReporter(store, orch, a.cfg.Sync.QueuedItemsSample, a.logger),
	}, nil
}

// start recovers in-flight events and probes the server once
func (e *engine) start(ctx context.Context) error {
	if err := e.orch.Init(ctx); err != nil {
		return err
	}
	e.monitor.Probe(ctx)
	return nil
}

func (e *engine) stop(logger *utils.Logger) {
	if err := e.orch.Dispose(disposeTimeout); err != nil {
		logger.Warn("Shutdown: %v", err)
	}
}
