package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/stridehq/stridesync/internal/auth"
	"github.com/stridehq/stridesync/internal/config"
	"github.com/stridehq/stridesync/internal/connectivity"
	"github.com/stridehq/stridesync/internal/engine"
	"github.com/stridehq/stridesync/internal/gate"
	"github.com/stridehq/stridesync/internal/local"
	"github.com/stridehq/stridesync/internal/remote"
)

// App holds the wired subsystem shared by all commands.
type App struct {
	Config  config.Config
	Loc     *time.Location
	Store   remote.Store
	Queue   local.Queue
	Cache   *local.Cache
	Monitor *connectivity.Monitor
	Gate    *gate.Gate
	Auth    auth.Provider

	closers []io.Closer
}

// openApp builds the full stack from the config file. The connectivity
// monitor is seeded with one immediate probe; commands that stay resident
// keep it fresh with Monitor.Run.
func openApp(ctx context.Context, opts *RootOptions) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to resolve timezone", err)
	}

	app := &App{Config: cfg, Loc: loc}

	switch cfg.Remote.Kind {
	case config.RemoteMemory:
		app.Store = remote.NewMemoryStore()
	case config.RemoteSQLite:
		st, err := remote.OpenSQLite(cfg.Remote.Path)
		if err != nil {
			app.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open remote store", err)
		}
		app.Store = st
		app.closers = append(app.closers, st)
	default:
		return nil, WrapExitError(ExitCommandError,
			fmt.Sprintf("unknown remote kind %q", cfg.Remote.Kind), nil)
	}

	db, err := local.Open(cfg.DevicePath)
	if err != nil {
		app.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open device database", err)
	}
	app.closers = append(app.closers, db)
	app.Cache = local.NewCache(db)

	switch cfg.Queue.Kind {
	case config.QueueSQLite:
		app.Queue = local.NewSQLiteQueue(db)
	case config.QueueJSON:
		app.Queue = local.NewJSONQueue(cfg.Queue.Path)
	default:
		app.Close()
		return nil, WrapExitError(ExitCommandError,
			fmt.Sprintf("unknown queue kind %q", cfg.Queue.Kind), nil)
	}

	app.Monitor = connectivity.NewMonitor(app.Store.Ping(ctx) == nil)
	app.Gate = gate.New(app.Store.Ping,
		gate.WithInterval(cfg.Gate.ProbeInterval),
		gate.WithMaxAttempts(cfg.Gate.MaxAttempts),
	)
	app.Gate.ProbeNow(ctx)

	if cfg.UserID != "" {
		app.Auth = auth.Static{ID: cfg.UserID}
	} else {
		app.Auth = auth.SessionFile{Path: cfg.SessionPath}
	}
	return app, nil
}

// Close releases held resources in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
	a.closers = nil
}

// coordinator wires a check-in coordinator over the app's collaborators.
func (a *App) coordinator() *engine.Coordinator {
	return engine.NewCoordinator(a.Store, a.Queue, a.Cache, a.Gate, a.Monitor, a.Auth,
		engine.WithLocation(a.Loc),
		engine.WithWaitTimeout(a.Config.WaitTimeout),
		engine.WithTxTimeout(a.Config.TxTimeout),
	)
}

// reconciler wires a reconciliation worker over the app's collaborators.
func (a *App) reconciler() *engine.Reconciler {
	return engine.NewReconciler(a.Store, a.Queue, a.Cache, a.Gate, a.Monitor,
		engine.WithReconcilerLocation(a.Loc),
		engine.WithReconcilerTimeouts(a.Config.WaitTimeout, a.Config.TxTimeout),
	)
}

// connectivityProbe adapts the remote ping into a reachability probe for
// resident commands.
func (a *App) connectivityProbe() connectivity.Probe {
	return func(ctx context.Context) bool {
		return a.Store.Ping(ctx) == nil
	}
}
