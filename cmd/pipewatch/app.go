package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/mattjoyce/pipewatch/internal/config"
	"github.com/mattjoyce/pipewatch/internal/console"
	"github.com/mattjoyce/pipewatch/internal/dispatch"
	"github.com/mattjoyce/pipewatch/internal/events"
	"github.com/mattjoyce/pipewatch/internal/log"
	"github.com/mattjoyce/pipewatch/internal/metrics"
	"github.com/mattjoyce/pipewatch/internal/query"
	"github.com/mattjoyce/pipewatch/internal/repository"
	"github.com/mattjoyce/pipewatch/internal/storage"
)

// app is the object graph shared by the client-side commands.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	client     *repository.Client
	hub        *events.Hub
	cache      *query.Cache
	dispatcher *dispatch.Dispatcher
	store      storage.SnapshotStore
	metrics    *metrics.Collector

	closeLog func()
}

// newApp wires the repository client, cache, dispatcher and snapshot store.
// logOut receives log lines unless the config names a log file.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	closeLog, err := setupLogging(cfg, logOut)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   log.WithComponent("cli"),
		metrics:  metrics.New(""),
		hub:      events.NewHub(cfg.Cache.HubCapacity),
		closeLog: closeLog,
	}
	a.client = repository.New(cfg.API.BaseURL,
		repository.WithToken(cfg.API.Token),
		repository.WithTimeout(cfg.API.Timeout),
	)
	a.cache = query.New(
		query.WithHub(a.hub),
		query.WithObserver(a.metrics),
		query.WithStaleTime(cfg.Cache.StaleTime),
	)
	a.dispatcher = dispatch.New(a.client, a.cache,
		dispatch.WithHub(a.hub),
		dispatch.WithObserver(a.metrics),
	)

	// Snapshots only seed placeholders, so a broken backend degrades to
	// cold starts instead of failing the command.
	store, err := storage.Open(ctx, cfg.Snapshots.StoreOptions())
	if err != nil {
		a.logger.Warn("snapshot store unavailable", "backend", cfg.Snapshots.Backend, "error", err)
	} else {
		a.store = store
	}
	return a, nil
}

func (a *app) deps() console.Deps {
	return console.Deps{
		Repo:       a.client,
		Cache:      a.cache,
		Dispatcher: a.dispatcher,
		Hub:        a.hub,
		Snapshots:  a.store,
		Logger:     log.WithComponent("console"),
	}
}

// view binds a TriggerView and waits for its first settled snapshot.
func (a *app) view(ctx context.Context, pipelineID, triggerID string) (*console.TriggerView, console.Snapshot, error) {
	v := console.NewTriggerView(ctx, a.deps(), pipelineID, triggerID)
	snap, err := v.Await(ctx)
	if err != nil {
		v.Close()
		return nil, snap, err
	}
	return v, snap, nil
}

func (a *app) Close() error {
	var errs []error
	if err := a.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeLog()
	return errors.Join(errs...)
}
