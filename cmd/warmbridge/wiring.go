package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/mattjoyce/warmbridge/internal/auth"
	"github.com/mattjoyce/warmbridge/internal/config"
	"github.com/mattjoyce/warmbridge/internal/deadline"
	"github.com/mattjoyce/warmbridge/internal/events"
	"github.com/mattjoyce/warmbridge/internal/handoff"
	"github.com/mattjoyce/warmbridge/internal/hostinfo"
	"github.com/mattjoyce/warmbridge/internal/journal"
	"github.com/mattjoyce/warmbridge/internal/lock"
	"github.com/mattjoyce/warmbridge/internal/metrics"
	"github.com/mattjoyce/warmbridge/internal/notify"
	"github.com/mattjoyce/warmbridge/internal/storage"
	"github.com/mattjoyce/warmbridge/internal/supervisor"
	"github.com/mattjoyce/warmbridge/internal/worker"
)

// loadConfig discovers (when path is empty) and loads a config file. The
// result is not resolved against the process environment.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, "", fmt.Errorf("failed to discover config: %w", err)
		}
		path = discovered
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}

// loadResolvedConfig is loadConfig followed by Config.Resolve.
func loadResolvedConfig(path string) (*config.Config, string, error) {
	cfg, path, err := loadConfig(path)
	if err != nil {
		return nil, path, err
	}
	if err := cfg.Resolve(config.ReadEnvironment()); err != nil {
		return nil, path, fmt.Errorf("failed to resolve config: %w", err)
	}
	return cfg, path, nil
}

// app is everything a process needs to serve invocations.
type app struct {
	cfg        *config.Config
	pidLock    *lock.PIDLock
	db         *sql.DB
	journal    *journal.Store
	hub        *events.Hub
	metrics    *metrics.Recorder
	supervisor *supervisor.Supervisor
}

// buildApp acquires the handoff lock, opens the journal and wires a
// supervisor around a fresh worker. Callers must call close.
func buildApp(ctx context.Context, cfg *config.Config, echo io.Writer) (*app, error) {
	pidLock, err := lock.AcquirePIDLock(lock.PathFor(cfg.Handoff.InputPath))
	if err != nil {
		return nil, fmt.Errorf("handoff lock: %w", err)
	}

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		_ = pidLock.Release()
		return nil, err
	}

	rt := &app{
		cfg:     cfg,
		pidLock: pidLock,
		db:      db,
		journal: journal.New(db),
		hub:     events.NewHub(0),
		metrics: metrics.New(),
	}

	channel := handoff.New(cfg.Handoff.InputPath, cfg.Handoff.OutputPath)
	spec := worker.Spec{
		Executable: cfg.Worker.Executable,
		Args:       cfg.Worker.Args,
		Module:     cfg.ModuleName(),
		Bootstrap:  cfg.Worker.Bootstrap,
		Env:        cfg.WorkerEnv(os.Environ(), channel.Env()...),
		Dir:        cfg.Worker.Dir,
	}
	if err := spec.Validate(); err != nil {
		rt.close()
		return nil, fmt.Errorf("worker: %w", err)
	}

	var sj supervisor.Journal = rt.journal
	if !cfg.Notify.JournalEnabled() {
		sj = invocationsOnly{rt.journal}
	}

	rt.supervisor, err = supervisor.New(supervisor.Config{
		Worker:       worker.New(spec),
		Handoff:      channel,
		Deadlines:    deadline.NewController(cfg.Limits.SafetyMargin),
		GraceWindow:  cfg.Limits.GraceWindow,
		ExitCodeWait: cfg.Limits.ExitCodeWait,
		SubjectLimit: cfg.Notify.SubjectLimit,
		Sink:         buildSink(cfg.Notify),
		Journal:      sj,
		Events:       rt.hub,
		Metrics:      rt.metrics,
		Echo:         echo,
		CPUModel:     hostinfo.CPUModel(),
	})
	if err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *app) close() {
	if rt.supervisor != nil {
		rt.supervisor.Shutdown()
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
	if rt.pidLock != nil {
		_ = rt.pidLock.Release()
	}
}

// buildSink returns the configured notification sink, throttled.
// Without a webhook, notifications are only journaled and logged.
func buildSink(cfg config.NotifyConfig) notify.Sink {
	if cfg.Webhook.URL == "" {
		return notify.Nop{}
	}
	hook := notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Timeout)
	return notify.NewThrottle(hook, cfg.Rate.Every, cfg.Rate.Burst)
}

// invocationsOnly journals invocations but drops notification records.
type invocationsOnly struct {
	*journal.Store
}

func (invocationsOnly) RecordNotification(context.Context, notify.Notification, error) error {
	return nil
}

func apiTokens(cfg config.APIAuthConfig) []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		out = append(out, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return out
}

// openJournal opens the journal for the inspection commands.
func openJournal(ctx context.Context, cfg *config.Config) (*journal.Store, func(), error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, err
	}
	return journal.New(db), func() { _ = db.Close() }, nil
}
