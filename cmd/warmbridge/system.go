package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/warmbridge/internal/api"
	"github.com/mattjoyce/warmbridge/internal/journal"
	"github.com/mattjoyce/warmbridge/internal/lock"
	"github.com/mattjoyce/warmbridge/internal/log"
	"github.com/mattjoyce/warmbridge/internal/storage"
)

// pruneInterval is how often the journal is trimmed while serving.
const pruneInterval = time.Hour

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, path, err := loadResolvedConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("warmbridge starting",
		"version", version,
		"config", path,
		"function", cfg.Function.Name,
		"task_root", cfg.Function.TaskRoot,
	)

	if !cfg.API.Enabled {
		logger.Error("api.enabled is false; nothing would accept invocations")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildApp(ctx, cfg, os.Stdout)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return 1
	}
	defer rt.close()
	logger.Info("acquired handoff lock", "path", rt.pidLock.Path())
	logger.Info("journal opened", "path", cfg.State.Path)

	server := api.New(api.Config{
		Listen:           cfg.API.Listen,
		APIKey:           cfg.API.Auth.APIKey,
		Tokens:           apiTokens(cfg.API.Auth),
		FunctionName:     cfg.Function.Name,
		DefaultRemaining: cfg.Limits.DefaultRemaining,
		MaxBodyBytes:     cfg.API.MaxBodyBytes,
	}, rt.supervisor, rt.journal, rt.hub, rt.metrics, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		runPruner(gctx, rt.journal, cfg.State.Retention, logger)
		return nil
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	logger.Info("warmbridge running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("warmbridge stopped")
	return 0
}

// runPruner trims the journal at start and then every pruneInterval.
func runPruner(ctx context.Context, store *journal.Store, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	prune := func() {
		n, err := store.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("journal prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("journal pruned", "deleted", n, "retention", retention.String())
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

type statusCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type statusReport struct {
	Config  string        `json:"config"`
	Healthy bool          `json:"healthy"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	report := statusReport{Healthy: true}
	add := func(name string, ok bool, msg string) {
		report.Checks = append(report.Checks, statusCheck{Name: name, OK: ok, Message: msg})
		if !ok {
			report.Healthy = false
		}
	}

	cfg, path, err := loadConfig(*configPath)
	report.Config = path
	if err != nil {
		add("config", false, err.Error())
		return printStatus(report, *jsonOut)
	}
	add("config", true, "loaded")

	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		add("journal", false, err.Error())
	} else {
		entries, err := journal.New(db).Recent(context.Background(), journal.Filter{Limit: 1})
		switch {
		case err != nil:
			add("journal", false, err.Error())
		case len(entries) == 0:
			add("journal", true, fmt.Sprintf("%s (empty)", cfg.State.Path))
		default:
			add("journal", true, fmt.Sprintf("%s (last invocation %s, %s)",
				cfg.State.Path, entries[0].StartedAt.Format(time.RFC3339), entries[0].Outcome))
		}
		_ = db.Close()
	}

	lockPath := lock.PathFor(cfg.Handoff.InputPath)
	l, err := lock.AcquirePIDLock(lockPath)
	switch {
	case err == nil:
		_ = l.Release()
		add("handoff_lock", true, fmt.Sprintf("%s is free (supervisor not running)", lockPath))
	case errors.Is(err, lock.ErrHeld):
		msg := fmt.Sprintf("%s is held (supervisor running)", lockPath)
		if pid, ok := lock.HolderPID(lockPath); ok {
			msg = fmt.Sprintf("%s is held by pid %d (supervisor running)", lockPath, pid)
		}
		add("handoff_lock", true, msg)
	default:
		add("handoff_lock", false, err.Error())
	}

	return printStatus(report, *jsonOut)
}

func printStatus(report statusReport, jsonOut bool) int {
	if jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render status JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		if report.Config != "" {
			fmt.Printf("Config: %s\n", report.Config)
		}
		for _, c := range report.Checks {
			mark := "OK  "
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("  [%s] %-13s %s\n", mark, c.Name, c.Message)
		}
	}
	if !report.Healthy {
		return 1
	}
	return 0
}
