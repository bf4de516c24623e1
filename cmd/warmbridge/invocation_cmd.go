package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/warmbridge/internal/inspect"
	"github.com/mattjoyce/warmbridge/internal/journal"
	"github.com/mattjoyce/warmbridge/internal/tui/watch"
)

// EnvAPIKey supplies the watch token when --api-key is not given.
const EnvAPIKey = "WARMBRIDGE_API_KEY"

func runInvocationList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	outcome := fs.String("outcome", "", "Only show this outcome (completed, timed_out, crashed, spawn_failed, handoff_failed)")
	limit := fs.Int("limit", 20, "Maximum number of invocations")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	store, closeDB, err := openJournal(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer closeDB()

	entries, err := store.Recent(context.Background(), journal.Filter{Outcome: *outcome, Limit: *limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		if entries == nil {
			entries = []journal.Entry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	fmt.Print(inspect.FormatList(entries))
	return 0
}

func runInspect(args []string) int {
	// Flags may follow the id: 'warmbridge invocation inspect <id> --json'.
	var configPath string
	var jsonOut bool

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&jsonOut, "json", false, "Output report in JSON")

	if hasHelpFlag(args) {
		printInvocationInspectHelp()
		return 0
	}

	var id string
	var remaining []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "-config":
			remaining = append(remaining, arg)
			if i+1 < len(args) {
				i++
				remaining = append(remaining, args[i])
			}
		case !strings.HasPrefix(arg, "-") && id == "":
			id = arg
		default:
			remaining = append(remaining, arg)
		}
	}

	if err := fs.Parse(remaining); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "Usage: warmbridge invocation inspect <id> [--config PATH] [--json]")
		return 1
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	store, closeDB, err := openJournal(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer closeDB()

	var report string
	if jsonOut {
		report, err = inspect.BuildJSONReport(context.Background(), store, id)
	} else {
		report, err = inspect.BuildReport(context.Background(), store, id)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8089", "Supervisor API URL")
	apiKey := fs.String("api-key", os.Getenv(EnvAPIKey), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "Error: API key required. Use --api-key or %s env var.\n", EnvAPIKey)
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runInvocationPrune(args []string) int {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	olderThan := fs.Duration("older-than", 0, "Retention override (default state.retention)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	retention := cfg.State.Retention
	if *olderThan > 0 {
		retention = *olderThan
	}
	if retention <= 0 {
		fmt.Fprintln(os.Stderr, "Error: no retention configured; pass --older-than")
		return 1
	}

	store, closeDB, err := openJournal(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer closeDB()

	n, err := store.Prune(context.Background(), retention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
		return 1
	}
	fmt.Printf("Deleted %d invocation(s) started before %s\n",
		n, time.Now().Add(-retention).UTC().Format(time.RFC3339))
	return 0
}
