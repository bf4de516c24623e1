package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/mattjoyce/warmbridge/internal/log"
	"github.com/mattjoyce/warmbridge/internal/protocol"
	"github.com/mattjoyce/warmbridge/internal/supervisor"
)

// Exit code for an invocation that ran but did not complete.
const exitInvocationFailed = 2

func runInvoke(args []string) int {
	fs := flag.NewFlagSet("invoke", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	eventPath := fs.String("event", "", "Event JSON file ('-' for stdin)")
	contextPath := fs.String("context", "", "Caller context JSON file")
	remainingMS := fs.Int64("remaining-ms", -1, "Remaining time budget in milliseconds (default limits.default_remaining)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *eventPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: warmbridge invoke --event FILE [--context FILE] [--remaining-ms N] [--config PATH]")
		return 1
	}

	cfg, _, err := loadResolvedConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	// stdout carries the result; logs go to stderr.
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel, cfg.Service.LogFormat)

	event, err := readEvent(*eventPath, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Event error: %v\n", err)
		return 1
	}

	var caller protocol.CallerContext
	if *contextPath != "" {
		data, err := os.ReadFile(*contextPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Context error: %v\n", err)
			return 1
		}
		if err := json.Unmarshal(data, &caller); err != nil {
			fmt.Fprintf(os.Stderr, "Context error: %s is not a caller context: %v\n", *contextPath, err)
			return 1
		}
	}
	if caller.FunctionName == "" {
		caller.FunctionName = cfg.Function.Name
	}
	if caller.RequestID == "" {
		caller.RequestID = uuid.NewString()
	}
	switch {
	case *remainingMS >= 0:
		caller.RemainingTimeMillis = *remainingMS
	case *contextPath == "" || caller.RemainingTimeMillis == 0:
		caller.RemainingTimeMillis = cfg.Limits.DefaultRemaining.Milliseconds()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildApp(ctx, cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup error: %v\n", err)
		return 1
	}
	defer rt.close()

	out := rt.supervisor.Invoke(ctx, supervisor.Invocation{Event: event, Context: caller})
	return printOutcome(os.Stdout, os.Stderr, out)
}

// readEvent loads an event document. An empty document is a null event.
func readEvent(path string, stdin io.Reader) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}

func printOutcome(stdout, stderr io.Writer, out supervisor.Outcome) int {
	if out.OK() {
		data, err := json.MarshalIndent(out.Result, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render result: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
		return 0
	}
	fmt.Fprintf(stderr, "Invocation %s %s:\n%v\n", out.InvocationID, out.Kind, out.Err())
	return exitInvocationFailed
}
