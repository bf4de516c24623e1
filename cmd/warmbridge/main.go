package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "invocation":
		return runInvocationNoun(args)

	// --- VERBS ---
	case "invoke":
		if hasHelpFlag(args) {
			printInvokeHelp()
			return 0
		}
		return runInvoke(args)

	// --- ROOT ALIASES ---
	case "serve", "start":
		if hasHelpFlag(args) {
			printSystemStartHelp()
			return 0
		}
		return runStart(args)
	case "inspect":
		return runInspect(args)
	case "doctor":
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: warmbridge version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("warmbridge %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`warmbridge - warm worker supervisor for deadline-bounded invocations

Usage:
  warmbridge <noun> <action> [flags]
  warmbridge invoke --event FILE [flags]

Core Resources (Nouns):
  system       Supervisor lifecycle and health
  config       Configuration and integrity
  invocation   Invocation history and live monitoring

System Commands:
  system start        Run the supervisor and its HTTP API in the foreground
  system status       Show configuration, journal and handoff lock state

Config Commands:
  config check        Validate configuration against this host
  config lock         Authorize current config (update integrity hashes)
  config show         Print the resolved configuration

Invocation Commands:
  invocation list         Show recent invocations from the journal
  invocation inspect <id> Show one invocation and its notifications
  invocation watch        Real-time monitoring TUI
  invocation prune        Delete journal entries past retention

One-shot:
  invoke              Run a single invocation against a fresh worker

General:
  --version           Show version information
  version             Show version information
  help                Show this help message

Use 'warmbridge <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runInvocationNoun(args []string) int {
	if len(args) < 1 {
		printInvocationNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printInvocationNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printInvocationListHelp()
			return 0
		}
		return runInvocationList(actionArgs)
	case "inspect":
		return runInspect(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printInvocationWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "prune":
		if hasHelpFlag(actionArgs) {
			printInvocationPruneHelp()
			return 0
		}
		return runInvocationPrune(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown invocation action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: warmbridge system <action>")
	fmt.Fprintln(w, "Actions: start, status")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: warmbridge config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show")
}

func printInvocationNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: warmbridge invocation <action> [flags]")
	fmt.Fprintln(w, "Actions: list, inspect, watch, prune")
}

func printSystemStartHelp() {
	fmt.Println("Usage: warmbridge system start [--config PATH]")
	fmt.Println("Run the supervisor and serve invocations over the HTTP API until interrupted.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: warmbridge system status [--config PATH] [--json]")
	fmt.Println("Show configuration, journal readiness and handoff lock state.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printInvokeHelp() {
	fmt.Println("Usage: warmbridge invoke --event FILE [--context FILE] [--remaining-ms N] [--config PATH]")
	fmt.Println("Run one invocation. Use '-' as FILE to read the event from stdin.")
	fmt.Println("The result is printed to stdout as JSON; worker output goes to stderr.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Completed")
	fmt.Println("  1  Usage or setup error")
	fmt.Println("  2  Timed out, crashed or could not start")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: warmbridge config check [--config PATH] [--json]")
	fmt.Println("Validate configuration syntax and check it against this host.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: warmbridge config lock [--config PATH] [--dry-run]")
	fmt.Println("Write .checksums next to the config file so later loads verify it.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: warmbridge config show [--config PATH]")
	fmt.Println("Print the configuration after defaults and environment resolution.")
}

func printInvocationListHelp() {
	fmt.Println("Usage: warmbridge invocation list [--config PATH] [--outcome KIND] [--limit N] [--json]")
}

func printInvocationInspectHelp() {
	fmt.Println("Usage: warmbridge invocation inspect <id> [--config PATH] [--json]")
}

func printInvocationWatchHelp() {
	fmt.Println("Usage: warmbridge invocation watch [--api-url URL] [--api-key KEY]")
	fmt.Println("Launch the real-time TUI dashboard.")
}

func printInvocationPruneHelp() {
	fmt.Println("Usage: warmbridge invocation prune [--config PATH] [--older-than DURATION]")
	fmt.Println("Delete journal entries older than state.retention (or --older-than).")
}
