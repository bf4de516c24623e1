package worker

import (
	"fmt"
	"strings"
)

// ModulePlaceholder is replaced by the worker module name in Spec.Bootstrap.
const ModulePlaceholder = "{module}"

// Spec describes how to launch a worker. It is assembled once from
// configuration and never re-spliced per invocation.
type Spec struct {
	// Executable is the interpreter or binary to run.
	Executable string
	// Args are passed before the bootstrap expression, e.g. "-i", "-e".
	Args []string
	// Module names the logical worker module, usually derived from the function name.
	Module string
	// Bootstrap is an expression that loads Module and enters the dispatch loop.
	// Every occurrence of ModulePlaceholder is substituted. When empty, Module is
	// passed as the final argument instead.
	Bootstrap string
	// Env is the complete child environment. Nil inherits the supervisor's.
	Env []string
	// Dir is the working directory. Empty inherits the supervisor's.
	Dir string
}

// Validate checks that the worker described can be launched.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Executable) == "" {
		return fmt.Errorf("worker executable is empty")
	}
	if strings.Contains(s.Bootstrap, ModulePlaceholder) && s.Module == "" {
		return fmt.Errorf("worker bootstrap references %s but module is empty", ModulePlaceholder)
	}
	return nil
}

// Command returns the argv used to start the worker.
func (s Spec) Command() []string {
	argv := make([]string, 0, len(s.Args)+2)
	argv = append(argv, s.Executable)
	argv = append(argv, s.Args...)
	switch {
	case s.Bootstrap != "":
		argv = append(argv, strings.ReplaceAll(s.Bootstrap, ModulePlaceholder, s.Module))
	case s.Module != "":
		argv = append(argv, s.Module)
	}
	return argv
}
