package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Environment variables read at process start.
const (
	EnvFunctionName = "AWS_LAMBDA_FUNCTION_NAME"
	EnvTaskRoot     = "LAMBDA_TASK_ROOT"
)

// Environment holds the process-level values the function is launched with.
type Environment struct {
	FunctionName string
	TaskRoot     string
	// Base is the supervisor's own environment, inherited by the worker.
	Base []string
}

// ReadEnvironment captures the current process environment.
func ReadEnvironment() Environment {
	return Environment{
		FunctionName: os.Getenv(EnvFunctionName),
		TaskRoot:     os.Getenv(EnvTaskRoot),
		Base:         os.Environ(),
	}
}

// Resolve fills function and worker settings left empty in the file from env.
// It must be called once before the config is used to build a worker.
func (c *Config) Resolve(env Environment) error {
	fn := &c.Function
	if fn.Name == "" {
		fn.Name = env.FunctionName
	}
	if fn.TaskRoot == "" {
		fn.TaskRoot = env.TaskRoot
	}
	if fn.Name == "" {
		return fmt.Errorf("function name is not set (function.name or $%s)", EnvFunctionName)
	}
	if fn.TaskRoot == "" {
		return fmt.Errorf("task root is not set (function.task_root or $%s)", EnvTaskRoot)
	}
	if fn.PackageDir == "" {
		fn.PackageDir = filepath.Join(fn.TaskRoot, "julia")
	}
	if fn.SearchPath == "" {
		fn.SearchPath = fn.TaskRoot
	}

	w := &c.Worker
	switch {
	case w.Executable == "":
		w.Executable = filepath.Join(fn.TaskRoot, "bin", "julia")
	case !filepath.IsAbs(w.Executable) && strings.ContainsRune(w.Executable, filepath.Separator):
		w.Executable = filepath.Join(fn.TaskRoot, w.Executable)
	}
	return nil
}

// ModuleName is the worker module derived from the function name.
func (c *Config) ModuleName() string {
	return c.Worker.ModulePrefix + c.Function.Name
}

// WorkerEnv returns the environment for the worker process: base plus the
// function layout variables, the configured worker env and extra.
// Later entries win when a key repeats.
func (c *Config) WorkerEnv(base []string, extra ...string) []string {
	vars := make(map[string]string, len(base)+8)
	var order []string
	set := func(k, v string) {
		if _, ok := vars[k]; !ok {
			order = append(order, k)
		}
		vars[k] = v
	}
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		set(k, v)
	}

	fn := c.Function
	if fn.Home != "" {
		set("HOME", fn.Home)
	}
	if fn.PackageDirEnv != "" && fn.PackageDir != "" {
		set(fn.PackageDirEnv, fn.PackageDir)
	}
	if fn.SearchPathEnv != "" && fn.SearchPath != "" {
		set(fn.SearchPathEnv, fn.SearchPath)
	}
	path := vars["PATH"]
	for _, dir := range fn.PathAppend {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(fn.TaskRoot, dir)
		}
		if path == "" {
			path = dir
		} else {
			path += string(os.PathListSeparator) + dir
		}
	}
	if path != "" {
		set("PATH", path)
	}

	keys := make([]string, 0, len(c.Worker.Env))
	for k := range c.Worker.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		set(k, c.Worker.Env[k])
	}
	for _, kv := range extra {
		if k, v, ok := strings.Cut(kv, "="); ok {
			set(k, v)
		}
	}

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+vars[k])
	}
	return out
}
