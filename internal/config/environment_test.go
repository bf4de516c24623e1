package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFillsFromEnvironment(t *testing.T) {
	cfg := Defaults()
	err := cfg.Resolve(Environment{FunctionName: "thumbs", TaskRoot: "/var/task"})
	require.NoError(t, err)

	assert.Equal(t, "thumbs", cfg.Function.Name)
	assert.Equal(t, "/var/task", cfg.Function.TaskRoot)
	assert.Equal(t, "/var/task/julia", cfg.Function.PackageDir)
	assert.Equal(t, "/var/task", cfg.Function.SearchPath)
	assert.Equal(t, "/var/task/bin/julia", cfg.Worker.Executable)
	assert.Equal(t, "module_thumbs", cfg.ModuleName())
}

func TestResolveKeepsConfiguredValues(t *testing.T) {
	cfg := Defaults()
	cfg.Function.Name = "fixed"
	cfg.Worker.Executable = "bin/worker"
	require.NoError(t, cfg.Resolve(Environment{FunctionName: "ignored", TaskRoot: "/srv/fn"}))

	assert.Equal(t, "fixed", cfg.Function.Name)
	assert.Equal(t, "/srv/fn/bin/worker", cfg.Worker.Executable)

	cfg = Defaults()
	cfg.Worker.Executable = "sh"
	require.NoError(t, cfg.Resolve(Environment{FunctionName: "f", TaskRoot: "/srv/fn"}))
	assert.Equal(t, "sh", cfg.Worker.Executable, "bare names are looked up on PATH")
}

func TestResolveRequiresIdentity(t *testing.T) {
	assert.Error(t, Defaults().Resolve(Environment{TaskRoot: "/var/task"}))
	assert.Error(t, Defaults().Resolve(Environment{FunctionName: "f"}))
}

func TestWorkerEnv(t *testing.T) {
	cfg := Defaults()
	cfg.Worker.Env = map[string]string{"B": "2", "A": "1"}
	require.NoError(t, cfg.Resolve(Environment{FunctionName: "f", TaskRoot: "/var/task"}))

	env := cfg.WorkerEnv(
		[]string{"PATH=/usr/bin", "HOME=/root", "KEEP=yes", "junk"},
		"WARMBRIDGE_HANDOFF_IN=/tmp/lambda_in",
	)

	assert.Equal(t, []string{
		"PATH=/usr/bin:/var/task/bin",
		"HOME=/tmp/",
		"KEEP=yes",
		"JULIA_PKGDIR=/var/task/julia",
		"JULIA_LOAD_PATH=/var/task",
		"A=1",
		"B=2",
		"WARMBRIDGE_HANDOFF_IN=/tmp/lambda_in",
	}, env)
}
