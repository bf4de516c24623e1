package config

import "time"

// Config represents the complete warmbridge configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Function FunctionConfig `yaml:"function"`
	Worker   WorkerConfig   `yaml:"worker"`
	Handoff  HandoffConfig  `yaml:"handoff"`
	Limits   LimitsConfig   `yaml:"limits"`
	Notify   NotifyConfig   `yaml:"notify"`
	State    StateConfig    `yaml:"state"`
	API      APIConfig      `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// FunctionConfig describes the function being served. Empty fields are
// filled from the process environment once at startup.
type FunctionConfig struct {
	// Name defaults to $AWS_LAMBDA_FUNCTION_NAME.
	Name string `yaml:"name"`
	// TaskRoot defaults to $LAMBDA_TASK_ROOT.
	TaskRoot string `yaml:"task_root"`
	// PackageDir defaults to <task_root>/julia and is exported as PackageDirEnv.
	PackageDir    string `yaml:"package_dir"`
	PackageDirEnv string `yaml:"package_dir_env"`
	// SearchPath defaults to <task_root> and is exported as SearchPathEnv.
	SearchPath    string `yaml:"search_path"`
	SearchPathEnv string `yaml:"search_path_env"`
	// Home is the worker's HOME.
	Home string `yaml:"home"`
	// PathAppend lists task-root-relative directories appended to PATH.
	PathAppend []string `yaml:"path_append"`
}

// WorkerConfig defines how the worker process is launched.
type WorkerConfig struct {
	// Executable defaults to <task_root>/bin/julia. Relative paths resolve
	// against the task root.
	Executable   string            `yaml:"executable"`
	Args         []string          `yaml:"args"`
	ModulePrefix string            `yaml:"module_prefix"`
	Bootstrap    string            `yaml:"bootstrap"`
	Env          map[string]string `yaml:"env,omitempty"`
	Dir          string            `yaml:"dir,omitempty"`
}

// HandoffConfig names the request and result files.
type HandoffConfig struct {
	InputPath  string `yaml:"input_path"`
	OutputPath string `yaml:"output_path"`
}

// LimitsConfig holds the timing knobs of an invocation.
type LimitsConfig struct {
	SafetyMargin     time.Duration `yaml:"safety_margin"`
	GraceWindow      time.Duration `yaml:"grace_window"`
	ExitCodeWait     time.Duration `yaml:"exit_code_wait"`
	DefaultRemaining time.Duration `yaml:"default_remaining"`
}

// NotifyConfig defines where failure notifications go.
type NotifyConfig struct {
	SubjectLimit int           `yaml:"subject_limit"`
	Journal      *bool         `yaml:"journal,omitempty"`
	Webhook      WebhookConfig `yaml:"webhook"`
	Rate         RateConfig    `yaml:"rate"`
}

// JournalEnabled reports whether notifications are recorded in the journal.
func (n NotifyConfig) JournalEnabled() bool {
	return n.Journal == nil || *n.Journal
}

// WebhookConfig is an HTTP endpoint receiving notifications as JSON.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// RateConfig limits notification volume. Every 0 disables the limit.
type RateConfig struct {
	Every time.Duration `yaml:"every"`
	Burst int           `yaml:"burst"`
}

// StateConfig defines journal storage settings.
type StateConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Listen       string        `yaml:"listen"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	Auth         APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// ChecksumManifest is the on-disk format of .checksums.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config matching the Lambda Julia runtime layout.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "warmbridge",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Function: FunctionConfig{
			PackageDirEnv: "JULIA_PKGDIR",
			SearchPathEnv: "JULIA_LOAD_PATH",
			Home:          "/tmp/",
			PathAppend:    []string{"bin"},
		},
		Worker: WorkerConfig{
			Args:         []string{"-i", "-e"},
			ModulePrefix: "module_",
			Bootstrap:    "using {module}; using AWSLambdaWrapper; AWSLambdaWrapper.main({module});",
		},
		Handoff: HandoffConfig{
			InputPath:  "/tmp/lambda_in",
			OutputPath: "/tmp/lambda_out",
		},
		Limits: LimitsConfig{
			SafetyMargin:     5 * time.Second,
			GraceWindow:      time.Second,
			ExitCodeWait:     100 * time.Millisecond,
			DefaultRemaining: 15 * time.Minute,
		},
		Notify: NotifyConfig{
			SubjectLimit: 100,
			Webhook: WebhookConfig{
				Timeout: 5 * time.Second,
			},
			Rate: RateConfig{
				Every: 10 * time.Second,
				Burst: 5,
			},
		},
		State: StateConfig{
			Path:      "./data/warmbridge.db",
			Retention: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled:      false,
			Listen:       "127.0.0.1:8089",
			MaxBodyBytes: 6 << 20,
		},
	}
}
