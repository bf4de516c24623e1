package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ConfigFileName is the file looked up when Load is given a directory.
const ConfigFileName = "config.yaml"

// Load reads, interpolates, defaults and validates a configuration file.
// When path is a directory, config.yaml inside it is used. If the directory
// holds a .checksums manifest, the file must match it.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	if fileExists(filepath.Join(filepath.Dir(absPath), ChecksumFileName)) {
		if err := VerifyConfigDir(filepath.Dir(absPath)); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Defaults, then applies derived defaults and
// validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	expanded := interpolateEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg = applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ResolveConfigFile returns the absolute path of the config file named by
// path, descending into config.yaml when path is a directory.
func ResolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, ConfigFileName)
		if !fileExists(absPath) {
			return "", fmt.Errorf("directory provided but %s not found: %s", ConfigFileName, absPath)
		}
	}
	return absPath, nil
}

// interpolateEnv replaces ${VAR} with the value of VAR. Unset variables
// expand to the empty string.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// applyConfigDefaults fills zero values that YAML may have cleared.
func applyConfigDefaults(cfg *Config) *Config {
	def := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = def.Service.LogFormat
	}
	if cfg.Function.PackageDirEnv == "" {
		cfg.Function.PackageDirEnv = def.Function.PackageDirEnv
	}
	if cfg.Function.SearchPathEnv == "" {
		cfg.Function.SearchPathEnv = def.Function.SearchPathEnv
	}
	if cfg.Worker.ModulePrefix == "" {
		cfg.Worker.ModulePrefix = def.Worker.ModulePrefix
	}
	if cfg.Handoff.InputPath == "" {
		cfg.Handoff.InputPath = def.Handoff.InputPath
	}
	if cfg.Handoff.OutputPath == "" {
		cfg.Handoff.OutputPath = def.Handoff.OutputPath
	}
	if cfg.Limits.GraceWindow == 0 {
		cfg.Limits.GraceWindow = def.Limits.GraceWindow
	}
	if cfg.Limits.ExitCodeWait == 0 {
		cfg.Limits.ExitCodeWait = def.Limits.ExitCodeWait
	}
	if cfg.Limits.DefaultRemaining == 0 {
		cfg.Limits.DefaultRemaining = def.Limits.DefaultRemaining
	}
	if cfg.Notify.SubjectLimit == 0 {
		cfg.Notify.SubjectLimit = def.Notify.SubjectLimit
	}
	if cfg.Notify.Webhook.Timeout == 0 {
		cfg.Notify.Webhook.Timeout = def.Notify.Webhook.Timeout
	}
	if cfg.Notify.Rate.Burst == 0 {
		cfg.Notify.Rate.Burst = def.Notify.Rate.Burst
	}
	if cfg.State.Path == "" {
		cfg.State.Path = def.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = def.API.Listen
	}
	if cfg.API.MaxBodyBytes == 0 {
		cfg.API.MaxBodyBytes = def.API.MaxBodyBytes
	}
	return cfg
}

func validate(cfg *Config) error {
	var errs []error

	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("service.log_format must be json or text, got %q", cfg.Service.LogFormat))
	}
	switch strings.ToUpper(cfg.Service.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("service.log_level %q is not a known level", cfg.Service.LogLevel))
	}

	if cfg.Handoff.InputPath == cfg.Handoff.OutputPath {
		errs = append(errs, fmt.Errorf("handoff.input_path and handoff.output_path must differ"))
	}

	if cfg.Limits.SafetyMargin < 0 {
		errs = append(errs, fmt.Errorf("limits.safety_margin must not be negative"))
	}
	if cfg.Limits.GraceWindow < 0 {
		errs = append(errs, fmt.Errorf("limits.grace_window must not be negative"))
	}
	if cfg.Limits.ExitCodeWait < 0 {
		errs = append(errs, fmt.Errorf("limits.exit_code_wait must not be negative"))
	}
	if cfg.Limits.DefaultRemaining < 0 {
		errs = append(errs, fmt.Errorf("limits.default_remaining must not be negative"))
	}

	if cfg.Notify.SubjectLimit < 0 {
		errs = append(errs, fmt.Errorf("notify.subject_limit must not be negative"))
	}
	if cfg.Notify.Rate.Every < 0 || cfg.Notify.Rate.Burst < 0 {
		errs = append(errs, fmt.Errorf("notify.rate values must not be negative"))
	}
	if raw := cfg.Notify.Webhook.URL; raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("notify.webhook.url %q must be an absolute http(s) URL", raw))
		}
	}

	if cfg.State.Retention < 0 {
		errs = append(errs, fmt.Errorf("state.retention must not be negative"))
	}

	if cfg.API.Enabled {
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			errs = append(errs, fmt.Errorf("api.auth requires api_key or tokens when api is enabled"))
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				errs = append(errs, fmt.Errorf("api.auth.tokens[%d].token is empty", i))
			}
			if len(tok.Scopes) == 0 {
				errs = append(errs, fmt.Errorf("api.auth.tokens[%d].scopes is empty", i))
			}
		}
	}

	return errors.Join(errs...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
