package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Server contains HTTP API configuration.
type Server struct {
	Bind            string   `toml:"bind"`
	CORSOrigins     []string `toml:"cors_origins"`
	ShutdownTimeout int      `toml:"shutdown_timeout"`
}

// Store selects the session store backend.
type Store struct {
	// Driver is "sqlite" (file under paths.data_dir) or "postgres".
	Driver       string `toml:"driver"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// LLM contains chat-completions connection settings shared by all analyzers.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	DeepModel      string `toml:"deep_model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Analysis tunes the two-wave orchestration.
type Analysis struct {
	MaxAttempts        int `toml:"max_attempts"`
	RetryBaseDelayMS   int `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS    int `toml:"retry_max_delay_ms"`
	CallTimeoutSeconds int `toml:"call_timeout_seconds"`
	RunTimeoutSeconds  int `toml:"run_timeout_seconds"`
	Wave1Concurrency   int `toml:"wave1_concurrency"`
	Wave2Concurrency   int `toml:"wave2_concurrency"`
}

// Demo contains demo account settings.
type Demo struct {
	TokenTTLHours int `toml:"token_ttl_hours"`
}

// Jobs configures the background job launcher.
type Jobs struct {
	// Executable overrides the binary spawned for pipeline workers.
	// Empty means the running executable.
	Executable       string `toml:"executable"`
	StopGraceSeconds int    `toml:"stop_grace_seconds"`
	StopOnShutdown   bool   `toml:"stop_on_shutdown"`
}

// Events configures the optional AMQP progress publisher.
type Events struct {
	AMQPURL  string `toml:"amqp_url"`
	Exchange string `toml:"exchange"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completion     bool   `toml:"completion"`
	Errors         bool   `toml:"errors"`
}

// Status contains the polling hints returned by the status endpoint.
type Status struct {
	Wave1PollMS int `toml:"wave1_poll_ms"`
	Wave2PollMS int `toml:"wave2_poll_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for TherapyBridge.
//
// Configuration sections by subsystem:
//   - Paths: data (SQLite database, locks) and log directories
//   - Server: HTTP API bind address, CORS, shutdown
//   - Store: session store driver and DSN
//   - LLM: chat-completions connection settings
//   - Analysis: retry, timeout, and concurrency knobs for both waves
//   - Demo: demo token lifetime
//   - Jobs: background pipeline launcher
//   - Events: AMQP progress events
//   - Notifications: ntfy push notification settings
//   - Status: polling hints
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Server        Server        `toml:"server"`
	Store         Store         `toml:"store"`
	LLM           LLM           `toml:"llm"`
	Analysis      Analysis      `toml:"analysis"`
	Demo          Demo          `toml:"demo"`
	Jobs          Jobs          `toml:"jobs"`
	Events        Events        `toml:"events"`
	Notifications Notifications `toml:"notifications"`
	Status        Status        `toml:"status"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("therapybridge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data, lock, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.LockDir(), c.Paths.LogDir, c.JobLogDir()} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file used when store.driver is sqlite.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "therapybridge.db")
}

// LockDir holds the per-patient pipeline lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.DataDir, "locks")
}

// JobLogDir holds stdout/stderr captures of detached pipeline workers.
func (c *Config) JobLogDir() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, "jobs")
}

// CallTimeout bounds a single analyzer attempt.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Analysis.CallTimeoutSeconds) * time.Second
}

// RunTimeout bounds a whole analysis run (both waves).
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Analysis.RunTimeoutSeconds) * time.Second
}

// RetryBaseDelay is the first backoff delay between analyzer attempts.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Analysis.RetryBaseDelayMS) * time.Millisecond
}

// RetryMaxDelay caps the analyzer backoff delay.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Analysis.RetryMaxDelayMS) * time.Millisecond
}

// TokenTTL is the lifetime of a demo account.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Demo.TokenTTLHours) * time.Hour
}

// StopGrace is the delay between SIGTERM and SIGKILL when stopping a job.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Jobs.StopGraceSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
