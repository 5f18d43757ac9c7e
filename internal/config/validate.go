package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateTimeouts(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// RequireLLM reports a configuration error when no API key is available.
// Only commands that run analyzers call it.
func (c *Config) RequireLLM() error {
	if strings.TrimSpace(c.LLM.APIKey) != "" {
		return nil
	}
	path, err := DefaultConfigPath()
	if err != nil {
		path = defaultConfigPath
	}
	return fmt.Errorf("llm.api_key is required. Set %s env var or edit %s (create with 'therapybridge config init')", envOpenAIAPIKey, path)
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case storeDriverSQLite:
	case storeDriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.driver is postgres (or set %s)", envDatabaseURL)
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q (want sqlite or postgres)", c.Store.Driver)
	}
	if c.Store.MaxOpenConns <= 0 {
		return errors.New("store.max_open_conns must be positive")
	}
	return nil
}

func (c *Config) validateLLM() error {
	parsed, err := url.Parse(c.LLM.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("llm.base_url must be an absolute URL, got %q", c.LLM.BaseURL)
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if c.Analysis.MaxAttempts <= 0 || c.Analysis.MaxAttempts > maxAnalysisAttempts {
		return fmt.Errorf("analysis.max_attempts must be between 1 and %d", maxAnalysisAttempts)
	}
	if c.Analysis.RetryBaseDelayMS < 0 {
		return errors.New("analysis.retry_base_delay_ms must not be negative")
	}
	if c.Analysis.RetryMaxDelayMS < c.Analysis.RetryBaseDelayMS {
		return errors.New("analysis.retry_max_delay_ms must be at least analysis.retry_base_delay_ms")
	}
	if c.Analysis.Wave1Concurrency <= 0 || c.Analysis.Wave1Concurrency > maxWave1Concurrency {
		return fmt.Errorf("analysis.wave1_concurrency must be between 1 and %d", maxWave1Concurrency)
	}
	if c.Analysis.Wave2Concurrency <= 0 {
		return errors.New("analysis.wave2_concurrency must be positive")
	}
	if c.Analysis.RunTimeoutSeconds < c.Analysis.CallTimeoutSeconds {
		return errors.New("analysis.run_timeout_seconds must be at least analysis.call_timeout_seconds")
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	if err := ensurePositiveMap(map[string]int{
		"analysis.call_timeout_seconds": c.Analysis.CallTimeoutSeconds,
		"analysis.run_timeout_seconds":  c.Analysis.RunTimeoutSeconds,
		"demo.token_ttl_hours":          c.Demo.TokenTTLHours,
		"jobs.stop_grace_seconds":       c.Jobs.StopGraceSeconds,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
		"server.shutdown_timeout":       c.Server.ShutdownTimeout,
	}); err != nil {
		return err
	}
	if c.Status.Wave1PollMS < minimumStatusPollMilliseconds || c.Status.Wave2PollMS < minimumStatusPollMilliseconds {
		return fmt.Errorf("status poll intervals must be at least %dms", minimumStatusPollMilliseconds)
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.AMQPURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Events.AMQPURL)
	if err != nil || (parsed.Scheme != "amqp" && parsed.Scheme != "amqps") {
		return errors.New("events.amqp_url must use the amqp:// or amqps:// scheme")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
