package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeStore()
	c.normalizeLLM()
	if err := c.normalizeJobs(); err != nil {
		return err
	}
	c.normalizeEvents()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultServerBind
	}
	origins := make([]string, 0, len(c.Server.CORSOrigins))
	for _, origin := range c.Server.CORSOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.Server.CORSOrigins = origins
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "":
		c.Store.Driver = defaultStoreDriver
	case "postgresql", "supabase":
		c.Store.Driver = storeDriverPostgres
	case "sqlite3":
		c.Store.Driver = storeDriverSQLite
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.DSN == "" {
		if value, ok := os.LookupEnv(envDatabaseURL); ok {
			c.Store.DSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv(envOpenAIAPIKey); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.DeepModel = strings.TrimSpace(c.LLM.DeepModel)
	if c.LLM.DeepModel == "" {
		c.LLM.DeepModel = c.LLM.Model
	}
}

func (c *Config) normalizeJobs() error {
	c.Jobs.Executable = strings.TrimSpace(c.Jobs.Executable)
	if c.Jobs.Executable == "" {
		return nil
	}
	expanded, err := expandPath(c.Jobs.Executable)
	if err != nil {
		return fmt.Errorf("jobs.executable: %w", err)
	}
	c.Jobs.Executable = expanded
	return nil
}

func (c *Config) normalizeEvents() {
	c.Events.AMQPURL = strings.TrimSpace(c.Events.AMQPURL)
	if c.Events.AMQPURL == "" {
		if value, ok := os.LookupEnv(envAMQPURL); ok {
			c.Events.AMQPURL = strings.TrimSpace(value)
		}
	}
	c.Events.Exchange = strings.TrimSpace(c.Events.Exchange)
	if c.Events.Exchange == "" {
		c.Events.Exchange = defaultEventsExchange
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv(envNtfyTopic); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
