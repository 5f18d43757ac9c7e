package config

const (
	defaultConfigPath             = "~/.config/therapybridge/config.toml"
	defaultDataDir                = "~/.local/share/therapybridge"
	defaultLogDir                 = "~/.local/share/therapybridge/logs"
	defaultServerBind             = "127.0.0.1:8080"
	defaultShutdownTimeout        = 10
	defaultStoreDriver            = "sqlite"
	defaultStoreMaxOpenConns      = 8
	defaultLLMBaseURL             = "https://api.openai.com/v1/chat/completions"
	defaultLLMModel               = "gpt-4o-mini"
	defaultLLMDeepModel           = "gpt-4o"
	defaultLLMTimeoutSeconds      = 90
	defaultMaxAttempts            = 3
	defaultRetryBaseDelayMS       = 1000
	defaultRetryMaxDelayMS        = 10000
	defaultCallTimeoutSeconds     = 60
	defaultRunTimeoutSeconds      = 1200
	defaultWave1Concurrency       = 12
	defaultWave2Concurrency       = 1
	defaultTokenTTLHours          = 24
	defaultStopGraceSeconds       = 5
	defaultEventsExchange         = "therapybridge.analysis"
	defaultNotifyRequestTimeout   = 10
	defaultStatusWave1PollMS      = 1000
	defaultStatusWave2PollMS      = 3000
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	envOpenAIAPIKey               = "OPENAI_API_KEY"
	envDatabaseURL                = "THERAPYBRIDGE_DATABASE_URL"
	envAMQPURL                    = "THERAPYBRIDGE_AMQP_URL"
	envNtfyTopic                  = "THERAPYBRIDGE_NTFY_TOPIC"
	storeDriverSQLite             = "sqlite"
	storeDriverPostgres           = "postgres"
	maxWave1Concurrency           = 64
	maxAnalysisAttempts           = 10
	minimumStatusPollMilliseconds = 250
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Server: Server{
			Bind:            defaultServerBind,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Store: Store{
			Driver:       defaultStoreDriver,
			MaxOpenConns: defaultStoreMaxOpenConns,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			DeepModel:      defaultLLMDeepModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Analysis: Analysis{
			MaxAttempts:        defaultMaxAttempts,
			RetryBaseDelayMS:   defaultRetryBaseDelayMS,
			RetryMaxDelayMS:    defaultRetryMaxDelayMS,
			CallTimeoutSeconds: defaultCallTimeoutSeconds,
			RunTimeoutSeconds:  defaultRunTimeoutSeconds,
			Wave1Concurrency:   defaultWave1Concurrency,
			Wave2Concurrency:   defaultWave2Concurrency,
		},
		Demo: Demo{
			TokenTTLHours: defaultTokenTTLHours,
		},
		Jobs: Jobs{
			StopGraceSeconds: defaultStopGraceSeconds,
			StopOnShutdown:   true,
		},
		Events: Events{
			Exchange: defaultEventsExchange,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completion:     true,
			Errors:         true,
		},
		Status: Status{
			Wave1PollMS: defaultStatusWave1PollMS,
			Wave2PollMS: defaultStatusWave2PollMS,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
