package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Environment
	Environment string `yaml:"environment"`
	Port        string `yaml:"port"`

	// LLM
	OpenAIAPIKey string `yaml:"openai_api_key"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	LLMProvider  string `yaml:"llm_provider"` // "openai" or "gemini"
	LLMModel     string `yaml:"llm_model"`

	// Agent loop
	AgentMaxTurns    int `yaml:"agent_max_turns"`
	AgentCallDelayMs int `yaml:"agent_call_delay_ms"`

	// Audio
	SampleRate          int    `yaml:"sample_rate"`
	SchedulerLookahead  int    `yaml:"scheduler_lookahead_ms"`
	SchedulerIntervalMs int    `yaml:"scheduler_interval_ms"`
	AudioOutput         string `yaml:"audio_output"` // "none" or "ffplay"
	SampleBankDir       string `yaml:"sample_bank_dir"`
	MaxRenderSeconds    int    `yaml:"max_render_seconds"`

	// Shared run storage
	StorageType        string `yaml:"storage_type"` // "local", "gcs" or "postgres"
	StorageDir         string `yaml:"storage_dir"`
	GCSBucket          string `yaml:"gcs_bucket"`
	GCSPrefix          string `yaml:"gcs_prefix"`
	GCSCredentialsFile string `yaml:"gcs_credentials_file"`
	DatabaseURL        string `yaml:"database_url"`

	// Observability
	SentryDSN           string `yaml:"sentry_dsn"`
	LangfusePublicKey   string `yaml:"langfuse_public_key"`
	LangfuseSecretKey   string `yaml:"langfuse_secret_key"`
	LangfuseHost        string `yaml:"langfuse_host"`
	LangfuseEnabled     bool   `yaml:"langfuse_enabled"`
	CloudWatchNamespace string `yaml:"cloudwatch_namespace"`
}

// Load reads the environment, then overlays CONFIG_FILE when set
func Load() (*Config, error) {
	cfg := &Config{
		Environment:         getEnv("ENVIRONMENT", "development"),
		Port:                getEnv("PORT", "8080"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		LLMProvider:         getEnv("LLM_PROVIDER", "openai"),
		LLMModel:            getEnv("LLM_MODEL", ""),
		AgentMaxTurns:       getEnvInt("AGENT_MAX_TURNS", 40),
		AgentCallDelayMs:    getEnvInt("AGENT_CALL_DELAY_MS", 120),
		SampleRate:          getEnvInt("SAMPLE_RATE", 44100),
		SchedulerLookahead:  getEnvInt("SCHEDULER_LOOKAHEAD_MS", 100),
		SchedulerIntervalMs: getEnvInt("SCHEDULER_INTERVAL_MS", 25),
		AudioOutput:         getEnv("AUDIO_OUTPUT", "none"),
		SampleBankDir:       getEnv("SAMPLE_BANK_DIR", ""),
		MaxRenderSeconds:    getEnvInt("MAX_RENDER_SECONDS", 600),
		StorageType:         getEnv("STORAGE_TYPE", "local"),
		StorageDir:          getEnv("STORAGE_DIR", "runs"),
		GCSBucket:           getEnv("GCS_BUCKET", ""),
		GCSPrefix:           getEnv("GCS_PREFIX", ""),
		GCSCredentialsFile:  getEnv("GCS_CREDENTIALS_FILE", ""),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		SentryDSN:           getEnv("SENTRY_DSN", ""),
		LangfusePublicKey:   getEnv("LANGFUSE_PUBLIC_KEY", ""),
		LangfuseSecretKey:   getEnv("LANGFUSE_SECRET_KEY", ""),
		LangfuseHost:        getEnv("LANGFUSE_HOST", "https://cloud.langfuse.com"),
		LangfuseEnabled:     getEnv("LANGFUSE_ENABLED", "false") == "true",
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "MagdaComposer"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// overlay applies the non-empty values of a YAML file on top of cfg
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setString(&c.Environment, file.Environment)
	setString(&c.Port, file.Port)
	setString(&c.OpenAIAPIKey, file.OpenAIAPIKey)
	setString(&c.GeminiAPIKey, file.GeminiAPIKey)
	setString(&c.LLMProvider, file.LLMProvider)
	setString(&c.LLMModel, file.LLMModel)
	setInt(&c.AgentMaxTurns, file.AgentMaxTurns)
	setInt(&c.AgentCallDelayMs, file.AgentCallDelayMs)
	setInt(&c.SampleRate, file.SampleRate)
	setInt(&c.SchedulerLookahead, file.SchedulerLookahead)
	setInt(&c.SchedulerIntervalMs, file.SchedulerIntervalMs)
	setString(&c.AudioOutput, file.AudioOutput)
	setString(&c.SampleBankDir, file.SampleBankDir)
	setInt(&c.MaxRenderSeconds, file.MaxRenderSeconds)
	setString(&c.StorageType, file.StorageType)
	setString(&c.StorageDir, file.StorageDir)
	setString(&c.GCSBucket, file.GCSBucket)
	setString(&c.GCSPrefix, file.GCSPrefix)
	setString(&c.GCSCredentialsFile, file.GCSCredentialsFile)
	setString(&c.DatabaseURL, file.DatabaseURL)
	setString(&c.SentryDSN, file.SentryDSN)
	setString(&c.LangfusePublicKey, file.LangfusePublicKey)
	setString(&c.LangfuseSecretKey, file.LangfuseSecretKey)
	setString(&c.LangfuseHost, file.LangfuseHost)
	setString(&c.CloudWatchNamespace, file.CloudWatchNamespace)
	if file.LangfuseEnabled {
		c.LangfuseEnabled = true
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// IsProduction reports whether production-only integrations should run
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// CallDelay is the pause between agent tool calls
func (c *Config) CallDelay() time.Duration {
	return time.Duration(c.AgentCallDelayMs) * time.Millisecond
}

// Lookahead is how far ahead the scheduler places notes
func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.SchedulerLookahead) * time.Millisecond
}

// SchedulerInterval is the scheduling tick period
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalMs) * time.Millisecond
}

// MaxRender is the longest offline export the server will produce
func (c *Config) MaxRender() time.Duration {
	return time.Duration(c.MaxRenderSeconds) * time.Second
}
