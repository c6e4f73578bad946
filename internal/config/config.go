package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halcyonmedical/voxmachina/internal/llm"
)

// EnvPrefix is the namespace prefix for all voxmachina environment variables.
const EnvPrefix = "VOXMACHINA_"

// Config holds all application configuration. Secrets (API keys, the webhook
// secret) are loaded exclusively from environment variables and never appear
// in the config file.
type Config struct {
	HTTPAddr   string `yaml:"http_addr"`
	DBPath     string `yaml:"db_path"`
	ExportDir  string `yaml:"export_dir"`
	AgentsPath string `yaml:"agents_path"`

	RealtimeModel       string `yaml:"realtime_model"`
	SummaryModel        string `yaml:"summary_model"`
	TranscriptionModel  string `yaml:"transcription_model"`
	TranscriptionLang   string `yaml:"transcription_language"`
	EnableTranscription bool   `yaml:"enable_transcription"`

	AcceptTimeout     string `yaml:"accept_timeout"`
	StreamOpenTimeout string `yaml:"stream_open_timeout"`
	StreamIdleTimeout string `yaml:"stream_idle_timeout"`
	FinalizeGrace     string `yaml:"finalize_grace"`

	SummaryConcurrency int `yaml:"summary_concurrency"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	GDriveSyncInterval    string `yaml:"gdrive_sync_interval"`

	// Secrets come from env vars only and are never serialized to YAML.
	OpenAIAPIKey    string `yaml:"-"`
	WebhookSecret   string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		HTTPAddr:   ":8080",
		DBPath:     "data/voxmachina.db",
		ExportDir:  "data/exports",
		AgentsPath: "",

		RealtimeModel:       "gpt-realtime",
		SummaryModel:        "openai/gpt-4o-mini",
		TranscriptionModel:  "gpt-4o-transcribe",
		TranscriptionLang:   "en",
		EnableTranscription: true,

		AcceptTimeout:     "10s",
		StreamOpenTimeout: "15s",
		StreamIdleTimeout: "5m",
		FinalizeGrace:     "30s",

		SummaryConcurrency: 4,

		GoogleCredentialsFile: "./service-account.json",
		GDriveSyncInterval:    "15m",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedAcceptTimeout returns AcceptTimeout as a time.Duration, falling back
// to 10s if the value is invalid.
func (c *Config) ParsedAcceptTimeout() time.Duration {
	return parseDuration(c.AcceptTimeout, 10*time.Second)
}

// ParsedStreamOpenTimeout returns StreamOpenTimeout as a time.Duration,
// falling back to 15s if the value is invalid.
func (c *Config) ParsedStreamOpenTimeout() time.Duration {
	return parseDuration(c.StreamOpenTimeout, 15*time.Second)
}

// ParsedStreamIdleTimeout returns StreamIdleTimeout as a time.Duration,
// falling back to 5m if the value is invalid.
func (c *Config) ParsedStreamIdleTimeout() time.Duration {
	return parseDuration(c.StreamIdleTimeout, 5*time.Minute)
}

// ParsedFinalizeGrace returns FinalizeGrace as a time.Duration, falling back
// to 30s if the value is invalid.
func (c *Config) ParsedFinalizeGrace() time.Duration {
	return parseDuration(c.FinalizeGrace, 30*time.Second)
}

// ParsedGDriveSyncInterval returns GDriveSyncInterval as a time.Duration,
// falling back to 15m if the value is invalid.
func (c *Config) ParsedGDriveSyncInterval() time.Duration {
	return parseDuration(c.GDriveSyncInterval, 15*time.Minute)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "EXPORT_DIR"); v != "" {
		cfg.ExportDir = v
	}
	if v := os.Getenv(EnvPrefix + "AGENTS_PATH"); v != "" {
		cfg.AgentsPath = v
	}
	if v := os.Getenv(EnvPrefix + "REALTIME_MODEL"); v != "" {
		cfg.RealtimeModel = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARY_MODEL"); v != "" {
		cfg.SummaryModel = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_MODEL"); v != "" {
		cfg.TranscriptionModel = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_LANGUAGE"); v != "" {
		cfg.TranscriptionLang = v
	}
	if v := os.Getenv(EnvPrefix + "ENABLE_TRANSCRIPTION"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.EnableTranscription = enabled
		}
	}
	if v := os.Getenv(EnvPrefix + "ACCEPT_TIMEOUT"); v != "" {
		cfg.AcceptTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "STREAM_OPEN_TIMEOUT"); v != "" {
		cfg.StreamOpenTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "STREAM_IDLE_TIMEOUT"); v != "" {
		cfg.StreamIdleTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "FINALIZE_GRACE"); v != "" {
		cfg.FinalizeGrace = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARY_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SummaryConcurrency = n
		}
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_SYNC_INTERVAL"); v != "" {
		cfg.GDriveSyncInterval = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.WebhookSecret = os.Getenv(EnvPrefix + "WEBHOOK_SECRET")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

// SummaryAPIKey returns the API key matching the summary model's provider,
// or "" when that provider has no key configured.
func (c *Config) SummaryAPIKey() string {
	provider, _, err := llm.ParseModel(c.SummaryModel)
	if err != nil {
		return ""
	}
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured: incoming calls cannot be accepted. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}
	if cfg.WebhookSecret == "" {
		warnings = append(warnings, "Webhook secret not configured: deliveries cannot be verified and the server will not start. Set "+EnvPrefix+"WEBHOOK_SECRET.")
	}

	if _, _, err := llm.ParseModel(cfg.SummaryModel); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid summary_model %q: expected provider/model_name.", cfg.SummaryModel))
	} else if cfg.SummaryAPIKey() == "" {
		warnings = append(warnings, fmt.Sprintf("No API key for summary model %q: call summaries are disabled.", cfg.SummaryModel))
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"accept_timeout", cfg.AcceptTimeout},
		{"stream_open_timeout", cfg.StreamOpenTimeout},
		{"stream_idle_timeout", cfg.StreamIdleTimeout},
		{"finalize_grace", cfg.FinalizeGrace},
		{"gdrive_sync_interval", cfg.GDriveSyncInterval},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q: using the default.", d.name, d.value))
		}
	}

	return warnings
}
