package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Role selects which settings Validate treats as required.
type Role string

const (
	RoleAPI     Role = "api"
	RoleWorker  Role = "worker"
	RoleCLI     Role = "cli"
	RoleMigrate Role = "migrate"
)

// ErrInvalidConfig is wrapped by every error returned from Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Log       LogConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Queue     QueueConfig
	LLM       LLMConfig
	Storage   StorageConfig
	Ingest    IngestConfig
	Notify    NotifyConfig
	Analytics AnalyticsConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string
	MaxUploadBytes int64
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver   string
	URL      string
	MaxConns int32
}

// QueueConfig holds job queue configuration.
type QueueConfig struct {
	Backend   string
	BrokerURL string
	Name      string
	Buffer    int
}

// LLMConfig holds extraction model configuration.
type LLMConfig struct {
	Provider      string
	Model         string
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	Timeout       time.Duration
}

// StorageConfig holds upload storage configuration. A non-empty Bucket
// selects Cloud Storage over the local directory.
type StorageConfig struct {
	UploadDir string
	Bucket    string
}

// IngestConfig holds extraction pipeline tuning.
type IngestConfig struct {
	JobTimeout    time.Duration
	MinTextLength int
	MaxTextChars  int
	MaxPages      int
	RenderDPI     int
	PdftoppmPath  string
}

// NotifyConfig holds notification delivery configuration.
type NotifyConfig struct {
	PollInterval time.Duration
}

// AnalyticsConfig holds the optional BigQuery mirror configuration.
// The mirror is disabled when Project is empty.
type AnalyticsConfig struct {
	Project string
	Dataset string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	QueueAMQP   = "amqp"
	QueueMemory = "memory"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Load reads configuration from environment variables.
func Load() *Config {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini))
	defaultModel := "gemini-2.5-flash"
	if provider == ProviderOpenAI {
		defaultModel = "gpt-4o-mini"
	}

	return &Config{
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Server: ServerConfig{
			Port:           getEnv("HTTP_PORT", "8080"),
			MaxUploadBytes: getEnvAsInt64("MAX_UPLOAD_BYTES", 20<<20),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvAsInt32("DB_MAX_CONNS", 10),
		},
		Queue: QueueConfig{
			Backend:   strings.ToLower(getEnv("QUEUE_BACKEND", QueueAMQP)),
			BrokerURL: getEnv("BROKER_URL", ""),
			Name:      getEnv("JOB_QUEUE_NAME", "statement-processing"),
			Buffer:    getEnvAsInt("JOB_QUEUE_BUFFER", 100),
		},
		LLM: LLMConfig{
			Provider:      provider,
			Model:         getEnv("LLM_MODEL", defaultModel),
			GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Timeout:       getEnvAsDuration("LLM_TIMEOUT", 2*time.Minute),
		},
		Storage: StorageConfig{
			UploadDir: getEnv("UPLOAD_DIR", "./uploads"),
			Bucket:    getEnv("UPLOAD_BUCKET", ""),
		},
		Ingest: IngestConfig{
			JobTimeout:    getEnvAsDuration("JOB_TIMEOUT", 5*time.Minute),
			MinTextLength: getEnvAsInt("MIN_TEXT_LENGTH", 50),
			MaxTextChars:  getEnvAsInt("MAX_TEXT_CHARS", 15000),
			MaxPages:      getEnvAsInt("MAX_PAGES", 10),
			RenderDPI:     getEnvAsInt("RENDER_DPI", 144),
			PdftoppmPath:  getEnv("PDFTOPPM_PATH", "pdftoppm"),
		},
		Notify: NotifyConfig{
			PollInterval: getEnvAsDuration("NOTIFY_POLL_INTERVAL", 3*time.Second),
		},
		Analytics: AnalyticsConfig{
			Project: getEnv("BIGQUERY_PROJECT", ""),
			Dataset: getEnv("BIGQUERY_DATASET", "finance"),
		},
	}
}

// Validate checks that the settings required by role are present.
// Processes call it at startup and refuse to run on error.
func (c *Config) Validate(role Role) error {
	var problems []string

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		problems = append(problems, fmt.Sprintf("DATABASE_DRIVER %q is not supported", c.Database.Driver))
	}
	if c.Database.URL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}

	if role == RoleMigrate {
		return joinProblems(problems)
	}

	if role == RoleAPI || role == RoleWorker {
		switch c.Queue.Backend {
		case QueueAMQP:
			if c.Queue.BrokerURL == "" {
				problems = append(problems, "BROKER_URL is required when QUEUE_BACKEND=amqp")
			}
		case QueueMemory:
			if role == RoleWorker {
				problems = append(problems, "QUEUE_BACKEND=memory cannot be consumed by a separate worker process")
			}
		default:
			problems = append(problems, fmt.Sprintf("QUEUE_BACKEND %q is not supported", c.Queue.Backend))
		}
	}

	switch c.LLM.Provider {
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" {
			problems = append(problems, "GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			problems = append(problems, "OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	default:
		problems = append(problems, fmt.Sprintf("LLM_PROVIDER %q is not supported", c.LLM.Provider))
	}

	if c.Ingest.JobTimeout <= 0 {
		problems = append(problems, "JOB_TIMEOUT must be positive")
	}
	if c.Ingest.MaxPages <= 0 {
		problems = append(problems, "MAX_PAGES must be positive")
	}
	if c.Server.MaxUploadBytes <= 0 {
		problems = append(problems, "MAX_UPLOAD_BYTES must be positive")
	}

	return joinProblems(problems)
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
