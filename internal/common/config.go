package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	KV       KVConfig       `yaml:"kv"`
	Render   RenderConfig   `yaml:"render"`
	Vision   VisionConfig   `yaml:"vision"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Events   EventsConfig   `yaml:"events"`
	Auth     AuthConfig     `yaml:"auth"`
	Inbox    InboxConfig    `yaml:"inbox"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"` // postgres | sqlite
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

type StorageConfig struct {
	Backend string      `yaml:"backend"` // memory | minio | gcs
	Minio   MinioConfig `yaml:"minio"`
	GCS     GCSConfig   `yaml:"gcs"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
}

type KVConfig struct {
	Backend       string        `yaml:"backend"` // memory | sql
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RenderConfig struct {
	PdftoppmPath string        `yaml:"pdftoppm_path"`
	LowDPI       int           `yaml:"low_dpi"`
	HighDPI      int           `yaml:"high_dpi"`
	Parallelism  int           `yaml:"parallelism"`
	Timeout      time.Duration `yaml:"timeout"`
}

// VisionConfig selects and configures the vision model backend.
type VisionConfig struct {
	Provider string       `yaml:"provider"` // openai | vertex
	OpenAI   OpenAIConfig `yaml:"openai"`
	Vertex   VertexConfig `yaml:"vertex"`
}

type OpenAIConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type VertexConfig struct {
	Project         string `yaml:"project"`
	Region          string `yaml:"region"`
	Model           string `yaml:"model"`
	CredentialsFile string `yaml:"credentials_file"`
}

type PipelineConfig struct {
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	RunTimeout          time.Duration `yaml:"run_timeout"`
	ClassifyBatchSize   int           `yaml:"classify_batch_size"`
	ClassifyParallelism int           `yaml:"classify_parallelism"`
	ExtractParallelism  int           `yaml:"extract_parallelism"`
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff"`
	ProgressTTL         time.Duration `yaml:"progress_ttl"`
	ClassificationTTL   time.Duration `yaml:"classification_ttl"`
	PreviewRetention    time.Duration `yaml:"preview_retention"`
	JanitorInterval     time.Duration `yaml:"janitor_interval"`
}

type EventsConfig struct {
	TargetURL     string `yaml:"target_url"` // empty disables delivery
	Source        string `yaml:"source"`
	BufferSize    int    `yaml:"buffer_size"`
	RetryAttempts int    `yaml:"retry_attempts"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Disabled  bool   `yaml:"disabled"`
}

// InboxConfig configures drop folders whose new files are submitted automatically.
type InboxConfig struct {
	Dirs     []string      `yaml:"dirs"` // empty disables watching
	OwnerID  string        `yaml:"owner_id"`
	Debounce time.Duration `yaml:"debounce"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":8081",
			ShutdownTimeout: 20 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Minio:   MinioConfig{Bucket: "packet-parser"},
		},
		KV: KVConfig{
			Backend:       "memory",
			SweepInterval: 30 * time.Second,
		},
		Render: RenderConfig{
			PdftoppmPath: "pdftoppm",
			LowDPI:       72,
			HighDPI:      200,
			Parallelism:  4,
			Timeout:      60 * time.Second,
		},
		Vision: VisionConfig{
			Provider: "openai",
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
				Timeout: 90 * time.Second,
			},
			Vertex: VertexConfig{
				Region: "us-central1",
				Model:  "gemini-2.0-flash",
			},
		},
		Pipeline: PipelineConfig{
			Workers:             4,
			QueueSize:           256,
			RunTimeout:          5 * time.Minute,
			ClassifyBatchSize:   8,
			ClassifyParallelism: 4,
			ExtractParallelism:  4,
			RetryAttempts:       4,
			RetryInitialBackoff: time.Second,
			RetryMaxBackoff:     8 * time.Second,
			ProgressTTL:         2 * time.Minute,
			ClassificationTTL:   2 * time.Minute,
			PreviewRetention:    24 * time.Hour,
			JanitorInterval:     10 * time.Minute,
		},
		Events: EventsConfig{
			Source:        "packet-parser",
			BufferSize:    128,
			RetryAttempts: 3,
		},
		Inbox: InboxConfig{
			OwnerID:  "inbox",
			Debounce: 2 * time.Second,
			DedupTTL: 24 * time.Hour,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file and the environment.
// An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("read %s", path), err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("parse %s", path), err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Minio.Endpoint = getEnv("MINIO_ENDPOINT", c.Storage.Minio.Endpoint)
	c.Storage.Minio.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Storage.Minio.AccessKey)
	c.Storage.Minio.SecretKey = getEnv("MINIO_SECRET_KEY", c.Storage.Minio.SecretKey)
	c.Storage.Minio.Bucket = getEnv("MINIO_BUCKET", c.Storage.Minio.Bucket)
	c.Storage.GCS.Bucket = getEnv("GCS_BUCKET", c.Storage.GCS.Bucket)
	c.Storage.GCS.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.Storage.GCS.CredentialsFile)

	c.KV.Backend = getEnv("KV_BACKEND", c.KV.Backend)

	c.Render.PdftoppmPath = getEnv("PDFTOPPM_PATH", c.Render.PdftoppmPath)
	c.Render.LowDPI = getEnvAsInt("RENDER_LOW_DPI", c.Render.LowDPI)
	c.Render.HighDPI = getEnvAsInt("RENDER_HIGH_DPI", c.Render.HighDPI)

	c.Vision.Provider = getEnv("VISION_PROVIDER", c.Vision.Provider)
	c.Vision.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.Vision.OpenAI.APIKey)
	c.Vision.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.Vision.OpenAI.BaseURL)
	c.Vision.OpenAI.Model = getEnv("OPENAI_MODEL", c.Vision.OpenAI.Model)
	c.Vision.OpenAI.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", c.Vision.OpenAI.Temperature)
	c.Vision.OpenAI.Timeout = getEnvAsDuration("OPENAI_TIMEOUT", c.Vision.OpenAI.Timeout)
	c.Vision.Vertex.Project = getEnv("VERTEX_PROJECT", c.Vision.Vertex.Project)
	c.Vision.Vertex.Region = getEnv("VERTEX_REGION", c.Vision.Vertex.Region)
	c.Vision.Vertex.Model = getEnv("VERTEX_MODEL", c.Vision.Vertex.Model)

	c.Pipeline.Workers = getEnvAsInt("PIPELINE_WORKERS", c.Pipeline.Workers)
	c.Pipeline.RunTimeout = getEnvAsDuration("PIPELINE_RUN_TIMEOUT", c.Pipeline.RunTimeout)

	c.Events.TargetURL = getEnv("EVENTS_TARGET_URL", c.Events.TargetURL)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Disabled = getEnvAsBool("AUTH_DISABLED", c.Auth.Disabled)

	if dirs := getEnv("INBOX_DIRS", ""); dirs != "" {
		c.Inbox.Dirs = nil
		for _, d := range strings.Split(dirs, ",") {
			if d = strings.TrimSpace(d); d != "" {
				c.Inbox.Dirs = append(c.Inbox.Dirs, d)
			}
		}
	}
	c.Inbox.OwnerID = getEnv("INBOX_OWNER_ID", c.Inbox.OwnerID)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Helper functions for environment variable parsing
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

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required for postgres", ErrInvalidInput)
		}
	case "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "unknown database driver "+c.Database.Driver, ErrInvalidInput)
	}
	switch c.Vision.Provider {
	case "openai":
		if c.Vision.OpenAI.APIKey == "" {
			return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
		}
	case "vertex":
		if c.Vision.Vertex.Project == "" {
			return NewAppError("CONFIG_ERROR", "VERTEX_PROJECT is required", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "unknown vision provider "+c.Vision.Provider, ErrInvalidInput)
	}
	switch c.Storage.Backend {
	case "memory":
	case "minio":
		if c.Storage.Minio.Endpoint == "" {
			return NewAppError("CONFIG_ERROR", "MINIO_ENDPOINT is required", ErrInvalidInput)
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return NewAppError("CONFIG_ERROR", "GCS_BUCKET is required", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "unknown storage backend "+c.Storage.Backend, ErrInvalidInput)
	}
	if c.KV.Backend != "memory" && c.KV.Backend != "sql" {
		return NewAppError("CONFIG_ERROR", "unknown kv backend "+c.KV.Backend, ErrInvalidInput)
	}
	if !c.Auth.Disabled && c.Auth.JWTSecret == "" {
		return NewAppError("CONFIG_ERROR", "JWT_SECRET is required unless auth is disabled", ErrInvalidInput)
	}
	if len(c.Inbox.Dirs) > 0 && c.Inbox.OwnerID == "" {
		return NewAppError("CONFIG_ERROR", "INBOX_OWNER_ID is required when inbox dirs are set", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	return nil
}
