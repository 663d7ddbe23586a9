package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// storage
	DBDriver     string
	DatabaseURL  string
	SQLitePath   string
	SslCertPath  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	// embedding service
	EmbedProvider   string
	EmbedBaseURL    string
	EmbedAPIKey     string
	AIAPIKey        string
	EmbedModel      string
	EmbedDim        int
	EmbedTimeout    time.Duration
	EmbedMaxRetries int
	EmbedRPS        float64

	// pipeline
	ChunkSize      int
	ChunkOverlap   int
	MaxChunks      int
	MaxInputBytes  int64
	JobTimeout     time.Duration
	PDFTimeout     time.Duration
	WriteBatchSize int
	Workers        int

	Port        string
	LogMode     string
	CORSOrigins []string

	// Warnings collects malformed values that fell back to defaults. They are
	// logged once the logger exists.
	Warnings []string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{}
	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", "postgres"))
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.SQLitePath = getEnv("SQLITE_PATH", "contexta.db")
	cfg.SslCertPath = getEnv("SSL_CERT_PATH", "")
	cfg.AwsAccessKey = getEnv("AWS_ACCESS_KEY", "")
	cfg.AwsSecretKey = getEnv("AWS_SECRET_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "us-east-2")
	cfg.BucketName = getEnv("BUCKET_NAME", "contexta-docs")

	cfg.EmbedProvider = strings.ToLower(getEnv("EMBED_PROVIDER", "openai"))
	cfg.EmbedBaseURL = getEnv("EMBED_BASE_URL", "https://api.openai.com/v1")
	cfg.EmbedAPIKey = getEnv("EMBED_API_KEY", "")
	cfg.AIAPIKey = getEnv("GEMINI_API_KEY", "")
	cfg.EmbedModel = getEnv("EMBED_MODEL", "text-embedding-3-small")
	cfg.EmbedDim = cfg.getEnvInt("EMBED_DIM", 1536)
	cfg.EmbedTimeout = cfg.getEnvDuration("EMBED_TIMEOUT", 60*time.Second)
	cfg.EmbedMaxRetries = cfg.getEnvInt("EMBED_MAX_RETRIES", 0)
	cfg.EmbedRPS = cfg.getEnvFloat("EMBED_RPS", 0)

	cfg.ChunkSize = cfg.getEnvInt("CHUNK_SIZE", 2000)
	cfg.ChunkOverlap = cfg.getEnvInt("CHUNK_OVERLAP", 150)
	cfg.MaxChunks = cfg.getEnvInt("MAX_CHUNKS", 2000)
	cfg.MaxInputBytes = int64(cfg.getEnvInt("MAX_INPUT_BYTES", 25<<20))
	cfg.JobTimeout = cfg.getEnvDuration("JOB_TIMEOUT", 5*time.Minute)
	cfg.PDFTimeout = cfg.getEnvDuration("PDF_TIMEOUT", 30*time.Second)
	cfg.WriteBatchSize = cfg.getEnvInt("WRITE_BATCH_SIZE", 200)
	cfg.Workers = cfg.getEnvInt("INGEST_WORKERS", 4)

	cfg.Port = getEnv("PORT", "8080")
	cfg.LogMode = getEnv("LOG_MODE", "production")
	cfg.CORSOrigins = splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8888"))

	return cfg
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL not set")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH not set")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}

	switch c.EmbedProvider {
	case "openai":
		if c.EmbedBaseURL == "" {
			return fmt.Errorf("EMBED_BASE_URL not set")
		}
	case "gemini":
		if c.AIAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY not set")
		}
	case "hash":
	default:
		return fmt.Errorf("unknown EMBED_PROVIDER %q", c.EmbedProvider)
	}

	if c.EmbedDim <= 0 {
		return fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim)
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("invalid chunking window: CHUNK_SIZE=%d CHUNK_OVERLAP=%d", c.ChunkSize, c.ChunkOverlap)
	}
	return nil
}

// ObjectStorageEnabled reports whether S3 credentials were supplied.
func (c *Config) ObjectStorageEnabled() bool {
	return c.AwsAccessKey != "" && c.AwsSecretKey != "" && c.BucketName != ""
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func (c *Config) getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.warnf("%s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func (c *Config) getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.warnf("%s=%q not a number, using default %g", key, v, def)
		return def
	}
	return f
}

func (c *Config) getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.warnf("%s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}
