package config

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrMissingRequired marks configuration errors discovered at startup.
// This is the one fatal error class in the pipeline: everything downstream
// degrades instead of aborting.
var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"localhost"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"ingestor"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"ingestor"`

	// StoreBackend selects the chunk store: postgres, weaviate or none.
	// "none" is a valid degraded state for everything except indexing.
	StoreBackend   string `envconfig:"STORE_BACKEND" default:"postgres"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	MigrationPath  string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	DataDir     string `envconfig:"DATA_DIR" default:".cache"`
	SourcesPath string `envconfig:"SOURCES_PATH" default:"configs/sources.yaml"`
	UserAgent   string `envconfig:"USER_AGENT" default:"VisionLLM-Ingestor/1.0 (+https://visionllm.dev)"`

	FetchTimeoutSeconds int  `envconfig:"FETCH_TIMEOUT_SECONDS" default:"20"`
	FetchMaxAttempts    int  `envconfig:"FETCH_MAX_ATTEMPTS" default:"3"`
	IngestConcurrency   int  `envconfig:"INGEST_CONCURRENCY" default:"8"`
	SitemapMaxDepth     int  `envconfig:"SITEMAP_MAX_DEPTH" default:"3"`
	RobotsFailClosed    bool `envconfig:"ROBOTS_FAIL_CLOSED" default:"false"`

	EmbedDim     int    `envconfig:"EMBED_DIM" default:"1024"`
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`

	ConfidenceThreshold float64 `envconfig:"CONFIDENCE_THRESHOLD" default:"0.52"`
	QueryLogPath        string  `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may come from the shell; a missing .env is not an error.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "postgres", "weaviate", "none":
	default:
		return fmt.Errorf("%w: STORE_BACKEND must be postgres, weaviate or none, got %q", ErrMissingRequired, c.StoreBackend)
	}
	if c.StoreBackend == "postgres" {
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	}
	if c.StoreBackend == "weaviate" && c.WeaviateHost == "" {
		return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("%w: EMBED_DIM must be positive", ErrMissingRequired)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: CONFIDENCE_THRESHOLD must be in [0,1]", ErrMissingRequired)
	}
	return nil
}
