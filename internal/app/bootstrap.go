// Package app wires configuration into the concrete backends used by the
// CLI commands.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/visionllm/ingestor/internal/adapter/gemini"
	pgstore "github.com/visionllm/ingestor/internal/adapter/postgres"
	wstore "github.com/visionllm/ingestor/internal/adapter/weaviate"
	"github.com/visionllm/ingestor/internal/config"
	"github.com/visionllm/ingestor/internal/embedding"
	"github.com/visionllm/ingestor/internal/pipeline"
	"github.com/visionllm/ingestor/internal/retrieval"
	"github.com/visionllm/ingestor/internal/vector"
)

// SearchStore is the full chunk backend: index writes plus both search legs.
type SearchStore interface {
	pipeline.ChunkStore
	retrieval.LexicalSearcher
	retrieval.VectorSearcher
}

// App holds the wired dependencies. Store is nil when STORE_BACKEND is
// "none"; commands that need it must check.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Store     SearchStore
	Embedder  embedding.Embedder
	Retrieval *retrieval.Service
	Reranker  *retrieval.Reranker

	closers []func() error
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	switch cfg.StoreBackend {
	case "postgres":
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Store = pgstore.NewStore(db)
		a.closers = append(a.closers, db.Close)
	case "weaviate":
		wCfg := weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme}
		client, err := weaviate.NewClient(wCfg)
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		adapter := vector.NewSchemaAdapter(client)
		err = retry(ctx, cfg.BootstrapRetryAttempts, retryDelay(cfg), func() error {
			return vector.EnsureSchema(ctx, adapter)
		})
		if err != nil {
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		a.Store = wstore.NewStore(client)
	case "none":
		// Collect-only mode: no chunk backend.
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	if cfg.GeminiAPIKey != "" {
		embedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini embedder error: %w", err)
		}
		a.Embedder = embedder
		a.closers = append(a.closers, embedder.Close)
	} else {
		slog.Info("no gemini api key set, using deterministic embedder", "dim", cfg.EmbedDim)
		a.Embedder = embedding.NewDeterministic(cfg.EmbedDim)
	}

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}

	var lexical retrieval.LexicalSearcher
	var vectorLeg retrieval.VectorSearcher
	if a.Store != nil {
		lexical = a.Store
		vectorLeg = a.Store
	}
	a.Retrieval = retrieval.NewService(lexical, vectorLeg, a.Embedder, queryLogger)
	a.Reranker = retrieval.NewReranker(cfg.ConfidenceThreshold)

	return a, nil
}

func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openPostgres(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	err = retry(ctx, cfg.BootstrapRetryAttempts, retryDelay(cfg), func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := runMigrations(db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied")
	return nil
}

func retryDelay(cfg *config.Config) time.Duration {
	return time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
}

// retry runs op up to attempts times, sleeping delay between failures.
func retry(ctx context.Context, attempts int, delay time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		slog.Warn("bootstrap step failed, retrying", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
