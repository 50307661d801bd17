// Package bootstrap builds the shared dependencies of the fitroom binaries
// from a loaded config.
package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/dunamismax/fitroom/internal/config"
	"github.com/dunamismax/fitroom/internal/pipeline"
	"github.com/dunamismax/fitroom/internal/storage"
	"github.com/dunamismax/fitroom/internal/store"
	"github.com/dunamismax/fitroom/internal/stylist"
	"github.com/dunamismax/fitroom/internal/tryon"
)

type Objects interface {
	pipeline.ObjectStore
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// OpenObjects returns the configured object storage. MinIO buckets are
// created on first use.
func OpenObjects(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) (Objects, error) {
	switch cfg.Backend {
	case config.StorageBackendMinio:
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			UseSSL:   cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Printf("object storage backend=minio endpoint=%s bucket=%s", cfg.Endpoint, client.Bucket())
		return client, nil
	case config.StorageBackendFile:
		fs, err := storage.NewFileStore(cfg.FileRoot)
		if err != nil {
			return nil, err
		}
		logger.Printf("object storage backend=file root=%s", fs.Root)
		return fs, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

type Stores struct {
	Jobs  store.JobStore
	Usage store.UsageStore
	close func() error
}

func (s Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStores returns the job and usage stores for the configured driver.
// The memory driver is only shared within one process.
func OpenStores(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (Stores, error) {
	switch cfg.Driver {
	case config.DatabaseDriverPostgres:
		pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
		if err != nil {
			return Stores{}, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return Stores{}, err
		}
		logger.Printf("job store driver=postgres")
		return Stores{Jobs: pg, Usage: pg, close: pg.Close}, nil
	case config.DatabaseDriverMemory:
		mem := store.NewMemoryJobStore()
		logger.Printf("job store driver=memory")
		return Stores{Jobs: mem, Usage: mem}, nil
	default:
		return Stores{}, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// NewSynthesizer wires the Gemini stylist. Without an API key every try-on
// takes the fallback composite.
func NewSynthesizer(cfg config.GeminiConfig, logger *log.Logger) (*tryon.Synthesizer, *stylist.ClientPool) {
	pool := stylist.NewClientPool(cfg.APIKey)
	if cfg.APIKey == "" {
		logger.Printf("gemini api key not set; try-ons will use the fallback composite")
	}

	model := stylist.NewGemini(pool, cfg.Model, stylist.GenerationConfig{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	return tryon.New(stylist.New(model), logger), pool
}
