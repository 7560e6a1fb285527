// Package bootstrap assembles the pipeline components from configuration so
// the API server and the CLI share one wiring.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"portraitstudio/internal/batch"
	"portraitstudio/internal/fulfillment"
	"portraitstudio/internal/infra"
	"portraitstudio/internal/media"
	"portraitstudio/internal/payments"
	"portraitstudio/internal/portrait"
	"portraitstudio/internal/providers/gemini"
	"portraitstudio/internal/registry"
	"portraitstudio/internal/storage"
)

// Services is the fully wired pipeline.
type Services struct {
	Catalog      *portrait.Catalog
	Normalizer   *media.Normalizer
	Synthesizer  *portrait.Synthesizer
	Store        *storage.ArtifactStore
	Metadata     *registry.Metadata
	Checkouts    *registry.Checkouts
	Orchestrator *batch.Orchestrator
	Fulfillment  *fulfillment.Controller
	// StaticDir is the filesystem root served under /static, empty for s3.
	StaticDir string

	closers []func()
}

// Close releases registry connections.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Build wires every component described by cfg.
func Build(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Services, error) {
	s := &Services{Catalog: portrait.DefaultCatalog()}

	backend, err := s.objectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.Store = storage.NewArtifactStore(backend, &http.Client{Timeout: 30 * time.Second}, &logger)

	kv, err := s.registryKV(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Metadata = registry.NewMetadata(kv)
	s.Checkouts = registry.NewCheckouts(kv)

	var generator portrait.Generator
	if cfg.GeminiAPIKey != "" {
		client, err := gemini.NewClient(ctx, gemini.Options{
			APIKey:     cfg.GeminiAPIKey,
			BaseURL:    cfg.GeminiBaseURL,
			Model:      cfg.GeminiModel,
			HTTPClient: &http.Client{Timeout: cfg.GeminiTimeout},
			Logger:     &logger,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		generator = client
	} else {
		logger.Warn().Msg("bootstrap: GEMINI_API_KEY not set, every style uses the local fallback")
	}

	s.Normalizer = media.NewNormalizer(media.Options{MaxDimension: cfg.MaxDimension, Logger: &logger})
	s.Synthesizer = portrait.NewSynthesizer(portrait.Options{
		Catalog:    s.Catalog,
		Generator:  generator,
		OutputSize: cfg.OutputSize,
		Logger:     &logger,
	})
	s.Orchestrator = batch.NewOrchestrator(batch.Deps{
		Normalizer:  s.Normalizer,
		Synthesizer: s.Synthesizer,
		Uploader:    s.Store,
		Recorder:    s.Metadata,
		Pacer:       batch.Pacer{Delay: cfg.GenerationDelay},
		Logger:      &logger,
	})

	opts := fulfillment.Options{
		Mode:      fulfillment.Mode(cfg.CheckoutMode),
		Artifacts: s.Metadata,
		Checkouts: s.Checkouts,
		Store:     s.Store,
		Pricing: fulfillment.Pricing{
			SingleCents: cfg.PriceSingleCents,
			BundleCents: cfg.PriceBundleCents,
			Currency:    cfg.PriceCurrency,
		},
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
		Logger:     &logger,
	}
	if opts.Mode == fulfillment.ModeStripe {
		gw, err := payments.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		if err != nil {
			s.Close()
			return nil, err
		}
		opts.Gateway = gw
	}
	s.Fulfillment, err = fulfillment.NewController(opts)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) objectStore(ctx context.Context, cfg *infra.Config) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			PublicURL: cfg.S3PublicURL,
		})
	case "fs", "":
		fs, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
		if err != nil {
			return nil, err
		}
		s.StaticDir = fs.BasePath()
		return fs, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown storage backend %q", cfg.StorageBackend)
	}
}

func (s *Services) registryKV(ctx context.Context, cfg *infra.Config, logger infra.Logger) (registry.KV, error) {
	switch cfg.RegistryBackend {
	case "redis":
		client, err := registry.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		return registry.NewRedisKV(client, cfg.RedisPrefix), nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("bootstrap: DATABASE_URL is required for the postgres registry")
		}
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		kv := registry.NewPostgresKV(infra.NewSQLRunner(pool, logger))
		if err := kv.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return kv, nil
	case "memory", "":
		return registry.NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown registry backend %q", cfg.RegistryBackend)
	}
}
