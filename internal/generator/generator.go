package generator

import (
	"context"
	"errors"
	"io"
	"net/http"

	"veogen/internal/clock"
	"veogen/internal/domain"
	"veogen/internal/infra"
	"veogen/internal/poll"
	"veogen/internal/providers/veo"
	"veogen/internal/retry"
	"veogen/internal/storage"
)

// Options wires a Generator from configuration. Store defaults to the store
// named by Config.StorageURL or Config.OutputDir.
type Options struct {
	Config     *infra.Config
	Store      storage.Store
	HTTPClient *http.Client
	Client     JobClient
	Clock      clock.Clock
	Observer   Observer
	Recorder   Recorder
	Logger     *infra.Logger
}

// Generator is the entry point for single and batch generation. It owns the
// shared HTTP transport; callers must Close it when done.
type Generator struct {
	cfg        *infra.Config
	httpClient *http.Client
	store      storage.Store
	orch       *Orchestrator
	batch      *Batch
}

// New builds a Generator. The configuration is validated first.
func New(ctx context.Context, opts Options) (*Generator, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("generator: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = infra.NewHTTPClient(cfg.TransportOptions())
	}

	client := opts.Client
	if client == nil {
		vc, err := veo.NewClient(veo.Options{
			APIKey:          cfg.APIKey,
			BaseURL:         cfg.BaseURL,
			Model:           cfg.Model,
			RequestTimeout:  cfg.RequestTimeout,
			DownloadTimeout: cfg.DownloadTimeout,
			HTTPClient:      httpClient,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		client = vc
	}

	store := opts.Store
	if store == nil {
		s, err := storage.Open(ctx, cfg.StorageURL, cfg.OutputDir)
		if err != nil {
			return nil, domain.ConfigError("storage_url", "%v", err)
		}
		store = s
	}

	orch, err := NewOrchestrator(OrchestratorOptions{
		Client: client,
		Store:  store,
		Retry: retry.Policy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		Poll: poll.Loop{
			InitialInterval: cfg.PollInitialInterval,
			MaxInterval:     cfg.PollMaxInterval,
			Multiplier:      cfg.PollMultiplier,
			MaxWait:         cfg.MaxWaitTime,
			MaxPollErrors:   cfg.MaxPollErrors,
		},
		Clock:    opts.Clock,
		Observer: opts.Observer,
		Recorder: opts.Recorder,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &Generator{
		cfg:        cfg,
		httpClient: httpClient,
		store:      store,
		orch:       orch,
		batch:      NewBatch(orch),
	}, nil
}

// Generate runs a single job. The request model defaults to the configured one.
func (g *Generator) Generate(ctx context.Context, req domain.VideoRequest) domain.VideoResponse {
	if req.Model == "" {
		req.Model = g.cfg.Model
	}
	return g.orch.Generate(ctx, req)
}

// Batch runs prompts concurrently. See Batch.Run.
func (g *Generator) Batch(ctx context.Context, prompts []string, opts BatchOptions) (domain.BatchResult, error) {
	if opts.Model == "" {
		opts.Model = g.cfg.Model
	}
	if opts.Concurrency > infra.MaxConcurrency {
		return domain.BatchResult{}, domain.ConfigError("concurrency", "concurrency must be at most %d, got %d", infra.MaxConcurrency, opts.Concurrency)
	}
	return g.batch.Run(ctx, prompts, opts)
}

// Store returns the artifact store in use.
func (g *Generator) Store() storage.Store {
	return g.store
}

// Close releases pooled connections and the artifact store.
func (g *Generator) Close() error {
	g.httpClient.CloseIdleConnections()
	if c, ok := g.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
