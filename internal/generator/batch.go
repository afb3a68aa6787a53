package generator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"veogen/internal/domain"
)

// RequestOverride replaces per-prompt fields of a batch job.
type RequestOverride struct {
	Model      string
	OutputPath string
	ImagePath  string
}

// BatchOptions configures one Batch.Run call.
type BatchOptions struct {
	// Concurrency is the maximum number of jobs in flight. It must be positive.
	Concurrency int
	// OutputDir prefixes every job's storage key.
	OutputDir string
	// Model applies to every job without an override.
	Model     string
	Overrides map[int]RequestOverride
}

// Batch runs many jobs through one Orchestrator.
type Batch struct {
	orch *Orchestrator
}

// NewBatch returns a Batch backed by orch.
func NewBatch(orch *Orchestrator) *Batch {
	return &Batch{orch: orch}
}

// Run executes one job per prompt with at most opts.Concurrency in flight.
// results[i] always belongs to prompts[i]. Job failures never abort the
// batch; the only error is a KindConfig error raised before any job starts.
func (b *Batch) Run(ctx context.Context, prompts []string, opts BatchOptions) (domain.BatchResult, error) {
	if opts.Concurrency <= 0 {
		return domain.BatchResult{}, domain.ConfigError("concurrency", "concurrency must be positive, got %d", opts.Concurrency)
	}

	clk := b.orch.clock
	result := domain.BatchResult{
		ID:      uuid.NewString(),
		Total:   len(prompts),
		Results: make([]domain.VideoResponse, len(prompts)),
	}
	log := b.orch.logger.With().Str("batch_id", result.ID).Logger()
	log.Info().
		Int("total", len(prompts)).
		Int("concurrency", opts.Concurrency).
		Msg("generator: batch started")

	start := clk.Now()
	last := start
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, prompt := range prompts {
		req := domain.VideoRequest{Prompt: prompt, Model: opts.Model}
		if o, ok := opts.Overrides[i]; ok {
			if o.Model != "" {
				req.Model = o.Model
			}
			req.OutputPath = o.OutputPath
			req.ImagePath = o.ImagePath
		}
		b.orch.emit(Event{JobIndex: i, Prompt: prompt, Phase: PhaseQueued})

		g.Go(func() error {
			resp := b.orch.run(ctx, job{index: i, batchID: result.ID, keyPrefix: opts.OutputDir, req: req})

			mu.Lock()
			defer mu.Unlock()
			result.Results[i] = resp
			if resp.IsSuccess() {
				result.Successful++
			} else {
				result.Failed++
			}
			if now := clk.Now(); now.After(last) {
				last = now
			}
			return nil
		})
	}
	_ = g.Wait()

	result.TotalTime = last.Sub(start).Seconds()
	log.Info().
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Float64("total_time", result.TotalTime).
		Msg("generator: " + result.Summary())
	return result, nil
}
