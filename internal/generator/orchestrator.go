// Package generator runs video generation jobs: one job's submit, poll and
// download lifecycle, and batches of jobs under a concurrency limit.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/rs/zerolog"

	"veogen/internal/clock"
	"veogen/internal/domain"
	"veogen/internal/download"
	"veogen/internal/infra"
	"veogen/internal/poll"
	"veogen/internal/retry"
	"veogen/internal/storage"
)

const recordTimeout = 5 * time.Second

// JobClient is the transport the orchestrator drives. Each call is a single
// round trip; retries are applied here.
type JobClient interface {
	UploadImage(ctx context.Context, path string) (string, error)
	Submit(ctx context.Context, prompt, model, imageURI string) (domain.OperationHandle, error)
	Poll(ctx context.Context, handle domain.OperationHandle) (domain.JobStatus, error)
	Download(ctx context.Context, uri string, sink io.Writer, progress download.ProgressFunc) (int64, error)
}

// Recorder stores finished jobs. Failures are logged and otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, rec domain.GenerationRecord) error
}

// OrchestratorOptions wires an Orchestrator. Client and Store are required.
type OrchestratorOptions struct {
	Client   JobClient
	Store    storage.Store
	Retry    retry.Policy
	Poll     poll.Loop
	Clock    clock.Clock
	Observer Observer
	Recorder Recorder
	Logger   *infra.Logger
}

// Orchestrator runs the lifecycle of a single job.
type Orchestrator struct {
	client   JobClient
	store    storage.Store
	retry    retry.Policy
	poll     poll.Loop
	clock    clock.Clock
	observer Observer
	recorder Recorder
	logger   *infra.Logger
}

// NewOrchestrator validates opts and fills defaults.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, errors.New("generator: job client is required")
	}
	if opts.Store == nil {
		return nil, errors.New("generator: artifact store is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	policy.Clock = clk
	loop := opts.Poll
	loop.Clock = clk
	loop.Poller = opts.Client
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	loop.Logger = logger

	return &Orchestrator{
		client:   opts.Client,
		store:    opts.Store,
		retry:    policy,
		poll:     loop,
		clock:    clk,
		observer: observer,
		recorder: opts.Recorder,
		logger:   logger,
	}, nil
}

// job is one unit of work inside or outside a batch.
type job struct {
	index     int
	batchID   string
	keyPrefix string
	req       domain.VideoRequest
}

// outcome collects what the phases learned, successful or not.
type outcome struct {
	prompt           string
	model            string
	operationName    string
	videoURI         string
	location         string
	size             int64
	submitAttempts   int
	downloadAttempts int
	phases           time.Duration
}

// Generate runs one job to completion. It never returns an error: every
// failure, including a panic, is captured in the response.
func (o *Orchestrator) Generate(ctx context.Context, req domain.VideoRequest) domain.VideoResponse {
	return o.run(ctx, job{index: storage.NoIndex, req: req})
}

func (o *Orchestrator) run(ctx context.Context, j job) domain.VideoResponse {
	var out outcome
	err := o.safeExecute(ctx, j, &out)

	var resp domain.VideoResponse
	if err == nil {
		resp = domain.Succeeded(out.location, out.size)
	} else {
		err = o.classify(ctx, j, err)
		resp = domain.FailedResponse(err)
	}
	resp.Prompt = out.prompt
	if resp.Prompt == "" {
		resp.Prompt = j.req.Prompt
	}
	resp.OperationName = out.operationName
	resp.VideoURI = out.videoURI
	resp.SubmitAttempts = out.submitAttempts
	resp.DownloadAttempts = out.downloadAttempts
	resp.GenerationTime = out.phases.Seconds()

	if resp.Success {
		o.emit(Event{JobIndex: j.index, Prompt: resp.Prompt, Phase: PhaseDone, Fraction: 1, Bytes: out.size, Total: out.size, Elapsed: out.phases})
		o.logger.Info().
			Str("batch_id", j.batchID).
			Int("job_index", j.index).
			Str("operation", out.operationName).
			Str("path", out.location).
			Float64("file_size_mb", resp.FileSizeMB).
			Float64("generation_time", resp.GenerationTime).
			Msg("generator: video ready")
	} else {
		o.emit(Event{JobIndex: j.index, Prompt: resp.Prompt, Phase: PhaseFailed, Elapsed: out.phases, Message: resp.Error})
	}

	o.record(ctx, j, out.model, resp)
	return resp
}

func (o *Orchestrator) safeExecute(ctx context.Context, j job, out *outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("batch_id", j.batchID).
				Int("job_index", j.index).
				Interface("panic", r).
				Msg("generator: job panicked")
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return o.execute(ctx, j, out)
}

func (o *Orchestrator) execute(ctx context.Context, j job, out *outcome) error {
	req, err := j.req.Validate()
	if err != nil {
		return err
	}
	out.prompt = req.Prompt
	out.model = req.Model
	if err := ctx.Err(); err != nil {
		return domain.CancelledError("generate", err)
	}

	key := req.OutputPath
	if key == "" {
		key = storage.Filename(req.Prompt, j.index, o.clock.Now())
	}
	if j.keyPrefix != "" {
		key = path.Join(j.keyPrefix, key)
	}

	log := o.logger.With().
		Str("batch_id", j.batchID).
		Int("job_index", j.index).
		Logger()

	// Upload the seed image, if any.
	started := o.clock.Now()
	var imageURI string
	if req.ImagePath != "" {
		o.emit(Event{JobIndex: j.index, Prompt: req.Prompt, Phase: PhaseUploading})
		policy := o.retryPolicy(&log, "upload")
		stats, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
			uri, err := o.client.UploadImage(ctx, req.ImagePath)
			if err != nil {
				return err
			}
			imageURI = uri
			return nil
		}, retry.IsTransient)
		if err != nil {
			out.phases += o.clock.Now().Sub(started)
			return err
		}
		log.Debug().Int("attempts", stats.Attempts).Str("image_uri", imageURI).Msg("generator: image uploaded")
	}

	// Submit.
	o.emit(Event{JobIndex: j.index, Prompt: req.Prompt, Phase: PhaseSubmitting})
	var handle domain.OperationHandle
	policy := o.retryPolicy(&log, "submit")
	stats, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		h, err := o.client.Submit(ctx, req.Prompt, req.Model, imageURI)
		if err != nil {
			return err
		}
		handle = h
		return nil
	}, retry.IsTransient)
	out.submitAttempts = stats.Attempts
	out.phases += o.clock.Now().Sub(started)
	if err != nil {
		return err
	}
	out.operationName = handle.Name
	log = log.With().Str("operation", handle.Name).Logger()
	log.Debug().Int("attempts", stats.Attempts).Msg("generator: submitted")

	// Poll.
	loop := o.poll
	loop.OnPoll = func(elapsed time.Duration, status domain.JobStatus) {
		fraction := min(1, elapsed.Seconds()/effectiveMaxWait(loop).Seconds())
		o.emit(Event{JobIndex: j.index, Prompt: req.Prompt, Phase: PhasePolling, Fraction: fraction, Elapsed: elapsed})
	}
	o.emit(Event{JobIndex: j.index, Prompt: req.Prompt, Phase: PhasePolling})
	result, err := loop.Run(ctx, handle)
	out.phases += result.Elapsed
	if err != nil {
		return err
	}
	if result.State != poll.Completed {
		return result.Err(effectiveMaxWait(loop))
	}
	out.videoURI = result.ArtifactURI
	log.Debug().Int("polls", result.Polls).Dur("elapsed", result.Elapsed).Msg("generator: operation completed")

	// Download.
	o.emit(Event{JobIndex: j.index, Prompt: req.Prompt, Phase: PhaseDownloading})
	started = o.clock.Now()
	policy = o.retryPolicy(&log, "download")
	stats, err = policy.Do(ctx, func(ctx context.Context, attempt int) error {
		location, size, err := o.downloadOnce(ctx, j, req.Prompt, key, result.ArtifactURI)
		if err != nil {
			return err
		}
		out.location, out.size = location, size
		return nil
	}, retry.IsTransient)
	out.downloadAttempts = stats.Attempts
	out.phases += o.clock.Now().Sub(started)
	return err
}

// downloadOnce streams into a fresh artifact. Any failure aborts it, so a
// retry always starts from byte zero.
func (o *Orchestrator) downloadOnce(ctx context.Context, j job, prompt, key, uri string) (string, int64, error) {
	art, err := o.store.Create(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			return "", 0, domain.ValidationError("output_path", "%v", err)
		}
		return "", 0, domain.DownloadError(uri, 0, err)
	}

	n, err := o.client.Download(ctx, uri, art, func(written, total int64) {
		fraction := 0.0
		if total > 0 {
			fraction = float64(written) / float64(total)
		}
		o.emit(Event{JobIndex: j.index, Prompt: prompt, Phase: PhaseDownloading, Fraction: fraction, Bytes: written, Total: total})
	})
	if err != nil {
		_ = art.Abort()
		return "", n, err
	}
	if n == 0 {
		_ = art.Abort()
		return "", 0, domain.DownloadError(uri, 0, errors.New("downloaded file is empty"))
	}
	location, err := art.Commit()
	if err != nil {
		return "", n, domain.DownloadError(uri, n, err)
	}
	return location, n, nil
}

func (o *Orchestrator) retryPolicy(log *infra.Logger, op string) retry.Policy {
	policy := o.retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("generator: retrying")
	}
	return policy
}

// classify normalizes err and logs it. Network-side failures raised while
// the caller's context is done are reported as cancellations; rejections of
// the request itself keep their kind.
func (o *Orchestrator) classify(ctx context.Context, j job, err error) error {
	if ctx.Err() != nil {
		switch domain.KindOf(err) {
		case domain.KindValidation, domain.KindConfig, domain.KindCancelled:
		default:
			err = domain.CancelledError("generate", errors.Join(ctx.Err(), err))
		}
	}

	var level zerolog.Level
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindConfig, domain.KindCancelled:
		level = zerolog.InfoLevel
	case domain.KindAPI, domain.KindOperationNotFound, domain.KindTimeout:
		level = zerolog.WarnLevel
	case domain.KindDownload, domain.KindTransport:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.ErrorLevel
	}
	o.logger.WithLevel(level).
		Err(err).
		Str("batch_id", j.batchID).
		Int("job_index", j.index).
		Str("kind", domain.KindOf(err).String()).
		Msg("generator: job failed")
	return err
}

func (o *Orchestrator) record(ctx context.Context, j job, model string, resp domain.VideoResponse) {
	if o.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if model == "" {
		model = j.req.Model
	}
	rec := domain.GenerationRecord{BatchID: j.batchID, JobIndex: j.index, Model: model, Response: resp}
	if err := o.recorder.Record(rctx, rec); err != nil {
		o.logger.Warn().Err(err).Str("batch_id", j.batchID).Int("job_index", j.index).Msg("generator: ledger write failed")
	}
}

func (o *Orchestrator) emit(e Event) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Str("phase", string(e.Phase)).Msg("generator: observer panicked")
		}
	}()
	o.observer.OnProgress(e)
}

func effectiveMaxWait(l poll.Loop) time.Duration {
	if l.MaxWait > 0 {
		return l.MaxWait
	}
	return poll.DefaultMaxWait
}
