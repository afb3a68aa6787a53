package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"veogen/internal/domain"
	"veogen/internal/generator"
	"veogen/internal/infra"
	"veogen/internal/infra/credentials"
	"veogen/internal/ledger"
	"veogen/internal/progress"
	"veogen/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFlag string
		outFlag    string
		modelFlag  string
		concFlag   int
		dirFlag    string
		fileFlag   string
		imageFlag  string
		quietFlag  bool
	)
	flag.StringVar(&configFlag, "config", "", "YAML config file")
	flag.StringVar(&outFlag, "o", "", "output file for a single prompt (.mp4)")
	flag.StringVar(&modelFlag, "model", "", "generation model (defaults to config)")
	flag.IntVar(&concFlag, "c", 0, "maximum concurrent jobs for a batch (defaults to config)")
	flag.StringVar(&dirFlag, "dir", "", "output directory (overrides VEO_OUTPUT_DIR)")
	flag.StringVar(&fileFlag, "file", "", "read prompts from a text file (one per line) or a JSON file")
	flag.StringVar(&imageFlag, "image", "", "seed image for a single prompt (image-to-video)")
	flag.BoolVar(&quietFlag, "q", false, "hide progress output")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: veogen [flags] prompt...\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var entries []promptEntry
	for _, arg := range flag.Args() {
		entries = append(entries, promptEntry{Prompt: arg})
	}
	if fileFlag != "" {
		fromFile, err := readPrompts(fileFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read prompts: %v\n", err)
			return 2
		}
		entries = append(entries, fromFile...)
	}
	if len(entries) == 0 {
		flag.Usage()
		return 2
	}
	if outFlag != "" && len(entries) > 1 {
		fmt.Fprintln(os.Stderr, "-o applies to a single prompt only")
		return 2
	}
	if imageFlag != "" {
		if len(entries) > 1 {
			fmt.Fprintln(os.Stderr, "-image applies to a single prompt only; use \"image\" entries in a JSON prompt file")
			return 2
		}
		entries[0].Image = imageFlag
	}

	cfg, err := infra.LoadConfig(configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 2
	}
	if dirFlag != "" {
		cfg.OutputDir = dirFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if concFlag != 0 {
		cfg.ConcurrencyLimit = concFlag
	}

	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "veogen").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("database unavailable")
		return 1
	}
	defer db.close()
	if !cfg.HasAPIKey() {
		fmt.Fprintln(os.Stderr, "no API key: set THUCCHIEN_API_KEY or LITELLM_API_KEY, or store one with veokey")
		return 2
	}

	var observer generator.Observer = generator.NopObserver{}
	if !quietFlag {
		total := len(entries)
		if total == 1 {
			total = 0
		}
		observer = progress.NewReporter(os.Stderr, total)
	}

	opts := generator.Options{
		Config:   cfg,
		Observer: observer,
		Logger:   &logger,
	}
	if db.ledger != nil {
		opts.Recorder = db.ledger
	}

	req := domain.VideoRequest{Prompt: entries[0].Prompt, Model: cfg.Model, ImagePath: entries[0].Image}
	if outFlag != "" && cfg.StorageURL == "" {
		// A single output file gets a store rooted at its directory.
		store, err := storage.NewFileStore(filepath.Dir(outFlag))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid output path: %v\n", err)
			return 2
		}
		opts.Store = store
		req.OutputPath = filepath.Base(outFlag)
	} else {
		req.OutputPath = outFlag
	}

	gen, err := generator.New(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}
	defer gen.Close()

	if len(entries) == 1 {
		resp := gen.Generate(ctx, req)
		progress.WriteResult(os.Stdout, resp)
		if !resp.IsSuccess() {
			return 1
		}
		return 0
	}

	prompts, overrides := batchInputs(entries)
	res, err := gen.Batch(ctx, prompts, generator.BatchOptions{
		Concurrency: cfg.ConcurrencyLimit,
		Overrides:   overrides,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "batch rejected: %v\n", err)
		return 2
	}
	progress.WriteSummary(os.Stdout, res)
	if res.HasFailures() {
		return 1
	}
	return 0
}

type database struct {
	runner *infra.SQLRunner
	ledger *ledger.Ledger
}

// openDatabase connects when DATABASE_URL is set, fills a missing API key from
// the credential store and prepares the ledger. Without a URL it returns an
// empty database.
func openDatabase(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*database, error) {
	pool, err := infra.NewDBPool(ctx, cfg)
	if errors.Is(err, infra.ErrNoDatabase) {
		return &database{}, nil
	}
	if err != nil {
		return nil, err
	}
	runner := infra.NewSQLRunner(pool, logger)

	creds := credentials.NewStore(runner)
	if err := creds.EnsureSchema(ctx); err != nil {
		runner.Close()
		return nil, fmt.Errorf("credential schema: %w", err)
	}
	if err := credentials.ResolveAPIKey(ctx, cfg, creds); err != nil {
		runner.Close()
		return nil, fmt.Errorf("resolve api key: %w", err)
	}

	l := ledger.New(runner)
	if err := l.EnsureSchema(ctx); err != nil {
		runner.Close()
		return nil, fmt.Errorf("ledger schema: %w", err)
	}
	return &database{runner: runner, ledger: l}, nil
}

func (d *database) close() {
	if d.runner != nil {
		d.runner.Close()
	}
}
