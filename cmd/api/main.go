package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"veogen/internal/generator"
	"veogen/internal/http/handlers"
	httpapi "veogen/internal/http/httpapi"
	"veogen/internal/infra"
	"veogen/internal/infra/credentials"
	"veogen/internal/ledger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configFlag := flag.String("config", "", "YAML config file")
	flag.Parse()

	if err := run(*configFlag); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Config & logger
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional database: credential fallback + generation ledger
	var (
		history  handlers.History
		recorder generator.Recorder
		checks   []handlers.HealthCheck
	)
	pool, err := infra.NewDBPool(ctx, cfg)
	switch {
	case errors.Is(err, infra.ErrNoDatabase):
		logger.Info().Msg("DATABASE_URL not set, generation history disabled")
	case err != nil:
		return fmt.Errorf("connect database: %w", err)
	default:
		runner := infra.NewSQLRunner(pool, logger)
		defer runner.Close()
		creds := credentials.NewStore(runner)
		if err := creds.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("prepare credential store: %w", err)
		}
		if err := credentials.ResolveAPIKey(ctx, cfg, creds); err != nil {
			return fmt.Errorf("resolve api key: %w", err)
		}
		l := ledger.New(runner)
		if err := l.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("prepare ledger: %w", err)
		}
		history, recorder = l, l
		checks = append(checks, handlers.HealthCheck{Name: "database", Check: pool.Ping})
	}
	if !cfg.HasAPIKey() {
		logger.Warn().Msg("no API key configured, generation requests will be rejected upstream")
	}

	gen, err := generator.New(ctx, generator.Options{
		Config:   cfg,
		Recorder: recorder,
		Logger:   &logger,
	})
	if err != nil {
		return fmt.Errorf("build generator: %w", err)
	}
	defer gen.Close()
	checks = append(checks, handlers.HealthCheck{Name: "store", Check: gen.Store().Ping})

	app := handlers.NewApp(gen, history, cfg.ConcurrencyLimit, &logger)
	app.HealthChecks = checks
	router := httpapi.NewRouter(app, logger, cfg.CORSOrigins)
	// Requests inherit ctx: a signal cancels running jobs, which then abort
	// their partial artifacts and are recorded as cancelled.
	server := infra.NewHTTPServer(ctx, cfg, router)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		serveErr <- server.Start()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
	return nil
}
