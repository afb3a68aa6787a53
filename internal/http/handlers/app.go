package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"veogen/internal/domain"
	"veogen/internal/generator"
	"veogen/internal/infra"
	"veogen/internal/ledger"
)

// VideoGenerator is the slice of generator.Generator the handlers use.
type VideoGenerator interface {
	Generate(ctx context.Context, req domain.VideoRequest) domain.VideoResponse
	Batch(ctx context.Context, prompts []string, opts generator.BatchOptions) (domain.BatchResult, error)
}

// History lists ledger entries, newest first.
type History interface {
	Recent(ctx context.Context, limit int) ([]ledger.Entry, error)
}

type App struct {
	Gen     VideoGenerator
	History History
	// Concurrency is used when a batch request does not name one.
	Concurrency int
	// HealthChecks back the health endpoint.
	HealthChecks []HealthCheck
	Logger       *infra.Logger
}

func NewApp(gen VideoGenerator, history History, concurrency int, logger *infra.Logger) *App {
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &App{Gen: gen, History: history, Concurrency: concurrency, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: message})
}

// domainError maps a pipeline error that prevented any job from starting.
func (a *App) domainError(w http.ResponseWriter, err error) {
	var e *domain.Error
	if !errors.As(err, &e) {
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	code := http.StatusBadGateway
	switch e.Kind {
	case domain.KindValidation, domain.KindConfig:
		code = http.StatusUnprocessableEntity
	case domain.KindCancelled:
		code = http.StatusServiceUnavailable
	}
	a.json(w, code, errorResponse{Error: e.Kind.String(), Message: e.Message, Details: e.Details()})
}
