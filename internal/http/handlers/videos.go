package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"veogen/internal/domain"
	"veogen/internal/generator"
	"veogen/internal/middleware"
)

const maxBatchPrompts = 100

type videoGenerateRequest struct {
	Prompt     string `json:"prompt"`
	Model      string `json:"model"`
	OutputPath string `json:"output_path"`
}

type batchGenerateRequest struct {
	Prompts     []string `json:"prompts"`
	Model       string   `json:"model"`
	Concurrency int      `json:"concurrency"`
}

// VideosGenerate runs one job synchronously and returns its VideoResponse.
func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	var req videoGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	resp := a.Gen.Generate(r.Context(), domain.VideoRequest{
		Prompt:     req.Prompt,
		Model:      req.Model,
		OutputPath: req.OutputPath,
	})
	a.Logger.Info().
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Bool("success", resp.Success).
		Str("operation", resp.OperationName).
		Msg("http: video generated")

	a.json(w, statusFor(resp), resp)
}

// VideosBatch runs a batch and returns the BatchResult once every job ended.
func (a *App) VideosBatch(w http.ResponseWriter, r *http.Request) {
	var req batchGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if len(req.Prompts) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "prompts required")
		return
	}
	if len(req.Prompts) > maxBatchPrompts {
		a.error(w, http.StatusBadRequest, "bad_request", "too many prompts")
		return
	}
	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = a.Concurrency
	}

	res, err := a.Gen.Batch(r.Context(), req.Prompts, generator.BatchOptions{
		Concurrency: concurrency,
		Model:       strings.TrimSpace(req.Model),
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.Logger.Info().
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("batch_id", res.ID).
		Int("successful", res.Successful).
		Int("failed", res.Failed).
		Msg("http: batch finished")

	a.json(w, http.StatusOK, res)
}

func statusFor(resp domain.VideoResponse) int {
	if resp.Success {
		return http.StatusOK
	}
	switch resp.ErrorDetails["kind"] {
	case domain.KindValidation.String():
		return http.StatusUnprocessableEntity
	case domain.KindCancelled.String():
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
