// Package ledger keeps a history of finished generation jobs in Postgres.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"veogen/internal/domain"
	"veogen/internal/infra"
	"veogen/internal/sqlinline"
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 200
)

// Entry is one stored job outcome.
type Entry struct {
	ID               string    `json:"id"`
	BatchID          string    `json:"batch_id,omitempty"`
	JobIndex         int       `json:"job_index"`
	Prompt           string    `json:"prompt"`
	Model            string    `json:"model"`
	Success          bool      `json:"success"`
	VideoPath        string    `json:"video_path,omitempty"`
	VideoURI         string    `json:"video_uri,omitempty"`
	OperationName    string    `json:"operation_name,omitempty"`
	FileSizeMB       float64   `json:"file_size_mb"`
	GenerationTime   float64   `json:"generation_time"`
	SubmitAttempts   int       `json:"submit_attempts"`
	DownloadAttempts int       `json:"download_attempts"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type Ledger struct {
	sql infra.SQLExecutor
}

func New(sql infra.SQLExecutor) *Ledger {
	return &Ledger{sql: sql}
}

// EnsureSchema creates the generations table when missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	_, err := l.sql.Exec(ctx, sqlinline.QCreateGenerations)
	return err
}

// Record inserts one finished job. A malformed batch id is stored as null.
func (l *Ledger) Record(ctx context.Context, rec domain.GenerationRecord) error {
	resp := rec.Response

	var batchID any
	if id, err := uuid.Parse(rec.BatchID); err == nil {
		batchID = id
	}
	details := resp.ErrorDetails
	if details == nil {
		details = map[string]any{}
	}
	rawDetails, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("ledger: encode error details: %w", err)
	}

	_, err = l.sql.Exec(ctx, sqlinline.QInsertGeneration,
		uuid.New(),
		batchID,
		rec.JobIndex,
		resp.Prompt,
		rec.Model,
		resp.Success,
		resp.VideoPath,
		resp.VideoURI,
		resp.OperationName,
		resp.FileSizeMB,
		resp.GenerationTime,
		resp.SubmitAttempts,
		resp.DownloadAttempts,
		resp.Error,
		rawDetails,
	)
	if err != nil {
		return fmt.Errorf("ledger: insert generation: %w", err)
	}
	return nil
}

// Recent returns the newest entries first. limit is clamped to
// [1, MaxRecentLimit]; zero or less selects DefaultRecentLimit.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)

	rows, err := l.sql.Query(ctx, sqlinline.QListRecentGenerations, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list generations: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID,
			&e.BatchID,
			&e.JobIndex,
			&e.Prompt,
			&e.Model,
			&e.Success,
			&e.VideoPath,
			&e.VideoURI,
			&e.OperationName,
			&e.FileSizeMB,
			&e.GenerationTime,
			&e.SubmitAttempts,
			&e.DownloadAttempts,
			&e.Error,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: scan generation: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list generations: %w", err)
	}
	return entries, nil
}
