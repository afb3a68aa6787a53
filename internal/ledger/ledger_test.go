package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"veogen/internal/domain"
)

type stubExecutor struct {
	execQuery string
	execArgs  []any
	execErr   error

	queryArgs []any
	rows      [][]any
	queryErr  error
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execQuery = query
	s.execArgs = args
	return pgconn.CommandTag{}, s.execErr
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return nil
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.queryArgs = args
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return &stubRows{rows: s.rows, idx: -1}, nil
}

// stubRows serves preset values; Scan copies them by position.
type stubRows struct {
	pgx.Rows
	rows   [][]any
	idx    int
	closed bool
}

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *stubRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *int:
			*p = row[i].(int)
		case *bool:
			*p = row[i].(bool)
		case *float64:
			*p = row[i].(float64)
		case *time.Time:
			*p = row[i].(time.Time)
		default:
			return errors.New("unsupported dest")
		}
	}
	return nil
}

func (r *stubRows) Err() error { return nil }
func (r *stubRows) Close()     { r.closed = true }

func TestRecordInsertsResponse(t *testing.T) {
	exec := &stubExecutor{}
	batchID := uuid.NewString()
	rec := domain.GenerationRecord{
		BatchID:  batchID,
		JobIndex: 2,
		Model:    "veo-3.0-generate-preview",
		Response: domain.VideoResponse{
			Success:          true,
			Prompt:           "a fox",
			VideoPath:        "/tmp/fox.mp4",
			OperationName:    "operations/1",
			FileSizeMB:       1.5,
			SubmitAttempts:   1,
			DownloadAttempts: 2,
		},
	}
	if err := New(exec).Record(context.Background(), rec); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !strings.Contains(exec.execQuery, "insert into video_generations") {
		t.Fatalf("unexpected query: %s", exec.execQuery)
	}
	if len(exec.execArgs) != 15 {
		t.Fatalf("args = %d, want 15", len(exec.execArgs))
	}
	if got, ok := exec.execArgs[1].(uuid.UUID); !ok || got.String() != batchID {
		t.Fatalf("batch id arg = %v", exec.execArgs[1])
	}
	if exec.execArgs[2] != 2 || exec.execArgs[3] != "a fox" || exec.execArgs[5] != true {
		t.Fatalf("args = %v", exec.execArgs)
	}
	if exec.execArgs[12] != 2 {
		t.Fatalf("download attempts arg = %v", exec.execArgs[12])
	}
	if string(exec.execArgs[14].([]byte)) != "{}" {
		t.Fatalf("details arg = %s", exec.execArgs[14])
	}
}

func TestRecordSingleJobFailure(t *testing.T) {
	exec := &stubExecutor{}
	resp := domain.FailedResponse(domain.TimeoutError(600*time.Second, 600*time.Second))
	resp.Prompt = "slow"
	err := New(exec).Record(context.Background(), domain.GenerationRecord{JobIndex: -1, Model: "m", Response: resp})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if exec.execArgs[1] != nil {
		t.Fatalf("batch id arg = %v, want nil for single jobs", exec.execArgs[1])
	}
	var details map[string]any
	if err := json.Unmarshal(exec.execArgs[14].([]byte), &details); err != nil {
		t.Fatalf("details not json: %v", err)
	}
	if details["kind"] != "timeout" {
		t.Fatalf("details = %v", details)
	}
	if !strings.HasPrefix(exec.execArgs[13].(string), "timeout:") {
		t.Fatalf("error arg = %v", exec.execArgs[13])
	}
}

func TestRecordWrapsExecError(t *testing.T) {
	exec := &stubExecutor{execErr: errors.New("connection refused")}
	err := New(exec).Record(context.Background(), domain.GenerationRecord{Response: domain.VideoResponse{Prompt: "p"}})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("Record() err = %v", err)
	}
}

func TestRecentScansRows(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	exec := &stubExecutor{rows: [][]any{
		{"id-1", "", -1, "sunset", "veo", true, "/v/a.mp4", "files/a", "operations/a", 2.0, 91.5, 1, 1, "", created},
		{"id-2", "b-1", 0, "storm", "veo", false, "", "", "", 0.0, 12.0, 3, 0, "api: rejected", created},
	}}
	entries, err := New(exec).Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if exec.queryArgs[0] != DefaultRecentLimit {
		t.Fatalf("limit arg = %v, want default", exec.queryArgs[0])
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Prompt != "sunset" || entries[0].GenerationTime != 91.5 || !entries[0].CreatedAt.Equal(created) {
		t.Fatalf("entry[0] = %#v", entries[0])
	}
	if entries[1].Success || entries[1].Error != "api: rejected" || entries[1].SubmitAttempts != 3 {
		t.Fatalf("entry[1] = %#v", entries[1])
	}
}

func TestRecentClampsLimit(t *testing.T) {
	exec := &stubExecutor{}
	if _, err := New(exec).Recent(context.Background(), 10_000); err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if exec.queryArgs[0] != MaxRecentLimit {
		t.Fatalf("limit arg = %v, want %d", exec.queryArgs[0], MaxRecentLimit)
	}
}
