package generator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"veogen/internal/clock"
	"veogen/internal/domain"
	"veogen/internal/download"
	"veogen/internal/poll"
	"veogen/internal/providers/veo"
	"veogen/internal/retry"
	"veogen/internal/storage"
)

// fakeClient scripts each phase per prompt. Unset hooks succeed immediately.
type fakeClient struct {
	mu            sync.Mutex
	submitCalls   map[string]int
	downloadCalls map[string]int
	uploadCalls   map[string]int
	images        map[string]string

	upload   func(path string, call int) (string, error)
	submit   func(prompt string, call int) error
	poll     func(handle domain.OperationHandle) (domain.JobStatus, error)
	download func(uri string, sink io.Writer, call int) (int64, error)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	hold        time.Duration
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		submitCalls:   map[string]int{},
		downloadCalls: map[string]int{},
		uploadCalls:   map[string]int{},
		images:        map[string]string{},
	}
}

func (f *fakeClient) UploadImage(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	f.uploadCalls[path]++
	call := f.uploadCalls[path]
	f.mu.Unlock()
	if f.upload != nil {
		return f.upload(path, call)
	}
	return "files/" + filepath.Base(path), nil
}

func (f *fakeClient) Submit(ctx context.Context, prompt, model, imageURI string) (domain.OperationHandle, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	f.mu.Lock()
	f.submitCalls[prompt]++
	call := f.submitCalls[prompt]
	f.images[prompt] = imageURI
	f.mu.Unlock()
	if f.submit != nil {
		if err := f.submit(prompt, call); err != nil {
			return domain.OperationHandle{}, err
		}
	}
	return domain.OperationHandle{Name: "operations/" + prompt}, nil
}

func (f *fakeClient) Poll(ctx context.Context, handle domain.OperationHandle) (domain.JobStatus, error) {
	if f.poll != nil {
		return f.poll(handle)
	}
	return domain.JobStatus{Done: true, ArtifactURI: "files/" + strings.TrimPrefix(handle.Name, "operations/")}, nil
}

func (f *fakeClient) Download(ctx context.Context, uri string, sink io.Writer, progress download.ProgressFunc) (int64, error) {
	f.mu.Lock()
	f.downloadCalls[uri]++
	call := f.downloadCalls[uri]
	f.mu.Unlock()
	if f.download != nil {
		return f.download(uri, sink, call)
	}
	n, err := io.WriteString(sink, "video:"+uri)
	if progress != nil {
		progress(int64(n), int64(n))
	}
	return int64(n), err
}

func (f *fakeClient) submits(prompt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls[prompt]
}

func newTestOrchestrator(t *testing.T, client JobClient, observer Observer) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	orch, err := NewOrchestrator(OrchestratorOptions{
		Client:   client,
		Store:    store,
		Retry:    retry.DefaultPolicy(),
		Clock:    clock.NewFake(time.Unix(1700000000, 0)),
		Observer: observer,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return orch, dir
}

func TestGenerateSuccess(t *testing.T) {
	client := newFakeClient()
	var phases []Phase
	var mu sync.Mutex
	orch, dir := newTestOrchestrator(t, client, ObserverFunc(func(e Event) {
		mu.Lock()
		phases = append(phases, e.Phase)
		mu.Unlock()
	}))

	resp := orch.Generate(context.Background(), domain.VideoRequest{Prompt: "  a cat playing  ", OutputPath: "cat.mp4"})
	if !resp.Success || !resp.IsSuccess() {
		t.Fatalf("Generate() failed: %s %v", resp.Error, resp.ErrorDetails)
	}
	if resp.Error != "" {
		t.Fatalf("successful response carries error %q", resp.Error)
	}
	if resp.VideoPath != filepath.Join(dir, "cat.mp4") {
		t.Fatalf("video path = %q", resp.VideoPath)
	}
	if resp.Prompt != "a cat playing" {
		t.Fatalf("prompt = %q, want trimmed prompt", resp.Prompt)
	}
	if resp.OperationName != "operations/a cat playing" || resp.VideoURI != "files/a cat playing" {
		t.Fatalf("operation/uri = %q/%q", resp.OperationName, resp.VideoURI)
	}
	if resp.SubmitAttempts != 1 || resp.DownloadAttempts != 1 {
		t.Fatalf("attempts = %d/%d, want 1/1", resp.SubmitAttempts, resp.DownloadAttempts)
	}
	data, err := os.ReadFile(resp.VideoPath)
	if err != nil || string(data) != "video:files/a cat playing" {
		t.Fatalf("artifact = %q, %v", data, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if phases[0] != PhaseSubmitting || phases[len(phases)-1] != PhaseDone {
		t.Fatalf("phases = %v", phases)
	}
}

func TestGenerateDefaultFilename(t *testing.T) {
	orch, dir := newTestOrchestrator(t, newFakeClient(), nil)
	resp := orch.Generate(context.Background(), domain.VideoRequest{Prompt: "Ocean waves!"})
	if !resp.Success {
		t.Fatalf("Generate() failed: %s", resp.Error)
	}
	want := filepath.Join(dir, "veo_Ocean_waves_1700000000.mp4")
	if resp.VideoPath != want {
		t.Fatalf("video path = %q, want %q", resp.VideoPath, want)
	}
}

func TestGenerateValidationFailsWithoutNetwork(t *testing.T) {
	for _, prompt := range []string{"", "   ", strings.Repeat("x", domain.MaxPromptLength+1)} {
		client := newFakeClient()
		orch, _ := newTestOrchestrator(t, client, nil)
		resp := orch.Generate(context.Background(), domain.VideoRequest{Prompt: prompt})
		if resp.Success {
			t.Fatalf("prompt of length %d must fail", len(prompt))
		}
		if resp.ErrorDetails["kind"] != "validation" || resp.ErrorDetails["field"] != "prompt" {
			t.Fatalf("details = %v", resp.ErrorDetails)
		}
		if len(client.submitCalls) != 0 {
			t.Fatalf("validation failure must not reach the network")
		}
	}
}

func TestGenerateMapsFailures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*fakeClient)
		wantKind    string
		wantSubmits int
	}{
		{
			name: "client error not retried",
			setup: func(c *fakeClient) {
				c.submit = func(string, int) error { return domain.APIError(400, `{"error":"bad"}`, "bad request") }
			},
			wantKind:    "api",
			wantSubmits: 1,
		},
		{
			name: "server error retried to exhaustion",
			setup: func(c *fakeClient) {
				c.submit = func(string, int) error { return domain.APIError(503, "", "unavailable") }
			},
			wantKind:    "api",
			wantSubmits: 3,
		},
		{
			name: "operation failed",
			setup: func(c *fakeClient) {
				c.poll = func(domain.OperationHandle) (domain.JobStatus, error) {
					return domain.JobStatus{Done: true, ErrorInfo: &domain.APIErrorInfo{Message: "blocked"}}, nil
				}
			},
			wantKind:    "api",
			wantSubmits: 1,
		},
		{
			name: "operation not found",
			setup: func(c *fakeClient) {
				c.poll = func(h domain.OperationHandle) (domain.JobStatus, error) {
					return domain.JobStatus{}, domain.OperationNotFoundError(h.Name)
				}
			},
			wantKind:    "operation_not_found",
			wantSubmits: 1,
		},
		{
			name: "poll timeout",
			setup: func(c *fakeClient) {
				c.poll = func(domain.OperationHandle) (domain.JobStatus, error) { return domain.JobStatus{}, nil }
			},
			wantKind:    "timeout",
			wantSubmits: 1,
		},
		{
			name: "empty artifact",
			setup: func(c *fakeClient) {
				c.download = func(string, io.Writer, int) (int64, error) { return 0, nil }
			},
			wantKind:    "download",
			wantSubmits: 1,
		},
		{
			name: "panic is contained",
			setup: func(c *fakeClient) {
				c.poll = func(domain.OperationHandle) (domain.JobStatus, error) { panic("boom") }
			},
			wantSubmits: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeClient()
			tc.setup(client)
			orch, dir := newTestOrchestrator(t, client, nil)
			resp := orch.Generate(context.Background(), domain.VideoRequest{Prompt: "p", OutputPath: "p.mp4"})
			if resp.Success || resp.VideoPath != "" || resp.Error == "" {
				t.Fatalf("response = %#v, want failure", resp)
			}
			if tc.wantKind != "" && resp.ErrorDetails["kind"] != tc.wantKind {
				t.Fatalf("kind = %v, want %s (%s)", resp.ErrorDetails["kind"], tc.wantKind, resp.Error)
			}
			if got := client.submits("p"); got != tc.wantSubmits {
				t.Fatalf("submits = %d, want %d", got, tc.wantSubmits)
			}
			if _, err := os.Stat(filepath.Join(dir, "p.mp4")); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("failed job left an artifact behind: %v", err)
			}
		})
	}
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := newFakeClient()
	client.submit = func(string, int) error {
		cancel()
		return domain.TransportError("post", context.Canceled)
	}
	orch, _ := newTestOrchestrator(t, client, nil)
	resp := orch.Generate(ctx, domain.VideoRequest{Prompt: "p"})
	if resp.Success || resp.ErrorDetails["kind"] != "cancelled" {
		t.Fatalf("response = %#v, want cancelled failure", resp)
	}
}

func TestGenerateValidationKeepsKindWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := newFakeClient()
	orch, _ := newTestOrchestrator(t, client, nil)

	resp := orch.Generate(ctx, domain.VideoRequest{Prompt: "   "})
	if resp.ErrorDetails["kind"] != "validation" || resp.ErrorDetails["field"] != "prompt" {
		t.Fatalf("details = %v, want prompt validation error", resp.ErrorDetails)
	}
	if strings.Contains(resp.Error, "cancel") {
		t.Fatalf("error = %q, must not mention cancellation", resp.Error)
	}
	if client.submits("") != 0 || len(client.submitCalls) != 0 {
		t.Fatalf("validation failure reached the network")
	}

	resp = orch.Generate(ctx, domain.VideoRequest{Prompt: "valid"})
	if resp.ErrorDetails["kind"] != "cancelled" || len(client.submitCalls) != 0 {
		t.Fatalf("valid request on a done context: details = %v", resp.ErrorDetails)
	}
}

func TestGenerateUploadsImageBeforeSubmit(t *testing.T) {
	img := filepath.Join(t.TempDir(), "seed.jpg")
	if err := os.WriteFile(img, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	client := newFakeClient()
	client.upload = func(path string, call int) (string, error) {
		if call == 1 {
			return "", domain.APIError(503, "", "busy")
		}
		return "files/seed", nil
	}
	var phases []Phase
	var mu sync.Mutex
	orch, _ := newTestOrchestrator(t, client, ObserverFunc(func(e Event) {
		mu.Lock()
		phases = append(phases, e.Phase)
		mu.Unlock()
	}))

	resp := orch.Generate(context.Background(), domain.VideoRequest{Prompt: "seeded", ImagePath: img})
	if !resp.Success {
		t.Fatalf("Generate() failed: %s", resp.Error)
	}
	if client.uploadCalls[img] != 2 {
		t.Fatalf("uploads = %d, want 2", client.uploadCalls[img])
	}
	if client.images["seeded"] != "files/seed" {
		t.Fatalf("submitted image uri = %q", client.images["seeded"])
	}
	mu.Lock()
	defer mu.Unlock()
	if len(phases) < 2 || phases[0] != PhaseUploading || phases[1] != PhaseSubmitting {
		t.Fatalf("phases = %v, want uploading then submitting", phases)
	}
}

func TestGenerateUploadRejectedSkipsSubmit(t *testing.T) {
	img := filepath.Join(t.TempDir(), "seed.png")
	if err := os.WriteFile(img, []byte("png"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	client := newFakeClient()
	client.upload = func(string, int) (string, error) {
		return "", domain.APIError(400, "", "unsupported image")
	}
	orch, _ := newTestOrchestrator(t, client, nil)

	resp := orch.Generate(context.Background(), domain.VideoRequest{Prompt: "seeded", ImagePath: img})
	if resp.Success || resp.ErrorDetails["kind"] != "api" {
		t.Fatalf("response = %#v, want api failure", resp)
	}
	if client.uploadCalls[img] != 1 || len(client.submitCalls) != 0 {
		t.Fatalf("uploads = %d submits = %d, want 1 and 0", client.uploadCalls[img], len(client.submitCalls))
	}
}

func TestGenerateCancelledMidDownloadAbortsArtifact(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := newFakeClient()
	client.download = func(uri string, sink io.Writer, call int) (int64, error) {
		n, _ := io.WriteString(sink, "partial frames")
		cancel()
		return int64(n), domain.CancelledError("download", context.Canceled)
	}
	var recorded []domain.GenerationRecord
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	orch, err := NewOrchestrator(OrchestratorOptions{
		Client: client,
		Store:  store,
		Clock:  clock.NewFake(time.Unix(0, 0)),
		Recorder: recorderFunc(func(ctx context.Context, rec domain.GenerationRecord) error {
			if ctx.Err() != nil {
				t.Errorf("record ctx already done: %v", ctx.Err())
			}
			recorded = append(recorded, rec)
			return nil
		}),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}

	resp := orch.Generate(ctx, domain.VideoRequest{Prompt: "shutdown", OutputPath: "shutdown.mp4"})
	if resp.Success || resp.ErrorDetails["kind"] != "cancelled" {
		t.Fatalf("response = %#v, want cancelled failure", resp)
	}
	if resp.DownloadAttempts != 1 {
		t.Fatalf("download attempts = %d, cancellation must not be retried", resp.DownloadAttempts)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("output dir holds %d entries after cancellation, want none", len(entries))
	}
	if len(recorded) != 1 || recorded[0].Response.ErrorDetails["kind"] != "cancelled" {
		t.Fatalf("records = %#v, want one cancelled record", recorded)
	}
}

type recorderFunc func(ctx context.Context, rec domain.GenerationRecord) error

func (f recorderFunc) Record(ctx context.Context, rec domain.GenerationRecord) error { return f(ctx, rec) }

func TestGenerateRecordsToLedger(t *testing.T) {
	var got []domain.GenerationRecord
	orch, err := NewOrchestrator(OrchestratorOptions{
		Client: newFakeClient(),
		Store:  mustFileStore(t),
		Clock:  clock.NewFake(time.Unix(0, 0)),
		Recorder: recorderFunc(func(ctx context.Context, rec domain.GenerationRecord) error {
			got = append(got, rec)
			return errors.New("ledger down")
		}),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	resp := orch.Generate(context.Background(), domain.VideoRequest{Prompt: "p"})
	if !resp.Success {
		t.Fatalf("ledger failure must not fail the job: %s", resp.Error)
	}
	if len(got) != 1 || got[0].Model != domain.DefaultModel || got[0].JobIndex != storage.NoIndex {
		t.Fatalf("records = %#v", got)
	}
}

func TestDownloadInterruptedThenCompletes(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	var downloads atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1beta/models/{model}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name":"operations/op1"}`)
	})
	mux.HandleFunc("GET /v1beta/operations/op1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"done":true,"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://generativelanguage.googleapis.com/v1beta/files/vid"}}]}}}`)
	})
	mux.HandleFunc("GET /download/v1beta/files/vid", func(w http.ResponseWriter, r *http.Request) {
		if downloads.Add(1) == 1 {
			conn, buf, err := w.(http.Hijacker).Hijack()
			if err != nil {
				t.Errorf("hijack: %v", err)
				return
			}
			defer conn.Close()
			_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: " + strconv.Itoa(len(payload)) + "\r\n\r\n")
			_, _ = buf.Write(payload[:len(payload)/3])
			_ = buf.Flush()
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := veo.NewClient(veo.Options{APIKey: "k", BaseURL: srv.URL + "/v1beta", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	orch, dir := newTestOrchestrator(t, client, nil)

	resp := orch.Generate(context.Background(), domain.VideoRequest{Prompt: "interrupted", OutputPath: "out.mp4"})
	if !resp.Success {
		t.Fatalf("Generate() failed: %s %v", resp.Error, resp.ErrorDetails)
	}
	if resp.DownloadAttempts != 2 {
		t.Fatalf("download attempts = %d, want 2", resp.DownloadAttempts)
	}
	data, err := os.ReadFile(filepath.Join(dir, "out.mp4"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("artifact has %d bytes, want exactly the %d declared bytes", len(data), len(payload))
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("leftover files in output dir: %d entries", len(entries))
	}
}

func TestPollTimeoutUsesConfiguredMaxWait(t *testing.T) {
	client := newFakeClient()
	client.poll = func(domain.OperationHandle) (domain.JobStatus, error) { return domain.JobStatus{}, nil }
	orch, err := NewOrchestrator(OrchestratorOptions{
		Client: client,
		Store:  mustFileStore(t),
		Clock:  clock.NewFake(time.Unix(0, 0)),
		Poll:   poll.Loop{MaxWait: time.Minute},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	resp := orch.Generate(context.Background(), domain.VideoRequest{Prompt: "slow"})
	if resp.ErrorDetails["kind"] != "timeout" || resp.ErrorDetails["elapsed_time"] != 60.0 {
		t.Fatalf("details = %v", resp.ErrorDetails)
	}
	if resp.GenerationTime != 60 {
		t.Fatalf("generation time = %v, want 60", resp.GenerationTime)
	}
}

func mustFileStore(t *testing.T) *storage.FileStore {
	t.Helper()
	s, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return s
}
