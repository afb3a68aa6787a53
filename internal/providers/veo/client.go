package veo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"veogen/internal/domain"
	"veogen/internal/download"
	"veogen/internal/infra"
)

const (
	DefaultBaseURL         = "https://api.thucchien.ai/gemini/v1beta"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultDownloadTimeout = 300 * time.Second

	googleFilesPrefix = "https://generativelanguage.googleapis.com/"
	maxErrorBody      = 64 << 10
	maxImageBytes     = 20 << 20
)

// Options controls how the Veo client is configured.
type Options struct {
	APIKey          string
	BaseURL         string
	Model           string
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration
	HTTPClient      *http.Client
	Logger          *infra.Logger
}

// Client talks to a predictLongRunning endpoint. Each method performs exactly
// one round trip and never retries; retry decisions belong to the caller.
type Client struct {
	apiKey          string
	baseURL         string
	model           string
	requestTimeout  time.Duration
	downloadTimeout time.Duration
	httpClient      *http.Client
	logger          *infra.Logger
	streamer        download.Streamer
}

type predictInstance struct {
	Prompt string   `json:"prompt"`
	Image  *fileRef `json:"image,omitempty"`
}

type fileRef struct {
	URI string `json:"uri"`
}

type uploadResponse struct {
	File fileRef `json:"file"`
}

type predictRequest struct {
	Instances []predictInstance `json:"instances"`
}

type operationResponse struct {
	Name     string               `json:"name"`
	Done     bool                 `json:"done"`
	Error    *domain.APIErrorInfo `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

type errorEnvelope struct {
	Error domain.APIErrorInfo `json:"error"`
}

// Download is an open artifact stream. Callers must Close it.
type Download struct {
	URL           string
	Body          io.ReadCloser
	ContentLength int64
}

// NewClient constructs a Veo client with sane defaults. Callers may provide
// a nil HTTP client; a pooled one from infra.NewHTTPClient is created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = infra.NewHTTPClient(infra.TransportOptions{})
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, domain.ConfigError("base_url", "invalid base url %q: %v", baseURL, err)
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = domain.DefaultModel
	}

	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	downloadTimeout := opts.DownloadTimeout
	if downloadTimeout <= 0 {
		downloadTimeout = DefaultDownloadTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}

	return &Client{
		apiKey:          strings.TrimSpace(opts.APIKey),
		baseURL:         baseURL,
		model:           model,
		requestTimeout:  requestTimeout,
		downloadTimeout: downloadTimeout,
		httpClient:      client,
		logger:          logger,
	}, nil
}

// Model returns the configured default model identifier.
func (c *Client) Model() string {
	return c.model
}

// UploadImage sends a local image to the files endpoint and returns the file
// URI to pass to Submit.
func (c *Client) UploadImage(ctx context.Context, path string) (string, error) {
	body, contentType, err := imageForm(path)
	if err != nil {
		return "", err
	}

	data, status, err := c.roundTrip(ctx, http.MethodPost, c.baseURL+"/files", contentType, body)
	if err != nil {
		return "", err
	}
	if status >= http.StatusBadRequest {
		return "", apiError(status, data, "image upload failed")
	}

	var up uploadResponse
	if err := json.Unmarshal(data, &up); err != nil {
		return "", domain.APIError(status, string(data), "decode upload response: "+err.Error())
	}
	uri := strings.TrimSpace(up.File.URI)
	if uri == "" {
		return "", domain.APIError(status, string(data), "no file uri returned from upload")
	}

	c.logger.Debug().
		Str("image", filepath.Base(path)).
		Str("uri", uri).
		Msg("veo: image uploaded")
	return uri, nil
}

// imageForm builds a multipart body with the image under the "file" field.
func imageForm(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", domain.ValidationError("image_path", "open image: %v", err)
	}
	defer f.Close()

	ctype := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
	h.Set("Content-Type", ctype)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	n, err := io.Copy(part, io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, "", domain.ValidationError("image_path", "read image: %v", err)
	}
	if n > maxImageBytes {
		return nil, "", domain.ValidationError("image_path", "image exceeds %d bytes", maxImageBytes)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// Submit starts a generation and returns the operation handle. imageURI is
// optional and comes from UploadImage.
func (c *Client) Submit(ctx context.Context, prompt, model, imageURI string) (domain.OperationHandle, error) {
	if model == "" {
		model = c.model
	}
	instance := predictInstance{Prompt: prompt}
	if imageURI != "" {
		instance.Image = &fileRef{URI: imageURI}
	}
	body, err := json.Marshal(predictRequest{Instances: []predictInstance{instance}})
	if err != nil {
		return domain.OperationHandle{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, url.PathEscape(model))
	data, status, err := c.roundTrip(ctx, http.MethodPost, endpoint, "application/json", body)
	if err != nil {
		return domain.OperationHandle{}, err
	}
	if status >= http.StatusBadRequest {
		return domain.OperationHandle{}, apiError(status, data, "submit request failed")
	}

	var op operationResponse
	if err := json.Unmarshal(data, &op); err != nil {
		return domain.OperationHandle{}, domain.APIError(status, string(data), "decode submit response: "+err.Error())
	}
	if strings.TrimSpace(op.Name) == "" {
		return domain.OperationHandle{}, domain.APIError(status, string(data), "no operation name returned from API")
	}

	c.logger.Debug().
		Str("model", model).
		Bool("with_image", imageURI != "").
		Str("operation", op.Name).
		Msg("veo: generation submitted")

	return domain.OperationHandle{Name: op.Name, CreatedAt: time.Now()}, nil
}

// Poll fetches the operation once.
func (c *Client) Poll(ctx context.Context, handle domain.OperationHandle) (domain.JobStatus, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(handle.Name, "/")
	data, status, err := c.roundTrip(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return domain.JobStatus{}, err
	}
	if status == http.StatusNotFound {
		return domain.JobStatus{}, domain.OperationNotFoundError(handle.Name)
	}
	if status >= http.StatusBadRequest {
		return domain.JobStatus{}, apiError(status, data, "poll request failed")
	}

	var op operationResponse
	if err := json.Unmarshal(data, &op); err != nil {
		return domain.JobStatus{}, domain.APIError(status, string(data), "decode operation: "+err.Error())
	}

	if op.Error != nil {
		return domain.JobStatus{Done: true, ErrorInfo: op.Error}, nil
	}
	if !op.Done {
		return domain.JobStatus{}, nil
	}

	uri := op.videoURI()
	if uri == "" {
		return domain.JobStatus{Done: true, ErrorInfo: &domain.APIErrorInfo{
			Message: "missing video uri in completed operation",
		}}, nil
	}
	return domain.JobStatus{Done: true, ArtifactURI: uri}, nil
}

func (op operationResponse) videoURI() string {
	if op.Response == nil {
		return ""
	}
	samples := op.Response.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 {
		return ""
	}
	return strings.TrimSpace(samples[0].Video.URI)
}

// DownloadURL maps a Google file URI onto the proxy download endpoint.
func (c *Client) DownloadURL(uri string) string {
	return resolveDownloadURL(uri, c.baseURL)
}

func resolveDownloadURL(uri, baseURL string) string {
	relative := strings.TrimPrefix(uri, googleFilesPrefix)
	if relative == uri && (strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")) {
		return uri
	}
	base := baseURL
	if strings.HasSuffix(base, "/v1beta") {
		base = strings.TrimSuffix(base, "/v1beta") + "/download"
	}
	return base + "/" + strings.TrimLeft(relative, "/")
}

// OpenDownload starts the artifact transfer. ContentLength is -1 when the
// server does not declare it. The download timeout covers the whole stream
// and is released when Body is closed.
func (c *Client) OpenDownload(ctx context.Context, uri string) (*Download, error) {
	target := c.DownloadURL(uri)
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, domain.DownloadError(uri, 0, fmt.Errorf("create download request: %w", err))
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, domain.DownloadError(uri, 0, transportError(ctx, "download", err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return nil, domain.DownloadError(uri, 0, apiError(resp.StatusCode, data, "download request failed"))
	}

	c.logger.Debug().
		Str("url", target).
		Int64("content_length", resp.ContentLength).
		Msg("veo: download started")

	return &Download{
		URL:           target,
		Body:          &cancelBody{ReadCloser: resp.Body, cancel: cancel},
		ContentLength: resp.ContentLength,
	}, nil
}

// Download streams the artifact at uri into sink and returns the byte count.
// Any failure is a KindDownload error carrying the bytes transferred.
func (c *Client) Download(ctx context.Context, uri string, sink io.Writer, progress download.ProgressFunc) (int64, error) {
	dl, err := c.OpenDownload(ctx, uri)
	if err != nil {
		return 0, err
	}
	defer dl.Body.Close()

	n, err := c.streamer.Stream(ctx, dl.Body, dl.ContentLength, sink, progress)
	if err != nil {
		if domain.KindOf(err) == domain.KindCancelled && ctx.Err() != nil {
			return n, err
		}
		return n, domain.DownloadError(uri, n, err)
	}
	return n, nil
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint, contentType string, body []byte) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, transportError(ctx, strings.ToLower(method)+" "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, transportError(ctx, "read response", err)
	}
	return data, resp.StatusCode, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}
}

// transportError keeps caller cancellation distinct from network failures.
// A per-request deadline expiring is a network failure and stays transient.
func transportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.CancelledError(op, ctx.Err())
	}
	return domain.TransportError(op, err)
}

func apiError(status int, data []byte, fallback string) error {
	raw := strings.TrimSpace(string(data))
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error.Message != "" {
		return domain.APIError(status, raw, fmt.Sprintf("%s: %s", fallback, env.Error.String()))
	}
	if raw != "" {
		return domain.APIError(status, raw, fmt.Sprintf("%s: %s", fallback, http.StatusText(status)))
	}
	return domain.APIError(status, "", fallback)
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
