package domain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultModel is the generation model used when a request names none.
	DefaultModel = "veo-3.0-generate-preview"
	// MaxPromptLength bounds the prompt, counted in characters.
	MaxPromptLength = 2000
	// VideoExtension is the only accepted extension for explicit output paths.
	VideoExtension = ".mp4"
)

// ImageExtensions lists the accepted input image extensions, lower case.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// VideoRequest describes one generation job.
type VideoRequest struct {
	Prompt     string
	Model      string
	OutputPath string
	// ImagePath is an optional local image that seeds image-to-video.
	ImagePath string
}

// Validate returns a normalized copy of the request or a KindValidation error.
// The prompt is NFC-normalized and trimmed before its length is checked.
func (r VideoRequest) Validate() (VideoRequest, error) {
	prompt := strings.TrimSpace(norm.NFC.String(r.Prompt))
	if prompt == "" {
		return VideoRequest{}, ValidationError("prompt", "prompt cannot be empty or whitespace")
	}
	if n := utf8.RuneCountInString(prompt); n > MaxPromptLength {
		return VideoRequest{}, ValidationError("prompt", "prompt exceeds maximum length of %d characters (got %d)", MaxPromptLength, n)
	}
	model := strings.TrimSpace(r.Model)
	if model == "" {
		model = DefaultModel
	}
	out := strings.TrimSpace(r.OutputPath)
	if out != "" && !strings.EqualFold(filepath.Ext(out), VideoExtension) {
		return VideoRequest{}, ValidationError("output_path", "output file must have %s extension", VideoExtension)
	}
	image := strings.TrimSpace(r.ImagePath)
	if image != "" {
		if err := validateImage(image); err != nil {
			return VideoRequest{}, err
		}
	}
	return VideoRequest{Prompt: prompt, Model: model, OutputPath: out, ImagePath: image}, nil
}

func validateImage(path string) error {
	if !slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(path))) {
		return ValidationError("image_path", "image file must have one of these extensions: %s", strings.Join(ImageExtensions, ", "))
	}
	info, err := os.Stat(path)
	if err != nil {
		return ValidationError("image_path", "image file does not exist: %s", path)
	}
	if info.IsDir() {
		return ValidationError("image_path", "image path is a directory: %s", path)
	}
	return nil
}

// OperationHandle identifies a submitted long-running operation.
type OperationHandle struct {
	Name      string
	CreatedAt time.Time
}

// APIErrorInfo is the error object reported by the server for a finished operation.
type APIErrorInfo struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
	Details []any  `json:"details,omitempty"`
}

func (i APIErrorInfo) String() string {
	msg := strings.TrimSpace(i.Message)
	if msg == "" {
		msg = "video generation failed"
	}
	if i.Status != "" {
		return fmt.Sprintf("%s (%s)", msg, i.Status)
	}
	return msg
}

// JobStatus is the result of a single poll call.
type JobStatus struct {
	Done        bool
	ArtifactURI string
	ErrorInfo   *APIErrorInfo
}

// VideoResponse is the outcome of one job. Success implies VideoPath is set
// and Error is empty; failure implies the reverse.
type VideoResponse struct {
	Success          bool           `json:"success"`
	Prompt           string         `json:"prompt,omitempty"`
	VideoPath        string         `json:"video_path,omitempty"`
	OperationName    string         `json:"operation_name,omitempty"`
	VideoURI         string         `json:"video_uri,omitempty"`
	FileSizeMB       float64        `json:"file_size_mb,omitempty"`
	GenerationTime   float64        `json:"generation_time,omitempty"`
	SubmitAttempts   int            `json:"submit_attempts,omitempty"`
	DownloadAttempts int            `json:"download_attempts,omitempty"`
	Error            string         `json:"error,omitempty"`
	ErrorDetails     map[string]any `json:"error_details,omitempty"`
}

// Succeeded builds a successful response for an artifact of sizeBytes stored at path.
func Succeeded(path string, sizeBytes int64) VideoResponse {
	return VideoResponse{
		Success:    true,
		VideoPath:  path,
		FileSizeMB: float64(sizeBytes) / (1024 * 1024),
	}
}

// FailedResponse builds a failed response from err.
func FailedResponse(err error) VideoResponse {
	resp := VideoResponse{Success: false, Error: "unknown error"}
	if err == nil {
		return resp
	}
	resp.Error = err.Error()
	var e *Error
	if errors.As(err, &e) {
		resp.ErrorDetails = e.Details()
	}
	return resp
}

// IsSuccess reports whether the job produced an artifact.
func (r VideoResponse) IsSuccess() bool {
	return r.Success && r.VideoPath != ""
}

// BatchResult aggregates the responses of one batch, in prompt order.
type BatchResult struct {
	ID         string          `json:"id"`
	Total      int             `json:"total"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Results    []VideoResponse `json:"results"`
	TotalTime  float64         `json:"total_time"`
}

// SuccessRate returns the percentage of successful jobs.
func (b BatchResult) SuccessRate() float64 {
	if b.Total == 0 {
		return 0
	}
	return float64(b.Successful) / float64(b.Total) * 100
}

// HasFailures reports whether any job failed.
func (b BatchResult) HasFailures() bool {
	return b.Failed > 0
}

// SuccessfulVideos returns the successful responses.
func (b BatchResult) SuccessfulVideos() []VideoResponse {
	var out []VideoResponse
	for _, r := range b.Results {
		if r.IsSuccess() {
			out = append(out, r)
		}
	}
	return out
}

// FailedVideos returns the failed responses.
func (b BatchResult) FailedVideos() []VideoResponse {
	var out []VideoResponse
	for _, r := range b.Results {
		if !r.IsSuccess() {
			out = append(out, r)
		}
	}
	return out
}

// Summary is a one-line human readable report.
func (b BatchResult) Summary() string {
	return fmt.Sprintf("Batch Results: %d/%d successful (%.1f%% success rate)", b.Successful, b.Total, b.SuccessRate())
}

// GenerationRecord is a finished job as written to the generation ledger.
type GenerationRecord struct {
	BatchID  string
	JobIndex int
	Model    string
	Response VideoResponse
}
