package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Kind tags the variant of an Error. Each kind carries its own payload fields.
type Kind int

const (
	// KindValidation is bad caller input detected before any network call.
	KindValidation Kind = iota + 1
	// KindAPI is a non-success response from submit or poll.
	KindAPI
	// KindOperationNotFound is a poll against an unknown operation name.
	KindOperationNotFound
	// KindTimeout is a poll loop that exceeded its maximum wait time.
	KindTimeout
	// KindDownload is a failure while transferring the generated artifact.
	KindDownload
	// KindTransport is a network-level failure (dial, reset, client timeout).
	KindTransport
	// KindCancelled is work interrupted by caller cancellation.
	KindCancelled
	// KindConfig is an invalid configuration value.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAPI:
		return "api"
	case KindOperationNotFound:
		return "operation_not_found"
	case KindTimeout:
		return "timeout"
	case KindDownload:
		return "download"
	case KindTransport:
		return "transport"
	case KindCancelled:
		return "cancelled"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is the single error type produced by the generation pipeline.
type Error struct {
	Kind    Kind
	Message string

	// KindValidation, KindConfig
	Field string
	// KindAPI
	StatusCode int
	Body       string
	// KindOperationNotFound
	OperationName string
	// KindTimeout
	Elapsed time.Duration
	// KindDownload
	URI              string
	BytesTransferred int64

	// Retryable is consulted for KindAPI and KindDownload, whose transience
	// depends on the response or the wrapped cause.
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	switch e.Kind {
	case KindAPI:
		if e.StatusCode > 0 {
			fmt.Fprintf(&b, " (status %d)", e.StatusCode)
		}
	case KindTimeout:
		fmt.Fprintf(&b, " after %s", e.Elapsed.Round(time.Millisecond))
	case KindDownload:
		if e.BytesTransferred > 0 {
			fmt.Fprintf(&b, " (%d bytes transferred)", e.BytesTransferred)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the failed operation may succeed.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTransport:
		return true
	case KindAPI, KindDownload:
		return e.Retryable
	default:
		return false
	}
}

// Details renders the kind-specific payload for VideoResponse.ErrorDetails.
func (e *Error) Details() map[string]any {
	details := map[string]any{"kind": e.Kind.String()}
	switch e.Kind {
	case KindValidation, KindConfig:
		if e.Field != "" {
			details["field"] = e.Field
		}
	case KindAPI:
		if e.StatusCode > 0 {
			details["status_code"] = e.StatusCode
		}
		if e.Body != "" {
			details["response"] = e.Body
		}
	case KindOperationNotFound:
		details["operation_name"] = e.OperationName
	case KindTimeout:
		details["elapsed_time"] = e.Elapsed.Seconds()
	case KindDownload:
		if e.URI != "" {
			details["video_uri"] = e.URI
		}
		if e.BytesTransferred > 0 {
			details["partial_bytes_downloaded"] = e.BytesTransferred
		}
	case KindTransport, KindCancelled:
		if e.Err != nil {
			details["cause"] = e.Err.Error()
		}
	}
	return details
}

// ValidationError reports bad input for field.
func ValidationError(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConfigError reports an invalid configuration value.
func ConfigError(field, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Field: field, Message: fmt.Sprintf(format, args...)}
}

// APIError reports a non-success response. 5xx statuses are transient.
func APIError(status int, body, message string) *Error {
	return &Error{
		Kind:       KindAPI,
		Message:    message,
		StatusCode: status,
		Body:       body,
		Retryable:  status >= 500,
	}
}

// OperationNotFoundError reports a poll for an operation the server does not know.
func OperationNotFoundError(name string) *Error {
	return &Error{Kind: KindOperationNotFound, OperationName: name, Message: fmt.Sprintf("operation %q not found", name)}
}

// TimeoutError reports a poll loop that gave up after elapsed.
func TimeoutError(elapsed, maxWait time.Duration) *Error {
	return &Error{
		Kind:    KindTimeout,
		Elapsed: elapsed,
		Message: fmt.Sprintf("operation did not finish within %s", maxWait),
	}
}

// DownloadError wraps a transfer failure. Transience follows the cause.
func DownloadError(uri string, transferred int64, cause error) *Error {
	return &Error{
		Kind:             KindDownload,
		Message:          "download failed",
		URI:              uri,
		BytesTransferred: transferred,
		Retryable:        IsTransient(cause),
		Err:              cause,
	}
}

// TransportError wraps a network-level failure.
func TransportError(op string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: op, Err: cause}
}

// CancelledError wraps a context cancellation.
func CancelledError(op string, cause error) *Error {
	return &Error{Kind: KindCancelled, Message: op, Err: cause}
}

// IsTransient classifies err for retry purposes. A bare context error is
// never transient; io.ErrUnexpectedEOF is, since it marks a stream cut short.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Transient()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
