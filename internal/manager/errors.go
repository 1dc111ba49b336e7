package manager

import (
	"context"
	"errors"
	"strconv"

	"muhost/internal/checkpoint"
	"muhost/internal/engine"
	"muhost/internal/resolver"
)

// upstreamFetchError signals that the source image could not be downloaded.
// The dispatcher maps it to 502.
type upstreamFetchError struct {
	url    string
	status int
	cause  error
}

func (e upstreamFetchError) Error() string {
	msg := "upstream fetch failed: " + e.url
	if e.status != 0 {
		msg += ": status " + strconv.Itoa(e.status)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e upstreamFetchError) Unwrap() error { return e.cause }

// ErrUpstreamFetchFailed constructs an upstreamFetchError. status is 0 when no
// response was received.
func ErrUpstreamFetchFailed(url string, status int, cause error) error {
	return upstreamFetchError{url: url, status: status, cause: cause}
}

// IsUpstreamFetchFailed reports whether err is an upstream download failure (return 502).
func IsUpstreamFetchFailed(err error) bool {
	var e upstreamFetchError
	return errors.As(err, &e)
}

// unsupportedRequestError signals malformed enhance parameters (return 400).
type unsupportedRequestError struct{ msg string }

func (e unsupportedRequestError) Error() string { return e.msg }

func ErrUnsupportedRequest(msg string) error { return unsupportedRequestError{msg: msg} }

// IsUnsupportedRequest reports whether err is a client mistake.
func IsUnsupportedRequest(err error) bool {
	var e unsupportedRequestError
	return errors.As(err, &e)
}

// invalidSettingsError wraps a rejected settings patch (return 400).
type invalidSettingsError struct{ cause error }

func (e invalidSettingsError) Error() string { return "invalid settings: " + e.cause.Error() }

func (e invalidSettingsError) Unwrap() error { return e.cause }

func ErrInvalidSettings(cause error) error { return invalidSettingsError{cause: cause} }

// IsInvalidSettings reports whether err is a rejected settings patch.
func IsInvalidSettings(err error) bool {
	var e invalidSettingsError
	return errors.As(err, &e)
}

// imageError marks a decode or encode failure of the pipeline.
type imageError struct {
	stage string
	cause error
}

func (e imageError) Error() string { return e.cause.Error() }

func (e imageError) Unwrap() error { return e.cause }

// IsImageError reports whether err came from decoding or encoding pixels.
func IsImageError(err error) bool {
	var e imageError
	return errors.As(err, &e)
}

func IsNoModelMapped(err error) bool { return resolver.IsNoModelMapped(err) }

func IsModelFileMissing(err error) bool { return resolver.IsModelFileMissing(err) }

func IsUnsupportedCheckpointFormat(err error) bool {
	return checkpoint.IsUnsupportedCheckpointFormat(err)
}

func IsOutOfMemory(err error) bool { return engine.IsOutOfMemory(err) }

func IsBackendUnavailable(err error) bool { return engine.IsBackendUnavailable(err) }

// PassthroughReason classifies a pipeline failure for the passthrough counter.
func PassthroughReason(err error) string {
	var ie imageError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ie):
		return ie.stage
	case IsNoModelMapped(err):
		return "no_model"
	case IsModelFileMissing(err):
		return "model_missing"
	case IsUnsupportedCheckpointFormat(err):
		return "unsupported_checkpoint"
	case IsOutOfMemory(err):
		return "oom"
	case IsBackendUnavailable(err):
		return "backend_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
