// Package engine keeps one resident super-resolution engine and talks to the
// compute backend that runs the forward pass.
package engine

import (
	"context"
	"errors"
	"image"

	"github.com/rs/zerolog"
)

// LoadSpec is everything a backend needs to build an engine.
type LoadSpec struct {
	Path    string
	Blocks  int
	Scale   int
	Profile Profile
}

// Engine runs inference for one loaded checkpoint. The returned image may be
// any size; the cache resizes it to the requested output scale.
type Engine interface {
	Enhance(ctx context.Context, img image.Image, outScale int) (image.Image, error)
}

// Backend builds engines. Engines that also implement io.Closer are closed
// when they are replaced.
type Backend interface {
	Name() string
	Load(ctx context.Context, spec LoadSpec) (Engine, error)
}

// outOfMemoryError signals the backend ran out of device memory.
type outOfMemoryError struct{ msg string }

func (e outOfMemoryError) Error() string { return "out of memory: " + e.msg }

// ErrOutOfMemory constructs an outOfMemoryError.
func ErrOutOfMemory(msg string) error { return outOfMemoryError{msg: msg} }

// IsOutOfMemory reports whether err indicates device memory exhaustion.
func IsOutOfMemory(err error) bool {
	var e outOfMemoryError
	return errors.As(err, &e)
}

// backendUnavailableError means no compute backend is configured or reachable.
type backendUnavailableError struct{ msg string }

func (e backendUnavailableError) Error() string { return e.msg }

// ErrBackendUnavailable constructs a backendUnavailableError.
func ErrBackendUnavailable(msg string) error { return backendUnavailableError{msg: msg} }

// IsBackendUnavailable reports whether err indicates a missing backend.
func IsBackendUnavailable(err error) bool {
	var e backendUnavailableError
	return errors.As(err, &e)
}

var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the engine layer.
func SetLogger(l zerolog.Logger) { zlog = l }
