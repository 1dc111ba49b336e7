package resolver

import (
	"errors"
	"fmt"
)

// noModelMappedError means no catalog entry could serve the request.
type noModelMappedError struct {
	kind   string
	scale  int
	height int
}

func (e noModelMappedError) Error() string {
	return fmt.Sprintf("no model mapped for %s height %d at scale x%d", e.kind, e.height, e.scale)
}

// ErrNoModelMapped constructs a noModelMappedError.
func ErrNoModelMapped(kind string, scale, height int) error {
	return noModelMappedError{kind: kind, scale: scale, height: height}
}

// IsNoModelMapped reports whether err indicates an empty catalog for the request.
func IsNoModelMapped(err error) bool {
	var e noModelMappedError
	return errors.As(err, &e)
}

// modelFileMissingError means a bucket was selected but its file is absent.
type modelFileMissingError struct{ path string }

func (e modelFileMissingError) Error() string { return "model file not found: " + e.path }

// ErrModelFileMissing constructs a modelFileMissingError.
func ErrModelFileMissing(path string) error { return modelFileMissingError{path: path} }

// IsModelFileMissing reports whether err indicates a mapped but absent checkpoint.
func IsModelFileMissing(err error) bool {
	var e modelFileMissingError
	return errors.As(err, &e)
}
