package engine

import (
	"context"
	"fmt"
)

// NoopBackend is used when no compute backend is configured. Every load
// fails, so requests pass the original image through.
type NoopBackend struct{}

func (NoopBackend) Name() string { return "none" }

func (NoopBackend) Load(context.Context, LoadSpec) (Engine, error) {
	return nil, ErrBackendUnavailable("no compute backend configured (set backend.kind to exec or http)")
}

// BackendOptions selects and configures a backend from settings.
type BackendOptions struct {
	Kind    string
	Command string
	Args    []string
	URL     string
	WorkDir string
}

// NewBackend builds the backend named by opts.Kind.
func NewBackend(opts BackendOptions) (Backend, error) {
	switch opts.Kind {
	case "", "none":
		return NoopBackend{}, nil
	case "exec":
		return &ExecBackend{Command: opts.Command, Args: opts.Args, WorkDir: opts.WorkDir}, nil
	case "http":
		return &HTTPBackend{URL: opts.URL}, nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", opts.Kind)
	}
}
