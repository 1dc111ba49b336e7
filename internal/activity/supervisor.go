package activity

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultTick = 5 * time.Second

// Supervisor polls a Tracker and calls Shutdown once the idle time exceeds
// the threshold returned by Threshold. A threshold <= 0 disables shutdown.
type Supervisor struct {
	Tracker   *Tracker
	Threshold func() time.Duration
	Shutdown  func()
	Tick      time.Duration
	Log       zerolog.Logger

	fired atomic.Bool
}

// Check evaluates one tick and reports whether shutdown was triggered.
func (s *Supervisor) Check() bool {
	if s.fired.Load() {
		return false
	}
	th := time.Duration(0)
	if s.Threshold != nil {
		th = s.Threshold()
	}
	if th <= 0 {
		return false
	}
	idle := s.Tracker.Idle()
	if idle <= th {
		return false
	}
	if !s.fired.CompareAndSwap(false, true) {
		return false
	}
	s.Log.Info().Dur("idle", idle).Dur("threshold", th).Msg("idle threshold reached; shutting down")
	if s.Shutdown != nil {
		s.Shutdown()
	}
	return true
}

// Run ticks until ctx is done or shutdown has been triggered.
func (s *Supervisor) Run(ctx context.Context) error {
	tick := s.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if s.Check() {
				return nil
			}
		}
	}
}
