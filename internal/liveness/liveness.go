// Package liveness reaps sessions whose transports went silent. Activity
// is tracked by the registry; this package only schedules the sweep and
// applies the eviction cascade through the hub.
package liveness

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"fleettrace/hub/internal/logging"
	"fleettrace/hub/internal/registry"
)

// Reaper force-closes a session that is still idle past the cutoff.
// Satisfied by the hub; the cutoff lets the eviction re-check idleness
// under the registry lock so a concurrent touch wins over the sweep.
type Reaper interface {
	EvictIdle(sessionID string, cutoff time.Time) bool
}

// Options configures the monitor.
type Options struct {
	Registry *registry.Registry
	Reaper   Reaper
	Logger   *logging.Logger
	// IdleThreshold is how long a session may stay silent before the sweep
	// reaps it.
	IdleThreshold time.Duration
	// SweepInterval is the cadence of the scheduled sweep.
	SweepInterval time.Duration
	TimeSource    func() time.Time
}

// Monitor periodically evicts idle sessions.
type Monitor struct {
	reg       *registry.Registry
	reaper    Reaper
	log       *logging.Logger
	threshold time.Duration
	now       func() time.Time

	scheduler *cron.Cron
	reaped    atomic.Int64
}

// New validates the options and builds a monitor. The sweep does not run
// until Start is called.
func New(opts Options) (*Monitor, error) {
	if opts.Registry == nil {
		return nil, errors.New("liveness monitor requires a registry")
	}
	if opts.Reaper == nil {
		return nil, errors.New("liveness monitor requires a reaper")
	}
	if opts.IdleThreshold <= 0 {
		return nil, errors.New("idle threshold must be positive")
	}
	if opts.SweepInterval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	monitor := &Monitor{
		reg:       opts.Registry,
		reaper:    opts.Reaper,
		log:       logger,
		threshold: opts.IdleThreshold,
		now:       now,
		scheduler: cron.New(),
	}
	if _, err := monitor.scheduler.AddFunc("@every "+opts.SweepInterval.String(), func() {
		monitor.Sweep()
	}); err != nil {
		return nil, err
	}
	return monitor, nil
}

// Start launches the scheduled sweep in its own goroutine.
func (m *Monitor) Start() {
	m.scheduler.Start()
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (m *Monitor) Stop() {
	ctx := m.scheduler.Stop()
	<-ctx.Done()
}

// Sweep evicts every session idle past the threshold and returns how many
// were removed. The idle list is only a snapshot; the reaper re-checks
// each session against the cutoff, so one touched after the snapshot is
// spared.
func (m *Monitor) Sweep() int {
	cutoff := m.now().Add(-m.threshold)
	idle := m.reg.IdleSince(cutoff)
	removed := 0
	for _, sessionID := range idle {
		if !m.reaper.EvictIdle(sessionID, cutoff) {
			continue
		}
		removed++
		m.log.Info("idle session reaped",
			logging.String("session_id", sessionID),
			logging.Duration("threshold", m.threshold))
	}
	if removed > 0 {
		m.reaped.Add(int64(removed))
	}
	return removed
}

// Reaped reports the cumulative count of evicted sessions.
func (m *Monitor) Reaped() int64 { return m.reaped.Load() }
