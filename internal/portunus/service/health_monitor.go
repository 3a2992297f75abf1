package service

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"
)

// HealthCheck returns nil while the dependency it probes is usable.
type HealthCheck func(ctx context.Context) error

// HealthMonitor periodically runs a set of named checks and reports the
// aggregate result to a sink (the gRPC health service).  It runs as a
// background goroutine and is safe to stop via its context or Stop.
type HealthMonitor struct {
	checks   map[string]HealthCheck
	interval time.Duration
	timeout  time.Duration
	sink     func(serving bool)
	logger   *slog.Logger

	healthy atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// HealthMonitorConfig holds the parameters for NewHealthMonitor.
type HealthMonitorConfig struct {
	// Interval between check rounds.  Defaults to 15s.
	Interval time.Duration

	// Timeout bounds each individual check.  Defaults to 3s.
	Timeout time.Duration
}

// NewHealthMonitor creates a monitor but does not start it.  sink may be nil.
func NewHealthMonitor(
	checks map[string]HealthCheck,
	cfg HealthMonitorConfig,
	sink func(serving bool),
	logger *slog.Logger,
) *HealthMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if sink == nil {
		sink = func(bool) {}
	}
	return &HealthMonitor{
		checks:   checks,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		sink:     sink,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs one round immediately, then repeats on the configured interval
// until ctx is cancelled or Stop is called.
func (m *HealthMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.Check(ctx)
	go m.loop(ctx)

	m.logger.Info("health monitor started",
		slog.Duration("interval", m.interval),
		slog.Int("checks", len(m.checks)),
	)
}

// Stop signals the monitor to exit and waits for it to finish.  Calling Stop
// on a monitor that was never started returns immediately.
func (m *HealthMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Run is Start followed by blocking until ctx is done, for errgroup use.
func (m *HealthMonitor) Run(ctx context.Context) error {
	m.Start(ctx)
	<-ctx.Done()
	m.Stop()
	return nil
}

// Healthy is the result of the latest round.
func (m *HealthMonitor) Healthy() bool { return m.healthy.Load() }

// Check runs every check once, updates the sink, and returns the names of
// failing checks in sorted order.
func (m *HealthMonitor) Check(ctx context.Context) []string {
	var failing []string
	for name, check := range m.checks {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := check(cctx)
		cancel()
		if err != nil {
			failing = append(failing, name)
			m.logger.Warn("health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
		}
	}
	sort.Strings(failing)

	serving := len(failing) == 0
	if prev := m.healthy.Swap(serving); prev != serving {
		m.logger.Info("health changed", slog.Bool("serving", serving))
	}
	m.sink(serving)
	return failing
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
