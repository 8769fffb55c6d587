// Package netmon watches whether the network is reachable and reports
// transitions.
package netmon

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultAddress  = "api.anthropic.com:443"
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 3 * time.Second
)

// Prober reports whether the network currently looks usable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// DialProber treats a successful TCP connect to Address as reachability.
type DialProber struct {
	Address string
	Timeout time.Duration
}

func (p DialProber) Probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := p.Address
	if addr == "" {
		addr = DefaultAddress
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Monitor polls a Prober and calls the handler whenever availability
// changes. The first probe always reports.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	known     bool
	available bool
}

type Options struct {
	Prober   Prober
	Interval time.Duration
	Logger   *zap.Logger
}

func New(opts Options) *Monitor {
	if opts.Prober == nil {
		opts.Prober = DialProber{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Monitor{prober: opts.Prober, interval: opts.Interval, logger: opts.Logger}
}

// Check probes once and returns the result and whether it differs from the
// previous probe.
func (m *Monitor) Check(ctx context.Context) (available, changed bool) {
	available = m.prober.Probe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	changed = !m.known || available != m.available
	m.known = true
	m.available = available
	if changed {
		m.logger.Info("network availability changed", zap.Bool("available", available))
	}
	return available, changed
}

// Run probes until ctx is done, calling onChange for each transition.
func (m *Monitor) Run(ctx context.Context, onChange func(available bool)) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if available, changed := m.Check(ctx); changed && ctx.Err() == nil {
			onChange(available)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
