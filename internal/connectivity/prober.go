package connectivity

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker is anything that can tell whether the ledger answers.
// ledger.HTTPClient satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Prober feeds a Monitor from periodic health checks.
type Prober struct {
	monitor  *Monitor
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewProber(monitor *Monitor, checker HealthChecker, interval, timeout time.Duration, logger zerolog.Logger) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Prober{
		monitor:  monitor,
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With().Str("component", "prober").Logger(),
	}
}

// Check runs one health check and updates the monitor.
func (p *Prober) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.checker.Health(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("health check failed")
	}
	online := err == nil
	p.monitor.Set(online)
	return online
}

// Run checks immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
