package ipfilter

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/lessucettes/meshguard/internal/config"
)

// Scheduler refreshes its targets every ip_filter.refresh_interval. The interval
// is read from the provider before each wait, so reloads take effect on the
// next cycle. A zero interval disables periodic refresh until Kick is called.
type Scheduler struct {
	provider *config.Provider
	targets  []Refresher
	clock    clock.Clock
	kick     chan struct{}
}

func NewScheduler(provider *config.Provider, clk clock.Clock, targets ...Refresher) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		provider: provider,
		targets:  targets,
		clock:    clk,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an immediate refresh and restarts the interval.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		interval := s.provider.Current().IPFilter.RefreshInterval

		var tick <-chan time.Time
		var timer *clock.Timer
		if interval > 0 {
			timer = s.clock.Timer(interval)
			tick = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-tick:
			slog.Debug("Scheduled policy refresh", "interval", interval)
		case <-s.kick:
			if timer != nil {
				timer.Stop()
			}
			slog.Debug("Requested policy refresh")
		}
		for _, t := range s.targets {
			t.Refresh()
		}
	}
}
