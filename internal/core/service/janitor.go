package service

import (
	"context"
	"errors"
	"fmt"
	"imgmerge/internal/core/port"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Janitor periodically removes stale files from the stores it owns.
type Janitor struct {
	stores    map[string]port.Sweeper
	retention time.Duration
	interval  time.Duration
}

func NewJanitor(retention, interval time.Duration, stores map[string]port.Sweeper) *Janitor {
	return &Janitor{stores: stores, retention: retention, interval: interval}
}

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		log.Warn().Dur("interval", j.interval).Msg("cleanup interval not positive, janitor disabled")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		log.Debug().Time("next", time.Now().Add(j.interval)).Msg("running cleanup timer")
		select {
		case <-ticker.C:
			removed, err := j.SweepNow(ctx, j.retention)
			if err != nil {
				log.Warn().Err(err).Msg("periodic cleanup incomplete")
			}
			log.Info().Interface("removed", removed).Msg("periodic cleanup finished")
		case <-ctx.Done():
			log.Debug().Msg("stopping periodic cleanup")
			return
		}
	}
}

func (j *Janitor) SweepNow(ctx context.Context, maxAge time.Duration) (map[string]int, error) {
	if maxAge < 0 {
		return nil, fmt.Errorf("max age must not be negative, got %s", maxAge)
	}

	names := make([]string, 0, len(j.stores))
	for name := range j.stores {
		names = append(names, name)
	}
	sort.Strings(names)

	removed := make(map[string]int, len(j.stores))
	var errs []error

	for _, name := range names {
		n, err := j.stores[name].Sweep(ctx, maxAge)
		removed[name] = n
		if err != nil {
			errs = append(errs, fmt.Errorf("sweeping %s: %w", name, err))
		}
	}

	return removed, errors.Join(errs...)
}
