package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizforge/credpool/src/cache"
	"github.com/quizforge/credpool/src/logging"
)

// MaintenanceService runs the pool's scheduled entry points in-process:
// the sub-hourly sweep of expired temporary blocks and the daily rollover
// (quota reset plus exhaustion cache flush). Deployments that drive these
// from an external scheduler disable it via config and call RunSweep /
// RunDailyRollover directly.
type MaintenanceService struct {
	quota   *QuotaTracker
	breaker *CircuitBreaker
	cache   cache.Store

	enabled       bool
	sweepInterval time.Duration
	resetHourUTC  int

	now  func() time.Time
	done chan struct{}
	log  zerolog.Logger

	lastResetDay string
}

// NewMaintenanceService creates the maintenance service.
func NewMaintenanceService(quota *QuotaTracker, breaker *CircuitBreaker, cacheStore cache.Store, enabled bool, sweepInterval time.Duration, resetHourUTC int) *MaintenanceService {
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Minute
	}
	return &MaintenanceService{
		quota:         quota,
		breaker:       breaker,
		cache:         cacheStore,
		enabled:       enabled,
		sweepInterval: sweepInterval,
		resetHourUTC:  resetHourUTC,
		now:           time.Now,
		done:          make(chan struct{}),
		log:           logging.NewLogger("maintenance"),
	}
}

// Start begins the periodic loops. Returns immediately.
func (ms *MaintenanceService) Start(ctx context.Context) {
	if !ms.enabled {
		ms.log.Info().Msg("maintenance service disabled; external scheduler expected")
		return
	}

	// Remember today so a restart after the reset hour doesn't re-run
	// the rollover (it is idempotent anyway, but the cache flush isn't
	// free)
	if ms.now().UTC().Hour() >= ms.resetHourUTC {
		ms.lastResetDay = ms.now().UTC().Format("2006-01-02")
	}

	go func() {
		sweep := time.NewTicker(ms.sweepInterval)
		rollover := time.NewTicker(time.Minute)
		defer sweep.Stop()
		defer rollover.Stop()

		for {
			select {
			case <-ctx.Done():
				ms.log.Info().Msg("maintenance service stopped")
				return
			case <-ms.done:
				ms.log.Info().Msg("maintenance service stopped")
				return
			case <-sweep.C:
				ms.RunSweep(ctx)
			case <-rollover.C:
				ms.maybeRollover(ctx)
			}
		}
	}()

	ms.log.Info().
		Dur("sweep_interval", ms.sweepInterval).
		Int("reset_hour_utc", ms.resetHourUTC).
		Msg("maintenance service started")
}

// Stop terminates the periodic loops.
func (ms *MaintenanceService) Stop() {
	close(ms.done)
}

// RunSweep lifts expired temporary blocks.
func (ms *MaintenanceService) RunSweep(ctx context.Context) {
	if _, err := ms.breaker.SweepExpiredBlocks(ctx); err != nil {
		ms.log.Error().Err(err).Msg("block sweep failed")
	}
}

// RunDailyRollover resets all daily quotas and flushes the exhaustion
// cache so yesterday's marks do not outlive their quota period.
func (ms *MaintenanceService) RunDailyRollover(ctx context.Context) {
	if _, err := ms.quota.ResetAll(ctx); err != nil {
		ms.log.Error().Err(err).Msg("daily quota reset failed")
		return
	}
	if err := ms.cache.ClearAll(ctx); err != nil {
		ms.log.Error().Err(err).Msg("exhaustion cache flush failed")
	}
}

func (ms *MaintenanceService) maybeRollover(ctx context.Context) {
	now := ms.now().UTC()
	today := now.Format("2006-01-02")
	if now.Hour() >= ms.resetHourUTC && today != ms.lastResetDay {
		ms.lastResetDay = today
		ms.log.Info().Str("day", today).Msg("running daily rollover")
		ms.RunDailyRollover(ctx)
	}
}
