package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizforge/credpool/src/logging"
	"github.com/quizforge/credpool/src/repositories"
)

// HealthMonitor periodically probes active keys and feeds the results
// into the circuit breaker through the same recordSuccess/recordFailure
// contract every other failure source uses. The probe is shallow (can
// the stored blob still be decrypted), which catches key-material and
// encryption-config drift without spending provider quota.
type HealthMonitor struct {
	repo     repositories.CredentialRepository
	breaker  *CircuitBreaker
	interval time.Duration
	done     chan struct{}
	log      zerolog.Logger
}

// NewHealthMonitor creates a health monitor.
func NewHealthMonitor(repo repositories.CredentialRepository, breaker *CircuitBreaker, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &HealthMonitor{
		repo:     repo,
		breaker:  breaker,
		interval: interval,
		done:     make(chan struct{}),
		log:      logging.NewLogger("health_monitor"),
	}
}

// Start begins periodic scans. The first scan runs immediately.
func (hm *HealthMonitor) Start(ctx context.Context) {
	go func() {
		hm.ScanOnce(ctx)

		ticker := time.NewTicker(hm.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-hm.done:
				return
			case <-ticker.C:
				hm.ScanOnce(ctx)
			}
		}
	}()

	hm.log.Info().Dur("interval", hm.interval).Msg("health monitor started")
}

// Stop terminates the scan loop.
func (hm *HealthMonitor) Stop() {
	close(hm.done)
}

// ScanOnce probes every active key once.
func (hm *HealthMonitor) ScanOnce(ctx context.Context) {
	keys, err := hm.repo.ListActiveKeys(ctx)
	if err != nil {
		hm.log.Error().Err(err).Msg("health scan could not list keys")
		return
	}

	var unhealthy int
	for _, k := range keys {
		if _, err := hm.repo.Decrypt(k.EncryptedBlob); err != nil {
			unhealthy++
			hm.log.Warn().
				Int64("key_id", k.ID).
				Str("key", k.HashSuffix()).
				Err(err).
				Msg("health probe failed")
			if err := hm.breaker.RecordFailure(ctx, k.ID, false); err != nil {
				hm.log.Error().Err(err).Int64("key_id", k.ID).Msg("could not record probe failure")
			}
			continue
		}
		if err := hm.breaker.RecordSuccess(ctx, k.ID); err != nil {
			hm.log.Error().Err(err).Int64("key_id", k.ID).Msg("could not record probe success")
		}
	}

	hm.log.Info().
		Int("scanned", len(keys)).
		Int("unhealthy", unhealthy).
		Msg("health scan complete")
}
