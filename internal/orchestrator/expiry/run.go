package expiry

import (
	"context"
	"time"

	"gatekeeper/internal/metrics"

	"github.com/rs/zerolog"
)

// Expirer closes passes whose end time has passed.
type Expirer interface {
	ExpirePasses(ctx context.Context, now time.Time) (int, error)
}

// Run starts the expiry orchestrator. It sweeps once immediately and then
// every interval until ctx is cancelled.
func Run(ctx context.Context, logger zerolog.Logger, expirer Expirer, interval time.Duration) error {
	logger = logger.With().Str("orchestrator", "expiry").Logger()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger.Info().Dur("interval", interval).Msg("Starting expiry orchestrator")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		Sweep(ctx, logger, expirer, time.Now())
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down expiry orchestrator")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs one expiry pass and returns the number of affected users.
// Failures are logged; the next tick tries again.
func Sweep(ctx context.Context, logger zerolog.Logger, expirer Expirer, now time.Time) int {
	n, err := expirer.ExpirePasses(ctx, now)
	if n > 0 {
		metrics.ExpiredUsersTotal.Add(float64(n))
	}
	if err != nil {
		logger.Error().Err(err).Int("users", n).Msg("Expiry sweep failed")
		return n
	}
	logger.Debug().Int("users", n).Msg("Expiry sweep finished")
	return n
}
