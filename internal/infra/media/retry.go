package media

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiopro/internal/domain/track"
)

// Retrying wraps a Loader and retries failed acquisitions with
// exponential backoff. Invalid tracks and cancellations are not retried.
type Retrying struct {
	loader    Loader
	attempts  int
	baseDelay time.Duration
}

// NewRetrying creates a retrying loader. attempts < 1 is treated as 1.
func NewRetrying(loader Loader, attempts int, baseDelay time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{loader: loader, attempts: attempts, baseDelay: baseDelay}
}

// Load implements Loader.
func (r *Retrying) Load(ctx context.Context, t track.Track, opts track.Options) (Resource, error) {
	var lastErr error
	for i := 0; i < r.attempts; i++ {
		if i > 0 {
			delay := r.baseDelay * time.Duration(1<<uint(i-1))
			zlog.Info().Msgf("media: retrying acquisition in %v: track=%s attempt=%d/%d", delay, t.ID, i+1, r.attempts)
			select {
			case <-ctx.Done():
				return nil, errors.Mark(ctx.Err(), ErrAcquisition)
			case <-time.After(delay):
			}
		}

		res, err := r.loader.Load(ctx, t, opts)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if errors.Is(err, track.ErrInvalidTrack) || ctx.Err() != nil {
			break
		}
		zlog.Warn().Msgf("media: acquisition failed (attempt %d/%d): track=%s err=%v", i+1, r.attempts, t.ID, err)
	}
	return nil, errors.Mark(lastErr, ErrAcquisition)
}
