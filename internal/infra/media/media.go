// Package media provides the playback resource contracts and their
// implementations. Decoding and audio output are delegated further out;
// a Resource here tracks transport state (position, speed, volume, end).
package media

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/audiopro/internal/domain/track"
)

// ErrAcquisition marks failures to acquire a playback resource.
var ErrAcquisition = errors.New("resource acquisition failed")

// Resource is an acquired, playable media resource.
type Resource interface {
	Play()
	Pause()
	// SeekTo moves the playhead and returns the applied position.
	SeekTo(pos time.Duration) time.Duration
	SetSpeed(speed float64)
	SetVolume(volume float64)
	Position() time.Duration
	// Duration returns 0 while the duration is unknown.
	Duration() time.Duration
	// Finished receives nil when the resource plays to its end, or the
	// error that aborted playback.
	Finished() <-chan error
	Close() error
}

// Loader acquires resources for tracks.
type Loader interface {
	Load(ctx context.Context, t track.Track, opts track.Options) (Resource, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, t track.Track, opts track.Options) (Resource, error)

// Load calls f(ctx, t, opts).
func (f LoaderFunc) Load(ctx context.Context, t track.Track, opts track.Options) (Resource, error) {
	return f(ctx, t, opts)
}

// IsAcquisitionError reports whether err is a resource acquisition failure.
func IsAcquisitionError(err error) bool {
	return errors.Is(err, ErrAcquisition)
}
