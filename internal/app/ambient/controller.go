// Package ambient provides the ambient sound controller. It runs next to
// the main playback session with its own lifecycle and a single looping
// (or one-shot) background sound.
package ambient

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiopro/internal/domain/event"
	"github.com/osa030/audiopro/internal/domain/track"
	"github.com/osa030/audiopro/internal/infra/media"
)

// Status represents the ambient channel status.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusPlaying
	StatusPaused
	StatusStopped
	StatusError
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusLoading:
		return "LOADING"
	case StatusPlaying:
		return "PLAYING"
	case StatusPaused:
		return "PAUSED"
	case StatusStopped:
		return "STOPPED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Config holds ambient controller configuration.
type Config struct {
	LoadTimeout   time.Duration // 0 means no timeout
	InitialVolume float64
}

// Snapshot is a point-in-time copy of the ambient state.
type Snapshot struct {
	Status   Status
	URL      string
	Loop     bool
	Position time.Duration
	Duration time.Duration
	Volume   float64
}

// Controller owns the ambient sound. Operations are serialized by mu and
// acquisition runs in the background; results from a superseded play are
// released and ignored.
type Controller struct {
	mu sync.Mutex

	status     Status
	opts       *track.AmbientOptions
	volume     float64
	resource   media.Resource
	generation uint64

	loadCancel  context.CancelFunc
	watchCancel context.CancelFunc
	seekEpoch   atomic.Uint64 // bumped by every applied seek

	loader media.Loader
	sink   event.Sink
	config Config

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates an ambient controller publishing to sink.
func NewController(config Config, loader media.Loader, sink event.Sink) *Controller {
	if sink == nil {
		sink = event.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		status: StatusIdle,
		volume: clampVolume(config.InitialVolume, 1.0),
		loader: loader,
		sink:   sink,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Play replaces the current ambient sound with opts.URL. It returns once
// the channel is LOADING.
func (c *Controller) Play(opts track.AmbientOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return
	}

	c.releaseLocked()
	c.generation++
	gen := c.generation

	accepted := opts
	c.opts = &accepted
	if opts.Volume != nil {
		c.volume = clampVolume(*opts.Volume, c.volume)
	}

	zlog.Info().Msgf("ambient: play requested: url=%s loop=%t", opts.URL, opts.ShouldLoop())

	t := opts.AsTrack()
	if err := t.Validate(); err != nil {
		c.failLocked(err, event.ErrorCodeInvalidTrack)
		return
	}

	c.setStatusLocked(StatusLoading, event.TriggerUser)

	var ctx context.Context
	var cancel context.CancelFunc
	if c.config.LoadTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.config.LoadTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	c.loadCancel = cancel

	go c.load(ctx, gen, t, track.Options{Headers: opts.Headers, CachePolicy: track.CacheDefault})
}

// Stop releases the ambient sound. No-op when nothing is loaded or loading.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Pause pauses the ambient sound. No-op unless PLAYING.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusPlaying || c.resource == nil {
		return
	}
	c.resource.Pause()
	c.setStatusLocked(StatusPaused, event.TriggerUser)
}

// Resume resumes the ambient sound. No-op unless PAUSED.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusPaused || c.resource == nil {
		return
	}
	c.resource.Play()
	c.setStatusLocked(StatusPlaying, event.TriggerUser)
}

// SetVolume sets the ambient volume, clamped into [0, 1]. The volume is
// kept for subsequent sounds.
func (c *Controller) SetVolume(volume float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.volume = clampVolume(volume, c.volume)
	if c.resource != nil {
		c.resource.SetVolume(c.volume)
	}
}

// SeekTo seeks the ambient sound. No-op unless PLAYING or PAUSED.
func (c *Controller) SeekTo(positionMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if (c.status != StatusPlaying && c.status != StatusPaused) || c.resource == nil {
		return
	}
	pos := track.MsToDuration(positionMs)
	if pos < 0 {
		pos = 0
	}
	if d := c.resource.Duration(); d > 0 && pos > d {
		pos = d
	}
	c.resource.SeekTo(pos)
	c.seekEpoch.Add(1)
}

// Snapshot returns the current ambient state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{Status: c.status, Volume: c.volume}
	if c.opts != nil {
		s.URL = c.opts.URL
		s.Loop = c.opts.ShouldLoop()
	}
	if c.resource != nil {
		s.Position = c.resource.Position()
		s.Duration = c.resource.Duration()
	}
	return s
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close stops the ambient sound. Later commands are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.cancel()
}

func (c *Controller) load(ctx context.Context, gen uint64, t track.Track, opts track.Options) {
	res, err := c.loader.Load(ctx, t, opts)
	if err == nil && res == nil {
		err = errors.Mark(errors.New("loader returned no resource"), media.ErrAcquisition)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.status != StatusLoading {
		zlog.Debug().Msgf("ambient: discarding stale load result: generation=%d current=%d", gen, c.generation)
		if res != nil {
			if cerr := res.Close(); cerr != nil {
				zlog.Warn().Msgf("ambient: failed to release discarded resource: %v", cerr)
			}
		}
		return
	}
	if c.loadCancel != nil {
		c.loadCancel()
		c.loadCancel = nil
	}
	if err != nil {
		c.failLocked(err, event.ErrorCodeAcquisition)
		return
	}

	c.resource = res
	res.SetVolume(c.volume)
	res.Play()
	c.watchLocked(gen, res)
	c.setStatusLocked(StatusPlaying, event.TriggerSystem)
}

func (c *Controller) watchLocked(gen uint64, res media.Resource) {
	if c.watchCancel != nil {
		c.watchCancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.watchCancel = cancel

	go func() {
		select {
		case <-ctx.Done():
		case err := <-res.Finished():
			c.onFinished(gen, c.seekEpoch.Load(), err)
		}
	}()
}

// onFinished handles the end of the sound. epoch is the seek epoch seen
// when the end was received; a later seek means the sound moved on.
func (c *Controller) onFinished(gen, epoch uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.resource == nil {
		return
	}
	if err != nil {
		c.failLocked(err, event.ErrorCodePlayback)
		return
	}

	res := c.resource
	if epoch != c.seekEpoch.Load() {
		if c.status == StatusPlaying {
			res.Play()
		}
		c.watchLocked(gen, res)
		return
	}

	if c.opts.ShouldLoop() {
		zlog.Debug().Msgf("ambient: looping: url=%s", c.opts.URL)
		res.SeekTo(0)
		if c.status == StatusPlaying {
			res.Play()
		}
		c.watchLocked(gen, res)
		return
	}

	// Paused at the end: the sound finishes once resumed.
	if c.status != StatusPlaying {
		c.watchLocked(gen, res)
		return
	}

	c.emitLocked(event.AmbientTrackEnded, event.TriggerSystem, c.payloadLocked())
	c.releaseLocked()
	c.generation++
	c.setStatusLocked(StatusStopped, event.TriggerSystem)
}

func (c *Controller) stopLocked() {
	if c.status == StatusIdle || c.status == StatusStopped {
		return
	}
	c.releaseLocked()
	c.generation++
	c.setStatusLocked(StatusStopped, event.TriggerUser)
}

func (c *Controller) failLocked(err error, code event.ErrorCode) {
	zlog.Error().Msgf("ambient: playback failed: err=%v", err)

	c.releaseLocked()
	c.generation++

	payload := c.payloadLocked()
	payload.Error = err.Error()
	payload.ErrorCode = code
	c.emitLocked(event.AmbientError, event.TriggerSystem, payload)
	c.setStatusLocked(StatusError, event.TriggerSystem)
}

func (c *Controller) releaseLocked() {
	if c.loadCancel != nil {
		c.loadCancel()
		c.loadCancel = nil
	}
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	if c.resource == nil {
		return
	}
	if err := c.resource.Close(); err != nil {
		zlog.Warn().Msgf("ambient: failed to release resource: %v", err)
	}
	c.resource = nil
}

func (c *Controller) setStatusLocked(next Status, trigger event.TriggerSource) {
	if next == c.status {
		return
	}
	zlog.Info().Msgf("ambient: state changed: %s -> %s", c.status, next)
	c.status = next
	c.emitLocked(event.AmbientStateChanged, trigger, c.payloadLocked())
}

func (c *Controller) emitLocked(typ event.Type, trigger event.TriggerSource, payload event.Payload) {
	c.sink.Publish(event.Event{
		Type:    typ,
		Source:  event.SourceAmbient,
		Trigger: trigger,
		Payload: payload,
	})
}

func (c *Controller) payloadLocked() event.Payload {
	p := event.Payload{State: c.status.String()}
	if c.resource != nil {
		p.PositionMs = c.resource.Position().Milliseconds()
		p.DurationMs = c.resource.Duration().Milliseconds()
	}
	return p
}

func clampVolume(v, fallback float64) float64 {
	if math.IsNaN(v) {
		v = fallback
	}
	return math.Min(math.Max(v, 0), 1)
}
