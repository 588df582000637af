package playback

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiopro/internal/domain/event"
	"github.com/osa030/audiopro/internal/domain/track"
	"github.com/osa030/audiopro/internal/infra/media"
)

// Config holds controller configuration.
type Config struct {
	ProgressInterval time.Duration // 0 disables progress events
	LoadTimeout      time.Duration // 0 means no timeout
	MinSpeed         float64
	MaxSpeed         float64
	InitialVolume    float64
	InitialSpeed     float64
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		ProgressInterval: time.Second,
		LoadTimeout:      30 * time.Second,
		MinSpeed:         0.25,
		MaxSpeed:         4.0,
		InitialVolume:    1.0,
		InitialSpeed:     1.0,
	}
}

// RemoteCommand is a command received from a remote-control transport.
type RemoteCommand string

const (
	RemoteNext  RemoteCommand = "next"
	RemotePrev  RemoteCommand = "prev"
	RemotePlay  RemoteCommand = "play"
	RemotePause RemoteCommand = "pause"
	RemoteSeek  RemoteCommand = "seek"
)

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	SessionID string
	Status    Status
	Position  time.Duration
	Duration  time.Duration
	Speed     float64
	Volume    float64
	Track     *track.Track
}

// Controller owns one playback session. Commands are serialized through a
// Dispatcher and applied under mu; invalid commands are ignored.
type Controller struct {
	mu sync.Mutex

	// Session state
	sessionID string
	status    Status
	current   *track.Track
	opts      track.Options
	position  time.Duration // last known position
	duration  time.Duration // 0 while unknown
	speed     float64
	volume    float64

	// Resource
	resource    media.Resource
	generation  uint64 // bumped whenever the session resource is replaced or released
	loadCancel  context.CancelFunc
	watchCancel context.CancelFunc
	seekEpoch   atomic.Uint64 // bumped by every applied seek

	loader     media.Loader
	sink       event.Sink
	dispatcher *Dispatcher
	progress   *progressTicker
	config     Config

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a playback controller publishing to sink.
func NewController(config Config, loader media.Loader, sink event.Sink) *Controller {
	if config.MinSpeed <= 0 {
		config.MinSpeed = 0.25
	}
	if config.MaxSpeed < config.MinSpeed {
		config.MaxSpeed = config.MinSpeed
	}
	if sink == nil {
		sink = event.Discard
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		status:     StatusIdle,
		loader:     loader,
		sink:       sink,
		dispatcher: NewDispatcher(),
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
	}
	if config.InitialSpeed <= 0 {
		config.InitialSpeed = 1.0
	}
	c.speed = c.clampSpeed(config.InitialSpeed, 1.0)
	c.volume = clampVolume(config.InitialVolume, 1.0)
	c.progress = newProgressTicker(config.ProgressInterval, c.emitProgress)
	return c
}

// Play starts a new session for t. The call returns once the session is
// LOADING; acquisition completes asynchronously.
func (c *Controller) Play(t track.Track, opts track.Options) {
	c.do("play", func() { c.playLocked(t, opts) })
}

// Pause pauses playback. No-op unless PLAYING.
func (c *Controller) Pause() {
	c.do("pause", func() { c.pauseLocked() })
}

// Resume resumes playback. No-op unless PAUSED.
func (c *Controller) Resume() {
	c.do("resume", func() { c.resumeLocked() })
}

// Stop releases the resource and moves to STOPPED.
func (c *Controller) Stop() {
	c.do("stop", func() { c.stopLocked() })
}

// SeekTo seeks to an absolute position in milliseconds.
func (c *Controller) SeekTo(positionMs int64) {
	c.do("seek_to", func() {
		c.seekLocked(func(time.Duration) time.Duration { return track.MsToDuration(positionMs) }, event.TriggerUser)
	})
}

// SeekForward seeks forward by amountMs.
func (c *Controller) SeekForward(amountMs int64) {
	amount := track.MsToDuration(absMs(amountMs))
	c.do("seek_forward", func() {
		c.seekLocked(func(pos time.Duration) time.Duration { return addDuration(pos, amount) }, event.TriggerUser)
	})
}

// SeekBack seeks backward by amountMs.
func (c *Controller) SeekBack(amountMs int64) {
	amount := track.MsToDuration(absMs(amountMs))
	c.do("seek_back", func() {
		c.seekLocked(func(pos time.Duration) time.Duration { return addDuration(pos, -amount) }, event.TriggerUser)
	})
}

// SetPlaybackSpeed sets the playback speed, clamped into the configured range.
func (c *Controller) SetPlaybackSpeed(speed float64) {
	c.do("set_speed", func() { c.setSpeedLocked(speed) })
}

// SetVolume sets the volume, clamped into [0, 1].
func (c *Controller) SetVolume(volume float64) {
	c.do("set_volume", func() { c.setVolumeLocked(volume) })
}

// HandleRemote applies a command from a remote-control transport.
// positionMs is only used by RemoteSeek.
func (c *Controller) HandleRemote(cmd RemoteCommand, positionMs int64) {
	c.do("remote_"+string(cmd), func() {
		switch cmd {
		case RemoteNext:
			if c.current != nil {
				c.emitLocked(event.RemoteNext, event.TriggerSystem, c.payloadLocked())
			}
		case RemotePrev:
			if c.current != nil {
				c.emitLocked(event.RemotePrev, event.TriggerSystem, c.payloadLocked())
			}
		case RemotePlay:
			c.resumeLocked()
		case RemotePause:
			c.pauseLocked()
		case RemoteSeek:
			c.seekLocked(func(time.Duration) time.Duration { return track.MsToDuration(positionMs) }, event.TriggerSystem)
		default:
			zlog.Debug().Msgf("playback: ignoring unknown remote command: %s", cmd)
		}
	})
}

// Clear tears the session down and returns to IDLE. Pending commands are
// dropped and in-flight loading is cancelled. The resource is released
// before Clear returns. It is safe to call at any time, any number of times.
func (c *Controller) Clear() {
	c.dispatcher.Flush()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resource != nil {
		c.position = c.resource.Position()
	}
	var t *track.Track
	if c.current != nil {
		cp := *c.current
		t = &cp
	}
	return Snapshot{
		SessionID: c.sessionID,
		Status:    c.status,
		Position:  c.position,
		Duration:  c.duration,
		Speed:     c.speed,
		Volume:    c.volume,
		Track:     t,
	}
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close clears the session and stops the dispatcher. Commands issued
// afterwards are ignored.
func (c *Controller) Close() {
	c.Clear()
	c.dispatcher.Close()
	c.cancel()
}

// do runs fn on the dispatcher under mu and waits for it to complete.
func (c *Controller) do(name string, fn func()) {
	<-c.dispatcher.Submit(Job{
		Name: name,
		Run: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			fn()
		},
	})
}

// post enqueues fn without waiting. drop runs if fn never will.
func (c *Controller) post(name string, fn, drop func()) {
	c.dispatcher.Submit(Job{
		Name: name,
		Run: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			fn()
		},
		Drop: drop,
	})
}

func (c *Controller) playLocked(t track.Track, opts track.Options) {
	c.releaseLocked()
	c.generation++
	gen := c.generation

	accepted := t
	c.sessionID = uuid.New().String()
	c.current = &accepted
	c.opts = opts
	c.position = 0
	c.duration = t.Duration()

	zlog.Info().Msgf("playback: play requested: session_id=%s track=%s url=%s", c.sessionID, t.ID, t.URL)

	if err := t.Validate(); err != nil {
		c.failLocked(err, event.ErrorCodeInvalidTrack)
		return
	}

	// A new track always announces LOADING, even when replacing one that
	// was still loading.
	c.status, _ = Transition(c.status, CmdPlay)
	zlog.Info().Msgf("playback: state changed: -> %s", c.status)
	c.emitLocked(event.StateChanged, event.TriggerUser, c.payloadLocked())

	var ctx context.Context
	var cancel context.CancelFunc
	if c.config.LoadTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.config.LoadTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	c.loadCancel = cancel

	go c.load(ctx, gen, accepted, opts)
}

// load acquires the resource outside the lock and hands the result back
// to the dispatcher.
func (c *Controller) load(ctx context.Context, gen uint64, t track.Track, opts track.Options) {
	res, err := c.loader.Load(ctx, t, opts)
	if err == nil && res == nil {
		err = errors.Mark(errors.New("loader returned no resource"), media.ErrAcquisition)
	}

	c.post("loaded",
		func() { c.onLoadedLocked(gen, res, err) },
		func() { closeQuietly(res) },
	)
}

func (c *Controller) onLoadedLocked(gen uint64, res media.Resource, err error) {
	if gen != c.generation || c.status != StatusLoading {
		zlog.Debug().Msgf("playback: discarding stale load result: generation=%d current=%d", gen, c.generation)
		closeQuietly(res)
		return
	}
	if c.loadCancel != nil {
		c.loadCancel()
		c.loadCancel = nil
	}

	if err != nil {
		c.failLocked(err, acquisitionErrorCode(err))
		return
	}

	c.resource = res
	res.SetVolume(c.volume)
	res.SetSpeed(c.speed)
	if start := c.opts.StartPosition(); start > 0 {
		c.position = res.SeekTo(c.clampPositionLocked(start, res.Duration()))
	}
	if d := res.Duration(); d > 0 {
		c.duration = d
	}
	c.watchLocked(gen, res)

	if c.opts.ShouldAutoPlay() {
		res.Play()
		c.setStatusLocked(CmdReady, event.TriggerSystem)
		c.progress.Start()
	} else {
		c.setStatusLocked(CmdReadyPaused, event.TriggerSystem)
	}
}

// watchLocked forwards the resource's end-of-track signal to the dispatcher.
// The signal is tagged with the seek epoch at which it was received.
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
			epoch := c.seekEpoch.Load()
			c.post("finished", func() { c.onFinishedLocked(gen, epoch, err) }, nil)
		}
	}()
}

// onFinishedLocked ends the session. An end that raced a pause, or that
// was overtaken by a seek, is not final: the watcher is re-armed so the
// resource can report its end again.
func (c *Controller) onFinishedLocked(gen, epoch uint64, err error) {
	if gen != c.generation || c.resource == nil {
		return
	}
	if err != nil {
		c.failLocked(err, event.ErrorCodePlayback)
		return
	}
	if epoch != c.seekEpoch.Load() {
		zlog.Debug().Msgf("playback: end of track overtaken by a seek: session_id=%s", c.sessionID)
		if c.status == StatusPlaying {
			c.resource.Play()
		}
		c.watchLocked(gen, c.resource)
		return
	}
	if _, ok := Transition(c.status, CmdEnd); !ok {
		zlog.Debug().Msgf("playback: end of track deferred: session_id=%s status=%s", c.sessionID, c.status)
		c.watchLocked(gen, c.resource)
		return
	}

	payload := c.payloadLocked()
	if c.duration > 0 {
		payload.PositionMs = c.duration.Milliseconds()
	}
	c.emitLocked(event.TrackEnded, event.TriggerSystem, payload)
	zlog.Info().Msgf("playback: track ended: session_id=%s track=%s", c.sessionID, c.current.ID)

	c.releaseLocked()
	c.generation++
	c.current = nil
	c.position = 0
	c.duration = 0
	c.setStatusLocked(CmdEnd, event.TriggerSystem)
}

func (c *Controller) pauseLocked() {
	if _, ok := Transition(c.status, CmdPause); !ok || c.resource == nil {
		return
	}
	c.resource.Pause()
	c.position = c.resource.Position()
	c.progress.Stop()
	c.setStatusLocked(CmdPause, event.TriggerUser)
}

func (c *Controller) resumeLocked() {
	if _, ok := Transition(c.status, CmdResume); !ok || c.resource == nil {
		return
	}
	c.resource.Play()
	c.setStatusLocked(CmdResume, event.TriggerUser)
	c.progress.Start()
}

func (c *Controller) stopLocked() {
	if _, ok := Transition(c.status, CmdStop); !ok {
		return
	}
	c.releaseLocked()
	c.generation++
	c.current = nil
	c.position = 0
	c.duration = 0
	c.setStatusLocked(CmdStop, event.TriggerUser)
}

// seekLocked moves the playhead to target(current position), clamped to
// [0, duration], and reports SeekComplete.
func (c *Controller) seekLocked(target func(time.Duration) time.Duration, trigger event.TriggerSource) {
	if _, ok := Transition(c.status, CmdSeek); !ok || c.resource == nil {
		return
	}
	pos := c.clampPositionLocked(target(c.resource.Position()), c.duration)
	c.position = c.resource.SeekTo(pos)
	c.seekEpoch.Add(1)

	payload := c.payloadLocked()
	c.emitLocked(event.SeekComplete, trigger, payload)
	zlog.Debug().Msgf("playback: seek complete: position=%v trigger=%s", c.position, trigger)
}

func (c *Controller) setSpeedLocked(speed float64) {
	c.speed = c.clampSpeed(speed, 1.0)
	if c.resource != nil {
		c.resource.SetSpeed(c.speed)
	}
	c.emitLocked(event.PlaybackSpeedChanged, event.TriggerUser, c.payloadLocked())
}

func (c *Controller) setVolumeLocked(volume float64) {
	c.volume = clampVolume(volume, c.volume)
	if c.resource != nil {
		c.resource.SetVolume(c.volume)
	}
}

func (c *Controller) clearLocked() {
	prev := c.status
	c.releaseLocked()
	c.generation++
	c.sessionID = ""
	c.current = nil
	c.opts = track.Options{}
	c.position = 0
	c.duration = 0

	if prev == StatusIdle {
		return
	}
	zlog.Info().Msgf("playback: session cleared: previous=%s", prev)
	c.setStatusLocked(CmdClear, event.TriggerUser)
}

// failLocked releases the resource and moves to ERROR with a PlaybackError event.
func (c *Controller) failLocked(err error, code event.ErrorCode) {
	zlog.Error().Msgf("playback: playback failed: session_id=%s err=%v", c.sessionID, err)

	c.releaseLocked()
	c.generation++

	payload := c.payloadLocked()
	payload.Error = err.Error()
	payload.ErrorCode = code
	c.emitLocked(event.PlaybackError, event.TriggerSystem, payload)

	// A track rejected before loading reaches ERROR from any status.
	if c.status == StatusError {
		return
	}
	zlog.Info().Msgf("playback: state changed: %s -> %s", c.status, StatusError)
	c.status = StatusError
	c.emitLocked(event.StateChanged, event.TriggerSystem, c.payloadLocked())
}

func acquisitionErrorCode(err error) event.ErrorCode {
	if errors.Is(err, track.ErrInvalidTrack) {
		return event.ErrorCodeInvalidTrack
	}
	return event.ErrorCodeAcquisition
}

// releaseLocked cancels loading and watchers and releases the resource.
// Release failures are logged and never abort teardown.
func (c *Controller) releaseLocked() {
	if c.loadCancel != nil {
		c.loadCancel()
		c.loadCancel = nil
	}
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	c.progress.Stop()

	if c.resource == nil {
		return
	}
	if err := c.resource.Close(); err != nil {
		zlog.Warn().Msgf("playback: failed to release resource: session_id=%s err=%v", c.sessionID, err)
	}
	c.resource = nil
}

// setStatusLocked applies cmd and emits StateChanged when the status changes.
func (c *Controller) setStatusLocked(cmd Command, trigger event.TriggerSource) {
	next, ok := Transition(c.status, cmd)
	if !ok || next == c.status {
		return
	}
	zlog.Info().Msgf("playback: state changed: %s -> %s", c.status, next)
	c.status = next
	c.emitLocked(event.StateChanged, trigger, c.payloadLocked())
}

// emitProgress runs on the progress ticker. It skips the tick instead of
// waiting when a command holds the lock.
func (c *Controller) emitProgress() {
	if !c.mu.TryLock() {
		return
	}
	defer c.mu.Unlock()

	if c.status != StatusPlaying || c.resource == nil {
		return
	}
	c.position = c.resource.Position()
	c.emitLocked(event.Progress, event.TriggerNone, c.payloadLocked())
}

func (c *Controller) emitLocked(typ event.Type, trigger event.TriggerSource, payload event.Payload) {
	c.sink.Publish(event.Event{
		Type:    typ,
		Source:  event.SourceMain,
		Trigger: trigger,
		Payload: payload,
	})
}

func (c *Controller) payloadLocked() event.Payload {
	if c.resource != nil {
		c.position = c.resource.Position()
	}
	var t *track.Track
	if c.current != nil {
		cp := *c.current
		t = &cp
	}
	return event.Payload{
		State:      c.status.String(),
		Track:      t,
		PositionMs: c.position.Milliseconds(),
		DurationMs: c.duration.Milliseconds(),
		Speed:      c.speed,
	}
}

func (c *Controller) clampPositionLocked(pos, duration time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if duration > 0 && pos > duration {
		return duration
	}
	return pos
}

func (c *Controller) clampSpeed(speed, fallback float64) float64 {
	if math.IsNaN(speed) {
		speed = fallback
	}
	return math.Min(math.Max(speed, c.config.MinSpeed), c.config.MaxSpeed)
}

// clampVolume clamps v into [0, 1]. NaN yields fallback.
func clampVolume(v, fallback float64) float64 {
	if math.IsNaN(v) {
		v = fallback
	}
	return math.Min(math.Max(v, 0), 1)
}

func absMs(ms int64) int64 {
	switch {
	case ms == math.MinInt64:
		return math.MaxInt64
	case ms < 0:
		return -ms
	default:
		return ms
	}
}

// addDuration returns a+b, saturating at the Duration range.
func addDuration(a, b time.Duration) time.Duration {
	sum := a + b
	switch {
	case b > 0 && sum < a:
		return math.MaxInt64
	case b < 0 && sum > a:
		return math.MinInt64
	default:
		return sum
	}
}

func closeQuietly(res media.Resource) {
	if res == nil {
		return
	}
	if err := res.Close(); err != nil {
		zlog.Warn().Msgf("playback: failed to release discarded resource: %v", err)
	}
}
