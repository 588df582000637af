// Package bridge provides the boundary that exposes the main playback
// session and the ambient channel to an embedding application.
//
// Payloads arrive as loosely typed maps and are decoded here. Playback
// failures never come back as errors: they are reported on the event
// channel. Only malformed requests are rejected.
package bridge

import (
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiopro/internal/app/ambient"
	"github.com/osa030/audiopro/internal/app/notification"
	"github.com/osa030/audiopro/internal/app/playback"
	"github.com/osa030/audiopro/internal/domain/track"
	"github.com/osa030/audiopro/internal/infra/media"
	"github.com/osa030/audiopro/internal/infra/store"
)

// ErrInvalidArgument marks requests that could not be decoded.
var ErrInvalidArgument = errors.New("invalid argument")

// PreferenceStore persists user preferences across restarts.
type PreferenceStore interface {
	Load() (store.Preferences, bool, error)
	SaveDebounced(store.Preferences)
}

// Config holds bridge configuration.
type Config struct {
	Playback        playback.Config
	Ambient         ambient.Config
	EventBufferSize int
}

// State is the combined state of both channels.
type State struct {
	Main    playback.Snapshot
	Ambient ambient.Snapshot
}

// Bridge is the owned handle on the audio engine. Create one with New and
// release it with Shutdown.
type Bridge struct {
	playback     *playback.Controller
	ambient      *ambient.Controller
	notification *notification.Manager
	prefs        PreferenceStore

	shutdownOnce sync.Once
	done         chan struct{}
}

// New creates a bridge. mainLoader and ambientLoader acquire resources for
// the two channels; prefs may be nil.
func New(cfg Config, mainLoader, ambientLoader media.Loader, prefs PreferenceStore) *Bridge {
	if prefs != nil {
		saved, ok, err := prefs.Load()
		switch {
		case err != nil:
			zlog.Warn().Msgf("bridge: failed to restore preferences: %v", err)
		case ok:
			zlog.Info().Msgf("bridge: restored preferences: volume=%.2f speed=%.2f ambient_volume=%.2f",
				saved.Volume, saved.Speed, saved.AmbientVolume)
			cfg.Playback.InitialVolume = saved.Volume
			cfg.Playback.InitialSpeed = saved.Speed
			cfg.Ambient.InitialVolume = saved.AmbientVolume
		}
	}

	n := notification.NewManager(cfg.EventBufferSize)
	return &Bridge{
		playback:     playback.NewController(cfg.Playback, mainLoader, n),
		ambient:      ambient.NewController(cfg.Ambient, ambientLoader, n),
		notification: n,
		prefs:        prefs,
		done:         make(chan struct{}),
	}
}

// Play decodes trackMap and optionsMap and starts a new session.
func (b *Bridge) Play(trackMap, optionsMap map[string]any) error {
	t, err := track.DecodeTrack(trackMap)
	if err != nil {
		return errors.Mark(err, ErrInvalidArgument)
	}
	opts, err := track.DecodeOptions(optionsMap)
	if err != nil {
		return errors.Mark(err, ErrInvalidArgument)
	}
	b.PlayTrack(t, opts)
	return nil
}

// PlayTrack starts a new session for an already decoded track.
func (b *Bridge) PlayTrack(t track.Track, opts track.Options) {
	b.playback.Play(t, opts)
}

// Pause pauses the main session.
func (b *Bridge) Pause() { b.playback.Pause() }

// Resume resumes the main session.
func (b *Bridge) Resume() { b.playback.Resume() }

// Stop stops the main session and releases its resource.
func (b *Bridge) Stop() { b.playback.Stop() }

// Clear tears the main session down to IDLE.
func (b *Bridge) Clear() { b.playback.Clear() }

// SeekTo seeks the main session to positionMs.
func (b *Bridge) SeekTo(positionMs int64) { b.playback.SeekTo(positionMs) }

// SeekForward seeks the main session forward by amountMs.
func (b *Bridge) SeekForward(amountMs int64) { b.playback.SeekForward(amountMs) }

// SeekBack seeks the main session back by amountMs.
func (b *Bridge) SeekBack(amountMs int64) { b.playback.SeekBack(amountMs) }

// SetPlaybackSpeed sets the main playback speed and remembers it.
func (b *Bridge) SetPlaybackSpeed(speed float64) {
	b.playback.SetPlaybackSpeed(speed)
	b.savePreferences()
}

// SetVolume sets the main volume and remembers it.
func (b *Bridge) SetVolume(volume float64) {
	b.playback.SetVolume(volume)
	b.savePreferences()
}

// HandleRemote applies a command from a remote-control transport.
func (b *Bridge) HandleRemote(command string, positionMs int64) error {
	cmd := playback.RemoteCommand(command)
	switch cmd {
	case playback.RemoteNext, playback.RemotePrev, playback.RemotePlay, playback.RemotePause, playback.RemoteSeek:
	default:
		return errors.Mark(errors.Newf("unknown remote command: %q", command), ErrInvalidArgument)
	}
	b.playback.HandleRemote(cmd, positionMs)
	return nil
}

// AmbientPlay decodes optionsMap and starts the ambient sound.
func (b *Bridge) AmbientPlay(optionsMap map[string]any) error {
	opts, err := track.DecodeAmbientOptions(optionsMap)
	if err != nil {
		return errors.Mark(err, ErrInvalidArgument)
	}
	b.AmbientPlayOptions(opts)
	return nil
}

// AmbientPlayOptions starts the ambient sound with decoded options.
func (b *Bridge) AmbientPlayOptions(opts track.AmbientOptions) {
	b.ambient.Play(opts)
	if opts.Volume != nil {
		b.savePreferences()
	}
}

// AmbientStop stops the ambient sound.
func (b *Bridge) AmbientStop() { b.ambient.Stop() }

// AmbientPause pauses the ambient sound.
func (b *Bridge) AmbientPause() { b.ambient.Pause() }

// AmbientResume resumes the ambient sound.
func (b *Bridge) AmbientResume() { b.ambient.Resume() }

// AmbientSeekTo seeks the ambient sound to positionMs.
func (b *Bridge) AmbientSeekTo(positionMs int64) { b.ambient.SeekTo(positionMs) }

// AmbientSetVolume sets the ambient volume and remembers it.
func (b *Bridge) AmbientSetVolume(volume float64) {
	b.ambient.SetVolume(volume)
	b.savePreferences()
}

// State returns the state of both channels.
func (b *Bridge) State() State {
	return State{
		Main:    b.playback.Snapshot(),
		Ambient: b.ambient.Snapshot(),
	}
}

// Subscribe attaches stream to the event channel. done is closed when the
// subscription ends.
func (b *Bridge) Subscribe(stream notification.Stream) (id string, done <-chan struct{}) {
	return b.notification.Subscribe(stream)
}

// SubscribeWithInitial attaches stream like Subscribe. initial sends the
// first message with its reserved sequence number before any live event.
func (b *Bridge) SubscribeWithInitial(stream notification.Stream, initial func(sequenceNo uint64) error) (id string, done <-chan struct{}) {
	return b.notification.SubscribeWithInitial(stream, initial)
}

// SubscriberCount returns the number of attached subscribers.
func (b *Bridge) SubscriberCount() int {
	return b.notification.SubscriberCount()
}

// Unsubscribe detaches a subscriber.
func (b *Bridge) Unsubscribe(id string) {
	b.notification.Unsubscribe(id)
}

// OnHostDestroy is the safety net for host teardown: it clears the main
// session and stops the ambient sound. The bridge stays usable.
func (b *Bridge) OnHostDestroy() {
	zlog.Info().Msg("bridge: host destroyed, clearing playback")
	b.playback.Clear()
	b.ambient.Stop()
}

// Shutdown releases both channels and ends every subscription. Later calls
// are no-ops, and commands issued afterwards are ignored.
func (b *Bridge) Shutdown() {
	b.shutdownOnce.Do(func() {
		zlog.Info().Msg("bridge: shutting down")
		b.OnHostDestroy()
		b.playback.Close()
		b.ambient.Close()
		b.notification.Close()
		close(b.done)
	})
}

// Done is closed once Shutdown has completed.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func (b *Bridge) savePreferences() {
	if b.prefs == nil {
		return
	}
	main := b.playback.Snapshot()
	amb := b.ambient.Snapshot()
	b.prefs.SaveDebounced(store.Preferences{
		Volume:        main.Volume,
		Speed:         main.Speed,
		AmbientVolume: amb.Volume,
	})
}
