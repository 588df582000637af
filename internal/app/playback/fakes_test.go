package playback

import (
	"context"
	"sync"
	"time"

	"github.com/osa030/audiopro/internal/domain/event"
	"github.com/osa030/audiopro/internal/domain/track"
	"github.com/osa030/audiopro/internal/infra/media"
)

// fakeResource is a media.Resource whose position only moves on seek.
type fakeResource struct {
	mu       sync.Mutex
	position time.Duration
	duration time.Duration
	playing  bool
	speed    float64
	volume   float64
	closed   int
	closeErr error
	finished chan error
}

func newFakeResource(duration time.Duration) *fakeResource {
	return &fakeResource{duration: duration, speed: 1, volume: 1, finished: make(chan error, 1)}
}

func (r *fakeResource) Play() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = true
}

func (r *fakeResource) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = false
}

func (r *fakeResource) SeekTo(pos time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position = pos
	return pos
}

func (r *fakeResource) SetSpeed(speed float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speed = speed
}

func (r *fakeResource) SetVolume(volume float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volume = volume
}

func (r *fakeResource) Position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

func (r *fakeResource) Duration() time.Duration { return r.duration }

func (r *fakeResource) Finished() <-chan error { return r.finished }

func (r *fakeResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	r.playing = false
	return r.closeErr
}

func (r *fakeResource) isPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

func (r *fakeResource) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *fakeResource) settings() (speed, volume float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speed, r.volume
}

// fakeLoader hands out fakeResources. With a gate, Load blocks until the
// gate is closed (and, unless ignoreCancel, until the context ends).
type fakeLoader struct {
	mu           sync.Mutex
	duration     time.Duration
	err          error
	gate         chan struct{}
	ignoreCancel bool
	closeErr     error
	resources    []*fakeResource
}

func (l *fakeLoader) Load(ctx context.Context, t track.Track, opts track.Options) (media.Resource, error) {
	l.mu.Lock()
	gate, ignoreCancel := l.gate, l.ignoreCancel
	l.mu.Unlock()

	if gate != nil {
		if ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	duration := l.duration
	if d := t.Duration(); d > 0 {
		duration = d
	}
	res := newFakeResource(duration)
	res.closeErr = l.closeErr
	l.resources = append(l.resources, res)
	return res, nil
}

func (l *fakeLoader) last() *fakeResource {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.resources) == 0 {
		return nil
	}
	return l.resources[len(l.resources)-1]
}

func (l *fakeLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.resources)
}

// recorder is an event.Sink that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) ofType(typ event.Type) []event.Event {
	var out []event.Event
	for _, e := range r.all() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// states returns the states announced by StateChanged events, in order.
func (r *recorder) states() []string {
	var out []string
	for _, e := range r.ofType(event.StateChanged) {
		out = append(out, e.Payload.State)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
