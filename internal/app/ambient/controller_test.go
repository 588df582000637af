package ambient

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/audiopro/internal/domain/event"
	"github.com/osa030/audiopro/internal/domain/track"
	"github.com/osa030/audiopro/internal/infra/media"
)

type fakeResource struct {
	mu       sync.Mutex
	position time.Duration
	duration time.Duration
	playing  bool
	volume   float64
	plays    int
	closed   bool
	finished chan error
}

func (r *fakeResource) Play() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = true
	r.plays++
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

func (r *fakeResource) SetSpeed(float64) {}

func (r *fakeResource) SetVolume(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volume = v
}

func (r *fakeResource) Position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

func (r *fakeResource) Duration() time.Duration { return r.duration }
func (r *fakeResource) Finished() <-chan error  { return r.finished }

func (r *fakeResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeResource) state() (playing bool, plays int, closed bool, volume float64, pos time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing, r.plays, r.closed, r.volume, r.position
}

type fakeLoader struct {
	mu        sync.Mutex
	err       error
	gate      chan struct{}
	headers   map[string]string
	resources []*fakeResource
}

func (l *fakeLoader) Load(ctx context.Context, t track.Track, opts track.Options) (media.Resource, error) {
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.headers = opts.Headers
	if l.err != nil {
		return nil, l.err
	}
	res := &fakeResource{duration: 30 * time.Second, finished: make(chan error, 1)}
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

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) find(typ event.Type) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) states() []string {
	var out []string
	for _, e := range r.find(event.AmbientStateChanged) {
		out = append(out, e.Payload.State)
	}
	return out
}

func newTestController(t *testing.T, loader *fakeLoader) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := NewController(Config{InitialVolume: 0.8}, loader, rec)
	t.Cleanup(c.Close)
	return c, rec
}

func waitStatus(t *testing.T, c *Controller, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status() == want }, 2*time.Second, 5*time.Millisecond)
}

func boolPtr(b bool) *bool { return &b }

func TestController_PlayAndStop(t *testing.T) {
	loader := &fakeLoader{}
	c, rec := newTestController(t, loader)

	c.Play(track.AmbientOptions{URL: "https://example.com/rain.mp3", Headers: map[string]string{"X-Key": "1"}})
	waitStatus(t, c, StatusPlaying)

	playing, _, _, volume, _ := loader.last().state()
	assert.True(t, playing)
	assert.Equal(t, 0.8, volume)
	assert.Equal(t, map[string]string{"X-Key": "1"}, loader.headers)

	c.Stop()
	assert.Equal(t, StatusStopped, c.Status())
	_, _, closed, _, _ := loader.last().state()
	assert.True(t, closed)

	assert.Equal(t, []string{"LOADING", "PLAYING", "STOPPED"}, rec.states())
	for _, e := range rec.find(event.AmbientStateChanged) {
		assert.Equal(t, event.SourceAmbient, e.Source)
	}

	c.Stop()
	assert.Len(t, rec.states(), 3, "stop is idempotent")
}

func TestController_PauseResumeSeek(t *testing.T) {
	loader := &fakeLoader{}
	c, rec := newTestController(t, loader)

	c.Resume()
	c.SeekTo(1000)
	assert.Equal(t, StatusIdle, c.Status())

	c.Play(track.AmbientOptions{URL: "https://example.com/rain.mp3"})
	waitStatus(t, c, StatusPlaying)

	c.Pause()
	c.Pause()
	assert.Equal(t, StatusPaused, c.Status())

	c.SeekTo(90000)
	_, _, _, _, pos := loader.last().state()
	assert.Equal(t, 30*time.Second, pos)
	c.SeekTo(-10)
	_, _, _, _, pos = loader.last().state()
	assert.Equal(t, time.Duration(0), pos)

	c.Resume()
	assert.Equal(t, StatusPlaying, c.Status())
	assert.Equal(t, []string{"LOADING", "PLAYING", "PAUSED", "PLAYING"}, rec.states())
}

func TestController_Looping(t *testing.T) {
	loader := &fakeLoader{}
	c, rec := newTestController(t, loader)

	c.Play(track.AmbientOptions{URL: "https://example.com/rain.mp3"})
	waitStatus(t, c, StatusPlaying)
	res := loader.last()
	res.SeekTo(30 * time.Second)

	res.finished <- nil
	require.Eventually(t, func() bool {
		_, plays, _, _, _ := res.state()
		return plays == 2
	}, 2*time.Second, 5*time.Millisecond)

	_, _, _, _, pos := res.state()
	assert.Equal(t, time.Duration(0), pos, "looping restarts from the beginning")
	assert.Equal(t, StatusPlaying, c.Status())
	assert.Empty(t, rec.find(event.AmbientTrackEnded))

	// The loop keeps watching the resource.
	res.finished <- nil
	require.Eventually(t, func() bool {
		_, plays, _, _, _ := res.state()
		return plays == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestController_OneShotEnds(t *testing.T) {
	loader := &fakeLoader{}
	c, rec := newTestController(t, loader)

	c.Play(track.AmbientOptions{URL: "https://example.com/chime.mp3", Loop: boolPtr(false)})
	waitStatus(t, c, StatusPlaying)

	loader.last().finished <- nil
	waitStatus(t, c, StatusStopped)

	require.Len(t, rec.find(event.AmbientTrackEnded), 1)
	_, _, closed, _, _ := loader.last().state()
	assert.True(t, closed)
}

// endAfter delivers an end of sound that was received before fn ran but
// handled after it.
func endAfter(c *Controller, fn func()) {
	c.mu.Lock()
	gen, epoch := c.generation, c.seekEpoch.Load()
	c.mu.Unlock()
	fn()
	c.onFinished(gen, epoch, nil)
}

func TestController_LoopEndAfterPauseStaysPaused(t *testing.T) {
	loader := &fakeLoader{}
	c, rec := newTestController(t, loader)

	c.Play(track.AmbientOptions{URL: "https://example.com/rain.mp3"})
	waitStatus(t, c, StatusPlaying)
	res := loader.last()
	res.SeekTo(30 * time.Second)

	endAfter(c, c.Pause)

	playing, plays, _, _, pos := res.state()
	assert.Equal(t, StatusPaused, c.Status())
	assert.False(t, playing)
	assert.Equal(t, 1, plays)
	assert.Equal(t, time.Duration(0), pos)

	c.Resume()
	playing, plays, _, _, _ = res.state()
	assert.True(t, playing)
	assert.Equal(t, 2, plays)
	assert.Equal(t, []string{"LOADING", "PLAYING", "PAUSED", "PLAYING"}, rec.states())
}

func TestController_OneShotEndAfterPause(t *testing.T) {
	loader := &fakeLoader{}
	c, rec := newTestController(t, loader)

	c.Play(track.AmbientOptions{URL: "https://example.com/chime.mp3", Loop: boolPtr(false)})
	waitStatus(t, c, StatusPlaying)
	res := loader.last()

	endAfter(c, c.Pause)

	assert.Equal(t, StatusPaused, c.Status())
	assert.Empty(t, rec.find(event.AmbientTrackEnded))
	_, _, closed, _, _ := res.state()
	assert.False(t, closed)

	c.Resume()
	res.finished <- nil
	waitStatus(t, c, StatusStopped)
	assert.Len(t, rec.find(event.AmbientTrackEnded), 1)
}

func TestController_OneShotEndAfterSeek(t *testing.T) {
	loader := &fakeLoader{}
	c, rec := newTestController(t, loader)

	c.Play(track.AmbientOptions{URL: "https://example.com/chime.mp3", Loop: boolPtr(false)})
	waitStatus(t, c, StatusPlaying)
	res := loader.last()

	endAfter(c, func() { c.SeekTo(5000) })

	assert.Equal(t, StatusPlaying, c.Status())
	assert.Empty(t, rec.find(event.AmbientTrackEnded))
	playing, plays, _, _, pos := res.state()
	assert.True(t, playing)
	assert.Equal(t, 2, plays)
	assert.Equal(t, 5*time.Second, pos)
}

func TestController_SeekSaturates(t *testing.T) {
	loader := &fakeLoader{}
	c, _ := newTestController(t, loader)

	c.Play(track.AmbientOptions{URL: "https://example.com/rain.mp3"})
	waitStatus(t, c, StatusPlaying)

	c.SeekTo(math.MaxInt64)
	_, _, _, _, pos := loader.last().state()
	assert.Equal(t, 30*time.Second, pos)

	c.SeekTo(math.MinInt64)
	_, _, _, _, pos = loader.last().state()
	assert.Equal(t, time.Duration(0), pos)
}

func TestController_LoadFailure(t *testing.T) {
	loader := &fakeLoader{err: errors.New("no such host")}
	c, rec := newTestController(t, loader)

	c.Play(track.AmbientOptions{URL: "https://example.com/rain.mp3"})
	waitStatus(t, c, StatusError)

	errs := rec.find(event.AmbientError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Payload.Error, "no such host")
	assert.Equal(t, event.ErrorCodeAcquisition, errs[0].Payload.ErrorCode)

	c.Stop()
	assert.Equal(t, StatusStopped, c.Status(), "stop clears the error")
}

func TestController_InvalidURL(t *testing.T) {
	c, rec := newTestController(t, &fakeLoader{})

	c.Play(track.AmbientOptions{URL: "ftp://example.com/rain.mp3"})
	assert.Equal(t, StatusError, c.Status())

	errs := rec.find(event.AmbientError)
	require.Len(t, errs, 1)
	assert.Equal(t, event.ErrorCodeInvalidTrack, errs[0].Payload.ErrorCode)
}

func TestController_StopWhileLoading(t *testing.T) {
	gate := make(chan struct{})
	loader := &fakeLoader{gate: gate}
	c, rec := newTestController(t, loader)

	c.Play(track.AmbientOptions{URL: "https://example.com/rain.mp3"})
	assert.Equal(t, StatusLoading, c.Status())

	c.Stop()
	close(gate)

	require.Eventually(t, func() bool { return loader.last() != nil }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, _, closed, _, _ := loader.last().state()
		return closed
	}, 2*time.Second, 5*time.Millisecond, "late resource must be released")

	assert.Equal(t, StatusStopped, c.Status())
	assert.Equal(t, []string{"LOADING", "STOPPED"}, rec.states())
}

func TestController_Volume(t *testing.T) {
	loader := &fakeLoader{}
	c, _ := newTestController(t, loader)

	vol := 0.3
	c.Play(track.AmbientOptions{URL: "https://example.com/rain.mp3", Volume: &vol})
	waitStatus(t, c, StatusPlaying)
	assert.Equal(t, 0.3, c.Snapshot().Volume)

	c.SetVolume(2)
	assert.Equal(t, 1.0, c.Snapshot().Volume)
	_, _, _, volume, _ := loader.last().state()
	assert.Equal(t, 1.0, volume)

	c.SetVolume(-1)
	assert.Equal(t, 0.0, c.Snapshot().Volume)
}

func TestController_ClosedIgnoresPlay(t *testing.T) {
	loader := &fakeLoader{}
	c := NewController(Config{}, loader, nil)
	c.Close()

	c.Play(track.AmbientOptions{URL: "https://example.com/rain.mp3"})
	assert.Equal(t, StatusIdle, c.Status())
	assert.Nil(t, loader.last())
}
