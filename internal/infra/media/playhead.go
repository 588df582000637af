package media

import (
	"sync"
	"time"
)

// Playhead is a Resource driven by the wall clock. It advances at the
// configured speed while playing and reports the end of the track once
// the position reaches a known duration.
type Playhead struct {
	mu sync.Mutex

	duration  time.Duration
	base      time.Duration // position at startedAt
	startedAt time.Time
	playing   bool
	speed     float64
	volume    float64
	closed    bool

	endTimer *time.Timer
	finished chan error

	now func() time.Time
}

// NewPlayhead creates a paused playhead at position 0.
// A zero duration means the duration is unknown and the playhead never ends.
func NewPlayhead(duration time.Duration) *Playhead {
	return &Playhead{
		duration: duration,
		speed:    1,
		volume:   1,
		finished: make(chan error, 1),
		now:      time.Now,
	}
}

// Play starts or continues advancing the playhead.
func (p *Playhead) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.playing {
		return
	}
	p.startedAt = toWallTime(p.now())
	p.playing = true
	p.scheduleEndLocked()
}

// Pause freezes the playhead.
func (p *Playhead) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing {
		return
	}
	p.base = p.positionLocked()
	p.playing = false
	p.stopTimerLocked()
}

// SeekTo moves the playhead, clamped into [0, duration].
func (p *Playhead) SeekTo(pos time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.base = p.clampLocked(pos)
	if p.playing {
		p.startedAt = toWallTime(p.now())
		p.scheduleEndLocked()
	}
	return p.base
}

// SetSpeed changes the rate at which the playhead advances.
func (p *Playhead) SetSpeed(speed float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if speed <= 0 {
		return
	}
	if p.playing {
		p.base = p.positionLocked()
		p.startedAt = toWallTime(p.now())
	}
	p.speed = speed
	if p.playing {
		p.scheduleEndLocked()
	}
}

// SetVolume records the output volume.
func (p *Playhead) SetVolume(volume float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
}

// Volume returns the last volume set.
func (p *Playhead) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Position returns the current position.
func (p *Playhead) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

// Duration returns the duration, 0 when unknown.
func (p *Playhead) Duration() time.Duration {
	return p.duration
}

// Finished receives nil when the playhead reaches the end.
func (p *Playhead) Finished() <-chan error {
	return p.finished
}

// Close stops the playhead. It is safe to call more than once.
func (p *Playhead) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTimerLocked()
	p.playing = false
	p.closed = true
	return nil
}

func (p *Playhead) positionLocked() time.Duration {
	if !p.playing {
		return p.base
	}
	elapsed := toWallTime(p.now()).Sub(p.startedAt)
	return p.clampLocked(p.base + time.Duration(float64(elapsed)*p.speed))
}

func (p *Playhead) clampLocked(pos time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if p.duration > 0 && pos > p.duration {
		return p.duration
	}
	return pos
}

// scheduleEndLocked arms the end-of-track timer for the remaining time at
// the current speed. Must be called with p.mu held.
func (p *Playhead) scheduleEndLocked() {
	p.stopTimerLocked()
	if p.duration <= 0 {
		return
	}

	remaining := time.Duration(float64(p.duration-p.positionLocked()) / p.speed)
	if remaining < 0 {
		remaining = 0
	}
	var timer *time.Timer
	timer = time.AfterFunc(remaining, func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		// Superseded by a seek, pause or speed change.
		if p.endTimer != timer || p.closed {
			return
		}
		p.endTimer = nil
		p.base = p.duration
		p.playing = false

		select {
		case p.finished <- nil:
		default:
		}
	})
	p.endTimer = timer
}

func (p *Playhead) stopTimerLocked() {
	if p.endTimer != nil {
		p.endTimer.Stop()
		p.endTimer = nil
	}
}

// toWallTime returns the time with the monotonic clock reading stripped.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}
