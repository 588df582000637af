package playback

import (
	"context"
	"sync"
	"time"
)

// progressTicker calls tick at a fixed interval between Start and Stop.
// A zero interval disables it.
type progressTicker struct {
	interval time.Duration
	tick     func()

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newProgressTicker(interval time.Duration, tick func()) *progressTicker {
	return &progressTicker{interval: interval, tick: tick}
}

// Start (re)starts the ticker.
func (p *progressTicker) Start() {
	if p.interval <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.tick()
			}
		}
	}()
}

// Stop stops the ticker. It is safe to call when not running.
func (p *progressTicker) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Running reports whether the ticker is active.
func (p *progressTicker) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}
