package playback

import (
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// Job is a unit of work run by the Dispatcher.
type Job struct {
	Name string
	Run  func()
	// Drop is called instead of Run when the job is flushed before it
	// runs. Optional.
	Drop func()
}

type queuedJob struct {
	job  Job
	done chan struct{}
}

// Dispatcher runs jobs one at a time, in submission order, on a single
// goroutine. The queue is unbounded: jobs are never dropped except by
// Flush or Close.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []queuedJob
	closed bool

	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
}

// NewDispatcher creates a dispatcher and starts its goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.loop()
	return d
}

// Submit enqueues a job. The returned channel is closed once the job has
// run or has been dropped. Jobs submitted after Close are dropped at once.
func (d *Dispatcher) Submit(job Job) <-chan struct{} {
	done := make(chan struct{})

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		if job.Drop != nil {
			job.Drop()
		}
		close(done)
		return done
	}
	d.queue = append(d.queue, queuedJob{job: job, done: done})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return done
}

// Flush drops every pending job and returns how many were dropped.
// The job currently running, if any, is not affected.
func (d *Dispatcher) Flush() int {
	d.mu.Lock()
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, q := range pending {
		if q.job.Drop != nil {
			q.job.Drop()
		}
		close(q.done)
	}
	if len(pending) > 0 {
		zlog.Debug().Msgf("playback: flushed pending commands: count=%d", len(pending))
	}
	return len(pending)
}

// Pending returns the number of queued jobs.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops the dispatcher after the running job, drops pending jobs
// and waits for the goroutine to exit. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.stopped
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.quit)
	<-d.stopped
	d.Flush()
}

func (d *Dispatcher) loop() {
	defer close(d.stopped)

	for {
		select {
		case <-d.quit:
			return
		case <-d.wake:
		}

		for {
			select {
			case <-d.quit:
				return
			default:
			}

			q, ok := d.next()
			if !ok {
				break
			}
			d.run(q)
		}
	}
}

func (d *Dispatcher) next() (queuedJob, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return queuedJob{}, false
	}
	q := d.queue[0]
	d.queue[0] = queuedJob{}
	d.queue = d.queue[1:]
	return q, true
}

// run executes a job, keeping the loop alive if it panics.
func (d *Dispatcher) run(q queuedJob) {
	defer close(q.done)
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback: command panicked: command=%s panic=%v", q.job.Name, r)
		}
	}()
	q.job.Run()
}
