// Package notification provides the notification manager for broadcasting events.
package notification

import (
	"sync"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiopro/internal/domain/event"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

// Notification is an event stamped with its broadcast sequence number.
type Notification struct {
	SequenceNo uint64
	Event      event.Event
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(Notification) error
}

// StreamFunc adapts a function to Stream.
type StreamFunc func(Notification) error

// Send calls f(n).
func (f StreamFunc) Send(n Notification) error { return f(n) }

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
	queue  chan Notification
	done   chan struct{}
}

// Manager manages notification subscriptions and broadcasting.
// It implements event.Sink; Publish never blocks on a subscriber.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	closed        bool
	bufferSize    int
	sequenceNo    uint64 // guarded by mu
}

// NewManager creates a new notification manager. A bufferSize <= 0 uses
// DefaultBufferSize.
func NewManager(bufferSize int) *Manager {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Manager{
		subscriptions: make(map[string]*subscription),
		bufferSize:    bufferSize,
	}
}

// Subscribe adds a new subscription and returns its ID and a channel that
// is closed when the subscription ends (Unsubscribe, a failed send or Close).
func (m *Manager) Subscribe(stream Stream) (string, <-chan struct{}) {
	return m.SubscribeWithInitial(stream, nil)
}

// SubscribeWithInitial is Subscribe with a first message. initial runs on
// the delivery goroutine before any queued event, with a sequence number
// reserved at registration: every event published after the subscriber is
// registered follows it and carries a higher number. An error from initial
// ends the subscription.
func (m *Manager) SubscribeWithInitial(stream Stream, initial func(sequenceNo uint64) error) (string, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &subscription{
		id:     uuid.New().String(),
		stream: stream,
		queue:  make(chan Notification, m.bufferSize),
		done:   make(chan struct{}),
	}
	if m.closed {
		close(sub.done)
		return sub.id, sub.done
	}
	m.subscriptions[sub.id] = sub

	var prelude func() error
	if initial != nil {
		m.sequenceNo++
		seq := m.sequenceNo
		prelude = func() error { return initial(seq) }
	}
	go m.deliver(sub, prelude)

	zlog.Debug().Msgf("notification: subscribed: subscription_id=%s", sub.id)
	return sub.id, sub.done
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return
	}
	delete(m.subscriptions, subscriptionID)
	close(sub.done)
	zlog.Debug().Msgf("notification: unsubscribed: subscription_id=%s", subscriptionID)
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Publish stamps e with the next sequence number and queues it for every
// subscriber. Subscribers whose queue is full miss the event.
// Stamping and queueing happen under one lock, so every subscriber sees
// events in sequence order even with concurrent publishers.
func (m *Manager) Publish(e event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequenceNo++
	n := Notification{SequenceNo: m.sequenceNo, Event: e}

	for _, sub := range m.subscriptions {
		select {
		case sub.queue <- n:
		default:
			zlog.Warn().Msgf("notification: subscriber queue full, dropping event: subscription_id=%s type=%s", sub.id, e.Type)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sub := range m.subscriptions {
		close(sub.done)
		delete(m.subscriptions, id)
	}
	m.closed = true
}

// deliver forwards queued notifications to the stream until the
// subscription ends. A failed send ends the subscription.
func (m *Manager) deliver(sub *subscription, initial func() error) {
	if initial != nil {
		if err := initial(); err != nil {
			zlog.Warn().Msgf("notification: initial send failed, removing subscriber: subscription_id=%s err=%v", sub.id, err)
			m.Unsubscribe(sub.id)
			return
		}
	}
	for {
		select {
		case <-sub.done:
			return
		case n := <-sub.queue:
			if err := sub.stream.Send(n); err != nil {
				zlog.Warn().Msgf("notification: send failed, removing subscriber: subscription_id=%s err=%v", sub.id, err)
				m.Unsubscribe(sub.id)
				return
			}
		}
	}
}
