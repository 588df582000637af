package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/audiopro/internal/domain/event"
)

type collectingStream struct {
	mu  sync.Mutex
	got []Notification
}

func (s *collectingStream) Send(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

func (s *collectingStream) received() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.got))
	copy(out, s.got)
	return out
}

func stateChanged(state string) event.Event {
	return event.Event{
		Type:    event.StateChanged,
		Source:  event.SourceMain,
		Trigger: event.TriggerUser,
		Payload: event.Payload{State: state},
	}
}

func TestManager_BroadcastsInOrder(t *testing.T) {
	m := NewManager(0)
	defer m.Close()

	a, b := &collectingStream{}, &collectingStream{}
	m.Subscribe(a)
	m.Subscribe(b)
	assert.Equal(t, 2, m.SubscriberCount())

	for _, s := range []string{"LOADING", "PLAYING", "PAUSED"} {
		m.Publish(stateChanged(s))
	}

	for _, stream := range []*collectingStream{a, b} {
		require.Eventually(t, func() bool { return len(stream.received()) == 3 }, time.Second, 5*time.Millisecond)
		got := stream.received()
		for i, n := range got {
			assert.Equal(t, uint64(i+1), n.SequenceNo)
		}
		assert.Equal(t, "PAUSED", got[2].Event.Payload.State)
	}
}

func TestManager_PublishNeverBlocks(t *testing.T) {
	m := NewManager(2)
	defer m.Close()

	block := make(chan struct{})
	defer close(block)
	_, _ = m.Subscribe(StreamFunc(func(Notification) error {
		<-block
		return nil
	}))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			m.Publish(stateChanged("PLAYING"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	assert.Equal(t, uint64(101), m.NextSequenceNo())
}

func TestManager_FailedSendRemovesSubscriber(t *testing.T) {
	m := NewManager(0)
	defer m.Close()

	_, done := m.Subscribe(StreamFunc(func(Notification) error {
		return errors.New("stream closed")
	}))
	m.Publish(stateChanged("PLAYING"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscription was not ended")
	}
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestManager_Unsubscribe(t *testing.T) {
	m := NewManager(0)
	defer m.Close()

	stream := &collectingStream{}
	id, done := m.Subscribe(stream)
	m.Unsubscribe(id)
	m.Unsubscribe(id)
	m.Unsubscribe("unknown")

	select {
	case <-done:
	default:
		t.Fatal("done must be closed after Unsubscribe")
	}
	m.Publish(stateChanged("PLAYING"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, stream.received())
}

func TestManager_Close(t *testing.T) {
	m := NewManager(0)

	_, done := m.Subscribe(&collectingStream{})
	m.Close()

	select {
	case <-done:
	default:
		t.Fatal("Close must end subscriptions")
	}
	assert.Equal(t, 0, m.SubscriberCount())

	_, late := m.Subscribe(&collectingStream{})
	select {
	case <-late:
	default:
		t.Fatal("subscribing to a closed manager must end at once")
	}
	m.Publish(stateChanged("IDLE"))
}

func TestManager_ConcurrentPublishersKeepSequenceOrder(t *testing.T) {
	m := NewManager(1024)
	defer m.Close()

	stream := &collectingStream{}
	m.Subscribe(stream)

	var wg sync.WaitGroup
	for _, source := range []event.Source{event.SourceMain, event.SourceAmbient} {
		source := source
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				e := stateChanged("PLAYING")
				e.Source = source
				m.Publish(e)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(stream.received()) == 400 }, time.Second, 5*time.Millisecond)
	for i, n := range stream.received() {
		assert.Equal(t, uint64(i+1), n.SequenceNo)
	}
}

func TestManager_SubscribeWithInitial(t *testing.T) {
	m := NewManager(0)
	defer m.Close()
	m.Publish(stateChanged("LOADING"))

	var (
		mu    sync.Mutex
		order []uint64
	)
	record := func(seq uint64) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, seq)
	}
	recorded := func() []uint64 {
		mu.Lock()
		defer mu.Unlock()
		return append([]uint64(nil), order...)
	}

	release := make(chan struct{})
	m.SubscribeWithInitial(
		StreamFunc(func(n Notification) error {
			record(n.SequenceNo)
			return nil
		}),
		func(seq uint64) error {
			<-release
			record(seq)
			return nil
		},
	)

	// Published while the initial message is still being built.
	m.Publish(stateChanged("PLAYING"))
	m.Publish(stateChanged("PAUSED"))
	close(release)

	require.Eventually(t, func() bool { return len(recorded()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{2, 3, 4}, recorded())
}

func TestManager_SubscribeWithInitialFailure(t *testing.T) {
	m := NewManager(0)
	defer m.Close()

	_, done := m.SubscribeWithInitial(&collectingStream{}, func(uint64) error {
		return errors.New("client gone")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscription was not ended")
	}
	assert.Equal(t, 0, m.SubscriberCount())
}
