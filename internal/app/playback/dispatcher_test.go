package playback

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RunsInOrder(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	var mu sync.Mutex
	var got []int
	var last <-chan struct{}
	for i := 0; i < 50; i++ {
		i := i
		last = d.Submit(Job{Name: "append", Run: func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}})
	}
	<-last

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestDispatcher_FlushDropsPending(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	d.Submit(Job{Name: "block", Run: func() {
		close(started)
		<-release
	}})
	<-started

	var ran, dropped atomic.Int32
	var pending []<-chan struct{}
	for i := 0; i < 3; i++ {
		pending = append(pending, d.Submit(Job{
			Name: "queued",
			Run:  func() { ran.Add(1) },
			Drop: func() { dropped.Add(1) },
		}))
	}
	assert.Equal(t, 3, d.Pending())

	assert.Equal(t, 3, d.Flush())
	for _, done := range pending {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("flushed job was not released")
		}
	}
	close(release)

	<-d.Submit(Job{Name: "sync", Run: func() {}})
	assert.Equal(t, int32(0), ran.Load())
	assert.Equal(t, int32(3), dropped.Load())
}

func TestDispatcher_SurvivesPanic(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	<-d.Submit(Job{Name: "panic", Run: func() { panic("boom") }})

	ran := false
	<-d.Submit(Job{Name: "after", Run: func() { ran = true }})
	assert.True(t, ran)
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	d := NewDispatcher()
	d.Close()
	d.Close()

	dropped := false
	done := d.Submit(Job{Name: "late", Run: func() { t.Error("must not run") }, Drop: func() { dropped = true }})

	select {
	case <-done:
	default:
		t.Fatal("submit after close must return a closed channel")
	}
	assert.True(t, dropped)
}
