package feed

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_DeliversInOrderPerKey(t *testing.T) {
	hub := NewHub[int](0, testLogger())

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	cancel := hub.Subscribe("a", func(v int) {
		mu.Lock()
		got = append(got, v)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	})
	defer cancel()

	hub.Publish("b", 99)
	hub.Publish("a", 1)
	hub.Publish("a", 2)
	hub.Publish("a", 3)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notifications")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestHub_CancelReleasesSubscription(t *testing.T) {
	hub := NewHub[string](0, testLogger())

	cancel := hub.Subscribe("k", func(string) {})
	require.Equal(t, 1, hub.Count("k"))

	cancel()
	cancel()
	require.Equal(t, 0, hub.Count("k"))

	hub.Publish("k", "ignored")
}

func TestHub_CloseStopsEverything(t *testing.T) {
	hub := NewHub[string](0, testLogger())
	hub.Subscribe("x", func(string) {})
	hub.Subscribe("y", func(string) {})

	hub.Close()
	require.Equal(t, 0, hub.Count("x"))
	require.Equal(t, 0, hub.Count("y"))

	cancel := hub.Subscribe("x", func(string) {})
	cancel()
	require.Equal(t, 0, hub.Count("x"))
}

func TestHub_FullBufferDropsWithoutBlocking(t *testing.T) {
	hub := NewHub[int](1, testLogger())

	block := make(chan struct{})
	cancel := hub.Subscribe("k", func(int) { <-block })
	defer func() {
		close(block)
		cancel()
	}()

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish("k", i)
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
