package mcp

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/leonletto/msgbridge/internal/daemon"
	"github.com/leonletto/msgbridge/internal/types"
)

func startHub(t *testing.T) (*daemon.EventHub, string) {
	t.Helper()
	portFile := filepath.Join(t.TempDir(), "events.port")
	hub := daemon.NewEventHub(portFile, nil)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(func() { _ = hub.Stop(context.Background()) })
	return hub, portFile
}

func newHubWaiter(t *testing.T, portFile string) *Waiter {
	t.Helper()
	wsURL, err := EventStreamURL(portFile)
	if err != nil {
		t.Fatalf("EventStreamURL: %v", err)
	}
	w, err := NewWaiter(context.Background(), wsURL)
	if err != nil {
		t.Fatalf("NewWaiter: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	// Let the hub register the subscription before broadcasting.
	time.Sleep(100 * time.Millisecond)
	return w
}

func TestWaiterReceivesBroadcast(t *testing.T) {
	hub, portFile := startHub(t)
	w := newHubWaiter(t, portFile)

	go func() {
		time.Sleep(100 * time.Millisecond)
		hub.BroadcastNewMessages([]types.Message{{ID: 42, Text: "hi"}})
	}()

	msgs, err := w.WaitForMessages(context.Background(), 5)
	if err != nil {
		t.Fatalf("WaitForMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != 42 {
		t.Errorf("messages = %v", msgs)
	}
}

func TestWaiterQueuesBetweenWaits(t *testing.T) {
	hub, portFile := startHub(t)
	w := newHubWaiter(t, portFile)

	hub.BroadcastNewMessages([]types.Message{{ID: 1}})
	hub.BroadcastNewMessages([]types.Message{{ID: 2}})
	time.Sleep(200 * time.Millisecond)

	// Messages that arrived before the wait return immediately.
	start := time.Now()
	msgs, err := w.WaitForMessages(context.Background(), 60)
	if err != nil {
		t.Fatalf("WaitForMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("messages = %v, want both queued rows", msgs)
	}
	if time.Since(start) > time.Second {
		t.Error("queued messages still waited")
	}
}

func TestWaiterTimeout(t *testing.T) {
	_, portFile := startHub(t)
	w := newHubWaiter(t, portFile)

	msgs, err := w.WaitForMessages(context.Background(), 1)
	if err != nil {
		t.Fatalf("WaitForMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages = %v, want empty on timeout", msgs)
	}
}

func TestWaiterSingleActive(t *testing.T) {
	_, portFile := startHub(t)
	w := newHubWaiter(t, portFile)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = w.WaitForMessages(context.Background(), 2)
	}()
	time.Sleep(100 * time.Millisecond)

	if _, err := w.WaitForMessages(context.Background(), 1); err == nil {
		t.Error("second concurrent wait accepted")
	}
	<-done
}

func TestWaiterContextCancel(t *testing.T) {
	_, portFile := startHub(t)
	w := newHubWaiter(t, portFile)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	if _, err := w.WaitForMessages(ctx, 60); err != context.Canceled {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestEventStreamURLNoDaemon(t *testing.T) {
	if _, err := EventStreamURL(filepath.Join(t.TempDir(), "events.port")); err == nil {
		t.Error("missing port file did not error")
	}
}
