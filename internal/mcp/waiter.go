package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonletto/msgbridge/internal/daemon"
	"github.com/leonletto/msgbridge/internal/types"
)

const (
	maxQueuedMessages  = 1000
	defaultWaitTimeout = 300 // seconds
	maxWaitTimeout     = 600 // seconds
)

// EventStreamURL builds the daemon event stream URL from the recorded port.
func EventStreamURL(portFile string) (string, error) {
	port, err := daemon.ReadPortFile(portFile)
	if err != nil {
		return "", fmt.Errorf("read event stream port: %w", err)
	}
	return fmt.Sprintf("ws://127.0.0.1:%d/events", port), nil
}

// Waiter subscribes to the daemon's WebSocket event stream and queues new
// messages for wait_for_message. One wait may be active at a time.
type Waiter struct {
	conn *websocket.Conn

	mu       sync.Mutex
	queue    []types.Message
	waiterCh chan struct{} // closed when the queue gains messages
	active   bool

	cancel context.CancelFunc
}

// NewWaiter dials the daemon's event stream and starts queuing.
func NewWaiter(ctx context.Context, wsURL string) (*Waiter, error) {
	wCtx, cancel := context.WithCancel(ctx)

	conn, _, err := websocket.DefaultDialer.DialContext(wCtx, wsURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	w := &Waiter{conn: conn, cancel: cancel}
	go w.readLoop(wCtx)
	return w, nil
}

func (w *Waiter) readLoop(ctx context.Context) {
	defer func() {
		// Unblock any active wait on connection loss.
		w.mu.Lock()
		if w.waiterCh != nil {
			close(w.waiterCh)
			w.waiterCh = nil
		}
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var ev daemon.Event
		if err := w.conn.ReadJSON(&ev); err != nil {
			return
		}
		if ev.Type != daemon.EventNewMessage || len(ev.Messages) == 0 {
			continue
		}

		w.mu.Lock()
		w.queue = append(w.queue, ev.Messages...)
		if excess := len(w.queue) - maxQueuedMessages; excess > 0 {
			w.queue = w.queue[excess:]
		}
		if w.waiterCh != nil {
			close(w.waiterCh)
			w.waiterCh = nil
		}
		w.mu.Unlock()
	}
}

// WaitForMessages blocks until new messages arrive or timeoutSeconds
// elapse. A timeout returns an empty slice, not an error. Messages queued
// between waits are returned immediately.
func (w *Waiter) WaitForMessages(ctx context.Context, timeoutSeconds int) ([]types.Message, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultWaitTimeout
	}
	if timeoutSeconds > maxWaitTimeout {
		timeoutSeconds = maxWaitTimeout
	}

	w.mu.Lock()
	if w.active {
		w.mu.Unlock()
		return nil, fmt.Errorf("another wait_for_message is already active")
	}
	if len(w.queue) > 0 {
		msgs := w.queue
		w.queue = nil
		w.mu.Unlock()
		return msgs, nil
	}
	w.active = true
	ch := make(chan struct{})
	w.waiterCh = ch
	w.mu.Unlock()

	timer := time.NewTimer(time.Duration(timeoutSeconds) * time.Second)
	defer timer.Stop()

	finish := func() []types.Message {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.active = false
		w.waiterCh = nil
		msgs := w.queue
		w.queue = nil
		return msgs
	}

	select {
	case <-ch:
		return finish(), nil
	case <-timer.C:
		return finish(), nil
	case <-ctx.Done():
		finish()
		return nil, ctx.Err()
	}
}

// Close shuts the waiter down.
func (w *Waiter) Close() error {
	w.cancel()
	return w.conn.Close()
}
