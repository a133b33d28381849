package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leonletto/msgbridge/internal/types"
)

// growingStore simulates the Messages store gaining rows.
type growingStore struct {
	mu   sync.Mutex
	rows []types.Message
}

func (g *growingStore) append(msgs ...types.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rows = append(g.rows, msgs...)
}

func (g *growingStore) MaxRowID(context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.rows) == 0 {
		return 0, nil
	}
	return g.rows[len(g.rows)-1].ID, nil
}

func (g *growingStore) MessagesSinceRowID(_ context.Context, rowID int64, limit int) ([]types.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.Message
	for _, m := range g.rows {
		if m.ID > rowID {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestWatcherReportsNewRows(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chat.db")

	store := &growingStore{}
	store.append(types.Message{ID: 1, Text: "pre-existing"})

	got := make(chan []types.Message, 4)
	w := NewWatcher(store, dbPath, func(msgs []types.Message) { got <- msgs }, nil)
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Let the watcher install its watch before touching the directory.
	time.Sleep(100 * time.Millisecond)

	store.append(types.Message{ID: 2, Text: "new"}, types.Message{ID: 3, Text: "newer"})
	if err := os.WriteFile(filepath.Join(dir, "chat.db-wal"), []byte("x"), 0o600); err != nil {
		t.Fatalf("touch wal: %v", err)
	}

	select {
	case msgs := <-got:
		if len(msgs) != 2 || msgs[0].ID != 2 || msgs[1].ID != 3 {
			t.Errorf("reported %v, want rows 2 and 3", msgs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification for new rows")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestWatcherSkipsPreexistingRows(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chat.db")

	store := &growingStore{}
	store.append(types.Message{ID: 1}, types.Message{ID: 2})

	got := make(chan []types.Message, 4)
	w := NewWatcher(store, dbPath, func(msgs []types.Message) { got <- msgs }, nil)
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// A write with no new rows past the watermark reports nothing.
	if err := os.WriteFile(filepath.Join(dir, "chat.db-wal"), []byte("x"), 0o600); err != nil {
		t.Fatalf("touch wal: %v", err)
	}

	select {
	case msgs := <-got:
		t.Errorf("reported pre-existing rows: %v", msgs)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chat.db")

	store := &growingStore{}
	got := make(chan []types.Message, 16)
	w := NewWatcher(store, dbPath, func(msgs []types.Message) { got <- msgs }, nil)
	w.debounce = 150 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	store.append(types.Message{ID: 1}, types.Message{ID: 2}, types.Message{ID: 3})
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(filepath.Join(dir, "chat.db-wal"), []byte{byte(i)}, 0o600); err != nil {
			t.Fatalf("touch wal: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case msgs := <-got:
		if len(msgs) != 3 {
			t.Errorf("first batch = %v, want all three rows", msgs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification after burst")
	}

	// The burst coalesced into one query; no further batches arrive.
	select {
	case msgs := <-got:
		t.Errorf("burst produced a second batch: %v", msgs)
	case <-time.After(400 * time.Millisecond):
	}
}
