package daemon

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leonletto/msgbridge/internal/types"
)

const (
	// watchDebounce coalesces the burst of file events one store commit
	// produces into a single query.
	watchDebounce = 2 * time.Second
	// watchBatch bounds one catch-up query after a change.
	watchBatch = 200
)

// WatchStore is the slice of the store reader the watcher needs.
type WatchStore interface {
	MaxRowID(ctx context.Context) (int64, error)
	MessagesSinceRowID(ctx context.Context, rowID int64, limit int) ([]types.Message, error)
}

// Watcher tails the Messages store for new rows. The store file is owned by
// another process, so it watches the containing directory for writes and
// advances a ROWID watermark instead of tailing the file itself.
type Watcher struct {
	store    WatchStore
	path     string
	onNew    func([]types.Message)
	logger   *log.Logger
	debounce time.Duration
}

func NewWatcher(store WatchStore, chatDBPath string, onNew func([]types.Message), logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		store:    store,
		path:     chatDBPath,
		onNew:    onNew,
		logger:   logger,
		debounce: watchDebounce,
	}
}

// Run watches until ctx is done. The watermark starts at the store's
// current MaxRowID so only rows that arrive while watching are reported.
func (w *Watcher) Run(ctx context.Context) error {
	watermark, err := w.store.MaxRowID(ctx)
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fsw.Close() }()

	// Watch the directory: sqlite commits land in the wal/journal files
	// next to chat.db, not always the file itself.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.logger.Printf("watching %s for new messages", filepath.Dir(w.path))

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watch: %v", err)

		case <-timerC:
			timer = nil
			timerC = nil
			watermark = w.drain(ctx, watermark)
		}
	}
}

// drain reports every row past the watermark and returns the new watermark.
func (w *Watcher) drain(ctx context.Context, watermark int64) int64 {
	for {
		msgs, err := w.store.MessagesSinceRowID(ctx, watermark, watchBatch)
		if err != nil {
			w.logger.Printf("watch: read new rows: %v", err)
			return watermark
		}
		if len(msgs) == 0 {
			return watermark
		}
		watermark = msgs[len(msgs)-1].ID
		if w.onNew != nil {
			w.onNew(msgs)
		}
		if len(msgs) < watchBatch {
			return watermark
		}
	}
}
