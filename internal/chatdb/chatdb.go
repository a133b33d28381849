// Package chatdb reads the Messages store (chat.db) without ever writing to
// it. The store is owned and concurrently written by Messages.app; every
// query here runs on a read-only connection and tolerates the owner holding
// the write lock for short stretches.
package chatdb

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/leonletto/msgbridge/internal/appleepoch"
	"github.com/leonletto/msgbridge/internal/types"
)

const (
	// busyAttempts bounds the retry loop when Messages.app holds the lock.
	busyAttempts = 5
	busyBaseWait = 50 * time.Millisecond

	// fullDiskAccessHint is appended to store-unavailable errors; reading
	// chat.db requires the Full Disk Access privacy grant.
	fullDiskAccessHint = "grant Full Disk Access to this process in System Settings > Privacy & Security, then restart it"
)

// DefaultPath returns the store path under the user's home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Library/Messages/chat.db"
	}
	return home + "/Library/Messages/chat.db"
}

// Reader runs bounded, read-only queries against one chat.db file. The
// *sql.DB handle pools read-only connections and is safe for concurrent use.
type Reader struct {
	path string
	db   *sql.DB
}

// Open opens the store at path in read-only mode. The path is explicit;
// callers that need the conventional location pass DefaultPath().
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, types.NewError(types.KindStoreUnavailable,
			"messages store not found at %s; %s", path, fullDiskAccessHint).WithDetail(err.Error())
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, types.NewError(types.KindStoreUnavailable, "open messages store: %v", err)
	}

	// Belt and braces on top of mode=ro: refuse writes at the connection
	// level, and let sqlite wait out short owner locks before we retry.
	for _, pragma := range []string{"PRAGMA query_only = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, classifyStoreErr(err, "configure messages store")
		}
	}

	return &Reader{path: path, db: db}, nil
}

// Path returns the store path this reader was opened with.
func (r *Reader) Path() string { return r.path }

// Close releases the underlying connections.
func (r *Reader) Close() error {
	return r.db.Close()
}

const messageColumns = `
	m.ROWID,
	m.date,
	m.text,
	m.attributedBody,
	m.is_from_me,
	COALESCE(m.cache_has_attachments, 0),
	COALESCE(h.id, ''),
	COALESCE(c.chat_identifier, '')`

const messageJoins = `
	FROM message m
	LEFT JOIN handle h ON h.ROWID = m.handle_id
	LEFT JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
	LEFT JOIN chat c ON c.ROWID = cmj.chat_id`

// RecentMessages returns at most limit messages, newest first. When since is
// nonzero only messages strictly after it are returned; the cutoff is
// compared against the store's native timestamp so ordering agrees with the
// store by construction.
func (r *Reader) RecentMessages(ctx context.Context, limit int, since time.Time) ([]types.Message, error) {
	if limit <= 0 {
		return nil, types.NewError(types.KindQueryError, "limit must be positive, got %d", limit)
	}

	query := "SELECT" + messageColumns + messageJoins
	var args []any
	if !since.IsZero() {
		query += `
	WHERE m.date > ?`
		args = append(args, appleepoch.Encode(since))
	}
	query += `
	ORDER BY m.date DESC
	LIMIT ?`
	args = append(args, limit)
	return r.queryMessages(ctx, query, args...)
}

// ConversationMessages returns at most limit messages in the conversation
// identified by conversationID, newest first.
func (r *Reader) ConversationMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		return nil, types.NewError(types.KindQueryError, "limit must be positive, got %d", limit)
	}
	if conversationID == "" {
		return nil, types.NewError(types.KindQueryError, "conversation id must not be empty")
	}

	query := `SELECT
	m.ROWID,
	m.date,
	m.text,
	m.attributedBody,
	m.is_from_me,
	COALESCE(m.cache_has_attachments, 0),
	COALESCE(h.id, ''),
	c.chat_identifier
	FROM message m
	LEFT JOIN handle h ON h.ROWID = m.handle_id
	JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
	JOIN chat c ON c.ROWID = cmj.chat_id
	WHERE c.chat_identifier = ?
	ORDER BY m.date DESC
	LIMIT ?`

	return r.queryMessages(ctx, query, conversationID, limit)
}

// SearchMessages returns at most limit messages whose body contains query,
// case-insensitively, newest first.
func (r *Reader) SearchMessages(ctx context.Context, queryText string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		return nil, types.NewError(types.KindQueryError, "limit must be positive, got %d", limit)
	}
	if queryText == "" {
		return nil, types.NewError(types.KindQueryError, "search text must not be empty")
	}

	query := "SELECT" + messageColumns + messageJoins + `
	WHERE m.text IS NOT NULL AND instr(lower(m.text), lower(?)) > 0
	ORDER BY m.date DESC
	LIMIT ?`

	return r.queryMessages(ctx, query, queryText, limit)
}

// MessagesSinceRowID returns messages with ROWID strictly greater than
// rowID, oldest first, bounded by limit. The daemon's watcher uses it to
// turn store growth into notifications.
func (r *Reader) MessagesSinceRowID(ctx context.Context, rowID int64, limit int) ([]types.Message, error) {
	if limit <= 0 {
		return nil, types.NewError(types.KindQueryError, "limit must be positive, got %d", limit)
	}

	query := "SELECT" + messageColumns + messageJoins + `
	WHERE m.ROWID > ?
	ORDER BY m.ROWID ASC
	LIMIT ?`

	return r.queryMessages(ctx, query, rowID, limit)
}

// MaxRowID returns the largest message ROWID in the store, or 0 for an empty
// store.
func (r *Reader) MaxRowID(ctx context.Context) (int64, error) {
	var maxID int64
	err := r.withRetry(ctx, "query max rowid", func() error {
		return r.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(ROWID), 0) FROM message").Scan(&maxID)
	})
	if err != nil {
		return 0, err
	}
	return maxID, nil
}

// Conversations lists the store's chats that have at least one participant,
// most recently active first. Display names fall back to a participant
// summary when the chat has none.
func (r *Reader) Conversations(ctx context.Context) ([]types.Conversation, error) {
	participants, err := r.chatParticipants(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT
	c.chat_identifier,
	COALESCE(c.display_name, ''),
	COALESCE(MAX(m.date), 0)
	FROM chat c
	LEFT JOIN chat_message_join cmj ON cmj.chat_id = c.ROWID
	LEFT JOIN message m ON m.ROWID = cmj.message_id
	GROUP BY c.chat_identifier
	ORDER BY 3 DESC`

	var convs []types.Conversation
	err = r.withRetry(ctx, "query conversations", func() error {
		rows, err := r.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		convs = convs[:0]
		for rows.Next() {
			var c types.Conversation
			var lastDate int64
			if err := rows.Scan(&c.ID, &c.DisplayName, &lastDate); err != nil {
				return err
			}
			c.Participants = participants[c.ID]
			if len(c.Participants) == 0 {
				continue
			}
			if c.DisplayName == "" {
				c.DisplayName = strings.Join(c.Participants, ", ")
			}
			if lastDate != 0 {
				c.LastActivity = appleepoch.Decode(lastDate)
			}
			convs = append(convs, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// chatParticipants maps chat identifier to its member handles.
func (r *Reader) chatParticipants(ctx context.Context) (map[string][]string, error) {
	query := `SELECT c.chat_identifier, h.id
	FROM chat c
	JOIN chat_handle_join chj ON chj.chat_id = c.ROWID
	JOIN handle h ON h.ROWID = chj.handle_id
	ORDER BY c.chat_identifier, h.ROWID`

	out := make(map[string][]string)
	err := r.withRetry(ctx, "query chat participants", func() error {
		rows, err := r.db.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		clear(out)
		for rows.Next() {
			var chatID, handle string
			if err := rows.Scan(&chatID, &handle); err != nil {
				return err
			}
			out[chatID] = append(out[chatID], handle)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// queryMessages runs a message query under the retry policy and maps rows to
// the normalized record.
func (r *Reader) queryMessages(ctx context.Context, query string, args ...any) ([]types.Message, error) {
	var msgs []types.Message
	err := r.withRetry(ctx, "query messages", func() error {
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		msgs = msgs[:0]
		for rows.Next() {
			var (
				m          types.Message
				date       int64
				text       sql.NullString
				attributed []byte
				fromMe     int
				attachment int
			)
			if err := rows.Scan(&m.ID, &date, &text, &attributed, &fromMe, &attachment, &m.Sender, &m.Conversation); err != nil {
				return err
			}
			m.SentAt = appleepoch.Decode(date)
			m.FromMe = fromMe != 0
			m.HasAttachment = attachment != 0
			if text.Valid && text.String != "" {
				m.Text = text.String
			} else {
				m.Text = extractAttributedBody(attributed)
			}
			if m.FromMe {
				m.Sender = ""
			}
			msgs = append(msgs, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// withRetry runs fn, retrying with growing backoff while the owner process
// holds the store locked. Other errors surface immediately, classified.
func (r *Reader) withRetry(ctx context.Context, op string, fn func() error) error {
	wait := busyBaseWait
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return classifyStoreErr(err, op)
		}
		if attempt >= busyAttempts {
			return types.NewError(types.KindStoreLocked,
				"messages store still locked after %d attempts", attempt).WithDetail(err.Error())
		}
		select {
		case <-ctx.Done():
			return types.NewError(types.KindStoreLocked, "%s: %v", op, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// isBusy reports whether err is sqlite's lock-contention condition.
func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// classifyStoreErr re-expresses a driver error as a bridge error; the raw
// text only travels as detail.
func classifyStoreErr(err error, op string) error {
	msg := strings.ToLower(err.Error())
	switch {
	case isBusy(err):
		return types.NewError(types.KindStoreLocked, "%s: store locked", op).WithDetail(err.Error())
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "unable to open"),
		strings.Contains(msg, "not a database"), strings.Contains(msg, "no such file"):
		return types.NewError(types.KindStoreUnavailable,
			"%s: store unreadable; %s", op, fullDiskAccessHint).WithDetail(err.Error())
	default:
		return types.NewError(types.KindQueryError, "%s failed", op).WithDetail(err.Error())
	}
}
