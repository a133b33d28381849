package tool

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/leonletto/msgbridge/internal/chatdb"
	"github.com/leonletto/msgbridge/internal/contacts"
	"github.com/leonletto/msgbridge/internal/imessage"
	"github.com/leonletto/msgbridge/internal/types"
)

const (
	defaultLimit    = 50
	defaultMaxLimit = 500

	// defaultMatches bounds contact and group-chat name searches.
	defaultMatches = 10
	// fuzzyCandidates bounds how many recent messages one fuzzy search
	// scores.
	fuzzyCandidates = 500
	// defaultFuzzyThreshold is the similarity floor for fuzzy message
	// search.
	defaultFuzzyThreshold = 0.6
)

// Store is the read side the message tools run against.
type Store interface {
	RecentMessages(ctx context.Context, limit int, since time.Time) ([]types.Message, error)
	ConversationMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error)
	SearchMessages(ctx context.Context, queryText string, limit int) ([]types.Message, error)
	Conversations(ctx context.Context) ([]types.Conversation, error)
	Path() string
}

// TextSender is the write side.
type TextSender interface {
	SendText(ctx context.Context, req types.SendRequest) (types.SendResult, error)
}

// ContactSource is the slice of the AddressBook reader the tools need.
type ContactSource interface {
	Entries(ctx context.Context) ([]contacts.Entry, error)
}

// Bindings carries the live dependencies the tool handlers close over.
type Bindings struct {
	Store  Store
	Sender TextSender
	// Contacts resolves AddressBook entries for name lookup and message
	// labeling. Nil leaves the contact tools reporting the book as
	// unavailable and listings unlabeled.
	Contacts ContactSource
	// MaxLimit caps the limit argument on every listing tool. Zero means
	// the built-in cap.
	MaxLimit int
	// CheckAccess probes the store. Nil falls back to chatdb.CheckAccess
	// against the bound store's path.
	CheckAccess func(ctx context.Context) (chatdb.AccessReport, error)
	// CheckAddressBook probes the AddressBook. Nil falls back to
	// contacts.CheckAccess against the default sources directory.
	CheckAddressBook func(ctx context.Context) (contacts.AccessReport, error)
}

// ScoredMessage pairs a message with its fuzzy-match score.
type ScoredMessage struct {
	types.Message
	Score float64 `json:"score"`
}

// RegisterAll installs the bridge's tool table into r.
func RegisterAll(r *Registry, b Bindings) {
	maxLimit := b.MaxLimit
	if maxLimit <= 0 {
		maxLimit = defaultMaxLimit
	}
	checkAccess := b.CheckAccess
	if checkAccess == nil {
		checkAccess = func(ctx context.Context) (chatdb.AccessReport, error) {
			return chatdb.CheckAccess(ctx, b.Store.Path())
		}
	}
	checkAddressBook := b.CheckAddressBook
	if checkAddressBook == nil {
		checkAddressBook = func(ctx context.Context) (contacts.AccessReport, error) {
			return contacts.CheckAccess(ctx, contacts.DefaultSourcesDir())
		}
	}
	entriesOf := func(ctx context.Context) ([]contacts.Entry, error) {
		if b.Contacts == nil {
			return nil, types.NewError(types.KindStoreUnavailable, "addressbook is not available")
		}
		return b.Contacts.Entries(ctx)
	}

	r.Register(Spec{
		Name:        "recent_messages",
		Description: "List recent messages across all conversations, newest first.",
		Input: []Field{
			{Name: "limit", Type: "integer", Description: "Maximum messages to return (default 50).", Min: MinOf(1)},
			{Name: "since", Type: "string", Description: "Only messages strictly after this RFC 3339 timestamp."},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			since, err := sinceArg(args)
			if err != nil {
				return nil, err
			}
			msgs, err := b.Store.RecentMessages(ctx, limitArg(args, maxLimit), since)
			if err != nil {
				return nil, err
			}
			return LabelSenders(ctx, b.Contacts, msgs), nil
		},
	})

	r.Register(Spec{
		Name:        "conversation_messages",
		Description: "List messages in one conversation, newest first.",
		Input: []Field{
			{Name: "conversation", Type: "string", Description: "Chat identifier from list_chats.", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum messages to return (default 50).", Min: MinOf(1)},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			msgs, err := b.Store.ConversationMessages(ctx, args["conversation"].(string), limitArg(args, maxLimit))
			if err != nil {
				return nil, err
			}
			return LabelSenders(ctx, b.Contacts, msgs), nil
		},
	})

	r.Register(Spec{
		Name:        "search_messages",
		Description: "Search message text case-insensitively, newest first.",
		Input: []Field{
			{Name: "query", Type: "string", Description: "Substring to search for.", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum messages to return (default 50).", Min: MinOf(1)},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			msgs, err := b.Store.SearchMessages(ctx, args["query"].(string), limitArg(args, maxLimit))
			if err != nil {
				return nil, err
			}
			return LabelSenders(ctx, b.Contacts, msgs), nil
		},
	})

	r.Register(Spec{
		Name:        "list_chats",
		Description: "List conversations, most recently active first.",
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			return b.Store.Conversations(ctx)
		},
	})

	r.Register(Spec{
		Name:        "send_message",
		Description: "Send a message to a phone number, email address, or group chat.",
		Input: []Field{
			{Name: "target", Type: "string", Description: "Phone number, email address, or chat identifier.", Required: true},
			{Name: "text", Type: "string", Description: "Message body.", Required: true},
			{Name: "chat", Type: "boolean", Description: "Treat target as a group chat identifier."},
			{Name: "service", Type: "string", Description: "Delivery service: imessage (default) or sms."},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			req := types.SendRequest{
				Target: args["target"].(string),
				Text:   args["text"].(string),
			}
			if v, ok := args["chat"].(bool); ok {
				req.Chat = v
			}
			if v, ok := args["service"].(string); ok {
				req.Service = v
			}
			resolved, err := ResolveSendTarget(ctx, b.Store, b.Contacts, req)
			if err != nil {
				return nil, err
			}
			return b.Sender.SendText(ctx, resolved)
		},
	})

	r.Register(Spec{
		Name:        "fuzzy_search_messages",
		Description: "Fuzzy-search recent message text, best match first.",
		Input: []Field{
			{Name: "query", Type: "string", Description: "Approximate text to look for.", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum matches to return (default 50).", Min: MinOf(1)},
			{Name: "threshold", Type: "number", Description: "Minimum similarity between 0 and 1 (default 0.6)."},
			{Name: "since", Type: "string", Description: "Only messages strictly after this RFC 3339 timestamp."},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			threshold := defaultFuzzyThreshold
			if v, ok := args["threshold"].(float64); ok {
				if v < 0 || v > 1 {
					return nil, types.NewError(types.KindInvalidArguments,
						"threshold must be between 0 and 1, got %v", v)
				}
				threshold = v
			}
			since, err := sinceArg(args)
			if err != nil {
				return nil, err
			}
			msgs, err := b.Store.RecentMessages(ctx, fuzzyCandidates, since)
			if err != nil {
				return nil, err
			}

			query := args["query"].(string)
			var scored []ScoredMessage
			for _, m := range LabelSenders(ctx, b.Contacts, msgs) {
				if s := contacts.TextScore(query, m.Text); s >= threshold {
					scored = append(scored, ScoredMessage{Message: m, Score: s})
				}
			}
			sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
			if limit := limitArg(args, maxLimit); len(scored) > limit {
				scored = scored[:limit]
			}
			return scored, nil
		},
	})

	r.Register(Spec{
		Name:        "find_contact",
		Description: "Find AddressBook contacts by name with fuzzy matching.",
		Input: []Field{
			{Name: "name", Type: "string", Description: "Full or partial name, initials, or a close misspelling.", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum matches to return (default 10).", Min: MinOf(1)},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			entries, err := entriesOf(ctx)
			if err != nil {
				return nil, err
			}
			limit := defaultMatches
			if n, ok := args["limit"].(int); ok && n > 0 {
				limit = n
			}
			return contacts.FindByName(entries, args["name"].(string), limit), nil
		},
	})

	r.Register(Spec{
		Name:        "check_contacts",
		Description: "Summarize the AddressBook: contact count and a sample.",
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			entries, err := entriesOf(ctx)
			if err != nil {
				return nil, err
			}
			sample := make([]string, 0, defaultMatches)
			for _, e := range entries {
				if len(sample) == defaultMatches {
					break
				}
				sample = append(sample, e.Normalized+" -> "+e.Name)
			}
			return map[string]any{"count": len(entries), "sample": sample}, nil
		},
	})

	r.Register(Spec{
		Name:        "check_addressbook",
		Description: "Report whether the AddressBook databases are present and readable.",
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			return checkAddressBook(ctx)
		},
	})

	r.Register(Spec{
		Name:        "check_access",
		Description: "Report whether the Messages store is present and readable.",
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			return checkAccess(ctx)
		},
	})
}

// LabelSenders decorates incoming messages with AddressBook names. Label
// failures are swallowed: listings still work without contacts.
func LabelSenders(ctx context.Context, src ContactSource, msgs []types.Message) []types.Message {
	if src == nil || len(msgs) == 0 {
		return msgs
	}
	entries, err := src.Entries(ctx)
	if err != nil {
		return msgs
	}
	ix := contacts.NewIndex(entries)
	for i := range msgs {
		if msgs[i].FromMe || msgs[i].Sender == "" {
			continue
		}
		if name, ok := ix.Lookup(msgs[i].Sender); ok {
			msgs[i].SenderName = name
		}
	}
	return msgs
}

// ResolveSendTarget turns a contact name or group chat name into a
// concrete handle or chat identifier. Targets that already look like
// handles or known chat ids pass through untouched; an ambiguous name
// fails with the candidate list rather than guessing.
func ResolveSendTarget(ctx context.Context, store Store, src ContactSource, req types.SendRequest) (types.SendRequest, error) {
	if req.Chat {
		convs, err := store.Conversations(ctx)
		if err != nil {
			return req, err
		}
		for _, c := range convs {
			if c.ID == req.Target {
				return req, nil
			}
		}
		matches := contacts.FindConversation(convs, req.Target, defaultMatches)
		if id, ok := contacts.Resolve(matches); ok {
			req.Target = id
			return req, nil
		}
		if len(matches) > 1 {
			return req, ambiguousTarget("group chat", req.Target, matches)
		}
		return req, nil
	}

	if _, ok := imessage.NormalizePhone(req.Target); ok {
		return req, nil
	}
	if strings.Contains(req.Target, "@") || src == nil {
		return req, nil
	}
	entries, err := src.Entries(ctx)
	if err != nil {
		// The sender's own validation reports unresolvable targets.
		return req, nil
	}
	matches := contacts.FindByName(entries, req.Target, defaultMatches)
	if handle, ok := contacts.Resolve(matches); ok {
		req.Target = handle
		return req, nil
	}
	if len(matches) > 1 {
		return req, ambiguousTarget("contact", req.Target, matches)
	}
	return req, nil
}

func ambiguousTarget(kind, target string, matches []contacts.Match) error {
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.String()
	}
	return types.NewError(types.KindInvalidTarget,
		"%s name %q is ambiguous; candidates: %s", kind, target, strings.Join(names, ", "))
}

func limitArg(args map[string]any, maxLimit int) int {
	n, ok := args["limit"].(int)
	if !ok || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func sinceArg(args map[string]any) (time.Time, error) {
	raw, ok := args["since"].(string)
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, types.NewError(types.KindInvalidArguments,
			"since must be an RFC 3339 timestamp: %v", err)
	}
	return t, nil
}
