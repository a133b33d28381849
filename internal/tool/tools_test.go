package tool

import (
	"context"
	"testing"
	"time"

	"github.com/leonletto/msgbridge/internal/chatdb"
	"github.com/leonletto/msgbridge/internal/contacts"
	"github.com/leonletto/msgbridge/internal/types"
)

// fakeStore records the arguments each query received.
type fakeStore struct {
	lastLimit int
	lastSince time.Time
	lastConv  string
	lastQuery string
	msgs      []types.Message
	convs     []types.Conversation
}

func (f *fakeStore) RecentMessages(_ context.Context, limit int, since time.Time) ([]types.Message, error) {
	f.lastLimit, f.lastSince = limit, since
	return f.msgs, nil
}

func (f *fakeStore) ConversationMessages(_ context.Context, id string, limit int) ([]types.Message, error) {
	f.lastConv, f.lastLimit = id, limit
	return f.msgs, nil
}

func (f *fakeStore) SearchMessages(_ context.Context, q string, limit int) ([]types.Message, error) {
	f.lastQuery, f.lastLimit = q, limit
	return f.msgs, nil
}

func (f *fakeStore) Conversations(context.Context) ([]types.Conversation, error) {
	if f.convs != nil {
		return f.convs, nil
	}
	return []types.Conversation{{ID: "chat1001"}}, nil
}

func (f *fakeStore) Path() string { return "/tmp/chat.db" }

type fakeSender struct {
	lastReq types.SendRequest
}

func (f *fakeSender) SendText(_ context.Context, req types.SendRequest) (types.SendResult, error) {
	f.lastReq = req
	return types.SendResult{Delivered: true, AttemptID: "01TEST", Service: "imessage"}, nil
}

// fakeContacts serves a fixed AddressBook.
type fakeContacts struct {
	entries []contacts.Entry
	err     error
}

func (f *fakeContacts) Entries(context.Context) ([]contacts.Entry, error) {
	return f.entries, f.err
}

func newTestRegistry(t *testing.T) (*Registry, *fakeStore, *fakeSender) {
	t.Helper()
	store := &fakeStore{}
	sender := &fakeSender{}
	r := NewRegistry()
	RegisterAll(r, Bindings{
		Store:  store,
		Sender: sender,
		CheckAccess: func(context.Context) (chatdb.AccessReport, error) {
			return chatdb.AccessReport{Path: store.Path(), Exists: true, Readable: true}, nil
		},
	})
	return r, store, sender
}

// newContactRegistry wires a registry with a populated AddressBook.
func newContactRegistry(t *testing.T) (*Registry, *fakeStore, *fakeSender) {
	t.Helper()
	store := &fakeStore{}
	sender := &fakeSender{}
	r := NewRegistry()
	RegisterAll(r, Bindings{
		Store:  store,
		Sender: sender,
		Contacts: &fakeContacts{entries: []contacts.Entry{
			{Name: "John Smith", Phone: "(555) 123-4567", Normalized: "+15551234567"},
			{Name: "Jane Smith", Phone: "(555) 987-6543", Normalized: "+15559876543"},
			{Name: "Ana Lopez", Phone: "(555) 000-1111", Normalized: "+15550001111"},
		}},
		CheckAccess: func(context.Context) (chatdb.AccessReport, error) {
			return chatdb.AccessReport{Path: store.Path(), Exists: true, Readable: true}, nil
		},
		CheckAddressBook: func(context.Context) (contacts.AccessReport, error) {
			return contacts.AccessReport{Exists: true, Contacts: 3}, nil
		},
	})
	return r, store, sender
}

func TestRecentMessagesTool(t *testing.T) {
	r, store, _ := newTestRegistry(t)

	_, err := r.Dispatch(context.Background(), "recent_messages", map[string]any{
		"limit": float64(10),
		"since": "2023-03-08T20:00:00Z",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if store.lastLimit != 10 {
		t.Errorf("limit = %d, want 10", store.lastLimit)
	}
	want := time.Date(2023, time.March, 8, 20, 0, 0, 0, time.UTC)
	if !store.lastSince.Equal(want) {
		t.Errorf("since = %v, want %v", store.lastSince, want)
	}
}

func TestRecentMessagesDefaults(t *testing.T) {
	r, store, _ := newTestRegistry(t)

	if _, err := r.Dispatch(context.Background(), "recent_messages", nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if store.lastLimit != defaultLimit {
		t.Errorf("limit = %d, want default %d", store.lastLimit, defaultLimit)
	}
	if !store.lastSince.IsZero() {
		t.Errorf("since = %v, want zero", store.lastSince)
	}
}

func TestRecentMessagesBadSince(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.Dispatch(context.Background(), "recent_messages", map[string]any{"since": "yesterday"})
	if !types.IsKind(err, types.KindInvalidArguments) {
		t.Errorf("got %v, want invalid_arguments", err)
	}
}

func TestLimitClamped(t *testing.T) {
	r, store, _ := newTestRegistry(t)

	_, err := r.Dispatch(context.Background(), "search_messages", map[string]any{
		"query": "hi",
		"limit": float64(10000),
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if store.lastLimit != defaultMaxLimit {
		t.Errorf("limit = %d, want clamp to %d", store.lastLimit, defaultMaxLimit)
	}
	if store.lastQuery != "hi" {
		t.Errorf("query = %q", store.lastQuery)
	}
}

func TestConversationMessagesTool(t *testing.T) {
	r, store, _ := newTestRegistry(t)

	_, err := r.Dispatch(context.Background(), "conversation_messages", map[string]any{
		"conversation": "chat1001",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if store.lastConv != "chat1001" {
		t.Errorf("conversation = %q", store.lastConv)
	}

	_, err = r.Dispatch(context.Background(), "conversation_messages", nil)
	if !types.IsKind(err, types.KindInvalidArguments) {
		t.Errorf("missing conversation: got %v, want invalid_arguments", err)
	}
}

func TestSendMessageTool(t *testing.T) {
	r, _, sender := newTestRegistry(t)

	out, err := r.Dispatch(context.Background(), "send_message", map[string]any{
		"target":  "+15551234567",
		"text":    "hi",
		"chat":    false,
		"service": "sms",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sender.lastReq.Target != "+15551234567" || sender.lastReq.Service != "sms" {
		t.Errorf("request = %+v", sender.lastReq)
	}
	res := out.(types.SendResult)
	if !res.Delivered {
		t.Error("result not marked delivered")
	}
}

func TestCheckAccessTool(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	out, err := r.Dispatch(context.Background(), "check_access", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	report := out.(chatdb.AccessReport)
	if !report.Readable {
		t.Errorf("report = %+v", report)
	}
}

func TestSendMessageResolvesContactName(t *testing.T) {
	r, _, sender := newContactRegistry(t)

	_, err := r.Dispatch(context.Background(), "send_message", map[string]any{
		"target": "Ana Lopez",
		"text":   "hi",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sender.lastReq.Target != "+15550001111" {
		t.Errorf("target = %q, want resolved handle +15550001111", sender.lastReq.Target)
	}
}

func TestSendMessageAmbiguousName(t *testing.T) {
	r, _, sender := newContactRegistry(t)

	_, err := r.Dispatch(context.Background(), "send_message", map[string]any{
		"target": "Smith",
		"text":   "hi",
	})
	if !types.IsKind(err, types.KindInvalidTarget) {
		t.Fatalf("got %v, want invalid_target", err)
	}
	if sender.lastReq.Target != "" {
		t.Errorf("send attempted despite ambiguity: %+v", sender.lastReq)
	}
}

func TestSendMessageHandlePassesThrough(t *testing.T) {
	r, _, sender := newContactRegistry(t)

	for _, target := range []string{"+15551234567", "someone@example.com"} {
		if _, err := r.Dispatch(context.Background(), "send_message", map[string]any{
			"target": target,
			"text":   "hi",
		}); err != nil {
			t.Fatalf("Dispatch(%q): %v", target, err)
		}
		if sender.lastReq.Target != target {
			t.Errorf("target = %q, want %q untouched", sender.lastReq.Target, target)
		}
	}
}

func TestSendMessageResolvesGroupChatName(t *testing.T) {
	r, store, sender := newContactRegistry(t)
	store.convs = []types.Conversation{
		{ID: "chat1001", DisplayName: "Lunch Crew"},
		{ID: "chat1002", DisplayName: "Family"},
	}

	_, err := r.Dispatch(context.Background(), "send_message", map[string]any{
		"target": "Lunch Crew",
		"text":   "on my way",
		"chat":   true,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sender.lastReq.Target != "chat1001" {
		t.Errorf("target = %q, want chat1001", sender.lastReq.Target)
	}

	// An exact chat identifier never goes through name matching.
	if _, err := r.Dispatch(context.Background(), "send_message", map[string]any{
		"target": "chat1002",
		"text":   "hi",
		"chat":   true,
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sender.lastReq.Target != "chat1002" {
		t.Errorf("target = %q, want chat1002 untouched", sender.lastReq.Target)
	}
}

func TestListingLabelsSenders(t *testing.T) {
	r, store, _ := newContactRegistry(t)
	store.msgs = []types.Message{
		{ID: 1, Sender: "+15551234567", Text: "Hello there"},
		{ID: 2, Sender: "unknown@example.com", Text: "on my way"},
		{ID: 3, FromMe: true, Text: "sounds good"},
	}

	out, err := r.Dispatch(context.Background(), "recent_messages", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	msgs := out.([]types.Message)
	if msgs[0].SenderName != "John Smith" {
		t.Errorf("sender name = %q, want John Smith", msgs[0].SenderName)
	}
	if msgs[1].SenderName != "" || msgs[2].SenderName != "" {
		t.Errorf("unexpected sender labels: %+v", msgs[1:])
	}
}

func TestFindContactTool(t *testing.T) {
	r, _, _ := newContactRegistry(t)

	out, err := r.Dispatch(context.Background(), "find_contact", map[string]any{"name": "ana"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	matches := out.([]contacts.Match)
	if len(matches) == 0 || matches[0].Name != "Ana Lopez" {
		t.Fatalf("matches = %v, want Ana Lopez first", matches)
	}

	_, err = r.Dispatch(context.Background(), "find_contact", nil)
	if !types.IsKind(err, types.KindInvalidArguments) {
		t.Errorf("missing name: got %v, want invalid_arguments", err)
	}
}

func TestFindContactWithoutBook(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.Dispatch(context.Background(), "find_contact", map[string]any{"name": "ana"})
	if !types.IsKind(err, types.KindStoreUnavailable) {
		t.Errorf("got %v, want store_unavailable", err)
	}
}

func TestCheckContactsTool(t *testing.T) {
	r, _, _ := newContactRegistry(t)

	out, err := r.Dispatch(context.Background(), "check_contacts", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	summary := out.(map[string]any)
	if summary["count"] != 3 {
		t.Errorf("count = %v, want 3", summary["count"])
	}
	if sample := summary["sample"].([]string); len(sample) != 3 {
		t.Errorf("sample = %v, want all three entries", sample)
	}
}

func TestCheckAddressBookTool(t *testing.T) {
	r, _, _ := newContactRegistry(t)

	out, err := r.Dispatch(context.Background(), "check_addressbook", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	report := out.(contacts.AccessReport)
	if !report.Exists || report.Contacts != 3 {
		t.Errorf("report = %+v", report)
	}
}

func TestFuzzySearchMessagesTool(t *testing.T) {
	r, store, _ := newContactRegistry(t)
	store.msgs = []types.Message{
		{ID: 1, Sender: "+15551234567", Text: "dinner tonight?"},
		{ID: 2, Sender: "+15559876543", Text: "taco tuesday anyone"},
		{ID: 3, Sender: "+15550001111", Text: "diner tonight at 8"},
	}

	out, err := r.Dispatch(context.Background(), "fuzzy_search_messages", map[string]any{
		"query": "dinner tonight",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if store.lastLimit != fuzzyCandidates {
		t.Errorf("candidate window = %d, want %d", store.lastLimit, fuzzyCandidates)
	}
	scored := out.([]ScoredMessage)
	if len(scored) != 2 {
		t.Fatalf("got %d matches, want 2: %v", len(scored), scored)
	}
	if scored[0].ID != 1 || scored[1].ID != 3 {
		t.Errorf("order = %d, %d; want best match first (1, 3)", scored[0].ID, scored[1].ID)
	}
	if scored[0].Score < scored[1].Score {
		t.Errorf("scores not descending: %v", scored)
	}
	if scored[0].SenderName != "John Smith" {
		t.Errorf("sender name = %q, want John Smith", scored[0].SenderName)
	}
}

func TestFuzzySearchThreshold(t *testing.T) {
	r, store, _ := newContactRegistry(t)
	store.msgs = []types.Message{
		{ID: 1, Text: "diner tonight at 8"},
		{ID: 2, Text: "taco tuesday anyone"},
	}

	out, err := r.Dispatch(context.Background(), "fuzzy_search_messages", map[string]any{
		"query":     "dinner tonight",
		"threshold": float64(0.99),
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if scored := out.([]ScoredMessage); len(scored) != 0 {
		t.Errorf("matches above 0.99 = %v, want none", scored)
	}

	for _, bad := range []float64{-0.1, 1.5} {
		_, err := r.Dispatch(context.Background(), "fuzzy_search_messages", map[string]any{
			"query":     "x",
			"threshold": bad,
		})
		if !types.IsKind(err, types.KindInvalidArguments) {
			t.Errorf("threshold %v: got %v, want invalid_arguments", bad, err)
		}
	}
}

func TestAllToolsListed(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	want := []string{
		"check_access",
		"check_addressbook",
		"check_contacts",
		"conversation_messages",
		"find_contact",
		"fuzzy_search_messages",
		"list_chats",
		"recent_messages",
		"search_messages",
		"send_message",
	}
	specs := r.Specs()
	if len(specs) != len(want) {
		t.Fatalf("got %d tools, want %d", len(specs), len(want))
	}
	for i, s := range specs {
		if s.Name != want[i] {
			t.Errorf("spec[%d] = %s, want %s", i, s.Name, want[i])
		}
	}
}
