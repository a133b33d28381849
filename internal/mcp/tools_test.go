package mcp

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leonletto/msgbridge/internal/contacts"
	"github.com/leonletto/msgbridge/internal/imessage"
	"github.com/leonletto/msgbridge/internal/types"
)

// fakeStore serves canned messages and records query arguments.
type fakeStore struct {
	lastLimit int
	lastSince time.Time
	msgs      []types.Message
	err       error
}

func (f *fakeStore) RecentMessages(_ context.Context, limit int, since time.Time) ([]types.Message, error) {
	f.lastLimit, f.lastSince = limit, since
	return f.msgs, f.err
}

func (f *fakeStore) ConversationMessages(_ context.Context, _ string, limit int) ([]types.Message, error) {
	f.lastLimit = limit
	return f.msgs, f.err
}

func (f *fakeStore) SearchMessages(_ context.Context, _ string, limit int) ([]types.Message, error) {
	f.lastLimit = limit
	return f.msgs, f.err
}

func (f *fakeStore) Conversations(context.Context) ([]types.Conversation, error) {
	return []types.Conversation{{ID: "chat1001", DisplayName: "Lunch Crew"}}, f.err
}

func (f *fakeStore) Path() string { return "/nonexistent/chat.db" }

// scriptedRunner replays a canned interpreter outcome.
type scriptedRunner struct {
	lastSource string
	result     types.ScriptResult
	err        error
}

func (r *scriptedRunner) Run(_ context.Context, source string) (types.ScriptResult, error) {
	r.lastSource = source
	return r.result, r.err
}

func newTestServer(store *fakeStore, runner *scriptedRunner) *Server {
	return NewServer(store, imessage.NewSender(runner), WithVersion("test"))
}

func TestHandleRecentMessages(t *testing.T) {
	store := &fakeStore{msgs: []types.Message{{ID: 1, Text: "hi"}}}
	s := newTestServer(store, &scriptedRunner{})

	_, out, err := s.handleRecentMessages(context.Background(), nil, RecentMessagesInput{
		Limit: 10,
		Since: "2023-03-08T20:00:00Z",
	})
	if err != nil {
		t.Fatalf("handleRecentMessages: %v", err)
	}
	if out.Count != 1 || out.Messages[0].Text != "hi" {
		t.Errorf("output = %+v", out)
	}
	if store.lastLimit != 10 {
		t.Errorf("limit = %d", store.lastLimit)
	}
	want := time.Date(2023, time.March, 8, 20, 0, 0, 0, time.UTC)
	if !store.lastSince.Equal(want) {
		t.Errorf("since = %v, want %v", store.lastSince, want)
	}
}

func TestHandleRecentMessagesDefaultsAndClamp(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, &scriptedRunner{})

	if _, _, err := s.handleRecentMessages(context.Background(), nil, RecentMessagesInput{}); err != nil {
		t.Fatalf("handleRecentMessages: %v", err)
	}
	if store.lastLimit != defaultLimit {
		t.Errorf("limit = %d, want default %d", store.lastLimit, defaultLimit)
	}

	if _, _, err := s.handleRecentMessages(context.Background(), nil, RecentMessagesInput{Limit: 99999}); err != nil {
		t.Fatalf("handleRecentMessages: %v", err)
	}
	if store.lastLimit != maxLimit {
		t.Errorf("limit = %d, want clamp to %d", store.lastLimit, maxLimit)
	}

	if _, _, err := s.handleRecentMessages(context.Background(), nil, RecentMessagesInput{Since: "yesterday"}); err == nil {
		t.Error("malformed since accepted")
	}
}

func TestHandleConversationMessagesRequiresID(t *testing.T) {
	s := newTestServer(&fakeStore{}, &scriptedRunner{})

	if _, _, err := s.handleConversationMessages(context.Background(), nil, ConversationMessagesInput{}); err == nil {
		t.Error("empty conversation accepted")
	}
}

func TestHandleSearchMessagesRequiresQuery(t *testing.T) {
	s := newTestServer(&fakeStore{}, &scriptedRunner{})

	if _, _, err := s.handleSearchMessages(context.Background(), nil, SearchMessagesInput{}); err == nil {
		t.Error("empty query accepted")
	}
}

func TestHandleListChats(t *testing.T) {
	s := newTestServer(&fakeStore{}, &scriptedRunner{})

	_, out, err := s.handleListChats(context.Background(), nil, ListChatsInput{})
	if err != nil {
		t.Fatalf("handleListChats: %v", err)
	}
	if out.Count != 1 || out.Chats[0].ID != "chat1001" {
		t.Errorf("output = %+v", out)
	}
}

func TestHandleSendMessage(t *testing.T) {
	runner := &scriptedRunner{result: types.ScriptResult{OK: true}}
	s := newTestServer(&fakeStore{}, runner)

	_, out, err := s.handleSendMessage(context.Background(), nil, SendMessageInput{
		To:   "+15551234567",
		Text: "hi",
	})
	if err != nil {
		t.Fatalf("handleSendMessage: %v", err)
	}
	if !out.Delivered || out.AttemptID == "" || out.Service != "imessage" {
		t.Errorf("output = %+v", out)
	}
	if !strings.Contains(runner.lastSource, `participant "+15551234567"`) {
		t.Errorf("script:\n%s", runner.lastSource)
	}

	// Validation failures surface as tool errors before any script runs.
	runner.lastSource = ""
	if _, _, err := s.handleSendMessage(context.Background(), nil, SendMessageInput{To: "+15551234567"}); err == nil {
		t.Error("empty text accepted")
	}
	if runner.lastSource != "" {
		t.Error("invalid send reached the interpreter")
	}
}

func TestHandleCheckAvailability(t *testing.T) {
	runner := &scriptedRunner{result: types.ScriptResult{OK: true, Output: "true"}}
	s := newTestServer(&fakeStore{}, runner)

	_, out, err := s.handleCheckAvailability(context.Background(), nil, CheckAvailabilityInput{Handle: "+15551234567"})
	if err != nil {
		t.Fatalf("handleCheckAvailability: %v", err)
	}
	if !out.Reachable {
		t.Errorf("output = %+v", out)
	}

	if _, _, err := s.handleCheckAvailability(context.Background(), nil, CheckAvailabilityInput{}); err == nil {
		t.Error("empty handle accepted")
	}
}

func TestHandleCheckAccessMissingStore(t *testing.T) {
	s := newTestServer(&fakeStore{}, &scriptedRunner{})

	_, out, err := s.handleCheckAccess(context.Background(), nil, CheckAccessInput{})
	if err != nil {
		t.Fatalf("handleCheckAccess: %v", err)
	}
	if out.Exists || out.Readable {
		t.Errorf("output = %+v, want unreadable report", out)
	}
	if out.Hint == "" {
		t.Error("no remediation hint for a missing store")
	}
}

// fakeContacts serves a fixed AddressBook.
type fakeContacts struct {
	entries []contacts.Entry
}

func (f *fakeContacts) Entries(context.Context) ([]contacts.Entry, error) {
	return f.entries, nil
}

func newContactServer(store *fakeStore, runner *scriptedRunner) *Server {
	return NewServer(store, imessage.NewSender(runner),
		WithVersion("test"),
		WithContacts(&fakeContacts{entries: []contacts.Entry{
			{Name: "John Smith", Phone: "(555) 123-4567", Normalized: "+15551234567"},
			{Name: "Jane Smith", Phone: "(555) 987-6543", Normalized: "+15559876543"},
			{Name: "Ana Lopez", Phone: "(555) 000-1111", Normalized: "+15550001111"},
		}}),
	)
}

func TestHandleFindContact(t *testing.T) {
	s := newContactServer(&fakeStore{}, &scriptedRunner{})

	_, out, err := s.handleFindContact(context.Background(), nil, FindContactInput{Name: "ana"})
	if err != nil {
		t.Fatalf("handleFindContact: %v", err)
	}
	if out.Count == 0 || out.Matches[0].Name != "Ana Lopez" {
		t.Errorf("output = %+v, want Ana Lopez first", out)
	}

	if _, _, err := s.handleFindContact(context.Background(), nil, FindContactInput{}); err == nil {
		t.Error("empty name accepted")
	}

	bare := newTestServer(&fakeStore{}, &scriptedRunner{})
	if _, _, err := bare.handleFindContact(context.Background(), nil, FindContactInput{Name: "ana"}); err == nil {
		t.Error("find_contact without an addressbook did not error")
	}
}

func TestHandleCheckContacts(t *testing.T) {
	s := newContactServer(&fakeStore{}, &scriptedRunner{})

	_, out, err := s.handleCheckContacts(context.Background(), nil, CheckContactsInput{})
	if err != nil {
		t.Fatalf("handleCheckContacts: %v", err)
	}
	if out.Count != 3 || len(out.Sample) != 3 {
		t.Errorf("output = %+v", out)
	}
	if !strings.Contains(out.Sample[0], "John Smith") {
		t.Errorf("sample = %v", out.Sample)
	}
}

func TestHandleCheckAddressBookMissing(t *testing.T) {
	s := NewServer(&fakeStore{}, imessage.NewSender(&scriptedRunner{}),
		WithAddressBookDir(filepath.Join(t.TempDir(), "nope")))

	_, out, err := s.handleCheckAddressBook(context.Background(), nil, CheckAddressBookInput{})
	if err != nil {
		t.Fatalf("handleCheckAddressBook: %v", err)
	}
	if out.Exists || out.Readable != 0 {
		t.Errorf("output = %+v, want unreadable report", out)
	}
	if out.Hint == "" {
		t.Error("no remediation hint for a missing addressbook")
	}
}

func TestHandleFuzzySearchMessages(t *testing.T) {
	store := &fakeStore{msgs: []types.Message{
		{ID: 1, Sender: "+15551234567", Text: "dinner tonight?"},
		{ID: 2, Sender: "+15559876543", Text: "taco tuesday anyone"},
		{ID: 3, Sender: "+15550001111", Text: "diner tonight at 8"},
	}}
	s := newContactServer(store, &scriptedRunner{})

	_, out, err := s.handleFuzzySearchMessages(context.Background(), nil, FuzzySearchMessagesInput{
		Query: "dinner tonight",
	})
	if err != nil {
		t.Fatalf("handleFuzzySearchMessages: %v", err)
	}
	if store.lastLimit != fuzzyCandidates {
		t.Errorf("candidate window = %d, want %d", store.lastLimit, fuzzyCandidates)
	}
	if out.Count != 2 || out.Messages[0].ID != 1 || out.Messages[1].ID != 3 {
		t.Fatalf("output = %+v, want ids 1, 3 best first", out)
	}
	if out.Messages[0].SenderName != "John Smith" {
		t.Errorf("sender name = %q, want John Smith", out.Messages[0].SenderName)
	}

	if _, _, err := s.handleFuzzySearchMessages(context.Background(), nil, FuzzySearchMessagesInput{}); err == nil {
		t.Error("empty query accepted")
	}
	bad := 1.5
	if _, _, err := s.handleFuzzySearchMessages(context.Background(), nil, FuzzySearchMessagesInput{
		Query:     "x",
		Threshold: &bad,
	}); err == nil {
		t.Error("out-of-range threshold accepted")
	}
}

func TestHandleSendMessageResolvesName(t *testing.T) {
	runner := &scriptedRunner{result: types.ScriptResult{OK: true}}
	s := newContactServer(&fakeStore{}, runner)

	_, out, err := s.handleSendMessage(context.Background(), nil, SendMessageInput{
		To:   "Ana Lopez",
		Text: "hi",
	})
	if err != nil {
		t.Fatalf("handleSendMessage: %v", err)
	}
	if !out.Delivered {
		t.Errorf("output = %+v", out)
	}
	if !strings.Contains(runner.lastSource, `participant "+15550001111"`) {
		t.Errorf("script:\n%s", runner.lastSource)
	}

	runner.lastSource = ""
	if _, _, err := s.handleSendMessage(context.Background(), nil, SendMessageInput{
		To:   "Smith",
		Text: "hi",
	}); err == nil {
		t.Error("ambiguous name accepted")
	}
	if runner.lastSource != "" {
		t.Error("ambiguous send reached the interpreter")
	}
}

func TestHandleWaitForMessageNoWaiter(t *testing.T) {
	s := newTestServer(&fakeStore{}, &scriptedRunner{})

	if _, _, err := s.handleWaitForMessage(context.Background(), nil, WaitForMessageInput{}); err == nil {
		t.Error("wait without a daemon connection did not error")
	}
}
