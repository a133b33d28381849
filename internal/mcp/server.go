// Package mcp exposes the bridge's tools over the Model Context Protocol on
// stdin/stdout. Handlers wrap the store reader and sender directly; only
// wait_for_message needs the daemon, through its event stream.
package mcp

import (
	"context"
	"fmt"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/leonletto/msgbridge/internal/contacts"
	"github.com/leonletto/msgbridge/internal/imessage"
	"github.com/leonletto/msgbridge/internal/tool"
)

// Server is the msgbridge MCP server.
type Server struct {
	store    tool.Store
	sender   *imessage.Sender
	contacts tool.ContactSource
	abDir    string
	version  string
	server   *gomcp.Server
	waiter   *Waiter
}

// Option configures the MCP server.
type Option func(*Server)

// WithVersion sets the server version string.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithContacts wires an AddressBook reader in. Without it the contact
// tools report the book as unavailable and listings stay unlabeled.
func WithContacts(src tool.ContactSource) Option {
	return func(s *Server) {
		s.contacts = src
	}
}

// WithAddressBookDir overrides the AddressBook sources directory that
// check_addressbook probes.
func WithAddressBookDir(dir string) Option {
	return func(s *Server) {
		s.abDir = dir
	}
}

// NewServer builds the MCP server over an open store reader and a sender.
func NewServer(store tool.Store, sender *imessage.Sender, opts ...Option) *Server {
	s := &Server{
		store:   store,
		sender:  sender,
		abDir:   contacts.DefaultSourcesDir(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{
			Name:    "msgbridge",
			Version: s.version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// InitWaiter connects the wait_for_message backend to the daemon's event
// stream. Without it the MCP server still works; wait_for_message reports
// the daemon as unavailable.
func (s *Server) InitWaiter(ctx context.Context, wsURL string) error {
	w, err := NewWaiter(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("connect to daemon event stream: %w", err)
	}
	s.waiter = w
	return nil
}

// Run serves MCP on stdin/stdout until the client disconnects or ctx is
// canceled.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		if s.waiter != nil {
			_ = s.waiter.Close()
		}
	}()
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "recent_messages",
		Description: "List recent messages across all conversations, newest first",
	}, s.handleRecentMessages)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "conversation_messages",
		Description: "List messages in one conversation, newest first. Get conversation ids from list_chats",
	}, s.handleConversationMessages)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "search_messages",
		Description: "Search message text case-insensitively, newest first",
	}, s.handleSearchMessages)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_chats",
		Description: "List conversations, most recently active first",
	}, s.handleListChats)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "send_message",
		Description: "Send a message to a phone number, email address, or group chat via Messages.app",
	}, s.handleSendMessage)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "fuzzy_search_messages",
		Description: "Fuzzy-search recent message text, tolerating misspellings. Best match first",
	}, s.handleFuzzySearchMessages)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "find_contact",
		Description: "Find AddressBook contacts by name. Tolerates partial names, misspellings, and initials",
	}, s.handleFindContact)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "check_contacts",
		Description: "Summarize the AddressBook: how many contacts are visible and a small sample",
	}, s.handleCheckContacts)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "check_addressbook",
		Description: "Report whether the AddressBook databases are present and readable, with a Full Disk Access hint when they are not",
	}, s.handleCheckAddressBook)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "check_availability",
		Description: "Check whether a phone number or email is reachable over iMessage",
	}, s.handleCheckAvailability)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "check_access",
		Description: "Report whether the Messages store is present and readable, with a Full Disk Access hint when it is not",
	}, s.handleCheckAccess)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "wait_for_message",
		Description: "Block until a new message arrives or the timeout expires. Requires the msgbridge daemon to be running",
	}, s.handleWaitForMessage)
}
