package mcp

import (
	"github.com/leonletto/msgbridge/internal/contacts"
	"github.com/leonletto/msgbridge/internal/tool"
	"github.com/leonletto/msgbridge/internal/types"
)

// RecentMessagesInput is the input for the recent_messages MCP tool.
type RecentMessagesInput struct {
	Limit int    `json:"limit,omitempty" jsonschema:"Max messages to return. Default 50"`
	Since string `json:"since,omitempty" jsonschema:"Only messages strictly after this RFC 3339 timestamp"`
}

// ConversationMessagesInput is the input for the conversation_messages MCP tool.
type ConversationMessagesInput struct {
	Conversation string `json:"conversation" jsonschema:"Chat identifier from list_chats"`
	Limit        int    `json:"limit,omitempty" jsonschema:"Max messages to return. Default 50"`
}

// SearchMessagesInput is the input for the search_messages MCP tool.
type SearchMessagesInput struct {
	Query string `json:"query" jsonschema:"Substring to search for in message text"`
	Limit int    `json:"limit,omitempty" jsonschema:"Max messages to return. Default 50"`
}

// MessagesOutput carries a message listing.
type MessagesOutput struct {
	Messages []types.Message `json:"messages"`
	Count    int             `json:"count"`
}

// ListChatsInput is the input for the list_chats MCP tool.
type ListChatsInput struct{}

// ListChatsOutput is the output for the list_chats MCP tool.
type ListChatsOutput struct {
	Chats []types.Conversation `json:"chats"`
	Count int                  `json:"count"`
}

// SendMessageInput is the input for the send_message MCP tool.
type SendMessageInput struct {
	To      string `json:"to" jsonschema:"Phone number, email address, or chat identifier"`
	Text    string `json:"text" jsonschema:"Message body"`
	Chat    bool   `json:"chat,omitempty" jsonschema:"Treat the target as a group chat identifier"`
	Service string `json:"service,omitempty" jsonschema:"Delivery service: imessage (default) or sms"`
}

// SendMessageOutput is the output for the send_message MCP tool.
type SendMessageOutput struct {
	Delivered bool   `json:"delivered" jsonschema:"Whether Messages.app accepted the message"`
	AttemptID string `json:"attempt_id" jsonschema:"Correlation id for this send attempt"`
	Service   string `json:"service" jsonschema:"Service the message went out on"`
}

// FuzzySearchMessagesInput is the input for the fuzzy_search_messages MCP tool.
type FuzzySearchMessagesInput struct {
	Query     string   `json:"query" jsonschema:"Approximate text to look for"`
	Limit     int      `json:"limit,omitempty" jsonschema:"Max matches to return. Default 50"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"Minimum similarity between 0 and 1. Default 0.6"`
	Since     string   `json:"since,omitempty" jsonschema:"Only messages strictly after this RFC 3339 timestamp"`
}

// FuzzySearchMessagesOutput carries a scored message listing.
type FuzzySearchMessagesOutput struct {
	Messages []tool.ScoredMessage `json:"messages"`
	Count    int                  `json:"count"`
}

// FindContactInput is the input for the find_contact MCP tool.
type FindContactInput struct {
	Name  string `json:"name" jsonschema:"Full or partial name, initials, or a close misspelling"`
	Limit int    `json:"limit,omitempty" jsonschema:"Max matches to return. Default 10"`
}

// FindContactOutput is the output for the find_contact MCP tool.
type FindContactOutput struct {
	Matches []contacts.Match `json:"matches"`
	Count   int              `json:"count"`
}

// CheckContactsInput is the input for the check_contacts MCP tool.
type CheckContactsInput struct{}

// CheckContactsOutput is the output for the check_contacts MCP tool.
type CheckContactsOutput struct {
	Count  int      `json:"count" jsonschema:"How many named contacts with usable numbers are visible"`
	Sample []string `json:"sample,omitempty" jsonschema:"Up to ten entries as 'number -> name'"`
}

// CheckAddressBookInput is the input for the check_addressbook MCP tool.
type CheckAddressBookInput struct{}

// CheckAddressBookOutput is the output for the check_addressbook MCP tool.
type CheckAddressBookOutput struct {
	Dir       string `json:"dir"`
	Exists    bool   `json:"exists"`
	Databases int    `json:"databases"`
	Readable  int    `json:"readable"`
	Contacts  int64  `json:"contacts"`
	Hint      string `json:"hint,omitempty" jsonschema:"Remediation hint when the book is unreadable"`
}

// CheckAvailabilityInput is the input for the check_availability MCP tool.
type CheckAvailabilityInput struct {
	Handle string `json:"handle" jsonschema:"Phone number or email address to probe"`
}

// CheckAvailabilityOutput is the output for the check_availability MCP tool.
type CheckAvailabilityOutput struct {
	Handle    string `json:"handle"`
	Reachable bool   `json:"reachable" jsonschema:"Whether the handle is registered with iMessage"`
}

// CheckAccessInput is the input for the check_access MCP tool.
type CheckAccessInput struct{}

// CheckAccessOutput is the output for the check_access MCP tool.
type CheckAccessOutput struct {
	Path     string   `json:"path"`
	Exists   bool     `json:"exists"`
	Readable bool     `json:"readable"`
	Messages int64    `json:"messages,omitempty" jsonschema:"Row count when readable"`
	Missing  []string `json:"missing,omitempty" jsonschema:"Expected tables not found in the store"`
	Hint     string   `json:"hint,omitempty" jsonschema:"Remediation hint when the store is unreadable"`
}

// WaitForMessageInput is the input for the wait_for_message MCP tool.
type WaitForMessageInput struct {
	Timeout int `json:"timeout,omitempty" jsonschema:"Max seconds to wait. Default 300, max 600"`
}

// WaitForMessageOutput is the output for the wait_for_message MCP tool.
type WaitForMessageOutput struct {
	Status        string          `json:"status" jsonschema:"Result: message_received or timeout"`
	Messages      []types.Message `json:"messages,omitempty" jsonschema:"The newly arrived messages if any"`
	WaitedSeconds int             `json:"waited_seconds"`
}
