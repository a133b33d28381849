// Package types defines the records shared across the bridge: normalized
// message and conversation projections of the Messages store, send
// requests/results, and raw scripting output.
package types

import "time"

// Message is a normalized, read-only projection of one row in the Messages
// store. It is recomputed on every query and carries no identity beyond the
// store's own ROWID.
type Message struct {
	ID            int64     `json:"id"`
	Conversation  string    `json:"conversation,omitempty"` // chat identifier, empty for plain 1:1 threads
	Sender        string    `json:"sender,omitempty"`      // phone/email handle; empty when FromMe
	SenderName    string    `json:"sender_name,omitempty"` // AddressBook name for Sender, when known
	FromMe        bool      `json:"from_me"`
	Text          string    `json:"text"`
	SentAt        time.Time `json:"sent_at"`
	HasAttachment bool      `json:"has_attachment"`
}

// Conversation is a named chat in the Messages store.
type Conversation struct {
	ID           string    `json:"id"` // chat_identifier
	DisplayName  string    `json:"display_name,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	LastActivity time.Time `json:"last_activity,omitzero"`
}

// SendRequest describes one outgoing message. Target is either a single
// handle (phone number or email) or, when Chat is set, a chat identifier
// from the store.
type SendRequest struct {
	Target  string `json:"target"`
	Text    string `json:"text"`
	Chat    bool   `json:"chat,omitempty"`
	Service string `json:"service,omitempty"` // "imessage" (default) or "sms"
}

// ScriptResult is the raw outcome of one scripting-host invocation.
type ScriptResult struct {
	OK       bool   `json:"ok"`
	Output   string `json:"output,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// SendResult reports a completed send attempt. Delivered means the scripting
// host accepted the message; it is an at-least-once-attempt report, not a
// delivery receipt.
type SendResult struct {
	Delivered bool         `json:"delivered"`
	AttemptID string       `json:"attempt_id"`
	Service   string       `json:"service"`
	Raw       ScriptResult `json:"raw"`
}
