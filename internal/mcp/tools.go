package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/leonletto/msgbridge/internal/chatdb"
	"github.com/leonletto/msgbridge/internal/contacts"
	"github.com/leonletto/msgbridge/internal/tool"
	"github.com/leonletto/msgbridge/internal/types"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// fuzzyCandidates bounds how many recent messages one fuzzy search
	// scores.
	fuzzyCandidates = 500
	// defaultFuzzyThreshold is the similarity floor for fuzzy message
	// search.
	defaultFuzzyThreshold = 0.6
	// defaultMatches bounds contact name searches.
	defaultMatches = 10
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func (s *Server) handleRecentMessages(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input RecentMessagesInput,
) (*gomcp.CallToolResult, MessagesOutput, error) {
	var since time.Time
	if input.Since != "" {
		t, err := time.Parse(time.RFC3339, input.Since)
		if err != nil {
			return nil, MessagesOutput{}, fmt.Errorf("'since' must be an RFC 3339 timestamp: %w", err)
		}
		since = t
	}

	msgs, err := s.store.RecentMessages(ctx, clampLimit(input.Limit), since)
	if err != nil {
		return nil, MessagesOutput{}, err
	}
	msgs = tool.LabelSenders(ctx, s.contacts, msgs)
	return nil, MessagesOutput{Messages: msgs, Count: len(msgs)}, nil
}

func (s *Server) handleConversationMessages(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ConversationMessagesInput,
) (*gomcp.CallToolResult, MessagesOutput, error) {
	if input.Conversation == "" {
		return nil, MessagesOutput{}, fmt.Errorf("'conversation' is required")
	}

	msgs, err := s.store.ConversationMessages(ctx, input.Conversation, clampLimit(input.Limit))
	if err != nil {
		return nil, MessagesOutput{}, err
	}
	msgs = tool.LabelSenders(ctx, s.contacts, msgs)
	return nil, MessagesOutput{Messages: msgs, Count: len(msgs)}, nil
}

func (s *Server) handleSearchMessages(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input SearchMessagesInput,
) (*gomcp.CallToolResult, MessagesOutput, error) {
	if input.Query == "" {
		return nil, MessagesOutput{}, fmt.Errorf("'query' is required")
	}

	msgs, err := s.store.SearchMessages(ctx, input.Query, clampLimit(input.Limit))
	if err != nil {
		return nil, MessagesOutput{}, err
	}
	msgs = tool.LabelSenders(ctx, s.contacts, msgs)
	return nil, MessagesOutput{Messages: msgs, Count: len(msgs)}, nil
}

func (s *Server) handleListChats(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ListChatsInput,
) (*gomcp.CallToolResult, ListChatsOutput, error) {
	chats, err := s.store.Conversations(ctx)
	if err != nil {
		return nil, ListChatsOutput{}, err
	}
	return nil, ListChatsOutput{Chats: chats, Count: len(chats)}, nil
}

func (s *Server) handleSendMessage(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input SendMessageInput,
) (*gomcp.CallToolResult, SendMessageOutput, error) {
	send, err := tool.ResolveSendTarget(ctx, s.store, s.contacts, types.SendRequest{
		Target:  input.To,
		Text:    input.Text,
		Chat:    input.Chat,
		Service: input.Service,
	})
	if err != nil {
		return nil, SendMessageOutput{}, err
	}
	res, err := s.sender.SendText(ctx, send)
	if err != nil {
		return nil, SendMessageOutput{}, err
	}
	return nil, SendMessageOutput{
		Delivered: res.Delivered,
		AttemptID: res.AttemptID,
		Service:   res.Service,
	}, nil
}

func (s *Server) handleCheckAvailability(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input CheckAvailabilityInput,
) (*gomcp.CallToolResult, CheckAvailabilityOutput, error) {
	if input.Handle == "" {
		return nil, CheckAvailabilityOutput{}, fmt.Errorf("'handle' is required")
	}

	reachable, err := s.sender.Availability(ctx, input.Handle)
	if err != nil {
		return nil, CheckAvailabilityOutput{}, err
	}
	return nil, CheckAvailabilityOutput{Handle: input.Handle, Reachable: reachable}, nil
}

func (s *Server) handleCheckAccess(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input CheckAccessInput,
) (*gomcp.CallToolResult, CheckAccessOutput, error) {
	report, err := chatdb.CheckAccess(ctx, s.store.Path())
	out := CheckAccessOutput{
		Path:     report.Path,
		Exists:   report.Exists,
		Readable: report.Readable,
		Messages: report.Messages,
		Missing:  report.Missing,
	}
	if err != nil {
		// The report itself is the diagnostic; surface the failure as a
		// hint instead of erroring the tool call.
		var bridgeErr *types.Error
		if errors.As(err, &bridgeErr) {
			out.Hint = bridgeErr.Message
		} else {
			out.Hint = err.Error()
		}
	}
	return nil, out, nil
}

func (s *Server) handleFuzzySearchMessages(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input FuzzySearchMessagesInput,
) (*gomcp.CallToolResult, FuzzySearchMessagesOutput, error) {
	if input.Query == "" {
		return nil, FuzzySearchMessagesOutput{}, fmt.Errorf("'query' is required")
	}
	threshold := defaultFuzzyThreshold
	if input.Threshold != nil {
		if *input.Threshold < 0 || *input.Threshold > 1 {
			return nil, FuzzySearchMessagesOutput{}, fmt.Errorf("'threshold' must be between 0 and 1, got %v", *input.Threshold)
		}
		threshold = *input.Threshold
	}
	var since time.Time
	if input.Since != "" {
		t, err := time.Parse(time.RFC3339, input.Since)
		if err != nil {
			return nil, FuzzySearchMessagesOutput{}, fmt.Errorf("'since' must be an RFC 3339 timestamp: %w", err)
		}
		since = t
	}

	msgs, err := s.store.RecentMessages(ctx, fuzzyCandidates, since)
	if err != nil {
		return nil, FuzzySearchMessagesOutput{}, err
	}
	var scored []tool.ScoredMessage
	for _, m := range tool.LabelSenders(ctx, s.contacts, msgs) {
		if score := contacts.TextScore(input.Query, m.Text); score >= threshold {
			scored = append(scored, tool.ScoredMessage{Message: m, Score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit := clampLimit(input.Limit); len(scored) > limit {
		scored = scored[:limit]
	}
	return nil, FuzzySearchMessagesOutput{Messages: scored, Count: len(scored)}, nil
}

func (s *Server) handleFindContact(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input FindContactInput,
) (*gomcp.CallToolResult, FindContactOutput, error) {
	if input.Name == "" {
		return nil, FindContactOutput{}, fmt.Errorf("'name' is required")
	}
	if s.contacts == nil {
		return nil, FindContactOutput{}, fmt.Errorf("addressbook is not available")
	}
	entries, err := s.contacts.Entries(ctx)
	if err != nil {
		return nil, FindContactOutput{}, err
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultMatches
	}
	matches := contacts.FindByName(entries, input.Name, limit)
	return nil, FindContactOutput{Matches: matches, Count: len(matches)}, nil
}

func (s *Server) handleCheckContacts(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input CheckContactsInput,
) (*gomcp.CallToolResult, CheckContactsOutput, error) {
	if s.contacts == nil {
		return nil, CheckContactsOutput{}, fmt.Errorf("addressbook is not available")
	}
	entries, err := s.contacts.Entries(ctx)
	if err != nil {
		return nil, CheckContactsOutput{}, err
	}
	out := CheckContactsOutput{Count: len(entries)}
	for _, e := range entries {
		if len(out.Sample) == defaultMatches {
			break
		}
		out.Sample = append(out.Sample, e.Normalized+" -> "+e.Name)
	}
	return nil, out, nil
}

func (s *Server) handleCheckAddressBook(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input CheckAddressBookInput,
) (*gomcp.CallToolResult, CheckAddressBookOutput, error) {
	report, err := contacts.CheckAccess(ctx, s.abDir)
	out := CheckAddressBookOutput{
		Dir:       report.Dir,
		Exists:    report.Exists,
		Databases: len(report.Databases),
		Readable:  len(report.Readable),
		Contacts:  report.Contacts,
	}
	if err != nil {
		// The report itself is the diagnostic; surface the failure as a
		// hint instead of erroring the tool call.
		var bridgeErr *types.Error
		if errors.As(err, &bridgeErr) {
			out.Hint = bridgeErr.Message
		} else {
			out.Hint = err.Error()
		}
	}
	return nil, out, nil
}

func (s *Server) handleWaitForMessage(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input WaitForMessageInput,
) (*gomcp.CallToolResult, WaitForMessageOutput, error) {
	if s.waiter == nil {
		return nil, WaitForMessageOutput{}, fmt.Errorf("daemon event stream not connected; start the msgbridge daemon")
	}

	start := time.Now()
	msgs, err := s.waiter.WaitForMessages(ctx, input.Timeout)
	if err != nil {
		return nil, WaitForMessageOutput{}, err
	}
	out := WaitForMessageOutput{WaitedSeconds: int(time.Since(start).Seconds())}
	if len(msgs) == 0 {
		out.Status = "timeout"
	} else {
		out.Status = "message_received"
		out.Messages = msgs
	}
	return nil, out, nil
}
