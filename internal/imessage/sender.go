// Package imessage sends messages through Messages.app by driving the
// osascript interpreter. It owns target validation, phone normalization,
// and the AppleScript sources themselves.
package imessage

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/leonletto/msgbridge/internal/osa"
	"github.com/leonletto/msgbridge/internal/types"
)

// Service names accepted in a send request.
const (
	ServiceIMessage = "imessage"
	ServiceSMS      = "sms"
)

// Sender builds AppleScript send commands and runs them through a Runner.
type Sender struct {
	runner osa.Runner
}

func NewSender(runner osa.Runner) *Sender {
	return &Sender{runner: runner}
}

// SendText delivers one message. Validation failures surface before any
// subprocess is spawned: empty text and an unusable target never reach the
// interpreter. The attempt id on the result is assigned whether or not
// delivery succeeds, so logs on both paths correlate.
func (s *Sender) SendText(ctx context.Context, req types.SendRequest) (types.SendResult, error) {
	res := types.SendResult{AttemptID: ulid.Make().String()}

	if strings.TrimSpace(req.Text) == "" {
		return res, types.NewError(types.KindInvalidArguments, "message text must not be empty")
	}

	service, err := resolveService(req.Service)
	if err != nil {
		return res, err
	}
	res.Service = service

	target, err := resolveTarget(req)
	if err != nil {
		return res, err
	}

	source := buildSendScript(target, req.Text, req.Chat, service)
	raw, err := s.runner.Run(ctx, source)
	res.Raw = raw
	if err != nil {
		return res, err
	}
	res.Delivered = true
	return res, nil
}

// Availability reports whether handle is reachable over iMessage. The probe
// asks Messages.app whether the buddy exists on the iMessage service; a
// scripting failure surfaces as the same classified errors a send would.
func (s *Sender) Availability(ctx context.Context, handle string) (bool, error) {
	target, err := resolveTarget(types.SendRequest{Target: handle})
	if err != nil {
		return false, err
	}

	source := fmt.Sprintf(`tell application "Messages"
	set targetService to 1st service whose service type = iMessage
	set targetBuddy to buddy "%s" of targetService
	if targetBuddy exists then
		return "true"
	end if
	return "false"
end tell`, escapeScript(target))

	res, err := s.runner.Run(ctx, source)
	if err != nil {
		if types.IsKind(err, types.KindTargetNotFound) {
			return false, nil
		}
		return false, err
	}
	return strings.EqualFold(res.Output, "true"), nil
}

func resolveService(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ServiceIMessage:
		return ServiceIMessage, nil
	case ServiceSMS:
		return ServiceSMS, nil
	default:
		return "", types.NewError(types.KindInvalidArguments,
			"unknown service %q, want %q or %q", name, ServiceIMessage, ServiceSMS)
	}
}

// resolveTarget validates the request target and, for individual phone
// targets, normalizes it to the form the store and Messages.app agree on.
func resolveTarget(req types.SendRequest) (string, error) {
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return "", types.NewError(types.KindInvalidTarget, "target must not be empty")
	}
	if req.Chat {
		// Chat identifiers are opaque; pass them through untouched.
		return target, nil
	}
	if strings.Contains(target, "@") {
		return target, nil
	}
	normalized, ok := NormalizePhone(target)
	if !ok {
		return "", types.NewError(types.KindInvalidTarget,
			"target %q is neither a phone number nor an email address", target)
	}
	return normalized, nil
}

// NormalizePhone reduces a phone target to +<digits>. Ten-digit numbers
// are assumed domestic and get the +1 prefix; an eleven-digit number
// starting with 1 is the same thing with the country code spelled out.
func NormalizePhone(raw string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
			// separators and the leading plus are dropped
		default:
			return "", false
		}
	}
	d := digits.String()
	switch {
	case len(d) == 10:
		return "+1" + d, true
	case len(d) == 11 && d[0] == '1':
		return "+" + d, true
	case len(d) >= 7 && len(d) <= 15:
		return "+" + d, true
	default:
		return "", false
	}
}

// escapeScript makes s safe inside a double-quoted AppleScript literal.
// Backslashes double first so quote escapes are not themselves escaped.
func escapeScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	return s
}

func serviceClause(service string) string {
	if service == ServiceSMS {
		return "first account whose service type = SMS and enabled is true"
	}
	return "1st service whose service type = iMessage"
}

// buildSendScript renders the AppleScript for one delivery. Group chats
// are addressed by identifier; individual targets go through the service's
// participant so the service choice is honored.
func buildSendScript(target, text string, chat bool, service string) string {
	safeTarget := escapeScript(target)
	safeText := escapeScript(text)

	if chat {
		return fmt.Sprintf(`tell application "Messages"
	set targetChat to chat "%s"
	send "%s" to targetChat
end tell`, safeTarget, safeText)
	}

	return fmt.Sprintf(`tell application "Messages"
	set targetService to %s
	send "%s" to participant "%s" of targetService
end tell`, serviceClause(service), safeText, safeTarget)
}
