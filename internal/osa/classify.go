package osa

import (
	"strings"

	"github.com/leonletto/msgbridge/internal/types"
)

// classifyRules maps stderr fragments to error kinds. Order matters: the
// first matching rule wins, and permission failures must be recognized
// before the generic "can't get" target errors because macOS phrases some
// automation denials as object lookups.
var classifyRules = []struct {
	fragment string
	kind     types.Kind
}{
	{"not authorized to send apple events", types.KindPermissionDenied},
	{"not allowed assistive access", types.KindPermissionDenied},
	{"(-1743)", types.KindPermissionDenied},
	{"(-25211)", types.KindPermissionDenied},
	{"can't get buddy", types.KindTargetNotFound},
	{"can't get service", types.KindTargetNotFound},
	{"can't get chat", types.KindTargetNotFound},
	{"can't get participant", types.KindTargetNotFound},
	{"(-1728)", types.KindTargetNotFound},
}

// Classify maps an osascript stderr line to the error kind it represents.
// Unrecognized failures come back as a generic script failure carrying the
// raw stderr.
func Classify(stderr string) error {
	lowered := strings.ToLower(stderr)
	for _, rule := range classifyRules {
		if strings.Contains(lowered, rule.fragment) {
			return types.NewError(rule.kind, "osascript: %s", stderr)
		}
	}
	if stderr == "" {
		return types.NewError(types.KindScriptFailed, "osascript exited nonzero with no diagnostic")
	}
	return types.NewError(types.KindScriptFailed, "osascript: %s", stderr)
}
