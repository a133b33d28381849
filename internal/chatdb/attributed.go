package chatdb

import "strings"

// attributedBody is an NSKeyedArchiver typedstream blob. Some store rows
// carry the message text only there, with the text column NULL. Full
// typedstream parsing is not worth the weight; the text sits between the
// NSString class marker and the NSDictionary marker, padded by a 6-byte
// header and a 12-byte trailer.
func extractAttributedBody(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	s := string(raw)
	if i := strings.Index(s, "NSNumber"); i >= 0 {
		s = s[:i]
	}
	i := strings.Index(s, "NSString")
	if i < 0 {
		return ""
	}
	s = s[i+len("NSString"):]
	j := strings.Index(s, "NSDictionary")
	if j < 0 {
		return ""
	}
	s = s[:j]
	if len(s) <= 18 {
		return ""
	}
	s = s[6 : len(s)-12]
	return strings.TrimSpace(strings.ToValidUTF8(s, ""))
}
