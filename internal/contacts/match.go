package contacts

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/leonletto/msgbridge/internal/types"
)

// matchThreshold is the floor below which name candidates are dropped.
const matchThreshold = 0.3

// Match is one scored candidate from a name search. Handle is the
// normalized phone number for contacts and the chat identifier for
// group conversations.
type Match struct {
	Name       string  `json:"name"`
	Handle     string  `json:"handle"`
	Score      float64 `json:"score"`
	MatchType  string  `json:"match_type"`
	Confidence string  `json:"confidence"`
}

func (m Match) String() string {
	return fmt.Sprintf("%s (%s)", m.Name, m.Handle)
}

// FindByName searches entries for a contact name, tolerating partial
// names, misspellings, and initials. Results come back best first, at
// most max of them; duplicates across sources collapse.
func FindByName(entries []Entry, name string, max int) []Match {
	query := cleanName(name)
	if query == "" || max <= 0 {
		return nil
	}

	seen := make(map[string]bool)
	var matches []Match
	for _, e := range entries {
		candidate := cleanName(e.Name)
		score := scoreName(query, candidate)
		if score < matchThreshold {
			continue
		}
		key := e.Name + "\x00" + e.Normalized
		if seen[key] {
			continue
		}
		seen[key] = true
		matches = append(matches, Match{
			Name:       e.Name,
			Handle:     e.Normalized,
			Score:      round3(score),
			MatchType:  matchType(query, candidate),
			Confidence: confidence(score),
		})
	}
	sortMatches(matches)
	if len(matches) > max {
		matches = matches[:max]
	}
	return matches
}

// FindConversation fuzzy-matches a group chat name against the named
// conversations, with the same scoring as contact names.
func FindConversation(convs []types.Conversation, name string, max int) []Match {
	query := cleanName(name)
	if query == "" || max <= 0 {
		return nil
	}

	var matches []Match
	for _, c := range convs {
		if strings.TrimSpace(c.DisplayName) == "" {
			continue
		}
		candidate := cleanName(c.DisplayName)
		score := scoreName(query, candidate)
		if score < matchThreshold {
			continue
		}
		matches = append(matches, Match{
			Name:       c.DisplayName,
			Handle:     c.ID,
			Score:      round3(score),
			MatchType:  matchType(query, candidate),
			Confidence: confidence(score),
		})
	}
	sortMatches(matches)
	if len(matches) > max {
		matches = matches[:max]
	}
	return matches
}

// Resolve picks a single handle from a match list. ok is true only for
// an unambiguous winner: all plausible candidates agree on one handle,
// or the best clearly outscores the runner-up.
func Resolve(matches []Match) (string, bool) {
	var plausible []Match
	for _, m := range matches {
		if m.Score >= 0.5 {
			plausible = append(plausible, m)
		}
	}
	if len(plausible) == 0 {
		return "", false
	}

	handles := make(map[string]bool)
	for _, m := range plausible {
		handles[m.Handle] = true
	}
	if len(handles) == 1 {
		return plausible[0].Handle, true
	}
	if plausible[0].Score >= 0.7 {
		for _, m := range plausible[1:] {
			if m.Handle != plausible[0].Handle {
				if plausible[0].Score-m.Score >= 0.2 {
					return plausible[0].Handle, true
				}
				return "", false
			}
		}
	}
	return "", false
}

// TextScore rates how well query matches a message body: 1 for an exact
// match, near 1 for a clean substring hit, otherwise the best
// edit-distance ratio of the query against the whole body and against
// each query-sized word window.
func TextScore(query, text string) float64 {
	q := cleanName(query)
	c := cleanName(text)
	if q == "" || c == "" {
		return 0
	}
	if q == c {
		return 1
	}
	if strings.Contains(c, q) {
		return 0.95
	}

	best := ratio(q, c)
	qn := len(strings.Fields(q))
	words := strings.Fields(c)
	for i := 0; i+qn <= len(words); i++ {
		window := strings.Join(words[i:i+qn], " ")
		if s := ratio(q, window); s > best {
			best = s
		}
	}
	return best
}

// cleanName lowercases s and strips everything but letters, digits, and
// spaces so emoji and punctuation do not defeat matching.
func cleanName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// scoreName rates query against candidate, both already cleaned. Several
// strategies compete and the best wins: exact and substring matches rank
// highest, then whole-word hits, per-word edit distance for misspellings,
// initials, word-prefix alignment, and a full-string edit distance floor.
func scoreName(query, candidate string) float64 {
	if query == "" || candidate == "" {
		return 0
	}
	queryWords := strings.Fields(query)
	candidateWords := strings.Fields(candidate)

	best := 0.0
	keep := func(s float64) {
		if s > best {
			best = s
		}
	}

	switch {
	case query == candidate:
		keep(1.0)
	case strings.Contains(candidate, query):
		keep(float64(len(query)) / float64(len(candidate)) * 0.95)
	default:
		hits := 0
		for _, w := range queryWords {
			if len(w) > 2 && strings.Contains(candidate, w) {
				hits++
			}
		}
		if hits > 0 {
			keep(float64(hits) / float64(len(queryWords)) * 0.85)
		}
	}

	if len(queryWords) == 1 {
		for _, w := range candidateWords {
			keep(ratio(query, w) * 0.9)
		}
	}

	if len(query) <= 4 && isAlpha(query) {
		in := initialsOf(candidateWords)
		if query == in {
			keep(0.8)
		} else if strings.Contains(in, query) {
			keep(0.7)
		}
	}

	if len(queryWords) > 1 {
		starts := 0
		for i, qw := range queryWords {
			if i < len(candidateWords) && strings.HasPrefix(candidateWords[i], qw) {
				starts++
			}
		}
		if starts > 0 {
			keep(float64(starts) / float64(len(queryWords)) * 0.75)
		}
	}

	keep(ratio(query, candidate) * 0.8)
	return best
}

// ratio is a 0..1 similarity from edit distance.
func ratio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	max := la
	if lb > max {
		max = lb
	}
	if max == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(max)
}

func matchType(query, candidate string) string {
	switch {
	case query == candidate:
		return "exact"
	case strings.Contains(candidate, query):
		return "partial"
	}
	if len(query) <= 4 && isAlpha(query) {
		in := initialsOf(strings.Fields(candidate))
		if query == in || strings.Contains(in, query) {
			return "initials"
		}
	}
	return "fuzzy"
}

func confidence(score float64) string {
	switch {
	case score >= 0.9:
		return "very_high"
	case score >= 0.7:
		return "high"
	case score >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

func initialsOf(words []string) string {
	var b strings.Builder
	for _, w := range words {
		for _, r := range w {
			b.WriteRune(r)
			break
		}
	}
	return b.String()
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
