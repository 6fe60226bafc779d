// Package resolver turns a free-text request into two song queries.
//
// Deterministic rules are tried in a fixed order and the first match wins:
// two YouTube links, "left: A, right: B", "A on left, B on right", then
// "[mix|combine] A and B". Anything else goes to an optional AI extractor.
package resolver

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/satindergrewal/stereosplit/internal/domain"
)

// Query is one side of a request: either a video id taken from a link, or
// text to search for.
type Query struct {
	Text    string
	VideoID string
}

// IsVideo reports whether the query already names a video.
func (q Query) IsVideo() bool {
	return q.VideoID != ""
}

func (q Query) String() string {
	if q.IsVideo() {
		return "youtu.be/" + q.VideoID
	}
	return q.Text
}

// Request is a resolved pair. Rule names the branch that produced it.
type Request struct {
	Left  Query
	Right Query
	Rule  string
}

// Extractor is the AI fallback. It returns two song names or an error.
type Extractor interface {
	ExtractSongs(ctx context.Context, text string) (string, string, error)
}

// Resolver applies the rule list and falls back to an Extractor.
type Resolver struct {
	ai Extractor
}

// New creates a resolver. ai may be nil.
func New(ai Extractor) *Resolver {
	return &Resolver{ai: ai}
}

// Resolve returns the request for text, or an error wrapping
// domain.ErrResolution (or domain.ErrLinkCount for a wrong number of links).
func (r *Resolver) Resolve(ctx context.Context, text string) (Request, error) {
	req, ok, err := Match(text)
	if err != nil {
		return Request{}, err
	}
	if ok {
		return req, nil
	}

	if r.ai == nil {
		return Request{}, fmt.Errorf("%w: no rule matched %q", domain.ErrResolution, text)
	}

	left, right, err := r.ai.ExtractSongs(ctx, text)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", domain.ErrResolution, err)
	}
	left, right = strings.TrimSpace(left), strings.TrimSpace(right)
	if left == "" || right == "" {
		return Request{}, fmt.Errorf("%w: extractor returned %q / %q", domain.ErrResolution, left, right)
	}
	log.Printf("AI resolved %q -> %q / %q", text, left, right)
	return Request{Left: Query{Text: left}, Right: Query{Text: right}, Rule: RuleAI}, nil
}

// Rule names.
const (
	RuleLinks      = "links"
	RuleExplicit   = "explicit"
	RulePositional = "positional"
	RuleAnd        = "and"
	RuleAI         = "ai"
)

type rule struct {
	name string
	re   *regexp.Regexp
	// prepare rewrites the text before matching (nil = unchanged)
	prepare func(string) string
}

var (
	leadingVerb = regexp.MustCompile(`(?i)^\s*(?:mix|combine)\b[\s:,]*`)

	rules = []rule{
		{
			name: RuleExplicit,
			re:   regexp.MustCompile(`(?is)left:\s*(.+?),\s*right:\s*(.+?)(?:$|\.)`),
		},
		{
			name:    RulePositional,
			re:      regexp.MustCompile(`(?is)(.+?)\s+on\s+(?:the\s+)?left,?\s*(.+?)\s+on\s+(?:the\s+)?right`),
			prepare: stripVerb,
		},
		{
			name:    RuleAnd,
			re:      regexp.MustCompile(`(?is)^(.+?)\s+and\s+(.+)$`),
			prepare: stripVerb,
		},
	}
)

// Match runs the deterministic rules only. It reports ok=false when nothing
// matched. Text with one link or more than two links is an input error.
func Match(text string) (Request, bool, error) {
	ids := VideoIDs(text)
	switch {
	case len(ids) == 2:
		return Request{
			Left:  Query{VideoID: ids[0]},
			Right: Query{VideoID: ids[1]},
			Rule:  RuleLinks,
		}, true, nil
	case len(ids) > 0:
		return Request{}, false, fmt.Errorf("%w: found %d, need exactly 2", domain.ErrLinkCount, len(ids))
	}

	for _, r := range rules {
		s := text
		if r.prepare != nil {
			s = r.prepare(s)
		}
		m := r.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		left, right := clean(m[1]), clean(m[2])
		if left == "" || right == "" {
			continue
		}
		return Request{Left: Query{Text: left}, Right: Query{Text: right}, Rule: r.name}, true, nil
	}
	return Request{}, false, nil
}

func stripVerb(s string) string {
	return leadingVerb.ReplaceAllString(strings.TrimSpace(s), "")
}

func clean(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'`)
}
