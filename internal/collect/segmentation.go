package collect

import (
	"regexp"
	"strings"
)

// SegmentStrategy splits a bulletin's full text into candidate notice
// fragments. Strategies are tried in order, strongest delimiter first;
// the first one producing at least minSegments fragments wins.
type SegmentStrategy interface {
	Name() string
	Split(text string) []string
}

// minSegments is the acceptance bar for a delimiter: gazettes always carry
// many acts, so fewer fragments means the delimiter did not really match.
const minSegments = 3

type regexStrategy struct {
	name string
	re   *regexp.Regexp
	// keepDelimiter attaches each matched delimiter to the fragment that
	// follows it. Heading-style delimiters (org headers, notice headings)
	// are part of the notice text the downstream gates and extractors
	// read; trailing code markers are not and get discarded.
	keepDelimiter bool
}

func (s regexStrategy) Name() string { return s.name }

func (s regexStrategy) Split(text string) []string {
	var parts []string
	if s.keepDelimiter {
		parts = s.splitKeeping(text)
	} else {
		parts = s.re.Split(text, -1)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		// Fragments under ~40 chars are delimiter residue, not notices.
		if len(p) < 40 {
			continue
		}
		out = append(out, p)
	}
	return out
}

// splitKeeping cuts the text at every match start, so each fragment
// begins with its own delimiter. The stretch before the first match is
// kept as well; the gates drop it if it is front matter.
func (s regexStrategy) splitKeeping(text string) []string {
	locs := s.re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	parts := make([]string, 0, len(locs)+1)
	parts = append(parts, text[:locs[0][0]])
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		parts = append(parts, text[loc[0]:end])
	}
	return parts
}

// Patterns tolerate both accented and diacritic-stripped spellings since
// PDF extraction mangles accents unpredictably.
var (
	codeMarkerRe    = regexp.MustCompile(`(?i)c[oó]digo\s+identificador[:\s]*[A-Z0-9]+`)
	orgHeaderRe     = regexp.MustCompile(`(?i)\n\s*(prefeitura\s+municipal\s+de|c[aâ]mara\s+municipal\s+de|governo\s+do\s+estado)\s+`)
	noticeHeadingRe = regexp.MustCompile(`(?i)\n\s*(aviso\s+de\s+licita[cç][aã]o|preg[aã]o\s+eletr[oô]nico|extrato\s+de\s+dispensa|aviso\s+de\s+dispensa|chamada\s+p[uú]blica)`)
)

// DefaultSegmentStrategies returns the fallback chain for a portal. A
// portal-specific code marker, when configured, takes over the strongest
// slot.
func DefaultSegmentStrategies(codeMarker string) []SegmentStrategy {
	strategies := []SegmentStrategy{}
	if codeMarker != "" {
		marker := regexp.QuoteMeta(codeMarker)
		re, err := regexp.Compile(`(?i)` + marker + `[:\s]*[A-Z0-9]+`)
		if err == nil {
			strategies = append(strategies, regexStrategy{name: "portal-code", re: re})
		}
	}
	strategies = append(strategies,
		regexStrategy{name: "code-marker", re: codeMarkerRe},
		regexStrategy{name: "org-header", re: orgHeaderRe, keepDelimiter: true},
		regexStrategy{name: "notice-heading", re: noticeHeadingRe, keepDelimiter: true},
	)
	return strategies
}

// Segment applies the strategy chain. When no delimiter yields a useful
// split the whole document comes back as a single fragment, so a bulletin
// with an unexpected layout degrades instead of failing.
func Segment(text string, strategies []SegmentStrategy) (segments []string, strategyName string) {
	for _, s := range strategies {
		parts := s.Split(text)
		if len(parts) >= minSegments {
			return parts, s.Name()
		}
	}
	return []string{text}, "full-text"
}
