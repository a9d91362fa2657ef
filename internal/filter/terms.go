package filter

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Result of evaluating a text against the term tiers.
type Result struct {
	Included bool
	// Reason explains an exclusion: "no_term_match" or
	// "negative_term:<term>". Empty when included.
	Reason string
	// MatchedTerm is the priority/positive term that granted inclusion.
	MatchedTerm string
}

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize lowercases a string and strips diacritics so that
// "Locação" and "locacao" compare equal. All term matching in the
// pipeline runs over this form; original text is preserved for output.
func Normalize(s string) string {
	out, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.Join(strings.Fields(out), " "))
}

// NormalizeTerms normalizes, trims and deduplicates a term list,
// preserving first-seen order. Empty entries are dropped.
func NormalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		n := Normalize(strings.TrimSpace(t))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Engine decides notice inclusion using priority/positive/negative keyword
// tiers. Priority terms are narrow product/equipment phrases kept separate
// from broad positive terms so precision can be raised without losing the
// wide net. Negative terms always veto, and are only consulted after an
// inclusion term matched.
type Engine struct {
	priority []string
	positive []string
	negative []string
}

// NewEngine builds an engine from raw term lists. Lists are normalized and
// deduplicated; order is irrelevant to the outcome.
func NewEngine(priority, positive, negative []string) *Engine {
	return &Engine{
		priority: NormalizeTerms(priority),
		positive: NormalizeTerms(positive),
		negative: NormalizeTerms(negative),
	}
}

// Evaluate runs the two-tier filter over already-normalized text.
// Callers that hold original text should pass Normalize(text).
func (e *Engine) Evaluate(normalizedText string) Result {
	matched := ""
	for _, t := range e.priority {
		if strings.Contains(normalizedText, t) {
			matched = t
			break
		}
	}
	if matched == "" {
		for _, t := range e.positive {
			if strings.Contains(normalizedText, t) {
				matched = t
				break
			}
		}
	}
	if matched == "" {
		return Result{Included: false, Reason: "no_term_match"}
	}

	// Negative wins over any inclusion match.
	for _, t := range e.negative {
		if strings.Contains(normalizedText, t) {
			return Result{Included: false, Reason: "negative_term:" + t}
		}
	}

	return Result{Included: true, MatchedTerm: matched}
}

// EvaluateText is Evaluate over raw (un-normalized) text.
func (e *Engine) EvaluateText(text string) Result {
	return e.Evaluate(Normalize(text))
}
