// Package filter implements the logic gate: a fixed denylist of emotionally
// coded words that blocks a signature when any of them appears in the input.
package filter

import "strings"

// DefaultTerms is the denylist shipped with the petition.
var DefaultTerms = []string{
	"feel", "feeling", "heart", "soul", "emotion", "sad", "angry", "love",
	"hate", "scary", "scared", "cry", "crying", "passion", "upset",
}

// Filter matches input against a denylist. Matching is plain substring
// containment on lower-cased text, so a term inside a longer word matches.
type Filter struct {
	terms []string
}

// New builds a Filter from terms. Terms are lower-cased; blank terms are dropped.
// Order is kept: Match reports the first listed term that occurs.
func New(terms []string) *Filter {
	cleaned := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		cleaned = append(cleaned, term)
	}
	return &Filter{terms: cleaned}
}

// Default returns a Filter over DefaultTerms.
func Default() *Filter {
	return New(DefaultTerms)
}

// Match returns the first denylisted term contained in text.
func (f *Filter) Match(text string) (string, bool) {
	if f == nil {
		return "", false
	}
	lowered := strings.ToLower(text)
	for _, term := range f.terms {
		if strings.Contains(lowered, term) {
			return term, true
		}
	}
	return "", false
}

// Terms returns a copy of the denylist.
func (f *Filter) Terms() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.terms))
	copy(out, f.terms)
	return out
}
