// Package phonetic provides a "sounds like" [search.Matcher] for caption
// search. Transcripts misspell names the recogniser did not know, so a query
// for "Catherine" should also find "Katherine" and "Cathrine".
//
// A caption matches when it contains the query verbatim (ignoring case), or
// when every query word has a caption word that either
//
//  1. shares a Double Metaphone code with it and reaches the phonetic
//     Jaro-Winkler threshold (default 0.70), or
//  2. reaches the stricter fuzzy Jaro-Winkler threshold (default 0.85)
//     without phonetic overlap.
//
// Adjacent caption words are also compared joined, so "elder nacks" can
// match a query for "eldrinax".
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/captionsync/internal/search"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minRunes is the shortest word compared by sound. Shorter words must
	// match exactly.
	minRunes = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for words that
// share a Double Metaphone code. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for words without
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

var _ search.Matcher = (*Matcher)(nil)

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match implements [search.Matcher].
func (m *Matcher) Match(text, query string) bool {
	if strings.TrimSpace(query) == "" {
		return false
	}
	if search.Substring.Match(text, query) {
		return true
	}

	queryWords := words(query)
	textWords := words(text)
	if len(queryWords) == 0 || len(textWords) == 0 {
		return false
	}
	candidates := withBigrams(textWords)

	for _, q := range queryWords {
		if !m.anyAlike(q, candidates) {
			return false
		}
	}
	return true
}

// anyAlike reports whether some candidate sounds like or closely resembles q.
func (m *Matcher) anyAlike(q word, candidates []word) bool {
	for _, c := range candidates {
		if q.text == c.text {
			return true
		}
		if q.short() || c.short() {
			continue
		}
		score := matchr.JaroWinkler(q.text, c.text, false)
		if score >= m.fuzzyThreshold {
			return true
		}
		if score >= m.phoneticThreshold && codesOverlap(q, c) {
			return true
		}
	}
	return false
}

// word is a lowercased token with its Double Metaphone codes.
type word struct {
	text      string
	primary   string
	secondary string
}

func newWord(s string) word {
	w := word{text: s}
	w.primary, w.secondary = matchr.DoubleMetaphone(s)
	return w
}

func (w word) short() bool {
	return len([]rune(w.text)) < minRunes
}

// words splits s into lowercased letter and digit runs.
func words(s string) []word {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make([]word, len(fields))
	for i, f := range fields {
		out[i] = newWord(f)
	}
	return out
}

// withBigrams appends every pair of adjacent words joined without a space.
func withBigrams(ws []word) []word {
	out := make([]word, 0, 2*len(ws))
	out = append(out, ws...)
	for i := 0; i+1 < len(ws); i++ {
		out = append(out, newWord(ws[i].text+ws[i+1].text))
	}
	return out
}

// codesOverlap reports whether a and b share a non-empty Double Metaphone
// code.
func codesOverlap(a, b word) bool {
	for _, x := range []string{a.primary, a.secondary} {
		if x == "" {
			continue
		}
		if x == b.primary || x == b.secondary {
			return true
		}
	}
	return false
}
