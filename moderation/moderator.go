// Package moderation censors forbidden words in message content.
// Matching ignores case, punctuation, spacing and common leet substitutions,
// so "B.4.d.g.€r" matches "badger".
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

type Moderator struct {
	matcher     *goahocorasick.Machine
	replacement rune
}

// folded is the searchable form of a text with, for each kept rune,
// its position in the original text.
type folded struct {
	runes  []rune
	origin []int
}

// NewModerator builds the automaton over the folded words.
// Words that fold to nothing are ignored, an empty dictionary censors nothing.
func NewModerator(words []string, replacement rune) (*Moderator, error) {
	patterns := lo.Filter(lo.Map(words, func(word string, _ int) []rune {
		return fold(word).runes
	}), func(p []rune, _ int) bool { return len(p) > 0 })

	m := &Moderator{replacement: replacement}
	if len(patterns) == 0 {
		return m, nil
	}
	m.matcher = new(goahocorasick.Machine)
	if err := m.matcher.Build(patterns); err != nil {
		return nil, err
	}
	return m, nil
}

// Censor replaces every matched span of the original text, noise included,
// and returns the matched words in order of appearance.
func (m *Moderator) Censor(text string) (string, []string) {
	if m == nil || m.matcher == nil || text == "" {
		return text, nil
	}
	f := fold(text)
	if len(f.runes) == 0 {
		return text, nil
	}
	terms := m.matcher.MultiPatternSearch(f.runes, false)
	if len(terms) == 0 {
		return text, nil
	}

	out := []rune(text)
	var matched []string
	for _, term := range terms {
		end := term.Pos + len(term.Word)
		if term.Pos < 0 || end > len(f.origin) {
			continue
		}
		for i := f.origin[term.Pos]; i <= f.origin[end-1]; i++ {
			out[i] = m.replacement
		}
		matched = append(matched, string(term.Word))
	}
	return string(out), matched
}

func fold(text string) folded {
	original := []rune(text)
	f := folded{runes: make([]rune, 0, len(original)), origin: make([]int, 0, len(original))}
	for i, r := range original {
		r = unleet(r)
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		f.runes = append(f.runes, unicode.ToLower(r))
		f.origin = append(f.origin, i)
	}
	return f
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}
