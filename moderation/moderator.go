// Package moderation masks forbidden words in message text before it is stored.
package moderation

import (
	"log/slog"
	"unicode"

	"roomsync/errors"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Moderator matches a normalized form of the text against the word list, so
// that spacing, punctuation and leet speak do not hide a word.
type Moderator struct {
	matcher      *goahocorasick.Machine
	censoredChar rune
	log          *slog.Logger
}

// folded is text reduced to its matchable runes. origIdx[i] is the position in
// the original text of runes[i].
type folded struct {
	runes   []rune
	origIdx []int
}

func NewModerator(censoredWords []string, censoredChar rune, log *slog.Logger) (*Moderator, error) {
	patterns := make([][]rune, 0, len(censoredWords))
	for _, word := range censoredWords {
		if p := fold([]rune(word)).runes; len(p) > 0 {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return nil, errors.ErrEmptyWords
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{matcher: m, censoredChar: censoredChar, log: log}, nil
}

// Censor returns text with every forbidden word masked, spacing untouched.
func (m *Moderator) Censor(text string) string {
	censored, words := m.Scan(text)
	if len(words) > 0 {
		m.log.Debug("Text censored", "matches", len(words))
	}
	return censored
}

// Scan masks forbidden words and reports which ones matched, in text order.
func (m *Moderator) Scan(text string) (string, []string) {
	original := []rune(text)
	f := fold(original)
	if len(f.runes) == 0 {
		return text, nil
	}
	terms := m.matcher.MultiPatternSearch(f.runes, false)
	if len(terms) == 0 {
		return text, nil
	}

	var words []string
	for _, term := range terms {
		start, end := term.Pos, term.Pos+len(term.Word)
		if start < 0 || end > len(f.origIdx) {
			continue
		}
		for i := f.origIdx[start]; i <= f.origIdx[end-1]; i++ {
			original[i] = m.censoredChar
		}
		words = append(words, string(term.Word))
	}
	return string(original), words
}

func fold(input []rune) folded {
	f := folded{runes: make([]rune, 0, len(input)), origIdx: make([]int, 0, len(input))}
	for i, r := range input {
		clean := unleet(r)
		if isNoise(clean) {
			continue
		}
		f.runes = append(f.runes, unicode.ToLower(clean))
		f.origIdx = append(f.origIdx, i)
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

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
