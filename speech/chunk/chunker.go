// Package chunk splits narratable text into bounded, ordered segments.
package chunk

import (
	"strings"
	"unicode"
)

// Chunk is one bounded text segment, the unit of dispatch to the speech
// engine. Index is 0-based and contiguous within a split.
type Chunk struct {
	Text  string
	Index int
}

// Splitter divides text into chunks at sentence boundaries, falling back to
// word boundaries when a single sentence exceeds the size limit.
type Splitter struct {
	abbreviations map[string]bool
}

// NewSplitter creates a splitter with the default abbreviation set.
func NewSplitter() *Splitter {
	return &Splitter{abbreviations: makeAbbreviationMap()}
}

// Split divides text into chunks of at most maxSize characters. Sentences
// are accumulated greedily; a sentence longer than maxSize is split on word
// boundaries instead. A single word longer than maxSize becomes its own
// chunk, never split mid-word. Joining all chunk texts with single spaces
// reproduces the input up to whitespace normalization.
func (s *Splitter) Split(text string, maxSize int) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" || maxSize <= 0 {
		return nil
	}

	var pieces []string
	for _, sentence := range s.Sentences(text) {
		if len(sentence) <= maxSize {
			pieces = append(pieces, sentence)
			continue
		}
		pieces = append(pieces, splitWords(sentence, maxSize)...)
	}

	var chunks []Chunk
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{Text: current.String(), Index: len(chunks)})
		current.Reset()
	}

	for _, piece := range pieces {
		switch {
		case current.Len() == 0:
			current.WriteString(piece)
		case current.Len()+1+len(piece) <= maxSize:
			current.WriteByte(' ')
			current.WriteString(piece)
		default:
			flush()
			current.WriteString(piece)
		}
	}
	flush()

	return chunks
}

// splitWords breaks an oversized sentence on word boundaries using the same
// greedy accumulation. Words longer than maxSize are kept intact.
func splitWords(sentence string, maxSize int) []string {
	words := strings.Fields(sentence)
	var out []string
	var current strings.Builder

	for _, word := range words {
		switch {
		case current.Len() == 0:
			current.WriteString(word)
		case current.Len()+1+len(word) <= maxSize:
			current.WriteByte(' ')
			current.WriteString(word)
		default:
			out = append(out, current.String())
			current.Reset()
			current.WriteString(word)
		}
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

// Sentences splits text at terminal-punctuation boundaries, guarding
// against abbreviations, decimal numbers and ellipses.
func (s *Splitter) Sentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	lastStart := 0

	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}

		// Collect the full punctuation run, plus a trailing quote or bracket.
		punctEnd := i + 1
		for punctEnd < len(runes) && (runes[punctEnd] == '.' || runes[punctEnd] == '!' || runes[punctEnd] == '?') {
			punctEnd++
		}
		if punctEnd < len(runes) && (runes[punctEnd] == '"' || runes[punctEnd] == '\'' || runes[punctEnd] == ')' || runes[punctEnd] == ']') {
			punctEnd++
		}

		if !s.isSentenceEnd(runes, i, punctEnd) {
			continue
		}

		sentence := strings.TrimSpace(string(runes[lastStart:punctEnd]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}

		for punctEnd < len(runes) && unicode.IsSpace(runes[punctEnd]) {
			punctEnd++
		}
		lastStart = punctEnd
		i = punctEnd - 1
	}

	if lastStart < len(runes) {
		if rest := strings.TrimSpace(string(runes[lastStart:])); rest != "" {
			sentences = append(sentences, rest)
		}
	}

	return sentences
}

// isSentenceEnd reports whether the punctuation at pos closes a sentence.
// punctEnd is the index just past the punctuation run.
func (s *Splitter) isSentenceEnd(runes []rune, pos, punctEnd int) bool {
	punct := runes[pos]

	if punct == '.' {
		// Word leading up to the period, lowercased, period included.
		start := pos - 1
		for start >= 0 && !unicode.IsSpace(runes[start]) {
			start--
		}
		word := strings.ToLower(string(runes[start+1 : pos+1]))

		if s.abbreviations[word] || s.abbreviations[strings.TrimSuffix(word, ".")] {
			return false
		}
		// Multi-part abbreviations like "u.s." or "ph.d."
		if strings.Count(word, ".") > 1 {
			return false
		}
		// Decimal numbers.
		if pos > 0 && pos+1 < len(runes) && unicode.IsDigit(runes[pos-1]) && unicode.IsDigit(runes[pos+1]) {
			return false
		}
		// Ellipsis handled as a single punctuation run; a bare ".." inside
		// a run is also not a boundary mid-run.
	}

	if punctEnd >= len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[punctEnd]) {
		return false
	}

	// Sentences usually resume with an uppercase letter, a digit or an
	// opening quote; ! and ? are accepted regardless.
	if punct == '!' || punct == '?' {
		return true
	}
	next := punctEnd
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next >= len(runes) {
		return true
	}
	r := runes[next]
	return unicode.IsUpper(r) || unicode.IsDigit(r) || r == '"' || r == '\''
}

func makeAbbreviationMap() map[string]bool {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr",
		"i.e", "e.g", "etc", "vs", "cf", "al",
		"inc", "ltd", "co", "corp",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"st", "rd", "ave", "blvd",
		"ft", "lbs", "oz", "kg", "km", "cm", "mm", "mi",
		"hr", "hrs", "min", "mins", "sec", "secs",
		"pp", "vol",
	}

	m := make(map[string]bool, len(abbrevs)*2)
	for _, a := range abbrevs {
		m[a] = true
		if !strings.Contains(a, ".") {
			m[a+"."] = true
		}
	}
	return m
}
