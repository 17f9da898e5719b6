// Package textsplit splits prose into bounded-size chunks at sentence boundaries.
package textsplit

import (
	"strings"
	"unicode"
)

// DefaultMaxChunkSize is the approximate chunk size in characters.
const DefaultMaxChunkSize = 2000

// Chunk is one ordered piece of the input text.
type Chunk struct {
	Content string
	Index   int
}

// Option configures the splitter.
type Option func(*splitter)

// WithMaxChunkSize sets the approximate maximum chunk size in characters.
func WithMaxChunkSize(size int) Option {
	return func(s *splitter) {
		if size > 0 {
			s.maxChunkSize = size
		}
	}
}

type splitter struct {
	maxChunkSize int
}

// Split breaks text into ordered chunks no longer than the maximum size,
// cutting only at sentence-ending punctuation followed by whitespace.
// A single sentence longer than the maximum becomes its own chunk.
// Blank input yields nil.
func Split(text string, opts ...Option) []Chunk {
	s := &splitter{maxChunkSize: DefaultMaxChunkSize}

	for _, opt := range opts {
		opt(s)
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, 1)

	var current strings.Builder

	flush := func() {
		content := strings.TrimSpace(current.String())
		if content != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Content: content})
		}

		current.Reset()
	}

	for _, sentence := range sentences {
		if current.Len()+len(sentence) >= s.maxChunkSize {
			flush()
		}

		current.WriteString(sentence)
		current.WriteString(" ")
	}

	flush()

	return chunks
}

// isSentenceEnd reports whether b ends a sentence.
func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// splitSentences cuts text after sentence-ending punctuation followed by
// whitespace. The punctuation stays with its sentence; the whitespace run
// between sentences is consumed.
func splitSentences(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var sentences []string

	start := 0
	i := 0

	for i < len(text) {
		if isSentenceEnd(text[i]) && i+1 < len(text) && unicode.IsSpace(rune(text[i+1])) {
			sentence := strings.TrimSpace(text[start : i+1])
			if sentence != "" {
				sentences = append(sentences, sentence)
			}

			i++
			for i < len(text) && unicode.IsSpace(rune(text[i])) {
				i++
			}

			start = i

			continue
		}

		i++
	}

	if tail := strings.TrimSpace(text[start:]); tail != "" {
		sentences = append(sentences, tail)
	}

	return sentences
}
