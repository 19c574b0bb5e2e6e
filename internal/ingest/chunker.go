package ingest

import (
	"regexp"
	"strings"
)

// DefaultMaxChunkSize is a character-based stand-in for roughly 8000 tokens
// of a typical embedding model's input limit.
const DefaultMaxChunkSize = 6000

var paragraphBreak = regexp.MustCompile(`\n\n+`)

// SplitIntoChunks splits text into chunks of at most maxChunkSize
// characters, preserving order. Paragraphs (two-or-more consecutive
// newlines) are packed greedily; a paragraph that alone exceeds the limit
// is re-split on word boundaries and rejoined with single spaces. A single
// word longer than maxChunkSize is emitted as-is.
func SplitIntoChunks(text string, maxChunkSize int) []string {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}

	var chunks []string
	current := ""

	for _, paragraph := range paragraphBreak.Split(text, -1) {
		if len(current)+len(paragraph)+2 <= maxChunkSize {
			if current != "" {
				current += "\n\n"
			}
			current += paragraph
			continue
		}

		if current != "" {
			chunks = append(chunks, current)
		}

		if len(paragraph) <= maxChunkSize {
			current = paragraph
			continue
		}

		// Oversized paragraph: greedy word-level pack. Original paragraph
		// separators inside it are lost to single spaces.
		current = ""
		for _, word := range strings.Split(paragraph, " ") {
			if len(current)+len(word)+1 <= maxChunkSize {
				if current != "" {
					current += " "
				}
				current += word
			} else {
				if current != "" {
					chunks = append(chunks, current)
				}
				current = word
			}
		}
	}

	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}
