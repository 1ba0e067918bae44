package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// FixedChunker creates a chunker that cuts windows of at most maxChars
// characters with the given overlap between consecutive windows. When a
// paragraph break falls in the last 40% of a window the cut snaps back
// to it, so chunks tend to end on paragraph boundaries.
func FixedChunker(maxChars, overlap int) ChunkFunc {
	return func(text string) ([]ChunkSpan, error) {
		if maxChars <= 0 {
			return nil, fmt.Errorf("max chars must be positive")
		}
		if overlap < 0 || overlap >= maxChars {
			return nil, fmt.Errorf("overlap must be in [0, max chars)")
		}

		text = NormalizeText(text)
		if strings.TrimSpace(text) == "" {
			return []ChunkSpan{}, nil
		}

		var spans []ChunkSpan
		start := 0
		for start < len(text) {
			end := start + maxChars
			if end >= len(text) {
				end = len(text)
			} else {
				// Never cut inside a multi-byte rune.
				for end > start && !utf8.RuneStart(text[end]) {
					end--
				}
				if end == start {
					_, size := utf8.DecodeRuneInString(text[start:])
					end = start + size
				}
				if cut := strings.LastIndex(text[start:end], "\n\n"); cut > (maxChars*3)/5 {
					end = start + cut
				}
			}

			piece := text[start:end]
			if strings.TrimSpace(piece) != "" {
				spans = append(spans, ChunkSpan{
					Text:     piece,
					StartPos: start,
					EndPos:   end,
				})
			}

			if end == len(text) {
				break
			}
			next := end - overlap
			for next > start && !utf8.RuneStart(text[next]) {
				next--
			}
			if next <= start {
				next = end
			}
			start = next
		}

		return spans, nil
	}
}

// ParagraphChunker creates a chunker that splits on blank lines,
// producing one span per paragraph.
func ParagraphChunker() ChunkFunc {
	return func(text string) ([]ChunkSpan, error) {
		text = NormalizeText(text)

		var spans []ChunkSpan
		pos := 0
		for _, paragraph := range strings.Split(text, "\n\n") {
			trimmed := strings.TrimSpace(paragraph)
			if trimmed != "" {
				offset := pos + strings.Index(paragraph, trimmed)
				spans = append(spans, ChunkSpan{
					Text:     trimmed,
					StartPos: offset,
					EndPos:   offset + len(trimmed),
				})
			}
			pos += len(paragraph) + 2
		}

		return spans, nil
	}
}

// NormalizeText unifies line endings and trims trailing whitespace per
// line so chunk offsets are stable across upload sources.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
