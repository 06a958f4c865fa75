package lsp

import (
	"strings"
	"unicode/utf8"
)

// utf16RuneLen reports the number of 16-bit words in the UTF-16 encoding of
// the rune. It returns -1 if the rune is not a valid value to encode in
// UTF-16. (Equivalent to utf16.RuneLen, which requires Go 1.23.)
func utf16RuneLen(r rune) int {
	switch {
	case 0 <= r && r < 0xd800, 0xe000 <= r && r < 0x10000:
		return 1
	case 0x10000 <= r && r <= utf8.MaxRune:
		return 2
	default:
		return -1
	}
}

// Position conversion between byte offsets in UTF-8 text and LSP positions,
// whose character field counts UTF-16 code units. Off-range inputs clamp to
// the nearest valid location rather than failing; servers and editors
// disagree at boundaries often enough that clamping is the useful behavior.

// OffsetToPosition converts a byte offset into text to an LSP position.
func OffsetToPosition(text string, offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(text) {
		offset = len(text)
	}

	line := 0
	lineStart := 0
	for i := 0; i < offset; i++ {
		if text[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}

	return Position{
		Line:      line,
		Character: utf16Len(text[lineStart:offset]),
	}
}

// PositionToOffset converts an LSP position to a byte offset into text.
func PositionToOffset(text string, pos Position) int {
	if pos.Line < 0 {
		return 0
	}

	lineStart := 0
	for line := 0; line < pos.Line; line++ {
		next := strings.IndexByte(text[lineStart:], '\n')
		if next < 0 {
			return len(text)
		}
		lineStart += next + 1
	}

	lineEnd := len(text)
	if next := strings.IndexByte(text[lineStart:], '\n'); next >= 0 {
		lineEnd = lineStart + next
	}

	return lineStart + utf16Advance(text[lineStart:lineEnd], pos.Character)
}

// RangeToOffsets converts an LSP range to a [start, end) byte span.
// A reversed range is normalized.
func RangeToOffsets(text string, rng Range) (int, int) {
	start := PositionToOffset(text, rng.Start)
	end := PositionToOffset(text, rng.End)
	if end < start {
		start, end = end, start
	}
	return start, end
}

// utf16Len returns the number of UTF-16 code units required to encode s.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16RuneLen(r)
	}
	return n
}

// utf16Advance returns the byte offset within line after advancing units
// UTF-16 code units, clamped to the line's end.
func utf16Advance(line string, units int) int {
	if units <= 0 {
		return 0
	}
	consumed := 0
	for i, r := range line {
		if consumed >= units {
			return i
		}
		consumed += utf16RuneLen(r)
	}
	return len(line)
}

// applyEdit replaces the span addressed by rng with newText and returns the
// updated document text along with the number of bytes touched (removed
// plus inserted), which drives the full-vs-incremental sync decision.
func applyEdit(text string, rng Range, newText string) (string, int) {
	start, end := RangeToOffsets(text, rng)

	var b strings.Builder
	b.Grow(len(text) - (end - start) + len(newText))
	b.WriteString(text[:start])
	b.WriteString(newText)
	b.WriteString(text[end:])

	return b.String(), (end - start) + len(newText)
}
