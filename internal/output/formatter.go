// Package output prepares assembled transcripts for length-limited delivery.
package output

import "strings"

// Split breaks text into ordered fragments no longer than maxLength runes
// each. Splits happen at the last whitespace boundary at or before the
// limit; a single token longer than the limit is hard cut. Concatenating
// the fragments reconstructs the input verbatim.
func Split(text string, maxLength int) []string {
	if text == "" {
		return nil
	}
	if maxLength <= 0 || len([]rune(text)) <= maxLength {
		return []string{text}
	}

	var fragments []string
	remaining := []rune(text)
	for len(remaining) > maxLength {
		cut := lastBoundary(remaining, maxLength)
		fragments = append(fragments, string(remaining[:cut]))
		remaining = remaining[cut:]
	}
	if len(remaining) > 0 {
		fragments = append(fragments, string(remaining))
	}
	return fragments
}

// lastBoundary finds the cut position for the next fragment: the position
// just after the last whitespace run within the limit, or the hard limit
// when the window contains no whitespace.
func lastBoundary(text []rune, maxLength int) int {
	window := string(text[:maxLength])
	idx := strings.LastIndexFunc(window, isSpace)
	if idx < 0 {
		return maxLength
	}

	// Keep the whitespace with the leading fragment so the round trip
	// reproduces the original text.
	return len([]rune(window[:idx])) + 1
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	default:
		return false
	}
}
