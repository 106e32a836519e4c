// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package token approximates the token cost of text and truncates text at
// word boundaries.
package token

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CharsPerToken is the approximation ratio used by Estimate.
const CharsPerToken = 4

// Ellipsis is appended to truncated text.
const Ellipsis = "..."

// Estimate returns the approximate token cost of text: one token per
// CharsPerToken characters, rounded up. It is deterministic and never
// decreases as text grows.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// TruncateWords shortens text to at most max characters, cutting at the
// last whitespace at or before the limit and appending Ellipsis. Text that
// already fits is returned unchanged. A single word longer than max is cut
// mid-word. A non-positive max returns text unchanged.
func TruncateWords(text string, max int) string {
	text = strings.TrimSpace(text)
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}

	runes := []rune(text)
	cut := max
	for i := max; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	head := strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
	head = strings.TrimRight(head, ".,;:")
	return head + Ellipsis
}
