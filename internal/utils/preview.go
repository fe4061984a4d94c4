package utils

import (
	"strconv"
	"unicode/utf8"
)

// PreviewLimit bounds any model or report text attached to errors and logs.
const PreviewLimit = 256

// Preview returns at most max bytes of s, cut on a rune boundary, with a
// marker recording how much was omitted.
func Preview(s string, max int) string {
	if max <= 0 {
		max = PreviewLimit
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(" + strconv.Itoa(len(s)-cut) + " more bytes)"
}
