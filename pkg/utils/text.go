// Package utils holds small helpers shared across packages: logging setup, vector math,
// an LRU cache and text shortening.
package utils

import "unicode/utf8"

// Truncate shortens s to at most maxLen runes and appends "..." when it cut anything.
// maxLen <= 0 leaves s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	i, n := 0, 0
	for i = range s {
		if n == maxLen {
			break
		}
		n++
	}
	return s[:i] + "..."
}
