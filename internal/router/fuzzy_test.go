package router

import "testing"

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected int
	}{
		{"identical empty", "", "", 0},
		{"identical word", "hello", "hello", 0},
		{"identical unicode", "こんにちは", "こんにちは", 0},
		{"empty a", "", "hello", 5},
		{"empty b", "hello", "", 5},
		{"one substitution", "cat", "bat", 1},
		{"one insertion", "cat", "cart", 1},
		{"one deletion", "cart", "cat", 1},
		{"kitten to sitting", "kitten", "sitting", 3},
		{"proposal to propodal", "proposal", "propodal", 1},
		{"unicode substitution", "café", "cafe", 1},
		{"case difference", "Hello", "hello", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LevenshteinDistance(tt.a, tt.b); got != tt.expected {
				t.Errorf("LevenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.expected)
			}
			if got := LevenshteinDistance(tt.b, tt.a); got != tt.expected {
				t.Errorf("distance should be symmetric for %q, %q", tt.a, tt.b)
			}
		})
	}
}

func TestWithinOneEdit(t *testing.T) {
	tests := []struct {
		keyword, word string
		want          bool
	}{
		{"refund", "refund", true},
		{"refund", "refnd", true},
		{"refund", "rfnd", false},
		{"invoice", "invoise", true},
		{"bill", "bill", true},
		{"bill", "bil", false}, // too short for typo tolerance
		{"order", "ordr", true},
	}
	for _, tt := range tests {
		if got := withinOneEdit(tt.keyword, tt.word, fuzzyMinRunes); got != tt.want {
			t.Errorf("withinOneEdit(%q, %q) = %v, want %v", tt.keyword, tt.word, got, tt.want)
		}
	}
}
