package router

// LevenshteinDistance calculates the minimum number of single-character edits
// (insertions, deletions, or substitutions) required to change one string into another.
func LevenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	runesA := []rune(a)
	runesB := []rune(b)
	lenA := len(runesA)
	lenB := len(runesB)
	if lenA == 0 {
		return lenB
	}
	if lenB == 0 {
		return lenA
	}

	// two rolling rows of the edit matrix
	prev := make([]int, lenB+1)
	curr := make([]int, lenB+1)
	for j := 0; j <= lenB; j++ {
		prev[j] = j
	}

	for i := 1; i <= lenA; i++ {
		curr[0] = i
		for j := 1; j <= lenB; j++ {
			cost := 0
			if runesA[i-1] != runesB[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[lenB]
}

// withinOneEdit reports whether word is a typo of keyword. Short keywords must match exactly.
func withinOneEdit(keyword, word string, minRunes int) bool {
	if keyword == word {
		return true
	}
	if len([]rune(keyword)) < minRunes {
		return false
	}
	d := len([]rune(keyword)) - len([]rune(word))
	if d > 1 || d < -1 {
		return false
	}
	return LevenshteinDistance(keyword, word) <= 1
}
