package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// BERT special token IDs and vocabulary size.
const (
	tokenPad   = 0
	tokenCLS   = 101
	tokenSEP   = 102
	vocabFirst = 1000
	vocabSize  = 30522
)

// Encoding is the model input for one text, padded to a fixed length.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// Tokenizer encodes text for BERT-style models.
type Tokenizer interface {
	Encode(text string, maxTokens int) Encoding
}

// HashTokenizer maps each word to a vocabulary slot by hash. It has no vocabulary file,
// so embeddings only approximate those of the model's own tokenizer.
type HashTokenizer struct{}

// Encode produces [CLS] words... [SEP] followed by padding, truncated to maxTokens.
func (HashTokenizer) Encode(text string, maxTokens int) Encoding {
	if maxTokens < 2 {
		maxTokens = 256
	}
	enc := Encoding{
		InputIDs:      make([]int64, maxTokens),
		AttentionMask: make([]int64, maxTokens),
		TokenTypeIDs:  make([]int64, maxTokens),
	}
	enc.InputIDs[0], enc.AttentionMask[0] = tokenCLS, 1

	pos := 1
	for _, w := range words(text) {
		if pos == maxTokens-1 {
			break
		}
		enc.InputIDs[pos] = vocabFirst + int64(hashWord(w)%(vocabSize-vocabFirst))
		enc.AttentionMask[pos] = 1
		pos++
	}
	enc.InputIDs[pos], enc.AttentionMask[pos] = tokenSEP, 1
	return enc
}

// words lowercases text and splits it on anything that is not a letter or digit.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hashWord(w string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(w))
	return h.Sum64()
}
