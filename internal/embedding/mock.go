package embedding

import (
	"context"
	"math/rand/v2"

	"github.com/hyperjump/mnemo/pkg/utils"
)

// MockEmbedder sums a fixed pseudo-random vector per word, so identical texts embed
// identically and texts sharing words land close together. It needs no model files.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a MockEmbedder; dimensions <= 0 means 384.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := words(text)
	if len(tokens) == 0 {
		tokens = []string{text}
	}
	emb := make([]float32, e.dimensions)
	for _, tok := range tokens {
		h := hashWord(tok)
		rng := rand.New(rand.NewPCG(h, h>>7|1))
		for i := range emb {
			emb[i] += float32(rng.NormFloat64())
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

func (e *MockEmbedder) Dimensions() int { return e.dimensions }

func (e *MockEmbedder) Close() error { return nil }
