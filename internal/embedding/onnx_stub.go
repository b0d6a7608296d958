//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("onnx embedder needs a cgo build with the onnxruntime library")

// ONNXEmbedder is unavailable without cgo; use the openai or mock provider instead.
type ONNXEmbedder struct{}

func NewONNXEmbedder(string, int, int) (*ONNXEmbedder, error) { return nil, errNoCGO }

func (*ONNXEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errNoCGO }

func (*ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errNoCGO
}

func (*ONNXEmbedder) Dimensions() int { return 0 }

func (*ONNXEmbedder) Close() error { return nil }
