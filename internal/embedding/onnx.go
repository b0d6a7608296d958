//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/mnemo/pkg/utils"
)

// ONNXEmbedder runs a sentence-transformer model through ONNX Runtime and mean-pools
// the last hidden state over the attention mask. Requires CGO and the onnxruntime
// shared library.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int

	inputIDs  *ort.Tensor[int64]
	mask      *ort.Tensor[int64]
	typeIDs   *ort.Tensor[int64]
	hidden    *ort.Tensor[float32]
	destroyed bool
}

// NewONNXEmbedder loads modelPath with fixed [1, maxTokens] inputs and a
// [1, maxTokens, dimensions] output named last_hidden_state.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (_ *ONNXEmbedder, err error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("onnx embedder: dimensions must be positive, got %d", dimensions)
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	e := &ONNXEmbedder{tokenizer: HashTokenizer{}, dimensions: dimensions, maxTokens: maxTokens}
	defer func() {
		if err != nil {
			e.destroy()
		}
	}()

	inShape := ort.NewShape(1, int64(maxTokens))
	if e.inputIDs, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	if e.mask, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	if e.typeIDs, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	if e.hidden, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(maxTokens), int64(dimensions))); err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		[]ort.ArbitraryTensor{e.inputIDs, e.mask, e.typeIDs},
		[]ort.ArbitraryTensor{e.hidden},
		nil)
	if err != nil {
		return nil, fmt.Errorf("create onnx session for %s: %w", modelPath, err)
	}
	return e, nil
}

// Embed runs the model on text. Calls share the bound tensors and are serialized.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil, fmt.Errorf("onnx embedder is closed")
	}

	enc := e.tokenizer.Encode(text, e.maxTokens)
	copy(e.inputIDs.GetData(), enc.InputIDs)
	copy(e.mask.GetData(), enc.AttentionMask)
	copy(e.typeIDs.GetData(), enc.TokenTypeIDs)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	return meanPool(e.hidden.GetData(), enc.AttentionMask, e.dimensions), nil
}

// meanPool averages the hidden rows whose mask is set and L2-normalizes the result.
func meanPool(hidden []float32, mask []int64, dims int) []float32 {
	out := make([]float32, dims)
	var n float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dims : (t+1)*dims]
		for i, v := range row {
			out[i] += v
		}
		n++
	}
	if n > 0 {
		for i := range out {
			out[i] /= n
		}
	}
	utils.NormalizeL2(out)
	return out
}

func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Close releases the session and tensors. It is safe to call more than once.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroy()
}

func (e *ONNXEmbedder) destroy() error {
	if e.destroyed {
		return nil
	}
	e.destroyed = true
	var err error
	if e.session != nil {
		err = e.session.Destroy()
	}
	for _, t := range []*ort.Tensor[int64]{e.inputIDs, e.mask, e.typeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if e.hidden != nil {
		_ = e.hidden.Destroy()
	}
	return err
}
