package router

import (
	"context"

	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/pkg/utils"
)

// InferenceClient calls an external model with the query and supporting documents.
type InferenceClient interface {
	Infer(ctx context.Context, query string, docs []*models.Document) (answer string, confidence float64, err error)
}

// InferenceStrategy is the terminal external_inference stage.
type InferenceStrategy struct {
	client InferenceClient
}

// NewInferenceStrategy wraps client.
func NewInferenceStrategy(client InferenceClient) *InferenceStrategy {
	return &InferenceStrategy{client: client}
}

// Name implements Strategy.
func (s *InferenceStrategy) Name() models.Strategy {
	return models.StrategyExternalInference
}

// Resolve forwards the query and evidence documents. No retries.
func (s *InferenceStrategy) Resolve(ctx context.Context, req *Request) (Answer, error) {
	answer, confidence, err := s.client.Infer(ctx, req.Query, req.Documents())
	if err != nil {
		return Answer{}, err
	}
	return Answer{Payload: answer, Confidence: utils.Clamp01(confidence)}, nil
}
