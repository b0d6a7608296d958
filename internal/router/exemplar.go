package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/viterin/vek/vek32"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/mnemo/internal/embedding"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/pkg/utils"
)

// Exemplar is a labelled example query for the fast local classifier.
type Exemplar struct {
	Label string `yaml:"label"`
	Text  string `yaml:"text"`
	// Payload is returned as the answer; defaults to Label.
	Payload string `yaml:"payload,omitempty"`
}

type exemplarFile struct {
	Exemplars []Exemplar `yaml:"exemplars"`
}

// LoadExemplars reads exemplars from a YAML file.
func LoadExemplars(path string) ([]Exemplar, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read exemplars: %w", err)
	}
	var f exemplarFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse exemplars: %w", err)
	}
	for i, e := range f.Exemplars {
		if e.Label == "" || e.Text == "" {
			return nil, fmt.Errorf("exemplar %d: label and text are required", i)
		}
	}
	return f.Exemplars, nil
}

// ExemplarClassifier is the fast_local strategy: nearest labelled exemplar by cosine
// similarity, nudged up when the top search evidence carries the same label.
type ExemplarClassifier struct {
	embedder  embedding.Embedder
	exemplars []Exemplar
	vectors   [][]float32
	boost     float64
}

// NewExemplarClassifier embeds every exemplar up front.
func NewExemplarClassifier(ctx context.Context, embedder embedding.Embedder, exemplars []Exemplar, evidenceBoost float64) (*ExemplarClassifier, error) {
	texts := make([]string, len(exemplars))
	for i, e := range exemplars {
		texts[i] = e.Text
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed exemplars: %w", err)
	}
	return &ExemplarClassifier{
		embedder:  embedder,
		exemplars: exemplars,
		vectors:   vectors,
		boost:     evidenceBoost,
	}, nil
}

// Name implements Strategy.
func (c *ExemplarClassifier) Name() models.Strategy {
	return models.StrategyFastLocal
}

// Resolve embeds the query and scores it against the exemplars.
func (c *ExemplarClassifier) Resolve(ctx context.Context, req *Request) (Answer, error) {
	if len(c.exemplars) == 0 {
		return Answer{}, nil
	}
	q, err := c.embedder.Embed(ctx, req.Query)
	if err != nil {
		return Answer{}, err
	}

	best, bestSim := -1, -1.0
	for i, v := range c.vectors {
		if len(v) != len(q) {
			return Answer{}, models.NewDimensionError(len(v), len(q))
		}
		if sim := float64(vek32.CosineSimilarity(q, v)); sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best < 0 {
		// every similarity was NaN
		return Answer{}, nil
	}
	ex := c.exemplars[best]
	payload := ex.Payload
	if payload == "" {
		payload = ex.Label
	}
	confidence := utils.Clamp01(bestSim + c.boost*labelAgreement(req.Evidence, ex.Label))
	return Answer{Payload: payload, Label: ex.Label, Confidence: confidence}, nil
}

// labelAgreement is the share of labelled evidence documents carrying label.
func labelAgreement(evidence []*models.SearchResult, label string) float64 {
	var labelled, agree int
	for _, e := range evidence {
		if e.Document == nil {
			continue
		}
		l := e.Document.Metadata.String("label")
		if l == "" {
			continue
		}
		labelled++
		if l == label {
			agree++
		}
	}
	if labelled == 0 {
		return 0
	}
	return float64(agree) / float64(labelled)
}
