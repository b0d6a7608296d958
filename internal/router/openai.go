package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/mnemo/internal/config"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/pkg/utils"
)

// maxContextChars bounds each evidence document in the prompt.
const maxContextChars = 1200

const inferenceSystemPrompt = `You answer the user's query using the numbered context documents when they are relevant.
Respond with a JSON object only, with these fields:
- answer: the answer as a string
- confidence: a number between 0 and 1 for how sure you are`

// OpenAIClient is an InferenceClient for OpenAI-compatible chat completion APIs.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewOpenAIClient creates a client from configuration. A zero RateLimit disables limiting.
func NewOpenAIClient(cfg config.InferenceConfig, logger *zap.Logger) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	c := &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      utils.OrNop(logger),
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}
	return c
}

// Infer implements InferenceClient.
func (c *OpenAIClient) Infer(ctx context.Context, query string, docs []*models.Document) (string, float64, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", 0, fmt.Errorf("rate limit: %w", err)
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: inferenceSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(query, docs)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start)
	if err != nil {
		c.logger.Warn("inference request failed",
			zap.Error(err),
			zap.Int64("latency_ms", latency.Milliseconds()))
		return "", 0, fmt.Errorf("inference request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("empty response from inference service")
	}

	answer, confidence, err := parseInference(resp.Choices[0].Message.Content)
	if err != nil {
		return "", 0, fmt.Errorf("parse response failed: %w", err)
	}
	c.logger.Debug("inference completed",
		zap.String("query", utils.Truncate(query, 50)),
		zap.Float64("confidence", confidence),
		zap.Int64("latency_ms", latency.Milliseconds()))
	return answer, confidence, nil
}

func buildPrompt(query string, docs []*models.Document) string {
	var b strings.Builder
	if len(docs) > 0 {
		b.WriteString("Context:\n")
		for i, d := range docs {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, utils.Truncate(d.Text, maxContextChars))
		}
		b.WriteString("\n")
	}
	b.WriteString("Query: ")
	b.WriteString(query)
	return b.String()
}

type inferenceResponse struct {
	Answer     string   `json:"answer"`
	Confidence *float64 `json:"confidence"`
}

// parseInference decodes the JSON answer, tolerating a markdown code fence around it.
// A missing confidence is reported as 0.
func parseInference(content string) (string, float64, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		var jsonLines []string
		inJSON := false
		for _, line := range lines {
			if strings.HasPrefix(line, "```") {
				inJSON = !inJSON
				continue
			}
			if inJSON {
				jsonLines = append(jsonLines, line)
			}
		}
		content = strings.Join(jsonLines, "\n")
	}

	var resp inferenceResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return "", 0, err
	}
	if resp.Answer == "" {
		return "", 0, fmt.Errorf("missing answer")
	}
	confidence := 0.0
	if resp.Confidence != nil {
		confidence = utils.Clamp01(*resp.Confidence)
	}
	return resp.Answer, confidence, nil
}
