package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/mnemo/internal/config"
	"github.com/hyperjump/mnemo/internal/models"
)

func chatServer(t *testing.T, content string, delay time.Duration, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if hits != nil {
			hits.Add(1)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Contains(t, req.Messages[1].Content, "Query:")
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_Infer(t *testing.T) {
	srv := chatServer(t, `{"answer":"use the refund form","confidence":0.82}`, 0, nil)
	c := NewOpenAIClient(config.InferenceConfig{BaseURL: srv.URL, APIKey: "k", Model: "test-model"}, nil)

	answer, conf, err := c.Infer(context.Background(), "how do I get a refund", []*models.Document{{ID: "d", Text: "refund policy"}})
	require.NoError(t, err)
	assert.Equal(t, "use the refund form", answer)
	assert.InDelta(t, 0.82, conf, 1e-9)
}

func TestOpenAIClient_FencedResponse(t *testing.T) {
	srv := chatServer(t, "```json\n{\"answer\":\"ok\"}\n```", 0, nil)
	c := NewOpenAIClient(config.InferenceConfig{BaseURL: srv.URL, Model: "test-model"}, nil)

	answer, conf, err := c.Infer(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, 0.0, conf)
}

func TestOpenAIClient_BadResponse(t *testing.T) {
	srv := chatServer(t, "I cannot answer in JSON", 0, nil)
	c := NewOpenAIClient(config.InferenceConfig{BaseURL: srv.URL, Model: "test-model"}, nil)

	_, _, err := c.Infer(context.Background(), "q", nil)
	assert.Error(t, err)
}

func TestOpenAIClient_RateLimitHonoursContext(t *testing.T) {
	var hits atomic.Int32
	srv := chatServer(t, `{"answer":"a","confidence":1}`, 0, &hits)
	c := NewOpenAIClient(config.InferenceConfig{BaseURL: srv.URL, Model: "test-model", RateLimit: 0.001, Burst: 1}, nil)

	_, _, err := c.Infer(context.Background(), "q", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = c.Infer(ctx, "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, int32(1), hits.Load())
}

func TestInferenceStrategy_TimeoutInCascade(t *testing.T) {
	srv := chatServer(t, `{"answer":"late","confidence":1}`, time.Second, nil)
	client := NewOpenAIClient(config.InferenceConfig{BaseURL: srv.URL, Model: "test-model"}, nil)

	fast, pattern, _ := strategies(0.1, 0.1, 0)
	c := NewCascade(testConfig(), WithStrategy(fast), WithStrategy(pattern), WithStrategy(NewInferenceStrategy(client)))

	_, err := c.Route(context.Background(), &models.RouteQuery{Query: "slow one"})
	var failed *models.AllStrategiesFailedError
	require.ErrorAs(t, err, &failed)
	last := failed.Stages[len(failed.Stages)-1]
	assert.Equal(t, models.StrategyExternalInference, last.Strategy)
	assert.True(t, strings.Contains(last.Reason, "timed out"), last.Reason)
}

func TestBuildPrompt(t *testing.T) {
	p := buildPrompt("what now", []*models.Document{{Text: "first"}, {Text: strings.Repeat("x", 5000)}})
	assert.Contains(t, p, "[1] first")
	assert.Contains(t, p, "[2] ")
	assert.Contains(t, p, "Query: what now")
	assert.Less(t, len(p), 2000)
}
