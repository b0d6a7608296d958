package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/mnemo/internal/models"
)

// Client talks to a running mnemo server. Use it when the server holds the data files open.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type apiError struct {
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Stages  []models.StageFailure `json:"stages"`
}

// Search runs a hybrid search.
func (c *Client) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	var resp models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Route resolves a query through the routing cascade.
func (c *Client) Route(ctx context.Context, q *models.RouteQuery) (*models.RoutingDecision, error) {
	var d models.RoutingDecision
	if err := c.do(ctx, http.MethodPost, "/api/v1/route", q, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// RecordOutcome reports whether a routing decision was correct.
func (c *Client) RecordOutcome(ctx context.Context, decisionID string, success bool) error {
	body := map[string]any{"decision_id": decisionID, "success": success}
	return c.do(ctx, http.MethodPost, "/api/v1/feedback", body, nil)
}

// Ingest stores a document.
func (c *Client) Ingest(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	var doc models.Document
	if err := c.do(ctx, http.MethodPost, "/api/v1/documents", input, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Remove deletes a document.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/documents/"+url.PathEscape(id), nil, nil)
}

// Rebuild asks the server to rebuild its indexes from the document store.
func (c *Client) Rebuild(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/index/rebuild", nil, nil)
}

// Status returns the engine status.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var st models.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an API error body back into the matching domain error.
func decodeError(resp *http.Response) error {
	var e apiError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&e); err != nil {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	switch e.Code {
	case "all_strategies_failed":
		return &models.AllStrategiesFailedError{Stages: e.Stages}
	case "not_found":
		return models.ErrNotFound
	case "invalid_input", "invalid_body":
		return fmt.Errorf("%w: %s", models.ErrInvalidInput, e.Message)
	case "embedding_failed":
		return models.ErrEmbedding
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, e.Message)
}
