package models

import (
	"fmt"
	"time"
)

// Strategy identifies a routing cascade stage.
type Strategy string

const (
	StrategyFastLocal         Strategy = "fast_local"
	StrategyPatternMatch      Strategy = "pattern_match"
	StrategyExternalInference Strategy = "external_inference"
)

// ParseStrategy converts a name into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyFastLocal, StrategyPatternMatch, StrategyExternalInference:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, s)
}

// StageTrace records what a single cascade stage did.
type StageTrace struct {
	Strategy   Strategy `json:"strategy"`
	Confidence float64  `json:"confidence"`
	LatencyMs  int64    `json:"latency_ms"`
	Accepted   bool     `json:"accepted"`
	TimedOut   bool     `json:"timed_out,omitempty"`
	Err        string   `json:"error,omitempty"`
}

// RoutingDecision is the finalized outcome of one cascade run.
type RoutingDecision struct {
	ID         string       `json:"id"`
	Query      string       `json:"query"`
	Strategy   Strategy     `json:"strategy"`
	Confidence float64      `json:"confidence"`
	LatencyMs  int64        `json:"latency_ms"`
	Payload    string       `json:"payload"`
	Label      string       `json:"label,omitempty"`
	Stages     []StageTrace `json:"stages"`
	CreatedAt  time.Time    `json:"created_at"`
}

// StrategyStats aggregates recorded decisions for one strategy.
type StrategyStats struct {
	Strategy       Strategy `json:"strategy"`
	Decisions      int64    `json:"decisions"`
	Successes      int64    `json:"successes"`
	Failures       int64    `json:"failures"`
	MeanConfidence float64  `json:"mean_confidence"`
	MeanLatencyMs  float64  `json:"mean_latency_ms"`
}

// SuccessRate returns successes over judged decisions, or 0 when none were judged.
func (s StrategyStats) SuccessRate() float64 {
	judged := s.Successes + s.Failures
	if judged == 0 {
		return 0
	}
	return float64(s.Successes) / float64(judged)
}
