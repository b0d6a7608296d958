package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/mnemo/internal/config"
	"github.com/hyperjump/mnemo/internal/metrics"
	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/pkg/utils"
)

// EvidenceSource supplies hybrid search hits for a query.
type EvidenceSource interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
}

// DecisionRecorder persists finalized routing decisions.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, d *models.RoutingDecision) error
}

// errStageTimeout marks a stage that overran its deadline.
var errStageTimeout = errors.New("stage timed out")

// Cascade runs strategies in stage order until one is accepted.
type Cascade struct {
	strategies    [stageCount]Strategy
	timeouts      [stageCount]time.Duration
	thresholds    Thresholds
	evidence      EvidenceSource
	recorder      DecisionRecorder
	recordTimeout time.Duration
	logger        *zap.Logger
}

// Option configures a Cascade.
type Option func(*Cascade)

// WithStrategy installs s in the stage matching its name.
func WithStrategy(s Strategy) Option {
	return func(c *Cascade) {
		if stage, ok := stageFor(s.Name()); ok {
			c.strategies[stage] = s
		}
	}
}

// WithEvidence sets the hybrid search source consulted before the first stage.
func WithEvidence(e EvidenceSource) Option {
	return func(c *Cascade) {
		c.evidence = e
	}
}

// WithRecorder sets where finalized decisions are written.
func WithRecorder(r DecisionRecorder) Option {
	return func(c *Cascade) {
		c.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cascade) {
		c.logger = utils.OrNop(l)
	}
}

// NewCascade builds a cascade with thresholds and timeouts from cfg.
func NewCascade(cfg config.CascadeConfig, opts ...Option) *Cascade {
	c := &Cascade{
		thresholds: Thresholds{Fast: cfg.FastThreshold, Pattern: cfg.PatternThreshold},
		timeouts: [stageCount]time.Duration{
			StageFastLocal:         cfg.FastTimeout,
			StagePatternMatch:      cfg.PatternTimeout,
			StageExternalInference: cfg.InferenceTimeout,
		},
		recordTimeout: cfg.RecordTimeout,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Thresholds returns the acceptance thresholds in use.
func (c *Cascade) Thresholds() Thresholds {
	return c.thresholds
}

// Route resolves q through the cascade. When no stage is accepted the error is an
// *models.AllStrategiesFailedError carrying every stage's reason.
func (c *Cascade) Route(ctx context.Context, q *models.RouteQuery) (*models.RoutingDecision, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	req := &Request{Query: q.Query, Evidence: c.gatherEvidence(ctx, q)}

	var (
		traces   []models.StageTrace
		failures []models.StageFailure
	)
	for stage := StageFastLocal; stage != StageTerminal; {
		strategy := c.strategies[stage]
		if strategy == nil {
			failures = append(failures, models.StageFailure{Strategy: stage.Strategy(), Reason: "not configured"})
			stage = stage.next()
			continue
		}

		answer, trace, err := c.runStage(ctx, stage, strategy, req)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		action := Next(stage, answer.Confidence, err, c.thresholds)
		trace.Accepted = action == ActionAccept
		traces = append(traces, trace)
		c.observe(stage, trace, action)

		switch action {
		case ActionAccept:
			d := &models.RoutingDecision{
				ID:         uuid.NewString(),
				Query:      q.Query,
				Strategy:   stage.Strategy(),
				Confidence: answer.Confidence,
				LatencyMs:  time.Since(start).Milliseconds(),
				Payload:    answer.Payload,
				Label:      answer.Label,
				Stages:     traces,
				CreatedAt:  time.Now().UTC(),
			}
			c.record(ctx, d)
			return d, nil
		case ActionEscalate:
			failures = append(failures, models.StageFailure{Strategy: stage.Strategy(), Reason: failureReason(trace, c.threshold(stage))})
			stage = stage.next()
		default:
			failures = append(failures, models.StageFailure{Strategy: stage.Strategy(), Reason: failureReason(trace, 0)})
			stage = StageTerminal
		}
	}

	metrics.CascadeFailuresTotal.Inc()
	c.logger.Warn("all routing strategies failed",
		zap.String("query", utils.Truncate(q.Query, 50)),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()))
	return nil, &models.AllStrategiesFailedError{Stages: failures}
}

// runStage runs one strategy under its stage deadline. A strategy that ignores
// cancellation is abandoned once the deadline passes.
func (c *Cascade) runStage(ctx context.Context, stage Stage, s Strategy, req *Request) (Answer, models.StageTrace, error) {
	trace := models.StageTrace{Strategy: stage.Strategy()}
	sctx := ctx
	if d := c.timeouts[stage]; d > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	type result struct {
		answer Answer
		err    error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r = result{err: fmt.Errorf("strategy panicked: %v", p)}
			}
			done <- r
		}()
		r.answer, r.err = s.Resolve(sctx, req)
	}()

	var r result
	select {
	case r = <-done:
	case <-sctx.Done():
	}
	if sctx.Err() != nil && ctx.Err() == nil {
		r = result{err: errStageTimeout}
	}
	trace.LatencyMs = time.Since(start).Milliseconds()

	if r.err != nil {
		trace.Err = r.err.Error()
		trace.TimedOut = errors.Is(r.err, errStageTimeout)
		c.logger.Debug("routing stage failed",
			zap.String("strategy", string(trace.Strategy)),
			zap.Bool("timed_out", trace.TimedOut),
			zap.Error(r.err))
		return Answer{}, trace, r.err
	}
	trace.Confidence = r.answer.Confidence
	return r.answer, trace, nil
}

func (c *Cascade) gatherEvidence(ctx context.Context, q *models.RouteQuery) []*models.SearchResult {
	if c.evidence == nil {
		return nil
	}
	resp, err := c.evidence.Search(ctx, &models.SearchQuery{Query: q.Query, Limit: q.EvidenceLimit})
	if err != nil {
		c.logger.Warn("evidence search failed", zap.Error(err))
		return nil
	}
	return resp.Results
}

func (c *Cascade) record(ctx context.Context, d *models.RoutingDecision) {
	if c.recorder == nil {
		return
	}
	rctx := context.WithoutCancel(ctx)
	if c.recordTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(rctx, c.recordTimeout)
		defer cancel()
	}
	if err := c.recorder.RecordDecision(rctx, d); err != nil {
		c.logger.Warn("failed to record routing decision", zap.String("decision_id", d.ID), zap.Error(err))
	}
}

func (c *Cascade) observe(stage Stage, trace models.StageTrace, action Action) {
	outcome := "escalated"
	switch {
	case trace.TimedOut:
		outcome = "timeout"
	case trace.Err != "":
		outcome = "error"
	case action == ActionAccept:
		outcome = "accepted"
	}
	name := string(stage.Strategy())
	metrics.CascadeStageTotal.WithLabelValues(name, outcome).Inc()
	metrics.CascadeStageDuration.WithLabelValues(name).Observe(float64(trace.LatencyMs) / 1000)
}

func (c *Cascade) threshold(stage Stage) float64 {
	switch stage {
	case StageFastLocal:
		return c.thresholds.Fast
	case StagePatternMatch:
		return c.thresholds.Pattern
	}
	return 0
}

func failureReason(trace models.StageTrace, threshold float64) string {
	if trace.Err != "" {
		return trace.Err
	}
	return fmt.Sprintf("confidence %.3f below threshold %.3f", trace.Confidence, threshold)
}
