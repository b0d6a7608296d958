// Package feedback persists routing decisions and their judged outcomes.
package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/pkg/utils"
)

// Recorder stores finalized routing decisions and the outcomes reported for them.
type Recorder interface {
	RecordDecision(ctx context.Context, d *models.RoutingDecision) error
	RecordOutcome(ctx context.Context, decisionID string, success bool) error
	Stats(ctx context.Context) ([]models.StrategyStats, error)
}

// SQLiteRecorder implements Recorder on an existing SQLite handle, usually the document store's.
type SQLiteRecorder struct {
	db     *sql.DB
	logger *zap.Logger
}

// Option configures a SQLiteRecorder.
type Option func(*SQLiteRecorder)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *SQLiteRecorder) {
		r.logger = utils.OrNop(l)
	}
}

// NewSQLiteRecorder creates the routing_decisions table on db if needed.
func NewSQLiteRecorder(db *sql.DB, opts ...Option) (*SQLiteRecorder, error) {
	r := &SQLiteRecorder{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS routing_decisions (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		strategy TEXT NOT NULL,
		confidence REAL NOT NULL,
		latency_ms INTEGER NOT NULL,
		payload TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		stages TEXT NOT NULL DEFAULT '[]',
		outcome INTEGER,
		created_at INTEGER NOT NULL,
		judged_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_routing_decisions_strategy ON routing_decisions(strategy);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize feedback schema: %w", err)
	}
	return r, nil
}

// RecordDecision inserts d. Decisions are immutable, so a duplicate id is an error.
func (r *SQLiteRecorder) RecordDecision(ctx context.Context, d *models.RoutingDecision) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("%w: decision id is required", models.ErrInvalidInput)
	}
	stages, err := json.Marshal(d.Stages)
	if err != nil {
		return fmt.Errorf("failed to marshal stages: %w", err)
	}
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO routing_decisions (id, query, strategy, confidence, latency_ms, payload, label, stages, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Query, string(d.Strategy), d.Confidence, d.LatencyMs, d.Payload, d.Label, string(stages), created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: record decision %s: %w", models.ErrStore, d.ID, err)
	}
	r.logger.Debug("decision recorded", zap.String("decision_id", d.ID), zap.String("strategy", string(d.Strategy)))
	return nil
}

// RecordOutcome marks a decision as a success or failure. Later reports overwrite earlier ones.
func (r *SQLiteRecorder) RecordOutcome(ctx context.Context, decisionID string, success bool) error {
	outcome := 0
	if success {
		outcome = 1
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE routing_decisions SET outcome = ?, judged_at = ? WHERE id = ?`,
		outcome, time.Now().UTC().UnixNano(), decisionID,
	)
	if err != nil {
		return fmt.Errorf("%w: record outcome %s: %w", models.ErrStore, decisionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: record outcome %s: %w", models.ErrStore, decisionID, err)
	}
	if n == 0 {
		return fmt.Errorf("decision %s: %w", decisionID, models.ErrNotFound)
	}
	return nil
}

// Decision loads a recorded decision.
func (r *SQLiteRecorder) Decision(ctx context.Context, id string) (*models.RoutingDecision, error) {
	var (
		d        models.RoutingDecision
		strategy string
		stages   string
		created  int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, query, strategy, confidence, latency_ms, payload, label, stages, created_at
		 FROM routing_decisions WHERE id = ?`, id,
	).Scan(&d.ID, &d.Query, &strategy, &d.Confidence, &d.LatencyMs, &d.Payload, &d.Label, &stages, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load decision %s: %w", models.ErrStore, id, err)
	}
	d.Strategy = models.Strategy(strategy)
	d.CreatedAt = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(stages), &d.Stages); err != nil {
		return nil, fmt.Errorf("decision %s: failed to unmarshal stages: %w", id, err)
	}
	return &d, nil
}

// Stats aggregates recorded decisions per strategy, ordered by strategy name.
func (r *SQLiteRecorder) Stats(ctx context.Context) ([]models.StrategyStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT strategy,
		       COUNT(*),
		       SUM(CASE WHEN outcome = 1 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN outcome = 0 THEN 1 ELSE 0 END),
		       AVG(confidence),
		       AVG(latency_ms)
		FROM routing_decisions
		GROUP BY strategy
		ORDER BY strategy`)
	if err != nil {
		return nil, fmt.Errorf("%w: stats: %w", models.ErrStore, err)
	}
	defer rows.Close()

	out := []models.StrategyStats{}
	for rows.Next() {
		var (
			s        models.StrategyStats
			strategy string
		)
		if err := rows.Scan(&strategy, &s.Decisions, &s.Successes, &s.Failures, &s.MeanConfidence, &s.MeanLatencyMs); err != nil {
			return nil, fmt.Errorf("%w: stats: %w", models.ErrStore, err)
		}
		s.Strategy = models.Strategy(strategy)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: stats: %w", models.ErrStore, err)
	}
	return out, nil
}
