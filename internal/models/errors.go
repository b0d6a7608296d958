package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDimensionMismatch signals a vector whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrNotFound signals a missing document or index node.
	ErrNotFound = errors.New("not found")
	// ErrStore signals an I/O failure in the durable document store.
	ErrStore = errors.New("store error")
	// ErrIndex signals a vector index invariant violation.
	ErrIndex = errors.New("index error")
	// ErrEmbedding signals an embedding adapter failure or timeout.
	ErrEmbedding = errors.New("embedding error")
	// ErrAllStrategiesFailed signals that every routing stage failed or timed out.
	ErrAllStrategiesFailed = errors.New("all routing strategies failed")
	// ErrSnapshotVersion signals an index snapshot written by an incompatible schema.
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
	// ErrSnapshotCorrupt signals an unreadable index snapshot.
	ErrSnapshotCorrupt = errors.New("corrupt snapshot")
	// ErrInvalidInput signals a malformed request.
	ErrInvalidInput = errors.New("invalid input")
)

// DimensionError wraps ErrDimensionMismatch with the expected and actual lengths.
type DimensionError struct {
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", ErrDimensionMismatch.Error(), e.Expected, e.Got)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// NewDimensionError creates a dimension mismatch error.
func NewDimensionError(expected, got int) error {
	return &DimensionError{Expected: expected, Got: got}
}

// StageFailure is the reason a single routing stage did not produce an accepted answer.
type StageFailure struct {
	Strategy Strategy `json:"strategy"`
	Reason   string   `json:"reason"`
}

// AllStrategiesFailedError wraps ErrAllStrategiesFailed with per-stage reasons.
type AllStrategiesFailedError struct {
	Stages []StageFailure
}

func (e *AllStrategiesFailedError) Error() string {
	parts := make([]string, 0, len(e.Stages))
	for _, s := range e.Stages {
		parts = append(parts, fmt.Sprintf("%s: %s", s.Strategy, s.Reason))
	}
	return fmt.Sprintf("%s (%s)", ErrAllStrategiesFailed.Error(), strings.Join(parts, "; "))
}

func (e *AllStrategiesFailedError) Unwrap() error { return ErrAllStrategiesFailed }
