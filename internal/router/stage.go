// Package router implements the confidence-gated routing cascade:
// fast_local, then pattern_match, then external_inference.
package router

import "github.com/hyperjump/mnemo/internal/models"

// Stage is a state of the cascade.
type Stage int

const (
	StageFastLocal Stage = iota
	StagePatternMatch
	StageExternalInference
	StageTerminal
)

// stageCount is the number of executable stages.
const stageCount = int(StageTerminal)

// Strategy returns the strategy name run in this stage.
func (s Stage) Strategy() models.Strategy {
	switch s {
	case StageFastLocal:
		return models.StrategyFastLocal
	case StagePatternMatch:
		return models.StrategyPatternMatch
	case StageExternalInference:
		return models.StrategyExternalInference
	}
	return ""
}

func (s Stage) String() string {
	if s == StageTerminal {
		return "terminal"
	}
	return string(s.Strategy())
}

// next is the stage an escalation moves to.
func (s Stage) next() Stage {
	if s >= StageTerminal {
		return StageTerminal
	}
	return s + 1
}

// stageFor maps a strategy name to its stage.
func stageFor(name models.Strategy) (Stage, bool) {
	switch name {
	case models.StrategyFastLocal:
		return StageFastLocal, true
	case models.StrategyPatternMatch:
		return StagePatternMatch, true
	case models.StrategyExternalInference:
		return StageExternalInference, true
	}
	return StageTerminal, false
}

// Action is the transition chosen after a stage ran.
type Action int

const (
	ActionAccept Action = iota
	ActionEscalate
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionEscalate:
		return "escalate"
	}
	return "fail"
}

// Thresholds are the minimum confidences at which the local stages answer.
type Thresholds struct {
	Fast    float64
	Pattern float64
}

// Next decides the transition for a stage outcome. A stage error or timeout is
// treated as zero confidence. The terminal inference stage accepts any answer
// and fails on error.
func Next(stage Stage, confidence float64, err error, th Thresholds) Action {
	switch stage {
	case StageFastLocal:
		if err == nil && confidence >= th.Fast {
			return ActionAccept
		}
		return ActionEscalate
	case StagePatternMatch:
		if err == nil && confidence >= th.Pattern {
			return ActionAccept
		}
		return ActionEscalate
	case StageExternalInference:
		if err == nil {
			return ActionAccept
		}
		return ActionFail
	}
	return ActionFail
}
