package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hyperjump/mnemo/internal/models"
)

func TestNext(t *testing.T) {
	th := Thresholds{Fast: 0.7, Pattern: 0.5}
	boom := errors.New("boom")

	tests := []struct {
		name       string
		stage      Stage
		confidence float64
		err        error
		want       Action
	}{
		{"fast above threshold", StageFastLocal, 0.9, nil, ActionAccept},
		{"fast at threshold", StageFastLocal, 0.7, nil, ActionAccept},
		{"fast below threshold", StageFastLocal, 0.69, nil, ActionEscalate},
		{"fast error ignores confidence", StageFastLocal, 0.9, boom, ActionEscalate},
		{"pattern above threshold", StagePatternMatch, 0.5, nil, ActionAccept},
		{"pattern below threshold", StagePatternMatch, 0.2, nil, ActionEscalate},
		{"pattern error", StagePatternMatch, 0, boom, ActionEscalate},
		{"inference accepts low confidence", StageExternalInference, 0.01, nil, ActionAccept},
		{"inference error fails", StageExternalInference, 0, boom, ActionFail},
		{"terminal fails", StageTerminal, 1, nil, ActionFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Next(tt.stage, tt.confidence, tt.err, th))
		})
	}
}

func TestStage_Order(t *testing.T) {
	assert.Equal(t, StagePatternMatch, StageFastLocal.next())
	assert.Equal(t, StageExternalInference, StagePatternMatch.next())
	assert.Equal(t, StageTerminal, StageExternalInference.next())
	assert.Equal(t, StageTerminal, StageTerminal.next())

	assert.Equal(t, models.StrategyPatternMatch, StagePatternMatch.Strategy())
	assert.Equal(t, "terminal", StageTerminal.String())

	s, ok := stageFor(models.StrategyExternalInference)
	assert.True(t, ok)
	assert.Equal(t, StageExternalInference, s)
}
