package feedback

import "github.com/hyperjump/mnemo/internal/models"

// MinJudged is the number of judged decisions a strategy needs before a suggestion is made.
const MinJudged = 20

const (
	minThreshold = 0.05
	maxThreshold = 0.99
)

// SuggestThreshold proposes an acceptance threshold for strategy given the current one and
// a target success rate. The threshold moves by half the gap between target and observed
// success rate: up when the strategy is wrong too often, down when it has room to spare.
// ok is false when the strategy has fewer than MinJudged judged decisions.
// Suggestions are never applied automatically.
func SuggestThreshold(stats []models.StrategyStats, strategy models.Strategy, current, target float64) (suggested float64, ok bool) {
	for _, s := range stats {
		if s.Strategy != strategy {
			continue
		}
		if s.Successes+s.Failures < MinJudged {
			return current, false
		}
		next := current + (target-s.SuccessRate())/2
		return min(max(next, minThreshold), maxThreshold), true
	}
	return current, false
}
