package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/mnemo/internal/models"
)

// fuzzyMinRunes is the shortest keyword that tolerates a one-edit typo.
const fuzzyMinRunes = 5

// Rule is one labelled entry of the pattern table.
type Rule struct {
	Label   string `yaml:"label"`
	Payload string `yaml:"payload,omitempty"`
	// Keywords maps a lowercase word or phrase to its weight.
	Keywords map[string]float64 `yaml:"keywords"`
	Patterns []PatternRule      `yaml:"patterns"`
}

// PatternRule is a weighted regular expression.
type PatternRule struct {
	Regex  string  `yaml:"regex"`
	Weight float64 `yaml:"weight"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads the rule table from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	return f.Rules, nil
}

type compiledPattern struct {
	re     *regexp.Regexp
	weight float64
}

type compiledRule struct {
	label    string
	payload  string
	keywords map[string]float64
	patterns []compiledPattern
	total    float64
}

// PatternMatcher is the pattern_match strategy. A rule's confidence is the weight of
// its matched keywords and patterns over the rule's total weight, capped at 1.
type PatternMatcher struct {
	rules []compiledRule
}

// NewPatternMatcher compiles rules.
func NewPatternMatcher(rules []Rule) (*PatternMatcher, error) {
	m := &PatternMatcher{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.Label == "" {
			return nil, fmt.Errorf("rule %d: label is required", i)
		}
		cr := compiledRule{
			label:    r.Label,
			payload:  r.Payload,
			keywords: make(map[string]float64, len(r.Keywords)),
		}
		if cr.payload == "" {
			cr.payload = r.Label
		}
		for kw, w := range r.Keywords {
			if w <= 0 {
				return nil, fmt.Errorf("rule %s: keyword %q must have positive weight", r.Label, kw)
			}
			cr.keywords[strings.ToLower(strings.TrimSpace(kw))] = w
			cr.total += w
		}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.Label, err)
			}
			if p.Weight <= 0 {
				return nil, fmt.Errorf("rule %s: pattern %q must have positive weight", r.Label, p.Regex)
			}
			cr.patterns = append(cr.patterns, compiledPattern{re: re, weight: p.Weight})
			cr.total += p.Weight
		}
		if cr.total == 0 {
			return nil, fmt.Errorf("rule %s: no keywords or patterns", r.Label)
		}
		m.rules = append(m.rules, cr)
	}
	return m, nil
}

// Name implements Strategy.
func (m *PatternMatcher) Name() models.Strategy {
	return models.StrategyPatternMatch
}

// Resolve scores every rule and returns the best one. Ties keep table order.
func (m *PatternMatcher) Resolve(ctx context.Context, req *Request) (Answer, error) {
	lower := strings.ToLower(req.Query)
	words := splitWords(lower)

	var best Answer
	for _, r := range m.rules {
		if err := ctx.Err(); err != nil {
			return Answer{}, err
		}
		score := 0.0
		for kw, w := range r.keywords {
			if matchKeyword(kw, lower, words) {
				score += w
			}
		}
		for _, p := range r.patterns {
			if p.re.MatchString(req.Query) {
				score += p.weight
			}
		}
		confidence := min(score/r.total, 1)
		if confidence > best.Confidence {
			best = Answer{Payload: r.payload, Label: r.label, Confidence: confidence}
		}
	}
	return best, nil
}

// matchKeyword matches phrases by substring and single words by token, tolerating one typo.
func matchKeyword(kw, lower string, words []string) bool {
	if strings.ContainsRune(kw, ' ') {
		return strings.Contains(lower, kw)
	}
	for _, w := range words {
		if withinOneEdit(kw, w, fuzzyMinRunes) {
			return true
		}
	}
	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
