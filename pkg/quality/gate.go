// Package quality scores freshly generated content and decides whether it is
// trustworthy enough to be stored in the cache.
//
// Content that fails the gate is still returned to the requester, together
// with the warnings produced while scoring, but it must never be cached so a
// later retry is not served a low-quality result.
package quality

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ValidationResult is produced once per generated item.
type ValidationResult struct {
	// Score is in [0,1]; higher is better.
	Score float64 `json:"score"`

	// Warnings lists the failed checks in the order they were evaluated.
	Warnings []string `json:"warnings,omitempty"`

	// Blocked is set when a check failed that no score can outweigh:
	// a forbidden pattern or content below the minimum length.
	Blocked bool `json:"blocked,omitempty"`
}

// Config holds the heuristic thresholds used by the gate.
type Config struct {
	// MinLength is the minimum content length in characters.
	MinLength int `yaml:"min_length"`

	// MaxLength is the maximum content length in characters.
	MaxLength int `yaml:"max_length"`

	// ForbiddenPatterns are regular expressions that must not match.
	ForbiddenPatterns []string `yaml:"forbidden_patterns"`

	// MaxRepetitionRatio is the highest tolerated share of repeated word trigrams.
	MaxRepetitionRatio float64 `yaml:"max_repetition_ratio"`

	// Threshold is the minimum score required for cache admission.
	Threshold float64 `yaml:"threshold"`
}

// Score deductions per failed check.
const (
	penaltyTooShort   = 0.6
	penaltyTooLong    = 0.2
	penaltyForbidden  = 0.6
	penaltyRepetitive = 0.6
)

// DefaultConfig returns conservative defaults for educational text.
func DefaultConfig() Config {
	return Config{
		MinLength: 40,
		MaxLength: 20000,
		ForbiddenPatterns: []string{
			`(?i)as an ai language model`,
			`(?i)lorem ipsum`,
			`(?i)\bTODO\b`,
		},
		MaxRepetitionRatio: 0.35,
		Threshold:          0.5,
	}
}

// Gate scores content against a Config.
type Gate struct {
	cfg       Config
	forbidden []*regexp.Regexp
}

// New compiles the forbidden patterns and returns a Gate.
func New(cfg Config) (*Gate, error) {
	if cfg.MaxLength > 0 && cfg.MinLength > cfg.MaxLength {
		return nil, fmt.Errorf("min_length %d exceeds max_length %d", cfg.MinLength, cfg.MaxLength)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be within [0,1] (got %v)", cfg.Threshold)
	}

	g := &Gate{cfg: cfg}
	for _, p := range cfg.ForbiddenPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile forbidden pattern %q: %w", p, err)
		}
		g.forbidden = append(g.forbidden, re)
	}
	return g, nil
}

// Score evaluates content and returns its ValidationResult.
func (g *Gate) Score(content string) ValidationResult {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ValidationResult{Score: 0, Warnings: []string{"content is empty"}, Blocked: true}
	}

	score := 1.0
	var warnings []string
	blocked := false

	length := len([]rune(trimmed))
	if g.cfg.MinLength > 0 && length < g.cfg.MinLength {
		score -= penaltyTooShort
		blocked = true
		warnings = append(warnings, fmt.Sprintf("content too short: %d < %d characters", length, g.cfg.MinLength))
	}
	if g.cfg.MaxLength > 0 && length > g.cfg.MaxLength {
		score -= penaltyTooLong
		warnings = append(warnings, fmt.Sprintf("content too long: %d > %d characters", length, g.cfg.MaxLength))
	}

	for _, re := range g.forbidden {
		if re.MatchString(trimmed) {
			score -= penaltyForbidden
			blocked = true
			warnings = append(warnings, fmt.Sprintf("forbidden pattern matched: %s", re.String()))
		}
	}

	if ratio := RepetitionRatio(trimmed); ratio > g.cfg.MaxRepetitionRatio {
		score -= penaltyRepetitive
		warnings = append(warnings, fmt.Sprintf("repetition ratio %.2f exceeds %.2f", ratio, g.cfg.MaxRepetitionRatio))
	}

	if score < 0 {
		score = 0
	}
	return ValidationResult{Score: score, Warnings: warnings, Blocked: blocked}
}

// Admit reports whether a scored item may be written to the cache. Blocked
// content is never admitted, whatever the threshold.
func (g *Gate) Admit(r ValidationResult) bool {
	return !r.Blocked && r.Score >= g.cfg.Threshold
}

// Threshold returns the configured admission threshold.
func (g *Gate) Threshold() float64 {
	return g.cfg.Threshold
}

// RepetitionRatio returns the share of word trigrams that repeat an earlier
// trigram. Texts shorter than three words fall back to repeated words.
func RepetitionRatio(content string) float64 {
	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return 0
	}

	if len(words) < 3 {
		seen := make(map[string]struct{}, len(words))
		dup := 0
		for _, w := range words {
			if _, ok := seen[w]; ok {
				dup++
				continue
			}
			seen[w] = struct{}{}
		}
		return float64(dup) / float64(len(words))
	}

	total := len(words) - 2
	seen := make(map[[3]string]struct{}, total)
	dup := 0
	for i := 0; i < total; i++ {
		tri := [3]string{words[i], words[i+1], words[i+2]}
		if _, ok := seen[tri]; ok {
			dup++
			continue
		}
		seen[tri] = struct{}{}
	}
	return float64(dup) / float64(total)
}
