package gateway

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Sternrassler/learnforge/pkg/admission"
	"github.com/Sternrassler/learnforge/pkg/cache"
	"github.com/Sternrassler/learnforge/pkg/telemetry"
)

// Operation names a supported request type.
type Operation string

const (
	// OpBreakdown splits a topic into an ordered list of subtopics.
	OpBreakdown Operation = "breakdown"

	// OpExplain explains each given subtopic of a topic.
	OpExplain Operation = "explain"
)

// Payload limits.
const (
	maxTopicLength    = 200
	maxLevelLength    = 40
	defaultCount      = 8
	maxCount          = 20
	maxSubtopics      = 50
	maxSubtopicLength = 200
)

// Status is the overall outcome of a request.
type Status string

const (
	StatusOK             Status = telemetry.StatusOK
	StatusDenied         Status = telemetry.StatusDenied
	StatusPartialFailure Status = telemetry.StatusPartialFailure
	StatusError          Status = telemetry.StatusError
)

// Payload carries the operation parameters.
type Payload struct {
	Topic     string   `json:"topic"`
	Level     string   `json:"level,omitempty"`
	Subtopics []string `json:"subtopics,omitempty"`
	Count     int      `json:"count,omitempty"`
}

// Request is one call into the serving core. Identity is resolved by the
// caller and is never read from the request body.
type Request struct {
	Operation Operation          `json:"operation"`
	Identity  admission.Identity `json:"-"`
	Payload   Payload            `json:"payload"`
}

// ItemResult is the outcome of one generated or cached item.
type ItemResult struct {
	Label      string   `json:"label"`
	Content    string   `json:"content,omitempty"`
	Cached     bool     `json:"cached"`
	Score      float64  `json:"score,omitempty"`
	LowQuality bool     `json:"low_quality,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Attempts   int      `json:"attempts,omitempty"`
	Error      string   `json:"error,omitempty"`
	ErrorClass string   `json:"error_class,omitempty"`
}

// Failed reports whether the item produced no content.
func (r ItemResult) Failed() bool {
	return r.Error != ""
}

// BreakdownData is the Data of a breakdown response.
type BreakdownData struct {
	Topic     string   `json:"topic"`
	Subtopics []string `json:"subtopics"`
}

// Explanation is one explained subtopic.
type Explanation struct {
	Subtopic string `json:"subtopic"`
	Content  string `json:"content"`
}

// ExplainData is the Data of an explain response. Failed subtopics are
// omitted; see Response.Items for per-item detail.
type ExplainData struct {
	Topic        string        `json:"topic"`
	Explanations []Explanation `json:"explanations"`
}

// Response is the result of Handle.
type Response struct {
	RequestID string       `json:"request_id"`
	Status    Status       `json:"status"`
	Data      any          `json:"data,omitempty"`
	Items     []ItemResult `json:"items,omitempty"`
	Warnings  []string     `json:"warnings,omitempty"`

	// Cached is true when every item was served from the cache.
	Cached bool `json:"cached"`

	// RetryAfter is set on denial.
	RetryAfter        time.Duration `json:"-"`
	RetryAfterSeconds int           `json:"retry_after_seconds,omitempty"`

	QuotaRemaining *admission.Remaining `json:"quota_remaining,omitempty"`

	Error string `json:"error,omitempty"`

	// Err is the typed form of Error for callers that map statuses, e.g.
	// errors.Is(resp.Err, ErrInvalidInput).
	Err error `json:"-"`
}

// normalize trims the payload and applies defaults.
func (p Payload) normalize() Payload {
	p.Topic = strings.TrimSpace(p.Topic)
	p.Level = strings.TrimSpace(p.Level)
	if p.Count == 0 {
		p.Count = defaultCount
	}
	if len(p.Subtopics) > 0 {
		subs := make([]string, len(p.Subtopics))
		for i, s := range p.Subtopics {
			subs[i] = strings.TrimSpace(s)
		}
		p.Subtopics = subs
	}
	return p
}

// validate checks a normalized payload for op.
func (p Payload) validate(op Operation) error {
	if err := checkText("topic", p.Topic, maxTopicLength); err != nil {
		return err
	}
	if utf8.RuneCountInString(p.Level) > maxLevelLength {
		return fmt.Errorf("%w: level exceeds %d characters", ErrInvalidInput, maxLevelLength)
	}

	switch op {
	case OpBreakdown:
		if p.Count < 1 || p.Count > maxCount {
			return fmt.Errorf("%w: count must be between 1 and %d (got %d)", ErrInvalidInput, maxCount, p.Count)
		}
	case OpExplain:
		if len(p.Subtopics) == 0 || len(p.Subtopics) > maxSubtopics {
			return fmt.Errorf("%w: between 1 and %d subtopics required (got %d)", ErrInvalidInput, maxSubtopics, len(p.Subtopics))
		}
		seen := make(map[string]struct{}, len(p.Subtopics))
		for i, s := range p.Subtopics {
			if err := checkText(fmt.Sprintf("subtopics[%d]", i), s, maxSubtopicLength); err != nil {
				return err
			}
			// Subtopics that differ only in case or spacing share a cache key.
			norm := cache.NormalizeValue(s)
			if _, dup := seen[norm]; dup {
				return fmt.Errorf("%w: duplicate subtopic %q", ErrInvalidInput, s)
			}
			seen[norm] = struct{}{}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	return nil
}

func checkText(field, value string, maxLen int) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if utf8.RuneCountInString(value) > maxLen {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidInput, field, maxLen)
	}
	if strings.IndexFunc(value, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) < 0 {
		return fmt.Errorf("%w: %s must contain a letter or digit", ErrInvalidInput, field)
	}
	return nil
}
