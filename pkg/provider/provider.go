// Package provider defines the contract of the external content generator
// and an HTTP implementation of it.
package provider

import (
	"context"
	"unicode/utf8"
)

// Prompt is one request to the content generator.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

// Provider generates content for a prompt. Implementations must be safe for
// concurrent use and should return *Error (or wrap one of the sentinels) so
// callers can tell retryable failures from terminal ones.
type Provider interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// Func adapts an ordinary function to the Provider interface.
type Func func(ctx context.Context, prompt Prompt) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// EstimateTokens approximates the token cost of a prompt: roughly four
// characters per input token plus the full output allowance.
func EstimateTokens(p Prompt) int64 {
	chars := utf8.RuneCountInString(p.System) + utf8.RuneCountInString(p.User)
	return int64((chars+3)/4 + p.MaxTokens)
}
