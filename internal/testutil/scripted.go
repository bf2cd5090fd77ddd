package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/learnforge/pkg/provider"
)

// ScriptedProvider is an in-process provider.Provider for tests. Respond
// decides the outcome of each call; calls are tracked per prompt and the
// peak number of concurrent calls is recorded.
type ScriptedProvider struct {
	// Respond returns the outcome of the n-th call (1-based) for prompt.
	// When nil every call returns DefaultContent.
	Respond func(prompt provider.Prompt, n int) (string, error)

	// Delay is applied to every call before responding.
	Delay time.Duration

	mu       sync.Mutex
	perUser  map[string]int
	total    int
	inFlight atomic.Int64
	peak     atomic.Int64
}

// DefaultContent is returned when Respond is nil.
const DefaultContent = "Qubits are the basic unit of quantum information. Unlike classical bits they can exist in a superposition of states."

// NewScriptedProvider creates a provider answering with respond.
func NewScriptedProvider(respond func(prompt provider.Prompt, n int) (string, error)) *ScriptedProvider {
	return &ScriptedProvider{
		Respond: respond,
		perUser: make(map[string]int),
	}
}

// Generate implements provider.Provider.
func (s *ScriptedProvider) Generate(ctx context.Context, prompt provider.Prompt) (string, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if cur <= peak || s.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	s.mu.Lock()
	if s.perUser == nil {
		s.perUser = make(map[string]int)
	}
	s.total++
	s.perUser[prompt.User]++
	n := s.perUser[prompt.User]
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if s.Respond == nil {
		return DefaultContent, nil
	}
	return s.Respond(prompt, n)
}

// Calls returns the total number of calls made.
func (s *ScriptedProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// CallsFor returns the number of calls made with the given user prompt.
func (s *ScriptedProvider) CallsFor(user string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perUser[user]
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (s *ScriptedProvider) MaxInFlight() int {
	return int(s.peak.Load())
}
