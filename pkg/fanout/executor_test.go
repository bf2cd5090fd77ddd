package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/learnforge/internal/testutil"
	"github.com/Sternrassler/learnforge/pkg/provider"
	"github.com/rs/zerolog"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.Timeout = 5 * time.Second
	cfg.CallTimeout = 2 * time.Second
	return cfg
}

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	e, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func makeItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{ID: fmt.Sprintf("item-%d", i+1), Payload: fmt.Sprintf("subtopic %d", i+1)}
	}
	return items
}

// callProvider runs each item against p with the payload as the user prompt.
func callProvider(p provider.Provider) CallFunc {
	return func(ctx context.Context, item Item) (string, error) {
		return p.Generate(ctx, provider.Prompt{User: item.Payload})
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"shrinking multiplier", func(c *Config) { c.Multiplier = 0.5 }},
		{"jitter too large", func(c *Config) { c.Jitter = 1 }},
		{"negative backoff", func(c *Config) { c.InitialBackoff = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, zerolog.Nop()); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestSubmit_Empty(t *testing.T) {
	e := newTestExecutor(t, testConfig())
	result := e.Submit(context.Background(), nil, callProvider(testutil.NewScriptedProvider(nil)))

	if result.Status != StatusComplete {
		t.Errorf("Status = %v, want complete", result.Status)
	}
	if len(result.Outcomes) != 0 {
		t.Errorf("Outcomes = %d, want 0", len(result.Outcomes))
	}
}

func TestSubmit_BoundedConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 5
	e := newTestExecutor(t, cfg)

	p := testutil.NewScriptedProvider(nil)
	p.Delay = 30 * time.Millisecond

	result := e.Submit(context.Background(), makeItems(15), callProvider(p))

	if result.Status != StatusComplete {
		t.Fatalf("Status = %v, want complete", result.Status)
	}
	if got := p.MaxInFlight(); got > 5 {
		t.Errorf("MaxInFlight = %d, want <= 5", got)
	}
	if got := p.Calls(); got != 15 {
		t.Errorf("Calls = %d, want 15", got)
	}
}

func TestSubmit_BoundedAcrossRuns(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 3
	e := newTestExecutor(t, cfg)

	p := testutil.NewScriptedProvider(nil)
	p.Delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Submit(context.Background(), makeItems(6), callProvider(p))
		}()
	}
	wg.Wait()

	if got := p.MaxInFlight(); got > 3 {
		t.Errorf("MaxInFlight across runs = %d, want <= 3", got)
	}
}

// Fifteen items at a fixed latency with five workers take three rounds.
func TestSubmit_ParallelDuration(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 5
	e := newTestExecutor(t, cfg)

	p := testutil.NewScriptedProvider(nil)
	p.Delay = 100 * time.Millisecond

	result := e.Submit(context.Background(), makeItems(15), callProvider(p))

	if result.Duration < 290*time.Millisecond {
		t.Errorf("Duration = %v, want at least three rounds", result.Duration)
	}
	if result.Duration > 800*time.Millisecond {
		t.Errorf("Duration = %v, items were not run in parallel", result.Duration)
	}
}

func TestSubmit_PartialFailure(t *testing.T) {
	e := newTestExecutor(t, testConfig())

	p := testutil.NewScriptedProvider(func(prompt provider.Prompt, n int) (string, error) {
		if prompt.User == "subtopic 4" {
			return "", &provider.Error{Class: provider.ClassInvalidInput, StatusCode: 422, Message: "rejected"}
		}
		return "content for " + prompt.User, nil
	})

	result := e.Submit(context.Background(), makeItems(15), callProvider(p))

	if result.Status != StatusPartialFailure {
		t.Errorf("Status = %v, want partial_failure", result.Status)
	}
	if result.Succeeded() != 14 || result.Failed() != 1 {
		t.Errorf("Succeeded/Failed = %d/%d, want 14/1", result.Succeeded(), result.Failed())
	}

	failed := result.Outcomes[3]
	if failed.State != StateFailed {
		t.Errorf("item-4 State = %v, want failed", failed.State)
	}
	if !errors.Is(failed.Err, provider.ErrInvalidInput) {
		t.Errorf("item-4 Err = %v, want ErrInvalidInput", failed.Err)
	}
	if failed.Attempts != 1 {
		t.Errorf("terminal error was retried: Attempts = %d", failed.Attempts)
	}
}

func TestSubmit_RetryThenSucceed(t *testing.T) {
	e := newTestExecutor(t, testConfig())

	p := testutil.NewScriptedProvider(func(prompt provider.Prompt, n int) (string, error) {
		if prompt.User == "subtopic 7" && n < 3 {
			return "", &provider.Error{Class: provider.ClassUnavailable, StatusCode: 503}
		}
		return "content", nil
	})

	result := e.Submit(context.Background(), makeItems(15), callProvider(p))

	if result.Status != StatusComplete {
		t.Errorf("Status = %v, want complete", result.Status)
	}
	if got := result.Outcomes[6].Attempts; got != 3 {
		t.Errorf("item-7 Attempts = %d, want 3", got)
	}
	if got := result.Outcomes[0].Attempts; got != 1 {
		t.Errorf("item-1 Attempts = %d, want 1", got)
	}
	if got := result.Attempts(); got != 17 {
		t.Errorf("total attempts = %d, want 17", got)
	}
}

func TestSubmit_RetryExhausted(t *testing.T) {
	e := newTestExecutor(t, testConfig())

	p := testutil.NewScriptedProvider(func(prompt provider.Prompt, n int) (string, error) {
		return "", &provider.Error{Class: provider.ClassRateLimited, StatusCode: 429}
	})

	result := e.Submit(context.Background(), makeItems(2), callProvider(p))

	for _, o := range result.Outcomes {
		if o.State != StateFailed {
			t.Errorf("%s State = %v, want failed", o.ItemID, o.State)
		}
		if o.Attempts != 3 {
			t.Errorf("%s Attempts = %d, want 3", o.ItemID, o.Attempts)
		}
		if !errors.Is(o.Err, ErrRetryExhausted) || !errors.Is(o.Err, provider.ErrProviderRateLimited) {
			t.Errorf("%s Err = %v, want exhausted rate limit", o.ItemID, o.Err)
		}
	}
}

func TestSubmit_PreservesOrder(t *testing.T) {
	e := newTestExecutor(t, testConfig())

	// Later items finish first.
	call := func(ctx context.Context, item Item) (string, error) {
		var n int
		fmt.Sscanf(item.ID, "item-%d", &n)
		time.Sleep(time.Duration(20-n) * time.Millisecond)
		return "value-" + item.ID, nil
	}

	items := makeItems(10)
	result := e.Submit(context.Background(), items, call)

	for i, o := range result.Outcomes {
		if o.ItemID != items[i].ID {
			t.Errorf("Outcomes[%d].ItemID = %s, want %s", i, o.ItemID, items[i].ID)
		}
		if o.Value != "value-"+items[i].ID {
			t.Errorf("Outcomes[%d].Value = %s", i, o.Value)
		}
	}
}

func TestSubmit_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 2
	cfg.Timeout = 50 * time.Millisecond
	e := newTestExecutor(t, cfg)

	p := testutil.NewScriptedProvider(nil)
	p.Delay = 300 * time.Millisecond

	start := time.Now()
	result := e.Submit(context.Background(), makeItems(4), callProvider(p))
	elapsed := time.Since(start)

	if elapsed > 200*time.Millisecond {
		t.Errorf("Submit returned after %v, want prompt return on timeout", elapsed)
	}
	if result.Status != StatusPartialFailure {
		t.Errorf("Status = %v, want partial_failure", result.Status)
	}
	for i, o := range result.Outcomes {
		if o.State != StateFailed || !errors.Is(o.Err, ErrTaskTimeout) {
			t.Errorf("Outcomes[%d] = %v/%v, want failed timeout", i, o.State, o.Err)
		}
	}
	if result.Outcomes[0].Attempts != 1 || result.Outcomes[3].Attempts != 0 {
		t.Errorf("Attempts = %d/%d, want in-flight 1 and queued 0",
			result.Outcomes[0].Attempts, result.Outcomes[3].Attempts)
	}
}

func TestSubmit_CallerCancelKeepsSideEffects(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 5
	e := newTestExecutor(t, cfg)

	var sideEffects atomic.Int32
	call := func(ctx context.Context, item Item) (string, error) {
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		sideEffects.Add(1)
		return "content", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := e.Submit(ctx, makeItems(15), call)

	if elapsed := time.Since(start); elapsed > 80*time.Millisecond {
		t.Errorf("Submit returned after %v, want immediate return on cancel", elapsed)
	}
	for i, o := range result.Outcomes {
		if !errors.Is(o.Err, ErrCancelled) {
			t.Errorf("Outcomes[%d].Err = %v, want ErrCancelled", i, o.Err)
		}
	}

	// In-flight calls finish on their own; nothing new starts.
	deadline := time.Now().Add(time.Second)
	for sideEffects.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	if got := sideEffects.Load(); got != 5 {
		t.Errorf("side effects = %d, want the 5 in-flight calls", got)
	}
}

func TestSubmit_PanicIsolated(t *testing.T) {
	e := newTestExecutor(t, testConfig())

	call := func(ctx context.Context, item Item) (string, error) {
		if item.ID == "item-2" {
			panic("boom")
		}
		return "ok", nil
	}

	result := e.Submit(context.Background(), makeItems(3), call)

	if result.Succeeded() != 2 {
		t.Errorf("Succeeded = %d, want 2", result.Succeeded())
	}
	o := result.Outcomes[1]
	if !errors.Is(o.Err, ErrCallPanicked) || o.Attempts != 1 {
		t.Errorf("item-2 = %v after %d attempts, want one panicked attempt", o.Err, o.Attempts)
	}
}

func TestSubmit_CustomClassifier(t *testing.T) {
	cfg := testConfig()
	e, err := New(cfg, zerolog.Nop(), WithClassifier(func(error) bool { return false }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	call := func(ctx context.Context, item Item) (string, error) {
		return "", provider.ErrProviderUnavailable
	}
	result := e.Submit(context.Background(), makeItems(1), call)

	if result.Outcomes[0].Attempts != 1 {
		t.Errorf("Attempts = %d, classifier should stop retries", result.Outcomes[0].Attempts)
	}
}
