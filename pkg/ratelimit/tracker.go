package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for upstream budget tracking.
var (
	upstreamRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "learnforge_upstream_requests_remaining",
		Help: "Requests remaining in the provider's current rate limit window",
	})

	upstreamBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnforge_upstream_blocks_total",
		Help: "Provider calls blocked because the upstream budget is critical",
	})

	upstreamThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "learnforge_upstream_throttles_total",
		Help: "Provider calls delayed because the upstream budget is low",
	})
)

// Redis hash fields.
const (
	fieldRemaining  = "remaining"
	fieldResetAt    = "reset_at"
	fieldLastUpdate = "last_update"
)

// Tracker records the provider's advertised budget and gates calls on it.
type Tracker struct {
	cfg    Config
	redis  redis.UniversalClient
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	local *State
}

// NewTracker creates a tracker. redisClient may be nil, in which case the
// state is kept in process only.
func NewTracker(cfg Config, redisClient redis.UniversalClient, logger zerolog.Logger) *Tracker {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if cfg.MaxStaleness <= 0 {
		cfg.MaxStaleness = DefaultConfig().MaxStaleness
	}
	return &Tracker{
		cfg:    cfg,
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
	}
}

func (t *Tracker) stateKey() string {
	return t.cfg.KeyPrefix + ":state"
}

// GetState returns the most recent recorded state, or nil if none is known
// or the known one is stale. A Redis failure is returned together with the
// process-local state.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	now := t.now()
	if t.redis == nil {
		return t.fresh(t.localState(), now), nil
	}

	values, err := t.redis.HGetAll(ctx, t.stateKey()).Result()
	if err != nil {
		return t.fresh(t.localState(), now), fmt.Errorf("get upstream state: %w", err)
	}
	if len(values) == 0 {
		return t.fresh(t.localState(), now), nil
	}

	state, err := decodeState(values)
	if err != nil {
		return t.fresh(t.localState(), now), err
	}
	return t.fresh(state, now), nil
}

func (t *Tracker) fresh(s *State, now time.Time) *State {
	if s == nil || s.IsStale(now, t.cfg.MaxStaleness) {
		return nil
	}
	return s
}

func (t *Tracker) localState() *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.local == nil {
		return nil
	}
	s := *t.local
	return &s
}

// UpdateFromHeaders records the budget carried by a provider response.
// Responses without budget headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := firstHeader(headers, HeaderRemainingRequests, HeaderRemaining)
	if remainStr == "" {
		return nil
	}
	remain, err := strconv.Atoi(remainStr)
	if err != nil || remain < 0 {
		return fmt.Errorf("parse remaining header %q: invalid count", remainStr)
	}

	resetStr := firstHeader(headers, HeaderResetRequests, HeaderReset)
	if resetStr == "" {
		return errors.New("rate limit reset header missing")
	}
	reset, err := parseReset(resetStr)
	if err != nil {
		return err
	}

	now := t.now()
	state := &State{
		Remaining:  remain,
		ResetAt:    now.Add(reset),
		LastUpdate: now,
	}

	t.mu.Lock()
	t.local = state
	t.mu.Unlock()

	upstreamRemaining.Set(float64(remain))

	level := t.cfg.Level(state)
	evt := t.logger.Debug()
	switch level {
	case LevelCritical:
		evt = t.logger.Error()
	case LevelWarning:
		evt = t.logger.Warn()
	}
	evt.Int("remaining", remain).
		Time("reset_at", state.ResetAt).
		Str("level", level.String()).
		Msg("Upstream rate limit state updated")

	if t.redis == nil {
		return nil
	}

	pipe := t.redis.Pipeline()
	pipe.HSet(ctx, t.stateKey(),
		fieldRemaining, remain,
		fieldResetAt, state.ResetAt.UnixMilli(),
		fieldLastUpdate, now.UnixMilli(),
	)
	pipe.PExpire(ctx, t.stateKey(), reset+t.cfg.MaxStaleness)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store upstream state in redis: %w", err)
	}
	return nil
}

// ShouldAllowRequest reports whether a provider call may proceed. A
// critical budget blocks the call and returns the time until the window
// resets. A low budget delays the call by the throttle delay. Unknown or
// stale state allows the call.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, time.Duration, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Upstream state unavailable, using local copy")
	}
	if state == nil {
		return true, 0, nil
	}

	switch t.cfg.Level(state) {
	case LevelCritical:
		wait := state.TimeUntilReset(t.now())
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", wait).
			Msg("Upstream budget critical, blocking provider call")
		upstreamBlocksTotal.Inc()
		return false, wait, nil

	case LevelWarning:
		if t.cfg.ThrottleDelay <= 0 {
			return true, 0, nil
		}
		upstreamThrottlesTotal.Inc()
		timer := time.NewTimer(t.cfg.ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, 0, ctx.Err()
		case <-timer.C:
		}
	}
	return true, 0, nil
}

func decodeState(values map[string]string) (*State, error) {
	remaining, err := strconv.Atoi(values[fieldRemaining])
	if err != nil {
		return nil, fmt.Errorf("decode upstream state: remaining: %w", err)
	}
	resetAt, err := strconv.ParseInt(values[fieldResetAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode upstream state: reset_at: %w", err)
	}
	lastUpdate, err := strconv.ParseInt(values[fieldLastUpdate], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode upstream state: last_update: %w", err)
	}
	return &State{
		Remaining:  remaining,
		ResetAt:    time.UnixMilli(resetAt),
		LastUpdate: time.UnixMilli(lastUpdate),
	}, nil
}

func firstHeader(h http.Header, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// parseReset accepts whole seconds ("30") or a Go duration ("1m30s", "250ms").
func parseReset(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("parse reset header %q: negative", v)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("parse reset header %q: invalid duration", v)
	}
	return d, nil
}
