package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrQuotaExceeded is the error form of a denial, used at the HTTP edge.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrCostTooLarge is the error form of a denial no window reset can
	// lift: the cost alone is above a ceiling.
	ErrCostTooLarge = errors.New("request cost exceeds quota ceiling")
)

// Unlimited is reported in Remaining for ceilings that are not enforced.
const Unlimited int64 = -1

// Identity is a resolved caller. An empty or unknown Tier means anonymous.
type Identity struct {
	ID   string
	Tier string
}

// Cost is what a request consumes when admitted.
type Cost struct {
	Requests int64
	Tokens   int64
}

// Remaining is the quota left in the current windows. Unlimited ceilings
// are reported as -1.
type Remaining struct {
	RequestsPerMinute int64 `json:"requests_per_minute"`
	RequestsPerDay    int64 `json:"requests_per_day"`
	TokensPerMinute   int64 `json:"tokens_per_minute"`
	TokensPerDay      int64 `json:"tokens_per_day"`
}

func (r *Remaining) set(k limitKind, v int64) {
	switch k {
	case requestsPerMinute:
		r.RequestsPerMinute = v
	case requestsPerDay:
		r.RequestsPerDay = v
	case tokensPerMinute:
		r.TokensPerMinute = v
	case tokensPerDay:
		r.TokensPerDay = v
	}
}

// Decision is the outcome of CheckAndConsume.
type Decision struct {
	Allowed bool
	Tier    string

	// RetryAfter is the time until the soonest exceeded window resets.
	// Set only on denial; always > 0 then, unless TooLarge.
	RetryAfter time.Duration

	// TooLarge reports a denial whose cost exceeds a ceiling on its own.
	// Retrying the same request can never succeed.
	TooLarge bool

	// Reason names the exceeded ceiling, e.g. "requests_per_minute" or
	// "global_tokens_per_minute". Empty when allowed.
	Reason string

	Remaining Remaining
}

// Err converts a denial into an error wrapping ErrQuotaExceeded.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.TooLarge {
		return fmt.Errorf("%w: %s", ErrCostTooLarge, d.Reason)
	}
	return fmt.Errorf("%w: %s (retry after %s)", ErrQuotaExceeded, d.Reason, d.RetryAfter.Round(time.Second))
}

// Config holds the admission configuration.
type Config struct {
	// Tiers by name; replaces the built-in tiers when set
	Tiers map[string]Tier `yaml:"tiers"`

	// AnonymousTier applies to identities with no or an unknown tier
	AnonymousTier string `yaml:"anonymous_tier"`

	// Global is the ceiling shared by all identities
	Global Global `yaml:"global"`

	// Shards is the number of quota table lock domains
	Shards int `yaml:"shards"`

	// MaxIdentitiesPerShard bounds memory; 0 is unbounded
	MaxIdentitiesPerShard int `yaml:"max_identities_per_shard"`
}

// DefaultConfig returns the default admission configuration.
func DefaultConfig() Config {
	return Config{
		Tiers:         DefaultTiers(),
		AnonymousTier: TierLimited,
		Global: Global{
			RequestsPerMinute: 1_000,
			TokensPerMinute:   5_000_000,
		},
		Shards:                32,
		MaxIdentitiesPerShard: 4096,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}
	if _, ok := c.Tiers[c.AnonymousTier]; !ok {
		return fmt.Errorf("anonymous tier %q is not defined", c.AnonymousTier)
	}
	for name, t := range c.Tiers {
		if t.RequestsPerMinute < 0 || t.RequestsPerDay < 0 || t.TokensPerMinute < 0 || t.TokensPerDay < 0 {
			return fmt.Errorf("tier %q: ceilings must not be negative", name)
		}
	}
	if c.Global.RequestsPerMinute < 0 || c.Global.TokensPerMinute < 0 {
		return fmt.Errorf("global ceilings must not be negative")
	}
	if c.Shards <= 0 {
		return fmt.Errorf("shards must be positive (got %d)", c.Shards)
	}
	if c.MaxIdentitiesPerShard < 0 {
		return fmt.Errorf("max_identities_per_shard must not be negative")
	}
	return nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller is the admission controller. It is safe for concurrent use;
// identities in different shards never contend, and the global ceiling is
// lock-free.
type Controller struct {
	tiers        map[string]Tier
	anonymous    Tier
	table        *quotaTable
	globalReqs   *globalCounter
	globalTokens *globalCounter
	now          func() time.Time
	logger       zerolog.Logger
}

// New creates an admission controller.
func New(cfg Config, logger zerolog.Logger, opts ...Option) (*Controller, error) {
	if cfg.Tiers == nil {
		cfg.Tiers = DefaultTiers()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid admission config: %w", err)
	}

	tiers := make(map[string]Tier, len(cfg.Tiers))
	for name, t := range cfg.Tiers {
		t.Name = name
		tiers[name] = t
	}

	c := &Controller{
		tiers:     tiers,
		anonymous: tiers[cfg.AnonymousTier],
		table:     newQuotaTable(cfg.Shards, cfg.MaxIdentitiesPerShard),
		globalReqs: &globalCounter{
			limit:  cfg.Global.RequestsPerMinute,
			period: secondsPerMinute,
		},
		globalTokens: &globalCounter{
			limit:  cfg.Global.TokensPerMinute,
			period: secondsPerMinute,
		},
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Tier returns the tier that applies to name, falling back to the
// anonymous tier.
func (c *Controller) Tier(name string) Tier {
	if t, ok := c.tiers[name]; ok {
		return t
	}
	return c.anonymous
}

// Tiers returns a copy of the configured tiers.
func (c *Controller) Tiers() map[string]Tier {
	out := make(map[string]Tier, len(c.tiers))
	for k, v := range c.tiers {
		out[k] = v
	}
	return out
}

// CheckAndConsume admits the request if cost fits under every ceiling of
// the identity's tier and under the global ceiling, and consumes it. On
// denial nothing is consumed.
func (c *Controller) CheckAndConsume(ctx context.Context, id Identity, cost Cost) Decision {
	now := c.now()
	tier := c.Tier(id.Tier)
	if cost.Requests < 0 {
		cost.Requests = 0
	}
	if cost.Tokens < 0 {
		cost.Tokens = 0
	}

	if limit, ok := c.oversized(tier, cost); ok {
		AdmissionDecisions.WithLabelValues(tier.Name, "denied").Inc()
		AdmissionDenials.WithLabelValues(limit).Inc()
		c.logger.Debug().
			Str("identity", id.ID).
			Str("tier", tier.Name).
			Str("limit", limit).
			Int64("tokens", cost.Tokens).
			Msg("Request cost exceeds a ceiling")
		return Decision{
			Allowed:   false,
			TooLarge:  true,
			Tier:      tier.Name,
			Reason:    limit,
			Remaining: c.Remaining(id),
		}
	}

	s := c.table.shard(id.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	state, evicted := s.lookup(id.ID, now, c.table.maxPerShard)
	if evicted > 0 {
		AdmissionEvictions.Add(float64(evicted))
	}
	state.lastSeen = now

	var exceeded []string
	var reason string
	var retryAfter time.Duration
	deny := func(limit string, period int64) {
		exceeded = append(exceeded, limit)
		if d := untilReset(now, period); retryAfter == 0 || d < retryAfter {
			retryAfter, reason = d, limit
		}
	}

	for k := limitKind(0); k < numLimits; k++ {
		ceiling := tier.ceiling(k)
		if ceiling <= 0 {
			continue
		}
		used := state.counters[k].current(windowIndex(now, k.period()))
		if used+k.amount(cost) > ceiling {
			deny(k.String(), k.period())
		}
	}

	if len(exceeded) == 0 {
		if !c.globalReqs.tryAdd(now, cost.Requests) {
			deny("global_requests_per_minute", secondsPerMinute)
		} else if !c.globalTokens.tryAdd(now, cost.Tokens) {
			c.globalReqs.undo(now, cost.Requests)
			deny("global_tokens_per_minute", secondsPerMinute)
		}
	}

	if len(exceeded) > 0 {
		d := Decision{
			Allowed:    false,
			Tier:       tier.Name,
			RetryAfter: retryAfter,
			Reason:     reason,
			Remaining:  c.remaining(tier, state, now),
		}
		AdmissionDecisions.WithLabelValues(tier.Name, "denied").Inc()
		AdmissionDenials.WithLabelValues(d.Reason).Inc()
		c.logger.Debug().
			Str("identity", id.ID).
			Str("tier", tier.Name).
			Strs("exceeded", exceeded).
			Dur("retry_after", retryAfter).
			Msg("Request denied")
		return d
	}

	for k := limitKind(0); k < numLimits; k++ {
		state.counters[k].add(windowIndex(now, k.period()), k.amount(cost))
	}

	AdmissionDecisions.WithLabelValues(tier.Name, "allowed").Inc()
	return Decision{
		Allowed:   true,
		Tier:      tier.Name,
		Remaining: c.remaining(tier, state, now),
	}
}

// oversized returns the first ceiling that cost exceeds even with an empty
// window.
func (c *Controller) oversized(tier Tier, cost Cost) (string, bool) {
	for k := limitKind(0); k < numLimits; k++ {
		if ceiling := tier.ceiling(k); ceiling > 0 && k.amount(cost) > ceiling {
			return k.String(), true
		}
	}
	if c.globalReqs.limit > 0 && cost.Requests > c.globalReqs.limit {
		return "global_requests_per_minute", true
	}
	if c.globalTokens.limit > 0 && cost.Tokens > c.globalTokens.limit {
		return "global_tokens_per_minute", true
	}
	return "", false
}

// Remaining returns the quota left for id without consuming anything.
func (c *Controller) Remaining(id Identity) Remaining {
	now := c.now()
	tier := c.Tier(id.Tier)
	state, _ := c.table.peek(id.ID)
	return c.remaining(tier, &state, now)
}

func (c *Controller) remaining(tier Tier, state *quotaState, now time.Time) Remaining {
	var r Remaining
	for k := limitKind(0); k < numLimits; k++ {
		ceiling := tier.ceiling(k)
		if ceiling <= 0 {
			r.set(k, Unlimited)
			continue
		}
		left := ceiling - state.counters[k].current(windowIndex(now, k.period()))
		if left < 0 {
			left = 0
		}
		r.set(k, left)
	}
	return r
}

// GlobalUsage returns the requests and tokens consumed in the current
// global minute window.
func (c *Controller) GlobalUsage() (requests, tokens int64) {
	now := c.now()
	return c.globalReqs.used(now), c.globalTokens.used(now)
}

// Identities returns the number of identities currently tracked.
func (c *Controller) Identities() int {
	return c.table.len()
}
