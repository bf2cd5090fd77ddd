// Package admission decides whether a request may proceed under the
// per-identity tier quotas and the process-wide global ceiling.
//
// Every identity has four fixed-window counters (requests and tokens, per
// minute and per day). A request is admitted only if its cost fits under
// every ceiling of its tier and under the global ceiling; the counters are
// then advanced together. A denial is a Decision value carrying the time
// until the soonest exceeded window resets, never an error.
package admission

// Built-in tier names.
const (
	TierLimited = "limited"
	TierFree    = "free"
	TierPremium = "premium"
)

// Tier holds the four ceilings of a quota tier. A zero ceiling is unlimited.
type Tier struct {
	Name              string `yaml:"-" json:"name"`
	RequestsPerMinute int64  `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerDay    int64  `yaml:"requests_per_day" json:"requests_per_day"`
	TokensPerMinute   int64  `yaml:"tokens_per_minute" json:"tokens_per_minute"`
	TokensPerDay      int64  `yaml:"tokens_per_day" json:"tokens_per_day"`
}

// DefaultTiers returns the built-in tiers.
func DefaultTiers() map[string]Tier {
	return map[string]Tier{
		TierLimited: {
			Name:              TierLimited,
			RequestsPerMinute: 5,
			RequestsPerDay:    100,
			TokensPerMinute:   2_000,
			TokensPerDay:      20_000,
		},
		TierFree: {
			Name:              TierFree,
			RequestsPerMinute: 10,
			RequestsPerDay:    500,
			TokensPerMinute:   20_000,
			TokensPerDay:      200_000,
		},
		TierPremium: {
			Name:              TierPremium,
			RequestsPerMinute: 60,
			RequestsPerDay:    5_000,
			TokensPerMinute:   200_000,
			TokensPerDay:      2_000_000,
		},
	}
}

func (t Tier) ceiling(k limitKind) int64 {
	switch k {
	case requestsPerMinute:
		return t.RequestsPerMinute
	case requestsPerDay:
		return t.RequestsPerDay
	case tokensPerMinute:
		return t.TokensPerMinute
	case tokensPerDay:
		return t.TokensPerDay
	default:
		return 0
	}
}

// Global is the ceiling shared by all identities. Zero is unlimited.
type Global struct {
	RequestsPerMinute int64 `yaml:"requests_per_minute" json:"requests_per_minute"`
	TokensPerMinute   int64 `yaml:"tokens_per_minute" json:"tokens_per_minute"`
}
