package fanout

import "time"

// State is the lifecycle state of one item.
type State int

const (
	StatePending State = iota
	StateInFlight
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Item is one unit of work of a Submit call.
type Item struct {
	ID      string
	Payload string
}

// Outcome is the final result of one item.
type Outcome struct {
	ItemID   string        `json:"item_id"`
	Value    string        `json:"value,omitempty"`
	Err      error         `json:"-"`
	Attempts int           `json:"attempts"`
	State    State         `json:"state"`
	Duration time.Duration `json:"-"`
}

// Status summarises a Submit call.
type Status string

const (
	// StatusComplete means every item succeeded.
	StatusComplete Status = "complete"

	// StatusPartialFailure means at least one item failed.
	StatusPartialFailure Status = "partial_failure"
)

// AggregateResult holds the outcomes of a Submit call in input order.
type AggregateResult struct {
	RunID    string
	Outcomes []Outcome
	Status   Status
	Duration time.Duration
}

// Succeeded returns the number of succeeded items.
func (r AggregateResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == StateSucceeded {
			n++
		}
	}
	return n
}

// Failed returns the number of failed items.
func (r AggregateResult) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// Attempts returns the total number of provider calls made for the run.
func (r AggregateResult) Attempts() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.Attempts
	}
	return n
}
