package lambdaaws

import "time"

// lInput is the invocation payload. An empty payload sweeps at the current
// time; At pins the sweep clock for backfills.
type lInput struct {
	At *time.Time `json:"at,omitempty"`
}
