// Package events implements the task runner's trigger sources: a debounced
// filesystem watcher, a command-output poller, a tool-backed remote API
// poller, and an HMAC-verified webhook receiver.
package events

// Payload is what a source hands the runner when it fires.
type Payload struct {
	Source  string `json:"source"`
	Summary string `json:"summary"`
	Data    string `json:"data,omitempty"`
}

// TriggerFunc receives payloads from a running source. It may be called from
// the source's own goroutine.
type TriggerFunc func(Payload)

// Source is one trigger source. Start and Stop are idempotent; after Stop
// returns no further callbacks are delivered.
type Source interface {
	Start(onTrigger TriggerFunc) error
	Stop() error
}
