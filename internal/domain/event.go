package domain

import "time"

// Severity grades a notification event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a fire-and-forget notification for operators. Delivery failures
// never propagate back into the engine.
type Event struct {
	Severity Severity
	Kind     string // "stake", "unstake", "compound", "harvest", "failure", "alert"
	Message  string
	Payload  map[string]any
	At       time.Time
}
