package enums

// EventOutcome is the recorded result of applying one gateway event.
type EventOutcome string

const (
	// EventOutcomeApplied means the event changed billing state.
	EventOutcomeApplied EventOutcome = "applied"
	// EventOutcomeIgnored means the event type is intentionally not handled.
	EventOutcomeIgnored EventOutcome = "ignored"
	// EventOutcomeRejected means a state transition was refused.
	EventOutcomeRejected EventOutcome = "rejected"
	// EventOutcomeSkipped means a referenced entity was missing or already applied.
	EventOutcomeSkipped EventOutcome = "skipped"
	// EventOutcomeFailed labels sync log rows of failed provisioning attempts.
	EventOutcomeFailed EventOutcome = "failed"
	// EventOutcomeDuplicate is never stored; it labels replays of processed events.
	EventOutcomeDuplicate EventOutcome = "duplicate"
)

func (o EventOutcome) String() string {
	return string(o)
}
