// Package saga handles what happens after a consumer exhausts its retry
// budget: classify the failed event and either emit a compensating event
// through the local outbox or record a permanent inconsistency.
package saga

// Outcome is the terminal result of processing one inbound message. Every
// branch of the retry/compensation state machine maps to exactly one value;
// nothing is signalled by panics or sentinel error chains.
type Outcome int

const (
	// OutcomeApplied: the side effect and ledger row committed.
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate: the dedup ledger already had this event id.
	OutcomeDuplicate
	// OutcomeSkipped: malformed or unknown event, logged and dropped.
	OutcomeSkipped
	// OutcomeExhausted: retries spent and no compensation rule applies;
	// the inconsistency is permanent until reconciliation or an operator.
	OutcomeExhausted
	// OutcomeCompensationEmitted: retries spent, a compensating event was
	// written to the local outbox exactly once.
	OutcomeCompensationEmitted
	// OutcomeCompensationFailed: even writing the compensating event
	// failed. Contained: logged with full context, never crashes the worker.
	OutcomeCompensationFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCompensationEmitted:
		return "compensation_emitted"
	case OutcomeCompensationFailed:
		return "compensation_failed"
	default:
		return "unknown"
	}
}
