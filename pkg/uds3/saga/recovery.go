package saga

import "github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/eventstore"

// stepOutcome is the per-step state §4.4.4 step 2 asks resume to derive
// from the event log.
type stepOutcome int

const (
	outcomeNotStarted stepOutcome = iota
	outcomeInFlight
	outcomeSuccess
	outcomeFail
	outcomeSkipped
)

// lastEventForStep returns the most recently appended event for a given
// step index, or false if none exists. ListEvents already orders by
// (step_index, attempt, started_at), so the last matching entry in
// iteration order is also the most recent by attempt.
func lastEventForStep(events []eventstore.EventRecord, stepIndex int) (eventstore.EventRecord, bool) {
	var last eventstore.EventRecord
	found := false
	for _, e := range events {
		if e.StepIndex != stepIndex {
			continue
		}
		last = e
		found = true
	}
	return last, found
}

func outcomeOf(events []eventstore.EventRecord, stepIndex int) stepOutcome {
	last, ok := lastEventForStep(events, stepIndex)
	if !ok {
		return outcomeNotStarted
	}
	switch last.Status {
	case eventstore.EventPending:
		if last.Attempt == 0 {
			return outcomeNotStarted
		}
		return outcomeInFlight
	case eventstore.EventSuccess:
		return outcomeSuccess
	case eventstore.EventFail:
		return outcomeFail
	case eventstore.EventSkipped:
		return outcomeSkipped
	default:
		return outcomeNotStarted
	}
}

// recoveryPlan implements §4.4.4 steps 2-5: it walks steps in order and
// reports where execution should resume. An InFlight step's outcome is
// unknown, so it is re-executed (startIndex points at it, relying on
// idempotency per the step's documented risk). A terminal Fail means
// compensation owns the rest of the pass.
func recoveryPlan(steps []StepSpec, events []eventstore.EventRecord) (startIndex int, priorFailure bool) {
	for i := range steps {
		switch outcomeOf(events, i) {
		case outcomeSuccess, outcomeSkipped:
			continue
		case outcomeInFlight, outcomeNotStarted:
			return i, false
		case outcomeFail:
			return i, true
		}
	}
	return len(steps), false
}

// successfulPrefix returns, in original order, every StepSpec whose
// latest event marks it Success or Skipped — the S_success input to the
// compensation protocol (§4.4.3).
func successfulPrefix(steps []StepSpec, events []eventstore.EventRecord) []StepSpec {
	var executed []StepSpec
	for i, step := range steps {
		switch outcomeOf(events, i) {
		case outcomeSuccess, outcomeSkipped:
			executed = append(executed, step)
		}
	}
	return executed
}
