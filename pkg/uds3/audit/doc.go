// Package audit carries the two side-table records spec.md leaves
// opaque: governance denials (§4.1) and alert-worthy saga
// CompensationFailed transitions (§4.4.3).
//
// # Overview
//
// Neither the Gate nor the Orchestrator write these records to a
// database themselves — a concrete sink (a metrics exporter, an audit
// log table) is an external collaborator per §1. audit only guarantees
// every denial and every CompensationFailed transition is appended to
// the Bus exactly once.
//
// Records carry correlation/causation ids so a CompensationFailed
// record can be traced back to the saga event that triggered it, and a
// governance denial can be traced to the step that raised it:
//
//	evt := audit.New("saga.compensation_failed", "saga", "",
//		map[string]any{"saga_id": sagaID},
//		audit.WithCorrelationID(sagaID),
//		audit.WithCausationID(lastEventID))
//	bus.Publish(ctx, evt)
//
// # Bus
//
// LocalBus is a bounded in-memory sink, not a pub/sub fan-out: nothing
// in this module subscribes to its own audit trail, so Bus only needs
// Publish/Close plus a way to inspect what was recently recorded:
//
//	bus := audit.NewBus(audit.BusConfig{Capacity: 256})
//	defer bus.Close()
//	bus.Publish(ctx, evt)
//	bus.Recent(10) // most recent records, for an operator or a test
package audit
