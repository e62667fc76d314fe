package batch

import (
	"encoding/json"
	"time"
)

// Item is one unit submitted to a Processor. Payload must already be
// JSON-serializable; it is carried verbatim into the batch a FlushFunc
// receives.
type Item struct {
	ID      string
	Payload map[string]any

	submittedAt time.Time
}

// SubmitResult is the outcome of a non-blocking Submit call.
type SubmitResult struct {
	Accepted bool
	// Reason is set when Accepted is false, e.g. a QueueFull error from
	// pkg/uds3/errors.
	Reason error
}

// FlushResult summarizes one completed drain, whether triggered by the
// background worker or forced via Flush/Shutdown.
type FlushResult struct {
	ItemsFlushed int
	Err          error
}

// Counters is a snapshot of the Observability counters §4.3 names.
type Counters struct {
	ItemsSubmitted int64
	ItemsCommitted int64
	ItemsFailed    int64
	ItemsRecovered int64
	QueueSize      int
	CurrentBatchSize int
}

func unmarshalPayload(raw json.RawMessage) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
