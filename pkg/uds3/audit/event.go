package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one audit record: a governance denial (§4.1) or an
// alert-worthy saga CompensationFailed transition (§4.4.3). Every
// publisher in this module builds one through New.
type Event interface {
	ID() string
	Type() string
	Source() string
	CorrelationID() string
	CausationID() string
	Timestamp() time.Time
	TenantID() string
	Data() any
	DataBytes() []byte
}

// Metadata is the envelope carried by every Record, independent of its
// payload.
type Metadata struct {
	EventID       string    `json:"id"`
	EventType     string    `json:"type"`
	EventSource   string    `json:"source"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	TenantID      string    `json:"tenant_id,omitempty"`
}

// Record is the sole Event implementation. Both of this module's
// publishers (Gate.deny, Orchestrator's CompensationFailed notice) hand
// it a map[string]any of denial/failure context, never a typed struct,
// so Record carries its payload as `any` directly rather than a generic
// BaseEvent[T] whose type parameter no caller here ever needed.
type Record struct {
	Meta    Metadata
	Payload any

	cachedBytes []byte
}

func (r *Record) ID() string            { return r.Meta.EventID }
func (r *Record) Type() string          { return r.Meta.EventType }
func (r *Record) Source() string        { return r.Meta.EventSource }
func (r *Record) CorrelationID() string { return r.Meta.CorrelationID }
func (r *Record) CausationID() string   { return r.Meta.CausationID }
func (r *Record) Timestamp() time.Time  { return r.Meta.Timestamp }
func (r *Record) TenantID() string      { return r.Meta.TenantID }
func (r *Record) Data() any             { return r.Payload }

// DataBytes returns the JSON encoding of Payload, caching the result.
func (r *Record) DataBytes() []byte {
	if r.cachedBytes != nil {
		return r.cachedBytes
	}
	b, err := json.Marshal(r.Payload)
	if err != nil {
		return nil
	}
	r.cachedBytes = b
	return b
}

// wireRecord is Record's JSON shape: envelope fields alongside a raw
// "data" payload field.
type wireRecord struct {
	Metadata
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{Metadata: r.Meta, Data: r.DataBytes()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Meta = w.Metadata
	r.cachedBytes = nil
	if len(w.Data) > 0 {
		var payload any
		if err := json.Unmarshal(w.Data, &payload); err != nil {
			return err
		}
		r.Payload = payload
	}
	return nil
}

// Option configures a Record at construction.
type Option func(*recordConfig)

type recordConfig struct {
	id            string
	correlationID string
	causationID   string
	timestamp     time.Time
}

// WithEventID overrides the generated event id.
func WithEventID(id string) Option {
	return func(c *recordConfig) { c.id = id }
}

// WithCorrelationID groups this record with others in the same saga or
// governance decision trail. Defaults to the record's own id.
func WithCorrelationID(id string) Option {
	return func(c *recordConfig) { c.correlationID = id }
}

// WithCausationID names the saga event that directly caused this record
// to be published.
func WithCausationID(id string) Option {
	return func(c *recordConfig) { c.causationID = id }
}

// WithTimestamp overrides the generated timestamp.
func WithTimestamp(t time.Time) Option {
	return func(c *recordConfig) { c.timestamp = t }
}

// New builds a Record. eventType is a dotted name ("governance.denied",
// "saga.compensation_failed"); source names the publishing component.
func New(eventType, source, tenantID string, payload any, opts ...Option) *Record {
	cfg := recordConfig{
		id:        uuid.New().String(),
		timestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	return &Record{
		Meta: Metadata{
			EventID:       cfg.id,
			EventType:     eventType,
			EventSource:   source,
			CorrelationID: cfg.correlationID,
			CausationID:   cfg.causationID,
			Timestamp:     cfg.timestamp,
			TenantID:      tenantID,
		},
		Payload: payload,
	}
}

