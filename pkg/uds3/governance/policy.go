// Package governance implements the policy gate that authorizes every
// backend operation before it is dispatched. It has no knowledge of any
// particular backend driver: callers identify an operation by a plain
// (kind, operation) string pair so this package never imports backend
// and stays a leaf the rest of the module builds on (its only in-module
// imports are audit and config).
package governance

import (
	"context"
	"fmt"

	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/audit"
)

// Mode controls the default decision for (kind, operation) pairs that
// have no explicit rule.
type Mode string

const (
	// ModeStrict denies unless a rule explicitly allows the pair.
	ModeStrict Mode = "strict"
	// ModeLenient allows unless a rule explicitly denies the pair.
	ModeLenient Mode = "lenient"
)

// Rule is one entry of a GovernancePolicy: the allow/deny decision and
// payload constraints for a single (backend_kind, operation) pair.
type Rule struct {
	Allow           bool
	Fields          []string // nil means no field whitelist
	MaxPayloadBytes int      // 0 means no ceiling
}

// ruleKey identifies a rule by backend kind and operation, matching
// spec's "<kind>.<op>" configuration key shape.
type ruleKey struct {
	Kind      string
	Operation string
}

func (k ruleKey) String() string {
	return k.Kind + "." + k.Operation
}

// Policy is the GovernancePolicy data type: a mode plus a rule map.
type Policy struct {
	Mode  Mode
	Rules map[string]Rule // keyed by "<kind>.<operation>"
}

// NewPolicy creates a Policy in the given mode with no rules.
func NewPolicy(mode Mode) *Policy {
	return &Policy{Mode: mode, Rules: make(map[string]Rule)}
}

// Allow registers an explicit allow rule for (kind, operation).
func (p *Policy) Allow(kind, operation string, opts ...RuleOption) *Policy {
	r := Rule{Allow: true}
	for _, opt := range opts {
		opt(&r)
	}
	p.Rules[ruleKey{kind, operation}.String()] = r
	return p
}

// Deny registers an explicit deny rule for (kind, operation).
func (p *Policy) Deny(kind, operation string) *Policy {
	p.Rules[ruleKey{kind, operation}.String()] = Rule{Allow: false}
	return p
}

// RuleOption configures a Rule passed to Policy.Allow.
type RuleOption func(*Rule)

// WithFields sets the payload field whitelist for a rule.
func WithFields(fields ...string) RuleOption {
	return func(r *Rule) { r.Fields = fields }
}

// WithMaxPayloadBytes sets a payload size ceiling for a rule.
func WithMaxPayloadBytes(n int) RuleOption {
	return func(r *Rule) { r.MaxPayloadBytes = n }
}

// Denied is returned by Gate methods when a policy check fails.
type Denied struct {
	Kind      string
	Operation string
	Reason    string
}

func (d *Denied) Error() string {
	return fmt.Sprintf("governance: %s.%s denied: %s", d.Kind, d.Operation, d.Reason)
}

// Deny reasons.
const (
	ReasonUnknownPolicy   = "UnknownPolicy"
	ReasonExplicitDeny    = "ExplicitDeny"
	ReasonFieldNotAllowed = "FieldNotAllowed"
	ReasonPayloadTooLarge = "PayloadTooLarge"
)

// Gate evaluates a Policy against incoming operations, publishing an
// audit.Event for every denial.
type Gate struct {
	policy *Policy
	bus    audit.Bus
}

// NewGate creates a Gate for the given policy. bus may be nil, in which
// case denials are evaluated but not published anywhere.
func NewGate(policy *Policy, bus audit.Bus) *Gate {
	return &Gate{policy: policy, bus: bus}
}

// denialContext carries caller-supplied saga/step context for audit
// events; all fields are optional.
type denialContext struct {
	SagaID string
	StepID string
}

// ContextOption attaches saga/step context to a governance check.
type ContextOption func(*denialContext)

// WithSagaContext attaches the calling saga/step IDs to a governance
// check so denial audit events can be correlated.
func WithSagaContext(sagaID, stepID string) ContextOption {
	return func(c *denialContext) {
		c.SagaID = sagaID
		c.StepID = stepID
	}
}

// EnsureAllowed checks whether (kind, operation) may be dispatched at
// all, independent of payload shape.
func (g *Gate) EnsureAllowed(ctx context.Context, kind, operation string, opts ...ContextOption) error {
	rule, ok := g.policy.Rules[(ruleKey{kind, operation}).String()]

	switch {
	case !ok && g.policy.Mode == ModeStrict:
		return g.deny(ctx, kind, operation, ReasonUnknownPolicy, opts)
	case !ok && g.policy.Mode == ModeLenient:
		return nil
	case ok && !rule.Allow:
		return g.deny(ctx, kind, operation, ReasonExplicitDeny, opts)
	default:
		return nil
	}
}

// ValidatePayload enforces the declared field whitelist and optional
// size ceiling for (kind, operation). It must be called after
// EnsureAllowed has already passed.
func (g *Gate) ValidatePayload(ctx context.Context, kind, operation string, payload map[string]any, payloadSize int, opts ...ContextOption) error {
	rule, ok := g.policy.Rules[(ruleKey{kind, operation}).String()]
	if !ok {
		// No rule to validate against; EnsureAllowed already decided
		// admission under the configured default mode.
		return nil
	}

	if rule.MaxPayloadBytes > 0 && payloadSize > rule.MaxPayloadBytes {
		return g.deny(ctx, kind, operation, ReasonPayloadTooLarge, opts)
	}

	if len(rule.Fields) > 0 {
		allowed := make(map[string]bool, len(rule.Fields))
		for _, f := range rule.Fields {
			allowed[f] = true
		}
		for field := range payload {
			if !allowed[field] {
				return g.deny(ctx, kind, operation, ReasonFieldNotAllowed, opts)
			}
		}
	}

	return nil
}

func (g *Gate) deny(ctx context.Context, kind, operation, reason string, opts []ContextOption) error {
	dctx := denialContext{}
	for _, opt := range opts {
		opt(&dctx)
	}

	if g.bus != nil {
		var evtOpts []audit.Option
		if dctx.SagaID != "" {
			// Correlate this denial with the saga's own audit trail
			// (e.g. a later CompensationFailed record for the same run).
			evtOpts = append(evtOpts, audit.WithCorrelationID(dctx.SagaID))
		}
		evt := audit.New("governance.denied", "governance", "", map[string]any{
			"kind":      kind,
			"operation": operation,
			"reason":    reason,
			"saga_id":   dctx.SagaID,
			"step_id":   dctx.StepID,
		}, evtOpts...)
		_ = g.bus.Publish(ctx, evt)
	}

	return &Denied{Kind: kind, Operation: operation, Reason: reason}
}
