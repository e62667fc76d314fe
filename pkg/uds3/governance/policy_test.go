package governance_test

import (
	"context"
	"testing"

	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/config"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/governance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_StrictMode(t *testing.T) {
	policy := governance.NewPolicy(governance.ModeStrict).
		Allow("vector", "add_documents")
	gate := governance.NewGate(policy, nil)
	ctx := context.Background()

	t.Run("allowed pair passes", func(t *testing.T) {
		assert.NoError(t, gate.EnsureAllowed(ctx, "vector", "add_documents"))
	})

	t.Run("unknown pair denied", func(t *testing.T) {
		err := gate.EnsureAllowed(ctx, "vector", "delete")
		require.Error(t, err)
		var denied *governance.Denied
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, governance.ReasonUnknownPolicy, denied.Reason)
	})

	t.Run("explicit deny reports ExplicitDeny reason", func(t *testing.T) {
		policy.Deny("graph", "delete_node")
		err := gate.EnsureAllowed(ctx, "graph", "delete_node")
		require.Error(t, err)
		var denied *governance.Denied
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, governance.ReasonExplicitDeny, denied.Reason)
	})
}

func TestGate_LenientMode(t *testing.T) {
	policy := governance.NewPolicy(governance.ModeLenient).
		Deny("vector", "delete")
	gate := governance.NewGate(policy, nil)
	ctx := context.Background()

	t.Run("unknown pair allowed by default", func(t *testing.T) {
		assert.NoError(t, gate.EnsureAllowed(ctx, "vector", "add_documents"))
	})

	t.Run("explicit deny still denies", func(t *testing.T) {
		err := gate.EnsureAllowed(ctx, "vector", "delete")
		require.Error(t, err)
	})
}

func TestGate_ValidatePayload(t *testing.T) {
	policy := governance.NewPolicy(governance.ModeStrict).
		Allow("vector", "add_documents",
			governance.WithFields("id", "text"),
			governance.WithMaxPayloadBytes(100))
	gate := governance.NewGate(policy, nil)
	ctx := context.Background()

	t.Run("allowed fields pass", func(t *testing.T) {
		err := gate.ValidatePayload(ctx, "vector", "add_documents",
			map[string]any{"id": "d1", "text": "hello"}, 20)
		assert.NoError(t, err)
	})

	t.Run("unknown field denied", func(t *testing.T) {
		err := gate.ValidatePayload(ctx, "vector", "add_documents",
			map[string]any{"id": "d1", "secret": "x"}, 20)
		require.Error(t, err)
		var denied *governance.Denied
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, governance.ReasonFieldNotAllowed, denied.Reason)
	})

	t.Run("oversized payload denied", func(t *testing.T) {
		err := gate.ValidatePayload(ctx, "vector", "add_documents",
			map[string]any{"id": "d1"}, 1000)
		require.Error(t, err)
		var denied *governance.Denied
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, governance.ReasonPayloadTooLarge, denied.Reason)
	})

	t.Run("no rule means no validation", func(t *testing.T) {
		err := gate.ValidatePayload(ctx, "graph", "create_node",
			map[string]any{"anything": true}, 999999)
		assert.NoError(t, err)
	})
}

func TestFromConfig(t *testing.T) {
	cfg := config.New(map[string]any{
		"mode": "lenient",
		"policies": map[string]any{
			"vector.delete": map[string]any{
				"allow": false,
			},
			"relational.insert": map[string]any{
				"allow":             true,
				"fields":            []any{"table", "id"},
				"max_payload_bytes": float64(4096),
			},
		},
	})

	policy := governance.FromConfig(cfg)
	assert.Equal(t, governance.ModeLenient, policy.Mode)

	rule, ok := policy.Rules["relational.insert"]
	require.True(t, ok)
	assert.True(t, rule.Allow)
	assert.Equal(t, []string{"table", "id"}, rule.Fields)
	assert.Equal(t, 4096, rule.MaxPayloadBytes)
}

func TestFromConfig_DefaultsToStrict(t *testing.T) {
	cfg := config.New(nil)
	policy := governance.FromConfig(cfg)
	assert.Equal(t, governance.ModeStrict, policy.Mode)
	assert.Empty(t, policy.Rules)
}
