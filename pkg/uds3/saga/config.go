package saga

import (
	"time"

	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/config"
)

// Settings holds the Orchestrator-level knobs from the "saga" section of
// the Configuration Contract:
//
//	"saga": { "event_store_kind": "relational", "lease_ttl_ms": 30000,
//	          "lease_renew_interval_ms": 10000 }
//
// event_store_kind is read by the process wiring that picks an
// eventstore.Store implementation; the Orchestrator itself only needs
// the lease timings.
type Settings struct {
	EventStoreKind     string
	LeaseTTL           time.Duration
	LeaseRenewInterval time.Duration
}

// SettingsFromConfig parses the "saga" config section, filling in the
// package defaults for any field the document omits.
func SettingsFromConfig(cfg config.Config) Settings {
	leaseTTLMs := cfg.Int("lease_ttl_ms", int(defaultLeaseTTL/time.Millisecond))
	renewMs := cfg.Int("lease_renew_interval_ms", int(defaultLeaseRenewInterval/time.Millisecond))
	return Settings{
		EventStoreKind:     cfg.String("event_store_kind", "relational"),
		LeaseTTL:           time.Duration(leaseTTLMs) * time.Millisecond,
		LeaseRenewInterval: time.Duration(renewMs) * time.Millisecond,
	}
}
