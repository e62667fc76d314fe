// Command uds3ctl is the operational surface for the polyglot-persistence
// core: schema migration and crash-recovery sweeps. It has no knowledge of
// concrete backend drivers — those are wired by whatever process embeds
// the pkg/uds3 packages for real traffic; uds3ctl only drives the
// relational event store and the saga orchestrator against it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/audit"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/backend"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/config"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/eventstore"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/governance"
	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/saga"
)

// Exit codes per the CLI / operational surface contract.
const (
	exitOK              = 0
	exitConfigError     = 2
	exitNoRelational    = 3
	exitPartialRecovery = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitConfigError
	}

	switch args[0] {
	case "migrate":
		return runMigrate(args[1:])
	case "saga":
		return runSaga(args[1:])
	default:
		usage()
		return exitConfigError
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  uds3ctl migrate -config <path>")
	fmt.Fprintln(os.Stderr, "  uds3ctl saga resume-open -config <path> -older-than <duration>")
}

// relationalConfig is the subset of a "relational" config section every
// subcommand needs: the store is the only backend uds3ctl talks to
// directly, everything else stays the embedding process's concern.
type relationalConfig struct {
	enabled bool
	kind    string
	path    string
}

func loadRelationalConfig(cfg config.Config) relationalConfig {
	section := cfg.Section("relational")
	return relationalConfig{
		enabled: section.Bool("enabled", false),
		kind:    section.String("type", ""),
		path:    section.String("path", ""),
	}
}

func (r relationalConfig) openStore() (eventstore.Store, error) {
	if !r.enabled || r.kind != "sqlite" {
		return nil, errors.New("no usable relational backend configured")
	}
	path := r.path
	if path == "" {
		path = ":memory:"
	}
	return eventstore.NewSQLiteStore(path)
}

// runMigrate implements `migrate`: idempotent creation of the event-store
// schema. NewSQLiteStore already issues CREATE TABLE IF NOT EXISTS for
// every table it owns, so opening the store and closing it again is the
// whole of the migration.
func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the configuration document")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "migrate: -config is required")
		return exitConfigError
	}

	cfg, err := config.FromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: load config: %v\n", err)
		return exitConfigError
	}

	rel := loadRelationalConfig(cfg)
	store, err := rel.openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return exitNoRelational
	}
	defer store.Close()

	slog.Info("migrate: schema ensured", slog.String("path", rel.path))
	return exitOK
}

// runSaga dispatches the `saga` subcommand group; resume-open is the only
// member the minimum operational surface names.
func runSaga(args []string) int {
	if len(args) == 0 || args[0] != "resume-open" {
		usage()
		return exitConfigError
	}

	fs := flag.NewFlagSet("saga resume-open", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the configuration document")
	olderThan := fs.Duration("older-than", 0, "resume sagas whose last update is at least this old")
	if err := fs.Parse(args[1:]); err != nil {
		return exitConfigError
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "saga resume-open: -config is required")
		return exitConfigError
	}

	cfg, err := config.FromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "saga resume-open: load config: %v\n", err)
		return exitConfigError
	}

	rel := loadRelationalConfig(cfg)
	store, err := rel.openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "saga resume-open: %v\n", err)
		return exitNoRelational
	}
	defer store.Close()

	bus := audit.NewBus(audit.DefaultBusConfig)
	defer bus.Close()

	gate := governance.NewGate(governance.FromConfig(cfg.Section("governance")), bus)
	manager := backend.NewManager(gate, slog.Default(), 30*time.Second)
	// No concrete adapters are registered here: drivers are out of scope
	// for this module and are wired by whatever process owns real
	// traffic. A recovery pass against a backend-less Manager still
	// replays every step's event-log state and reports NoBackend errors
	// for steps it cannot actually execute, rather than silently skipping
	// them. We still report what the config document asks to autostart,
	// since that's useful operator signal even with zero adapters wired.
	for kind, inst := range backend.InstanceConfigs(cfg) {
		if inst.Enabled && inst.Autostart {
			slog.Warn("saga resume-open: backend configured autostart but no adapter is registered",
				slog.String("backend_kind", kind.String()))
		}
	}

	compensations := saga.NewCompensationRegistry()
	compensations.RegisterDefaults()

	settings := saga.SettingsFromConfig(cfg.Section("saga"))
	orchestrator := saga.NewOrchestrator(store, manager, gate, compensations,
		saga.WithLease(settings.LeaseTTL, settings.LeaseRenewInterval),
		saga.WithAuditBus(bus))

	ctx := context.Background()
	cutoff := time.Now().Add(-*olderThan)
	open, err := store.ListOpenSagas(ctx, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "saga resume-open: list open sagas: %v\n", err)
		return exitNoRelational
	}

	resumed, failed := 0, 0
	for _, rec := range open {
		result, err := orchestrator.Resume(ctx, rec.SagaID)
		if err != nil {
			failed++
			slog.Error("saga resume-open: resume failed",
				slog.String("saga_id", rec.SagaID), slog.String("error", err.Error()))
			continue
		}
		resumed++
		slog.Info("saga resume-open: resumed",
			slog.String("saga_id", rec.SagaID), slog.String("status", string(result.Status)))
	}

	slog.Info("saga resume-open: done",
		slog.Int("considered", len(open)), slog.Int("resumed", resumed), slog.Int("failed", failed))

	if failed > 0 {
		return exitPartialRecovery
	}
	return exitOK
}
