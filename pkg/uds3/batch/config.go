package batch

import (
	"time"

	"github.com/makr-code/VCC-UDS3-sub004/pkg/uds3/config"
)

// Settings holds the "batcher" section of the Configuration Contract:
//
//	"batcher": {
//	  "b_min": 16, "b_max": 512, "growth": 0.08, "shrink": 0.2,
//	  "latency_target_ms": 200, "max_linger_ms": 500,
//	  "high_watermark": 2000, "control_tick_ms": 1000,
//	  "recovery_interval_ms": 30000
//	}
type Settings struct {
	BMin            int
	BMax            int
	Growth          float64
	Shrink          float64
	LatencyTargetMs int
	MaxLingerMs     int
	HighWatermark   int
	ControlTick     time.Duration
	RecoveryInterval time.Duration
}

// DefaultSettings mirrors the starting values named for the sizing
// algorithm. growth is read as a fraction (0.08 == 8%), matching the
// units shrink is already expressed in, rather than the literal "8"
// from the defaults list taken as a raw multiplier (which would grow a
// batch ninefold on a single control tick).
var DefaultSettings = Settings{
	BMin:             16,
	BMax:             512,
	Growth:           0.08,
	Shrink:           0.2,
	LatencyTargetMs:  200,
	MaxLingerMs:      500,
	HighWatermark:    2000,
	ControlTick:      time.Second,
	RecoveryInterval: 30 * time.Second,
}

// SettingsFromConfig parses the "batcher" config section, filling in
// DefaultSettings for any field the document omits.
func SettingsFromConfig(cfg config.Config) Settings {
	d := DefaultSettings
	return Settings{
		BMin:            cfg.Int("b_min", d.BMin),
		BMax:            cfg.Int("b_max", d.BMax),
		Growth:          cfg.Float("growth", d.Growth),
		Shrink:          cfg.Float("shrink", d.Shrink),
		LatencyTargetMs: cfg.Int("latency_target_ms", d.LatencyTargetMs),
		MaxLingerMs:     cfg.Int("max_linger_ms", d.MaxLingerMs),
		HighWatermark:   cfg.Int("high_watermark", d.HighWatermark),
		ControlTick: time.Duration(cfg.Int("control_tick_ms",
			int(d.ControlTick/time.Millisecond))) * time.Millisecond,
		RecoveryInterval: time.Duration(cfg.Int("recovery_interval_ms",
			int(d.RecoveryInterval/time.Millisecond))) * time.Millisecond,
	}
}
