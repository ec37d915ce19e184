package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz         int `yaml:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	// SnapshotKeep is how many snapshots survive pruning; zero keeps all.
	SnapshotKeep int `yaml:"snapshot_keep"`

	Fixtures  Fixtures  `yaml:"fixtures"`
	Preview   Preview   `yaml:"preview"`
	Tourney   Tourney   `yaml:"tourney"`
	Fireplace Fireplace `yaml:"fireplace"`
	Bellows   Bellows   `yaml:"bellows"`
}

type Fixtures struct {
	MaterializeDelayMs int `yaml:"materialize_delay_ms"`
	ChopRange          int `yaml:"chop_range"`
}

type Preview struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
	MaxPolls       int `yaml:"max_polls"`
	MaxRange       int `yaml:"max_range"`
	// ConfirmOnExpiry keeps a preview that outlived its window instead of
	// rolling it back.
	ConfirmOnExpiry bool `yaml:"confirm_on_expiry"`
}

type Tourney struct {
	FailHue  int `yaml:"fail_hue"`
	PassHue  int `yaml:"pass_hue"`
	RevertMs int `yaml:"revert_ms"`
}

type Fireplace struct {
	BurnIntervalMs  int `yaml:"burn_interval_ms"`
	FuelPerKindling int `yaml:"fuel_per_kindling"`
}

type Bellows struct {
	RelockMs int `yaml:"relock_ms"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         4,
		SnapshotEveryTicks: 1200,
		SnapshotKeep:       10,
		Fixtures: Fixtures{
			MaterializeDelayMs: 750,
			ChopRange:          3,
		},
		Preview: Preview{
			PollIntervalMs: 1000,
			MaxPolls:       30,
			MaxRange:       13,
		},
		Tourney: Tourney{
			FailHue:  0x26,
			PassHue:  0x3F,
			RevertMs: 10000,
		},
		Fireplace: Fireplace{
			BurnIntervalMs:  60000,
			FuelPerKindling: 5,
		},
		Bellows: Bellows{
			RelockMs: 5000,
		},
	}
}

// Load reads path over the defaults, so a partial file only overrides what
// it names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive")
	}
	if t.SnapshotEveryTicks < 0 || t.SnapshotKeep < 0 {
		return fmt.Errorf("snapshot settings must not be negative")
	}
	if t.Preview.MaxPolls <= 0 {
		return fmt.Errorf("preview.max_polls must be positive")
	}
	if t.Preview.MaxRange <= 0 {
		return fmt.Errorf("preview.max_range must be positive")
	}
	return nil
}

func (t Tuning) TickDuration() time.Duration {
	return time.Second / time.Duration(t.TickRateHz)
}

// Ticks converts milliseconds into whole ticks, rounding up; any positive
// duration is at least one tick.
func (t Tuning) Ticks(ms int) uint64 {
	if ms <= 0 {
		return 0
	}
	per := int64(t.TickDuration() / time.Millisecond)
	if per <= 0 {
		return uint64(ms)
	}
	return uint64((int64(ms) + per - 1) / per)
}
