package main

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"go.uber.org/multierr"

	tuning "autopilot-gain-tuner/closed_loop/gain_tuning"
)

// EnvPrefix selects environment overrides, e.g. GAINTUNE_BUDGETS__GLOBAL=1000.
const EnvPrefix = "GAINTUNE_"

// TuningConfig is the complete run configuration.
type TuningConfig struct {
	Seed    int64         `koanf:"seed" yaml:"seed"`
	Workers int           `koanf:"workers" yaml:"workers"`
	Bounds  BoundsConfig  `koanf:"bounds" yaml:"bounds"`
	Budgets BudgetsConfig `koanf:"budgets" yaml:"budgets"`
	Horizon HorizonConfig `koanf:"horizon" yaml:"horizon"`
	Replay  ReplayConfig  `koanf:"replay" yaml:"replay"`
	Report  ReportConfig  `koanf:"report" yaml:"report"`
	CAN     CANConfig     `koanf:"can" yaml:"can"`
}

// BoundsConfig is the search box, in gain-vector order (Kp_x, Ki_x, Kd_x, Kp_phi, Kp_y).
type BoundsConfig struct {
	Lower []float64 `koanf:"lower" yaml:"lower,flow"`
	Upper []float64 `koanf:"upper" yaml:"upper,flow"`
}

type BudgetsConfig struct {
	Global int `koanf:"global" yaml:"global"`
	Local  int `koanf:"local" yaml:"local"`
}

type HorizonConfig struct {
	DurationS float64 `koanf:"duration_s" yaml:"duration_s"`
	Samples   int     `koanf:"samples" yaml:"samples"`
}

// ReplayConfig sets the sampled PID check. Zero limits leave the actuator unclamped.
type ReplayConfig struct {
	RateHz        float64 `koanf:"rate_hz" yaml:"rate_hz"`
	OutputLimit   float64 `koanf:"output_limit" yaml:"output_limit"`
	IntegralLimit float64 `koanf:"integral_limit" yaml:"integral_limit"`
}

type ReportConfig struct {
	PlotPath string `koanf:"plot_path" yaml:"plot_path"`
}

// CANConfig controls publishing of the tuned gains.
type CANConfig struct {
	Enabled    bool          `koanf:"enabled" yaml:"enabled"`
	Interface  string        `koanf:"interface" yaml:"interface"`
	MapPath    string        `koanf:"map_path" yaml:"map_path"`
	FrameX     string        `koanf:"frame_x" yaml:"frame_x"`
	FrameY     string        `koanf:"frame_y" yaml:"frame_y"`
	AckFrame   string        `koanf:"ack_frame" yaml:"ack_frame"` // empty disables the wait
	AckTimeout time.Duration `koanf:"ack_timeout" yaml:"ack_timeout"`
	Retries    int           `koanf:"retries" yaml:"retries"`
}

// DefaultTuningConfig reproduces the reference tuning run.
func DefaultTuningConfig() TuningConfig {
	b := tuning.DefaultBounds()
	return TuningConfig{
		Seed:    tuning.DefaultSeed,
		Workers: 1,
		Bounds: BoundsConfig{
			Lower: append([]float64(nil), b.Lower[:]...),
			Upper: append([]float64(nil), b.Upper[:]...),
		},
		Budgets: BudgetsConfig{Global: tuning.DefaultGlobalBudget, Local: tuning.DefaultLocalBudget},
		Horizon: HorizonConfig{DurationS: tuning.DefaultDuration, Samples: tuning.DefaultSamples},
		Replay:  ReplayConfig{RateHz: 100},
		CAN: CANConfig{
			Interface:  "vcan0",
			MapPath:    "config/can/gains_map.csv",
			FrameX:     "TUNED_GAINS_X",
			FrameY:     "TUNED_GAINS_Y",
			AckFrame:   "GAINS_ACK",
			AckTimeout: 2 * time.Second,
			Retries:    3,
		},
	}
}

// LoadTuningConfig layers defaults, the optional file at path, GAINTUNE_
// environment variables and finally overrides (flat dotted keys).
func LoadTuningConfig(path string, overrides map[string]interface{}) (TuningConfig, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultTuningConfig(), "koanf"), nil); err != nil {
		return TuningConfig{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return TuningConfig{}, fmt.Errorf("%w: unsupported config format %q", tuning.ErrConfiguration, path)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return TuningConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return TuningConfig{}, fmt.Errorf("load environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return TuningConfig{}, fmt.Errorf("apply overrides: %w", err)
		}
	}

	var cfg TuningConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return TuningConfig{}, fmt.Errorf("%w: %w", tuning.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return TuningConfig{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once, wrapped in tuning.ErrConfiguration.
func (c TuningConfig) Validate() error {
	var err error
	if len(c.Bounds.Lower) != tuning.NumGains || len(c.Bounds.Upper) != tuning.NumGains {
		err = multierr.Append(err, fmt.Errorf("bounds need %d values each, got lower=%d upper=%d",
			tuning.NumGains, len(c.Bounds.Lower), len(c.Bounds.Upper)))
	} else {
		err = multierr.Append(err, c.SearchBounds().Validate())
	}
	err = multierr.Append(err, c.SearchBudgets().Validate())

	if c.Workers < 1 {
		err = multierr.Append(err, fmt.Errorf("workers must be >= 1, got %d", c.Workers))
	}
	if !(c.Horizon.DurationS > 0) {
		err = multierr.Append(err, fmt.Errorf("invalid horizon.duration_s: %g", c.Horizon.DurationS))
	}
	if c.Horizon.Samples < 2 {
		err = multierr.Append(err, fmt.Errorf("invalid horizon.samples: %d", c.Horizon.Samples))
	}
	if !(c.Replay.RateHz > 0) {
		err = multierr.Append(err, fmt.Errorf("invalid replay.rate_hz: %g", c.Replay.RateHz))
	}
	if !(c.Replay.OutputLimit >= 0) || math.IsInf(c.Replay.OutputLimit, 0) {
		err = multierr.Append(err, fmt.Errorf("invalid replay.output_limit: %g", c.Replay.OutputLimit))
	}
	if !(c.Replay.IntegralLimit >= 0) || math.IsInf(c.Replay.IntegralLimit, 0) {
		err = multierr.Append(err, fmt.Errorf("invalid replay.integral_limit: %g", c.Replay.IntegralLimit))
	}

	if c.CAN.Enabled {
		if c.CAN.Interface == "" {
			err = multierr.Append(err, fmt.Errorf("can.interface is required when publishing"))
		}
		if c.CAN.MapPath == "" {
			err = multierr.Append(err, fmt.Errorf("can.map_path is required when publishing"))
		}
		if c.CAN.FrameX == "" || c.CAN.FrameY == "" {
			err = multierr.Append(err, fmt.Errorf("can.frame_x and can.frame_y are required when publishing"))
		}
		if c.CAN.Retries < 0 {
			err = multierr.Append(err, fmt.Errorf("invalid can.retries: %d", c.CAN.Retries))
		}
		if c.CAN.AckFrame != "" && c.CAN.AckTimeout <= 0 {
			err = multierr.Append(err, fmt.Errorf("invalid can.ack_timeout: %v", c.CAN.AckTimeout))
		}
	}

	if err != nil {
		return fmt.Errorf("%w: %w", tuning.ErrConfiguration, err)
	}
	return nil
}

// SearchBounds converts the configured box. Callers validate lengths first.
func (c TuningConfig) SearchBounds() tuning.Bounds {
	var b tuning.Bounds
	copy(b.Lower[:], c.Bounds.Lower)
	copy(b.Upper[:], c.Bounds.Upper)
	return b
}

func (c TuningConfig) SearchBudgets() tuning.Budgets {
	return tuning.Budgets{Global: c.Budgets.Global, Local: c.Budgets.Local}
}

// ParseGains reads a comma separated 5-tuple such as "2.153,0.096,0.133,-0.981,-0.0001".
func ParseGains(s string) (tuning.GainVector, error) {
	var g tuning.GainVector
	parts := strings.Split(s, ",")
	if len(parts) != tuning.NumGains {
		return g, fmt.Errorf("expected %d comma separated gains, got %d", tuning.NumGains, len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return g, fmt.Errorf("gain %s: %w", tuning.GainNames[i], err)
		}
		g[i] = v
	}
	return g, nil
}
