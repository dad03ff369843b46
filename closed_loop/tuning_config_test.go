package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tuning "autopilot-gain-tuner/closed_loop/gain_tuning"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadTuningConfigDefaults(t *testing.T) {
	cfg, err := LoadTuningConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultTuningConfig(), cfg)
	assert.Equal(t, int64(123), cfg.Seed)
	assert.Equal(t, tuning.DefaultBounds(), cfg.SearchBounds())
	assert.Equal(t, tuning.Budgets{Global: 500, Local: 200}, cfg.SearchBudgets())
	assert.Equal(t, 2*time.Second, cfg.CAN.AckTimeout)
	assert.False(t, cfg.CAN.Enabled)
}

func TestLoadTuningConfigFile(t *testing.T) {
	path := writeFile(t, "tuning.yaml", `
seed: 7
workers: 4
bounds:
  lower: [0.5, 0, 0, -10, -0.1]
  upper: [8, 0.5, 0.5, 0, 0]
budgets:
  global: 50
horizon:
  samples: 2000
can:
  interface: can1
  ack_timeout: 500ms
`)
	cfg, err := LoadTuningConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []float64{0.5, 0, 0, -10, -0.1}, cfg.Bounds.Lower)
	assert.Equal(t, 50, cfg.Budgets.Global)
	assert.Equal(t, 200, cfg.Budgets.Local, "unset keys keep their defaults")
	assert.Equal(t, 2000, cfg.Horizon.Samples)
	assert.Equal(t, 10.0, cfg.Horizon.DurationS)
	assert.Equal(t, "can1", cfg.CAN.Interface)
	assert.Equal(t, 500*time.Millisecond, cfg.CAN.AckTimeout)
}

func TestLoadTuningConfigJSON(t *testing.T) {
	path := writeFile(t, "tuning.json", `{"replay": {"rate_hz": 1000, "output_limit": 40}, "report": {"plot_path": "out/step.png"}}`)
	cfg, err := LoadTuningConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, cfg.Replay.RateHz)
	assert.Equal(t, 40.0, cfg.Replay.OutputLimit)
	assert.Zero(t, cfg.Replay.IntegralLimit)
	assert.Equal(t, "out/step.png", cfg.Report.PlotPath)
}

func TestLoadTuningConfigPrecedence(t *testing.T) {
	path := writeFile(t, "tuning.yaml", "seed: 7\nbudgets:\n  global: 50\n")
	t.Setenv("GAINTUNE_SEED", "9")
	t.Setenv("GAINTUNE_BUDGETS__LOCAL", "20")

	cfg, err := LoadTuningConfig(path, map[string]interface{}{"seed": int64(11)})
	require.NoError(t, err)

	assert.Equal(t, int64(11), cfg.Seed, "overrides beat environment")
	assert.Equal(t, 50, cfg.Budgets.Global, "file beats defaults")
	assert.Equal(t, 20, cfg.Budgets.Local, "environment beats defaults")
}

func TestLoadTuningConfigErrors(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		_, err := LoadTuningConfig(writeFile(t, "tuning.toml", "seed = 1"), nil)
		assert.ErrorIs(t, err, tuning.ErrConfiguration)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadTuningConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := LoadTuningConfig("", map[string]interface{}{
			"workers":         0,
			"budgets.global":  -1,
			"horizon.samples": 1,
		})
		require.ErrorIs(t, err, tuning.ErrConfiguration)
		assert.Contains(t, err.Error(), "workers")
		assert.Contains(t, err.Error(), "horizon.samples")
	})
}

func TestTuningConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TuningConfig)
		want   string
	}{
		{"short bounds", func(c *TuningConfig) { c.Bounds.Lower = c.Bounds.Lower[:3] }, "bounds need 5 values"},
		{"inverted bounds", func(c *TuningConfig) { c.Bounds.Lower[0], c.Bounds.Upper[0] = 5, 1 }, "Kp_x"},
		{"zero duration", func(c *TuningConfig) { c.Horizon.DurationS = 0 }, "horizon.duration_s"},
		{"replay rate", func(c *TuningConfig) { c.Replay.RateHz = -1 }, "replay.rate_hz"},
		{"replay output limit", func(c *TuningConfig) { c.Replay.OutputLimit = -5 }, "replay.output_limit"},
		{"replay integral limit", func(c *TuningConfig) { c.Replay.IntegralLimit = math.Inf(1) }, "replay.integral_limit"},
		{"can interface", func(c *TuningConfig) { c.CAN.Enabled = true; c.CAN.Interface = "" }, "can.interface"},
		{"can ack timeout", func(c *TuningConfig) { c.CAN.Enabled = true; c.CAN.AckTimeout = 0 }, "can.ack_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTuningConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, tuning.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := DefaultTuningConfig()
	cfg.CAN.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestParseGains(t *testing.T) {
	g, err := ParseGains("2.153, 0.096,0.133,-0.981,-1e-4")
	require.NoError(t, err)
	assert.Equal(t, tuning.GainVector{2.153, 0.096, 0.133, -0.981, -0.0001}, g)

	for _, bad := range []string{"", "1,2,3,4", "1,2,3,4,5,6", "1,2,x,4,5", "1,2,3,4,5abc"} {
		_, err := ParseGains(bad)
		assert.Error(t, err, bad)
	}
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := LoadTuningConfig("../config/tuning.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTuningConfig(), cfg)
}
