package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analysis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const minimalYAML = `
env: test
data:
  panelPath: testdata/panel.csv
`

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "jgb_10y", cfg.Data.TargetColumn)
	assert.Equal(t, 60, cfg.Breaks.MinSize)
	assert.Equal(t, "studentst", cfg.GARCH.Dist)
	assert.Equal(t, 0.25, cfg.Ensemble.WeightMarkov)
	assert.Equal(t, 0.94, cfg.DCC.Decay)
	assert.Equal(t, 5, cfg.EarlyWarning.CooldownDays)
	assert.Equal(t, "out", cfg.Output.Dir)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
breaks:
  minSize: 30
  model: l2
ensemble:
  weightMarkov: 0.4
  weightHMM: 0.2
  weightEntropy: 0.2
  weightGARCH: 0.2
`))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Breaks.MinSize)
	assert.Equal(t, "l2", cfg.Breaks.Model)
	assert.Equal(t, 0.4, cfg.Ensemble.WeightMarkov)
}

func TestLoadRejectsMissingPanel(t *testing.T) {
	_, err := Load(writeConfig(t, "env: test\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panelPath")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"bad break model", func(c *AppConfig) { c.Breaks.Model = "rbf" }},
		{"entropy order", func(c *AppConfig) { c.Entropy.Order = 1 }},
		{"garch dist", func(c *AppConfig) { c.GARCH.Dist = "cauchy" }},
		{"markov regimes", func(c *AppConfig) { c.Markov.KRegimes = 1 }},
		{"hmm cov", func(c *AppConfig) { c.HMM.CovType = "spherical" }},
		{"negative weight", func(c *AppConfig) { c.Ensemble.WeightHMM = -0.1 }},
		{"all-zero weights", func(c *AppConfig) {
			c.Ensemble = EnsembleConfig{SpikeThreshold: 0.6, ValidationWindowDays: 10}
		}},
		{"spike threshold", func(c *AppConfig) { c.Ensemble.SpikeThreshold = 1.5 }},
		{"dcc decay", func(c *AppConfig) { c.DCC.Decay = 1.0 }},
		{"significance", func(c *AppConfig) { c.Spillover.Significance = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Data.PanelPath = "panel.csv"
			tc.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("JGB_PANEL_PATH", "/data/override.csv")
	t.Setenv("JGB_OUTPUT_DIR", "/tmp/run")

	cfg, err := LoadWithEnvOverrides(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "/data/override.csv", cfg.Data.PanelPath)
	assert.Equal(t, "/tmp/run", cfg.Output.Dir)
}
