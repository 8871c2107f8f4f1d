package config

import (
	"errors"
	"fmt"
)

// Validate ensures required fields are present and parameters are in range.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Data.PanelPath == "" {
		return errors.New("data.panelPath is required (or JGB_PANEL_PATH)")
	}
	if cfg.Data.TargetColumn == "" {
		return errors.New("data.targetColumn is required")
	}
	if cfg.Breaks.MinSize <= 0 {
		return errors.New("breaks.minSize must be > 0")
	}
	if m := cfg.Breaks.Model; m != "normal" && m != "l2" {
		return fmt.Errorf("breaks.model must be normal or l2, got %q", m)
	}
	if cfg.Entropy.Order < 2 {
		return errors.New("entropy.order must be >= 2")
	}
	if cfg.Entropy.Window < 2*cfg.Entropy.Order {
		return errors.New("entropy.window must be >= 2*entropy.order")
	}
	if d := cfg.GARCH.Dist; d != "studentst" && d != "normal" {
		return fmt.Errorf("garch.dist must be studentst or normal, got %q", d)
	}
	if cfg.Markov.KRegimes < 2 {
		return errors.New("markov.kRegimes must be >= 2")
	}
	if cfg.HMM.NStates < 2 {
		return errors.New("hmm.nStates must be >= 2")
	}
	if c := cfg.HMM.CovType; c != "full" && c != "diag" {
		return fmt.Errorf("hmm.covType must be full or diag, got %q", c)
	}
	for name, w := range map[string]float64{
		"ensemble.weightMarkov":  cfg.Ensemble.WeightMarkov,
		"ensemble.weightHMM":     cfg.Ensemble.WeightHMM,
		"ensemble.weightEntropy": cfg.Ensemble.WeightEntropy,
		"ensemble.weightGARCH":   cfg.Ensemble.WeightGARCH,
	} {
		if w < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	if cfg.Ensemble.WeightMarkov+cfg.Ensemble.WeightHMM+
		cfg.Ensemble.WeightEntropy+cfg.Ensemble.WeightGARCH <= 0 {
		return errors.New("ensemble weights must not all be zero")
	}
	if cfg.Ensemble.SpikeThreshold <= 0 || cfg.Ensemble.SpikeThreshold > 1 {
		return errors.New("ensemble.spikeThreshold must be in (0, 1]")
	}
	if cfg.Spillover.VARLags <= 0 {
		return errors.New("spillover.varLags must be > 0")
	}
	if cfg.Spillover.Horizon <= 0 {
		return errors.New("spillover.horizon must be > 0")
	}
	if cfg.Spillover.Significance <= 0 || cfg.Spillover.Significance >= 1 {
		return errors.New("spillover.significance must be in (0, 1)")
	}
	if cfg.Spillover.TENBins < 2 {
		return errors.New("spillover.teNBins must be >= 2")
	}
	if cfg.DCC.Decay <= 0 || cfg.DCC.Decay >= 1 {
		return errors.New("dcc.decay must be in (0, 1)")
	}
	if cfg.EarlyWarning.WeightEntropy < 0 || cfg.EarlyWarning.WeightCarry < 0 ||
		cfg.EarlyWarning.WeightSpillover < 0 {
		return errors.New("earlyWarning weights must be >= 0")
	}
	if cfg.Output.Dir == "" {
		return errors.New("output.dir is required")
	}
	return nil
}
