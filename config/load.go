package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the full analysis run configuration.
type AppConfig struct {
	Env          string             `yaml:"env"`
	Data         DataConfig         `yaml:"data"`
	Breaks       BreaksConfig       `yaml:"breaks"`
	Entropy      EntropyConfig      `yaml:"entropy"`
	GARCH        GARCHConfig        `yaml:"garch"`
	Markov       MarkovConfig       `yaml:"markov"`
	HMM          HMMConfig          `yaml:"hmm"`
	Ensemble     EnsembleConfig     `yaml:"ensemble"`
	Spillover    SpilloverConfig    `yaml:"spillover"`
	DCC          DCCConfig          `yaml:"dcc"`
	EarlyWarning EarlyWarningConfig `yaml:"earlyWarning"`
	Output       OutputConfig       `yaml:"output"`
	Logging      LoggingConfig      `yaml:"logging"`
	MetricsAddr  string             `yaml:"metricsAddr"`
}

// DataConfig locates the input panel and names its column roles.
type DataConfig struct {
	// PanelPath is a CSV with a date column followed by one column per
	// series, daily frequency.
	PanelPath  string `yaml:"panelPath"`
	DateColumn string `yaml:"dateColumn"`
	// TargetColumn is the JGB yield series the regime detectors run on.
	TargetColumn string `yaml:"targetColumn"`
	// SpilloverColumns are the cross-asset series fed to the spillover
	// engines; empty means every column except the target.
	SpilloverColumns []string `yaml:"spilloverColumns"`
	// DomesticRateColumn and ForeignRateColumn feed the carry measure.
	DomesticRateColumn string `yaml:"domesticRateColumn"`
	ForeignRateColumn  string `yaml:"foreignRateColumn"`
	// FXVolColumn is the implied or realised FX volatility series.
	FXVolColumn string `yaml:"fxVolColumn"`
}

type BreaksConfig struct {
	MinSize int     `yaml:"minSize"`
	Model   string  `yaml:"model"`
	Penalty float64 `yaml:"penalty"`
	NBkps   int     `yaml:"nBkps"`
}

type EntropyConfig struct {
	Window       int     `yaml:"window"`
	Order        int     `yaml:"order"`
	Delay        int     `yaml:"delay"`
	ThresholdStd float64 `yaml:"thresholdStd"`
}

type GARCHConfig struct {
	P       int    `yaml:"p"`
	Q       int    `yaml:"q"`
	Dist    string `yaml:"dist"`
	Mean    string `yaml:"mean"`
	EGARCH  bool   `yaml:"egarch"`
	VolBkps int    `yaml:"volBkps"`
}

type MarkovConfig struct {
	KRegimes          int  `yaml:"kRegimes"`
	SwitchingVariance bool `yaml:"switchingVariance"`
}

type HMMConfig struct {
	NStates     int    `yaml:"nStates"`
	CovType     string `yaml:"covType"`
	MaxIter     int    `yaml:"maxIter"`
	RandomState int64  `yaml:"randomState"`
}

type EnsembleConfig struct {
	WeightMarkov  float64 `yaml:"weightMarkov"`
	WeightHMM     float64 `yaml:"weightHMM"`
	WeightEntropy float64 `yaml:"weightEntropy"`
	WeightGARCH   float64 `yaml:"weightGARCH"`
	// ValidationWindowDays and SpikeThreshold drive the policy event
	// validation report.
	ValidationWindowDays int     `yaml:"validationWindowDays"`
	SpikeThreshold       float64 `yaml:"spikeThreshold"`
}

type SpilloverConfig struct {
	VARLags       int     `yaml:"varLags"`
	Horizon       int     `yaml:"horizon"`
	RollingWindow int     `yaml:"rollingWindow"`
	GrangerMaxLag int     `yaml:"grangerMaxLag"`
	Significance  float64 `yaml:"significance"`
	TENBins       int     `yaml:"teNBins"`
	TELag         int     `yaml:"teLag"`
	TEThreshold   float64 `yaml:"teThreshold"`
}

type DCCConfig struct {
	Decay      float64 `yaml:"decay"`
	InitWindow int     `yaml:"initWindow"`
}

type EarlyWarningConfig struct {
	SpilloverThreshold float64 `yaml:"spilloverThreshold"`
	WeightEntropy      float64 `yaml:"weightEntropy"`
	WeightCarry        float64 `yaml:"weightCarry"`
	WeightSpillover    float64 `yaml:"weightSpillover"`
	CooldownDays       int     `yaml:"cooldownDays"`
}

type OutputConfig struct {
	// Dir receives the CSV and JSON artifacts of a run.
	Dir string `yaml:"dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// File receives the JSON log stream alongside stderr; empty disables.
	File string `yaml:"file"`
}

// Load reads YAML config from path, fills defaults and validates.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides path fields from env vars
// if present, so deployments can relocate inputs without editing YAML.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("JGB_PANEL_PATH"); v != "" {
		cfg.Data.PanelPath = v
	}
	if v := os.Getenv("JGB_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	return cfg, Validate(cfg)
}

// Default returns the configuration used when a field is absent from the
// YAML file.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Data: DataConfig{
			DateColumn:   "date",
			TargetColumn: "jgb_10y",
		},
		Breaks:  BreaksConfig{MinSize: 60, Model: "normal", NBkps: 3},
		Entropy: EntropyConfig{Window: 120, Order: 3, Delay: 1, ThresholdStd: 1.5},
		GARCH:   GARCHConfig{P: 1, Q: 1, Dist: "studentst", Mean: "constant", VolBkps: 3},
		Markov:  MarkovConfig{KRegimes: 2, SwitchingVariance: true},
		HMM:     HMMConfig{NStates: 2, CovType: "full", MaxIter: 100, RandomState: 42},
		Ensemble: EnsembleConfig{
			WeightMarkov: 0.25, WeightHMM: 0.25, WeightEntropy: 0.25, WeightGARCH: 0.25,
			ValidationWindowDays: 10, SpikeThreshold: 0.6,
		},
		Spillover: SpilloverConfig{
			VARLags: 4, Horizon: 10, RollingWindow: 200,
			GrangerMaxLag: 5, Significance: 0.05,
			TENBins: 3, TELag: 1, TEThreshold: 0.05,
		},
		DCC: DCCConfig{Decay: 0.94, InitWindow: 20},
		EarlyWarning: EarlyWarningConfig{
			SpilloverThreshold: 0.5,
			WeightEntropy:      0.4,
			WeightCarry:        0.3,
			WeightSpillover:    0.3,
			CooldownDays:       5,
		},
		Output:      OutputConfig{Dir: "out"},
		Logging:     LoggingConfig{Level: "info"},
		MetricsAddr: "",
	}
}
