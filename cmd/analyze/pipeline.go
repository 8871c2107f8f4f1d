package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"jgb-regime-go/config"
	"jgb-regime-go/fx"
	"jgb-regime-go/metrics"
	"jgb-regime-go/regime"
	"jgb-regime-go/spillover"
	"jgb-regime-go/timeseries"
)

// summary is the JSON artifact describing one analysis run.
type summary struct {
	GeneratedAt      time.Time                       `json:"generatedAt"`
	PanelPath        string                          `json:"panelPath"`
	Observations     int                             `json:"observations"`
	Breakpoints      []string                        `json:"breakpoints"`
	VolBreakpoints   []string                        `json:"volBreakpoints"`
	MarkovMeans      []float64                       `json:"markovMeans,omitempty"`
	MarkovVariances  []float64                       `json:"markovVariances,omitempty"`
	MarkovStress     int                             `json:"markovStressRegime"`
	HMMStress        int                             `json:"hmmStressState"`
	CurrentRegime    float64                         `json:"currentEnsembleProb"`
	Validation       *regime.ValidationReport        `json:"validation,omitempty"`
	Granger          []spillover.GrangerResult       `json:"granger,omitempty"`
	GrangerSkipped   int                             `json:"grangerSkipped"`
	InformationFlows []spillover.TransferEntropyEdge `json:"informationFlows,omitempty"`
	Spillover        *spillover.SpilloverIndex       `json:"spillover,omitempty"`
	Warnings         []regime.Warning                `json:"warnings,omitempty"`
}

// runAnalysis executes the complete pipeline for one config snapshot. Detector
// failures are logged and degrade the ensemble rather than aborting the run;
// only missing inputs are fatal.
func runAnalysis(cfg config.AppConfig, log *zap.Logger) error {
	panel, err := timeseries.ReadPanelCSV(cfg.Data.PanelPath, cfg.Data.DateColumn)
	if err != nil {
		return fmt.Errorf("load panel: %w", err)
	}
	if panel.Rows() < 2 {
		return fmt.Errorf("load panel: %w: %d rows", timeseries.ErrInsufficientData, panel.Rows())
	}
	target, err := panel.Column(cfg.Data.TargetColumn)
	if err != nil {
		return fmt.Errorf("target column: %w", err)
	}
	log.Info("panel loaded",
		zap.String("path", cfg.Data.PanelPath),
		zap.Int("rows", panel.Rows()),
		zap.Int("columns", panel.Cols()))

	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	changes := target.Diff()
	clean := changes.DropNaN()
	sum := &summary{
		GeneratedAt:  time.Now().UTC(),
		PanelPath:    cfg.Data.PanelPath,
		Observations: target.Len(),
	}

	var signals []regime.DetectorSignal

	// Structural breaks in the yield changes.
	det := &regime.BreakDetector{
		MinSize: cfg.Breaks.MinSize,
		Model:   regime.CostModel(cfg.Breaks.Model),
		Penalty: cfg.Breaks.Penalty,
		Logger:  log,
	}
	var bkps []time.Time
	if err := timeDetector("pelt", func() error {
		var err error
		bkps, err = det.DetectPELT(changes)
		return err
	}); err != nil {
		log.Warn("break detection failed", zap.Error(err))
	} else if len(bkps) == 0 && cfg.Breaks.NBkps > 0 {
		// The penalty can suppress every break on quiet samples; fall back
		// to a fixed-count segmentation so the report still shows structure.
		bkps, err = det.DetectBinseg(changes, cfg.Breaks.NBkps)
		if err != nil {
			log.Warn("binseg fallback failed", zap.Error(err))
		}
	}
	sum.Breakpoints = formatDates(bkps)

	// Permutation entropy and its threshold signal.
	entCfg := regime.DefaultEntropyConfig()
	entCfg.Window = cfg.Entropy.Window
	entCfg.Order = cfg.Entropy.Order
	entCfg.Delay = cfg.Entropy.Delay
	var entropy timeseries.Series
	entropyOK := false
	if err := timeDetector("entropy", func() error {
		var err error
		entropy, err = regime.RollingPermutationEntropy(changes, entCfg)
		return err
	}); err != nil {
		log.Warn("entropy computation failed", zap.Error(err))
	} else {
		entropyOK = true
		sigCfg := regime.DefaultEntropySignalConfig()
		sigCfg.ThresholdStd = cfg.Entropy.ThresholdStd
		flag := regime.EntropyRegimeSignal(entropy, sigCfg, log)
		signals = append(signals, regime.DetectorSignal{
			Name: "entropy", Series: flag, Weight: cfg.Ensemble.WeightEntropy,
		})
		if err := timeseries.WriteSeriesCSV(
			filepath.Join(cfg.Output.Dir, "entropy.csv"), entropy, flag); err != nil {
			return err
		}
	}

	// GARCH conditional volatility and its regime breaks.
	gCfg := regime.DefaultGARCHConfig()
	gCfg.P, gCfg.Q = cfg.GARCH.P, cfg.GARCH.Q
	gCfg.Dist, gCfg.Mean = cfg.GARCH.Dist, cfg.GARCH.Mean
	gCfg.Logger = log
	var garchFit *regime.GARCHResult
	if err := timeDetector("garch", func() error {
		var err error
		if cfg.GARCH.EGARCH {
			garchFit, err = regime.FitEGARCH(clean, gCfg)
		} else {
			garchFit, err = regime.FitGARCH(clean, gCfg)
		}
		return err
	}); err != nil {
		log.Warn("garch fit failed", zap.Error(err))
	} else {
		condVol := garchFit.ConditionalVolatility
		volBkps, err := regime.VolatilityRegimeBreaks(condVol, cfg.GARCH.VolBkps, cfg.Breaks.MinSize, log)
		if err != nil {
			log.Warn("volatility break detection failed", zap.Error(err))
		}
		sum.VolBreakpoints = formatDates(volBkps)
		garchSignal := regime.BreakpointsToSignal("garch_vol_regime", condVol.Dates, volBkps)
		signals = append(signals, regime.DetectorSignal{
			Name: "garch", Series: garchSignal, Weight: cfg.Ensemble.WeightGARCH,
		})
		if err := timeseries.WriteSeriesCSV(
			filepath.Join(cfg.Output.Dir, "conditional_volatility.csv"),
			condVol, garchSignal); err != nil {
			return err
		}
	}

	// Markov regime switching on yield changes.
	mCfg := regime.DefaultMarkovConfig()
	mCfg.KRegimes = cfg.Markov.KRegimes
	mCfg.SwitchingVariance = cfg.Markov.SwitchingVariance
	mCfg.Logger = log
	var markovFit *regime.MarkovResult
	if err := timeDetector("markov", func() error {
		var err error
		markovFit, err = regime.FitMarkovRegime(clean, mCfg)
		return err
	}); err != nil {
		log.Warn("markov fit failed", zap.Error(err))
	} else {
		stress := markovFit.StressRegimeIndex()
		sum.MarkovMeans = markovFit.Means
		sum.MarkovVariances = markovFit.Variances
		sum.MarkovStress = stress
		signals = append(signals, regime.DetectorSignal{
			Name:   "markov",
			Series: markovFit.SmoothedSeries(clean, stress),
			Weight: cfg.Ensemble.WeightMarkov,
		})
	}

	// Multivariate HMM over the cross-asset panel.
	spillNames := cfg.Data.SpilloverColumns
	if len(spillNames) == 0 {
		spillNames = panel.Names
	}
	crossPanel, err := panel.Select(spillNames...)
	if err != nil {
		return fmt.Errorf("spillover columns: %w", err)
	}
	hmmPanel := crossPanel.Diff().DropNaN()
	hCfg := regime.DefaultHMMConfig()
	hCfg.NStates = cfg.HMM.NStates
	hCfg.CovType = cfg.HMM.CovType
	hCfg.MaxIter = cfg.HMM.MaxIter
	hCfg.RandomState = cfg.HMM.RandomState
	hCfg.Logger = log
	var hmmFit *regime.HMMModel
	if err := timeDetector("hmm", func() error {
		var err error
		hmmFit, err = regime.FitMultivariateHMM(hmmPanel, hCfg)
		return err
	}); err != nil {
		log.Warn("hmm fit failed", zap.Error(err))
	} else {
		stress := hmmFit.StressStateIndex()
		sum.HMMStress = stress
		probs := make([]float64, len(hmmFit.StateProbs))
		for t := range hmmFit.StateProbs {
			probs[t] = hmmFit.StateProbs[t][stress]
		}
		signals = append(signals, regime.DetectorSignal{
			Name:   "hmm",
			Series: timeseries.Series{Name: "hmm_stress_prob", Dates: hmmPanel.Dates, Values: probs},
			Weight: cfg.Ensemble.WeightHMM,
		})
	}

	// Ensemble and policy event validation.
	ensemble, err := regime.CombineSignals(signals, log)
	if err != nil {
		return fmt.Errorf("ensemble: %w", err)
	}
	if err := timeseries.WriteSeriesCSV(
		filepath.Join(cfg.Output.Dir, "ensemble.csv"), ensemble); err != nil {
		return err
	}
	if _, last := ensemble.Last(); !math.IsNaN(last) {
		sum.CurrentRegime = last
	}
	report, err := regime.ValidateEnsembleVsBOJ(ensemble, regime.BOJEvents(),
		cfg.Ensemble.ValidationWindowDays, cfg.Ensemble.SpikeThreshold)
	if err != nil {
		log.Warn("event validation failed", zap.Error(err))
	} else {
		scrubValidation(report)
		sum.Validation = report
		log.Info("policy event validation",
			zap.Float64("detectionRate", report.DetectionRate),
			zap.Float64("avgLeadLag", report.AvgLeadLag),
			zap.Int("inSample", report.NInSample))
	}

	// Cross-asset spillover measures on differenced data.
	spillPanel := hmmPanel
	granger, err := spillover.PairwiseGranger(spillPanel, cfg.Spillover.GrangerMaxLag,
		cfg.Spillover.Significance, log)
	if err != nil {
		log.Warn("granger sweep failed", zap.Error(err))
	} else {
		for _, g := range granger {
			if math.IsNaN(g.PValue) {
				sum.GrangerSkipped++
				continue
			}
			sum.Granger = append(sum.Granger, g)
		}
	}

	teCfg := spillover.TransferEntropyConfig{
		Lag: cfg.Spillover.TELag, NBins: cfg.Spillover.TENBins, Logger: log,
	}
	if _, edges, err := spillover.PairwiseTransferEntropy(spillPanel, teCfg); err != nil {
		log.Warn("transfer entropy failed", zap.Error(err))
	} else {
		sum.InformationFlows = spillover.InformationFlowNetwork(edges, cfg.Spillover.TEThreshold)
	}

	dyCfg := spillover.SpilloverConfig{
		VARLags: cfg.Spillover.VARLags, Horizon: cfg.Spillover.Horizon, Logger: log,
	}
	var rolling timeseries.Series
	if idx, err := spillover.ComputeSpilloverIndex(spillPanel, dyCfg); err != nil {
		log.Warn("spillover index failed", zap.Error(err))
	} else {
		sum.Spillover = idx
		log.Info("spillover index", zap.Float64("total", idx.Total))
		rolling, err = spillover.RollingSpillover(spillPanel, cfg.Spillover.RollingWindow, dyCfg)
		if err != nil {
			log.Warn("rolling spillover failed", zap.Error(err))
		} else if err := timeseries.WriteSeriesCSV(
			filepath.Join(cfg.Output.Dir, "rolling_spillover.csv"), rolling); err != nil {
			return err
		}
	}

	dccCfg := spillover.DefaultDCCConfig()
	dccCfg.Decay = cfg.DCC.Decay
	dccCfg.InitWindow = cfg.DCC.InitWindow
	dccCfg.Logger = log
	if dcc, err := spillover.ComputeDCC(spillPanel, dccCfg); err != nil {
		log.Warn("dcc estimation failed", zap.Error(err))
	} else if err := writeDCC(cfg.Output.Dir, dcc); err != nil {
		return err
	}

	// Carry and the early warning composite.
	carryToVol := carrySeries(cfg, panel, log)
	if entropyOK {
		if err := writeEarlyWarning(cfg, entropy, carryToVol, rolling, sum, log); err != nil {
			log.Warn("early warning failed", zap.Error(err))
		}
	}

	return writeSummary(filepath.Join(cfg.Output.Dir, "summary.json"), sum)
}

// carrySeries derives the carry-to-vol ratio when the config names the rate
// and FX volatility columns; otherwise returns an empty series.
func carrySeries(cfg config.AppConfig, panel *timeseries.Panel, log *zap.Logger) timeseries.Series {
	d := cfg.Data
	if d.DomesticRateColumn == "" || d.ForeignRateColumn == "" || d.FXVolColumn == "" {
		return timeseries.Series{}
	}
	domestic, err := panel.Column(d.DomesticRateColumn)
	if err != nil {
		log.Warn("carry skipped", zap.Error(err))
		return timeseries.Series{}
	}
	foreign, err := panel.Column(d.ForeignRateColumn)
	if err != nil {
		log.Warn("carry skipped", zap.Error(err))
		return timeseries.Series{}
	}
	fxVol, err := panel.Column(d.FXVolColumn)
	if err != nil {
		log.Warn("carry skipped", zap.Error(err))
		return timeseries.Series{}
	}
	carry, err := fx.ComputeCarry(domestic, foreign)
	if err != nil {
		log.Warn("carry skipped", zap.Error(err))
		return timeseries.Series{}
	}
	ratio, err := fx.CarryToVol(carry, fxVol)
	if err != nil {
		log.Warn("carry skipped", zap.Error(err))
		return timeseries.Series{}
	}
	return ratio
}

func writeEarlyWarning(cfg config.AppConfig, entropy, carryToVol, rollingSpillover timeseries.Series, sum *summary, log *zap.Logger) error {
	ewCfg := regime.DefaultEarlyWarningConfig()
	ewCfg.SpilloverThreshold = cfg.EarlyWarning.SpilloverThreshold
	ewCfg.WeightEntropy = cfg.EarlyWarning.WeightEntropy
	ewCfg.WeightCarry = cfg.EarlyWarning.WeightCarry
	ewCfg.WeightSpillover = cfg.EarlyWarning.WeightSpillover
	ewCfg.CooldownDays = cfg.EarlyWarning.CooldownDays

	entropyDiv, err := regime.EntropyDivergence(entropy, ewCfg.EntropyWindow, ewCfg.EntropyBaseline)
	if err != nil {
		return err
	}
	carryStress := nanSeries("carry_stress", entropyDiv)
	if carryToVol.Len() > 0 {
		if cs, err := regime.CarryStressIndicator(carryToVol, ewCfg.CarryWindow, ewCfg.CarryMinPeriods); err != nil {
			log.Warn("carry stress unavailable", zap.Error(err))
		} else {
			carryStress = cs
		}
	}
	spillIntensity := nanSeries("spillover_intensity", entropyDiv)
	if rollingSpillover.Len() > 0 {
		spillIntensity = regime.SpilloverIntensity(rollingSpillover.Scale(0.01), ewCfg.SpilloverThreshold)
	}

	score, err := regime.CompositeWarningScore(entropyDiv, carryStress, spillIntensity, ewCfg, log)
	if err != nil {
		return err
	}
	sum.Warnings = regime.GenerateWarnings(score, ewCfg, log)
	return timeseries.WriteSeriesCSV(filepath.Join(cfg.Output.Dir, "warning_score.csv"), score)
}

func writeDCC(outDir string, dcc *spillover.DCCResult) error {
	labels := make([]string, 0, len(dcc.Correlations))
	for label := range dcc.Correlations {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	series := make([]timeseries.Series, 0, len(labels))
	for _, label := range labels {
		series = append(series, dcc.Correlations[label])
	}
	return timeseries.WriteSeriesCSV(filepath.Join(outDir, "dcc.csv"), series...)
}

func writeSummary(path string, sum *summary) error {
	raw, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return os.WriteFile(path, append(raw, '\n'), 0644)
}

// scrubValidation removes NaNs that would break JSON encoding; undetected
// events with no observed window report a zero peak.
func scrubValidation(r *regime.ValidationReport) {
	for i := range r.Details {
		if math.IsNaN(r.Details[i].PeakProb) {
			r.Details[i].PeakProb = 0
		}
	}
}

// nanSeries returns an all-NaN series on the template's dates, used when an
// early warning input is not available.
func nanSeries(name string, template timeseries.Series) timeseries.Series {
	vals := make([]float64, template.Len())
	for i := range vals {
		vals[i] = math.NaN()
	}
	return timeseries.Series{Name: name, Dates: template.Dates, Values: vals}
}

func formatDates(dates []time.Time) []string {
	out := make([]string, 0, len(dates))
	for _, dt := range dates {
		out = append(out, dt.Format("2006-01-02"))
	}
	return out
}

// timeDetector wraps a detector fit with duration and outcome metrics.
func timeDetector(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.FitSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.DetectorFits.WithLabelValues(name, outcome).Inc()
	return err
}
