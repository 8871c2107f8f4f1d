// Command analyze runs the full JGB regime and spillover analysis over a
// CSV panel of daily series, writing CSV and JSON artifacts. With -watch it
// stays resident and re-runs whenever the config or panel file changes.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"jgb-regime-go/config"
	"jgb-regime-go/infrastructure/logger"
	"jgb-regime-go/metrics"
)

func main() {
	cfgPath := flag.String("config", "configs/analysis.yaml", "path to the YAML config")
	panelPath := flag.String("panel", "", "override data.panelPath")
	outDir := flag.String("out", "", "override output.dir")
	watch := flag.Bool("watch", false, "stay resident and re-run on input changes")
	metricsAddr := flag.String("metricsAddr", "", "override metricsAddr ('' keeps config value)")
	flag.Parse()

	// Flag overrides ride the same env path deployments use.
	if *panelPath != "" {
		os.Setenv("JGB_PANEL_PATH", *panelPath)
	}
	if *outDir != "" {
		os.Setenv("JGB_OUTPUT_DIR", *outDir)
	}

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		fallbackExit("load config", err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logCfg := logger.DefaultConfig()
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	if cfg.Logging.File != "" {
		logCfg.Outputs = append(logCfg.Outputs, "file")
		logCfg.OutputFile = cfg.Logging.File
	}
	log, err := logger.New(logCfg)
	if err != nil {
		fallbackExit("init logger", err)
	}
	defer log.Sync()

	if cfg.MetricsAddr != "" {
		metrics.StartMetricsServer(cfg.MetricsAddr)
		log.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
	}

	run := func(c config.AppConfig) error {
		start := time.Now()
		if err := runAnalysis(c, log); err != nil {
			metrics.AnalysisRuns.WithLabelValues("error").Inc()
			log.Error("analysis run failed", zap.Error(err))
			return err
		}
		metrics.AnalysisRuns.WithLabelValues("ok").Inc()
		log.Info("analysis run complete",
			zap.Duration("elapsed", time.Since(start)),
			zap.String("outputDir", c.Output.Dir))
		return nil
	}

	if !*watch {
		if err := run(cfg); err != nil {
			log.Sync()
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run(cfg)
	daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdogLoop(ctx)

	watcher := &config.Watcher{ConfigPath: *cfgPath, Logger: log}
	onUpdate := func(c config.AppConfig) { run(c) }
	if err := watcher.Start(ctx, onUpdate); err != nil && ctx.Err() == nil {
		log.Error("watcher stopped", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down")
}

// watchdogLoop pings the systemd watchdog at half the configured interval
// when running under a unit with WatchdogSec set.
func watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// fallbackExit reports startup failures that happen before the structured
// logger exists.
func fallbackExit(stage string, err error) {
	os.Stderr.WriteString(stage + ": " + err.Error() + "\n")
	os.Exit(1)
}
