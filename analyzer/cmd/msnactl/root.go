package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
	"github.com/Krimson/msna-analyzer/analyzer/internal/config"
	"github.com/Krimson/msna-analyzer/analyzer/internal/filter"
	"github.com/Krimson/msna-analyzer/analyzer/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string

	fs          float64
	baseline    float64
	trigger     float64
	calibration float64
	bpFilter    string
	phaseMode   string
	minDistance int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "msnactl",
		Short:         "Offline MSNA burst annotation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML config with analysis defaults")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.Float64Var(&opts.fs, "fs", 0, "sample rate, Hz (default from config)")
	pf.Float64Var(&opts.baseline, "baseline", -1, "burst baseline, percent above the pre-max minimum")
	pf.Float64Var(&opts.trigger, "trigger", 0, "ECG R-peak threshold multiplier")
	pf.Float64Var(&opts.calibration, "calibration", 0, "MSNA calibration divisor")
	pf.StringVar(&opts.bpFilter, "bp-filter", "", "BP filter: band or low")
	pf.StringVar(&opts.phaseMode, "phase", "", "MSNA envelope phase: rectified or analytic")
	pf.IntVar(&opts.minDistance, "min-distance", -1, "minimum R-peak distance in samples, 0 disables")

	cmd.AddCommand(newAnalyzeCmd(opts), newSynthCmd(opts), newPeaksCmd(opts))
	return cmd
}

// analysisConfig собирает конфигурацию: файл, затем флаги командной строки
func (o *rootOptions) analysisConfig() (annotate.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return annotate.Config{}, err
	}

	a := cfg.Analysis
	if o.fs > 0 {
		a.SampleRate = o.fs
	}
	if o.baseline >= 0 {
		a.Baseline = o.baseline
	}
	if o.trigger > 0 {
		a.ECGTrigger = o.trigger
	}
	if o.calibration > 0 {
		a.MSNACalibration = o.calibration
	}
	if o.bpFilter != "" {
		a.BPFilter = filter.BPMode(o.bpFilter)
	}
	if o.phaseMode != "" {
		a.PhaseMode = filter.PhaseMode(o.phaseMode)
	}
	if o.minDistance >= 0 {
		a.MinPeakDistance = o.minDistance
	}
	return a, a.Validate()
}

func (o *rootOptions) logger() *logrus.Logger {
	return logging.NewWithOutput(os.Stderr, o.logLevel, "text")
}
