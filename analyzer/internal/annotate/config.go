package annotate

import (
	"fmt"
	"math"

	"github.com/Krimson/msna-analyzer/analyzer/internal/filter"
	"github.com/Krimson/msna-analyzer/analyzer/internal/peaks"
)

// Config - параметры анализа одной записи
type Config struct {
	SampleRate      float64          `json:"fs" yaml:"fs"`
	ECGTrigger      float64          `json:"ecg_trigger" yaml:"ecg_trigger"`
	Baseline        float64          `json:"baseline" yaml:"baseline"`
	MSNACalibration float64          `json:"msna_calibration" yaml:"msna_calibration"`
	BPFilter        filter.BPMode    `json:"bp_filter" yaml:"bp_filter"`
	PhaseMode       filter.PhaseMode `json:"phase_mode" yaml:"phase_mode"`
	MinPeakDistance int              `json:"min_peak_distance" yaml:"min_peak_distance"`
}

// DefaultConfig возвращает конфигурацию по умолчанию для частоты fs
func DefaultConfig(fs float64) Config {
	return Config{
		SampleRate:      fs,
		ECGTrigger:      peaks.DefaultTrigger,
		Baseline:        0,
		MSNACalibration: 1,
		BPFilter:        filter.BPBandPass,
		PhaseMode:       filter.PhaseRectified,
	}
}

// Validate проверяет конфигурацию и возвращает *ConfigError
func (c Config) Validate() error {
	if !(c.SampleRate > 0) || math.IsInf(c.SampleRate, 0) {
		return &ConfigError{Field: "fs", Reason: fmt.Sprintf("must be positive, got %v", c.SampleRate)}
	}
	if !(c.ECGTrigger > 0) || math.IsInf(c.ECGTrigger, 0) {
		return &ConfigError{Field: "ecg_trigger", Reason: fmt.Sprintf("must be positive, got %v", c.ECGTrigger)}
	}
	if !(c.Baseline >= 0) || math.IsInf(c.Baseline, 0) {
		return &ConfigError{Field: "baseline", Reason: fmt.Sprintf("must be non-negative, got %v", c.Baseline)}
	}
	if !(c.MSNACalibration > 0) || math.IsInf(c.MSNACalibration, 0) {
		return &ConfigError{Field: "msna_calibration", Reason: fmt.Sprintf("must be positive and finite, got %v", c.MSNACalibration)}
	}
	switch c.BPFilter {
	case filter.BPBandPass, filter.BPLowPass:
	default:
		return &ConfigError{Field: "bp_filter", Reason: fmt.Sprintf("unknown mode %q", c.BPFilter)}
	}
	switch c.PhaseMode {
	case filter.PhaseRectified, filter.PhaseAnalytic:
	default:
		return &ConfigError{Field: "phase_mode", Reason: fmt.Sprintf("unknown mode %q", c.PhaseMode)}
	}
	if c.MinPeakDistance < 0 {
		return &ConfigError{Field: "min_peak_distance", Reason: "must be non-negative"}
	}
	return nil
}
