package filter

import "fmt"

// BPMode - вариант фильтрации давления
type BPMode string

const (
	BPBandPass BPMode = "band"
	BPLowPass  BPMode = "low"
)

const presetOrder = 2

// ECG - полоса 0.3-28 Гц
func ECG(x []float64, fs float64) ([]float64, error) {
	return Zero(x, presetOrder, []float64{0.3, 28}, fs, Band)
}

// BP - полоса 0.3-10 Гц или ФНЧ 10 Гц
func BP(x []float64, fs float64, mode BPMode) ([]float64, error) {
	switch mode {
	case BPBandPass, "":
		return Zero(x, presetOrder, []float64{0.3, 10}, fs, Band)
	case BPLowPass:
		return Zero(x, presetOrder, []float64{10}, fs, Low)
	default:
		return nil, fmt.Errorf("%w: BP mode %q", ErrUnknownKind, mode)
	}
}

// MSNA - огибающая с tau = 0.1 с
func MSNA(x []float64, fs float64, mode PhaseMode) ([]float64, error) {
	return Envelope(x, fs, EnvelopeTimeConstant, mode)
}
