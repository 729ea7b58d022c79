package filter

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// PhaseMode определяет, откуда берется фаза при восстановлении огибающей
type PhaseMode string

const (
	// PhaseRectified - фаза модуля сигнала (всегда 0), результат неотрицателен
	PhaseRectified PhaseMode = "rectified"
	// PhaseAnalytic - фаза аналитического сигнала (преобразование Гильберта)
	PhaseAnalytic PhaseMode = "analytic"
)

// EnvelopeTimeConstant - постоянная времени сглаживания MSNA, секунды
const EnvelopeTimeConstant = 0.1

// Envelope сглаживает модуль сигнала экспоненциальным фильтром первого
// порядка с alpha = 1/(1 + fs*tau) и восстанавливает знак через фазу.
// y[0] всегда 0: у рекурсии нет предыдущего состояния.
func Envelope(x []float64, fs, tau float64, mode PhaseMode) ([]float64, error) {
	if fs <= 0 || tau <= 0 {
		return nil, fmt.Errorf("%w: fs=%v tau=%v", ErrInvalidCutoff, fs, tau)
	}

	magnitude := make([]float64, len(x))
	phase := make([]float64, len(x))

	switch mode {
	case PhaseRectified, "":
		for i, v := range x {
			magnitude[i] = math.Abs(v)
		}
	case PhaseAnalytic:
		for i, z := range analytic(x) {
			magnitude[i] = cmplx.Abs(z)
			phase[i] = cmplx.Phase(z)
		}
	default:
		return nil, fmt.Errorf("%w: phase mode %q", ErrUnknownKind, mode)
	}

	alpha := 1 / (1 + fs*tau)
	smoothed := make([]float64, len(x))
	for n := 1; n < len(x); n++ {
		smoothed[n] = alpha*magnitude[n] + (1-alpha)*smoothed[n-1]
	}

	out := make([]float64, len(x))
	for i := range smoothed {
		out[i] = real(cmplx.Rect(smoothed[i], phase[i]))
	}
	return out, nil
}

// analytic строит аналитический сигнал через БПФ
func analytic(x []float64) []complex128 {
	n := len(x)
	if n == 0 {
		return nil
	}

	seq := make([]complex128, n)
	for i, v := range x {
		seq[i] = complex(v, 0)
	}

	fft := fourier.NewCmplxFFT(n)
	coeffs := fft.Coefficients(nil, seq)

	// удваиваем положительные частоты, обнуляем отрицательные
	for k := 1; k < n; k++ {
		switch {
		case 2*k < n:
			coeffs[k] *= 2
		case 2*k == n:
		default:
			coeffs[k] = 0
		}
	}

	out := fft.Sequence(nil, coeffs)
	scale := complex(1/float64(n), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}
