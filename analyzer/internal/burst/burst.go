// Package burst решает, есть ли в окне цикла вспышка симпатической активности.
package burst

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrUndefinedRatio - минимум до максимума неположителен или не число
	ErrUndefinedRatio = errors.New("undefined signal-to-noise ratio")
	// ErrEmptyWindow - в окне нет отсчетов
	ErrEmptyWindow = errors.New("empty MSNA window")
)

// Result - подробности одного решения
type Result struct {
	Max       float64 `json:"max"`
	MaxIndex  int     `json:"max_index"`
	PreMaxMin float64 `json:"pre_max_min"`
	SNR       float64 `json:"snr"`
	Threshold float64 `json:"threshold"`
	Burst     bool    `json:"burst"`
}

// Threshold возвращает порог SNR для базовой линии в процентах
func Threshold(baseline float64) float64 {
	return 1 + baseline*0.01
}

// SNR - отношение максимума окна к минимуму отсчетов строго до него.
// Если максимум в начале окна, минимумом считается сам максимум и SNR = 1.
func SNR(window []float64) (float64, error) {
	r, err := Evaluate(window, 0)
	if err != nil {
		return 0, err
	}
	return r.SNR, nil
}

// Classify возвращает true, если SNR > 1 + baseline*0.01
func Classify(window []float64, baseline float64) (bool, error) {
	r, err := Evaluate(window, baseline)
	if err != nil {
		return false, err
	}
	return r.Burst, nil
}

// Evaluate считает SNR и решение для окна
func Evaluate(window []float64, baseline float64) (Result, error) {
	if len(window) == 0 {
		return Result{}, ErrEmptyWindow
	}
	if floats.HasNaN(window) {
		return Result{}, fmt.Errorf("%w: window contains NaN", ErrUndefinedRatio)
	}

	idx := floats.MaxIdx(window)
	r := Result{
		Max:       window[idx],
		MaxIndex:  idx,
		PreMaxMin: window[idx],
		Threshold: Threshold(baseline),
	}
	if idx > 0 {
		r.PreMaxMin = floats.Min(window[:idx])
	}

	if math.IsInf(r.PreMaxMin, 0) || r.PreMaxMin <= 0 {
		return r, fmt.Errorf("%w: max=%v pre-max min=%v", ErrUndefinedRatio, r.Max, r.PreMaxMin)
	}

	r.SNR = r.Max / r.PreMaxMin
	if math.IsInf(r.SNR, 0) {
		return r, fmt.Errorf("%w: max=%v pre-max min=%v", ErrUndefinedRatio, r.Max, r.PreMaxMin)
	}
	r.Burst = r.SNR > r.Threshold
	return r, nil
}
