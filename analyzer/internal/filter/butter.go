// Package filter реализует нуль-фазовую фильтрацию Баттерворта и
// огибающую MSNA.
package filter

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// Kind - тип фильтра
type Kind string

const (
	Low  Kind = "low"
	High Kind = "high"
	Band Kind = "band"
)

var (
	ErrInvalidOrder   = errors.New("filter order must be positive")
	ErrInvalidCutoff  = errors.New("invalid cutoff frequency")
	ErrUnknownKind    = errors.New("unknown filter kind")
	ErrSignalTooShort = errors.New("signal is too short for zero-phase filtering")
)

// Coefficients - передаточная функция b(z)/a(z), a[0] == 1
type Coefficients struct {
	B []float64
	A []float64
}

// Butter проектирует цифровой фильтр Баттерворта.
// Частоты среза в Гц, для Band передается пара (low, high).
func Butter(order int, cutoff []float64, fs float64, kind Kind) (Coefficients, error) {
	if order <= 0 {
		return Coefficients{}, ErrInvalidOrder
	}
	if fs <= 0 {
		return Coefficients{}, fmt.Errorf("%w: sample rate %v", ErrInvalidCutoff, fs)
	}

	nyquist := fs / 2
	want := 1
	if kind == Band {
		want = 2
	}
	if len(cutoff) != want {
		return Coefficients{}, fmt.Errorf("%w: %s filter needs %d cutoff values, got %d", ErrInvalidCutoff, kind, want, len(cutoff))
	}
	for _, fc := range cutoff {
		if !(fc > 0 && fc < nyquist) {
			return Coefficients{}, fmt.Errorf("%w: %v Hz outside (0, %v)", ErrInvalidCutoff, fc, nyquist)
		}
	}
	if kind == Band && cutoff[0] >= cutoff[1] {
		return Coefficients{}, fmt.Errorf("%w: band %v-%v Hz", ErrInvalidCutoff, cutoff[0], cutoff[1])
	}

	// аналоговый прототип: полюса на левой полуокружности, k = 1
	poles := make([]complex128, order)
	for i := range poles {
		m := float64(-order + 1 + 2*i)
		poles[i] = -cmplx.Exp(complex(0, math.Pi*m/float64(2*order)))
	}
	var zeros []complex128
	gain := 1.0

	// предыскажение частот под билинейное преобразование
	warp := func(fc float64) float64 {
		return 2 * fs * math.Tan(math.Pi*fc/fs)
	}

	switch kind {
	case Low:
		zeros, poles, gain = lowpassZPK(zeros, poles, gain, warp(cutoff[0]))
	case High:
		zeros, poles, gain = highpassZPK(zeros, poles, gain, warp(cutoff[0]))
	case Band:
		w1, w2 := warp(cutoff[0]), warp(cutoff[1])
		zeros, poles, gain = bandpassZPK(zeros, poles, gain, math.Sqrt(w1*w2), w2-w1)
	default:
		return Coefficients{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	zeros, poles, gain = bilinearZPK(zeros, poles, gain, fs)

	b := poly(zeros)
	a := poly(poles)
	coeffs := Coefficients{B: make([]float64, len(b)), A: make([]float64, len(a))}
	for i := range b {
		coeffs.B[i] = gain * real(b[i])
	}
	for i := range a {
		coeffs.A[i] = real(a[i])
	}
	return coeffs, nil
}

func lowpassZPK(z, p []complex128, k, wo float64) ([]complex128, []complex128, float64) {
	degree := len(p) - len(z)
	zl := scale(z, complex(wo, 0))
	pl := scale(p, complex(wo, 0))
	return zl, pl, k * math.Pow(wo, float64(degree))
}

func highpassZPK(z, p []complex128, k, wo float64) ([]complex128, []complex128, float64) {
	degree := len(p) - len(z)
	zh := make([]complex128, 0, len(p))
	for _, zi := range z {
		zh = append(zh, complex(wo, 0)/zi)
	}
	ph := make([]complex128, len(p))
	for i, pk := range p {
		ph[i] = complex(wo, 0) / pk
	}
	for i := 0; i < degree; i++ {
		zh = append(zh, 0)
	}
	k *= real(prodNeg(z) / prodNeg(p))
	return zh, ph, k
}

func bandpassZPK(z, p []complex128, k, wo, bw float64) ([]complex128, []complex128, float64) {
	degree := len(p) - len(z)
	half := complex(bw/2, 0)
	wo2 := complex(wo*wo, 0)

	split := func(roots []complex128) []complex128 {
		out := make([]complex128, 0, 2*len(roots))
		for _, r := range roots {
			r *= half
			out = append(out, r+cmplx.Sqrt(r*r-wo2))
		}
		for _, r := range roots {
			r *= half
			out = append(out, r-cmplx.Sqrt(r*r-wo2))
		}
		return out
	}

	zb := split(z)
	pb := split(p)
	for i := 0; i < degree; i++ {
		zb = append(zb, 0)
	}
	return zb, pb, k * math.Pow(bw, float64(degree))
}

func bilinearZPK(z, p []complex128, k, fs float64) ([]complex128, []complex128, float64) {
	degree := len(p) - len(z)
	fs2 := complex(2*fs, 0)

	zd := make([]complex128, 0, len(p))
	for _, zi := range z {
		zd = append(zd, (fs2+zi)/(fs2-zi))
	}
	pd := make([]complex128, len(p))
	for i, pk := range p {
		pd[i] = (fs2 + pk) / (fs2 - pk)
	}
	// нули в бесконечности переходят в z = -1
	for i := 0; i < degree; i++ {
		zd = append(zd, -1)
	}

	num := complex(1, 0)
	for _, zi := range z {
		num *= fs2 - zi
	}
	den := complex(1, 0)
	for _, pk := range p {
		den *= fs2 - pk
	}
	return zd, pd, k * real(num/den)
}

// poly возвращает коэффициенты многочлена с заданными корнями, старшая степень первой
func poly(roots []complex128) []complex128 {
	c := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(c)+1)
		for i, ci := range c {
			next[i] += ci
			next[i+1] -= ci * r
		}
		c = next
	}
	return c
}

func scale(roots []complex128, f complex128) []complex128 {
	out := make([]complex128, len(roots))
	for i, r := range roots {
		out[i] = r * f
	}
	return out
}

func prodNeg(roots []complex128) complex128 {
	p := complex(1, 0)
	for _, r := range roots {
		p *= -r
	}
	return p
}
