// Package synth генерирует детерминированные синтетические записи
// ECG/BP/MSNA для тестов и демонстрации.
package synth

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/Krimson/msna-analyzer/analyzer/internal/waveform"
)

// ErrInvalidParams - параметры генерации вне допустимых пределов
var ErrInvalidParams = errors.New("invalid synthesis parameters")

// Params - параметры синтетической записи
type Params struct {
	SampleRate    float64 // Гц
	Duration      float64 // секунды
	HeartRate     float64 // уд/мин
	HRVariability float64 // доля от R-R интервала, 0..0.3
	BurstRate     float64 // вероятность вспышки в цикле, 0..1
	Noise         float64 // амплитуда шума MSNA, у ЭКГ вдвое меньше
	Seed          int64
}

// Default возвращает параметры спокойной записи в покое
func Default() Params {
	return Params{
		SampleRate:    250,
		Duration:      60,
		HeartRate:     60,
		HRVariability: 0.05,
		BurstRate:     0.5,
		Noise:         0.02,
		Seed:          1,
	}
}

// Validate проверяет параметры
func (p Params) Validate() error {
	switch {
	case !(p.SampleRate >= 50):
		return fmt.Errorf("%w: sample rate %v below 50 Hz", ErrInvalidParams, p.SampleRate)
	case !(p.Duration > 0):
		return fmt.Errorf("%w: duration %v", ErrInvalidParams, p.Duration)
	case p.HeartRate < 30 || p.HeartRate > 200:
		return fmt.Errorf("%w: heart rate %v outside [30, 200]", ErrInvalidParams, p.HeartRate)
	case p.HRVariability < 0 || p.HRVariability > 0.3:
		return fmt.Errorf("%w: variability %v outside [0, 0.3]", ErrInvalidParams, p.HRVariability)
	case p.BurstRate < 0 || p.BurstRate > 1:
		return fmt.Errorf("%w: burst rate %v outside [0, 1]", ErrInvalidParams, p.BurstRate)
	case p.Noise < 0:
		return fmt.Errorf("%w: negative noise", ErrInvalidParams)
	}
	return nil
}

// Truth - заложенные при генерации R-зубцы и вспышки
type Truth struct {
	R      []int
	Bursts []bool
}

// волна ЭКГ: амплитуда, смещение от R (с), сигма (с)
type wave struct {
	amp, offset, width float64
}

// PQRST-комплекс. Отрицательные Q и S и широкий T дают много малых
// положительных отсчетов после полосового фильтра, поэтому R-зубец
// остается выше порога mean(ecg[ecg>0])*2.9.
var pqrst = []wave{
	{amp: 0.12, offset: -0.16, width: 0.025},   // P
	{amp: -0.12, offset: -0.025, width: 0.008}, // Q
	{amp: 1, offset: 0, width: 0.01},           // R
	{amp: -0.25, offset: 0.025, width: 0.01},   // S
	{amp: 0.25, offset: 0.28, width: 0.06},     // T
}

const (
	wanderAmp    = 0.1  // дыхательный дрейф изолинии ЭКГ
	wanderFreq   = 0.25 // Гц
	systoleDelay = 0.15 // с от R до пика давления
	systoleWidth = 0.06
	diastolic    = 80.0
	pulse        = 40.0
	msnaLevel    = 0.2
	burstDelay   = 1.0 // с от R, внутри окна по умолчанию
	burstWidth   = 0.08
	burstHeight  = 1.5
)

// Generate строит запись и возвращает положение заложенных событий
func Generate(p Params) (*waveform.Recording, *Truth, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	rng := rand.New(rand.NewSource(p.Seed))
	fs := p.SampleRate
	n := int(p.Duration * fs)
	rec := &waveform.Recording{
		ECG:  make([]float64, n),
		BP:   make([]float64, n),
		MSNA: make([]float64, n),
	}
	truth := &Truth{}

	rr := 60 / p.HeartRate
	for t := 0.5; t < p.Duration; {
		truth.R = append(truth.R, int(math.Round(t*fs)))
		truth.Bursts = append(truth.Bursts, rng.Float64() < p.BurstRate)
		t += rr * (1 + p.HRVariability*(2*rng.Float64()-1))
	}

	for i := range rec.BP {
		rec.ECG[i] = wanderAmp*math.Sin(2*math.Pi*wanderFreq*float64(i)/fs) + p.Noise/2*rng.NormFloat64()
		rec.BP[i] = diastolic
		rec.MSNA[i] = msnaLevel + p.Noise*rng.NormFloat64()
	}
	for k, r := range truth.R {
		tr := float64(r) / fs
		for _, w := range pqrst {
			addGaussian(rec.ECG, fs, tr+w.offset, w.width, w.amp)
		}
		addGaussian(rec.BP, fs, tr+systoleDelay, systoleWidth, pulse)
		if truth.Bursts[k] {
			addGaussian(rec.MSNA, fs, tr+burstDelay, burstWidth, burstHeight)
		}
	}

	return rec, truth, nil
}

// addGaussian добавляет импульс в пределах 5 сигм от центра
func addGaussian(x []float64, fs, center, sigma, amp float64) {
	lo := int(math.Floor((center - 5*sigma) * fs))
	hi := int(math.Ceil((center + 5*sigma) * fs))
	if lo < 0 {
		lo = 0
	}
	if hi > len(x)-1 {
		hi = len(x) - 1
	}
	for i := lo; i <= hi; i++ {
		d := float64(i)/fs - center
		x[i] += amp * math.Exp(-d*d/(2*sigma*sigma))
	}
}
