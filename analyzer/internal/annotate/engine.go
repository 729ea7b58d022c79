// Package annotate - конечный автомат поцикловой разметки вспышек MSNA
// и журнал результатов.
package annotate

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/Krimson/msna-analyzer/analyzer/internal/burst"
	"github.com/Krimson/msna-analyzer/analyzer/internal/filter"
	"github.com/Krimson/msna-analyzer/analyzer/internal/peaks"
)

// Engine выполняет переходы сессии. Шаги не реентерабельны:
// повторный вход во время шага возвращает ErrReentrancy.
type Engine struct {
	busy atomic.Bool
	log  logrus.FieldLogger
}

// NewEngine создает движок разметки
func NewEngine(log logrus.FieldLogger) *Engine {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	return &Engine{log: log.WithField("component", "engine")}
}

func (e *Engine) enter() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrancy
	}
	return nil
}

func (e *Engine) leave() {
	e.busy.Store(false)
}

// LockAndCompute фильтрует сигналы, находит циклы и переводит сессию в Ready.
// При ошибке сессия остается в AwaitingConfig.
func (e *Engine) LockAndCompute(s *Session) (*Session, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()

	if s.state != StateAwaitingConfig {
		return nil, stateError("lock", s.state)
	}
	cfg := s.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cycles, err := compute(s, cfg)
	if err != nil {
		return nil, err
	}

	next := s.clone()
	next.cycles = cycles
	next.region = DefaultRegion(cfg.SampleRate)
	next.count = 0
	next.results = Results{}
	next.state = StateReady

	e.log.WithFields(logrus.Fields{
		"peaks":  len(cycles.R),
		"cycles": cycles.Count(),
		"fs":     cfg.SampleRate,
	}).Info("Configuration locked")
	return next, nil
}

func compute(s *Session, cfg Config) (*peaks.Cycles, error) {
	fs := cfg.SampleRate

	ecg, err := filter.ECG(s.raw.ECG, fs)
	if err != nil {
		return nil, fmt.Errorf("failed to filter ECG: %w", err)
	}
	bp, err := filter.BP(s.raw.BP, fs, cfg.BPFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to filter BP: %w", err)
	}

	calibrated := make([]float64, len(s.raw.MSNA))
	floats.ScaleTo(calibrated, 1/cfg.MSNACalibration, s.raw.MSNA)
	msna, err := filter.MSNA(calibrated, fs, cfg.PhaseMode)
	if err != nil {
		return nil, fmt.Errorf("failed to filter MSNA: %w", err)
	}

	cycles, err := peaks.Detect(ecg, bp, msna, cfg.ECGTrigger, cfg.MinPeakDistance)
	if err != nil {
		return nil, fmt.Errorf("failed to detect cycles: %w", err)
	}
	return cycles, nil
}

// SetRegion задает окно анализа. Доступно только в Ready.
func (e *Engine) SetRegion(s *Session, r Region) (*Session, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()

	if s.state != StateReady {
		return nil, stateError("set region", s.state)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	next := s.clone()
	next.region = r
	return next, nil
}

// StepManual продвигает разметку на один цикл с решением оператора.
// Первый шаг из Ready только фиксирует окно и строки не создает.
func (e *Engine) StepManual(s *Session, d Decision) (*Session, *BeatRecord, error) {
	if err := e.enter(); err != nil {
		return nil, nil, err
	}
	defer e.leave()

	next := s.clone()
	rec, err := e.advance(next, d)
	if err != nil {
		return nil, nil, err
	}
	return next, rec, nil
}

// advance меняет сессию на месте; вызывающий держит флаг входа
func (e *Engine) advance(s *Session, d Decision) (*BeatRecord, error) {
	if s.state != StateReady && s.state != StateStepping {
		return nil, stateError("step", s.state)
	}
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDecision, int(d))
	}

	var rec *BeatRecord
	if s.count > 0 {
		r := s.beat(s.count, d)
		s.results.append(r)
		rec = &r
		if r.Err != nil {
			e.log.WithError(r.Err).WithField("count", s.count).Warn("Beat recorded without derived values")
		}
	}

	s.count++
	if s.count >= s.CycleCount() {
		s.state = StateFinished
		e.log.WithField("records", s.results.Len()).Info("Annotation finished")
	} else {
		s.state = StateStepping
	}
	return rec, nil
}

// beat вычисляет строку для цикла count
func (s *Session) beat(count int, d Decision) BeatRecord {
	rec := BeatRecord{Cycle: count, Burst: flagFor(d)}
	if d == DecisionError {
		return rec
	}

	c := s.cycles
	fs := s.config.SampleRate
	i := count - 1

	rec.RTime = ptr(float64(c.R[i]) / fs)
	rri := float64(c.R[i+1]-c.R[i]) / fs
	rec.RRI = ptr(rri)
	if rri == 0 {
		rec.Err = fmt.Errorf("heart rate for cycle %d: %w", count, ErrDivisionByZero)
		rec.Note = rec.Err.Error()
	} else {
		rec.HR = ptr(60 / rri)
	}

	rec.DBPTime = ptr(float64(c.DBP[i]) / fs)
	rec.DBP = ptr(c.BP[c.DBP[i]])
	rec.SBPTime = ptr(float64(c.SBP[i]) / fs)
	rec.SBP = ptr(c.BP[c.SBP[i]])

	w, _ := s.Window(count)
	if w.Len() == 0 {
		err := errors.New("MSNA window is empty")
		if rec.Err == nil {
			rec.Err = err
			rec.Note = err.Error()
		}
		return rec
	}
	samples := c.MSNA[w.Left:w.Right]
	rec.MSNATime = ptr(float64(w.Left) / fs)
	rec.MSNAHeight = ptr(floats.Max(samples))
	rec.MSNAArea = ptr(floats.Sum(samples))
	return rec
}

// StepBack отменяет последний шаг: count уменьшается, строка этого
// цикла удаляется. Из Finished назад не ходят, только Restart.
func (e *Engine) StepBack(s *Session) (*Session, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()

	if s.state != StateStepping || s.count == 0 {
		return nil, stateError("step back", s.state)
	}

	next := s.clone()
	next.count--
	if last, ok := next.results.Last(); ok && last.Cycle == next.count {
		next.results.removeLast()
	}
	if next.count == 0 {
		next.state = StateReady
	}
	return next, nil
}

// Restart возвращает разметку к началу, сохраняя циклы и окно
func (e *Engine) Restart(s *Session) (*Session, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()

	switch s.state {
	case StateReady, StateStepping, StateFinished:
	default:
		return nil, stateError("restart", s.state)
	}

	next := s.clone()
	next.count = 0
	next.results = Results{}
	next.state = StateReady
	return next, nil
}

// Unlock снимает блокировку конфигурации: производные сигналы отбрасываются
func (e *Engine) Unlock(s *Session) (*Session, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()

	if s.state != StateReady {
		return nil, stateError("unlock", s.state)
	}

	next := s.clone()
	next.cycles = nil
	next.region = Region{}
	next.count = 0
	next.results = Results{}
	next.state = StateAwaitingConfig
	return next, nil
}

// Classify предлагает решение для текущего цикла по SNR окна.
// Ошибка классификатора превращается в DecisionError.
func (e *Engine) Classify(s *Session) (Decision, error) {
	if s.state != StateStepping {
		return DecisionError, stateError("classify", s.state)
	}
	return s.classify(), nil
}

func (s *Session) classify() Decision {
	samples, err := s.WindowSamples(s.count)
	if err != nil {
		return DecisionError
	}
	ok, err := burst.Classify(samples, s.config.Baseline)
	if err != nil {
		return DecisionError
	}
	if ok {
		return DecisionBurst
	}
	return DecisionNoBurst
}
