package annotate

import (
	"fmt"
	"math"

	"github.com/Krimson/msna-analyzer/analyzer/internal/peaks"
	"github.com/Krimson/msna-analyzer/analyzer/internal/waveform"
)

// Session - полное состояние разметки одной записи. Операции движка не
// меняют переданную сессию, а возвращают новую.
type Session struct {
	state  State
	config Config
	raw    *waveform.Recording

	// заполняются при блокировке конфигурации, дальше только читаются
	cycles *peaks.Cycles
	region Region

	count   int
	results Results
}

// Load создает сессию из трех сигналов одинаковой длины
func Load(ecg, bp, msna []float64, fs float64) (*Session, error) {
	if len(ecg) != len(bp) || len(ecg) != len(msna) {
		return nil, &waveform.FormatError{
			Reason: fmt.Sprintf("channel lengths differ: ecg=%d bp=%d msna=%d", len(ecg), len(bp), len(msna)),
		}
	}
	return LoadRecording(&waveform.Recording{ECG: ecg, BP: bp, MSNA: msna}, fs)
}

// LoadRecording создает сессию в состоянии AwaitingConfig
func LoadRecording(rec *waveform.Recording, fs float64) (*Session, error) {
	if rec == nil || rec.Len() == 0 {
		return nil, &waveform.FormatError{Reason: "recording is empty"}
	}
	if len(rec.BP) != rec.Len() || len(rec.MSNA) != rec.Len() {
		return nil, &waveform.FormatError{Reason: "channel lengths differ"}
	}

	cfg := DefaultConfig(fs)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Session{
		state:  StateAwaitingConfig,
		config: cfg,
		raw:    rec,
	}, nil
}

// Reload заменяет запись: разметка и производные сигналы сбрасываются,
// конфигурация оператора сохраняется.
func Reload(s *Session, rec *waveform.Recording) (*Session, error) {
	next, err := LoadRecording(rec, s.config.SampleRate)
	if err != nil {
		return nil, err
	}
	next.config = s.config
	return next, nil
}

// Configure задает базовую линию, множитель порога ЭКГ и калибровку MSNA
func Configure(s *Session, baseline, trigger, calibration float64) (*Session, error) {
	cfg := s.config
	cfg.Baseline = baseline
	cfg.ECGTrigger = trigger
	cfg.MSNACalibration = calibration
	return WithConfig(s, cfg)
}

// WithConfig заменяет конфигурацию целиком. Доступно только до блокировки.
func WithConfig(s *Session, cfg Config) (*Session, error) {
	if s.state != StateAwaitingConfig {
		return nil, stateError("configure", s.state)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	next := s.clone()
	next.config = cfg
	return next, nil
}

// Snapshot возвращает строки результата сессии
func Snapshot(s *Session) []BeatRecord {
	return s.results.Snapshot()
}

func (s *Session) State() State                   { return s.state }
func (s *Session) Config() Config                 { return s.config }
func (s *Session) Count() int                     { return s.count }
func (s *Session) Region() Region                 { return s.region }
func (s *Session) Recording() *waveform.Recording { return s.raw }

// Cycles возвращает обрезанные сигналы и индексы, nil до блокировки
func (s *Session) Cycles() *peaks.Cycles { return s.cycles }

// CycleCount - число циклов N = P-1, 0 до блокировки
func (s *Session) CycleCount() int {
	if s.cycles == nil {
		return 0
	}
	return s.cycles.Count()
}

// Records возвращает копию строк результата
func (s *Session) Records() []BeatRecord {
	return s.results.Snapshot()
}

// Window возвращает окно MSNA для цикла count (1 <= count < N):
// отсчеты от R+Left до R+Right включительно, обрезанные по длине сигнала
func (s *Session) Window(count int) (CycleWindow, error) {
	if s.cycles == nil {
		return CycleWindow{}, stateError("window", s.state)
	}
	if count < 1 || count > s.CycleCount() {
		return CycleWindow{}, fmt.Errorf("cycle %d out of range [1, %d]", count, s.CycleCount())
	}

	r := s.cycles.R[count-1]
	w := CycleWindow{Left: r + s.region.Left, Right: r + s.region.Right + 1}
	n := len(s.cycles.MSNA)
	w.Left = clamp(w.Left, 0, n)
	w.Right = clamp(w.Right, 0, n)
	if w.Right < w.Left {
		w.Right = w.Left
	}
	return w, nil
}

// WindowSamples возвращает отсчеты MSNA в окне цикла
func (s *Session) WindowSamples(count int) ([]float64, error) {
	w, err := s.Window(count)
	if err != nil {
		return nil, err
	}
	return s.cycles.MSNA[w.Left:w.Right], nil
}

// Progress возвращает сводку для отображения хода разметки
func (s *Session) Progress() Progress {
	bursts, errs := s.results.Counts()
	p := Progress{
		State:    s.state,
		Count:    s.count,
		Cycles:   s.CycleCount(),
		Recorded: s.results.Len(),
		Bursts:   bursts,
		Errors:   errs,
	}

	total := p.Cycles - 1
	switch {
	case s.state == StateFinished:
		p.Percent = 100
	case total <= 0:
		p.Percent = 0
	default:
		p.Percent = math.Round(float64(p.Recorded) / float64(total) * 100)
	}
	return p
}

func (s *Session) clone() *Session {
	next := *s
	next.results = s.results.clone()
	return &next
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
