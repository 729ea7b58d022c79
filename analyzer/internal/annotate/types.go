package annotate

import (
	"fmt"
	"math"
)

// Decision - решение по одному циклу
type Decision int

const (
	DecisionNoBurst Decision = iota
	DecisionBurst
	DecisionError
)

func (d Decision) String() string {
	switch d {
	case DecisionNoBurst:
		return "no_burst"
	case DecisionBurst:
		return "burst"
	case DecisionError:
		return "error"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Valid сообщает, входит ли решение в закрытый набор
func (d Decision) Valid() bool {
	return d >= DecisionNoBurst && d <= DecisionError
}

// ParseDecision разбирает "burst", "no_burst" или "error"
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "burst", "1":
		return DecisionBurst, nil
	case "no_burst", "0":
		return DecisionNoBurst, nil
	case "error", "2":
		return DecisionError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDecision, s)
	}
}

func (d Decision) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDecision, int(d))
	}
	return []byte(d.String()), nil
}

func (d *Decision) UnmarshalText(b []byte) error {
	v, err := ParseDecision(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// State - состояние конечного автомата разметки
type State int

const (
	StateAwaitingConfig State = iota
	StateReady
	StateStepping
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateAwaitingConfig:
		return "awaiting_config"
	case StateReady:
		return "ready"
	case StateStepping:
		return "stepping"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{StateAwaitingConfig, StateReady, StateStepping, StateFinished} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(b))
}

// Flag - отметка о вспышке в строке результата
type Flag int

const (
	FlagNoBurst Flag = iota
	FlagBurst
	FlagError
)

// String возвращает значение колонки Burst: "0", "1" или "error"
func (f Flag) String() string {
	switch f {
	case FlagNoBurst:
		return "0"
	case FlagBurst:
		return "1"
	default:
		return "error"
	}
}

func (f Flag) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Flag) UnmarshalText(b []byte) error {
	switch string(b) {
	case "0":
		*f = FlagNoBurst
	case "1":
		*f = FlagBurst
	case "error":
		*f = FlagError
	default:
		return fmt.Errorf("unknown burst flag %q", string(b))
	}
	return nil
}

func flagFor(d Decision) Flag {
	switch d {
	case DecisionBurst:
		return FlagBurst
	case DecisionNoBurst:
		return FlagNoBurst
	default:
		return FlagError
	}
}

// Region - окно анализа в отсчетах относительно R-зубца начала цикла,
// обе границы входят в окно: [Left, Right]
type Region struct {
	Left  int `json:"left" yaml:"left"`
	Right int `json:"right" yaml:"right"`
}

// DefaultRegion - от 0.5 до 1.5 секунды после R-зубца
func DefaultRegion(fs float64) Region {
	return Region{
		Left:  int(math.Round(0.5 * fs)),
		Right: int(math.Round(1.5 * fs)),
	}
}

// Validate проверяет, что окно не пустое
func (r Region) Validate() error {
	if r.Right < r.Left {
		return &ConfigError{Field: "region", Reason: fmt.Sprintf("right bound before left, got [%d, %d]", r.Left, r.Right)}
	}
	return nil
}

// CycleWindow - полуоткрытый интервал отсчетов [Left, Right)
type CycleWindow struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Len возвращает число отсчетов в окне
func (w CycleWindow) Len() int {
	if w.Right <= w.Left {
		return 0
	}
	return w.Right - w.Left
}

// BeatRecord - одна строка результата. Пустые указатели означают
// отсутствующее значение (решение Error или числовой сбой).
type BeatRecord struct {
	Cycle      int      `json:"cycle"`
	RTime      *float64 `json:"r_time"`
	RRI        *float64 `json:"rri"`
	HR         *float64 `json:"hr"`
	DBPTime    *float64 `json:"dbp_time"`
	DBP        *float64 `json:"dbp"`
	SBPTime    *float64 `json:"sbp_time"`
	SBP        *float64 `json:"sbp"`
	MSNATime   *float64 `json:"msna_time"`
	MSNAHeight *float64 `json:"msna_height"`
	MSNAArea   *float64 `json:"msna_area"`
	Burst      Flag     `json:"burst"`
	Note       string   `json:"note,omitempty"`

	Err error `json:"-"`
}

// Progress - состояние прохода для отображения
type Progress struct {
	State    State   `json:"state"`
	Count    int     `json:"count"`
	Cycles   int     `json:"cycles"`
	Recorded int     `json:"recorded"`
	Bursts   int     `json:"bursts"`
	Errors   int     `json:"errors"`
	Percent  float64 `json:"percent"`
}

func ptr(v float64) *float64 {
	return &v
}
