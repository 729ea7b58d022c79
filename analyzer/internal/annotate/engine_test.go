package annotate

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krimson/msna-analyzer/analyzer/internal/peaks"
	"github.com/Krimson/msna-analyzer/analyzer/internal/waveform"
)

// readySession - сессия в Ready с заранее известными циклами:
// fs = 10, R каждые 10 отсчетов, окно по умолчанию [5, 15] от R.
// Цикл 1 - вспышка, цикл 2 - ровный фон, цикл 3 - нулевой минимум.
func readySession(t *testing.T, r ...int) *Session {
	t.Helper()
	if len(r) == 0 {
		r = []int{0, 10, 20, 30, 40}
	}
	n := r[len(r)-1] + 1

	c := &peaks.Cycles{
		ECG:  make([]float64, n),
		BP:   make([]float64, n),
		MSNA: make([]float64, n),
		R:    r,
	}
	for i := range c.BP {
		c.BP[i] = 80 + float64(i)
		c.MSNA[i] = 1
	}
	for i := 1; i < len(r); i++ {
		c.DBP = append(c.DBP, r[i-1]+1)
		c.SBP = append(c.SBP, r[i-1]+2)
	}
	if n > 28 {
		c.MSNA[8] = 5
		c.MSNA[25] = 0
		c.MSNA[28] = 4
	}
	require.NoError(t, c.Validate())

	cfg := DefaultConfig(10)
	cfg.Baseline = 10
	return &Session{
		state:  StateReady,
		config: cfg,
		raw:    &waveform.Recording{ECG: c.ECG, BP: c.BP, MSNA: c.MSNA},
		cycles: c,
		region: DefaultRegion(10),
	}
}

func quietEngine() *Engine {
	log, _ := test.NewNullLogger()
	return NewEngine(log)
}

func TestStepManual_LockStepEmitsNothing(t *testing.T) {
	e := quietEngine()
	s := readySession(t)

	next, rec, err := e.StepManual(s, DecisionBurst)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 1, next.Count())
	assert.Equal(t, StateStepping, next.State())
	assert.Empty(t, Snapshot(next))

	// исходная сессия не меняется
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, StateReady, s.State())
}

func TestStepManual_RecordValues(t *testing.T) {
	e := quietEngine()
	s := readySession(t)

	s, _, err := e.StepManual(s, DecisionNoBurst)
	require.NoError(t, err)
	s, rec, err := e.StepManual(s, DecisionBurst)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 1, rec.Cycle)
	assert.Equal(t, FlagBurst, rec.Burst)
	assert.InDelta(t, 0.0, *rec.RTime, 1e-12)
	assert.InDelta(t, 1.0, *rec.RRI, 1e-12)
	assert.InDelta(t, 60.0, *rec.HR, 1e-12)
	assert.InDelta(t, 0.1, *rec.DBPTime, 1e-12)
	assert.InDelta(t, 81.0, *rec.DBP, 1e-12)
	assert.InDelta(t, 0.2, *rec.SBPTime, 1e-12)
	assert.InDelta(t, 82.0, *rec.SBP, 1e-12)
	assert.InDelta(t, 0.5, *rec.MSNATime, 1e-12)
	assert.InDelta(t, 5.0, *rec.MSNAHeight, 1e-12)
	assert.InDelta(t, 15.0, *rec.MSNAArea, 1e-12)
	assert.NoError(t, rec.Err)

	assert.Equal(t, 2, s.Count())
	assert.Len(t, Snapshot(s), 1)
}

func TestStepManual_RightBoundIsInWindow(t *testing.T) {
	e := quietEngine()
	s, err := e.SetRegion(readySession(t), Region{Left: 2, Right: 8})
	require.NoError(t, err)

	w, err := s.Window(1)
	require.NoError(t, err)
	assert.Equal(t, CycleWindow{Left: 2, Right: 9}, w)

	d, err := e.Classify(mustStep(t, e, s, DecisionNoBurst))
	require.NoError(t, err)
	assert.Equal(t, DecisionBurst, d)

	s, rec, err := e.StepManual(mustStep(t, e, s, DecisionNoBurst), d)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 0.2, *rec.MSNATime, 1e-12)
	assert.InDelta(t, 5.0, *rec.MSNAHeight, 1e-12)
	assert.InDelta(t, 11.0, *rec.MSNAArea, 1e-12)
	assert.Equal(t, FlagBurst, rec.Burst)
	assert.Equal(t, 2, s.Count())
}

func TestStepManual_ZeroRRIKeepsAdvancing(t *testing.T) {
	e := quietEngine()
	r := []int{0, 10, 10, 20}
	c := &peaks.Cycles{
		ECG:  make([]float64, 21),
		BP:   make([]float64, 21),
		MSNA: make([]float64, 21),
		R:    r,
		DBP:  []int{1, 11, 11},
		SBP:  []int{2, 12, 12},
	}
	for i := range c.MSNA {
		c.BP[i] = 80
		c.MSNA[i] = 1
	}
	s := &Session{
		state:  StateReady,
		config: DefaultConfig(10),
		raw:    &waveform.Recording{ECG: c.ECG, BP: c.BP, MSNA: c.MSNA},
		cycles: c,
		region: DefaultRegion(10),
	}

	s = mustStep(t, e, s, DecisionNoBurst)
	s = mustStep(t, e, s, DecisionNoBurst)
	s, rec, err := e.StepManual(s, DecisionNoBurst)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 2, rec.Cycle)
	assert.Nil(t, rec.HR)
	require.NotNil(t, rec.RRI)
	assert.Equal(t, 0.0, *rec.RRI)
	assert.ErrorIs(t, rec.Err, ErrDivisionByZero)
	assert.NotEmpty(t, rec.Note)
	assert.Equal(t, FlagNoBurst, rec.Burst)
	require.NotNil(t, rec.MSNAHeight)

	assert.Equal(t, 3, s.Count())
	assert.Equal(t, StateFinished, s.State())
	assert.Len(t, Snapshot(s), 2)
}

func mustStep(t *testing.T, e *Engine, s *Session, d Decision) *Session {
	t.Helper()
	next, _, err := e.StepManual(s, d)
	require.NoError(t, err)
	return next
}

func TestStepManual_ErrorDecisionStillAdvances(t *testing.T) {
	e := quietEngine()
	s := readySession(t)

	s, _, err := e.StepManual(s, DecisionNoBurst)
	require.NoError(t, err)
	s, rec, err := e.StepManual(s, DecisionError)
	require.NoError(t, err)

	assert.Equal(t, FlagError, rec.Burst)
	assert.Nil(t, rec.RTime)
	assert.Nil(t, rec.HR)
	assert.Nil(t, rec.MSNAHeight)
	assert.Nil(t, rec.MSNAArea)
	assert.Equal(t, 2, s.Count())

	p := s.Progress()
	assert.Equal(t, 1, p.Errors)
	assert.Equal(t, 0, p.Bursts)
}

func TestStepManual_FinishesAfterLastRecordableCycle(t *testing.T) {
	e := quietEngine()
	s := readySession(t)
	require.Equal(t, 4, s.CycleCount())

	var err error
	for i := 0; i < 4; i++ {
		s, _, err = e.StepManual(s, DecisionNoBurst)
		require.NoError(t, err)
	}
	assert.Equal(t, StateFinished, s.State())
	assert.Equal(t, 4, s.Count())
	assert.Len(t, Snapshot(s), 3)
	assert.Equal(t, 100.0, s.Progress().Percent)

	_, _, err = e.StepManual(s, DecisionBurst)
	assert.ErrorIs(t, err, ErrFinished)

	_, err = e.StepBack(s)
	assert.ErrorIs(t, err, ErrFinished)

	s, err = e.Restart(s)
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, 0, s.Count())
	assert.Empty(t, Snapshot(s))
}

func TestStepManual_TwoPeaksFinishAfterLock(t *testing.T) {
	e := quietEngine()
	s := readySession(t, 0, 10)

	s, rec, err := e.StepManual(s, DecisionNoBurst)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, StateFinished, s.State())
	assert.Empty(t, Snapshot(s))
}

func TestStepManual_RejectsUnknownDecision(t *testing.T) {
	e := quietEngine()
	_, _, err := e.StepManual(readySession(t), Decision(7))
	assert.ErrorIs(t, err, ErrUnknownDecision)
}

func TestStepBack_IsExactUndo(t *testing.T) {
	e := quietEngine()
	s := readySession(t)

	var err error
	s, _, err = e.StepManual(s, DecisionNoBurst)
	require.NoError(t, err)
	s, _, err = e.StepManual(s, DecisionBurst)
	require.NoError(t, err)

	before := Snapshot(s)
	count := s.Count()

	stepped, _, err := e.StepManual(s, DecisionNoBurst)
	require.NoError(t, err)
	require.Len(t, Snapshot(stepped), len(before)+1)

	undone, err := e.StepBack(stepped)
	require.NoError(t, err)
	assert.Equal(t, count, undone.Count())
	assert.Equal(t, before, Snapshot(undone))
	assert.Equal(t, StateStepping, undone.State())
}

func TestStepBack_ToReadyAtZero(t *testing.T) {
	e := quietEngine()
	s := readySession(t)

	_, err := e.StepBack(s)
	assert.ErrorIs(t, err, ErrInvalidState)

	s, _, err = e.StepManual(s, DecisionNoBurst)
	require.NoError(t, err)
	s, err = e.StepBack(s)
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, 0, s.Count())
}

func TestRunAutomatic_MatchesManualWalk(t *testing.T) {
	e := quietEngine()

	manual := readySession(t)
	var err error
	manual, _, err = e.StepManual(manual, DecisionNoBurst)
	require.NoError(t, err)
	for manual.State() == StateStepping {
		d, err := e.Classify(manual)
		require.NoError(t, err)
		manual, _, err = e.StepManual(manual, d)
		require.NoError(t, err)
	}

	var progress []Progress
	auto, err := e.RunAutomatic(context.Background(), readySession(t), func(p Progress) error {
		progress = append(progress, p)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, manual.Count(), auto.Count())
	assert.Equal(t, manual.State(), auto.State())
	assert.Equal(t, Snapshot(manual), Snapshot(auto))

	records := Snapshot(auto)
	require.Len(t, records, 3)
	assert.Equal(t, FlagBurst, records[0].Burst)
	assert.Equal(t, FlagNoBurst, records[1].Burst)
	assert.Equal(t, FlagError, records[2].Burst)

	// один yield на каждый цикл после блокировки
	require.Len(t, progress, 3)
	assert.Equal(t, 33.0, progress[0].Percent)
	assert.Equal(t, 100.0, progress[2].Percent)
	assert.Equal(t, StateFinished, progress[2].State)
}

func TestRunAutomatic_YieldStopLeavesConsistentSession(t *testing.T) {
	e := quietEngine()
	stop := errors.New("operator pressed stop")

	calls := 0
	partial, err := e.RunAutomatic(context.Background(), readySession(t), func(Progress) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, ErrCanceled)
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, partial.Count())
	assert.Equal(t, StateStepping, partial.State())
	assert.Len(t, Snapshot(partial), 1)

	// продолжение дает тот же результат, что и полный проход
	resumed, err := e.RunAutomatic(context.Background(), partial, nil)
	require.NoError(t, err)
	full, err := e.RunAutomatic(context.Background(), readySession(t), nil)
	require.NoError(t, err)
	assert.Equal(t, Snapshot(full), Snapshot(resumed))

	// после остановки разрешены ручные шаги
	_, err = e.StepBack(partial)
	assert.NoError(t, err)
}

func TestRunAutomatic_ContextCanceled(t *testing.T) {
	e := quietEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := e.RunAutomatic(ctx, readySession(t), nil)
	require.ErrorIs(t, err, ErrCanceled)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, s.Count())
	assert.Empty(t, Snapshot(s))
}

func TestRunAutomatic_ReentrancyGuard(t *testing.T) {
	e := quietEngine()
	s := readySession(t)

	var inner error
	_, err := e.RunAutomatic(context.Background(), s, func(Progress) error {
		_, _, inner = e.StepManual(s, DecisionBurst)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrReentrancy)

	// после прохода движок снова свободен
	_, _, err = e.StepManual(s, DecisionBurst)
	assert.NoError(t, err)
}

func TestRunAutomatic_RejectsFinished(t *testing.T) {
	e := quietEngine()
	s, err := e.RunAutomatic(context.Background(), readySession(t), nil)
	require.NoError(t, err)

	_, err = e.RunAutomatic(context.Background(), s, nil)
	assert.ErrorIs(t, err, ErrFinished)
}

func TestSetRegion(t *testing.T) {
	e := quietEngine()
	s := readySession(t)

	_, err := e.SetRegion(s, Region{Left: 5, Right: 4})
	assert.ErrorIs(t, err, ErrConfig)

	s, err = e.SetRegion(s, Region{Left: 5, Right: 100})
	require.NoError(t, err)
	w, err := s.Window(3)
	require.NoError(t, err)
	assert.Equal(t, CycleWindow{Left: 25, Right: 41}, w)

	s, _, err = e.StepManual(s, DecisionNoBurst)
	require.NoError(t, err)
	_, err = e.SetRegion(s, DefaultRegion(10))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUnlock(t *testing.T) {
	e := quietEngine()
	s, err := e.Unlock(readySession(t))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfig, s.State())
	assert.Nil(t, s.Cycles())
	assert.Equal(t, 0, s.CycleCount())

	_, err = e.Unlock(s)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestLoadAndConfigure(t *testing.T) {
	_, err := Load([]float64{1, 2}, []float64{1}, []float64{1, 2}, 100)
	assert.ErrorIs(t, err, waveform.ErrFormat)

	_, err = Load(nil, nil, nil, 100)
	assert.ErrorIs(t, err, waveform.ErrFormat)

	_, err = Load([]float64{1}, []float64{1}, []float64{1}, 0)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "fs", cfgErr.Field)

	s, err := Load([]float64{1}, []float64{1}, []float64{1}, 100)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfig, s.State())

	_, err = Configure(s, 10, 2.9, 0)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "msna_calibration", cfgErr.Field)

	_, err = Configure(s, -1, 2.9, 1)
	assert.ErrorIs(t, err, ErrConfig)

	configured, err := Configure(s, 25, 3.1, 2)
	require.NoError(t, err)
	assert.Equal(t, 25.0, configured.Config().Baseline)
	assert.Equal(t, 0.0, s.Config().Baseline)

	_, err = Configure(readySession(t), 10, 2.9, 1)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestLockAndCompute_NoPeaksKeepsSession(t *testing.T) {
	e := quietEngine()
	n := 500
	flat := make([]float64, n)
	s, err := Load(flat, flat, flat, 100)
	require.NoError(t, err)

	_, err = e.LockAndCompute(s)
	assert.ErrorIs(t, err, peaks.ErrNoPeaksFound)
	assert.Equal(t, StateAwaitingConfig, s.State())
}

func TestEngine_LogsWithComponentField(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.InfoLevel)
	e := NewEngine(log)

	_, err := e.RunAutomatic(context.Background(), readySession(t), nil)
	require.NoError(t, err)

	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, "engine", hook.LastEntry().Data["component"])
	assert.Equal(t, "Automatic walk completed", hook.LastEntry().Message)
}
