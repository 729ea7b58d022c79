package annotate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krimson/msna-analyzer/analyzer/internal/filter"
	"github.com/Krimson/msna-analyzer/analyzer/internal/synth"
)

func TestPipeline_SyntheticRecording(t *testing.T) {
	p := synth.Default()
	p.HRVariability = 0
	rec, truth, err := synth.Generate(p)
	require.NoError(t, err)

	s, err := LoadRecording(rec, p.SampleRate)
	require.NoError(t, err)
	s, err = Configure(s, 50, 2.9, 1)
	require.NoError(t, err)

	e := quietEngine()
	s, err = e.LockAndCompute(s)
	require.NoError(t, err)
	require.Equal(t, StateReady, s.State())

	c := s.Cycles()
	require.NoError(t, c.Validate())
	require.Equal(t, len(truth.R)-1, c.Count())
	for i := range c.R {
		assert.InDelta(t, truth.R[i]-truth.R[0], c.R[i], 2, "R-peak %d", i)
	}
	assert.Len(t, c.ECG, len(c.MSNA))

	s, err = e.RunAutomatic(context.Background(), s, nil)
	require.NoError(t, err)
	assert.Equal(t, StateFinished, s.State())

	records := Snapshot(s)
	require.Len(t, records, c.Count()-1)

	agree := 0
	for i, r := range records {
		require.NotNil(t, r.HR, "cycle %d", r.Cycle)
		assert.InDelta(t, 60, *r.HR, 1)
		assert.GreaterOrEqual(t, *r.SBP, *r.DBP)

		want := FlagNoBurst
		if truth.Bursts[i] {
			want = FlagBurst
		}
		if r.Burst == want {
			agree++
		}
	}
	assert.GreaterOrEqual(t, float64(agree), 0.8*float64(len(records)))
}

func TestPipeline_CalibrationScalesMSNA(t *testing.T) {
	p := synth.Default()
	p.Duration = 20
	rec, _, err := synth.Generate(p)
	require.NoError(t, err)

	e := quietEngine()
	lock := func(calibration float64) *Session {
		s, err := LoadRecording(rec, p.SampleRate)
		require.NoError(t, err)
		s, err = Configure(s, 50, 2.9, calibration)
		require.NoError(t, err)
		s, err = e.LockAndCompute(s)
		require.NoError(t, err)
		return s
	}

	one := lock(1).Cycles().MSNA
	half := lock(2).Cycles().MSNA
	require.Len(t, half, len(one))
	for i := range one {
		assert.InDelta(t, one[i]/2, half[i], 1e-9)
	}
}

func TestPipeline_AnalyticPhaseMode(t *testing.T) {
	p := synth.Default()
	p.Duration = 20
	rec, _, err := synth.Generate(p)
	require.NoError(t, err)

	s, err := LoadRecording(rec, p.SampleRate)
	require.NoError(t, err)
	cfg := s.Config()
	cfg.PhaseMode = filter.PhaseAnalytic
	cfg.BPFilter = filter.BPLowPass
	s, err = WithConfig(s, cfg)
	require.NoError(t, err)

	s, err = quietEngine().LockAndCompute(s)
	require.NoError(t, err)
	assert.Equal(t, len(s.Cycles().ECG), len(s.Cycles().MSNA))
}
