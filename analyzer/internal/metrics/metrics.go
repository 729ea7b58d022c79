package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics - счетчики сервиса разметки. Нулевой указатель допустим:
// методы ничего не делают.
type Metrics struct {
	sessionsLoaded prometheus.Counter
	sessionsLive   prometheus.Gauge
	beatsRecorded  *prometheus.CounterVec // по флагу: 0, 1, error
	walks          *prometheus.CounterVec // по исходу: completed, canceled, failed
	walkDuration   prometheus.Histogram
	stepErrors     *prometheus.CounterVec // по операции
}

// New регистрирует метрики в reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "msna_sessions_loaded_total",
			Help: "Recordings uploaded and parsed successfully",
		}),
		sessionsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "msna_sessions_live",
			Help: "Sessions currently held in memory",
		}),
		beatsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msna_beats_recorded_total",
				Help: "Beat records appended, by burst flag",
			},
			[]string{"flag"},
		),
		walks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msna_automatic_walks_total",
				Help: "Automatic walks by outcome",
			},
			[]string{"outcome"},
		),
		walkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "msna_automatic_walk_duration_seconds",
			Help:    "Wall time of automatic walks",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		stepErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msna_step_errors_total",
				Help: "Rejected engine operations, by operation",
			},
			[]string{"op"},
		),
	}
}

func (m *Metrics) SessionLoaded() {
	if m == nil {
		return
	}
	m.sessionsLoaded.Inc()
	m.sessionsLive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsLive.Dec()
}

// BeatRecorded учитывает строку с флагом flag ("0", "1", "error")
func (m *Metrics) BeatRecorded(flag string) {
	if m == nil {
		return
	}
	m.beatsRecorded.WithLabelValues(flag).Inc()
}

// WalkFinished учитывает автоматический проход
func (m *Metrics) WalkFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.walks.WithLabelValues(outcome).Inc()
	m.walkDuration.Observe(d.Seconds())
}

func (m *Metrics) StepError(op string) {
	if m == nil {
		return
	}
	m.stepErrors.WithLabelValues(op).Inc()
}
