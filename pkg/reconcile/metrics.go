package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors updated by a run.
type Metrics struct {
	Records       *prometheus.CounterVec
	ParseErrors   prometheus.Counter
	PersistErrors *prometheus.CounterVec
	Conflicts     *prometheus.CounterVec
	MatchScore    *prometheus.HistogramVec
	LevelDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "georecon_records_total",
			Help: "Reconciled gazetteer records by level and outcome",
		}, []string{"level", "outcome"}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "georecon_parse_errors_total",
			Help: "Malformed gazetteer lines skipped",
		}),
		PersistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "georecon_persist_errors_total",
			Help: "Mapping rows that failed to persist",
		}, []string{"level"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "georecon_conflicts_total",
			Help: "Duplicate mapping keys resolved",
		}, []string{"level"}),
		MatchScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "georecon_match_score",
			Help:    "Score of accepted matches",
			Buckets: []float64{1, 10, 25, 50, 100, 110, 125, 150, 200},
		}, []string{"level", "method"}),
		LevelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "georecon_level_duration_seconds",
			Help:    "Wall time spent reconciling one level",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"level"}),
	}
	if reg != nil {
		reg.MustRegister(m.Records, m.ParseErrors, m.PersistErrors, m.Conflicts, m.MatchScore, m.LevelDuration)
	}
	return m
}

func (m *Metrics) observeLevel(lr *LevelReport) {
	if m == nil {
		return
	}
	level := string(lr.Level)
	m.Records.WithLabelValues(level, "matched").Add(float64(lr.Matched - lr.Fallback))
	m.Records.WithLabelValues(level, "fallback").Add(float64(lr.Fallback))
	m.Records.WithLabelValues(level, "unmatched").Add(float64(lr.Unmatched))
	m.PersistErrors.WithLabelValues(level).Add(float64(lr.PersistErrors))
	m.Conflicts.WithLabelValues(level).Add(float64(lr.Conflicts))
	m.LevelDuration.WithLabelValues(level).Observe(lr.Duration.Seconds())
}

func (m *Metrics) observeMatch(level, method string, points float64) {
	if m == nil {
		return
	}
	m.MatchScore.WithLabelValues(level, method).Observe(points)
}
