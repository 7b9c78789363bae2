package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	PeopleCreated      prometheus.Counter
	MatchesResolved    *prometheus.CounterVec
	SubmissionsDone    *prometheus.CounterVec
	ParticipantErrors  prometheus.Counter
	HouseholdsCreated  prometheus.Counter
	PeopleGrouped      prometheus.Counter
	MergesPerformed    prometheus.Counter
	MergesUndone       prometheus.Counter
	IngestDuration     prometheus.Histogram
	HouseholdingRunDur prometheus.Histogram
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		PeopleCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hearth_people_created_total",
			Help: "Total number of person records created.",
		}),
		MatchesResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_matches_resolved_total",
			Help: "Match engine resolutions by confidence tier.",
		}, []string{"confidence"}),
		SubmissionsDone: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_submissions_total",
			Help: "Registration submissions by terminal status.",
		}, []string{"status"}),
		ParticipantErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hearth_participant_errors_total",
			Help: "Participants that raised a hard processing error.",
		}),
		HouseholdsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hearth_households_created_total",
			Help: "Households created by clustering runs and ingestion.",
		}),
		PeopleGrouped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hearth_people_grouped_total",
			Help: "People grouped into households by clustering runs.",
		}),
		MergesPerformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hearth_merges_total",
			Help: "Person merge operations performed.",
		}),
		MergesUndone: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hearth_merge_undos_total",
			Help: "Person merge operations undone.",
		}),
		IngestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hearth_ingest_duration_seconds",
			Help:    "Wall time of registration ingestion calls.",
			Buckets: prometheus.DefBuckets,
		}),
		HouseholdingRunDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hearth_householding_run_duration_seconds",
			Help:    "Wall time of household clustering runs.",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
		}),
	}
}

// ObserveMatch records a match engine resolution. Nil-safe so services can
// run without metrics in tests.
func (m *Metrics) ObserveMatch(confidence string) {
	if m == nil {
		return
	}
	m.MatchesResolved.WithLabelValues(confidence).Inc()
}

// ObserveSubmission records a finalized submission status.
func (m *Metrics) ObserveSubmission(status string) {
	if m == nil {
		return
	}
	m.SubmissionsDone.WithLabelValues(status).Inc()
}

func (m *Metrics) IncPeopleCreated() {
	if m == nil {
		return
	}
	m.PeopleCreated.Inc()
}
