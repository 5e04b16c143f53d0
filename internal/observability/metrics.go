package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	extractionRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "extraction",
		Name:      "requests_total",
		Help:      "Extraction requests by provider and outcome (ok or an error kind).",
	}, []string{"provider", "outcome"})

	extractionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tally",
		Subsystem: "extraction",
		Name:      "duration_seconds",
		Help:      "Wall time of extraction requests, including storage.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"provider"})

	participantsMinted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tally",
		Name:      "participants_minted_total",
		Help:      "Participants created from extraction results.",
	})

	activityRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tally",
		Name:      "activity_records_total",
		Help:      "Activity records written from extraction results.",
	})
)

func init() {
	prometheus.MustRegister(extractionRequests, extractionDuration, participantsMinted, activityRecords)
}

// OutcomeOK labels successful extractions.
const OutcomeOK = "ok"

// RecordExtraction counts one extraction and observes its duration.
func RecordExtraction(provider, outcome string, d time.Duration) {
	if provider == "" {
		provider = "none"
	}
	extractionRequests.WithLabelValues(provider, outcome).Inc()
	extractionDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordStored counts what an extraction wrote.
func RecordStored(minted, records int) {
	participantsMinted.Add(float64(minted))
	activityRecords.Add(float64(records))
}
