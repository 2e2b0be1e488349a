package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"olhovivo/geolocation"
)

var (
	once sync.Once

	// AcquisitionsTotal counts finished acquisition runs by status and reason.
	AcquisitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "olhovivo",
		Subsystem: "location",
		Name:      "acquisitions_total",
		Help:      "Finished location acquisitions, labeled by final status and failure reason.",
	}, []string{"status", "reason"})

	AcquisitionDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "olhovivo",
		Subsystem: "location",
		Name:      "acquisition_duration_seconds",
		Help:      "Time from start to outcome of a location acquisition.",
		Buckets:   []float64{1, 2, 5, 10, 15, 20, 25, 30, 45, 60},
	}, []string{"status"})

	AcceptedAccuracyMeters = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "olhovivo",
		Subsystem: "location",
		Name:      "accepted_accuracy_meters",
		Help:      "Averaged accuracy of accepted fixes.",
		Buckets:   []float64{2, 5, 10, 15, 20, 30, 50, 75, 100},
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "olhovivo",
		Subsystem: "location",
		Name:      "active_sessions",
		Help:      "Open browser relay acquisition sessions.",
	})

	ReportsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "olhovivo",
		Subsystem: "reports",
		Name:      "created_total",
		Help:      "Reports stored successfully.",
	})

	// SubmissionFailuresTotal counts rejected or failed submissions by stage.
	SubmissionFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "olhovivo",
		Subsystem: "reports",
		Name:      "submission_failures_total",
		Help:      "Failed report submissions, labeled by the stage that failed.",
	}, []string{"stage"})

	OrphanedUploadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "olhovivo",
		Subsystem: "reports",
		Name:      "orphaned_uploads_total",
		Help:      "Uploads whose compensating delete failed after a storage error.",
	})

	ListenersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "olhovivo",
		Subsystem: "reports",
		Name:      "listeners_connected",
		Help:      "Websocket clients listening for new reports.",
	})
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AcquisitionsTotal,
			AcquisitionDurationSeconds,
			AcceptedAccuracyMeters,
			ActiveSessions,
			ReportsCreatedTotal,
			SubmissionFailuresTotal,
			OrphanedUploadsTotal,
			ListenersConnected,
		)
	})
}

// ObserveAcquisition records a finished run. It fits geolocation.WithObserver.
func ObserveAcquisition(o geolocation.Outcome, elapsed time.Duration) {
	reason := ""
	if aerr, ok := o.Err.(*geolocation.AcquisitionError); ok {
		reason = string(aerr.Reason)
	}
	status := o.Status.String()
	if reason == string(geolocation.ReasonCanceled) {
		status = "canceled"
	}
	AcquisitionsTotal.WithLabelValues(status, reason).Inc()
	AcquisitionDurationSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
	if o.Status == geolocation.StatusAccepted && o.Fix != nil {
		AcceptedAccuracyMeters.Observe(o.Fix.Accuracy)
	}
}
