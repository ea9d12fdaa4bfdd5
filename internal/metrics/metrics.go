package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder exports ingestion and dispatch metrics to Prometheus.
type Recorder struct {
	uploads          *prometheus.CounterVec
	deletes          *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	uploadedBytes    prometheus.Counter
	dispatchDuration *prometheus.HistogramVec
}

// NewRecorder registers the service metrics with the given registerer.
func NewRecorder(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	if namespace == "" {
		namespace = "snaphub"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Count of image upload requests by outcome.",
		}, []string{"result"}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Count of image delete requests by outcome.",
		}, []string{"result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Count of analyzer dispatches by capability and outcome.",
		}, []string{"capability", "result"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative payload size of accepted uploads.",
		}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Latency of analyzer dispatches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"capability"}),
	}

	collectors := []prometheus.Collector{
		r.uploads, r.deletes, r.dispatches, r.uploadedBytes, r.dispatchDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, fmt.Errorf("register metric: %w", err)
			}
		}
	}
	return r, nil
}

// RecordUpload counts an upload attempt.
func (r *Recorder) RecordUpload(sizeBytes int, err error) {
	if r == nil {
		return
	}
	r.uploads.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		r.uploadedBytes.Add(float64(sizeBytes))
	}
}

// RecordDelete counts a delete attempt.
func (r *Recorder) RecordDelete(err error) {
	if r == nil {
		return
	}
	r.deletes.WithLabelValues(outcome(err)).Inc()
}

// RecordDispatch counts an analyzer dispatch and observes its latency.
func (r *Recorder) RecordDispatch(capability string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.dispatches.WithLabelValues(capability, outcome(err)).Inc()
	if err == nil {
		r.dispatchDuration.WithLabelValues(capability).Observe(duration.Seconds())
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
