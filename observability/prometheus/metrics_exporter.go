package prometheus

import (
	"time"

	"github.com/Swind/go-stream-runner/core"
	"github.com/pingcap/errors"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets   []float64
	CheckpointBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	mailDurationSeconds       *prom.HistogramVec
	mailFailureTotal          *prom.CounterVec
	mailRejectedTotal         *prom.CounterVec
	mailboxDepth              *prom.GaugeVec
	checkpointTotal           *prom.CounterVec
	checkpointDurationSeconds *prom.HistogramVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "streamrunner"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}
	checkpointBuckets := opts.CheckpointBuckets
	if len(checkpointBuckets) == 0 {
		checkpointBuckets = prom.ExponentialBuckets(0.01, 2, 12)
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "mail_duration_seconds",
		Help:      "Mail execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"task", "priority"})
	failureVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "mail_failure_total",
		Help:      "Total number of mails or default actions that failed.",
	}, []string{"task", "reason"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "mail_rejected_total",
		Help:      "Total number of mails dropped by a closed mailbox.",
	}, []string{"task", "reason"})
	depthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "mailbox_depth",
		Help:      "Current number of queued mails.",
	}, []string{"task"})
	checkpointVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "checkpoint_total",
		Help:      "Total number of finished checkpoints by outcome.",
	}, []string{"outcome"})
	checkpointDurationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "checkpoint_duration_seconds",
		Help:      "Time from checkpoint trigger to completion or timeout.",
		Buckets:   checkpointBuckets,
	}, []string{"outcome"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if failureVec, err = registerCollector(reg, failureVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if depthVec, err = registerCollector(reg, depthVec); err != nil {
		return nil, err
	}
	if checkpointVec, err = registerCollector(reg, checkpointVec); err != nil {
		return nil, err
	}
	if checkpointDurationVec, err = registerCollector(reg, checkpointDurationVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		mailDurationSeconds:       durationVec,
		mailFailureTotal:          failureVec,
		mailRejectedTotal:         rejectedVec,
		mailboxDepth:              depthVec,
		checkpointTotal:           checkpointVec,
		checkpointDurationSeconds: checkpointDurationVec,
	}, nil
}

// RecordMailDuration records mail execution duration.
func (m *MetricsExporter) RecordMailDuration(taskName string, priority core.MailPriority, duration time.Duration) {
	if m == nil {
		return
	}
	m.mailDurationSeconds.WithLabelValues(normalizeLabel(taskName, "unknown"), priority.String()).Observe(duration.Seconds())
}

// RecordMailFailure records failed mails and quanta.
func (m *MetricsExporter) RecordMailFailure(taskName string, reason string) {
	if m == nil {
		return
	}
	m.mailFailureTotal.WithLabelValues(normalizeLabel(taskName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordMailRejected records mails dropped by a closed mailbox.
func (m *MetricsExporter) RecordMailRejected(taskName string, reason string) {
	if m == nil {
		return
	}
	m.mailRejectedTotal.WithLabelValues(normalizeLabel(taskName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordQueueDepth records mailbox depth.
func (m *MetricsExporter) RecordQueueDepth(taskName string, depth int) {
	if m == nil {
		return
	}
	m.mailboxDepth.WithLabelValues(normalizeLabel(taskName, "unknown")).Set(float64(depth))
}

// RecordCheckpoint records a finished checkpoint.
func (m *MetricsExporter) RecordCheckpoint(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	outcome = normalizeLabel(outcome, "unknown")
	m.checkpointTotal.WithLabelValues(outcome).Inc()
	m.checkpointDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	if alreadyRegistered, ok := err.(prom.AlreadyRegisteredError); ok {
		existing, ok := alreadyRegistered.ExistingCollector.(T)
		if !ok {
			return collector, errors.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, errors.Trace(err)
}
