package prometheus

import (
	"testing"
	"time"

	"github.com/Swind/go-stream-runner/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// TestMetricsExporter_RecordMethods verifies every core.Metrics hook lands in its collector
// Given: an exporter on a private registry
// When: each Record method is called once
// Then: the matching counter, gauge or histogram reflects it
func TestMetricsExporter_RecordMethods(t *testing.T) {
	// Arrange
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("streamrunner", reg, ExporterOptions{})
	require.NoError(t, err)

	// Act
	exporter.RecordMailDuration("map (1/2)", core.ControlPriority, 250*time.Millisecond)
	exporter.RecordMailFailure("map (1/2)", "panic")
	exporter.RecordMailRejected("map (1/2)", "closed")
	exporter.RecordQueueDepth("map (1/2)", 7)
	exporter.RecordCheckpoint(core.CheckpointOutcomeCompleted, 40*time.Millisecond)
	exporter.RecordCheckpoint(core.CheckpointOutcomeTimeout, time.Second)

	// Assert
	require.Equal(t, 1.0, testutil.ToFloat64(exporter.mailFailureTotal.WithLabelValues("map (1/2)", "panic")))
	require.Equal(t, 1.0, testutil.ToFloat64(exporter.mailRejectedTotal.WithLabelValues("map (1/2)", "closed")))
	require.Equal(t, 7.0, testutil.ToFloat64(exporter.mailboxDepth.WithLabelValues("map (1/2)")))
	require.Equal(t, 1.0, testutil.ToFloat64(exporter.checkpointTotal.WithLabelValues("completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(exporter.checkpointTotal.WithLabelValues("timeout")))

	count, err := histogramSampleCount(exporter.mailDurationSeconds.WithLabelValues("map (1/2)", "control"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)

	count, err = histogramSampleCount(exporter.checkpointDurationSeconds.WithLabelValues("timeout"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

// TestMetricsExporter_EmptyLabels verifies empty task names fall back to "unknown"
func TestMetricsExporter_EmptyLabels(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("", reg, ExporterOptions{})
	require.NoError(t, err)

	exporter.RecordMailFailure("", "")

	require.Equal(t, 1.0, testutil.ToFloat64(exporter.mailFailureTotal.WithLabelValues("unknown", "unknown")))
}

// TestMetricsExporter_AlreadyRegisteredReuse verifies a second exporter shares collectors
// Given: two exporters created on the same registry
// When: both record a failure for the same task
// Then: the shared counter sees both
func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("streamrunner", reg, ExporterOptions{})
	require.NoError(t, err)
	second, err := NewMetricsExporter("streamrunner", reg, ExporterOptions{})
	require.NoError(t, err)

	first.RecordMailFailure("sink (1/1)", "error")
	second.RecordMailFailure("sink (1/1)", "error")

	require.Equal(t, 2.0, testutil.ToFloat64(first.mailFailureTotal.WithLabelValues("sink (1/1)", "error")))
}

// TestMetricsExporter_NilSafe verifies a nil exporter ignores records
func TestMetricsExporter_NilSafe(t *testing.T) {
	var exporter *MetricsExporter
	require.NotPanics(t, func() {
		exporter.RecordQueueDepth("x", 1)
		exporter.RecordCheckpoint(core.CheckpointOutcomeCompleted, time.Second)
	})
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
