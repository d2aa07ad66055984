// Package observe provides OpenTelemetry metrics for the capture pipeline,
// with a Prometheus exporter bridge so an embedding application can scrape
// them. A package-level default is available via Default; tests construct
// their own Metrics with an isolated MeterProvider.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all pipeline metrics.
const meterName = "github.com/meetcaplabs/meetcap"

// Metrics holds the pipeline's metric instruments. All instruments are safe
// for concurrent use.
type Metrics struct {
	// FramesCaptured counts frames produced by capture workers.
	// Attribute: source ("mic" | "loopback").
	FramesCaptured metric.Int64Counter

	// FramesMixed counts frames emitted by the dual-source mixer.
	FramesMixed metric.Int64Counter

	// DispatcherTimeouts counts bounded-wait expirations with no frame
	// available. A steadily climbing value with no transcripts usually
	// means a starved or dead source.
	DispatcherTimeouts metric.Int64Counter

	// TranscribeDuration tracks transcription latency in seconds.
	TranscribeDuration metric.Float64Histogram

	// CorrectionDuration tracks completion-service round-trip latency.
	CorrectionDuration metric.Float64Histogram

	// Corrections counts correction outcomes.
	// Attribute: outcome ("accepted" | "rejected" | "failed").
	Corrections metric.Int64Counter

	// SegmentsDropped counts segments removed by the speech filter.
	SegmentsDropped metric.Int64Counter

	// ActiveSessions tracks live capture sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets covers transcription and correction round-trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on the given provider. Pass a
// sdkmetric.NewMeterProvider() in tests to avoid cross-test pollution.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.FramesCaptured, err = meter.Int64Counter("meetcap.frames.captured",
		metric.WithDescription("Frames produced by capture workers"),
	); err != nil {
		return nil, err
	}
	if m.FramesMixed, err = meter.Int64Counter("meetcap.frames.mixed",
		metric.WithDescription("Frames emitted by the dual-source mixer"),
	); err != nil {
		return nil, err
	}
	if m.DispatcherTimeouts, err = meter.Int64Counter("meetcap.dispatcher.timeouts",
		metric.WithDescription("Bounded queue waits that expired empty"),
	); err != nil {
		return nil, err
	}
	if m.TranscribeDuration, err = meter.Float64Histogram("meetcap.transcribe.duration",
		metric.WithDescription("Transcription latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if m.CorrectionDuration, err = meter.Float64Histogram("meetcap.correction.duration",
		metric.WithDescription("Completion-service round-trip latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if m.Corrections, err = meter.Int64Counter("meetcap.corrections",
		metric.WithDescription("Correction outcomes by acceptance"),
	); err != nil {
		return nil, err
	}
	if m.SegmentsDropped, err = meter.Int64Counter("meetcap.segments.dropped",
		metric.WithDescription("Segments dropped by the speech filter"),
	); err != nil {
		return nil, err
	}
	if m.ActiveSessions, err = meter.Int64UpDownCounter("meetcap.sessions.active",
		metric.WithDescription("Live capture sessions"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide Metrics built on the global meter
// provider. Instruments from before InitProvider record into whatever
// provider was global at first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// The otel no-op provider never fails instrument creation;
			// a real provider failing here is a programming error.
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
