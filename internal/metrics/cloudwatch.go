// Package metrics publishes operational telemetry to CloudWatch. Every
// component reports through the Recorder interface; emission failures are
// logged and swallowed so telemetry can never take down the snapshot path.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"crosswatch/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// FetchOutcome classifies a weather cache refresh for telemetry.
type FetchOutcome string

const (
	FetchOK     FetchOutcome = "ok"
	FetchFailed FetchOutcome = "failed"
	FetchStale  FetchOutcome = "stale"
)

// Recorder is the domain telemetry interface. The CloudWatch implementation
// publishes real metrics; NoopRecorder drops everything when the metrics
// feature is disabled.
type Recorder interface {
	// SnapshotAssembled records one assembled snapshot with its latency,
	// alert count, and whether the VLM stage degraded.
	SnapshotAssembled(ctx context.Context, latency time.Duration, alertCount int, degraded bool)

	// WeatherFetch records one weather cache refresh outcome.
	WeatherFetch(ctx context.Context, outcome FetchOutcome)

	// VLMFailure records one soft-degraded VLM analysis.
	VLMFailure(ctx context.Context)

	// IngestMessage records one applied camera analytics message.
	IngestMessage(ctx context.Context, direction types.Direction)

	// IngestMalformed records one skipped malformed camera message.
	IngestMalformed(ctx context.Context, direction types.Direction)

	// CriticalAlertPublished records one critical alert event sent to SQS.
	CriticalAlertPublished(ctx context.Context)

	// RecordRequest records one completed HTTP request. The signature matches
	// the server middleware hook.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// CloudWatchRecorder implements Recorder by emitting metrics to AWS
// CloudWatch. Every datum carries the IntersectionID dimension so a fleet of
// agents can share one namespace.
//
// Compile-time assertion that CloudWatchRecorder implements Recorder.
var _ Recorder = (*CloudWatchRecorder)(nil)

type CloudWatchRecorder struct {
	client         CloudWatchClient
	namespace      string
	intersectionID string
	logger         *slog.Logger
}

// NewCloudWatchRecorder creates a Recorder publishing to the given namespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace, intersectionID string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{
		client:         client,
		namespace:      namespace,
		intersectionID: intersectionID,
		logger:         logger,
	}
}

// SnapshotAssembled emits the snapshot count and latency metrics.
func (r *CloudWatchRecorder) SnapshotAssembled(ctx context.Context, latency time.Duration, alertCount int, degraded bool) {
	degradedVal := 0.0
	if degraded {
		degradedVal = 1.0
	}
	r.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricSnapshotAssembled),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: r.dims(),
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricSnapshotLatency),
			Value:      aws.Float64(float64(latency.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: r.dims(),
		},
		cwtypes.MetricDatum{
			MetricName: aws.String("SnapshotDegraded"),
			Value:      aws.Float64(degradedVal),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: r.dims(),
		},
		cwtypes.MetricDatum{
			MetricName: aws.String("SnapshotAlertCount"),
			Value:      aws.Float64(float64(alertCount)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: r.dims(),
		},
	)
}

// WeatherFetch emits the metric matching the refresh outcome.
func (r *CloudWatchRecorder) WeatherFetch(ctx context.Context, outcome FetchOutcome) {
	name := types.MetricWeatherFetch
	switch outcome {
	case FetchFailed:
		name = types.MetricWeatherFetchFailure
	case FetchStale:
		name = types.MetricWeatherStaleServed
	}
	r.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: r.dims(),
	})
}

// VLMFailure emits one VLM soft-degradation count.
func (r *CloudWatchRecorder) VLMFailure(ctx context.Context) {
	r.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricVLMFailure),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: r.dims(),
	})
}

// IngestMessage emits one applied camera message count for the direction.
func (r *CloudWatchRecorder) IngestMessage(ctx context.Context, direction types.Direction) {
	r.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricIngestMessage),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: r.dims(cwtypes.Dimension{
			Name:  aws.String(types.DimDirection),
			Value: aws.String(string(direction)),
		}),
	})
}

// IngestMalformed emits one skipped malformed message count for the direction.
func (r *CloudWatchRecorder) IngestMalformed(ctx context.Context, direction types.Direction) {
	r.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricIngestMalformed),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: r.dims(cwtypes.Dimension{
			Name:  aws.String(types.DimDirection),
			Value: aws.String(string(direction)),
		}),
	})
}

// CriticalAlertPublished emits one published critical alert count.
func (r *CloudWatchRecorder) CriticalAlertPublished(ctx context.Context) {
	r.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricCriticalAlert),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: r.dims(),
	})
}

// RecordRequest emits the HTTP request count, dimensioned by endpoint pattern
// and status class ("2xx", "4xx", ...). Called from the server middleware,
// which carries no request context, so emission uses the background context.
func (r *CloudWatchRecorder) RecordRequest(method, endpoint, status string, duration time.Duration) {
	class := "unknown"
	if len(status) > 0 {
		class = string(status[0]) + "xx"
	}
	dims := r.dims(
		cwtypes.Dimension{
			Name:  aws.String(types.DimEndpoint),
			Value: aws.String(method + " " + endpoint),
		},
		cwtypes.Dimension{
			Name:  aws.String(types.DimStatusClass),
			Value: aws.String(class),
		},
	)
	r.put(context.Background(),
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPIRequest),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPIRequest + "LatencyMs"),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	)
}

// dims returns the base IntersectionID dimension plus any extras.
func (r *CloudWatchRecorder) dims(extra ...cwtypes.Dimension) []cwtypes.Dimension {
	out := make([]cwtypes.Dimension, 0, 1+len(extra))
	out = append(out, cwtypes.Dimension{
		Name:  aws.String(types.DimIntersection),
		Value: aws.String(r.intersectionID),
	})
	return append(out, extra...)
}

func (r *CloudWatchRecorder) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: data,
	}
	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.Error("failed to publish metrics",
			slog.String("error", err.Error()),
			slog.Int("datum_count", len(data)),
		)
	}
}

// NoopRecorder drops all telemetry. Used when the metrics feature is off or
// no CloudWatch client is configured.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) SnapshotAssembled(context.Context, time.Duration, int, bool) {}
func (NoopRecorder) WeatherFetch(context.Context, FetchOutcome)                  {}
func (NoopRecorder) VLMFailure(context.Context)                                  {}
func (NoopRecorder) IngestMessage(context.Context, types.Direction)              {}
func (NoopRecorder) IngestMalformed(context.Context, types.Direction)            {}
func (NoopRecorder) CriticalAlertPublished(context.Context)                      {}
func (NoopRecorder) RecordRequest(string, string, string, time.Duration)         {}
