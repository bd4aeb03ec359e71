// Package metrics publishes API and checkout telemetry to AWS CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"llcstack/internal/types"
)

// requestMetricTimeout bounds the PutMetricData call made for each request,
// which runs without the request context.
const requestMetricTimeout = 2 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics emits metrics to CloudWatch. Publish errors are logged
// and never returned; telemetry must not fail a checkout.
//
// Metrics emitted:
//   - APIRequestCount, APILatency: Dims {Method, Endpoint, Status}
//   - CheckoutSessionCreated: Dims {Mode, Kind}
//   - DeferredSubscriptionReconcile: Dims {Kind, Outcome}
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the
// LLCStack namespace.
func NewCloudWatchMetrics(client CloudWatchClient, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

// RecordRequest emits a request count and a latency datum for one API call.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), requestMetricTimeout)
	defer cancel()

	dims := []cwtypes.Dimension{
		dimension(types.DimMethod, method),
		dimension(types.DimEndpoint, endpoint),
		dimension(types.DimStatus, status),
	}

	m.put(ctx, "request",
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	)
}

// RecordCheckout counts a created checkout session.
func (m *CloudWatchMetrics) RecordCheckout(ctx context.Context, mode types.CheckoutMode, deferred types.DeferredKind) {
	m.put(ctx, "checkout", cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricCheckoutCreated),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dimension(types.DimMode, string(mode)),
			dimension(types.DimKind, kindValue(deferred)),
		},
	})
}

// RecordReconcile counts one reconciliation outcome.
func (m *CloudWatchMetrics) RecordReconcile(ctx context.Context, kind types.DeferredKind, state types.ReconcileState) {
	m.put(ctx, "reconcile", cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricReconcile),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dimension(types.DimKind, kindValue(kind)),
			dimension(types.DimOutcome, string(state)),
		},
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, name string, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to record "+name+" metric",
			"error", err.Error(),
			"datums", len(data),
		)
	}
}

func dimension(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// kindValue maps DeferredNone to "none"; CloudWatch rejects empty dimension values.
func kindValue(kind types.DeferredKind) string {
	if kind.IsNone() {
		return "none"
	}
	return string(kind)
}
