package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records the execution core's operational signals.
type Metrics interface {
	RecordAgentTurn(ctx context.Context, agentID string, duration time.Duration, steps int, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordModelCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordDelegation(ctx context.Context, target string, duration time.Duration, err error)
}

// PrometheusMetrics implements Metrics on OTel instruments exported through
// the Prometheus reader. A zero value is a no-op.
type PrometheusMetrics struct {
	turnDuration    metric.Float64Histogram
	turnsTotal      metric.Int64Counter
	turnErrorsTotal metric.Int64Counter
	turnStepsTotal  metric.Int64Counter

	toolDuration    metric.Float64Histogram
	toolCallsTotal  metric.Int64Counter
	toolErrorsTotal metric.Int64Counter

	modelDuration     metric.Float64Histogram
	modelInputTokens  metric.Int64Counter
	modelOutputTokens metric.Int64Counter
	modelErrorsTotal  metric.Int64Counter

	delegationDuration metric.Float64Histogram
	delegationsTotal   metric.Int64Counter
	delegationErrors   metric.Int64Counter
}

func (m *PrometheusMetrics) RecordAgentTurn(ctx context.Context, agentID string, duration time.Duration, steps int, err error) {
	if m == nil || m.turnDuration == nil || m.turnsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("agent", agentID))
	m.turnDuration.Record(ctx, duration.Seconds(), attrs)
	m.turnsTotal.Add(ctx, 1, attrs)

	if steps > 0 && m.turnStepsTotal != nil {
		m.turnStepsTotal.Add(ctx, int64(steps), attrs)
	}
	if err != nil && m.turnErrorsTotal != nil {
		m.turnErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil || m.toolCallsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCallsTotal.Add(ctx, 1, attrs)

	if err != nil && m.toolErrorsTotal != nil {
		m.toolErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordModelCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.modelDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("model", model))
	m.modelDuration.Record(ctx, duration.Seconds(), attrs)
	if m.modelInputTokens != nil {
		m.modelInputTokens.Add(ctx, int64(inputTokens), attrs)
	}
	if m.modelOutputTokens != nil {
		m.modelOutputTokens.Add(ctx, int64(outputTokens), attrs)
	}
	if err != nil && m.modelErrorsTotal != nil {
		m.modelErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordDelegation(ctx context.Context, target string, duration time.Duration, err error) {
	if m == nil || m.delegationDuration == nil || m.delegationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("target", target))
	m.delegationDuration.Record(ctx, duration.Seconds(), attrs)
	m.delegationsTotal.Add(ctx, 1, attrs)

	if err != nil && m.delegationErrors != nil {
		m.delegationErrors.Add(ctx, 1, attrs)
	}
}

// SetGlobalMetrics installs the process metrics recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process metrics recorder, which may be nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

var _ Metrics = (*PrometheusMetrics)(nil)
