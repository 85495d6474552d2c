package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// InitMetrics builds the OTel meter with a Prometheus reader and the
// instruments used by the recorder. When disabled, all recording is a no-op.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter)).Meter("weave")

	m := &PrometheusMetrics{}

	if m.turnDuration, err = meter.Float64Histogram(
		"weave_agent_turn_duration_seconds",
		metric.WithDescription("Agent turn duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.turnsTotal, err = meter.Int64Counter(
		"weave_agent_turns_total",
		metric.WithDescription("Total agent turns"),
	); err != nil {
		return nil, err
	}
	if m.turnErrorsTotal, err = meter.Int64Counter(
		"weave_agent_turn_errors_total",
		metric.WithDescription("Total failed agent turns"),
	); err != nil {
		return nil, err
	}
	if m.turnStepsTotal, err = meter.Int64Counter(
		"weave_agent_steps_total",
		metric.WithDescription("Total generation steps across turns"),
	); err != nil {
		return nil, err
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"weave_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.toolCallsTotal, err = meter.Int64Counter(
		"weave_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, err
	}
	if m.toolErrorsTotal, err = meter.Int64Counter(
		"weave_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	); err != nil {
		return nil, err
	}

	if m.modelDuration, err = meter.Float64Histogram(
		"weave_model_request_duration_seconds",
		metric.WithDescription("Model request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.modelInputTokens, err = meter.Int64Counter(
		"weave_model_tokens_input_total",
		metric.WithDescription("Total input tokens sent to models"),
	); err != nil {
		return nil, err
	}
	if m.modelOutputTokens, err = meter.Int64Counter(
		"weave_model_tokens_output_total",
		metric.WithDescription("Total output tokens from models"),
	); err != nil {
		return nil, err
	}
	if m.modelErrorsTotal, err = meter.Int64Counter(
		"weave_model_errors_total",
		metric.WithDescription("Total model errors"),
	); err != nil {
		return nil, err
	}

	if m.delegationDuration, err = meter.Float64Histogram(
		"weave_delegation_duration_seconds",
		metric.WithDescription("Delegation round-trip duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.delegationsTotal, err = meter.Int64Counter(
		"weave_delegations_total",
		metric.WithDescription("Total delegations sent"),
	); err != nil {
		return nil, err
	}
	if m.delegationErrors, err = meter.Int64Counter(
		"weave_delegation_errors_total",
		metric.WithDescription("Total failed delegations"),
	); err != nil {
		return nil, err
	}

	return m, nil
}
