package kernel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/claimgov/internal/model"
)

const meterName = "github.com/roach88/claimgov/internal/kernel"

// Metric names.
const (
	MetricDecisions     = "claimgov.kernel.decisions"
	MetricStageFailures = "claimgov.kernel.stage_failures"
)

type metrics struct {
	decisions     metric.Int64Counter
	stageFailures metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(meterName, metric.WithInstrumentationVersion(model.KernelVersion))

	decisions, err := meter.Int64Counter(MetricDecisions,
		metric.WithDescription("Enforcement decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create decisions counter: %w", err)
	}

	failures, err := meter.Int64Counter(MetricStageFailures,
		metric.WithDescription("Denials by failing stage"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create stage failures counter: %w", err)
	}

	return &metrics{decisions: decisions, stageFailures: failures}, nil
}

func (m *metrics) record(ctx context.Context, d model.Decision) {
	outcome := model.OutcomeDeny
	if d.Allow {
		outcome = model.OutcomeAllow
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	if !d.Allow {
		m.stageFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(d.FailedStage))))
	}
}
