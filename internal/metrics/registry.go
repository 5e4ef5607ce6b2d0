package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the domain metrics for the assessment engine.
type Registry struct {
	meter metric.Meter

	// Assessment pipeline metrics
	AssessmentDuration   metric.Float64Histogram
	AssessmentCounter    metric.Int64Counter
	AssessmentFailures   metric.Int64Counter
	AssessmentsRejected  metric.Int64Counter
	ActiveAssessments    metric.Int64ObservableGauge
	RulesEvaluated       metric.Int64Counter
	ControlsAssessed     metric.Int64Counter
	PoamItemsCreated     metric.Int64Counter
	SystemRiskScore      metric.Float64Histogram
	CompliancePercentage metric.Float64Histogram

	// State for observable metrics
	mu          sync.RWMutex
	activeCount int64
}

// NewRegistry creates a metrics registry on the named meter.
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{meter: otel.Meter(meterName)}

	var err error
	r.AssessmentDuration, err = r.meter.Float64Histogram(
		"cae.assessment.duration",
		metric.WithDescription("End-to-end assessment run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	r.AssessmentCounter, err = r.meter.Int64Counter(
		"cae.assessment.runs",
		metric.WithDescription("Total assessment runs started"),
	)
	if err != nil {
		return nil, err
	}

	r.AssessmentFailures, err = r.meter.Int64Counter(
		"cae.assessment.failures",
		metric.WithDescription("Assessment runs that terminated in the failed state"),
	)
	if err != nil {
		return nil, err
	}

	r.AssessmentsRejected, err = r.meter.Int64Counter(
		"cae.assessment.rejected",
		metric.WithDescription("Assessment launches rejected for throttling or an in-flight run"),
	)
	if err != nil {
		return nil, err
	}

	r.ActiveAssessments, err = r.meter.Int64ObservableGauge(
		"cae.assessment.active",
		metric.WithDescription("Assessment runs currently tracked in memory"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.activeCount)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	r.RulesEvaluated, err = r.meter.Int64Counter(
		"cae.rules.evaluated",
		metric.WithDescription("STIG rules evaluated across all runs"),
	)
	if err != nil {
		return nil, err
	}

	r.ControlsAssessed, err = r.meter.Int64Counter(
		"cae.controls.assessed",
		metric.WithDescription("Controls assessed across all runs"),
	)
	if err != nil {
		return nil, err
	}

	r.PoamItemsCreated, err = r.meter.Int64Counter(
		"cae.poam.items_created",
		metric.WithDescription("POA&M items created by the generator"),
	)
	if err != nil {
		return nil, err
	}

	r.SystemRiskScore, err = r.meter.Float64Histogram(
		"cae.system.risk_score",
		metric.WithDescription("Composite system risk score at run completion"),
		metric.WithExplicitBucketBoundaries(0, 10, 20, 40, 60, 80, 100),
	)
	if err != nil {
		return nil, err
	}

	r.CompliancePercentage, err = r.meter.Float64Histogram(
		"cae.system.compliance_percentage",
		metric.WithDescription("Overall compliance percentage at run completion"),
		metric.WithExplicitBucketBoundaries(0, 25, 50, 80, 95, 100),
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// SetActiveAssessments records the current in-memory run count for the
// observable gauge.
func (r *Registry) SetActiveAssessments(n int64) {
	r.mu.Lock()
	r.activeCount = n
	r.mu.Unlock()
}

// RecordRun records the terminal outcome of one assessment run.
func (r *Registry) RecordRun(ctx context.Context, durationSeconds float64, failed bool, mode string) {
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	r.AssessmentCounter.Add(ctx, 1, attrs)
	r.AssessmentDuration.Record(ctx, durationSeconds, attrs)
	if failed {
		r.AssessmentFailures.Add(ctx, 1, attrs)
	}
}

// RecordRejection counts a refused launch.
func (r *Registry) RecordRejection(ctx context.Context, reason string) {
	r.AssessmentsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordPipeline records the stage volumes of one run.
func (r *Registry) RecordPipeline(ctx context.Context, rulesEvaluated, controlsAssessed, poamItems int) {
	r.RulesEvaluated.Add(ctx, int64(rulesEvaluated))
	r.ControlsAssessed.Add(ctx, int64(controlsAssessed))
	if poamItems > 0 {
		r.PoamItemsCreated.Add(ctx, int64(poamItems))
	}
}

// RecordOutcome records the final posture of a completed run.
func (r *Registry) RecordOutcome(ctx context.Context, riskScore, compliancePercentage float64) {
	r.SystemRiskScore.Record(ctx, riskScore)
	r.CompliancePercentage.Record(ctx, compliancePercentage)
}
