package kernel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/claimgov/internal/model"
)

// Config selects the kernel's accepted contract and policy.
type Config struct {
	// ContractVersion is the exact accepted contract version.
	ContractVersion string

	// ContractConstraint, when set, replaces the exact match with a semver
	// constraint (e.g. "~0.1").
	ContractConstraint string

	Thresholds  []Threshold
	Expressions []Expression

	// HashWorkers bounds concurrent artifact hashing in the integrity stage.
	HashWorkers int
}

// DefaultConfig accepts the current contract version with no extra policy.
func DefaultConfig() Config {
	return Config{ContractVersion: model.ContractVersion, HashWorkers: 4}
}

// Decider is the enforcement capability consumed by the lifecycle pipeline.
type Decider interface {
	Evaluate(ctx context.Context, in Input) Report
}

// Report is a decision plus the per-stage results that produced it.
// Results holds every stage evaluated, ending at the first failure.
type Report struct {
	Decision model.Decision
	Results  []Result
}

// Kernel runs the enforcement stages in order.
// Safe for concurrent use.
type Kernel struct {
	stages        []Stage
	now           func() time.Time
	meterProvider metric.MeterProvider
	metrics       *metrics
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithClock sets the clock stamping decisions. Default is time.Now.
func WithClock(now func() time.Time) Option {
	return func(k *Kernel) { k.now = now }
}

// WithMeterProvider sets the meter provider for decision counters.
// Default is the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(k *Kernel) { k.meterProvider = mp }
}

// WithStages replaces the standard stages. Used to run a subset in isolation.
func WithStages(stages ...Stage) Option {
	return func(k *Kernel) { k.stages = stages }
}

// New builds a kernel with the standard structural, authority, integrity
// and policy stages.
func New(cfg Config, opts ...Option) (*Kernel, error) {
	if cfg.ContractVersion == "" {
		cfg.ContractVersion = model.ContractVersion
	}

	structural, err := NewStructuralStage(cfg.ContractVersion, cfg.ContractConstraint)
	if err != nil {
		return nil, err
	}
	policy, err := NewPolicyStage(cfg.Thresholds, cfg.Expressions)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		stages: []Stage{
			structural,
			AuthorityStage{},
			NewIntegrityStage(cfg.HashWorkers),
			policy,
		},
		now:           time.Now,
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(k)
	}

	k.metrics, err = newMetrics(k.meterProvider)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// Stages returns the stage ids in evaluation order.
func (k *Kernel) Stages() []model.StageID {
	ids := make([]model.StageID, len(k.stages))
	for i, s := range k.stages {
		ids[i] = s.ID()
	}
	return ids
}

// Evaluate runs stages until one fails. The context only carries telemetry;
// a started decision is never cancelled.
func (k *Kernel) Evaluate(ctx context.Context, in Input) Report {
	var (
		results []Result
		reasons []string
	)
	for _, stage := range k.stages {
		res := stage.Check(in)
		results = append(results, res)
		if !res.Passed {
			for _, r := range res.Reasons {
				reasons = append(reasons, string(res.Stage)+": "+r)
			}
			d := model.Denied(res.Stage, k.now(), reasons...)
			k.metrics.record(ctx, d)
			return Report{Decision: d, Results: results}
		}
		reasons = append(reasons, string(res.Stage)+": ok")
	}

	d := model.Allowed(k.now(), reasons...)
	k.metrics.record(ctx, d)
	return Report{Decision: d, Results: results}
}

// Decide returns only the decision.
func (k *Kernel) Decide(ctx context.Context, in Input) model.Decision {
	return k.Evaluate(ctx, in).Decision
}
