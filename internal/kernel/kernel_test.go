package kernel

import (
	"context"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/roach88/claimgov/internal/materialize"
	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/testutil"
)

// materializedInput writes a real bundle for ev and returns a kernel input.
func materializedInput(t *testing.T, ev model.EvidenceSubmission, faults materialize.Faults) Input {
	t.Helper()
	clock := testutil.NewDeterministicClock()
	m := materialize.NewDirMaterializer(t.TempDir(),
		materialize.WithIDGenerator(testutil.NewSequentialRunIDs("run")),
		materialize.WithClock(clock.Now),
	)
	run, err := m.Materialize(context.Background(), materialize.Request{
		Claim:    model.NewClaim(ev.ClaimID),
		Evidence: ev,
		Attempt:  1,
		Faults:   faults,
	})
	require.NoError(t, err)

	rule := model.TransitionRule{From: ev.Transition.From, To: ev.Transition.To}
	for _, r := range testutil.DemoRules() {
		if r.Transition() == ev.Transition {
			rule = r
		}
	}

	claim := model.NewClaim(ev.ClaimID)
	claim.State = ev.Transition.From
	return Input{Claim: claim, Evidence: ev, Rule: rule, Artifact: run.Artifact, Files: run.Files}
}

// memInput builds an input over an in-memory bundle whose manifest matches files.
func memInput(t *testing.T, ev model.EvidenceSubmission, files map[string]string) Input {
	t.Helper()
	fsys := fstest.MapFS{}
	sums := map[string]string{}
	for name, content := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(content)}
		d, err := model.Digest(model.AlgoSHA256, strings.NewReader(content))
		require.NoError(t, err)
		sums[name] = d
	}
	art := model.RunArtifact{
		RunID:           "run-mem",
		ContractVersion: model.ContractVersion,
		Checksums:       sums,
		Approvals:       ev.Approvals,
		StructuralFields: map[string]any{
			model.FileContract: true,
			model.FileApproval: true,
			model.FileManifest: true,
		},
		Descriptor: map[string]any{
			"contract_version": model.ContractVersion,
			"run_id":           "run-mem",
			"created_utc":      "2026-01-01T00:00:00Z",
		},
	}
	claim := model.NewClaim(ev.ClaimID)
	claim.State = ev.Transition.From
	return Input{
		Claim:    claim,
		Evidence: ev,
		Rule:     model.TransitionRule{From: ev.Transition.From, To: ev.Transition.To, RequiredApprovalRoles: []string{"reviewer"}},
		Artifact: art,
		Files:    fsys,
	}
}

func newTestKernel(t *testing.T, cfg Config, opts ...Option) *Kernel {
	t.Helper()
	clock := testutil.NewDeterministicClock()
	opts = append([]Option{WithClock(clock.Now), WithMeterProvider(sdkmetric.NewMeterProvider())}, opts...)
	k, err := New(cfg, opts...)
	require.NoError(t, err)
	return k
}

func TestKernel_AllowsValidAttempt(t *testing.T) {
	k := newTestKernel(t, DefaultConfig())
	in := materializedInput(t, testutil.DemoEvidence()[1], materialize.Faults{})

	report := k.Evaluate(context.Background(), in)

	assert.True(t, report.Decision.Allow)
	assert.Empty(t, report.Decision.FailedStage)
	assert.Equal(t, []string{"structural: ok", "authority: ok", "integrity: ok", "policy: ok"}, report.Decision.Reasons)
	assert.Equal(t, testutil.Epoch, report.Decision.EvaluatedAt)
	require.Len(t, report.Results, 4)
	for _, r := range report.Results {
		assert.True(t, r.Passed, r.Stage)
	}
}

func TestKernel_DeniesSelfApproval(t *testing.T) {
	k := newTestKernel(t, DefaultConfig())
	in := materializedInput(t, testutil.DemoEvidence()[2], materialize.Faults{}) // alice approves alice

	d := k.Decide(context.Background(), in)

	assert.False(t, d.Allow)
	assert.Equal(t, model.StageAuthority, d.FailedStage)
	assert.Equal(t, []string{
		"structural: ok",
		"authority: submitter alice is also an approver (self-approval)",
	}, d.Reasons)
}

func TestKernel_DeniesTamperedReport(t *testing.T) {
	k := newTestKernel(t, DefaultConfig())
	in := materializedInput(t, testutil.DemoEvidence()[1], materialize.Faults{TamperReport: true})

	report := k.Evaluate(context.Background(), in)

	assert.False(t, report.Decision.Allow)
	assert.Equal(t, model.StageIntegrity, report.Decision.FailedStage)
	require.Len(t, report.Results, 3)
	require.Len(t, report.Results[2].Reasons, 1)
	assert.True(t, strings.HasPrefix(report.Results[2].Reasons[0], "report.md: sha256 mismatch"))
}

func TestKernel_DeniesMissingStructure(t *testing.T) {
	k := newTestKernel(t, DefaultConfig())
	in := materializedInput(t, testutil.DemoEvidence()[1], materialize.Faults{OmitFiles: []string{model.FileApproval}})

	report := k.Evaluate(context.Background(), in)

	assert.Equal(t, model.StageStructural, report.Decision.FailedStage)
	require.Len(t, report.Results, 1)
	assert.Contains(t, report.Results[0].Reasons, "required file approval.json missing")
}

func TestKernel_FailFast(t *testing.T) {
	var calls []model.StageID
	stage := func(id model.StageID, pass bool) Stage {
		return StageFunc{StageID: id, Fn: func(Input) []string {
			calls = append(calls, id)
			if pass {
				return nil
			}
			return []string{"boom"}
		}}
	}
	k := newTestKernel(t, DefaultConfig(), WithStages(
		stage(model.StageStructural, true),
		stage(model.StageAuthority, false),
		stage(model.StageIntegrity, true),
		stage(model.StagePolicy, true),
	))

	d := k.Decide(context.Background(), Input{})

	assert.False(t, d.Allow)
	assert.Equal(t, model.StageAuthority, d.FailedStage)
	assert.Equal(t, []string{"structural: ok", "authority: boom"}, d.Reasons)
	assert.Equal(t, []model.StageID{model.StageStructural, model.StageAuthority}, calls)
}

func TestKernel_StageOrder(t *testing.T) {
	k := newTestKernel(t, DefaultConfig())
	assert.Equal(t, model.Stages, k.Stages())
}

func TestKernel_InvalidConfig(t *testing.T) {
	_, err := New(Config{ContractConstraint: "not a constraint"})
	assert.Error(t, err)

	_, err = New(Config{Expressions: []Expression{{Name: "bad", Expr: "claim.("}}})
	assert.Error(t, err)
}

func TestKernel_ConcurrentDecisions(t *testing.T) {
	k := newTestKernel(t, DefaultConfig())
	in := materializedInput(t, testutil.DemoEvidence()[1], materialize.Faults{})

	const n = 20
	var wg sync.WaitGroup
	allowed := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			allowed[idx] = k.Decide(context.Background(), in).Allow
		}(i)
	}
	wg.Wait()

	for i, ok := range allowed {
		assert.True(t, ok, "decision %d", i)
	}
}

func TestKernel_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	k := newTestKernel(t, DefaultConfig(), WithMeterProvider(mp))

	ctx := context.Background()
	k.Decide(ctx, materializedInput(t, testutil.DemoEvidence()[1], materialize.Faults{}))
	k.Decide(ctx, materializedInput(t, testutil.DemoEvidence()[2], materialize.Faults{}))
	k.Decide(ctx, materializedInput(t, testutil.DemoEvidence()[1], materialize.Faults{}))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, m.Name)
			for _, dp := range sum.DataPoints {
				key := m.Name
				if v, ok := dp.Attributes.Value(attribute.Key("outcome")); ok {
					key += "/" + v.AsString()
				}
				if v, ok := dp.Attributes.Value(attribute.Key("stage")); ok {
					key += "/" + v.AsString()
				}
				counts[key] += dp.Value
			}
		}
	}

	assert.Equal(t, map[string]int64{
		MetricDecisions + "/allow":         2,
		MetricDecisions + "/deny":          1,
		MetricStageFailures + "/authority": 1,
	}, counts)
}
