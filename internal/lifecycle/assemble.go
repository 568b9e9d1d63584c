package lifecycle

import (
	"context"
	"fmt"

	"github.com/roach88/claimgov/internal/gate"
	"github.com/roach88/claimgov/internal/kernel"
	"github.com/roach88/claimgov/internal/materialize"
	"github.com/roach88/claimgov/internal/model"
	"github.com/roach88/claimgov/internal/rules"
	"github.com/roach88/claimgov/internal/store"
)

// Components lists what Assemble wires together.
type Components struct {
	Rules   []model.TransitionRule
	Kernel  kernel.Config
	Log     store.Log
	RunsDir string

	MaterializerOptions []materialize.Option
	KernelOptions       []kernel.Option
	GateOptions         []gate.Option
	PipelineOptions     []Option
}

// Assemble builds the production pipeline: the rule graph, a directory
// materializer under RunsDir, the four-stage kernel, and a gate whose
// projection is recovered from Log.
func Assemble(ctx context.Context, c Components) (*Pipeline, error) {
	if c.Log == nil {
		return nil, fmt.Errorf("assemble pipeline: no transition log")
	}
	if c.RunsDir == "" {
		return nil, fmt.Errorf("assemble pipeline: no runs directory")
	}

	engine, err := rules.Build(rules.RuleSet{AllowedTransitions: c.Rules})
	if err != nil {
		return nil, fmt.Errorf("assemble pipeline: %w", err)
	}
	k, err := kernel.New(c.Kernel, c.KernelOptions...)
	if err != nil {
		return nil, fmt.Errorf("assemble pipeline: kernel: %w", err)
	}
	g := gate.New(c.Log, c.GateOptions...)
	if err := g.Recover(ctx); err != nil {
		return nil, fmt.Errorf("assemble pipeline: %w", err)
	}
	m := materialize.NewDirMaterializer(c.RunsDir, c.MaterializerOptions...)

	return New(engine, m, k, g, c.PipelineOptions...), nil
}
