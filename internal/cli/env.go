package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/claimgov/internal/config"
	"github.com/roach88/claimgov/internal/kernel"
	"github.com/roach88/claimgov/internal/lifecycle"
	"github.com/roach88/claimgov/internal/materialize"
	"github.com/roach88/claimgov/internal/store"
	"github.com/roach88/claimgov/internal/workspace"
)

// Overrides replaces nondeterministic sources. Tests set them to get
// byte-stable output; production leaves them nil.
type Overrides struct {
	RunIDs materialize.IDGenerator
	Now    func() time.Time
}

func (o Overrides) materializerOptions(cfg *config.Config) []materialize.Option {
	opts := []materialize.Option{materialize.WithDigestAlgorithm(cfg.Materializer.Digest)}
	if o.RunIDs != nil {
		opts = append(opts, materialize.WithIDGenerator(o.RunIDs))
	}
	if o.Now != nil {
		opts = append(opts, materialize.WithClock(o.Now))
	}
	return opts
}

// openLog opens the configured transition log, creating the parent
// directory of file-backed logs.
func openLog(ctx context.Context, cfg *config.Config) (store.Log, error) {
	switch cfg.Log.Driver {
	case store.DriverSQLite, store.DriverJSONL:
		if dir := filepath.Dir(cfg.Log.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, WrapExitError(ExitCommandError, "failed to create log directory", err)
			}
		}
	}
	l, err := store.OpenLog(ctx, cfg.Log.Driver, cfg.Log.DSN)
	var chainErr *store.ChainError
	if errors.As(err, &chainErr) {
		return nil, WrapExitError(ExitFailure, "transition log failed verification", err)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open transition log", err)
	}
	slog.Debug("transition log open", "driver", cfg.Log.Driver, "dsn", cfg.Log.DSN)
	return l, nil
}

func closeLog(l store.Log) {
	if err := l.Close(); err != nil {
		slog.Error("error closing transition log", "error", err)
	}
}

// loadWorkspace reads the workspace at dir.
func loadWorkspace(dir string) (*workspace.Workspace, error) {
	ws, err := workspace.Load(dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load workspace", err)
	}
	slog.Debug("workspace loaded",
		"root", dir,
		"claims", len(ws.Claims),
		"rules", len(ws.Rules.AllowedTransitions),
		"evidence", len(ws.Evidence),
	)
	return ws, nil
}

// assemble wires the production pipeline for ws over l.
func assemble(ctx context.Context, cfg *config.Config, ws *workspace.Workspace, l store.Log, o Overrides) (*lifecycle.Pipeline, error) {
	c := lifecycle.Components{
		Rules:               ws.Rules.AllowedTransitions,
		Kernel:              cfg.KernelConfig(),
		Log:                 l,
		RunsDir:             cfg.Runs.Dir,
		MaterializerOptions: o.materializerOptions(cfg),
		PipelineOptions:     []lifecycle.Option{lifecycle.WithMaterializeTimeout(cfg.Materializer.Timeout)},
	}
	if o.Now != nil {
		c.PipelineOptions = append(c.PipelineOptions, lifecycle.WithClock(o.Now))
		c.KernelOptions = append(c.KernelOptions, kernel.WithClock(o.Now))
	}
	p, err := lifecycle.Assemble(ctx, c)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to assemble pipeline", err)
	}
	return p, nil
}

func describeDriver(cfg *config.Config) string {
	if cfg.Log.Driver == store.DriverMemory {
		return cfg.Log.Driver
	}
	return fmt.Sprintf("%s:%s", cfg.Log.Driver, cfg.Log.DSN)
}
