// Package fixpoint drives a module pass over a set of modules until it stops
// learning anything new.
//
// A run has three stages. Initialization and finalization visit every module
// repeatedly until a full round reports no change. Analysis visits every
// module once per phase and stops after a phase in which no module changed,
// or after the phase cap.
package fixpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/715d/icallgraph/internal/analysis"
)

// MaxSettleRounds bounds the initialization and finalization loops.
const MaxSettleRounds = 64

// ModulePass is an analysis that can be driven over modules.
type ModulePass interface {
	// ID names the pass in logs.
	ID() string

	// DoInitialization prepares per-module state and reports whether it
	// recorded anything new.
	DoInitialization(ctx context.Context, m analysis.Module) bool

	// DoModulePass analyzes one module and reports whether the shared state
	// changed. An error aborts the run.
	DoModulePass(ctx context.Context, m analysis.Module) (bool, error)

	// DoFinalization post-processes one module and reports whether it
	// changed anything.
	DoFinalization(ctx context.Context, m analysis.Module) bool
}

// ProgressFunc is called after each module of an analysis phase. phase and
// index count from 1.
type ProgressFunc func(phase, index, total int, module string, changed bool)

// Stage is the state of a run.
type Stage int

const (
	StageInit Stage = iota
	StageAnalyze
	StageFinalize
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageAnalyze:
		return "analyze"
	case StageFinalize:
		return "finalize"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Report summarizes a run.
type Report struct {
	// InitRounds is the number of initialization rounds, including the
	// final one that changed nothing.
	InitRounds int `json:"init_rounds"`

	// Phases is the number of analysis phases run.
	Phases int `json:"phases"`

	// ChangedPerPhase holds the number of changed modules per phase.
	ChangedPerPhase []int `json:"changed_per_phase"`

	// FinalRounds is the number of finalization rounds.
	FinalRounds int `json:"final_rounds"`
}

// Driver runs a ModulePass to a fixpoint.
type Driver struct {
	Pass ModulePass

	// MaxPhases caps the analysis phases. Values below 1 mean 1.
	MaxPhases int

	// Progress, if set, replaces the default debug log line per module.
	Progress ProgressFunc
}

// Run drives the pass over mods. Cancellation is checked between modules;
// a module is never interrupted.
func (d *Driver) Run(ctx context.Context, mods []analysis.Module) (Report, error) {
	var rep Report
	maxPhases := max(d.MaxPhases, 1)
	id := d.Pass.ID()

	stage := StageInit
	for stage != StageDone {
		slog.Debug("entering stage", "pass", id, "stage", stage, "modules", len(mods))
		switch stage {
		case StageInit:
			rounds, err := d.settle(ctx, mods, d.Pass.DoInitialization)
			rep.InitRounds = rounds
			if err != nil {
				return rep, err
			}
			stage = StageAnalyze

		case StageAnalyze:
			changed, err := d.phase(ctx, mods, rep.Phases+1)
			if err != nil {
				return rep, err
			}
			rep.Phases++
			rep.ChangedPerPhase = append(rep.ChangedPerPhase, changed)
			slog.Debug("phase done", "pass", id, "phase", rep.Phases, "changed_modules", changed)
			if changed == 0 || rep.Phases >= maxPhases {
				stage = StageFinalize
			}

		case StageFinalize:
			rounds, err := d.settle(ctx, mods, d.Pass.DoFinalization)
			rep.FinalRounds = rounds
			if err != nil {
				return rep, err
			}
			stage = StageDone
		}
	}
	slog.Debug("pass done", "pass", id,
		"init_rounds", rep.InitRounds,
		"phases", rep.Phases,
		"final_rounds", rep.FinalRounds)
	return rep, nil
}

// settle repeats step over all modules until a round changes nothing.
func (d *Driver) settle(ctx context.Context, mods []analysis.Module, step func(context.Context, analysis.Module) bool) (int, error) {
	for round := 1; round <= MaxSettleRounds; round++ {
		changed := false
		for _, m := range mods {
			if err := ctx.Err(); err != nil {
				return round, err
			}
			if step(ctx, m) {
				changed = true
			}
		}
		if !changed {
			return round, nil
		}
	}
	slog.Warn("pass did not settle", "pass", d.Pass.ID(), "rounds", MaxSettleRounds)
	return MaxSettleRounds, nil
}

// phase runs one analysis phase and returns the number of changed modules.
func (d *Driver) phase(ctx context.Context, mods []analysis.Module, phase int) (int, error) {
	changed := 0
	for i, m := range mods {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		ok, err := d.Pass.DoModulePass(ctx, m)
		if err != nil {
			return changed, fmt.Errorf("phase %d: module %s: %w", phase, m.Path, err)
		}
		if ok {
			changed++
		}
		if d.Progress != nil {
			d.Progress(phase, i+1, len(mods), m.Path, ok)
		} else {
			slog.Debug("module analyzed",
				"pass", d.Pass.ID(),
				"phase", phase,
				"index", i+1,
				"total", len(mods),
				"module", m.Path,
				"changed", ok)
		}
	}
	return changed, nil
}
