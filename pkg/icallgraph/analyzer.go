package icallgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"

	"github.com/715d/icallgraph/internal/analysis"
	"github.com/715d/icallgraph/internal/callgraph"
	"github.com/715d/icallgraph/internal/fixpoint"
	"github.com/715d/icallgraph/internal/srcloc"
	"github.com/715d/icallgraph/internal/typesig"
)

// AnalyzerOptions holds configuration options for the analyzer.
type AnalyzerOptions struct {
	MLTA bool // Narrow candidates by the struct field the callee was loaded from.
	TyPM bool // Filter candidates by the types each module can see.

	// MaxPhases caps the number of module-pass phases. It is forced to one
	// when TyPM is off.
	MaxPhases int

	// SrcRoot is joined onto the file names recorded in debug metadata.
	SrcRoot string

	// Progress, if set, is called after every module pass.
	Progress fixpoint.ProgressFunc
}

// DefaultAnalyzerOptions returns both refinements enabled and two phases.
func DefaultAnalyzerOptions() AnalyzerOptions {
	return AnalyzerOptions{MLTA: true, TyPM: true, MaxPhases: 2}
}

// Analyzer orchestrates the call graph construction.
type Analyzer struct {
	nameCache *analysis.NameCache
	opts      AnalyzerOptions
}

// NewAnalyzer creates a new analyzer with the given options.
func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
	return &Analyzer{
		nameCache: analysis.NewNameCache(),
		opts:      opts,
	}
}

// Config returns the analysis configuration derived from the options.
func (a *Analyzer) Config() analysis.Config {
	return analysis.Config{MLTA: a.opts.MLTA, TyPM: a.opts.TyPM, MaxPhases: a.opts.MaxPhases}
}

// Analyze resolves the indirect calls of mods.
func (a *Analyzer) Analyze(ctx context.Context, mods []analysis.Module) (*Result, error) {
	// Validate input.
	if len(mods) == 0 {
		return nil, errors.New("no modules provided")
	}

	// Step 1: Name the struct shapes of every module.
	irs := make([]*ir.Module, len(mods))
	for i, m := range mods {
		irs[i] = m.IR
	}
	table := typesig.NewTable(irs)

	// Step 2: Run the pass to a fixpoint.
	cfg := a.Config()
	actx := analysis.NewContext(cfg, mods)
	driver := &fixpoint.Driver{
		Pass:      callgraph.New(actx, typesig.NewEngine(table)),
		MaxPhases: cfg.Phases(),
		Progress:  a.opts.Progress,
	}
	report, err := driver.Run(ctx, mods)
	if err != nil {
		return nil, fmt.Errorf("call graph analysis: %w", err)
	}
	actx.Stats.SetPhases(report.Phases)

	// Step 3: Read the results back in discovery order.
	return &Result{
		Stats:     actx.Stats.Snapshot(),
		Report:    report,
		Types:     table.Stats(),
		CallSites: a.collectCallSites(actx),
		Context:   actx,
	}, nil
}

func (a *Analyzer) collectCallSites(actx *analysis.Context) []CallSiteResult {
	src := srcloc.NewSource(a.opts.SrcRoot)
	calls := actx.CallSites()
	out := make([]CallSiteResult, 0, len(calls))
	for _, cs := range calls {
		r := CallSiteResult{
			Caller:  a.nameCache.FuncName(cs.Caller, cs.Module),
			Module:  cs.Module,
			Layer:   cs.Layer,
			Callees: []string{},
		}
		if loc, ok := srcloc.Of(cs.Inst); ok {
			r.Location = loc
			r.Path = src.Path(loc)
			r.Source, _ = src.Line(loc)
		}
		for _, fi := range cs.Callees() {
			name := a.nameCache.FuncName(fi.Func, fi.Module)
			r.Callees = append(r.Callees, name)
			if loc, ok := srcloc.OfFunc(fi.Func); ok {
				if r.Definitions == nil {
					r.Definitions = make(map[string]srcloc.Location)
				}
				r.Definitions[name] = loc
			}
		}
		out = append(out, r)
	}
	return out
}
