// Package callgraph resolves the targets of indirect calls with multi-layer
// type analysis.
//
// The pass tabulates two sets against each other, much like rapid type
// analysis does: the address-taken functions, grouped by function type, and
// the indirect call sites, grouped by the function type they invoke. Every
// address-taken function of a call's type is a first layer candidate. When
// the callee pointer was loaded from a struct field, the second layer keeps
// only the candidates that were stored into a field of the same struct type
// and index, provided at least one was.
//
// With type-based module visibility enabled, a function with local linkage
// is only a candidate for calls in other modules if its address escaped in a
// way the analysis cannot follow, one of the struct types it was stored
// into is visible in the calling module, or the calling module refers to an
// exported global the function was stored into.
package callgraph

import (
	"context"
	"errors"
	"log/slog"

	"github.com/llir/llvm/ir"

	"github.com/715d/icallgraph/internal/analysis"
	"github.com/715d/icallgraph/internal/layout"
	"github.com/715d/icallgraph/internal/typesig"
)

// ErrNoSignature is returned when an indirect call has no function type.
var ErrNoSignature = errors.New("indirect call without a function type")

// Pass is the call-graph module pass. It implements fixpoint.ModulePass.
type Pass struct {
	ctx    *analysis.Context
	engine *typesig.Engine

	layouts    map[string]*layout.Layout
	owner      map[*ir.Func]string
	discovered map[string]bool
	finalized  bool
}

// New returns a pass recording into ctx and computing signatures with
// engine.
func New(ctx *analysis.Context, engine *typesig.Engine) *Pass {
	p := &Pass{
		ctx:        ctx,
		engine:     engine,
		layouts:    make(map[string]*layout.Layout),
		owner:      make(map[*ir.Func]string),
		discovered: make(map[string]bool),
	}
	for _, m := range ctx.Modules {
		if m.IR == nil {
			continue
		}
		for _, f := range m.IR.Funcs {
			p.owner[f] = m.Path
		}
	}
	return p
}

// ID implements fixpoint.ModulePass.
func (p *Pass) ID() string {
	return "CallGraph"
}

// DoInitialization registers the types and functions visible in m and
// discovers its address-taken functions and indirect calls.
func (p *Pass) DoInitialization(_ context.Context, m analysis.Module) bool {
	if m.IR == nil {
		return false
	}
	changed := p.registerVisible(m)
	found, err := p.discover(m)
	if err != nil {
		// DoModulePass retries the module and returns the error.
		slog.Debug("discovery failed", "module", m.Path, "error", err)
	}
	return changed || found
}

// DoModulePass resolves the indirect calls of m against everything known so
// far. It reports a change when discovery learned something or a call's
// candidates differ from the previous phase.
func (p *Pass) DoModulePass(_ context.Context, m analysis.Module) (bool, error) {
	if m.IR == nil {
		return false, nil
	}
	changed, err := p.discover(m)
	if err != nil {
		return false, err
	}
	for _, cs := range p.ctx.CallSitesIn(m.Path) {
		if p.resolve(cs) {
			changed = true
		}
	}
	return changed, nil
}

// DoFinalization computes the statistics once the last phase ran.
func (p *Pass) DoFinalization(_ context.Context, _ analysis.Module) bool {
	if p.finalized {
		return false
	}
	p.finalized = true
	p.ctx.Stats.Record(p.ctx.CallSites(), len(p.ctx.AddressTaken()))
	return false
}

// layoutOf returns the data layout of a module.
func (p *Pass) layoutOf(m analysis.Module) *layout.Layout {
	l, ok := p.layouts[m.Path]
	if !ok {
		l = layout.Parse(m.IR.DataLayout)
		p.layouts[m.Path] = l
	}
	return l
}
