package callgraph

import (
	"github.com/715d/icallgraph/internal/analysis"
	"github.com/715d/icallgraph/internal/typesig"
)

// resolve recomputes the candidates of cs and reports whether they changed.
func (p *Pass) resolve(cs *analysis.CallSite) bool {
	candidates := p.firstLayer(cs)
	layer := analysis.LayerSignature

	if p.ctx.Config.MLTA && cs.Provenance.Known {
		if refined := secondLayer(candidates, cs.Provenance.Disc); len(refined) > 0 {
			candidates = refined
			layer = analysis.LayerField
		}
	}

	cs.Layer = layer
	return cs.SetCallees(candidates)
}

// firstLayer returns the address-taken functions of the call's type.
func (p *Pass) firstLayer(cs *analysis.CallSite) []*analysis.FuncInfo {
	funcs := p.ctx.FuncsBySig(cs.Sig)
	if !p.ctx.Config.TyPM {
		return funcs
	}
	out := make([]*analysis.FuncInfo, 0, len(funcs))
	for _, fi := range funcs {
		if p.reachable(cs, fi) {
			out = append(out, fi)
		}
	}
	return out
}

// reachable reports whether fi can be the target of a call in cs's module.
// Functions with external linkage always can. A local function of another
// module needs an escape the analysis cannot track, a struct type it was
// stored into that the calling module also uses, or an exported global
// holding it that the calling module refers to.
func (p *Pass) reachable(cs *analysis.CallSite, fi *analysis.FuncInfo) bool {
	if !fi.Local || fi.Module == cs.Module || fi.EscapesModule() {
		return true
	}
	for _, owner := range fi.Owners() {
		if p.ctx.VisibleIn(cs.Module, owner) {
			return true
		}
	}
	for _, g := range fi.Published() {
		if p.ctx.References(cs.Module, g) {
			return true
		}
	}
	return false
}

// secondLayer keeps the candidates that were stored into the field disc
// identifies.
func secondLayer(candidates []*analysis.FuncInfo, disc typesig.Signature) []*analysis.FuncInfo {
	var out []*analysis.FuncInfo
	for _, fi := range candidates {
		if fi.HasEvidence(disc) {
			out = append(out, fi)
		}
	}
	return out
}
