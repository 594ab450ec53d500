package analysis

import (
	"github.com/llir/llvm/ir"

	"github.com/715d/icallgraph/internal/typesig"
)

// Config selects the refinements an analysis applies.
type Config struct {
	// MLTA enables the second, field-based layer.
	MLTA bool

	// TyPM enables cross-module visibility filtering and repeated phases.
	TyPM bool

	// MaxPhases caps the number of analysis phases. It is forced to 1 when
	// TyPM is disabled.
	MaxPhases int
}

// Phases returns the effective phase cap.
func (c Config) Phases() int {
	if !c.TyPM || c.MaxPhases < 1 {
		return 1
	}
	return c.MaxPhases
}

// Context is the state of one analysis run. It is created once per run,
// mutated only by the passes the run drives and read afterwards. It is not
// safe for concurrent use.
type Context struct {
	Config  Config
	Modules []Module
	Stats   *Stats

	// defs maps the names of externally visible definitions to the body
	// every declaration or discardable copy of the name resolves to: the
	// first strong definition, else the first discardable one.
	defs map[string]*ir.Func

	funcs     map[*ir.Func]*FuncInfo
	funcOrder []*FuncInfo
	bySig     map[typesig.Signature][]*FuncInfo

	calls     map[*ir.InstCall]*CallSite
	callOrder []*CallSite
	byModule  map[string][]*CallSite

	visible map[typesig.Signature]struct{}

	// refs maps a module path to the exported globals it defines or
	// declares.
	refs map[string]map[string]struct{}
}

// NewContext creates the context of a run over mods.
func NewContext(cfg Config, mods []Module) *Context {
	c := &Context{
		Config:   cfg,
		Modules:  mods,
		Stats:    NewStats(),
		defs:     make(map[string]*ir.Func),
		funcs:    make(map[*ir.Func]*FuncInfo),
		bySig:    make(map[typesig.Signature][]*FuncInfo),
		calls:    make(map[*ir.InstCall]*CallSite),
		byModule: make(map[string][]*CallSite),
		visible:  make(map[typesig.Signature]struct{}),
		refs:     make(map[string]map[string]struct{}),
	}
	for _, m := range mods {
		if m.IR == nil {
			continue
		}
		for _, f := range m.IR.Funcs {
			if len(f.Blocks) == 0 || IsLocal(f) {
				continue
			}
			if prev, ok := c.defs[f.Name()]; !ok || (IsDiscardable(prev) && !IsDiscardable(f)) {
				c.defs[f.Name()] = f
			}
		}
	}
	return c
}

// Canonical returns the definition a declaration or discardable copy of f
// refers to, or f itself.
func (c *Context) Canonical(f *ir.Func) *ir.Func {
	if f == nil || IsLocal(f) || (len(f.Blocks) > 0 && !IsDiscardable(f)) {
		return f
	}
	if def, ok := c.defs[f.Name()]; ok {
		return def
	}
	return f
}

// Func returns the FuncInfo of an address-taken function.
func (c *Context) Func(f *ir.Func) (*FuncInfo, bool) {
	fi, ok := c.funcs[f]
	return fi, ok
}

// AddAddressTaken registers fi unless its function is already known. It
// returns the registered FuncInfo and whether fi was added.
func (c *Context) AddAddressTaken(fi *FuncInfo) (*FuncInfo, bool) {
	if prev, ok := c.funcs[fi.Func]; ok {
		return prev, false
	}
	c.funcs[fi.Func] = fi
	c.funcOrder = append(c.funcOrder, fi)
	c.bySig[fi.Sig] = append(c.bySig[fi.Sig], fi)
	return fi, true
}

// AddressTaken returns every address-taken function in discovery order.
func (c *Context) AddressTaken() []*FuncInfo {
	return c.funcOrder
}

// FuncsBySig returns the address-taken functions with signature sig.
func (c *Context) FuncsBySig(sig typesig.Signature) []*FuncInfo {
	return c.bySig[sig]
}

// CallSite returns the record of an indirect call.
func (c *Context) CallSite(inst *ir.InstCall) (*CallSite, bool) {
	cs, ok := c.calls[inst]
	return cs, ok
}

// AddCallSite registers cs unless its instruction is already known. It
// returns the registered record and whether cs was added.
func (c *Context) AddCallSite(cs *CallSite) (*CallSite, bool) {
	if prev, ok := c.calls[cs.Inst]; ok {
		return prev, false
	}
	c.calls[cs.Inst] = cs
	c.callOrder = append(c.callOrder, cs)
	c.byModule[cs.Module] = append(c.byModule[cs.Module], cs)
	return cs, true
}

// CallSites returns every indirect call site in discovery order.
func (c *Context) CallSites() []*CallSite {
	return c.callOrder
}

// CallSitesIn returns the indirect call sites of one module.
func (c *Context) CallSitesIn(module string) []*CallSite {
	return c.byModule[module]
}

// Callees returns the candidate targets of an indirect call, ordered by name
// then module. Unknown instructions have none.
func (c *Context) Callees(inst *ir.InstCall) []*ir.Func {
	cs, ok := c.calls[inst]
	if !ok {
		return nil
	}
	out := make([]*ir.Func, 0, len(cs.callees))
	for _, fi := range cs.callees {
		out = append(out, fi.Func)
	}
	return out
}

// MarkVisible records a salted signature and reports whether it was new.
func (c *Context) MarkVisible(salted typesig.Signature) bool {
	if _, ok := c.visible[salted]; ok {
		return false
	}
	c.visible[salted] = struct{}{}
	return true
}

// Visible reports whether a salted signature was recorded.
func (c *Context) Visible(salted typesig.Signature) bool {
	_, ok := c.visible[salted]
	return ok
}

// VisibleIn reports whether the type with signature sig is visible in
// module.
func (c *Context) VisibleIn(module string, sig typesig.Signature) bool {
	return c.Visible(typesig.Salted(module, sig))
}

// MarkReferenced records that module refers to the exported global named
// global and reports whether that was new.
func (c *Context) MarkReferenced(module, global string) bool {
	names, ok := c.refs[module]
	if !ok {
		names = make(map[string]struct{})
		c.refs[module] = names
	}
	if _, ok := names[global]; ok {
		return false
	}
	names[global] = struct{}{}
	return true
}

// References reports whether module refers to the exported global named
// global.
func (c *Context) References(module, global string) bool {
	_, ok := c.refs[module][global]
	return ok
}
