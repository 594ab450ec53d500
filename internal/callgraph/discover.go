package callgraph

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"

	"github.com/715d/icallgraph/internal/analysis"
	"github.com/715d/icallgraph/internal/layout"
	"github.com/715d/icallgraph/internal/srcloc"
)

// maxConstantNodes bounds the walk over one constant.
const maxConstantNodes = 1 << 16

type operander interface {
	Operands() []*value.Value
}

// discover records the address-taken functions, their enclosing-type
// evidence and the indirect call sites of m. A module is scanned once; later
// calls report no change.
func (p *Pass) discover(m analysis.Module) (bool, error) {
	if p.discovered[m.Path] {
		return false, nil
	}
	l := p.layoutOf(m)

	changed := false
	for _, g := range m.IR.Globals {
		if g.Init == nil {
			continue
		}
		// Functions in the initializer of an exported global are reachable
		// by name from every module that refers to it.
		via := ""
		if !analysis.IsLocalGlobal(g) {
			via = g.Name()
		}
		if p.visitConstant(m, g.Init, analysis.EscapeGlobal, via) {
			changed = true
		}
	}
	for _, f := range m.IR.Funcs {
		for _, b := range f.Blocks {
			for _, inst := range b.Insts {
				found, err := p.visitInst(m, l, f, inst)
				if err != nil {
					return changed, err
				}
				if found {
					changed = true
				}
			}
			switch term := b.Term.(type) {
			case *ir.TermRet:
				if term.X != nil && p.visitOperand(m, term.X, analysis.EscapeReturn) {
					changed = true
				}
			case *ir.TermInvoke:
				for _, arg := range term.Args {
					if p.visitOperand(m, unwrapArg(arg), analysis.EscapeArgument) {
						changed = true
					}
				}
			}
		}
	}
	p.discovered[m.Path] = true
	return changed, nil
}

// visitInst processes one instruction of f.
func (p *Pass) visitInst(m analysis.Module, l *layout.Layout, f *ir.Func, inst ir.Instruction) (bool, error) {
	changed := false
	switch inst := inst.(type) {
	case *ir.InstCall:
		for _, arg := range inst.Args {
			if p.visitOperand(m, unwrapArg(arg), analysis.EscapeArgument) {
				changed = true
			}
		}
		// The callee position never makes a function address-taken.
		switch layout.StripCasts(inst.Callee).(type) {
		case *ir.Func, *ir.InlineAsm:
			return changed, nil
		}
		added, err := p.addCallSite(m, l, f, inst)
		return changed || added, err

	case *ir.InstStore:
		fn, ok := layout.StripCasts(inst.Src).(*ir.Func)
		if !ok {
			return p.visitOperand(m, inst.Src, analysis.EscapeStore), nil
		}
		fi, added := p.addrTaken(m, fn, analysis.EscapeStore)
		changed = added
		if owner, field, ok := l.Resolve(inst.Dst); ok {
			if fi.AddEvidence(p.engine.Type(owner), field) {
				changed = true
			}
		}
		if g, ok := baseGlobal(inst.Dst); ok && !analysis.IsLocalGlobal(g) {
			if fi.Publish(g.Name()) {
				changed = true
			}
		}
		return changed, nil

	default:
		ops, ok := inst.(operander)
		if !ok {
			return false, nil
		}
		for _, op := range ops.Operands() {
			if op == nil || *op == nil {
				continue
			}
			if p.visitOperand(m, *op, analysis.EscapeOther) {
				changed = true
			}
		}
		return changed, nil
	}
}

// visitOperand records a function address flowing through v, directly or
// inside a constant.
func (p *Pass) visitOperand(m analysis.Module, v value.Value, kind analysis.EscapeKind) bool {
	switch v := layout.StripCasts(v).(type) {
	case *ir.Func:
		_, changed := p.addrTaken(m, v, kind)
		return changed
	case *ir.Global:
		return false
	case constant.Constant:
		return p.visitConstant(m, v, kind, "")
	default:
		return false
	}
}

// visitConstant walks a constant aggregate or expression. A function stored
// directly in a field of a constant struct gets that field as evidence.
// Every function found is published through the global via, if set.
func (p *Pass) visitConstant(m analysis.Module, c constant.Constant, kind analysis.EscapeKind, via string) bool {
	changed := false
	found := func(fn *ir.Func) *analysis.FuncInfo {
		fi, added := p.addrTaken(m, fn, kind)
		if added {
			changed = true
		}
		if via != "" && fi.Publish(via) {
			changed = true
		}
		return fi
	}

	stack := []value.Value{c}
	for range maxConstantNodes {
		if len(stack) == 0 {
			break
		}
		cur := layout.StripCasts(stack[len(stack)-1])
		stack = stack[:len(stack)-1]

		switch cur := cur.(type) {
		case *ir.Func:
			found(cur)
		case *constant.Struct:
			owner := p.engine.Type(cur.Typ)
			for i, field := range cur.Fields {
				fn, ok := layout.StripCasts(field).(*ir.Func)
				if !ok {
					stack = append(stack, field)
					continue
				}
				if found(fn).AddEvidence(owner, i) {
					changed = true
				}
			}
		case *constant.Array:
			for _, e := range cur.Elems {
				stack = append(stack, e)
			}
		case *constant.Vector:
			for _, e := range cur.Elems {
				stack = append(stack, e)
			}
		case *constant.ExprPtrToInt:
			stack = append(stack, cur.From)
		case *constant.ExprIntToPtr:
			stack = append(stack, cur.From)
		case *constant.ExprGetElementPtr:
			stack = append(stack, cur.Src)
		case *constant.ExprSelect:
			stack = append(stack, cur.X, cur.Y)
		}
	}
	return changed
}

// baseGlobal returns the global an address points into, looking through
// casts and getelementptr.
func baseGlobal(addr value.Value) (*ir.Global, bool) {
	v := addr
	for range layout.MaxGEPDepth {
		switch cur := layout.StripCasts(v).(type) {
		case *ir.Global:
			return cur, true
		case *constant.ExprGetElementPtr:
			v = cur.Src
		case *ir.InstGetElementPtr:
			v = cur.Src
		default:
			return nil, false
		}
	}
	return nil, false
}

// addrTaken registers f, resolved to its definition, as address-taken and
// adds kind to its escapes.
func (p *Pass) addrTaken(m analysis.Module, f *ir.Func, kind analysis.EscapeKind) (*analysis.FuncInfo, bool) {
	f = p.ctx.Canonical(f)
	fi, ok := p.ctx.Func(f)
	changed := false
	if !ok {
		module, known := p.owner[f]
		if !known {
			module = m.Path
		}
		fi, changed = p.ctx.AddAddressTaken(analysis.NewFuncInfo(f, module, p.engine.Func(f, false)))
	}
	if fi.MarkEscape(kind) {
		changed = true
	}
	return fi, changed
}

// addCallSite records an indirect call.
func (p *Pass) addCallSite(m analysis.Module, l *layout.Layout, f *ir.Func, call *ir.InstCall) (bool, error) {
	if _, ok := p.ctx.CallSite(call); ok {
		return false, nil
	}
	sig, ok := p.engine.Call(call)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNoSignature, where(m, f, call))
	}
	_, added := p.ctx.AddCallSite(&analysis.CallSite{
		Inst:       call,
		Caller:     f,
		Module:     m.Path,
		Sig:        sig,
		Provenance: p.provenance(l, call.Callee),
	})
	return added, nil
}

// provenance traces a callee pointer through casts to the load that
// produced it and resolves the loaded address to a struct field.
func (p *Pass) provenance(l *layout.Layout, callee value.Value) analysis.Provenance {
	load, ok := layout.StripCasts(callee).(*ir.InstLoad)
	if !ok {
		return analysis.Provenance{}
	}
	owner, field, ok := l.Resolve(load.Src)
	if !ok {
		return analysis.Provenance{}
	}
	return analysis.NewProvenance(p.engine.Type(owner), field)
}

func unwrapArg(v value.Value) value.Value {
	if a, ok := v.(*ir.Arg); ok {
		return a.Value
	}
	return v
}

// where describes the position of a call for diagnostics.
func where(m analysis.Module, f *ir.Func, call *ir.InstCall) string {
	if loc, ok := srcloc.Of(call); ok {
		return fmt.Sprintf("%s (%s, in %s)", loc, m.Path, f.Name())
	}
	return fmt.Sprintf("%s, in %s", m.Path, f.Name())
}
