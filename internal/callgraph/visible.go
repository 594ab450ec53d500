package callgraph

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"github.com/715d/icallgraph/internal/analysis"
	"github.com/715d/icallgraph/internal/typesig"
)

// registerVisible records, salted with the module path, the signature of
// every struct type m defines or uses, and the exported globals m defines or
// declares. It reports whether anything was new.
func (p *Pass) registerVisible(m analysis.Module) bool {
	changed := false
	for _, st := range structTypes(m.IR) {
		if p.ctx.MarkVisible(typesig.Salted(m.Path, p.engine.Type(st))) {
			changed = true
		}
	}
	for _, g := range m.IR.Globals {
		if !analysis.IsLocalGlobal(g) && p.ctx.MarkReferenced(m.Path, g.Name()) {
			changed = true
		}
	}
	return changed
}

// structTypes returns the struct types reachable from the type definitions,
// globals, function signatures and memory instructions of m, in discovery
// order.
func structTypes(m *ir.Module) []*types.StructType {
	var (
		out   []*types.StructType
		seen  = make(map[types.Type]bool)
		stack []types.Type
	)
	push := func(t types.Type) {
		if t != nil && !seen[t] {
			stack = append(stack, t)
		}
	}
	drain := func() {
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[cur] {
				continue
			}
			seen[cur] = true

			switch cur := cur.(type) {
			case *types.StructType:
				out = append(out, cur)
				for _, f := range cur.Fields {
					push(f)
				}
			case *types.PointerType:
				push(cur.ElemType)
			case *types.ArrayType:
				push(cur.ElemType)
			case *types.VectorType:
				push(cur.ElemType)
			case *types.FuncType:
				push(cur.RetType)
				for _, param := range cur.Params {
					push(param)
				}
			}
		}
	}

	for _, def := range m.TypeDefs {
		push(def)
		drain()
	}
	for _, g := range m.Globals {
		push(g.ContentType)
		drain()
	}
	for _, f := range m.Funcs {
		if f.Sig != nil {
			push(f.Sig)
			drain()
		}
		for _, b := range f.Blocks {
			for _, inst := range b.Insts {
				switch inst := inst.(type) {
				case *ir.InstAlloca:
					push(inst.ElemType)
				case *ir.InstGetElementPtr:
					push(inst.ElemType)
				case *ir.InstLoad:
					push(inst.ElemType)
				}
				drain()
			}
		}
	}
	return out
}
