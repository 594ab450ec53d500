package typesig

import (
	"log/slog"
	"slices"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
)

// Table is the struct name resolution table. It maps the shape key of a
// struct type to every name seen on a struct of that shape anywhere in the
// program. A Table is immutable once NewTable returns and may be shared
// between goroutines without locking.
type Table struct {
	// names holds the registered names per shape in registration order.
	names map[string][]string

	// anonymous records the shape of every literal struct seen in pass 2
	// and whether a name was found for it.
	anonymous map[string]bool
}

// TableStats summarizes a built Table.
type TableStats struct {
	NamedShapes      int `json:"named_shapes"`
	Names            int `json:"names"`
	AnonResolved     int `json:"anonymous_resolved"`
	AnonUnresolvable int `json:"anonymous_unresolvable"`
}

// NewTable builds the table from mods. Pass 1 registers the names of all
// non-opaque identified structs in module order, then definition order.
// Pass 2 walks every type reachable from the modules and resolves the
// literal structs against the registered shapes.
func NewTable(mods []*ir.Module) *Table {
	t := &Table{
		names:     make(map[string][]string),
		anonymous: make(map[string]bool),
	}

	for _, m := range mods {
		if m == nil {
			continue
		}
		for _, def := range m.TypeDefs {
			st, ok := def.(*types.StructType)
			if !ok || st.Opaque || st.TypeName == "" {
				continue
			}
			shape := ShapeKey(st)
			if !slices.Contains(t.names[shape], st.TypeName) {
				t.names[shape] = append(t.names[shape], st.TypeName)
			}
		}
	}

	seen := make(map[types.Type]bool)
	for _, m := range mods {
		if m == nil {
			continue
		}
		for _, def := range m.TypeDefs {
			t.walk(def, seen)
		}
		for _, g := range m.Globals {
			t.walk(g.ContentType, seen)
		}
		for _, f := range m.Funcs {
			if f.Sig != nil {
				t.walk(f.Sig, seen)
			}
		}
	}

	st := t.Stats()
	slog.Debug("built struct name table",
		"shapes", st.NamedShapes,
		"names", st.Names,
		"anon_resolved", st.AnonResolved,
		"anon_unresolvable", st.AnonUnresolvable)
	return t
}

// walk visits the types nested in typ and records literal structs.
func (t *Table) walk(typ types.Type, seen map[types.Type]bool) {
	stack := []types.Type{typ}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == nil || seen[cur] {
			continue
		}
		seen[cur] = true

		switch cur := cur.(type) {
		case *types.StructType:
			if cur.TypeName == "" {
				shape := ShapeKey(cur)
				t.anonymous[shape] = len(t.names[shape]) > 0
			}
			stack = append(stack, cur.Fields...)
		case *types.PointerType:
			stack = append(stack, cur.ElemType)
		case *types.ArrayType:
			stack = append(stack, cur.ElemType)
		case *types.VectorType:
			stack = append(stack, cur.ElemType)
		case *types.FuncType:
			stack = append(stack, cur.RetType)
			stack = append(stack, cur.Params...)
		}
	}
}

// Lookup returns the first name registered for shape.
func (t *Table) Lookup(shape string) (string, bool) {
	names := t.names[shape]
	if len(names) == 0 {
		return "", false
	}
	return names[0], true
}

// Names returns every name registered for shape, in registration order.
func (t *Table) Names(shape string) []string {
	return slices.Clone(t.names[shape])
}

// Stats reports the table size and how many literal structs it resolved.
func (t *Table) Stats() TableStats {
	var s TableStats
	s.NamedShapes = len(t.names)
	for _, names := range t.names {
		s.Names += len(names)
	}
	for _, ok := range t.anonymous {
		if ok {
			s.AnonResolved++
		} else {
			s.AnonUnresolvable++
		}
	}
	return s
}
