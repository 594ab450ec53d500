package layout

import (
	"sort"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// MaxGEPDepth bounds how many nested constant getelementptr expressions
// GEPOffset folds into one offset.
const MaxGEPDepth = 16

// maxCastDepth bounds StripCasts.
const maxCastDepth = 16

// StripCasts returns v with any pointer casts removed.
func StripCasts(v value.Value) value.Value {
	for range maxCastDepth {
		switch c := v.(type) {
		case *ir.InstBitCast:
			v = c.From
		case *ir.InstAddrSpaceCast:
			v = c.From
		case *constant.ExprBitCast:
			v = c.From
		case *constant.ExprAddrSpaceCast:
			v = c.From
		default:
			return v
		}
	}
	return v
}

// GEPOffset folds the address computation v into a base type and a byte
// offset from the start of an object of that type. v must be a
// getelementptr instruction or expression. Sources that are themselves
// constant getelementptr expressions, possibly behind casts, are folded in
// up to MaxGEPDepth levels and the base type is that of the innermost one.
// Non-constant indices are treated as 0.
func (l *Layout) GEPOffset(v value.Value) (types.Type, int64, bool) {
	var (
		base   types.Type
		offset int64
	)
	cur := v
	for depth := range MaxGEPDepth {
		var (
			elem types.Type
			src  value.Value
			idx  []value.Value
		)
		switch g := cur.(type) {
		case *ir.InstGetElementPtr:
			elem, src, idx = g.ElemType, g.Src, g.Indices
		case *constant.ExprGetElementPtr:
			elem, src = g.ElemType, g.Src
			idx = make([]value.Value, len(g.Indices))
			for i, c := range g.Indices {
				idx[i] = c
			}
		default:
			if depth == 0 {
				return nil, 0, false
			}
			return base, offset, true
		}

		off, ok := l.indexedOffset(elem, idx)
		if !ok {
			return nil, 0, false
		}
		base = elem
		offset += off

		next := StripCasts(src)
		if _, ok := next.(*constant.ExprGetElementPtr); !ok {
			return base, offset, true
		}
		cur = next
	}
	return base, offset, true
}

// indexedOffset returns the byte offset the index list idx selects within
// an object of type elem. Out of range struct indices fail.
func (l *Layout) indexedOffset(elem types.Type, idx []value.Value) (int64, bool) {
	if len(idx) == 0 {
		return 0, true
	}
	offset := constIndex(idx[0]) * l.Alloc(elem)
	cur := elem
	for _, ix := range idx[1:] {
		switch t := cur.(type) {
		case *types.StructType:
			i := constIndex(ix)
			if i < 0 || i >= int64(len(t.Fields)) {
				return 0, false
			}
			offset += l.FieldOffsets(t)[i]
			cur = t.Fields[i]
		case *types.ArrayType:
			offset += constIndex(ix) * l.Alloc(t.ElemType)
			cur = t.ElemType
		case *types.VectorType:
			offset += constIndex(ix) * l.Alloc(t.ElemType)
			cur = t.ElemType
		default:
			return 0, false
		}
	}
	return offset, true
}

// constIndex returns the value of a constant integer index, or 0 for
// anything else.
func constIndex(v value.Value) int64 {
	if ix, ok := v.(*constant.Index); ok {
		v = ix.Constant
	}
	c, ok := v.(*constant.Int)
	if !ok || c.X == nil || !c.X.IsInt64() {
		return 0
	}
	return c.X.Int64()
}

// FieldAt maps a byte offset within an object of type t to the innermost
// struct that contains it and the index of the field covering the offset.
// Arrays are looked through, at the top as well as inside structs, so any
// element of a struct array maps to the same field. Offsets past the end of
// t wrap around as if t were an array element. It fails when no struct is
// found below the arrays at the top.
func (l *Layout) FieldAt(t types.Type, offset int64) (*types.StructType, int, bool) {
	if offset < 0 {
		return nil, 0, false
	}
	for range maxTypeDepth {
		a, ok := t.(*types.ArrayType)
		if !ok {
			break
		}
		if sz := l.Alloc(a.ElemType); sz > 0 {
			offset %= sz
		}
		t = a.ElemType
	}
	if _, ok := t.(*types.StructType); !ok {
		return nil, 0, false
	}
	if a := l.Alloc(t); a > 0 && offset >= a {
		offset %= a
	}

	var (
		owner *types.StructType
		field int
	)
	cur := t
	for range maxTypeDepth {
		switch c := cur.(type) {
		case *types.StructType:
			if c.Opaque || len(c.Fields) == 0 {
				return owner, field, owner != nil
			}
			offs := l.FieldOffsets(c)
			i := sort.Search(len(offs), func(i int) bool { return offs[i] > offset }) - 1
			if i < 0 {
				return owner, field, owner != nil
			}
			owner, field = c, i
			offset -= offs[i]
			cur = c.Fields[i]
		case *types.ArrayType:
			if a := l.Alloc(c.ElemType); a > 0 {
				offset %= a
			}
			cur = c.ElemType
		case *types.VectorType:
			return owner, field, true
		default:
			return owner, field, true
		}
	}
	return owner, field, owner != nil
}

// Resolve maps the address a store writes to or a load reads from onto the
// struct field it designates. Globals and stack slots resolve at offset 0.
func (l *Layout) Resolve(addr value.Value) (*types.StructType, int, bool) {
	var (
		base   types.Type
		offset int64
	)
	switch a := StripCasts(addr).(type) {
	case *ir.InstGetElementPtr, *constant.ExprGetElementPtr:
		var ok bool
		base, offset, ok = l.GEPOffset(a)
		if !ok {
			return nil, 0, false
		}
	case *ir.Global:
		base = a.ContentType
	case *ir.InstAlloca:
		base = a.ElemType
	default:
		return nil, 0, false
	}
	return l.FieldAt(base, offset)
}
