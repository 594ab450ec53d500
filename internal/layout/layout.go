// Package layout computes byte sizes and field offsets of IR types and turns
// constant address computations into struct field positions.
package layout

import (
	"strconv"
	"strings"

	"fortio.org/safecast"
	"github.com/llir/llvm/ir/types"
)

// maxTypeDepth bounds descent into nested aggregates.
const maxTypeDepth = 64

// Layout is the subset of an LLVM data layout needed to place struct fields.
// A Layout caches struct layouts and is not safe for concurrent use.
type Layout struct {
	PointerSize  int64
	PointerAlign int64

	intAlign map[uint64]int64
	structs  map[*types.StructType]*structLayout
}

type structLayout struct {
	offsets []int64
	size    int64
	align   int64
}

// Default returns the layout of a 64-bit little-endian target.
func Default() *Layout {
	return &Layout{
		PointerSize:  8,
		PointerAlign: 8,
		intAlign: map[uint64]int64{
			1: 1, 8: 1, 16: 2, 32: 4, 64: 8, 128: 16,
		},
		structs: make(map[*types.StructType]*structLayout),
	}
}

// Parse reads the pointer and integer specifications of a data layout
// string such as "e-m:e-p:32:32-i64:64-n32". Unknown or malformed
// specifications are ignored and the defaults kept.
func Parse(dl string) *Layout {
	l := Default()
	for spec := range strings.SplitSeq(dl, "-") {
		fields := strings.Split(spec, ":")
		if len(fields) < 2 {
			continue
		}
		switch {
		case fields[0] == "p" || fields[0] == "p0":
			if bits, ok := parseBits(fields[1]); ok {
				l.PointerSize = bits / 8
				l.PointerAlign = bits / 8
			}
			if len(fields) > 2 {
				if bits, ok := parseBits(fields[2]); ok {
					l.PointerAlign = bits / 8
				}
			}
		case strings.HasPrefix(fields[0], "i"):
			width, err := strconv.ParseUint(fields[0][1:], 10, 32)
			if err != nil {
				continue
			}
			if bits, ok := parseBits(fields[1]); ok {
				l.intAlign[width] = bits / 8
			}
		}
	}
	return l
}

func parseBits(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 || n%8 != 0 {
		return 0, false
	}
	return n, true
}

// Size returns the number of bytes needed to store a value of type t.
func (l *Layout) Size(t types.Type) int64 {
	return l.size(t, 0)
}

// Alloc returns Size rounded up to the alignment of t, i.e. the distance
// between consecutive array elements of type t.
func (l *Layout) Alloc(t types.Type) int64 {
	return alignTo(l.size(t, 0), l.align(t, 0))
}

// Align returns the ABI alignment of t in bytes.
func (l *Layout) Align(t types.Type) int64 {
	return l.align(t, 0)
}

// FieldOffsets returns the byte offset of every field of st.
func (l *Layout) FieldOffsets(st *types.StructType) []int64 {
	return l.structLayout(st, 0).offsets
}

func (l *Layout) size(t types.Type, depth int) int64 {
	if depth > maxTypeDepth {
		return 0
	}
	switch t := t.(type) {
	case *types.IntType:
		return int64((t.BitSize + 7) / 8)
	case *types.FloatType:
		return floatSize(t)
	case *types.PointerType:
		return l.PointerSize
	case *types.MMXType:
		return 8
	case *types.ArrayType:
		n, err := safecast.Conv[int64](t.Len)
		if err != nil {
			return 0
		}
		return n * alignTo(l.size(t.ElemType, depth+1), l.align(t.ElemType, depth+1))
	case *types.VectorType:
		n, err := safecast.Conv[int64](t.Len)
		if err != nil {
			return 0
		}
		if it, ok := t.ElemType.(*types.IntType); ok {
			return (n*int64(it.BitSize) + 7) / 8
		}
		return n * l.size(t.ElemType, depth+1)
	case *types.StructType:
		return l.structLayout(t, depth).size
	default:
		return 0
	}
}

func (l *Layout) align(t types.Type, depth int) int64 {
	if depth > maxTypeDepth {
		return 1
	}
	switch t := t.(type) {
	case *types.IntType:
		if a, ok := l.intAlign[t.BitSize]; ok {
			return a
		}
		return min(powerOfTwoCeil(int64((t.BitSize+7)/8)), 16)
	case *types.FloatType:
		if t.LLString() == "x86_fp80" {
			return 16
		}
		return floatSize(t)
	case *types.PointerType:
		return l.PointerAlign
	case *types.MMXType:
		return 8
	case *types.ArrayType:
		return l.align(t.ElemType, depth+1)
	case *types.VectorType:
		return powerOfTwoCeil(l.size(t, depth))
	case *types.StructType:
		return l.structLayout(t, depth).align
	default:
		return 1
	}
}

func (l *Layout) structLayout(st *types.StructType, depth int) *structLayout {
	if sl, ok := l.structs[st]; ok {
		return sl
	}
	sl := &structLayout{align: 1, offsets: make([]int64, len(st.Fields))}
	if depth > maxTypeDepth || st.Opaque {
		return sl
	}
	var off int64
	for i, f := range st.Fields {
		fa := int64(1)
		if !st.Packed {
			fa = l.align(f, depth+1)
		}
		off = alignTo(off, fa)
		sl.offsets[i] = off
		off += alignTo(l.size(f, depth+1), l.align(f, depth+1))
		sl.align = max(sl.align, fa)
	}
	sl.size = alignTo(off, sl.align)
	l.structs[st] = sl
	return sl
}

func floatSize(t *types.FloatType) int64 {
	switch t.LLString() {
	case "half", "bfloat":
		return 2
	case "float":
		return 4
	case "double":
		return 8
	case "x86_fp80":
		return 10
	case "fp128", "ppc_fp128":
		return 16
	default:
		return 4
	}
}

func alignTo(n, a int64) int64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

func powerOfTwoCeil(n int64) int64 {
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}
