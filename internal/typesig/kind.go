package typesig

import (
	"strconv"
	"strings"

	"github.com/llir/llvm/ir/types"
)

// Kind is the coarse classification of an IR type. The numbering follows
// LLVM's TypeID order so shape keys read the same as the ones LLVM tools print.
type Kind int

const (
	KindVoid Kind = iota
	KindHalf
	KindBFloat
	KindFloat
	KindDouble
	KindX86FP80
	KindFP128
	KindPPCFP128
	KindLabel
	KindMetadata
	KindX86MMX
	KindX86AMX
	KindToken
	KindInteger
	KindFunction
	KindPointer
	KindStruct
	KindArray
	KindFixedVector
	KindScalableVector
)

// KindOf returns the kind of t. Unknown types are reported as tokens.
func KindOf(t types.Type) Kind {
	switch t := t.(type) {
	case *types.VoidType:
		return KindVoid
	case *types.FloatType:
		return floatKind(t)
	case *types.LabelType:
		return KindLabel
	case *types.MetadataType:
		return KindMetadata
	case *types.MMXType:
		return KindX86MMX
	case *types.TokenType:
		return KindToken
	case *types.IntType:
		return KindInteger
	case *types.FuncType:
		return KindFunction
	case *types.PointerType:
		return KindPointer
	case *types.StructType:
		return KindStruct
	case *types.ArrayType:
		return KindArray
	case *types.VectorType:
		return KindFixedVector
	default:
		return KindToken
	}
}

func floatKind(t *types.FloatType) Kind {
	switch t.LLString() {
	case "half":
		return KindHalf
	case "bfloat":
		return KindBFloat
	case "float":
		return KindFloat
	case "double":
		return KindDouble
	case "x86_fp80":
		return KindX86FP80
	case "fp128":
		return KindFP128
	case "ppc_fp128":
		return KindPPCFP128
	default:
		return KindFloat
	}
}

// ShapeKey returns the ordered member kinds of st, e.g. "15,13," for
// { i8*, i32 }. Structs with equal keys are candidates for the same name.
func ShapeKey(st *types.StructType) string {
	var b strings.Builder
	b.Grow(3 * len(st.Fields))
	for _, f := range st.Fields {
		b.WriteString(strconv.Itoa(int(KindOf(f))))
		b.WriteByte(',')
	}
	return b.String()
}
