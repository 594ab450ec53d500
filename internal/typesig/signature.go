// Package typesig computes structural signatures for IR types, functions and
// call sites.
//
// A signature is a 64-bit xxhash over a canonical textual description.
// Identified struct types are described by name. Literal structs borrow the
// name of a struct with the same shape when the Table knows one, so a type
// spelled out anonymously in one module and by name in another gets one
// identity. Everything else is described by its printed form with the
// whitespace removed.
package typesig

import (
	"encoding/binary"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/puzpuzpuz/xsync/v4"
)

// Signature is the structural identity of a type, function or call site.
type Signature uint64

// Hash returns the signature of a canonical description.
func Hash(desc string) Signature {
	return Signature(xxhash.Sum64String(desc))
}

// classThis matches the implicit `this` parameter C++ front ends put in
// front of a method's parameter list.
var classThis = regexp.MustCompile(`\(%class\.[_A-Za-z0-9]+\*,?`)

// Clean normalizes a printed type: the first implicit class parameter is
// dropped and all whitespace removed.
func Clean(s string) string {
	if loc := classThis.FindStringIndex(s); loc != nil {
		s = s[:loc[0]+1] + s[loc[1]:]
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Engine computes signatures. It memoizes type signatures and is safe for
// concurrent use as long as the Table it was built with is not modified.
type Engine struct {
	table *Table
	types *xsync.Map[types.Type, Signature]
}

// NewEngine returns an engine resolving anonymous structs through table.
// A nil table disables name recovery.
func NewEngine(table *Table) *Engine {
	return &Engine{
		table: table,
		types: xsync.NewMap[types.Type, Signature](),
	}
}

// Type returns the signature of t.
func (e *Engine) Type(t types.Type) Signature {
	if t == nil {
		return Hash("")
	}
	if sig, ok := e.types.Load(t); ok {
		return sig
	}
	sig := Hash(e.Describe(t))
	e.types.Store(t, sig)
	return sig
}

// Describe returns the canonical description Type hashes.
func (e *Engine) Describe(t types.Type) string {
	if st, ok := t.(*types.StructType); ok {
		if st.TypeName != "" {
			return "%" + st.TypeName
		}
		if e.table != nil {
			if name, ok := e.table.Lookup(ShapeKey(st)); ok {
				return "%" + name
			}
		}
		return Clean(st.LLString())
	}
	return Clean(t.String())
}

// Func returns the signature of f's function type, optionally including its
// name.
func (e *Engine) Func(f *ir.Func, withName bool) Signature {
	if f == nil || f.Sig == nil {
		return Hash("")
	}
	desc := f.Sig.String()
	if withName {
		desc += f.Name()
	}
	return Hash(Clean(desc))
}

// Call returns the signature of the function type a call site invokes. The
// second result is false when no function type can be derived.
func (e *Engine) Call(call *ir.InstCall) (Signature, bool) {
	ft := CallType(call)
	if ft == nil {
		return 0, false
	}
	return Hash(Clean(ft.String())), true
}

// CallType returns the function type invoked by call: the pointee of the
// callee's type when it is a function pointer, otherwise a type rebuilt from
// the result and argument types.
func CallType(call *ir.InstCall) *types.FuncType {
	if call == nil {
		return nil
	}
	if call.Callee != nil {
		switch t := call.Callee.Type().(type) {
		case *types.PointerType:
			if ft, ok := t.ElemType.(*types.FuncType); ok {
				return ft
			}
		case *types.FuncType:
			return t
		}
	}
	if call.Typ == nil {
		return nil
	}
	params := make([]types.Type, 0, len(call.Args))
	for _, arg := range call.Args {
		params = append(params, arg.Type())
	}
	return types.NewFunc(call.Typ, params...)
}

// Layered combines a signature with a field or argument index. The combine
// is order sensitive: the signature bytes are hashed before the index.
func Layered(sig Signature, idx int) Signature {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(sig))
	binary.LittleEndian.PutUint64(buf[8:], uint64(int64(idx)))
	return Signature(xxhash.Sum64(buf[:]))
}

// Salted mixes a module identifier into sig. Salted signatures only confirm
// module-local visibility; they are never used as matching keys.
func Salted(module string, sig Signature) Signature {
	d := xxhash.New()
	_, _ = d.WriteString(module)
	var buf [9]byte
	binary.LittleEndian.PutUint64(buf[1:], uint64(sig))
	_, _ = d.Write(buf[:])
	return Signature(d.Sum64())
}
