package analysis

import (
	"slices"

	"github.com/llir/llvm/ir"

	"github.com/715d/icallgraph/internal/typesig"
)

// Layer identifies which refinement produced a call site's candidates.
type Layer int

const (
	// LayerNone marks a call site that has not been matched yet.
	LayerNone Layer = iota
	// LayerSignature marks candidates selected by function type alone.
	LayerSignature
	// LayerField marks candidates narrowed by the struct field the callee
	// pointer was loaded from.
	LayerField
)

func (l Layer) String() string {
	switch l {
	case LayerSignature:
		return "signature"
	case LayerField:
		return "field"
	default:
		return "none"
	}
}

// MarshalText encodes the layer by name.
func (l Layer) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Provenance describes where an indirect callee pointer was loaded from.
type Provenance struct {
	// Known is false when the pointer could not be traced to a struct field.
	Known bool

	// Owner is the type signature of the enclosing struct.
	Owner typesig.Signature

	// Field is the index of the field within Owner.
	Field int

	// Disc is Layered(Owner, Field).
	Disc typesig.Signature
}

// NewProvenance returns the known provenance of field within owner.
func NewProvenance(owner typesig.Signature, field int) Provenance {
	return Provenance{
		Known: true,
		Owner: owner,
		Field: field,
		Disc:  typesig.Layered(owner, field),
	}
}

// CallSite is an indirect call instruction and its resolved candidates.
type CallSite struct {
	Inst   *ir.InstCall
	Caller *ir.Func
	Module string

	// Sig is the signature of the function type the call invokes.
	Sig typesig.Signature

	Provenance Provenance
	Layer      Layer

	callees []*FuncInfo
}

// Callees returns the candidate targets ordered by name, then module.
func (cs *CallSite) Callees() []*FuncInfo {
	return slices.Clone(cs.callees)
}

// SetCallees replaces the candidate set and reports whether it differs from
// the previous one. Order and duplicates in fs are ignored.
func (cs *CallSite) SetCallees(fs []*FuncInfo) bool {
	next := slices.Clone(fs)
	slices.SortFunc(next, CompareFuncs)
	next = slices.Compact(next)
	changed := !slices.Equal(next, cs.callees)
	cs.callees = next
	return changed
}
