// Package analysis holds the state shared by the passes of an indirect call
// analysis: the loaded modules, address-taken functions, indirect call sites
// and the resulting statistics.
package analysis

import (
	"cmp"
	"slices"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"

	"github.com/715d/icallgraph/internal/typesig"
)

// Module is one parsed IR file.
type Module struct {
	// Path is the file the module was loaded from. It identifies the module
	// in results and in salted signatures.
	Path string

	// IR is the parsed module.
	IR *ir.Module
}

// EscapeKind is a set of ways a function's address leaves the instruction
// that first mentions it.
type EscapeKind uint8

const (
	// EscapeStore means the address was stored to memory.
	EscapeStore EscapeKind = 1 << iota
	// EscapeArgument means the address was passed to a call.
	EscapeArgument
	// EscapeReturn means the address was returned.
	EscapeReturn
	// EscapeGlobal means the address appears in a global initializer.
	EscapeGlobal
	// EscapeOther covers every other use, e.g. a select or phi operand.
	EscapeOther
)

var escapeNames = []struct {
	kind EscapeKind
	name string
}{
	{EscapeStore, "store"},
	{EscapeArgument, "argument"},
	{EscapeReturn, "return"},
	{EscapeGlobal, "global"},
	{EscapeOther, "other"},
}

func (k EscapeKind) String() string {
	if k == 0 {
		return "none"
	}
	var parts []string
	for _, e := range escapeNames {
		if k&e.kind != 0 {
			parts = append(parts, e.name)
		}
	}
	return strings.Join(parts, "|")
}

// FuncInfo represents an address-taken function.
type FuncInfo struct {
	// Func is the function's definition, or its declaration when no module
	// defines it.
	Func *ir.Func

	// Module is the path of the module Func belongs to.
	Module string

	// Sig is the type signature of Func without its name.
	Sig typesig.Signature

	// Local indicates internal or private linkage.
	Local bool

	// Escapes records how the address was seen to flow.
	Escapes EscapeKind

	// evidence holds the enclosing-type discriminators of every struct
	// field the function was stored into.
	evidence map[typesig.Signature]struct{}

	// owners holds the type signatures of those structs.
	owners map[typesig.Signature]struct{}

	// published holds the exported globals the address was stored into or
	// initialized in.
	published map[string]struct{}
}

// NewFuncInfo creates the FuncInfo of f, defined in module.
func NewFuncInfo(f *ir.Func, module string, sig typesig.Signature) *FuncInfo {
	return &FuncInfo{
		Func:      f,
		Module:    module,
		Sig:       sig,
		Local:     IsLocal(f),
		evidence:  make(map[typesig.Signature]struct{}),
		owners:    make(map[typesig.Signature]struct{}),
		published: make(map[string]struct{}),
	}
}

// IsLocal reports whether f has internal or private linkage.
func IsLocal(f *ir.Func) bool {
	return f != nil && (f.Linkage == enum.LinkageInternal || f.Linkage == enum.LinkagePrivate)
}

// IsDiscardable reports whether several modules may carry a body of f that
// the linker merges into one.
func IsDiscardable(f *ir.Func) bool {
	switch f.Linkage {
	case enum.LinkageLinkOnce, enum.LinkageLinkOnceODR,
		enum.LinkageWeak, enum.LinkageWeakODR,
		enum.LinkageAvailableExternally:
		return true
	}
	return false
}

// IsLocalGlobal reports whether g has internal or private linkage.
func IsLocalGlobal(g *ir.Global) bool {
	return g != nil && (g.Linkage == enum.LinkageInternal || g.Linkage == enum.LinkagePrivate)
}

// Name returns the function's symbol name.
func (fi *FuncInfo) Name() string {
	if fi.Func == nil {
		return ""
	}
	return fi.Func.Name()
}

// AddEvidence records that the function was stored into field of a struct
// with type signature owner. It reports whether the evidence is new.
func (fi *FuncInfo) AddEvidence(owner typesig.Signature, field int) bool {
	disc := typesig.Layered(owner, field)
	if _, ok := fi.evidence[disc]; ok {
		return false
	}
	fi.evidence[disc] = struct{}{}
	fi.owners[owner] = struct{}{}
	return true
}

// HasEvidence reports whether disc is one of the function's discriminators.
func (fi *FuncInfo) HasEvidence(disc typesig.Signature) bool {
	_, ok := fi.evidence[disc]
	return ok
}

// Evidence returns the function's discriminators in ascending order.
func (fi *FuncInfo) Evidence() []typesig.Signature {
	return sortedKeys(fi.evidence)
}

// Owners returns the type signatures of the structs the function was
// stored into, in ascending order.
func (fi *FuncInfo) Owners() []typesig.Signature {
	return sortedKeys(fi.owners)
}

// Publish records that the address was stored into or initializes the
// exported global named global. It reports whether that is new.
func (fi *FuncInfo) Publish(global string) bool {
	if _, ok := fi.published[global]; ok {
		return false
	}
	fi.published[global] = struct{}{}
	return true
}

// Published returns the exported globals holding the address, sorted.
func (fi *FuncInfo) Published() []string {
	out := make([]string, 0, len(fi.published))
	for g := range fi.published {
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

// MarkEscape adds k to the function's escape kinds and reports whether that
// changed them.
func (fi *FuncInfo) MarkEscape(k EscapeKind) bool {
	if fi.Escapes&k == k {
		return false
	}
	fi.Escapes |= k
	return true
}

// EscapesModule reports whether the address flowed somewhere a type-based
// visibility check cannot follow: into a call, out of a return, or through
// an untracked use.
func (fi *FuncInfo) EscapesModule() bool {
	return fi.Escapes&(EscapeArgument|EscapeReturn|EscapeOther) != 0
}

// CompareFuncs orders functions by name, then module.
func CompareFuncs(a, b *FuncInfo) int {
	if c := cmp.Compare(a.Name(), b.Name()); c != 0 {
		return c
	}
	return cmp.Compare(a.Module, b.Module)
}

func sortedKeys(m map[typesig.Signature]struct{}) []typesig.Signature {
	out := make([]typesig.Signature, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
