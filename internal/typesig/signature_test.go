package typesig

import (
	"testing"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/require"
)

const opsModule = `
%struct.Ops = type { i32 (i32)* }
%struct.Pair = type { i8*, i32 }

@anon = global { i32 (i32)* } zeroinitializer
@lonely = global { i64, i64, i64 } zeroinitializer

define i32 @f(i32 %x) {
entry:
  ret i32 %x
}

define i32 @caller(%struct.Ops* %o) {
entry:
  %fp = getelementptr %struct.Ops, %struct.Ops* %o, i32 0, i32 0
  %fn = load i32 (i32)*, i32 (i32)** %fp
  %r = call i32 %fn(i32 5)
  ret i32 %r
}
`

const otherModule = `
%struct.Handler = type { i32 (i32)* }

define i32 @g(i32 %x) {
entry:
  ret i32 0
}
`

func parse(t *testing.T, name, src string) *ir.Module {
	t.Helper()
	m, err := asm.ParseString(name, src)
	require.NoError(t, err)
	return m
}

func findFunc(t *testing.T, m *ir.Module, name string) *ir.Func {
	t.Helper()
	for _, f := range m.Funcs {
		if f.Name() == name {
			return f
		}
	}
	t.Fatalf("function %q not found", name)
	return nil
}

func findGlobal(t *testing.T, m *ir.Module, name string) *ir.Global {
	t.Helper()
	for _, g := range m.Globals {
		if g.Name() == name {
			return g
		}
	}
	t.Fatalf("global %q not found", name)
	return nil
}

func firstCall(t *testing.T, f *ir.Func) *ir.InstCall {
	t.Helper()
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			if call, ok := inst.(*ir.InstCall); ok {
				return call
			}
		}
	}
	t.Fatalf("no call in %s", f.Name())
	return nil
}

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "i32 (i32, i8*)", "i32(i32,i8*)"},
		{"class this with params", "void (%class.Foo*, i32)", "void(i32)"},
		{"class this only", "i32 (%class.Bar*)", "i32()"},
		{"only first class stripped", "void (%class.A*, %class.B*)", "void(%class.B*)"},
		{"struct untouched", "void (%struct.Foo*)", "void(%struct.Foo*)"},
		{"tabs and newlines", "i32\t(i32)\n", "i32(i32)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestShapeKey(t *testing.T) {
	st := types.NewStruct(types.NewPointer(types.I8), types.I32)
	require.Equal(t, "15,13,", ShapeKey(st))

	require.Equal(t, "", ShapeKey(types.NewStruct()))

	nested := types.NewStruct(st, types.NewArray(4, types.Double), types.Float)
	require.Equal(t, "16,17,3,", ShapeKey(nested))
}

func TestTable_FirstRegisteredNameWins(t *testing.T) {
	m1 := parse(t, "a.ll", opsModule)
	m2 := parse(t, "b.ll", otherModule)

	table := NewTable([]*ir.Module{m1, m2})
	shape := ShapeKey(types.NewStruct(types.NewPointer(types.NewFunc(types.I32, types.I32))))

	name, ok := table.Lookup(shape)
	require.True(t, ok)
	require.Equal(t, "struct.Ops", name)
	require.Equal(t, []string{"struct.Ops", "struct.Handler"}, table.Names(shape))

	// Reversed module order changes which name is first, never the set.
	rev := NewTable([]*ir.Module{m2, m1})
	name, ok = rev.Lookup(shape)
	require.True(t, ok)
	require.Equal(t, "struct.Handler", name)
	require.ElementsMatch(t, table.Names(shape), rev.Names(shape))

	_, ok = table.Lookup("99,")
	require.False(t, ok)

	st := table.Stats()
	require.Equal(t, 1, st.AnonResolved)
	require.Equal(t, 1, st.AnonUnresolvable)
}

func TestTable_SkipsOpaque(t *testing.T) {
	m := parse(t, "opaque.ll", `
%struct.Hidden = type opaque
%struct.Empty = type {}
`)
	table := NewTable([]*ir.Module{m})
	names := table.Names("")
	require.Equal(t, []string{"struct.Empty"}, names)
}

func TestEngine_ShapeNameTransitivity(t *testing.T) {
	m1 := parse(t, "a.ll", opsModule)
	m2 := parse(t, "b.ll", otherModule)
	e := NewEngine(NewTable([]*ir.Module{m1, m2}))

	var named types.Type
	for _, def := range m1.TypeDefs {
		if def.Name() == "struct.Ops" {
			named = def
		}
	}
	require.NotNil(t, named)

	anon := findGlobal(t, m1, "anon").ContentType
	require.Equal(t, e.Type(named), e.Type(anon))
	require.Equal(t, Layered(e.Type(named), 0), Layered(e.Type(anon), 0))
	require.NotEqual(t, Layered(e.Type(named), 0), Layered(e.Type(anon), 1))

	lonely := findGlobal(t, m1, "lonely").ContentType
	require.Equal(t, "{i64,i64,i64}", e.Describe(lonely))
	require.NotEqual(t, e.Type(named), e.Type(lonely))
}

func TestEngine_NilTableFallsBackToText(t *testing.T) {
	e := NewEngine(nil)
	anon := types.NewStruct(types.NewPointer(types.NewFunc(types.I32, types.I32)))
	require.Equal(t, "{i32(i32)*}", e.Describe(anon))
	require.Equal(t, Hash("{i32(i32)*}"), e.Type(anon))
	require.Equal(t, Hash(""), e.Type(nil))
}

func TestEngine_TypeIsMemoized(t *testing.T) {
	e := NewEngine(nil)
	first := e.Type(types.I64)
	second := e.Type(types.I64)
	require.Equal(t, first, second)
	_, ok := e.types.Load(types.I64)
	require.True(t, ok)
}

func TestEngine_FuncMatchesCall(t *testing.T) {
	m1 := parse(t, "a.ll", opsModule)
	m2 := parse(t, "b.ll", otherModule)
	e := NewEngine(NewTable([]*ir.Module{m1, m2}))

	call := firstCall(t, findFunc(t, m1, "caller"))
	callSig, ok := e.Call(call)
	require.True(t, ok)

	require.Equal(t, callSig, e.Func(findFunc(t, m1, "f"), false))
	require.Equal(t, callSig, e.Func(findFunc(t, m2, "g"), false))
	require.NotEqual(t, e.Func(findFunc(t, m1, "f"), true), e.Func(findFunc(t, m2, "g"), true))
	require.NotEqual(t, callSig, e.Func(findFunc(t, m1, "caller"), false))
}

func TestCallType(t *testing.T) {
	m := parse(t, "a.ll", opsModule)
	call := firstCall(t, findFunc(t, m, "caller"))

	ft := CallType(call)
	require.NotNil(t, ft)
	require.Equal(t, "i32 (i32)", ft.LLString())

	require.Nil(t, CallType(nil))
}

func TestLayered(t *testing.T) {
	a, b := Hash("a"), Hash("b")
	require.NotEqual(t, Layered(a, 0), Layered(a, 1))
	require.NotEqual(t, Layered(a, 1), Layered(b, 1))
	require.NotEqual(t, Layered(Signature(1), 2), Layered(Signature(2), 1))
	require.Equal(t, Layered(a, 3), Layered(a, 3))
}

func TestSalted(t *testing.T) {
	sig := Hash("%struct.Ops")
	require.NotEqual(t, Salted("a.ll", sig), Salted("b.ll", sig))
	require.Equal(t, Salted("a.ll", sig), Salted("a.ll", sig))
	require.NotEqual(t, sig, Salted("a.ll", sig))
}
