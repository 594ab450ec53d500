package icallgraph

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/llir/llvm/asm"
	"github.com/stretchr/testify/require"

	"github.com/715d/icallgraph/internal/analysis"
	"github.com/715d/icallgraph/internal/srcloc"
)

const dispatchModule = `
%struct.Ops = type { i32 (i32)* }

define i32 @dispatch(%struct.Ops* %o) !dbg !4 {
entry:
  %fp = getelementptr %struct.Ops, %struct.Ops* %o, i32 0, i32 0
  %fn = load i32 (i32)*, i32 (i32)** %fp
  %r = call i32 %fn(i32 7), !dbg !6
  ret i32 %r
}

!0 = distinct !DICompileUnit(language: DW_LANG_C99, file: !1, emissionKind: FullDebug)
!1 = !DIFile(filename: "drivers/dispatch.c", directory: "/build")
!4 = distinct !DISubprogram(name: "dispatch", scope: !1, file: !1, line: 1, unit: !0)
!6 = !DILocation(line: 3, column: 9, scope: !4)
`

const opsModule = `
%struct.Ops = type { i32 (i32)* }
%struct.Cb = type { i32 (i32)* }

@ops = global %struct.Ops { i32 (i32)* @impl }
@cb = global %struct.Cb { i32 (i32)* @other }

define internal i32 @impl(i32 %x) !dbg !3 {
entry:
  ret i32 %x
}

define i32 @other(i32 %x) {
entry:
  ret i32 0
}

!0 = distinct !DICompileUnit(language: DW_LANG_C99, file: !1, emissionKind: FullDebug)
!1 = !DIFile(filename: "drivers/ops.c", directory: "/build")
!3 = distinct !DISubprogram(name: "impl", scope: !1, file: !1, line: 12, unit: !0)
`

func parseModules(t *testing.T) []analysis.Module {
	t.Helper()
	var mods []analysis.Module
	for _, s := range []struct{ path, src string }{
		{"dispatch.ll", dispatchModule},
		{"ops.ll", opsModule},
	} {
		m, err := asm.ParseString(s.path, s.src)
		require.NoError(t, err)
		mods = append(mods, analysis.Module{Path: s.path, IR: m})
	}
	return mods
}

func TestAnalyzer_NewAnalyzer(t *testing.T) {
	analyzer := NewAnalyzer(DefaultAnalyzerOptions())
	require.NotNil(t, analyzer, "NewAnalyzer returned nil")
	require.NotNil(t, analyzer.nameCache, "Expected name cache to be initialized")
	require.Equal(t, analysis.Config{MLTA: true, TyPM: true, MaxPhases: 2}, analyzer.Config())
}

func TestAnalyzer_NoModules(t *testing.T) {
	_, err := NewAnalyzer(DefaultAnalyzerOptions()).Analyze(context.Background(), nil)
	require.ErrorContains(t, err, "no modules")
}

func TestAnalyzer_Analyze(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "drivers"), 0o755))
	src := "int dispatch(struct ops *o) {\n\tint r;\n\tr = o->fn(7);\n\treturn r;\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "drivers", "dispatch.c"), []byte(src), 0o600))

	opts := DefaultAnalyzerOptions()
	opts.SrcRoot = root
	var progress int
	opts.Progress = func(phase, index, total int, module string, changed bool) {
		progress++
	}

	res, err := NewAnalyzer(opts).Analyze(context.Background(), parseModules(t))
	require.NoError(t, err)
	require.NotNil(t, res.Context)
	require.Positive(t, progress)

	require.Equal(t, []CallSiteResult{{
		Caller:   "dispatch",
		Module:   "dispatch.ll",
		Location: srcloc.Location{File: "drivers/dispatch.c", Line: 3},
		Path:     filepath.Join(root, "drivers", "dispatch.c"),
		Source:   "r = o->fn(7);",
		Layer:    analysis.LayerField,
		Callees:  []string{"ops.ll:impl"},
		Definitions: map[string]srcloc.Location{
			"ops.ll:impl": {File: "drivers/ops.c", Line: 12},
		},
	}}, res.CallSites)

	require.Equal(t, uint64(1), res.Stats.IndirectCalls)
	require.Equal(t, uint64(2), res.Stats.AddressTakenFuncs)
	require.Equal(t, uint64(res.Report.Phases), res.Stats.Phases)
	require.Equal(t, 1, res.Types.NamedShapes, "Ops and Cb share one shape")
	require.Equal(t, 2, res.Types.Names)
}

func TestAnalyzer_Options(t *testing.T) {
	tests := []struct {
		name       string
		opts       AnalyzerOptions
		wantLayer  analysis.Layer
		wantTarget []string
		wantPhases int
	}{
		{
			name:       "defaults",
			opts:       DefaultAnalyzerOptions(),
			wantLayer:  analysis.LayerField,
			wantTarget: []string{"ops.ll:impl"},
			wantPhases: 2,
		},
		{
			name:       "signature only",
			opts:       AnalyzerOptions{MLTA: false, TyPM: true, MaxPhases: 2},
			wantLayer:  analysis.LayerSignature,
			wantTarget: []string{"ops.ll:impl", "other"},
			wantPhases: 2,
		},
		{
			name:       "without module visibility",
			opts:       AnalyzerOptions{MLTA: true, TyPM: false, MaxPhases: 4},
			wantLayer:  analysis.LayerField,
			wantTarget: []string{"ops.ll:impl"},
			wantPhases: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewAnalyzer(tt.opts).Analyze(context.Background(), parseModules(t))
			require.NoError(t, err)
			require.Len(t, res.CallSites, 1)
			require.Equal(t, tt.wantLayer, res.CallSites[0].Layer)
			require.Equal(t, tt.wantTarget, res.CallSites[0].Callees)
			require.Equal(t, tt.wantPhases, res.Report.Phases)
		})
	}
}

func TestResult_JSON(t *testing.T) {
	res, err := NewAnalyzer(DefaultAnalyzerOptions()).Analyze(context.Background(), parseModules(t))
	require.NoError(t, err)

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Contains(t, decoded, "stats")
	require.Contains(t, decoded, "report")
	require.NotContains(t, decoded, "Context")

	calls := decoded["call_sites"].([]any)
	require.Len(t, calls, 1)
	call := calls[0].(map[string]any)
	require.Equal(t, "field", call["layer"])
	require.Equal(t, []any{"ops.ll:impl"}, call["callees"])
}
