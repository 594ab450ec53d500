package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/icallgraph/internal/analysis"
	"github.com/715d/icallgraph/internal/srcloc"
	"github.com/715d/icallgraph/pkg/icallgraph"
)

const callerIR = `
%struct.Ops = type { i32 (i32)* }

define i32 @use(%struct.Ops* %x) {
entry:
  %fp = getelementptr %struct.Ops, %struct.Ops* %x, i32 0, i32 0
  %op = load i32 (i32)*, i32 (i32)** %fp
  %r = call i32 %op(i32 5)
  ret i32 %r
}
`

const targetsIR = `
%struct.Ops = type { i32 (i32)* }
%struct.Handler = type { i32 (i32)* }

@ops = global %struct.Ops { i32 (i32)* @f }
@handler = global %struct.Handler { i32 (i32)* @g }

define i32 @f(i32 %x) {
entry:
  ret i32 %x
}

define i32 @g(i32 %x) {
entry:
  ret i32 0
}
`

func writeInputs(t *testing.T) (dir, caller, targets string) {
	t.Helper()
	dir = t.TempDir()
	caller = filepath.Join(dir, "a.ll")
	targets = filepath.Join(dir, "b.ll")
	require.NoError(t, os.WriteFile(caller, []byte(callerIR), 0o600))
	require.NoError(t, os.WriteFile(targets, []byte(targetsIR), 0o600))
	return dir, caller, targets
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Text(t *testing.T) {
	dir, caller, targets := writeInputs(t)

	code, out, errOut := execute(t, "--src-root", dir, "--dump-callees", caller, targets)
	require.Equal(t, exitOK, code, errOut)
	require.Contains(t, out, "############## Result Statistics ##############")
	require.Contains(t, out, "# Number of indirect calls: \t\t\t1\n")
	require.Contains(t, out, "# Number of second layer calls: \t\t1\n")
	require.Contains(t, out, "# Ave. Number of indirect-call targets: \t1\n")
	require.Contains(t, out, "  use ("+caller+") field\n")
	require.Contains(t, out, "    -> f\n")
	require.NotContains(t, out, "-> g")
	require.NotContains(t, out, "\x1b[", "no color when not writing to a terminal")
}

func TestRun_MLTADisabled(t *testing.T) {
	dir, caller, targets := writeInputs(t)

	code, out, errOut := execute(t, "--src-root", dir, "--mlta=false", "--dump-callees", caller, targets)
	require.Equal(t, exitOK, code, errOut)
	require.Contains(t, out, "    -> f\n    -> g\n")
	require.Contains(t, out, "# Number of first layer calls: \t\t\t1\n")
}

func TestRun_JSON(t *testing.T) {
	dir, caller, targets := writeInputs(t)
	list := filepath.Join(dir, "list.txt")
	missing := filepath.Join(dir, "missing.ll")
	require.NoError(t, os.WriteFile(list, []byte(targets+"\n"+missing+"\n"), 0o600))

	code, out, errOut := execute(t, "--src-root", dir, "--format", "json", "--dump-callees", "--bc-list", list, caller)
	require.Equal(t, exitOK, code, errOut)
	require.Contains(t, errOut, "error loading file '"+missing+"'")

	var decoded struct {
		CallSites []struct {
			Caller  string   `json:"caller"`
			Layer   string   `json:"layer"`
			Callees []string `json:"callees"`
		} `json:"call_sites"`
		Stats      analysis.Snapshot `json:"stats"`
		LoadErrors []jLoadError      `json:"load_errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.CallSites, 1)
	require.Equal(t, "use", decoded.CallSites[0].Caller)
	require.Equal(t, "field", decoded.CallSites[0].Layer)
	require.Equal(t, []string{"f"}, decoded.CallSites[0].Callees)
	require.Equal(t, uint64(2), decoded.Stats.AddressTakenFuncs)
	require.Equal(t, uint64(2), decoded.Stats.Phases)
	require.Len(t, decoded.LoadErrors, 1)
	require.Equal(t, missing, decoded.LoadErrors[0].Path)
}

func TestRun_Prometheus(t *testing.T) {
	dir, caller, targets := writeInputs(t)

	code, out, errOut := execute(t, "--src-root", dir, "--format", "prometheus", caller, targets)
	require.Equal(t, exitOK, code, errOut)
	require.Contains(t, out, analysis.MetricIndirectCalls+" 1\n")
	require.Contains(t, out, analysis.MetricAddressTakenFuncs+" 2\n")
}

func TestRun_OutputFile(t *testing.T) {
	dir, caller, targets := writeInputs(t)
	dest := filepath.Join(dir, "report.txt")

	code, out, errOut := execute(t, "--src-root", dir, "-o", dest, caller, targets)
	require.Equal(t, exitOK, code, errOut)
	require.Empty(t, out)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Contains(t, string(data), "# Number of indirect calls: \t\t\t1\n")
}

func TestRun_NoLoadableModules(t *testing.T) {
	dir := t.TempDir()
	code, out, errOut := execute(t, "--src-root", dir, filepath.Join(dir, "gone.ll"))
	require.Equal(t, exitOK, code, errOut)
	require.Contains(t, errOut, "error loading file")
	require.Contains(t, out, "# Number of indirect calls: \t\t\t0\n")
}

func TestRun_ConfigurationErrors(t *testing.T) {
	dir, caller, _ := writeInputs(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing source root", []string{caller}, "--src-root is required"},
		{"zero phases", []string{"--src-root", dir, "--phase", "0", caller}, "--phase must be positive"},
		{"negative verbosity", []string{"--src-root", dir, "-v", "-1", caller}, "--verbose-level"},
		{"unknown format", []string{"--src-root", dir, "--format", "xml", caller}, "unknown --format"},
		{"unopenable output", []string{"--src-root", dir, "-o", filepath.Join(dir, "no", "such", "dir", "out"), caller}, "unable to open output file"},
		{"unreadable list", []string{"--src-root", dir, "--bc-list", filepath.Join(dir, "none.txt")}, "list file"},
		{"no inputs", []string{"--src-root", dir}, "no input files"},
		{"unknown flag", []string{"--bogus"}, "unknown flag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := execute(t, tt.args...)
			require.Equal(t, exitError, code)
			require.Contains(t, errOut, tt.wantErr)
		})
	}
}

func TestRun_ConfigFile(t *testing.T) {
	dir, caller, targets := writeInputs(t)
	conf := filepath.Join(dir, "icallgraph.yaml")
	require.NoError(t, os.WriteFile(conf, []byte(strings.Join([]string{
		"src-root: " + dir,
		"mlta: false",
		"dump-callees: true",
		"format: text",
	}, "\n")), 0o600))

	code, out, errOut := execute(t, "--config", conf, caller, targets)
	require.Equal(t, exitOK, code, errOut)
	require.Contains(t, out, "    -> f\n    -> g\n", "mlta disabled by the file")

	// Explicit flags win over the file.
	code, out, errOut = execute(t, "--config", conf, "--mlta=true", caller, targets)
	require.Equal(t, exitOK, code, errOut)
	require.NotContains(t, out, "-> g")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("phase: [1"), 0o600))
	code, _, errOut = execute(t, "--config", bad, caller)
	require.Equal(t, exitError, code)
	require.Contains(t, errOut, "parsing config")
}

func TestRun_CallWithoutLocation(t *testing.T) {
	dir, caller, targets := writeInputs(t)
	code, out, _ := execute(t, "--src-root", dir, "--dump-callees", caller, targets)
	require.Equal(t, exitOK, code)
	require.Contains(t, out, " [icall] ??\n", "call without debug location")
}

func TestWriteCallSite_Definitions(t *testing.T) {
	var out strings.Builder
	writeCallSite(&out, newPalette(false), icallgraph.CallSiteResult{
		Caller:   "vfs_release",
		Module:   "vfs.ll",
		Location: srcloc.Location{File: "fs/file.c", Line: 42},
		Source:   "fops->release(inode);",
		Layer:    analysis.LayerField,
		Callees:  []string{"drivers.ll:ext4_release", "xfs_release"},
		Definitions: map[string]srcloc.Location{
			"drivers.ll:ext4_release": {File: "fs/ext4/file.c", Line: 7},
		},
	})
	require.Equal(t, " [icall] fs/file.c +42 fops->release(inode);\n"+
		"  vfs_release (vfs.ll) field\n"+
		"    -> drivers.ll:ext4_release fs/ext4/file.c +7\n"+
		"    -> xfs_release\n", out.String())
}
