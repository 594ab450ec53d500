package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/715d/icallgraph/internal/analysis"
	"github.com/715d/icallgraph/pkg/icallgraph"
)

const (
	formatText       = "text"
	formatJSON       = "json"
	formatPrometheus = "prometheus"
)

func writeResults(w io.Writer, result *icallgraph.Result, loadErrs []*icallgraph.LoadError, cfg *Config) error {
	switch cfg.Format {
	case formatJSON:
		return writeJSON(w, result, loadErrs, cfg)
	case formatPrometheus:
		return writePrometheus(w, result)
	default:
		_, err := io.WriteString(w, formatTextOutput(result, cfg, isTerminal(w)))
		return err
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type palette struct {
	tag    func(a ...any) string
	source func(a ...any) string
	header func(a ...any) string
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		tag:    mk(color.FgBlue),
		source: mk(color.FgMagenta),
		header: mk(color.Bold),
	}
}

func formatTextOutput(result *icallgraph.Result, cfg *Config, colored bool) string {
	var output strings.Builder
	p := newPalette(colored)

	if cfg.DumpCallees {
		for _, cs := range result.CallSites {
			writeCallSite(&output, p, cs)
		}
	}

	s := result.Stats
	fmt.Fprintf(&output, "\n@@ Total number of final callees: %d\n", s.IndirectCallTargets)
	output.WriteString(p.header("############## Result Statistics ##############") + "\n")
	fmt.Fprintf(&output, "# Ave. Number of indirect-call targets: \t%s\n", strconv.FormatFloat(s.AverageTargets, 'g', 5, 64))
	fmt.Fprintf(&output, "# Number of indirect calls: \t\t\t%d\n", s.IndirectCalls)
	fmt.Fprintf(&output, "# Number of indirect calls with targets: \t%d\n", s.IndirectCallsWithTargets)
	fmt.Fprintf(&output, "# Number of indirect-call targets: \t\t%d\n", s.IndirectCallTargets)
	fmt.Fprintf(&output, "# Number of address-taken functions: \t\t%d\n", s.AddressTakenFuncs)
	fmt.Fprintf(&output, "# Number of second layer calls: \t\t%d\n", s.SecondLayerCalls)
	fmt.Fprintf(&output, "# Number of second layer targets: \t\t%d\n", s.SecondLayerTargets)
	fmt.Fprintf(&output, "# Number of first layer calls: \t\t\t%d\n", s.FirstLayerCalls)
	fmt.Fprintf(&output, "# Number of first layer targets: \t\t%d\n", s.FirstLayerTargets)
	return output.String()
}

// writeCallSite prints one call as
//
//	[icall] file +line source
//	  caller (module) layer
//	    -> callee [file +line]
func writeCallSite(output *strings.Builder, p palette, cs icallgraph.CallSiteResult) {
	output.WriteString(" [" + p.tag("icall") + "] ")
	if cs.Location.IsZero() {
		output.WriteString("??")
	} else {
		fmt.Fprintf(output, "%s +%d", cs.Location.File, cs.Location.Line)
		if cs.Source != "" {
			output.WriteString(" " + p.source(cs.Source))
		}
	}
	output.WriteByte('\n')
	fmt.Fprintf(output, "  %s (%s) %s\n", cs.Caller, cs.Module, cs.Layer)
	for _, callee := range cs.Callees {
		if def, ok := cs.Definitions[callee]; ok {
			fmt.Fprintf(output, "    -> %s %s +%d\n", callee, def.File, def.Line)
			continue
		}
		fmt.Fprintf(output, "    -> %s\n", callee)
	}
}

func writeJSON(w io.Writer, result *icallgraph.Result, loadErrs []*icallgraph.LoadError, cfg *Config) error {
	out := jOutput{
		Stats:     result.Stats,
		Report:    result.Report,
		Types:     result.Types,
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if cfg.DumpCallees {
		out.CallSites = result.CallSites
	}
	for _, le := range loadErrs {
		out.LoadErrors = append(out.LoadErrors, jLoadError{Path: le.Path, Error: le.Err.Error()})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json output: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func writePrometheus(w io.Writer, result *icallgraph.Result) error {
	stats := analysis.NewStats()
	if result.Context != nil {
		stats = result.Context.Stats
	}
	stats.WritePrometheus(w)
	return nil
}

type jOutput struct {
	CallSites  []icallgraph.CallSiteResult `json:"call_sites,omitempty"`
	Stats      any                         `json:"stats"`
	Report     any                         `json:"report"`
	Types      any                         `json:"types"`
	LoadErrors []jLoadError                `json:"load_errors,omitempty"`
	Version    string                      `json:"version"`
	Timestamp  string                      `json:"timestamp"`
}

type jLoadError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}
