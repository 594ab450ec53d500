// Package icallgraph resolves the targets of indirect calls across a set of
// LLVM IR modules.
package icallgraph

import (
	"fmt"

	"github.com/715d/icallgraph/internal/analysis"
	"github.com/715d/icallgraph/internal/fixpoint"
	"github.com/715d/icallgraph/internal/srcloc"
	"github.com/715d/icallgraph/internal/typesig"
)

// CallSiteResult is the resolved target set of one indirect call.
type CallSiteResult struct {
	Caller   string          `json:"caller"`
	Module   string          `json:"module"`
	Location srcloc.Location `json:"location"`
	// Path is Location.File joined onto the source root.
	Path    string         `json:"path,omitempty"`
	Source  string         `json:"source,omitempty"`
	Layer   analysis.Layer `json:"layer"`
	Callees []string       `json:"callees"`

	// Definitions holds the declaration position of each callee that has
	// debug info, keyed by its entry in Callees.
	Definitions map[string]srcloc.Location `json:"definitions,omitempty"`
}

// Result is the outcome of one analysis run.
type Result struct {
	Stats     analysis.Snapshot  `json:"stats"`
	Report    fixpoint.Report    `json:"report"`
	Types     typesig.TableStats `json:"types"`
	CallSites []CallSiteResult   `json:"call_sites,omitempty"`

	// Context is the analysis state the result was read from.
	Context *analysis.Context `json:"-"`
}

// LoadError is an input file that could not be parsed. Loading continues
// without it.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
