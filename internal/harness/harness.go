package harness

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/715d/icallgraph/internal/analysis"
	"github.com/715d/icallgraph/pkg/icallgraph"
)

// TestHarness manages test execution.
type TestHarness struct {
	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root}
}

// ConfigurationResult represents the result of running a single configuration.
type ConfigurationResult struct {
	// Configuration is the configuration that was run.
	Configuration Configuration

	// Result is the raw result from the analyzer.
	Result *icallgraph.Result

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each configuration.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all configurations passed)
	Success bool

	// Message provides a summary of the result.
	Message string
}

// Run executes a test case with all its configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Configurations, "test case has no configurations")

	var results []ConfigurationResult
	var allSuccess = true

	// Run each configuration.
	for _, cfg := range tc.Configurations {
		cfgResult := h.runConfiguration(t, tc, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	// Create overall result message.
	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.Configurations))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.Configurations), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

// Options returns the analyzer options a configuration selects.
func (cfg Configuration) Options() icallgraph.AnalyzerOptions {
	opts := icallgraph.DefaultAnalyzerOptions()
	if cfg.MLTA != nil {
		opts.MLTA = *cfg.MLTA
	}
	if cfg.TyPM != nil {
		opts.TyPM = *cfg.TyPM
	}
	if cfg.Phases > 0 {
		opts.MaxPhases = cfg.Phases
	}
	return opts
}

// runConfiguration executes analysis for a single configuration
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg Configuration) *ConfigurationResult {
	t.Helper()
	dir := filepath.Join(h.root, tc.Dir)
	mods, loadErrs := LoadModules(t, dir, tc.Modules)

	cfgResult := &ConfigurationResult{Configuration: cfg, Success: true}
	var failedLoads []string
	for _, le := range loadErrs {
		failedLoads = append(failedLoads, le.Path)
	}
	if diff := cmp.Diff(sorted(cfg.ExpectedLoadErrors), sorted(failedLoads)); diff != "" {
		cfgResult.fail("load errors mismatch (-want +got):\n" + diff)
	}

	opts := cfg.Options()
	opts.SrcRoot = dir
	result, err := icallgraph.NewAnalyzer(opts).Analyze(t.Context(), mods)
	if err != nil {
		// Check if this error was expected.
		for _, expectedErr := range cfg.ExpectedErrors {
			if strings.Contains(err.Error(), expectedErr) {
				cfgResult.Message = fmt.Sprintf("Got expected error: %v", err)
				return cfgResult
			}
		}
		require.NoError(t, err)
	}
	if len(cfg.ExpectedErrors) > 0 {
		cfgResult.fail(fmt.Sprintf("expected errors %q, analysis succeeded", cfg.ExpectedErrors))
	}

	cfgResult.Result = result
	validateCalls(cfgResult, cfg.ExpectedCalls, result.CallSites)
	validateStats(cfgResult, cfg.ExpectedStats, result.Stats)

	if cfgResult.Success {
		cfgResult.Message = fmt.Sprintf("All %d expected calls matched", len(cfg.ExpectedCalls))
	} else if cfgResult.Message == "" {
		cfgResult.Message = fmt.Sprintf("Test failed with %d differences", len(cfgResult.Details))
	}
	return cfgResult
}

func (r *ConfigurationResult) fail(detail string) {
	r.Success = false
	r.Details = append(r.Details, detail)
}

// validateExpectedCalls validates that expected calls have required fields
func validateExpectedCalls(expected []ExpectedCall) error {
	for i, exp := range expected {
		if strings.TrimSpace(exp.Caller) == "" || strings.TrimSpace(exp.Module) == "" {
			return fmt.Errorf("expected call at index %d needs both 'caller' and 'module'", i)
		}
		switch exp.Layer {
		case analysis.LayerSignature.String(), analysis.LayerField.String():
		default:
			return fmt.Errorf("expected call at index %d has unknown layer %q", i, exp.Layer)
		}
	}
	return nil
}

func callKey(module, caller string) string {
	return module + ":" + caller
}

func validateCalls(cfgResult *ConfigurationResult, expected []ExpectedCall, actual []icallgraph.CallSiteResult) {
	if err := validateExpectedCalls(expected); err != nil {
		cfgResult.fail("Invalid expected.yaml: " + err.Error())
		return
	}

	expectedMap := make(map[string]ExpectedCall)
	for _, e := range expected {
		expectedMap[callKey(e.Module, e.Caller)] = e
	}

	// A caller with several indirect calls is reported once per call; the
	// expectation must then hold for each of them.
	actualMap := make(map[string][]icallgraph.CallSiteResult)
	for _, a := range actual {
		key := callKey(a.Module, a.Caller)
		actualMap[key] = append(actualMap[key], a)
	}

	var missing, unexpected []string
	for key := range expectedMap {
		if _, found := actualMap[key]; !found {
			missing = append(missing, key)
		}
	}
	for key := range actualMap {
		if _, found := expectedMap[key]; !found {
			unexpected = append(unexpected, key)
		}
	}

	// Sort for consistent output.
	sort.Strings(missing)
	sort.Strings(unexpected)
	for _, m := range missing {
		cfgResult.fail("Indirect call not found: " + m)
	}
	for _, u := range unexpected {
		cfgResult.fail("Unexpected indirect call: " + u)
	}

	keys := make([]string, 0, len(expectedMap))
	for key := range expectedMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		exp := expectedMap[key]
		for _, act := range actualMap[key] {
			if act.Layer.String() != exp.Layer {
				cfgResult.fail(fmt.Sprintf("Layer mismatch for %s: expected %s, got %s", key, exp.Layer, act.Layer))
			}
			if diff := cmp.Diff(sorted(exp.Callees), sorted(act.Callees)); diff != "" {
				cfgResult.fail(fmt.Sprintf("Callees mismatch for %s (-want +got):\n%s", key, diff))
			}
		}
	}
}

// validateStats compares the named statistics of snap with expected.
func validateStats(cfgResult *ConfigurationResult, expected map[string]float64, snap analysis.Snapshot) {
	if len(expected) == 0 {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		cfgResult.fail("encoding statistics: " + err.Error())
		return
	}
	var actual map[string]float64
	if err := json.Unmarshal(data, &actual); err != nil {
		cfgResult.fail("decoding statistics: " + err.Error())
		return
	}

	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		got, ok := actual[name]
		switch {
		case !ok:
			cfgResult.fail("Unknown statistic: " + name)
		case math.Abs(got-expected[name]) > 1e-6:
			cfgResult.fail(fmt.Sprintf("Statistic %s: expected %v, got %v", name, expected[name], got))
		}
	}
}

func sorted(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	if out == nil {
		out = []string{}
	}
	return out
}
