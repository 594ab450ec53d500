// Package harness provides test harness infrastructure for validating the
// call graph builder against IR scenarios under testdata.
package harness

// TestCase represents a single test scenario.
type TestCase struct {
	// Dir is the directory containing the scenario modules.
	Dir string `yaml:"-"`

	// Description says what the scenario exercises.
	Description string `yaml:"description"`

	// Modules lists the IR files to load, in order, relative to Dir.
	// If empty, every .ll file of Dir is loaded in name order.
	Modules []string `yaml:"modules,omitempty"`

	// Configurations defines the analysis settings to test.
	Configurations []Configuration `yaml:"configurations"`
}

// Configuration is one analysis setting and its expected outcome.
type Configuration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// MLTA and TyPM default to enabled.
	MLTA *bool `yaml:"mlta,omitempty"`
	TyPM *bool `yaml:"typm,omitempty"`

	// Phases is the phase cap; zero means two.
	Phases int `yaml:"phases,omitempty"`

	// ExpectedCalls lists every indirect call expected to be found.
	ExpectedCalls []ExpectedCall `yaml:"expected_calls"`

	// ExpectedStats maps statistic names, as in the JSON report, to values.
	ExpectedStats map[string]float64 `yaml:"expected_stats,omitempty"`

	// ExpectedLoadErrors lists the modules expected to fail to load.
	ExpectedLoadErrors []string `yaml:"expected_load_errors,omitempty"`

	// ExpectedErrors lists any expected analysis error messages.
	ExpectedErrors []string `yaml:"expected_errors,omitempty"`
}

// ExpectedCall is an indirect call and its expected targets.
type ExpectedCall struct {
	// Caller is the display name of the calling function.
	Caller string `yaml:"caller"`

	// Module is the module of the call, relative to the scenario.
	Module string `yaml:"module"`

	// Layer is "signature" or "field".
	Layer string `yaml:"layer"`

	// Callees are the expected target display names.
	Callees []string `yaml:"callees"`
}
