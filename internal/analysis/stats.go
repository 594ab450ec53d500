package analysis

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Metric names exposed by Stats.
const (
	MetricIndirectCalls            = "icallgraph_indirect_calls_total"
	MetricIndirectCallsWithTargets = "icallgraph_indirect_calls_with_targets_total"
	MetricIndirectCallTargets      = "icallgraph_indirect_call_targets_total"
	MetricAddressTakenFuncs        = "icallgraph_address_taken_functions"
	MetricFirstLayerCalls          = "icallgraph_first_layer_calls_total"
	MetricFirstLayerTargets        = "icallgraph_first_layer_targets_total"
	MetricSecondLayerCalls         = "icallgraph_second_layer_calls_total"
	MetricSecondLayerTargets       = "icallgraph_second_layer_targets_total"
	MetricPhases                   = "icallgraph_analysis_phases_total"
	MetricAverageTargets           = "icallgraph_average_indirect_call_targets"
)

// Stats holds the result statistics of a run in a metrics set.
type Stats struct {
	set *metrics.Set

	indirectCalls      *metrics.Counter
	callsWithTargets   *metrics.Counter
	callTargets        *metrics.Counter
	addressTaken       *metrics.Counter
	firstLayerCalls    *metrics.Counter
	firstLayerTargets  *metrics.Counter
	secondLayerCalls   *metrics.Counter
	secondLayerTargets *metrics.Counter
	phases             *metrics.Counter
	average            *metrics.Gauge
}

// Snapshot is a plain copy of the statistics.
type Snapshot struct {
	IndirectCalls            uint64  `json:"indirect_calls"`
	IndirectCallsWithTargets uint64  `json:"indirect_calls_with_targets"`
	IndirectCallTargets      uint64  `json:"indirect_call_targets"`
	AddressTakenFuncs        uint64  `json:"address_taken_functions"`
	FirstLayerCalls          uint64  `json:"first_layer_calls"`
	FirstLayerTargets        uint64  `json:"first_layer_targets"`
	SecondLayerCalls         uint64  `json:"second_layer_calls"`
	SecondLayerTargets       uint64  `json:"second_layer_targets"`
	Phases                   uint64  `json:"phases"`
	AverageTargets           float64 `json:"average_targets"`
}

// NewStats returns zeroed statistics.
func NewStats() *Stats {
	set := metrics.NewSet()
	return &Stats{
		set:                set,
		indirectCalls:      set.GetOrCreateCounter(MetricIndirectCalls),
		callsWithTargets:   set.GetOrCreateCounter(MetricIndirectCallsWithTargets),
		callTargets:        set.GetOrCreateCounter(MetricIndirectCallTargets),
		addressTaken:       set.GetOrCreateCounter(MetricAddressTakenFuncs),
		firstLayerCalls:    set.GetOrCreateCounter(MetricFirstLayerCalls),
		firstLayerTargets:  set.GetOrCreateCounter(MetricFirstLayerTargets),
		secondLayerCalls:   set.GetOrCreateCounter(MetricSecondLayerCalls),
		secondLayerTargets: set.GetOrCreateCounter(MetricSecondLayerTargets),
		phases:             set.GetOrCreateCounter(MetricPhases),
		average:            set.GetOrCreateGauge(MetricAverageTargets, nil),
	}
}

// Record recomputes the statistics from the final call site records.
func (s *Stats) Record(calls []*CallSite, addressTaken int) {
	var snap Snapshot
	snap.IndirectCalls = uint64(len(calls))
	snap.AddressTakenFuncs = uint64(addressTaken)
	for _, cs := range calls {
		n := uint64(len(cs.callees))
		if n > 0 {
			snap.IndirectCallsWithTargets++
		}
		snap.IndirectCallTargets += n
		switch cs.Layer {
		case LayerField:
			snap.SecondLayerCalls++
			snap.SecondLayerTargets += n
		case LayerSignature:
			snap.FirstLayerCalls++
			snap.FirstLayerTargets += n
		}
	}

	s.indirectCalls.Set(snap.IndirectCalls)
	s.callsWithTargets.Set(snap.IndirectCallsWithTargets)
	s.callTargets.Set(snap.IndirectCallTargets)
	s.addressTaken.Set(snap.AddressTakenFuncs)
	s.firstLayerCalls.Set(snap.FirstLayerCalls)
	s.firstLayerTargets.Set(snap.FirstLayerTargets)
	s.secondLayerCalls.Set(snap.SecondLayerCalls)
	s.secondLayerTargets.Set(snap.SecondLayerTargets)
	s.average.Set(averageTargets(snap))
}

// SetPhases records how many analysis phases ran.
func (s *Stats) SetPhases(n int) {
	if n < 0 {
		n = 0
	}
	s.phases.Set(uint64(n))
}

// Snapshot returns the current statistics.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		IndirectCalls:            s.indirectCalls.Get(),
		IndirectCallsWithTargets: s.callsWithTargets.Get(),
		IndirectCallTargets:      s.callTargets.Get(),
		AddressTakenFuncs:        s.addressTaken.Get(),
		FirstLayerCalls:          s.firstLayerCalls.Get(),
		FirstLayerTargets:        s.firstLayerTargets.Get(),
		SecondLayerCalls:         s.secondLayerCalls.Get(),
		SecondLayerTargets:       s.secondLayerTargets.Get(),
		Phases:                   s.phases.Get(),
	}
	snap.AverageTargets = averageTargets(snap)
	return snap
}

// WritePrometheus writes the statistics in Prometheus text format.
func (s *Stats) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}

// averageTargets divides by all indirect calls, but only once at least one
// of them has targets.
func averageTargets(s Snapshot) float64 {
	if s.IndirectCallsWithTargets == 0 || s.IndirectCalls == 0 {
		return 0
	}
	return float64(s.IndirectCallTargets) / float64(s.IndirectCalls)
}
