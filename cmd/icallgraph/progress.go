package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/cheggaaa/pb/v3"
)

const progressTemplate = `{{string . "phase"}} {{counters . }} {{bar . }} {{percent . }} {{etime . }}`

// progress reports module passes on a terminal bar. Without a terminal, or
// when logging is enabled, it logs each pass instead.
type progress struct {
	bar *pb.ProgressBar
}

func newProgress(w io.Writer, cfg *Config, modules, phases int) *progress {
	if cfg.Verbosity > 0 || !isTerminal(w) {
		return &progress{}
	}
	bar := pb.ProgressBarTemplate(progressTemplate).New(modules * phases)
	bar.SetWriter(w)
	bar.Set("phase", "analyzing")
	bar.Start()
	return &progress{bar: bar}
}

func (p *progress) update(phase, index, total int, module string, changed bool) {
	slog.Debug("module analyzed",
		"phase", phase,
		"index", index,
		"total", total,
		"module", module,
		"changed", changed)
	if p.bar == nil {
		return
	}
	p.bar.Set("phase", fmt.Sprintf("phase %d", phase))
	p.bar.Increment()
}

// finish completes the bar. A run that settles early leaves later phases
// unvisited.
func (p *progress) finish() {
	if p.bar == nil {
		return
	}
	p.bar.SetCurrent(p.bar.Total())
	p.bar.Finish()
}
