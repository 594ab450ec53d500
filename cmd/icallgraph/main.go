// Package main implements the CLI driver for the indirect call graph builder.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/icallgraph/internal/analysis"
	"github.com/715d/icallgraph/pkg/icallgraph"
)

// Config holds all command-line configuration options.
type Config struct {
	Inputs      []string // IR files named on the command line
	ListFile    string   // file with one IR path per line
	MLTA        bool     // narrow candidates by struct field
	TyPM        bool     // filter candidates by module type visibility
	Phases      int      // maximum number of analysis phases
	Verbosity   int      // 0 quiet, 1 info, 2 and above debug
	SrcRoot     string   // prefix for file names recorded in debug info
	Output      string   // result destination, stdout when empty
	Format      string   // text, json or prometheus
	DumpCallees bool     // include the per-call results
	ConfigFile  string   // yaml file with flag defaults
	Profile     bool     // enables CPU and memory profiling
}

const (
	exitOK    = 0
	exitError = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command with args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var cfg Config
	rootCmd := newRootCmd(&cfg, stdout, stderr)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_ = teardown(&cfg)
		if err.Error() != "" {
			fmt.Fprintln(stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			return cErr.code
		}
		return exitError
	}
	return exitOK
}

func newRootCmd(cfg *Config, stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "icallgraph [flags] <ir files...>",
		Short: "Resolve indirect call targets in LLVM IR",
		Long: `icallgraph builds the targets of every indirect call across a set of
LLVM IR modules.

Candidates are first selected by function type. With --mlta they are narrowed
to the functions stored into the struct field the called pointer was loaded
from. With --typm, functions local to one module are only offered to modules
that can see them through a shared struct type or an untracked escape.`,
		Example: `  icallgraph --src-root /src/linux a.ll b.ll
  icallgraph --src-root /src/linux --bc-list modules.txt
  icallgraph --src-root . --mlta=false --format json -o report.json *.ll
  icallgraph --src-root . --dump-callees -v 1 *.ll`,
		Args: cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd, cfg, stderr)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Inputs = args
			return runCommand(cmd.Context(), cfg, stdout, stderr)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return teardown(cfg)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	// Set custom version template to include build info.
	rootCmd.SetVersionTemplate(fmt.Sprintf("icallgraph version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	// Define flags.
	flags := rootCmd.Flags()
	flags.BoolVar(&cfg.MLTA, "mlta", true, "Narrow candidates by the struct field the callee was loaded from")
	flags.BoolVar(&cfg.TyPM, "typm", true, "Filter candidates by module type visibility; when off only one phase runs")
	flags.IntVar(&cfg.Phases, "phase", 2, "Maximum number of analysis phases")
	flags.IntVarP(&cfg.Verbosity, "verbose-level", "v", 0, "Diagnostic verbosity (0 quiet, 1 info, 2 debug)")
	flags.StringVar(&cfg.SrcRoot, "src-root", "", "Source root joined onto file names in debug info")
	flags.StringVar(&cfg.ListFile, "bc-list", "", "File listing one IR module path per line")
	flags.StringVarP(&cfg.Output, "output", "o", "", "Write results to this file instead of stdout")
	flags.StringVar(&cfg.Format, "format", formatText, "Output format: text, json or prometheus")
	flags.BoolVar(&cfg.DumpCallees, "dump-callees", false, "Include the targets of every indirect call")
	flags.StringVar(&cfg.ConfigFile, "config", "", "YAML file with flag defaults; explicit flags win")
	flags.BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")

	return rootCmd
}

func runCommand(ctx context.Context, cfg *Config, stdout, stderr io.Writer) error {
	// The destination is opened before any module is loaded.
	out, closeOut, err := openOutput(cfg.Output, stdout)
	if err != nil {
		return errWithCode(err, exitError)
	}
	defer closeOut()

	result, loadErrs, err := runAnalysis(ctx, cfg, stderr)
	if err != nil {
		return errWithCode(fmt.Errorf("analyze: %w", err), exitError)
	}

	if err := writeResults(out, result, loadErrs, cfg); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}
	return nil
}

func runAnalysis(ctx context.Context, cfg *Config, stderr io.Writer) (*icallgraph.Result, []*icallgraph.LoadError, error) {
	start := time.Now()

	slog.Info("loading modules", "inputs", len(cfg.Inputs), "list", cfg.ListFile)
	mods, loadErrs, err := icallgraph.LoadModules(ctx, icallgraph.LoaderOptions{
		Paths:    cfg.Inputs,
		ListFile: cfg.ListFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading modules: %w", err)
	}
	for _, le := range loadErrs {
		fmt.Fprintf(stderr, "icallgraph: error loading file '%s': %v\n", le.Path, le.Err)
	}
	slog.Info("loaded modules", "num", len(mods), "failed", len(loadErrs))

	if len(mods) == 0 {
		slog.Warn("no module could be loaded")
		return &icallgraph.Result{}, loadErrs, nil
	}

	opts := icallgraph.AnalyzerOptions{
		MLTA:      cfg.MLTA,
		TyPM:      cfg.TyPM,
		MaxPhases: cfg.Phases,
		SrcRoot:   cfg.SrcRoot,
	}
	bar := newProgress(stderr, cfg, len(mods), analysis.Config{TyPM: cfg.TyPM, MaxPhases: cfg.Phases}.Phases())
	opts.Progress = bar.update

	slog.Info("running analysis", "mlta", cfg.MLTA, "typm", cfg.TyPM, "phases", cfg.Phases)
	result, err := icallgraph.NewAnalyzer(opts).Analyze(ctx, mods)
	bar.finish()
	if err != nil {
		return nil, nil, err
	}
	slog.Info("analysis completed", "dur", time.Since(start))
	return result, loadErrs, nil
}

// openOutput returns the result destination and a function releasing it.
func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open output file %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

var cpuProfile *os.File

func setup(cmd *cobra.Command, cfg *Config, stderr io.Writer) error {
	if err := applyConfigFile(cmd, cfg); err != nil {
		return errWithCode(err, exitError)
	}
	if err := validate(cfg); err != nil {
		return errWithCode(err, exitError)
	}

	// Disable logger unless a verbosity level is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbosity > 0 {
		level := slog.LevelInfo
		if cfg.Verbosity > 1 {
			level = slog.LevelDebug
		}
		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler = slog.NewTextHandler(stderr, opts)
		if cfg.Format == formatJSON {
			handler = slog.NewJSONHandler(stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !cfg.Profile {
		return nil
	}

	// Start CPU profiling.
	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		cpuProfile = nil
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func validate(cfg *Config) error {
	switch {
	case cfg.SrcRoot == "":
		return errors.New("--src-root is required")
	case cfg.Phases < 1:
		return fmt.Errorf("--phase must be positive, got %d", cfg.Phases)
	case cfg.Verbosity < 0:
		return fmt.Errorf("--verbose-level must not be negative, got %d", cfg.Verbosity)
	case cfg.Format != formatText && cfg.Format != formatJSON && cfg.Format != formatPrometheus:
		return fmt.Errorf("unknown --format %q", cfg.Format)
	}
	return nil
}

func teardown(cfg *Config) error {
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	// Stop CPU profiling and close file.
	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	// Write memory profile.
	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error {
	return e.err
}
