package icallgraph

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"
	"strings"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"golang.org/x/sync/errgroup"

	"github.com/715d/icallgraph/internal/analysis"
)

// ErrBitcode is returned for inputs in the binary bitcode format. Only
// textual IR is parsed; convert with llvm-dis first.
var ErrBitcode = errors.New("binary bitcode is not supported, convert with llvm-dis")

// bitcode files start with 'BC' 0xC0DE, or with the wrapper magic 0x0B17C0DE.
var bitcodeMagic = [][]byte{
	{'B', 'C', 0xC0, 0xDE},
	{0xDE, 0xC0, 0x17, 0x0B},
}

// LoaderOptions configures module loading.
type LoaderOptions struct {
	// Paths are the IR files to load.
	Paths []string

	// ListFile names a file with one IR path per line. Its entries are
	// appended to Paths.
	ListFile string

	// Concurrency bounds the number of files parsed at once.
	// If zero, uses runtime.NumCPU().
	Concurrency int
}

// ReadListFile reads an input list. Blank lines and lines starting with '#'
// are skipped.
func ReadListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening list file: %w", err)
	}
	defer f.Close()

	var paths []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading list file %s: %w", path, err)
	}
	return paths, nil
}

// LoadModules parses the requested IR files. Files that fail to parse are
// logged, skipped and returned as load errors; the remaining modules keep
// the input order. Duplicate paths are loaded once.
func LoadModules(ctx context.Context, opts LoaderOptions) ([]analysis.Module, []*LoadError, error) {
	paths := opts.Paths
	if opts.ListFile != "" {
		listed, err := ReadListFile(opts.ListFile)
		if err != nil {
			return nil, nil, err
		}
		paths = append(paths[:len(paths):len(paths)], listed...)
	}
	paths = dedupe(paths)
	if len(paths) == 0 {
		return nil, nil, errors.New("no input files")
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = goruntime.NumCPU()
	}

	// Each goroutine writes only its own index.
	mods := make([]analysis.Module, len(paths))
	failures := make([]error, len(paths))

	var wg errgroup.Group
	wg.SetLimit(limit)
	for idx, path := range paths {
		wg.Go(func() error {
			if err := ctx.Err(); err != nil {
				failures[idx] = err
				return nil
			}
			m, err := parseFile(path)
			if err != nil {
				failures[idx] = err
				return nil
			}
			mods[idx] = analysis.Module{Path: path, IR: m}
			return nil
		})
	}
	_ = wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("loading modules: %w", err)
	}

	loaded := make([]analysis.Module, 0, len(paths))
	var loadErrs []*LoadError
	for idx, path := range paths {
		if err := failures[idx]; err != nil {
			slog.Warn("skipping module", "path", path, "error", err)
			loadErrs = append(loadErrs, &LoadError{Path: path, Err: err})
			continue
		}
		loaded = append(loaded, mods[idx])
	}
	return loaded, loadErrs, nil
}

func parseFile(path string) (*ir.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	for _, magic := range bitcodeMagic {
		if bytes.HasPrefix(data, magic) {
			return nil, ErrBitcode
		}
	}
	return asm.ParseBytes(path, data)
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
