// Package srcloc maps IR instructions back to source positions through their
// debug metadata.
package srcloc

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/metadata"
)

// Location is a source position recorded in debug metadata.
type Location struct {
	// File is the file name as recorded by the front end.
	File string `json:"file"`

	// Line is 1-based.
	Line int64 `json:"line"`
}

// String returns "file:line", or "" for the zero Location.
func (l Location) String() string {
	if l.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// IsZero reports whether no position is known.
func (l Location) IsZero() bool {
	return l.File == "" && l.Line == 0
}

type attached interface {
	MDAttachments() []*metadata.Attachment
}

// Of returns the position of inst from its !dbg attachment. Locations with
// no line are treated as unknown.
func Of(inst ir.Instruction) (Location, bool) {
	md, ok := inst.(attached)
	if !ok {
		return Location{}, false
	}
	for _, a := range md.MDAttachments() {
		if a == nil || a.Name != "dbg" {
			continue
		}
		loc, ok := a.Node.(*metadata.DILocation)
		if !ok || loc.Line < 1 {
			return Location{}, false
		}
		file := scopeFile(loc.Scope)
		if file == "" {
			return Location{}, false
		}
		return Location{File: file, Line: loc.Line}, true
	}
	return Location{}, false
}

// OfFunc returns the declaration position of f from its subprogram.
func OfFunc(f *ir.Func) (Location, bool) {
	if f == nil {
		return Location{}, false
	}
	md, ok := any(f).(attached)
	if !ok {
		return Location{}, false
	}
	for _, a := range md.MDAttachments() {
		if a == nil || a.Name != "dbg" {
			continue
		}
		sp, ok := a.Node.(*metadata.DISubprogram)
		if !ok || sp.File == nil {
			return Location{}, false
		}
		return Location{File: sp.File.Filename, Line: sp.Line}, true
	}
	return Location{}, false
}

func scopeFile(scope any) string {
	switch s := scope.(type) {
	case *metadata.DISubprogram:
		if s.File != nil {
			return s.File.Filename
		}
	case *metadata.DILexicalBlock:
		if s.File != nil {
			return s.File.Filename
		}
	case *metadata.DILexicalBlockFile:
		if s.File != nil {
			return s.File.Filename
		}
	case *metadata.DIFile:
		return s.Filename
	}
	return ""
}

// Resolve joins a recorded file name onto root. Absolute names are returned
// unchanged; a leading slash on a relative name and a trailing slash on root
// are dropped.
func Resolve(root, file string) string {
	if file == "" || filepath.IsAbs(file) {
		return file
	}
	file = strings.TrimPrefix(file, "/")
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		return file
	}
	return root + "/" + file
}

// Source reads source lines below a root directory. It caches whole files
// and is not safe for concurrent use.
type Source struct {
	root  string
	files map[string][]string
}

// NewSource returns a Source resolving recorded file names against root.
func NewSource(root string) *Source {
	return &Source{root: root, files: make(map[string][]string)}
}

// Path returns the file loc refers to, resolved against the root.
func (s *Source) Path(loc Location) string {
	return Resolve(s.root, loc.File)
}

// Line returns the text at loc with leading blanks removed. Files that
// cannot be read are remembered as empty.
func (s *Source) Line(loc Location) (string, bool) {
	if loc.Line < 1 || loc.File == "" {
		return "", false
	}
	path := s.Path(loc)
	lines, ok := s.files[path]
	if !ok {
		lines = readLines(path)
		s.files[path] = lines
	}
	if loc.Line > int64(len(lines)) {
		return "", false
	}
	return strings.TrimLeft(lines[loc.Line-1], " \t"), true
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		slog.Debug("source file unavailable", "path", path, "error", err)
		return nil
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		slog.Debug("reading source file", "path", path, "error", err)
	}
	return lines
}
