package harness

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	yaml "gopkg.in/yaml.v3"

	"github.com/stretchr/testify/require"

	"github.com/715d/icallgraph/internal/analysis"
	"github.com/715d/icallgraph/pkg/icallgraph"
)

// LoadTestCase loads a test case from a directory with a specified testdata root.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()
	yamlPath := filepath.Join(dir, "expected.yaml")

	tc := &TestCase{}
	data, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	err = yaml.Unmarshal(data, tc)
	require.NoError(t, err)

	// Use relative path from testdata root if provided.
	if root != "" {
		relPath, err := filepath.Rel(root, dir)
		if err != nil {
			tc.Dir = filepath.Base(dir)
		} else {
			tc.Dir = relPath
		}
		return tc
	}

	tc.Dir = filepath.Base(dir)
	return tc
}

// LoadModules parses the modules of a scenario directory. Module paths are
// reported relative to dir so expectations do not depend on the checkout.
func LoadModules(t *testing.T, dir string, names []string) ([]analysis.Module, []*icallgraph.LoadError) {
	t.Helper()

	if len(names) == 0 {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".ll") {
				names = append(names, e.Name())
			}
		}
		slices.Sort(names)
	}

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}

	t.Logf("Loading %d modules from %q", len(paths), dir)
	mods, loadErrs, err := icallgraph.LoadModules(t.Context(), icallgraph.LoaderOptions{Paths: paths})
	require.NoError(t, err)

	for i := range mods {
		mods[i].Path = relative(dir, mods[i].Path)
	}
	for _, le := range loadErrs {
		le.Path = relative(dir, le.Path)
	}
	return mods, loadErrs
}

func relative(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
