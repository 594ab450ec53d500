package icallgraph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validModule = `
define i32 @id(i32 %x) {
entry:
  ret i32 %x
}
`

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestReadListFile(t *testing.T) {
	dir := t.TempDir()
	list := writeFile(t, dir, "list.txt", []byte("# kernel objects\na.ll\n\n  b.ll  \n#c.ll\n"))

	paths, err := ReadListFile(list)
	require.NoError(t, err)
	require.Equal(t, []string{"a.ll", "b.ll"}, paths)

	_, err = ReadListFile(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
}

func TestLoadModules(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.ll", []byte(validModule))
	b := writeFile(t, dir, "b.ll", []byte(validModule))
	broken := writeFile(t, dir, "broken.ll", []byte("define i32 @f( {"))
	bc := writeFile(t, dir, "c.bc", []byte{'B', 'C', 0xC0, 0xDE, 0x35, 0x14})
	list := writeFile(t, dir, "list.txt", []byte(b+"\n"+bc+"\n"+a+"\n"))

	tests := []struct {
		name       string
		opts       LoaderOptions
		wantPaths  []string
		wantFailed []string
	}{
		{
			name:      "paths in order",
			opts:      LoaderOptions{Paths: []string{b, a}},
			wantPaths: []string{b, a},
		},
		{
			name:      "list file appended and deduplicated",
			opts:      LoaderOptions{Paths: []string{a}, ListFile: list, Concurrency: 1},
			wantPaths: []string{a, b},
			// The bitcode file fails, the rest still load.
			wantFailed: []string{bc},
		},
		{
			name:       "unparsable and missing files are skipped",
			opts:       LoaderOptions{Paths: []string{broken, a, filepath.Join(dir, "gone.ll")}},
			wantPaths:  []string{a},
			wantFailed: []string{broken, filepath.Join(dir, "gone.ll")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mods, failed, err := LoadModules(context.Background(), tt.opts)
			require.NoError(t, err)

			var gotPaths []string
			for _, m := range mods {
				require.NotNil(t, m.IR)
				gotPaths = append(gotPaths, m.Path)
			}
			require.Equal(t, tt.wantPaths, gotPaths)

			var gotFailed []string
			for _, f := range failed {
				gotFailed = append(gotFailed, f.Path)
			}
			require.Equal(t, tt.wantFailed, gotFailed)
		})
	}
}

func TestLoadModules_Bitcode(t *testing.T) {
	dir := t.TempDir()
	bc := writeFile(t, dir, "c.bc", []byte{'B', 'C', 0xC0, 0xDE})

	mods, failed, err := LoadModules(context.Background(), LoaderOptions{Paths: []string{bc}})
	require.NoError(t, err)
	require.Empty(t, mods)
	require.Len(t, failed, 1)
	require.ErrorIs(t, failed[0], ErrBitcode)
	require.Contains(t, failed[0].Error(), "c.bc")
}

func TestLoadModules_Errors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := LoadModules(context.Background(), LoaderOptions{})
	require.ErrorContains(t, err, "no input files")

	_, _, err = LoadModules(context.Background(), LoaderOptions{ListFile: filepath.Join(dir, "missing.txt")})
	require.ErrorContains(t, err, "list file")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := writeFile(t, dir, "a.ll", []byte(validModule))
	_, _, err = LoadModules(ctx, LoaderOptions{Paths: []string{a}})
	require.ErrorIs(t, err, context.Canceled)
}
