// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package archive

import (
	"bytes"
	"errors"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/elliotnunn/azip/internal/catalog"
	"github.com/elliotnunn/azip/internal/directory"
	"github.com/elliotnunn/azip/internal/lock"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(seed uint64, n int) string {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.Uint32())
	}
	return string(b)
}

// sampleTree is keyed by slash path; a trailing slash makes an empty folder.
func sampleTree() map[string]string {
	return map[string]string{
		"proj/empty.txt":          "",
		"proj/one":                "1",
		"proj/three":              "abc",
		"proj/src/main.go":        strings.Repeat("package main\n\nfunc main() {}\n", 40),
		"proj/src/deep/258":       strings.Repeat("ab", 129),
		"proj/src/deep/random":    randomBytes(1, 40000),
		"proj/docs/32769":         strings.Repeat("0123456789abcdef", 2049)[:32769],
		"proj/docs/nothing here/": "",
	}
}

func writeTree(t *testing.T, root string, tree map[string]string) {
	t.Helper()
	for p, content := range tree {
		full := filepath.Join(root, filepath.FromSlash(p))
		if strings.HasSuffix(p, "/") {
			require.NoError(t, os.MkdirAll(full, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	tree := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == root {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			tree[rel+"/"] = ""
			return nil
		}
		b, err := os.ReadFile(p)
		tree[rel] = string(b)
		return err
	})
	require.NoError(t, err)
	return tree
}

// withDirs adds the folders implied by a tree, as readTree reports them.
func withDirs(tree map[string]string) map[string]string {
	out := make(map[string]string)
	for p, c := range tree {
		out[p] = c
		parts := strings.Split(strings.TrimSuffix(p, "/"), "/")
		for i := 1; i < len(parts); i++ {
			out[strings.Join(parts[:i], "/")+"/"] = ""
		}
	}
	return out
}

func paths(entries []directory.Entry) []string {
	var s []string
	for _, e := range entries {
		s = append(s, e.String())
	}
	return s
}

type fixture struct {
	dir, src, arch string
	opts           *Options
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	f := &fixture{
		dir:  dir,
		src:  filepath.Join(dir, "src"),
		arch: filepath.Join(dir, "test.azip"),
		opts: &Options{TempDir: t.TempDir()},
	}
	writeTree(t, f.src, sampleTree())
	require.NoError(t, os.WriteFile(filepath.Join(f.src, "top.txt"), []byte("top level file"), 0o644))
	require.NoError(t, Compress([]string{filepath.Join(f.src, "proj"), filepath.Join(f.src, "top.txt")}, f.arch, f.opts))
	return f
}

func (f *fixture) list(t *testing.T) []directory.Entry {
	t.Helper()
	entries, err := List(f.arch, f.opts)
	require.NoError(t, err)
	return entries
}

func (f *fixture) extract(t *testing.T) map[string]string {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, Decompress(dest, f.arch, f.opts))
	return readTree(t, dest)
}

func indexOf(t *testing.T, entries []directory.Entry, path string) int {
	t.Helper()
	for i, e := range entries {
		if e.String() == path {
			return i
		}
	}
	t.Fatalf("no entry %q", path)
	return -1
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	want := withDirs(sampleTree())
	want["top.txt"] = "top level file"
	assert.Equal(t, want, f.extract(t))

	entries := f.list(t)
	assert.Equal(t, "proj/", entries[0].String())
	assert.Equal(t, "top.txt", entries[len(entries)-1].String())
	assert.Equal(t, 8, directory.Files(entries))
}

func TestEmptyArchive(t *testing.T) {
	dir := t.TempDir()
	arch := filepath.Join(dir, "empty.azip")
	require.NoError(t, Compress(nil, arch, nil))
	b, err := os.ReadFile(arch)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, b)

	entries, err := List(arch, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.NoError(t, Decompress(filepath.Join(dir, "out"), arch, nil))
}

func TestProgressIsMonotonic(t *testing.T) {
	f := newFixture(t)
	var seen []float64
	opts := *f.opts
	opts.Progress = func(p float64) { seen = append(seen, p) }
	require.NoError(t, Compress([]string{f.src}, filepath.Join(f.dir, "again.azip"), &opts))
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		require.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.Equal(t, 1.0, seen[len(seen)-1])
	assert.Contains(t, seen, 0.2)
}

func TestInsertThenDeleteRestoresArchive(t *testing.T) {
	f := newFixture(t)
	before := f.list(t)
	original, err := os.ReadFile(f.arch)
	require.NoError(t, err)

	extra := filepath.Join(f.dir, "extra.bin")
	require.NoError(t, os.WriteFile(extra, []byte(randomBytes(9, 5000)), 0o644))
	at := indexOf(t, before, "proj/src/main.go")
	require.NoError(t, Insert(extra, f.arch, at, f.opts))

	after := f.list(t)
	assert.Len(t, after, len(before)+1)
	assert.Equal(t, "proj/src/extra.bin", after[at].String())
	got := f.extract(t)
	assert.Equal(t, randomBytes(9, 5000), got["proj/src/extra.bin"])
	assert.Equal(t, sampleTree()["proj/src/deep/random"], got["proj/src/deep/random"])

	require.NoError(t, Delete(f.arch, []int{at}, f.opts))
	assert.Equal(t, before, f.list(t))
	restored, err := os.ReadFile(f.arch)
	require.NoError(t, err)
	assert.Equal(t, original, restored)

	// no side files left behind
	names, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	for _, n := range names {
		assert.False(t, strings.HasPrefix(n.Name(), ".test.azip."), n.Name())
	}
}

func TestInsertFolderAtEnd(t *testing.T) {
	f := newFixture(t)
	before := f.list(t)
	add := filepath.Join(f.dir, "more")
	writeTree(t, add, map[string]string{"x/y.txt": "yyy", "z.txt": "zzz"})
	require.NoError(t, Insert(add, f.arch, len(before), f.opts))

	after := f.list(t)
	assert.Equal(t, paths(before), paths(after[:len(before)]))
	assert.Equal(t, []string{"more/", "more/x/", "more/x/y.txt", "<end>", "more/z.txt", "<end>"}, paths(after[len(before):]))
	got := f.extract(t)
	assert.Equal(t, "yyy", got["more/x/y.txt"])
	assert.Equal(t, "top level file", got["top.txt"])
}

func TestInsertIntoEmptyArchive(t *testing.T) {
	dir := t.TempDir()
	arch := filepath.Join(dir, "a.azip")
	require.NoError(t, Compress(nil, arch, nil))
	p := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(p, []byte("content content content"), 0o644))
	require.NoError(t, Insert(p, arch, 0, nil))

	dest := filepath.Join(dir, "out")
	require.NoError(t, Decompress(dest, arch, nil))
	assert.Equal(t, map[string]string{"f": "content content content"}, readTree(t, dest))
}

func TestDeleteFolder(t *testing.T) {
	f := newFixture(t)
	entries := f.list(t)
	require.NoError(t, Delete(f.arch, []int{indexOf(t, entries, "proj/src/")}, f.opts))

	got := f.extract(t)
	for p := range got {
		assert.False(t, strings.HasPrefix(p, "proj/src"), p)
	}
	assert.Equal(t, sampleTree()["proj/docs/32769"], got["proj/docs/32769"])
	assert.Equal(t, "top level file", got["top.txt"])
}

func TestDeleteEverything(t *testing.T) {
	f := newFixture(t)
	entries := f.list(t)
	require.NoError(t, Delete(f.arch, []int{0, len(entries) - 1}, f.opts))
	b, err := os.ReadFile(f.arch)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, b)
}

func TestMoveToSameIndexIsNoop(t *testing.T) {
	f := newFixture(t)
	original, err := os.ReadFile(f.arch)
	require.NoError(t, err)

	var seen []float64
	opts := *f.opts
	opts.Progress = func(p float64) { seen = append(seen, p) }
	require.NoError(t, Move(f.arch, []int{2}, 2, &opts))
	assert.Equal(t, []float64{1}, seen)

	after, err := os.ReadFile(f.arch)
	require.NoError(t, err)
	assert.Equal(t, original, after)
}

func TestMove(t *testing.T) {
	f := newFixture(t)
	want := f.extract(t)
	entries := f.list(t)

	top := indexOf(t, entries, "top.txt")
	src := indexOf(t, entries, "proj/src/")
	require.NoError(t, Move(f.arch, []int{top, src}, 0, f.opts))

	after := f.list(t)
	assert.Equal(t, []string{
		"src/", "src/deep/", "src/deep/258", "src/deep/random", "<end>", "src/main.go", "<end>", "top.txt", "proj/",
	}, paths(after[:9]))
	assert.Len(t, after, len(entries))

	got := f.extract(t)
	assert.Equal(t, want["proj/src/deep/random"], got["src/deep/random"])
	assert.Equal(t, want["proj/docs/32769"], got["proj/docs/32769"])
	assert.Equal(t, want["top.txt"], got["top.txt"])

	// and back into proj, before docs
	after = f.list(t)
	require.NoError(t, Move(f.arch, []int{0}, indexOf(t, after, "proj/docs/"), f.opts))
	got = f.extract(t)
	assert.Equal(t, want, got)
}

func TestMoveToEnd(t *testing.T) {
	f := newFixture(t)
	entries := f.list(t)
	one := indexOf(t, entries, "proj/one")
	require.NoError(t, Move(f.arch, []int{one}, len(entries), f.opts))
	after := f.list(t)
	assert.Equal(t, "one", after[len(after)-1].String())
	assert.Equal(t, "1", f.extract(t)["one"])
}

func TestMoveIntoItself(t *testing.T) {
	f := newFixture(t)
	entries := f.list(t)
	err := Move(f.arch, []int{0}, indexOf(t, entries, "proj/src/main.go"), f.opts)
	assert.ErrorIs(t, err, ErrIndex)
	assert.NotErrorIs(t, err, ErrCorrupt)
}

func TestSelective(t *testing.T) {
	f := newFixture(t)
	full := f.extract(t)
	entries := f.list(t)

	dest := filepath.Join(t.TempDir(), "sel")
	src := indexOf(t, entries, "proj/src/")
	inner := indexOf(t, entries, "proj/src/deep/258")
	three := indexOf(t, entries, "proj/three")
	require.NoError(t, DecompressSelected(dest, f.arch, []int{inner, src, three}, f.opts))

	want := map[string]string{"three": full["proj/three"]}
	for p, c := range full {
		if rest, ok := strings.CutPrefix(p, "proj/"); ok && strings.HasPrefix(rest, "src") {
			want[rest] = c
		}
	}
	assert.Equal(t, want, readTree(t, dest))
}

func TestIndexErrors(t *testing.T) {
	f := newFixture(t)
	entries := f.list(t)
	end := indexOf(t, entries, "<end>")

	for name, err := range map[string]error{
		"delete out of range": Delete(f.arch, []int{len(entries)}, f.opts),
		"delete end marker":   Delete(f.arch, []int{end}, f.opts),
		"insert negative":     Insert(f.arch, f.arch, -1, f.opts),
		"move bad dest":       Move(f.arch, []int{0}, len(entries)+1, f.opts),
		"select end marker":   DecompressSelected(t.TempDir(), f.arch, []int{end}, f.opts),
	} {
		assert.ErrorIs(t, err, ErrIndex, name)
		assert.NotErrorIs(t, err, ErrCorrupt, name)
	}
	assert.Equal(t, entries, f.list(t))
}

func TestTruncatedArchiveIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, filepath.Join(dir, "in"), map[string]string{"a": "hello hello hello", "d/b": "bb"})
	arch := filepath.Join(dir, "a.azip")
	require.NoError(t, Compress([]string{filepath.Join(dir, "in")}, arch, nil))
	full, err := os.ReadFile(arch)
	require.NoError(t, err)
	entries, err := List(arch, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"in/", "in/a", "in/d/", "in/d/b", "<end>", "<end>"}, paths(entries))
	dirSection, err := directory.Marshal(entries)
	require.NoError(t, err)

	extra := filepath.Join(t.TempDir(), "extra.txt")
	require.NoError(t, os.WriteFile(extra, []byte("extra"), 0o644))

	// each of these needs every block of the archive
	cases := []struct {
		name string
		run  func(cut string) error
	}{
		{"decompress", func(cut string) error { return Decompress(filepath.Join(dir, "out"), cut, nil) }},
		{"selectLast", func(cut string) error { return DecompressSelected(filepath.Join(dir, "sel"), cut, []int{3}, nil) }},
		{"delete", func(cut string) error { return Delete(cut, []int{1}, nil) }},
		{"move", func(cut string) error { return Move(cut, []int{3}, 0, nil) }},
		{"insert", func(cut string) error { return Insert(extra, cut, 0, nil) }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cut := filepath.Join(t.TempDir(), "cut.azip")
			for n := range len(full) {
				require.NoError(t, os.WriteFile(cut, full[:n], 0o644))
				require.ErrorIs(t, c.run(cut), ErrCorrupt, "prefix %d", n)
			}
		})
	}

	t.Run("list", func(t *testing.T) {
		cut := filepath.Join(t.TempDir(), "cut.azip")
		for n := range len(full) {
			require.NoError(t, os.WriteFile(cut, full[:n], 0o644))
			got, err := List(cut, nil)
			if n < len(dirSection) {
				require.ErrorIs(t, err, ErrCorrupt, "prefix %d", n)
			} else {
				require.NoError(t, err, "prefix %d", n)
				require.Equal(t, entries, got, "prefix %d", n)
			}
		}
	})
}

func FuzzDecompress(f *testing.F) {
	f.Add([]byte{0})
	f.Add([]byte{1, 'a', 0x80, 0, 0, 0})
	f.Fuzz(func(t *testing.T, data []byte) {
		dir := t.TempDir()
		arch := filepath.Join(dir, "f.azip")
		require.NoError(t, os.WriteFile(arch, data, 0o644))
		err := Decompress(filepath.Join(dir, "out"), arch, nil)
		if err != nil && !errors.Is(err, ErrCorrupt) {
			t.Fatalf("unclassified error: %v", err)
		}
	})
}

func TestFailedEditKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	full, err := os.ReadFile(f.arch)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.arch, full[:len(full)-10], 0o644))

	err = Delete(f.arch, []int{0}, f.opts)
	require.ErrorIs(t, err, ErrCorrupt)
	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "delete", ae.Op)
	require.NotEmpty(t, ae.Side)
	kept, err := os.ReadFile(ae.Side)
	require.NoError(t, err)
	assert.Equal(t, full[:len(full)-10], kept)
}

func TestArchiveInsideSource(t *testing.T) {
	dir := t.TempDir()
	box := filepath.Join(dir, "box")
	writeTree(t, box, map[string]string{"a.txt": "aaa"})
	arch := filepath.Join(box, "out.azip")

	require.NoError(t, Compress([]string{box}, arch, nil))
	entries, err := List(arch, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"box/", "box/a.txt", "<end>"}, paths(entries))

	// compressing again must not pick up the previous archive either
	require.NoError(t, Compress([]string{box}, arch, nil))
	entries, err = List(arch, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"box/", "box/a.txt", "<end>"}, paths(entries))

	require.NoError(t, Insert(box, arch, len(entries), nil))
	entries, err = List(arch, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"box/", "box/a.txt", "<end>", "box/", "box/a.txt", "<end>"}, paths(entries))
}

func TestBusy(t *testing.T) {
	f := newFixture(t)
	l, err := lock.Acquire(f.arch)
	require.NoError(t, err)
	defer l.Release()
	err = Delete(f.arch, []int{0}, f.opts)
	assert.ErrorIs(t, err, ErrBusy)
	assert.NotErrorIs(t, err, ErrCorrupt)
}

func TestListUsesCatalog(t *testing.T) {
	f := newFixture(t)
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "cat"), 8)
	require.NoError(t, err)
	defer cat.Close()
	opts := *f.opts
	opts.Catalog = cat

	first, err := List(f.arch, &opts)
	require.NoError(t, err)
	cached, ok := cat.Get(f.arch)
	require.True(t, ok)
	assert.Equal(t, first, cached)

	require.NoError(t, Delete(f.arch, []int{0}, &opts))
	second, err := List(f.arch, &opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"top.txt"}, paths(second))
}

func TestUnwrapAndExclude(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	writeTree(t, in, map[string]string{"keep.txt": "kept", "skip.tmp": "skipped"})
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("inflated contents"))
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(in, "log.txt.gz"), buf.Bytes(), 0o644))

	arch := filepath.Join(dir, "a.azip")
	opts := &Options{Unwrap: true, Exclude: []string{"**/*.tmp"}}
	require.NoError(t, Compress([]string{in}, arch, opts))

	entries, err := List(arch, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"in/", "in/keep.txt", "in/log.txt", "<end>"}, paths(entries))

	dest := filepath.Join(dir, "out")
	require.NoError(t, Decompress(dest, arch, opts))
	assert.Equal(t, map[string]string{"in/": "", "in/keep.txt": "kept", "in/log.txt": "inflated contents"}, readTree(t, dest))
}
