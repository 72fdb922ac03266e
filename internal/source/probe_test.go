// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package source

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeSuffix(t *testing.T) {
	for in, want := range map[string]string{
		"a.tar.gz": "a.tar",
		"a.tgz":    "a.tar",
		"a.gzip":   "a",
		".gz":      ".gz",
		"plain":    "plain",
	} {
		assert.Equal(t, want, changeSuffix(in, ".gz .gzip .tgz=.tar"), in)
	}
}

func TestSniff(t *testing.T) {
	tarHeader := make([]byte, 512)
	copy(tarHeader[257:], "ustar\x0000")
	for want, data := range map[Format][]byte{
		Gzip:   {0x1f, 0x8b, 8, 0},
		Bzip2:  []byte("BZh91AY"),
		XZ:     []byte("\xfd7zXZ\x00\x00"),
		Zip:    []byte("PK\x03\x04...."),
		SevenZ: []byte("7z\xbc\xaf\x27\x1c"),
		Tar:    tarHeader,
		Plain:  []byte("hello"),
	} {
		got, err := Sniff(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, want, got, "%q", data)
	}
	got, err := Sniff(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, Plain, got)
}

func TestOpenUnwrapsGzip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.txt.gz")
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(strings.Repeat("notes ", 100)))
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))

	assert.Equal(t, "notes.txt", StoredName(p, "notes.txt.gz"))

	rc, err := Open(p, true)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, strings.Repeat("notes ", 100), string(got))

	rc, err = Open(p, false)
	require.NoError(t, err)
	got, err = io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, buf.Bytes(), got)
}

func TestOpenPlainUnchanged(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(p, []byte("plain text"), 0o644))
	rc, err := Open(p, true)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "plain text", string(got))
	assert.Equal(t, "x", StoredName(p, "x"))
}
