// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package source opens the files that go into an archive,
// optionally expanding single-file compression wrappers on the way in.
package source

import (
	"compress/bzip2"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/therootcompany/xz"
)

type Format string

const (
	Plain   Format = ""
	Gzip    Format = "gzip"
	Bzip2   Format = "bzip2"
	XZ      Format = "xz"
	Zip     Format = "zip"
	SevenZ  Format = "7z"
	Tar     Format = "tar"
	StuffIt Format = "stuffit"
)

// Sniff identifies a format by its magic number.
func Sniff(r io.Reader) (Format, error) {
	var header []byte
	var accessError error
	matchAt := func(s string, offset int) bool {
		if len(header) < offset+len(s) && len(header) == cap(header) {
			target := (offset + len(s) + 63) &^ 63
			header = slices.Grow(header, target-len(header))
			n, err := io.ReadFull(r, header[len(header):cap(header)])
			if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF && accessError == nil {
				accessError = err
			}
			header = header[:len(header)+n]
		}
		return len(header) >= offset+len(s) && string(header[offset:][:len(s)]) == s
	}

	switch {
	case matchAt("\x1f\x8b", 0):
		return Gzip, nil
	case matchAt("BZh", 0):
		return Bzip2, nil
	case matchAt("\xfd7zXZ\x00", 0):
		return XZ, nil
	case matchAt("PK\x03\x04", 0):
		return Zip, nil
	case matchAt("7z\xbc\xaf\x27\x1c", 0):
		return SevenZ, nil
	case matchAt("rLau", 10) || matchAt("StuffIt (c)1997-", 0):
		return StuffIt, nil
	case matchAt("ustar\x00\x30\x30", 257), matchAt("ustar\x20\x20\x00", 257):
		return Tar, nil
	}
	return Plain, accessError
}

func SniffFile(name string) (Format, error) {
	f, err := os.Open(name)
	if err != nil {
		return Plain, err
	}
	defer f.Close()
	return Sniff(f)
}

// StoredName is the name a file at path should carry inside the archive
// once Open has expanded it.
func StoredName(path, name string) string {
	f, err := SniffFile(path)
	if err != nil {
		return name
	}
	switch f {
	case Gzip:
		return changeSuffix(name, ".gz .gzip .tgz=.tar")
	case Bzip2:
		return changeSuffix(name, ".bz .bz2 .bzip2 .tbz=.tar .tb2=.tar")
	case XZ:
		return changeSuffix(name, ".xz .txz=.tar")
	}
	return name
}

// Open returns the contents of the file at path,
// expanded if unwrap is set and the file is gzip, bzip2 or xz.
func Open(path string, unwrap bool) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !unwrap {
		return f, nil
	}

	kind, err := Sniff(f)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	var r io.Reader
	switch kind {
	case Gzip:
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		r = zr
	case Bzip2:
		r = bzip2.NewReader(f)
	case XZ:
		xr, err := xz.NewReader(f, xz.DefaultDictMax)
		if err != nil {
			f.Close()
			return nil, err
		}
		r = xr
	default:
		return f, nil
	}
	return readCloser{r, f}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func changeSuffix(s string, suffixes string) string {
	for _, rule := range strings.Split(suffixes, " ") {
		from, to, _ := strings.Cut(rule, "=")
		if strings.HasSuffix(s, from) && len(s) > len(from) {
			return s[:len(s)-len(from)] + to
		}
	}
	return s
}
