// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package directory encodes the archive's list of names.
//
// Entries are stored in preorder as an 8-bit name length, the name,
// and a kind bit (1 for a file, 0 for a folder). A zero length closes
// the innermost open folder, or ends the section when none is open.
// The decoded form is a flat slice that keeps the closing markers,
// so that indices agree with the stored order.
package directory

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/elliotnunn/azip/internal/bitstream"
)

var (
	ErrCorrupt = errors.New("corrupt directory")
	ErrName    = errors.New("unstorable name")
)

const MaxName = 255

// Entry is a file, a folder, or (with an empty Name) the end of a folder.
type Entry struct {
	Name   string
	Path   string // slash-separated from the archive root
	IsFile bool
}

// End marks the end of the innermost open folder.
var End = Entry{}

func (e Entry) IsEnd() bool { return e.Name == "" }
func (e Entry) IsDir() bool { return e.Name != "" && !e.IsFile }

func (e Entry) String() string {
	switch {
	case e.IsEnd():
		return "<end>"
	case e.IsFile:
		return e.Path
	default:
		return e.Path + "/"
	}
}

type BitWriter interface {
	WriteBits(v uint64, width uint8) error
}

type BitReader interface {
	ReadBits(width uint8) (uint64, error)
}

// CheckName reports names that cannot survive a round trip.
func CheckName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrName, name)
	case len(name) > MaxName:
		return fmt.Errorf("%w: %d bytes is longer than %d", ErrName, len(name), MaxName)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a separator", ErrName, name)
	}
	return nil
}

// Write stores entries followed by the end of the section.
// The folders must be balanced by End markers.
func Write(w BitWriter, entries []Entry) error {
	depth := 0
	for _, e := range entries {
		if e.IsEnd() {
			if depth == 0 {
				return fmt.Errorf("%w: unmatched end of folder", ErrCorrupt)
			}
			depth--
			if err := w.WriteBits(0, 8); err != nil {
				return err
			}
			continue
		}
		if err := CheckName(e.Name); err != nil {
			return err
		}
		if err := w.WriteBits(uint64(len(e.Name)), 8); err != nil {
			return err
		}
		for i := 0; i < len(e.Name); i++ {
			if err := w.WriteBits(uint64(e.Name[i]), 8); err != nil {
				return err
			}
		}
		var kind uint64
		if e.IsFile {
			kind = 1
		} else {
			depth++
		}
		if err := w.WriteBits(kind, 1); err != nil {
			return err
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: %d folders left open", ErrCorrupt, depth)
	}
	return w.WriteBits(0, 8)
}

// Read parses the section, filling in each entry's Path.
func Read(r BitReader) ([]Entry, error) {
	var (
		entries []Entry
		stack   []string
	)
	for {
		n, err := r.ReadBits(8)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if len(stack) == 0 {
				return entries, nil
			}
			stack = stack[:len(stack)-1]
			entries = append(entries, End)
			continue
		}
		name := make([]byte, n)
		for i := range name {
			b, err := r.ReadBits(8)
			if err != nil {
				return nil, err
			}
			name[i] = byte(b)
		}
		if err := CheckName(string(name)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		kind, err := r.ReadBits(1)
		if err != nil {
			return nil, err
		}
		e := Entry{
			Name:   string(name),
			Path:   path.Join(append(stack, string(name))...),
			IsFile: kind == 1,
		}
		entries = append(entries, e)
		if !e.IsFile {
			stack = append(stack, e.Name)
		}
	}
}

// Marshal encodes entries as a standalone byte-padded section.
func Marshal(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := bitstream.NewWriter(&buf)
	if err := Write(w, entries); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(b []byte) ([]Entry, error) {
	return Read(bitstream.NewReader(bytes.NewReader(b)))
}

// Span is the number of entries covered by entries[i]:
// 1 for a file, or the folder with its contents and End marker.
func Span(entries []Entry, i int) (int, error) {
	if i < 0 || i >= len(entries) {
		return 0, fmt.Errorf("%w: index %d out of range", ErrCorrupt, i)
	}
	if entries[i].IsEnd() {
		return 0, fmt.Errorf("%w: index %d is an end marker", ErrCorrupt, i)
	}
	if entries[i].IsFile {
		return 1, nil
	}
	depth := 0
	for j := i; j < len(entries); j++ {
		switch {
		case entries[j].IsEnd():
			depth--
		case !entries[j].IsFile:
			depth++
		}
		if depth == 0 {
			return j - i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: folder %q is never closed", ErrCorrupt, entries[i].Path)
}

// Files counts the entries that carry a block.
func Files(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.IsFile {
			n++
		}
	}
	return n
}

// Rebase recomputes Path for entries moved under a new parent.
func Rebase(entries []Entry, parent string) []Entry {
	out := make([]Entry, len(entries))
	stack := []string{}
	if parent != "" {
		stack = append(stack, parent)
	}
	for i, e := range entries {
		if e.IsEnd() {
			out[i] = End
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		e.Path = path.Join(append(stack, e.Name)...)
		out[i] = e
		if !e.IsFile {
			stack = append(stack, e.Name)
		}
	}
	return out
}
