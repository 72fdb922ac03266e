// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package archive creates, extracts and edits azip archives.
//
// An archive is a directory section followed by one compressed block per
// file, written as a single unaligned bit stream. Edits never recompress
// existing files: the archive is moved aside, and each of its blocks is
// either copied bit-for-bit into a new archive at the original path or
// skipped.
package archive

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/elliotnunn/azip/internal/bitstream"
	"github.com/elliotnunn/azip/internal/catalog"
	"github.com/elliotnunn/azip/internal/directory"
	"github.com/elliotnunn/azip/internal/lock"
	"github.com/elliotnunn/azip/internal/metrics"
	"github.com/hashicorp/go-multierror"
)

var (
	// ErrCorrupt matches every error from an operation that failed part way,
	// after which the archive should not be trusted.
	ErrCorrupt = errors.New("archive corrupted")

	// ErrIndex reports an entry index that does not fit the archive.
	// The archive is untouched.
	ErrIndex = errors.New("bad entry index")

	ErrBusy = lock.ErrBusy
)

// Error describes a failed operation. Side is set when the original
// archive was left beside the path under a different name.
type Error struct {
	Op   string
	Path string
	Side string
	Err  error
}

func (e *Error) Error() string {
	s := e.Op + " " + e.Path + ": " + e.Err.Error()
	if e.Side != "" {
		s += " (original archive kept at " + e.Side + ")"
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrCorrupt }

type Options struct {
	// TempDir holds spill and holding files, os.TempDir if empty.
	TempDir string
	// Exclude lists doublestar patterns for paths to leave out when adding folders.
	Exclude []string
	// Unwrap expands gzip, bzip2 and xz files as they are added.
	Unwrap bool
	// MaxChain bounds the match search, see lz.Matcher.
	MaxChain int
	// Progress receives a nondecreasing fraction between 0 and 1.
	Progress func(float64)
	Logger   *slog.Logger
	// Catalog, if set, caches listings.
	Catalog *catalog.Catalog
}

// op carries the state shared by every step of one operation.
type op struct {
	name  string
	path  string
	opts  Options
	log   *slog.Logger
	start time.Time
	meter meter
	side  string
}

func begin(name, path string, opts *Options) *op {
	o := &op{name: name, path: path, start: time.Now()}
	if opts != nil {
		o.opts = *opts
	}
	o.log = o.opts.Logger
	if o.log == nil {
		o.log = slog.Default()
	}
	o.meter.fn = o.opts.Progress
	o.log.Debug("archiveOpStart", "op", name, "path", path)
	return o
}

// end classifies err, records it, and returns what the caller should see.
func (o *op) end(err error) error {
	if err == nil {
		o.meter.set(1)
		metrics.Observe(o.name, o.start, nil, false)
		o.log.Info("archiveOpDone", "op", o.name, "path", o.path, "elapsed", time.Since(o.start))
		return nil
	}
	if errors.Is(err, ErrIndex) || errors.Is(err, ErrBusy) {
		metrics.Observe(o.name, o.start, err, false)
		return err
	}
	metrics.Observe(o.name, o.start, err, true)
	o.log.Error("archiveCorrupt", "op", o.name, "path", o.path, "side", o.side, "err", err)
	return &Error{Op: o.name, Path: o.path, Side: o.side, Err: err}
}

func (o *op) lock() (*lock.Lock, error) {
	return lock.Acquire(o.path)
}

// meter forwards progress, never letting it go backwards.
type meter struct {
	fn   func(float64)
	last float64
	sent bool
}

func (m *meter) set(f float64) {
	f = min(f, 1)
	if m.sent && f <= m.last {
		return
	}
	m.sent, m.last = true, f
	if m.fn != nil {
		m.fn(f)
	}
}

type reader struct {
	f       *os.File
	r       *bitstream.Reader
	entries []directory.Entry
}

// openReader opens an archive and leaves it positioned at the first block.
func openReader(path string) (*reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := bitstream.NewReader(f)
	entries, err := directory.Read(r)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &reader{f: f, r: r, entries: entries}, nil
}

func (rd *reader) Close() error { return rd.f.Close() }

func readDirectory(path string) ([]directory.Entry, error) {
	rd, err := openReader(path)
	if err != nil {
		return nil, err
	}
	return rd.entries, rd.Close()
}

type writer struct {
	f *os.File
	w *bitstream.Writer
}

func createWriter(path string) (*writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &writer{f: f, w: bitstream.NewWriter(f)}, nil
}

// Close pads the stream to a whole byte and closes the file.
func (wr *writer) Close() error {
	var result *multierror.Error
	if err := wr.w.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := wr.f.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// closeAll closes everything, folding close errors in after err.
func closeAll(err error, closers ...io.Closer) error {
	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	for _, c := range closers {
		if cerr := c.Close(); cerr != nil {
			result = multierror.Append(result, cerr)
		}
	}
	if result != nil && len(result.Errors) == 1 {
		return result.Errors[0]
	}
	return result.ErrorOrNil()
}

// checkIndices rejects indices that do not name a file or folder.
func checkIndices(entries []directory.Entry, indices []int) error {
	for _, i := range indices {
		if i < 0 || i >= len(entries) {
			return fmt.Errorf("%w: %d is outside 0..%d", ErrIndex, i, len(entries)-1)
		}
		if entries[i].IsEnd() {
			return fmt.Errorf("%w: %d is the end of a folder", ErrIndex, i)
		}
	}
	return nil
}

// cover marks the entries covered by each index, including folder contents.
func cover(entries []directory.Entry, indices []int) ([]bool, error) {
	marked := make([]bool, len(entries))
	for _, i := range indices {
		n, err := directory.Span(entries, i)
		if err != nil {
			return nil, err
		}
		for j := i; j < i+n; j++ {
			marked[j] = true
		}
	}
	return marked, nil
}

// List returns the entries of an archive in stored order, end markers included.
func List(archivePath string, opts *Options) ([]directory.Entry, error) {
	o := begin("list", archivePath, opts)
	cat := o.opts.Catalog
	if cat != nil {
		if entries, ok := cat.Get(archivePath); ok {
			o.log.Debug("catalogHit", "path", archivePath)
			return entries, o.end(nil)
		}
	}
	entries, err := readDirectory(archivePath)
	if err != nil {
		return nil, o.end(err)
	}
	if cat != nil {
		if err := cat.Put(archivePath, entries); err != nil {
			o.log.Warn("catalogWriteError", "path", archivePath, "err", err)
		}
	}
	return entries, o.end(nil)
}
