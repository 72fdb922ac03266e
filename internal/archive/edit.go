// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/elliotnunn/azip/internal/bitstream"
	"github.com/elliotnunn/azip/internal/block"
	"github.com/elliotnunn/azip/internal/directory"
	"github.com/elliotnunn/azip/internal/metrics"
	"github.com/google/uuid"
)

// rewrite streams the archive, moved aside, into a new file at its original path.
type rewrite struct {
	o   *op
	src *reader
	dst *writer
}

func (o *op) beginRewrite() (*rewrite, error) {
	side := filepath.Join(filepath.Dir(o.path), "."+filepath.Base(o.path)+"."+uuid.NewString())
	if err := os.Rename(o.path, side); err != nil {
		return nil, err
	}
	o.side = side
	o.log.Debug("archiveMovedAside", "path", o.path, "side", side)

	src, err := openReader(side)
	if err != nil {
		return nil, err
	}
	dst, err := createWriter(o.path)
	if err != nil {
		return nil, closeAll(err, src)
	}
	return &rewrite{o: o, src: src, dst: dst}, nil
}

// abort closes both files, leaving the original aside for recovery.
func (rw *rewrite) abort(err error) error {
	return closeAll(err, rw.dst, rw.src)
}

func (rw *rewrite) finish() error {
	if err := closeAll(nil, rw.dst, rw.src); err != nil {
		return err
	}
	if err := os.Remove(rw.o.side); err != nil {
		return err
	}
	rw.o.side = ""
	return nil
}

// travel copies one block unchanged from r to w.
func (o *op) travel(r *bitstream.Reader, w *bitstream.Writer) error {
	st, err := block.Copy(r, w)
	metrics.Bytes.WithLabelValues("copied").Add(float64(st.Bytes))
	return err
}

// Insert adds the file or folder at filePath to the archive so that it
// becomes entry number at. at may equal the number of entries, to append.
func Insert(filePath, archivePath string, at int, opts *Options) error {
	o := begin("insert", archivePath, opts)
	return o.end(o.insert(filePath, at))
}

func (o *op) insert(filePath string, at int) error {
	lk, err := o.lock()
	if err != nil {
		return err
	}
	defer lk.Release()

	entries, err := readDirectory(o.path)
	if err != nil {
		return err
	}
	if at < 0 || at > len(entries) {
		return fmt.Errorf("%w: insert position %d is outside 0..%d", ErrIndex, at, len(entries))
	}
	added, files, err := directory.Collect([]string{filePath}, o.collectOptions())
	if err != nil {
		return err
	}

	rw, err := o.beginRewrite()
	if err != nil {
		return err
	}
	w := rw.dst.w
	if err := directory.Write(w, slices.Concat(entries[:at], added, entries[at:])); err != nil {
		return rw.abort(err)
	}

	before, total := directory.Files(entries[:at]), directory.Files(entries)
	units := float64(max(total+len(files), 1))
	step := 0
	for range before {
		if err := o.travel(rw.src.r, w); err != nil {
			return rw.abort(err)
		}
		step++
		o.meter.set(float64(step) / units)
	}
	for _, p := range files {
		if err := o.encode(w, p, float64(step)/units, 1/units); err != nil {
			return rw.abort(err)
		}
		step++
	}
	for range total - before {
		if err := o.travel(rw.src.r, w); err != nil {
			return rw.abort(err)
		}
		step++
		o.meter.set(float64(step) / units)
	}
	return rw.finish()
}

// Delete removes the entries at the given indices, with the contents of any folders among them.
func Delete(archivePath string, indices []int, opts *Options) error {
	o := begin("delete", archivePath, opts)
	return o.end(o.delete(indices))
}

func (o *op) delete(indices []int) error {
	if len(indices) == 0 {
		return nil
	}
	lk, err := o.lock()
	if err != nil {
		return err
	}
	defer lk.Release()

	entries, err := readDirectory(o.path)
	if err != nil {
		return err
	}
	if err := checkIndices(entries, indices); err != nil {
		return err
	}
	removed, err := cover(entries, indices)
	if err != nil {
		return err
	}

	var kept []directory.Entry
	lastKept := -1
	for i, e := range entries {
		if !removed[i] {
			kept = append(kept, e)
			if e.IsFile {
				lastKept = i
			}
		}
	}

	rw, err := o.beginRewrite()
	if err != nil {
		return err
	}
	w := rw.dst.w
	if err := directory.Write(w, kept); err != nil {
		return rw.abort(err)
	}

	// blocks after the last kept one are never read
	blocks := directory.Files(entries[:lastKept+1])
	done := 0
	for i, e := range entries[:lastKept+1] {
		if !e.IsFile {
			continue
		}
		if removed[i] {
			_, err = block.Skip(rw.src.r)
		} else {
			err = o.travel(rw.src.r, w)
		}
		if err != nil {
			return rw.abort(err)
		}
		done++
		o.meter.set(float64(done) / float64(blocks))
	}
	return rw.finish()
}

// Move relocates the entries at the given indices, with the contents of any
// folders among them, so that they sit just before the entry now at dest,
// keeping their relative order. dest may equal the number of entries, to move
// them to the end. If dest is itself one of the indices nothing changes.
func Move(archivePath string, indices []int, dest int, opts *Options) error {
	o := begin("move", archivePath, opts)
	return o.end(o.move(indices, dest))
}

func (o *op) move(indices []int, dest int) error {
	lk, err := o.lock()
	if err != nil {
		return err
	}
	defer lk.Release()

	entries, err := readDirectory(o.path)
	if err != nil {
		return err
	}
	if err := checkIndices(entries, indices); err != nil {
		return err
	}
	if dest < 0 || dest > len(entries) {
		return fmt.Errorf("%w: destination %d is outside 0..%d", ErrIndex, dest, len(entries))
	}
	if len(indices) == 0 || slices.Contains(indices, dest) {
		o.meter.set(1)
		return nil
	}
	moved, err := cover(entries, indices)
	if err != nil {
		return err
	}
	for _, i := range indices {
		n, _ := directory.Span(entries, i)
		if i < dest && dest < i+n {
			return fmt.Errorf("%w: cannot move %q inside itself", ErrIndex, entries[i].Path)
		}
	}

	var (
		keptBefore, keptAfter, run []directory.Entry
		sideMoved                  []bool // per block of the original archive
		lastMoved                  = -1
	)
	for i, e := range entries {
		switch {
		case moved[i]:
			run = append(run, e)
		case i < dest:
			keptBefore = append(keptBefore, e)
		default:
			keptAfter = append(keptAfter, e)
		}
		if e.IsFile {
			sideMoved = append(sideMoved, moved[i])
			if moved[i] {
				lastMoved = i
			}
		}
	}

	// pass 1: hold the moved blocks
	hold, err := os.CreateTemp(o.opts.TempDir, "azip-hold-*")
	if err != nil {
		return err
	}
	defer func() {
		hold.Close()
		os.Remove(hold.Name())
	}()
	if err := o.gather(hold, entries, moved, lastMoved); err != nil {
		return err
	}
	o.meter.set(0.45)

	// pass 2: rewrite with the run spliced in
	rw, err := o.beginRewrite()
	if err != nil {
		return err
	}
	w := rw.dst.w
	if err := directory.Write(w, slices.Concat(keptBefore, run, keptAfter)); err != nil {
		return rw.abort(err)
	}
	o.meter.set(0.55)

	if _, err := hold.Seek(0, io.SeekStart); err != nil {
		return rw.abort(err)
	}
	held := bitstream.NewReader(hold)

	units := float64(max(len(sideMoved), 1))
	step, cursor := 0, 0
	progress := func() {
		step++
		o.meter.set(0.55 + 0.45*float64(step)/units)
	}
	nextKept := func() error {
		for sideMoved[cursor] {
			if _, err := block.Skip(rw.src.r); err != nil {
				return err
			}
			cursor++
		}
		cursor++
		return o.travel(rw.src.r, w)
	}
	for range directory.Files(keptBefore) {
		if err := nextKept(); err != nil {
			return rw.abort(err)
		}
		progress()
	}
	for range directory.Files(run) {
		if err := o.travel(held, w); err != nil {
			return rw.abort(err)
		}
		progress()
	}
	for range directory.Files(keptAfter) {
		if err := nextKept(); err != nil {
			return rw.abort(err)
		}
		progress()
	}
	return rw.finish()
}

// gather copies the blocks of the moved entries, in order, into hold.
func (o *op) gather(hold io.Writer, entries []directory.Entry, moved []bool, lastMoved int) error {
	rd, err := openReader(o.path)
	if err != nil {
		return err
	}
	w := bitstream.NewWriter(hold)
	for i, e := range entries[:lastMoved+1] {
		if !e.IsFile {
			continue
		}
		if moved[i] {
			err = o.travel(rd.r, w)
		} else {
			_, err = block.Skip(rd.r)
		}
		if err != nil {
			return closeAll(err, rd)
		}
		o.meter.set(0.45 * float64(i+1) / float64(lastMoved+1))
	}
	if err := w.Close(); err != nil {
		return closeAll(err, rd)
	}
	return rd.Close()
}
