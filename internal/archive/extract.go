// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package archive

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/elliotnunn/azip/internal/bitstream"
	"github.com/elliotnunn/azip/internal/block"
	"github.com/elliotnunn/azip/internal/directory"
	"github.com/elliotnunn/azip/internal/metrics"
)

// Decompress extracts every entry of the archive into destDir.
func Decompress(destDir, archivePath string, opts *Options) error {
	o := begin("decompress", archivePath, opts)
	return o.end(o.extract(destDir, nil))
}

// DecompressSelected extracts the entries at the given indices, with the
// contents of any folders among them, directly into destDir.
// An index inside a folder that is also selected adds nothing.
func DecompressSelected(destDir, archivePath string, indices []int, opts *Options) error {
	o := begin("decompress", archivePath, opts)
	return o.end(o.extract(destDir, indices))
}

// extract writes out the selected entries, or all of them if indices is nil.
func (o *op) extract(destDir string, indices []int) error {
	rd, err := openReader(o.path)
	if err != nil {
		return err
	}
	entries := rd.entries

	// rel holds the destination path of each selected entry
	rel := make([]string, len(entries))
	end := 0
	if indices == nil {
		for i, e := range entries {
			rel[i] = e.Path
		}
		end = len(entries)
	} else {
		if err := checkIndices(entries, indices); err != nil {
			return closeAll(err, rd)
		}
		sorted := slices.Sorted(slices.Values(indices))
		for _, i := range sorted {
			if i < end {
				continue
			}
			n, err := directory.Span(entries, i)
			if err != nil {
				return closeAll(err, rd)
			}
			for j, e := range directory.Rebase(entries[i:i+n], "") {
				rel[i+j] = e.Path
			}
			end = i + n
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return closeAll(err, rd)
	}

	blocks := directory.Files(entries[:end])
	done := 0
	for i, e := range entries[:end] {
		if e.IsEnd() {
			continue
		}
		if rel[i] == "" {
			if e.IsFile {
				if _, err := block.Skip(rd.r); err != nil {
					return closeAll(err, rd)
				}
			}
		} else if e.IsFile {
			if err := o.extractFile(rd.r, filepath.Join(destDir, filepath.FromSlash(rel[i]))); err != nil {
				return closeAll(err, rd)
			}
		} else {
			if err := os.MkdirAll(filepath.Join(destDir, filepath.FromSlash(rel[i])), 0o755); err != nil {
				return closeAll(err, rd)
			}
		}
		if e.IsFile {
			done++
			o.meter.set(float64(done) / float64(blocks))
		}
	}
	return rd.Close()
}

func (o *op) extractFile(r *bitstream.Reader, name string) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	startBits := r.Bits()
	st, err := block.Extract(r, f)
	metrics.Bytes.WithLabelValues("extracted").Add(float64(st.Bytes))
	if err != nil {
		return closeAll(err, f)
	}
	o.log.Debug("blockExtracted", "file", name, "bytes", st.Bytes, "bits", r.Bits()-startBits)
	return f.Close()
}
