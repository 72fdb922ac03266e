// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package archive

import (
	"github.com/elliotnunn/azip/internal/bitstream"
	"github.com/elliotnunn/azip/internal/block"
	"github.com/elliotnunn/azip/internal/directory"
	"github.com/elliotnunn/azip/internal/lock"
	"github.com/elliotnunn/azip/internal/metrics"
	"github.com/elliotnunn/azip/internal/source"
)

// Compress writes a new archive holding the given files and folders.
// With no sources the archive is a single zero byte.
func Compress(sources []string, archivePath string, opts *Options) error {
	o := begin("compress", archivePath, opts)
	return o.end(o.compress(sources))
}

func (o *op) compress(sources []string) error {
	lk, err := o.lock()
	if err != nil {
		return err
	}
	defer lk.Release()

	entries, files, err := directory.Collect(sources, o.collectOptions())
	if err != nil {
		return err
	}

	wr, err := createWriter(o.path)
	if err != nil {
		return err
	}
	if err := directory.Write(wr.w, entries); err != nil {
		return closeAll(err, wr)
	}
	o.meter.set(0.2)

	share := 0.8 / float64(max(len(files), 1))
	for i, p := range files {
		if err := o.encode(wr.w, p, 0.2+share*float64(i), share); err != nil {
			return closeAll(err, wr)
		}
	}
	return wr.Close()
}

func (o *op) collectOptions() directory.CollectOptions {
	c := directory.CollectOptions{
		Exclude: o.opts.Exclude,
		Skip:    []string{o.path, lock.Path(o.path)},
		Logger:  o.log,
	}
	if o.opts.Unwrap {
		c.Rename = source.StoredName
	}
	return c
}

// encode compresses the file at path into w, reporting progress from base to base+share.
func (o *op) encode(w *bitstream.Writer, path string, base, share float64) error {
	src, err := source.Open(path, o.opts.Unwrap)
	if err != nil {
		return err
	}
	startBits := w.Bits()
	st, err := block.Encode(src, w, block.EncodeOptions{
		TempDir:  o.opts.TempDir,
		MaxChain: o.opts.MaxChain,
		Stage:    func(f float64) { o.meter.set(base + share*f) },
	})
	metrics.Bytes.WithLabelValues("encoded").Add(float64(st.Bytes))
	if err != nil {
		return closeAll(err, src)
	}
	o.log.Debug("blockEncoded", "file", path, "bytes", st.Bytes, "tokens", st.Tokens, "bits", w.Bits()-startBits)
	return src.Close()
}
