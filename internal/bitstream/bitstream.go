// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package bitstream reads and writes unaligned, most-significant-bit-first
// bit sequences on top of byte streams.
package bitstream

import (
	"bufio"
	"errors"
	"io"

	"github.com/icza/bitio"
)

// ErrTruncated is returned when the underlying stream ends while bits are still expected.
var ErrTruncated = errors.New("bitstream truncated")

type Writer struct {
	buf  *bufio.Writer
	bw   *bitio.Writer
	bits int64
}

func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriterSize(w, 64*1024)
	return &Writer{buf: buf, bw: bitio.NewWriter(buf)}
}

// WriteBits appends the low width bits of v, high bit first.
func (w *Writer) WriteBits(v uint64, width uint8) error {
	if width == 0 {
		return nil
	}
	if width < 64 {
		v &= 1<<width - 1
	}
	err := w.bw.WriteBits(v, width)
	if err != nil {
		return err
	}
	w.bits += int64(width)
	return nil
}

// Bits is the number of bits written so far, excluding padding.
func (w *Writer) Bits() int64 { return w.bits }

// Close pads the final partial byte with zeros and flushes everything
// to the underlying writer, which is not closed.
func (w *Writer) Close() error {
	if err := w.bw.Close(); err != nil {
		return err
	}
	return w.buf.Flush()
}

type Reader struct {
	br   *bitio.Reader
	bits int64
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bitio.NewReader(bufio.NewReaderSize(r, 64*1024))}
}

// ReadBits consumes width bits and returns them right-aligned.
func (r *Reader) ReadBits(width uint8) (uint64, error) {
	if width == 0 {
		return 0, nil
	}
	v, err := r.br.ReadBits(width)
	if err != nil {
		return 0, truncation(err)
	}
	r.bits += int64(width)
	return v, nil
}

// Bits is the number of bits consumed so far.
func (r *Reader) Bits() int64 { return r.bits }

func truncation(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}
