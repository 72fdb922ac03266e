// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package lz

import (
	"errors"
	"fmt"
	"io"

	"github.com/elliotnunn/azip/internal/bitstream"
	"github.com/pierrec/lz4/v4"
)

// The spill stream holds the tokens of pass 1 so that pass 2 can replay them
// once the code tables are known. Each token is an 8-bit literal and a 9-bit
// length, followed by a 16-bit offset only if the length is nonzero.
// A length greater than its offset ends the stream.

var sentinel = Token{Literal: 0, Length: 1, Offset: 0}

type SpillWriter struct {
	lw *lz4.Writer
	bw *bitstream.Writer
	n  int64
}

func NewSpillWriter(w io.Writer) *SpillWriter {
	lw := lz4.NewWriter(w)
	return &SpillWriter{lw: lw, bw: bitstream.NewWriter(lw)}
}

func (s *SpillWriter) Write(t Token) error {
	if err := t.Check(); err != nil {
		return err
	}
	s.n++
	return s.put(t)
}

func (s *SpillWriter) put(t Token) error {
	if err := s.bw.WriteBits(uint64(t.Literal), 8); err != nil {
		return err
	}
	if err := s.bw.WriteBits(uint64(t.Length), 9); err != nil {
		return err
	}
	if t.Length > 0 {
		return s.bw.WriteBits(uint64(t.Offset), 16)
	}
	return nil
}

// Count is the number of tokens written, not counting the terminator.
func (s *SpillWriter) Count() int64 { return s.n }

// Close terminates the stream and flushes the LZ4 frame.
// The underlying writer is left open.
func (s *SpillWriter) Close() error {
	if err := s.put(sentinel); err != nil {
		return err
	}
	if err := s.bw.Close(); err != nil {
		return err
	}
	return s.lw.Close()
}

type SpillReader struct {
	br *bitstream.Reader
}

func NewSpillReader(r io.Reader) *SpillReader {
	return &SpillReader{br: bitstream.NewReader(lz4.NewReader(r))}
}

// Next returns io.EOF after the terminator.
func (s *SpillReader) Next() (Token, error) {
	lit, err := s.br.ReadBits(8)
	if err != nil {
		return Token{}, spillErr(err)
	}
	length, err := s.br.ReadBits(9)
	if err != nil {
		return Token{}, spillErr(err)
	}
	var offset uint64
	if length > 0 {
		offset, err = s.br.ReadBits(16)
		if err != nil {
			return Token{}, spillErr(err)
		}
	}
	if length > offset {
		return Token{}, io.EOF
	}
	t := Token{Literal: byte(lit), Length: uint16(length), Offset: uint16(offset)}
	return t, t.Check()
}

func spillErr(err error) error {
	if errors.Is(err, bitstream.ErrTruncated) {
		return fmt.Errorf("spill stream: %w", err)
	}
	return err
}
