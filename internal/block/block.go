// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package block compresses one file into a self-describing run of bits:
// a length/literal code table, an offset code table, the coded tokens,
// and an end-of-block symbol.
//
// A block can be decoded three ways. Extract writes out the file,
// Skip discards it, and Copy re-emits the identical block into another
// bit stream, which lets an archive be rewritten without recompressing.
package block

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/elliotnunn/azip/internal/huffman"
	"github.com/elliotnunn/azip/internal/lz"
)

var ErrCorrupt = errors.New("corrupt block")

type BitWriter interface {
	WriteBits(v uint64, width uint8) error
}

type BitReader interface {
	ReadBits(width uint8) (uint64, error)
}

type Stats struct {
	Bytes  int64 // uncompressed size
	Tokens int64 // literals and matches, not counting end of block
}

type EncodeOptions struct {
	TempDir  string // for the token spill file, os.TempDir if empty
	MaxChain int    // hash chain probes per position, lz.DefaultMaxChain if zero

	// Stage receives the fraction of the block finished
	// at the end of each phase: 0.5, 0.6, 0.7, 1.
	Stage func(float64)
}

// Encode compresses src in two passes. The first pass finds matches and
// counts symbols, spilling the tokens to a temporary file; the second
// writes the code tables and replays the tokens through them.
func Encode(src io.Reader, w BitWriter, opts EncodeOptions) (st Stats, err error) {
	stage := opts.Stage
	if stage == nil {
		stage = func(float64) {}
	}

	spill, err := os.CreateTemp(opts.TempDir, "azip-spill-*")
	if err != nil {
		return st, err
	}
	defer func() {
		spill.Close()
		if rerr := os.Remove(spill.Name()); rerr != nil && err == nil {
			err = rerr
		}
	}()

	// pass 1
	m := lz.NewMatcher(bufio.NewReaderSize(src, 64*1024))
	if opts.MaxChain > 0 {
		m.MaxChain = opts.MaxChain
	}
	sw := lz.NewSpillWriter(spill)
	var freq lz.Frequencies
	for {
		t, err := m.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return st, err
		}
		freq.Add(t)
		if err := sw.Write(t); err != nil {
			return st, err
		}
	}
	freq.End()
	if err := sw.Close(); err != nil {
		return st, err
	}
	st.Bytes, st.Tokens = m.Pos(), sw.Count()
	stage(0.5)

	litLens := huffman.Lengths(freq.Lit[:], huffman.LitAlphabet.MaxLen())
	offLens := huffman.Lengths(freq.Offset[:], huffman.OffsetAlphabet.MaxLen())
	stage(0.6)
	lit := huffman.Assign(litLens)
	off := huffman.Assign(offLens)
	stage(0.7)

	// pass 2
	if err := huffman.WriteTable(w, huffman.LitAlphabet, lit); err != nil {
		return st, err
	}
	if err := huffman.WriteTable(w, huffman.OffsetAlphabet, off); err != nil {
		return st, err
	}
	if _, err := spill.Seek(0, io.SeekStart); err != nil {
		return st, err
	}
	sr := lz.NewSpillReader(spill)
	for {
		t, err := sr.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return st, err
		}
		if err := writeToken(w, lit, off, t); err != nil {
			return st, err
		}
	}
	if err := lit.Encode(w, lz.EndOfBlock); err != nil {
		return st, err
	}
	stage(1)
	return st, nil
}

func writeToken(w BitWriter, lit, off *huffman.Table, t lz.Token) error {
	if t.IsLiteral() {
		return lit.Encode(w, int(t.Literal))
	}
	lc := lz.LengthCode(int(t.Length))
	if err := lit.Encode(w, lc.Sym); err != nil {
		return err
	}
	if err := w.WriteBits(uint64(lc.Extra), lc.NBits); err != nil {
		return err
	}
	oc := lz.OffsetCode(int(t.Offset))
	if err := off.Encode(w, oc.Sym); err != nil {
		return err
	}
	return w.WriteBits(uint64(oc.Extra), oc.NBits)
}

// Extract decodes one block, writing the file contents to dst.
func Extract(r BitReader, dst io.Writer) (Stats, error) {
	bw := bufio.NewWriterSize(dst, 64*1024)
	st, err := decode(r, &history{w: bw}, nil)
	if err != nil {
		return st, err
	}
	return st, bw.Flush()
}

// Copy decodes one block and writes an identical block to w.
func Copy(r BitReader, w BitWriter) (Stats, error) {
	return decode(r, nil, w)
}

// Skip decodes one block and discards it.
func Skip(r BitReader) (Stats, error) {
	return decode(r, nil, nil)
}

// decode walks a block, materializing it into hist and/or re-emitting it into w
// when those are non-nil.
func decode(r BitReader, hist *history, w BitWriter) (st Stats, err error) {
	lit, litPairs, err := huffman.ReadTable(r, huffman.LitAlphabet)
	if err != nil {
		return st, err
	}
	off, offPairs, err := huffman.ReadTable(r, huffman.OffsetAlphabet)
	if err != nil {
		return st, err
	}
	if w != nil {
		if err := huffman.WritePairs(w, huffman.LitAlphabet, litPairs); err != nil {
			return st, err
		}
		if err := huffman.WritePairs(w, huffman.OffsetAlphabet, offPairs); err != nil {
			return st, err
		}
	}
	litDec, offDec := huffman.NewDecoder(lit), huffman.NewDecoder(off)

	// pass reads n extra bits and echoes them to w
	pass := func(n uint8) (int, error) {
		v, err := r.ReadBits(n)
		if err != nil {
			return 0, err
		}
		if w != nil {
			if err := w.WriteBits(v, n); err != nil {
				return 0, err
			}
		}
		return int(v), nil
	}

	for {
		sym, err := litDec.Decode(r)
		if err != nil {
			return st, err
		}
		if w != nil {
			if err := lit.Encode(w, sym); err != nil {
				return st, err
			}
		}

		if sym == lz.EndOfBlock {
			return st, nil
		}
		st.Tokens++
		if sym < lz.EndOfBlock {
			if hist != nil {
				if err := hist.put(byte(sym)); err != nil {
					return st, err
				}
			}
			st.Bytes++
			continue
		}

		base, nbits, ok := lz.LengthBase(sym)
		if !ok {
			return st, fmt.Errorf("%w: length symbol %d", ErrCorrupt, sym)
		}
		extra, err := pass(nbits)
		if err != nil {
			return st, err
		}
		length := base + extra

		osym, err := offDec.Decode(r)
		if err != nil {
			return st, err
		}
		if w != nil {
			if err := off.Encode(w, osym); err != nil {
				return st, err
			}
		}
		obase, onbits, ok := lz.OffsetBase(osym)
		if !ok {
			return st, fmt.Errorf("%w: offset symbol %d", ErrCorrupt, osym)
		}
		oextra, err := pass(onbits)
		if err != nil {
			return st, err
		}
		offset := obase + oextra
		if int64(offset) > st.Bytes {
			return st, fmt.Errorf("%w: offset %d reaches before start of file at %d", ErrCorrupt, offset, st.Bytes)
		}
		if hist != nil {
			if err := hist.copy(offset, length); err != nil {
				return st, err
			}
		}
		st.Bytes += int64(length)
	}
}

// history is the last window of output, needed to resolve back-references.
type history struct {
	ring [lz.WindowSize]byte
	pos  int
	w    *bufio.Writer
}

func (h *history) put(b byte) error {
	h.ring[h.pos&(lz.WindowSize-1)] = b
	h.pos++
	return h.w.WriteByte(b)
}

func (h *history) copy(offset, length int) error {
	for range length {
		if err := h.put(h.ring[(h.pos-offset)&(lz.WindowSize-1)]); err != nil {
			return err
		}
	}
	return nil
}
