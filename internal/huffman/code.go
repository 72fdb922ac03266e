// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package huffman

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrCorrupt = errors.New("corrupt code table")
	ErrLimit   = errors.New("code table exceeds format limits")
)

type BitWriter interface {
	WriteBits(v uint64, width uint8) error
}

type BitReader interface {
	ReadBits(width uint8) (uint64, error)
}

// Alphabet describes how a code table is laid out on disk:
// a count of used symbols, then one (symbol, length) pair per used symbol.
type Alphabet struct {
	Size      int
	CountBits uint8
	SymBits   uint8
	LenBits   uint8
}

var (
	LitAlphabet    = Alphabet{Size: 286, CountBits: 9, SymBits: 9, LenBits: 5}
	OffsetAlphabet = Alphabet{Size: 30, CountBits: 5, SymBits: 5, LenBits: 4}
)

func (a Alphabet) MaxLen() int   { return 1<<a.LenBits - 1 }
func (a Alphabet) MaxCount() int { return 1<<a.CountBits - 1 }

// Table is a canonical code. Symbols with length 0 are unused.
type Table struct {
	Lengths []int
	Codes   []uint32
	Used    int
}

// Pair is one entry of a stored code table.
type Pair struct {
	Sym, Len int
}

// Assign gives consecutive codes to symbols sorted by (length, symbol),
// shifting left whenever the length grows.
func Assign(lengths []int) *Table {
	t := &Table{Lengths: lengths, Codes: make([]uint32, len(lengths))}
	order := make([]int, 0, len(lengths))
	for sym, l := range lengths {
		if l > 0 {
			order = append(order, sym)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int { return lengths[a] - lengths[b] })
	var code uint32
	prevLen := 0
	for i, sym := range order {
		l := lengths[sym]
		if i > 0 {
			code++
		}
		code <<= l - prevLen
		prevLen = l
		t.Codes[sym] = code
	}
	t.Used = len(order)
	return t
}

// Pairs lists used symbols in ascending order.
func (t *Table) Pairs() []Pair {
	pairs := make([]Pair, 0, t.Used)
	for sym, l := range t.Lengths {
		if l > 0 {
			pairs = append(pairs, Pair{sym, l})
		}
	}
	return pairs
}

// Encode writes the code for sym.
func (t *Table) Encode(w BitWriter, sym int) error {
	if sym < 0 || sym >= len(t.Lengths) || t.Lengths[sym] == 0 {
		return fmt.Errorf("%w: symbol %d has no code", ErrLimit, sym)
	}
	return w.WriteBits(uint64(t.Codes[sym]), uint8(t.Lengths[sym]))
}

// WriteTable stores t in the layout of a.
func WriteTable(w BitWriter, a Alphabet, t *Table) error {
	return WritePairs(w, a, t.Pairs())
}

// WritePairs stores the pairs in the order given.
func WritePairs(w BitWriter, a Alphabet, pairs []Pair) error {
	if len(pairs) > a.MaxCount() {
		return fmt.Errorf("%w: %d symbols", ErrLimit, len(pairs))
	}
	if err := w.WriteBits(uint64(len(pairs)), a.CountBits); err != nil {
		return err
	}
	for _, p := range pairs {
		if p.Len < 1 || p.Len > a.MaxLen() {
			return fmt.Errorf("%w: symbol %d has length %d", ErrLimit, p.Sym, p.Len)
		}
		if err := w.WriteBits(uint64(p.Sym), a.SymBits); err != nil {
			return err
		}
		if err := w.WriteBits(uint64(p.Len), a.LenBits); err != nil {
			return err
		}
	}
	return nil
}

// ReadTable reads a table stored in the layout of a and re-derives the canonical codes.
// The pairs are returned in stored order.
func ReadTable(r BitReader, a Alphabet) (*Table, []Pair, error) {
	n, err := r.ReadBits(a.CountBits)
	if err != nil {
		return nil, nil, err
	}
	if int(n) > a.Size {
		return nil, nil, fmt.Errorf("%w: %d symbols in alphabet of %d", ErrCorrupt, n, a.Size)
	}
	lengths := make([]int, a.Size)
	pairs := make([]Pair, 0, n)
	for range n {
		sym, err := r.ReadBits(a.SymBits)
		if err != nil {
			return nil, nil, err
		}
		l, err := r.ReadBits(a.LenBits)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case int(sym) >= a.Size:
			return nil, nil, fmt.Errorf("%w: symbol %d out of range", ErrCorrupt, sym)
		case l == 0:
			return nil, nil, fmt.Errorf("%w: symbol %d has length 0", ErrCorrupt, sym)
		case lengths[sym] != 0:
			return nil, nil, fmt.Errorf("%w: symbol %d repeated", ErrCorrupt, sym)
		}
		lengths[sym] = int(l)
		pairs = append(pairs, Pair{int(sym), int(l)})
	}
	if oversubscribed(lengths) {
		return nil, nil, fmt.Errorf("%w: over-subscribed code", ErrCorrupt)
	}
	return Assign(lengths), pairs, nil
}

// oversubscribed reports whether the Kraft sum of the lengths exceeds one.
func oversubscribed(lengths []int) bool {
	var count [32]int
	for _, l := range lengths {
		count[l]++
	}
	left := 1
	for l := 1; l < len(count); l++ {
		left <<= 1
		left -= count[l]
		if left < 0 {
			return true
		}
	}
	return false
}
