// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package huffman

import (
	"fmt"
	"slices"
)

// Decoder resolves canonical codes one bit at a time,
// using the count of codes of each length and the symbols in canonical order.
type Decoder struct {
	count  [32]int
	symbol []int
	maxLen int
}

func NewDecoder(t *Table) *Decoder {
	d := &Decoder{}
	for sym, l := range t.Lengths {
		if l > 0 {
			d.count[l]++
			d.symbol = append(d.symbol, sym)
			d.maxLen = max(d.maxLen, l)
		}
	}
	slices.SortStableFunc(d.symbol, func(a, b int) int { return t.Lengths[a] - t.Lengths[b] })
	return d
}

// Decode reads one symbol.
func (d *Decoder) Decode(r BitReader) (int, error) {
	code, first, index := 0, 0, 0
	for l := 1; l <= d.maxLen; l++ {
		bit, err := r.ReadBits(1)
		if err != nil {
			return 0, err
		}
		code |= int(bit)
		count := d.count[l]
		if code-first < count {
			return d.symbol[index+code-first], nil
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, fmt.Errorf("%w: no symbol for code", ErrCorrupt)
}
