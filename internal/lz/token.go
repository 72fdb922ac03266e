// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package lz finds LZ77 back-references and maps them onto
// the length/literal and offset alphabets of the block format.
package lz

import (
	"errors"
	"fmt"
	"math/bits"
)

const (
	WindowSize = 1 << 15 // largest back-reference offset
	MinMatch   = 3
	MaxMatch   = 258

	NumLit     = 286 // literals, end of block, length symbols
	NumOffset  = 30
	EndOfBlock = 256
)

var ErrTokenRange = errors.New("token out of range")

// Token is a literal byte when Length and Offset are both zero,
// otherwise a copy of Length bytes from Offset bytes back.
type Token struct {
	Offset  uint16
	Length  uint16
	Literal byte
}

func Lit(b byte) Token { return Token{Literal: b} }

func Match(length, offset int) Token {
	return Token{Length: uint16(length), Offset: uint16(offset)}
}

func (t Token) IsLiteral() bool { return t.Length == 0 && t.Offset == 0 }

func (t Token) String() string {
	if t.IsLiteral() {
		return fmt.Sprintf("lit(%#02x)", t.Literal)
	}
	return fmt.Sprintf("match(len=%d off=%d)", t.Length, t.Offset)
}

// Check reports whether t can be represented in a block.
func (t Token) Check() error {
	if t.IsLiteral() {
		return nil
	}
	if t.Length < MinMatch || t.Length > MaxMatch || t.Offset < 1 || t.Offset > WindowSize || t.Length > t.Offset {
		return fmt.Errorf("%w: %v", ErrTokenRange, t)
	}
	return nil
}

var (
	lengthBase = [29]uint16{
		3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
		35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258}
	lengthExtra = [29]uint8{
		0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
		3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0}
	offsetBase = [NumOffset]uint16{
		1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
		257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577}
	offsetExtra = [NumOffset]uint8{
		0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
		7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13}

	lengthSym [MaxMatch + 1]uint8 // index into lengthBase
)

func init() {
	for i := len(lengthBase) - 1; i >= 0; i-- {
		for l := int(lengthBase[i]); l <= MaxMatch && lengthSym[l] == 0; l++ {
			lengthSym[l] = uint8(i)
		}
	}
}

// Code is a bucketed symbol together with the extra bits that
// select a value inside the bucket.
type Code struct {
	Sym   int
	Extra uint16
	NBits uint8
}

// LengthCode maps a match length to a symbol in 257..285.
func LengthCode(length int) Code {
	i := lengthSym[length]
	return Code{Sym: 257 + int(i), Extra: uint16(length) - lengthBase[i], NBits: lengthExtra[i]}
}

// OffsetCode maps a match offset to a symbol in 0..29.
func OffsetCode(offset int) Code {
	var sym int
	if offset <= 4 {
		sym = offset - 1
	} else {
		nb := bits.Len32(uint32(offset-1)) - 2
		sym = 2*nb + 2 + (offset-1)>>nb&1
	}
	return Code{Sym: sym, Extra: uint16(offset) - offsetBase[sym], NBits: offsetExtra[sym]}
}

// LengthBase returns the smallest length of a length symbol and its extra bit count.
func LengthBase(sym int) (base int, nbits uint8, ok bool) {
	if sym < 257 || sym >= NumLit {
		return 0, 0, false
	}
	return int(lengthBase[sym-257]), lengthExtra[sym-257], true
}

// OffsetBase returns the smallest offset of an offset symbol and its extra bit count.
func OffsetBase(sym int) (base int, nbits uint8, ok bool) {
	if sym < 0 || sym >= NumOffset {
		return 0, 0, false
	}
	return int(offsetBase[sym]), offsetExtra[sym], true
}

// Frequencies counts symbol use in both alphabets.
type Frequencies struct {
	Lit    [NumLit]uint64
	Offset [NumOffset]uint64
}

func (f *Frequencies) Add(t Token) {
	if t.IsLiteral() {
		f.Lit[t.Literal]++
		return
	}
	f.Lit[LengthCode(int(t.Length)).Sym]++
	f.Offset[OffsetCode(int(t.Offset)).Sym]++
}

// End records the end-of-block symbol, exactly once per block.
func (f *Frequencies) End() { f.Lit[EndOfBlock]++ }
