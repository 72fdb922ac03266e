// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package lz

import (
	"io"
)

const (
	ringSize = 2 * WindowSize
	ringMask = ringSize - 1
	winMask  = WindowSize - 1

	hashBits = 15
	hashSize = 1 << hashBits

	lookahead = MaxMatch + MinMatch

	DefaultMaxChain = 4096
)

// Matcher turns a byte stream into tokens using hash chains over a sliding window.
// Memory use is fixed regardless of input size.
type Matcher struct {
	// MaxChain bounds the number of candidates probed per position.
	MaxChain int

	r    io.Reader
	ring [ringSize]byte
	head [hashSize]int64   // newest position+1 per hash, 0 for none
	prev [WindowSize]int64 // older position+1 with the same hash
	pos  int64             // next byte to encode
	end  int64             // bytes read from r so far
	eof  bool
	err  error
}

func NewMatcher(r io.Reader) *Matcher {
	return &Matcher{r: r, MaxChain: DefaultMaxChain}
}

// Pos is the number of input bytes covered by the tokens returned so far.
func (m *Matcher) Pos() int64 { return m.pos }

// fill reads until the lookahead is satisfied or the input ends,
// never overwriting bytes still inside the window.
func (m *Matcher) fill() error {
	for !m.eof && m.end-m.pos < lookahead {
		limit := m.pos + WindowSize // keeps [pos-WindowSize, end) inside the ring
		start := m.end & ringMask
		n := min(int64(ringSize)-start, limit-m.end)
		got, err := m.r.Read(m.ring[start : start+n])
		m.end += int64(got)
		if err == io.EOF {
			m.eof = true
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (m *Matcher) at(p int64) byte { return m.ring[p&ringMask] }

func (m *Matcher) hash(p int64) uint32 {
	v := uint32(m.at(p))<<16 | uint32(m.at(p+1))<<8 | uint32(m.at(p+2))
	return (v * 2654435761) >> (32 - hashBits)
}

func (m *Matcher) insert(p int64) {
	if p+MinMatch > m.end {
		return
	}
	h := m.hash(p)
	m.prev[p&winMask] = m.head[h]
	m.head[h] = p + 1
}

// longest returns the best match at m.pos, or length 0.
// Matches never overlap the bytes they produce, so length <= offset.
func (m *Matcher) longest() (length, offset int) {
	avail := int(min(MaxMatch, m.end-m.pos))
	if avail < MinMatch {
		return 0, 0
	}
	cand := m.head[m.hash(m.pos)] - 1
	for chain := 0; cand >= 0 && chain < m.MaxChain; chain++ {
		off := int(m.pos - cand)
		if off > WindowSize {
			break
		}
		limit := min(avail, off)
		if limit > length {
			n := 0
			for n < limit && m.at(cand+int64(n)) == m.at(m.pos+int64(n)) {
				n++
			}
			if n > length && n >= MinMatch {
				length, offset = n, off
				if n == avail {
					break
				}
			}
		}
		next := m.prev[cand&winMask] - 1
		if next >= cand {
			break
		}
		cand = next
	}
	return length, offset
}

// Next returns the next token, or io.EOF once the input is exhausted.
func (m *Matcher) Next() (Token, error) {
	if m.err != nil {
		return Token{}, m.err
	}
	if err := m.fill(); err != nil {
		m.err = err
		return Token{}, err
	}
	if m.pos >= m.end {
		return Token{}, io.EOF
	}

	length, offset := m.longest()
	if length == 0 {
		t := Lit(m.at(m.pos))
		m.insert(m.pos)
		m.pos++
		return t, nil
	}
	for i := 0; i < length; i++ {
		m.insert(m.pos)
		m.pos++
	}
	return Match(length, offset), nil
}
