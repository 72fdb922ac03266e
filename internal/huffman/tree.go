// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package huffman builds canonical prefix codes from symbol frequencies
// and reads and writes the compact code tables that describe them.
package huffman

import "container/heap"

// Node is a Huffman tree node. Leaves have no children.
type Node struct {
	Freq        uint64
	Sym         int
	Left, Right *Node

	order int // tie-break: leaves by symbol, then internal nodes by creation
}

func (n *Node) Leaf() bool { return n.Left == nil && n.Right == nil }

type nodeHeap []*Node

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].Freq != h[j].Freq {
		return h[i].Freq < h[j].Freq
	}
	return h[i].order < h[j].order
}
func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)   { *h = append(*h, x.(*Node)) }
func (h *nodeHeap) Pop() (x any) {
	old := *h
	x, *h = old[len(old)-1], old[:len(old)-1]
	return x
}

// BuildTree merges the two least frequent nodes until one remains.
// Symbols with zero frequency are left out. It returns nil if every frequency is zero.
func BuildTree(freqs []uint64) *Node {
	h := make(nodeHeap, 0, len(freqs))
	for sym, f := range freqs {
		if f > 0 {
			h = append(h, &Node{Freq: f, Sym: sym, order: sym})
		}
	}
	if len(h) == 0 {
		return nil
	}
	heap.Init(&h)
	next := len(freqs)
	for h.Len() > 1 {
		a := heap.Pop(&h).(*Node)
		b := heap.Pop(&h).(*Node)
		heap.Push(&h, &Node{Freq: a.Freq + b.Freq, Sym: -1, Left: a, Right: b, order: next})
		next++
	}
	return h[0]
}

// CodeLengths returns the depth of every leaf, indexed by symbol.
// A tree with a single leaf gives that symbol length 1 so that it still has a code.
func CodeLengths(root *Node, n int) []int {
	lengths := make([]int, n)
	if root == nil {
		return lengths
	}
	if root.Leaf() {
		lengths[root.Sym] = 1
		return lengths
	}
	var walk func(*Node, int)
	walk = func(nd *Node, depth int) {
		if nd.Leaf() {
			lengths[nd.Sym] = depth
			return
		}
		walk(nd.Left, depth+1)
		walk(nd.Right, depth+1)
	}
	walk(root, 0)
	return lengths
}

// Lengths computes code lengths no longer than limit,
// flattening the frequencies until the tree is shallow enough.
func Lengths(freqs []uint64, limit int) []int {
	f := append([]uint64(nil), freqs...)
	for {
		lengths := CodeLengths(BuildTree(f), len(f))
		if maxOf(lengths) <= limit {
			return lengths
		}
		for i := range f {
			if f[i] > 0 {
				f[i] = 1 + f[i]/2
			}
		}
	}
}

func maxOf(s []int) int {
	m := 0
	for _, v := range s {
		m = max(m, v)
	}
	return m
}
