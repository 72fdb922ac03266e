// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/elliotnunn/azip/internal/directory"
)

// printListing writes one line per entry, prefixed with the index that
// the editing commands accept. End markers are not shown but keep their index.
func printListing(w io.Writer, entries []directory.Entry, tree bool) {
	depth := 0
	for i, e := range entries {
		if e.IsEnd() {
			depth--
			continue
		}
		if tree {
			name := e.Name
			if e.IsDir() {
				name += "/"
			}
			fmt.Fprintf(w, "%5d  %s%s\n", i, strings.Repeat("  ", depth), name)
		} else {
			fmt.Fprintf(w, "%5d  %s\n", i, e)
		}
		if e.IsDir() {
			depth++
		}
	}
}

// selectEntries merges explicit indices with the entries whose paths match any pattern.
func selectEntries(entries []directory.Entry, indices []int, patterns []string) ([]int, error) {
	sel := slices.Clone(indices)
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("bad pattern %q", pat)
		}
		for i, e := range entries {
			if e.IsEnd() {
				continue
			}
			if ok, _ := doublestar.Match(pat, e.Path); ok {
				sel = append(sel, i)
			}
		}
	}
	slices.Sort(sel)
	return slices.Compact(sel), nil
}
