// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// withProgress runs work on its own goroutine while another polls the fraction
// it reports and redraws a status line on w. A nil w disables the display.
func withProgress(w io.Writer, label string, work func(report func(float64)) error) error {
	var frac atomic.Uint64
	report := func(f float64) { frac.Store(math.Float64bits(f)) }
	load := func() float64 { return math.Float64frombits(frac.Load()) }

	var g errgroup.Group
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return work(report)
	})
	if w != nil {
		g.Go(func() error {
			ticker := time.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					fmt.Fprintf(w, "\r%s %3.0f%%", label, 100*load())
				case <-done:
					fmt.Fprintf(w, "\r%s %3.0f%%\n", label, 100*load())
					return nil
				}
			}
		})
	}
	return g.Wait()
}
