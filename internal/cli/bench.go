// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cli

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"modernc.org/mathutil"

	"github.com/Esgr0bar/secmalloc"
)

func newBenchCmd() *cobra.Command {
	var quota int
	var maxSize int
	var seed int64

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Stress-allocate random-sized blocks until a byte quota is spent, then release them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := newAllocator()
			if err != nil {
				return err
			}
			defer closeFn()
			return runBench(cmd, a, quota, maxSize, seed)
		},
	}

	cmd.Flags().IntVar(&quota, "quota", 8<<20, "total bytes to allocate before releasing everything")
	cmd.Flags().IntVar(&maxSize, "max", 4096, "maximum size of a single allocation")
	cmd.Flags().Int64Var(&seed, "seed", 42, "PRNG seed, for a reproducible run")

	return cmd
}

// runBench follows the same allocate/fill/shuffle/free shape as
// modernc.org/memory's own all_test.go test1, using the same choice of
// PRNG (mathutil's full-cycle FC32) to drive request sizes and payload
// bytes.
func runBench(cmd *cobra.Command, a *secmalloc.Allocator, quota, maxSize int, seed int64) error {
	rng, err := mathutil.NewFC32(0, math.MaxInt32, true)
	if err != nil {
		return err
	}
	rng.Seed(seed)

	var blocks [][]byte
	rem := quota
	for rem > 0 {
		size := rng.Next()%maxSize + 1
		rem -= size
		b, err := a.Malloc(size)
		if err != nil {
			return fmt.Errorf("malloc(%d): %w", size, err)
		}
		for i := range b {
			b[i] = byte(rng.Next())
		}
		blocks = append(blocks, b)
	}

	for i := range blocks {
		j := rng.Next() % len(blocks)
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	for _, b := range blocks {
		a.Free(b)
	}

	stats := a.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "bench: %d blocks, quota %d bytes, live after release: allocs=%d bytes=%d\n",
		len(blocks), quota, stats.LiveAllocs, stats.LiveBytes)
	return nil
}
