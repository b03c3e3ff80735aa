// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var leak int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Allocate a few blocks, leave some unfreed, and print a leak report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := newAllocator()
			if err != nil {
				return err
			}
			defer closeFn()

			for i := 0; i < leak; i++ {
				if _, err := a.Malloc(64); err != nil {
					return err
				}
			}

			leaks := a.LeakReport()
			if len(leaks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no leaks")
				return nil
			}
			for _, l := range leaks {
				fmt.Fprintf(cmd.OutOrStdout(), "leak: size=%d addr=%p\n", l.Size, l.Addr)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&leak, "leak", 3, "number of 64-byte blocks to allocate and intentionally not free")

	return cmd
}
