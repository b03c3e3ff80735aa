// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command secmallocctl exercises the secmalloc allocator engine from
// the command line: canned scenarios covering the allocator's main
// failure modes, a stress-test bench, and a leak report.
package main

import (
	"fmt"
	"os"

	"github.com/Esgr0bar/secmalloc/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
