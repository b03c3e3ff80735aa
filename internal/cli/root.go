// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cli implements secmallocctl, a small command-line harness
// that drives the allocator engine directly — it is not part of the
// engine's public contract, just a way to exercise it (scenarios,
// stress tests, leak reports) without writing a throwaway Go program
// each time.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Esgr0bar/secmalloc"
	"github.com/Esgr0bar/secmalloc/internal/auditlog"
	"github.com/Esgr0bar/secmalloc/internal/config"
)

var log = logrus.New()

// Execute builds and runs the root command.
func Execute() error {
	root := newRootCmd()
	return root.Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "secmallocctl",
		Short:         "Drive the secmalloc allocator engine",
		Long:          "secmallocctl exercises the secmalloc allocator engine: canned scenarios, a stress-test bench, and a leak report, all against one in-process Allocator.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newScenarioCmd())
	root.AddCommand(newBenchCmd())
	root.AddCommand(newReportCmd())

	return root
}

// newAllocator builds an Allocator wired per MSM_OUTPUT / the optional
// TOML config (SPEC_FULL.md §6), the same way any real embedder of
// this package would. It returns a closer the caller must invoke.
func newAllocator() (*secmalloc.Allocator, func(), error) {
	cfg := config.Resolve(log)

	var opts []secmalloc.Option
	closeFn := func() {}

	sink, err := auditlog.OpenFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "secmallocctl: failed to open MSM_OUTPUT audit sink:", err)
		os.Exit(1)
	}
	if sink == nil && cfg.Audit.Path != "" {
		sink, err = auditlog.Open(cfg.Audit.Path)
		if err != nil {
			return nil, closeFn, err
		}
	}
	if sink != nil {
		opts = append(opts, secmalloc.WithLogger(sink))
		closeFn = func() { sink.Close() }
	}

	if cfg.Canary.Random {
		opts = append(opts, secmalloc.WithCanary(randomCanarySeed(cfg.Canary.Seed)))
	}
	if cfg.Allocator.BestFitAllocate {
		opts = append(opts, secmalloc.WithBestFitAllocate())
	}

	return secmalloc.New(opts...), closeFn, nil
}
