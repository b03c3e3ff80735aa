// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cli

import (
	"fmt"
	"sort"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/Esgr0bar/secmalloc"
)

type scenario struct {
	name string
	desc string
	run  func(a *secmalloc.Allocator) error
}

var scenarios = buildScenarios()

func buildScenarios() map[string]scenario {
	m := map[string]scenario{}
	add := func(s scenario) { m[s.name] = s }

	add(scenario{"basic", "allocate/release a 1024-byte block", scenarioBasic})
	add(scenario{"zero", "zero-allocate 128 elements of 4 bytes", scenarioZero})
	add(scenario{"overflow", "zero-allocate with a multiplication overflow", scenarioOverflow})
	add(scenario{"grow", "resize a 64-byte block up to 128 bytes", scenarioGrow})
	add(scenario{"shrink", "resize a 128-byte block down to 64 bytes", scenarioShrink})
	add(scenario{"double-free", "release the same pointer twice", scenarioDoubleFree})
	add(scenario{"corruption", "tamper a canary before release", scenarioCorruption})
	add(scenario{"stress", "allocate/release 1000 128-byte blocks", scenarioStress})

	return m
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario [name|all]",
		Short: "Run one or all canned allocator scenarios",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := newAllocator()
			if err != nil {
				return err
			}
			defer closeFn()

			name := "all"
			if len(args) == 1 {
				name = args[0]
			}
			return runScenarios(cmd, a, name)
		},
	}
	return cmd
}

func runScenarios(cmd *cobra.Command, a *secmalloc.Allocator, name string) error {
	if name == "all" {
		names := make([]string, 0, len(scenarios))
		for n := range scenarios {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if err := runOne(cmd, a, scenarios[n]); err != nil {
				return err
			}
		}
		return nil
	}

	s, ok := scenarios[name]
	if !ok {
		return fmt.Errorf("secmallocctl: unknown scenario %q", name)
	}
	return runOne(cmd, a, s)
}

func runOne(cmd *cobra.Command, a *secmalloc.Allocator, s scenario) error {
	if err := s.run(a); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "FAIL %-12s %s: %v\n", s.name, s.desc, err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "PASS %-12s %s\n", s.name, s.desc)
	return nil
}

func scenarioBasic(a *secmalloc.Allocator) error {
	b, err := a.Malloc(1024)
	if err != nil || b == nil {
		return fmt.Errorf("allocate failed: %v", err)
	}
	a.Free(b)
	return nil
}

func scenarioZero(a *secmalloc.Allocator) error {
	b, err := a.Calloc(128, 4)
	if err != nil || b == nil {
		return fmt.Errorf("calloc failed: %v", err)
	}
	for i, v := range b {
		if v != 0 {
			return fmt.Errorf("byte %d not zeroed", i)
		}
	}
	a.Free(b)
	return nil
}

func scenarioOverflow(a *secmalloc.Allocator) error {
	_, err := a.ZeroAllocate((^uintptr(0))/2+1, 2)
	if err == nil {
		return fmt.Errorf("expected overflow error, got none")
	}
	return nil
}

func scenarioGrow(a *secmalloc.Allocator) error {
	b, err := a.Malloc(64)
	if err != nil || b == nil {
		return fmt.Errorf("allocate failed: %v", err)
	}
	for i := range b {
		b[i] = byte(i)
	}
	grown, err := a.Realloc(b, 128)
	if err != nil || grown == nil {
		return fmt.Errorf("resize failed: %v", err)
	}
	for i := 0; i < 64; i++ {
		if grown[i] != byte(i) {
			return fmt.Errorf("byte %d not preserved on grow", i)
		}
	}
	a.Free(grown)
	return nil
}

func scenarioShrink(a *secmalloc.Allocator) error {
	b, err := a.Malloc(128)
	if err != nil || b == nil {
		return fmt.Errorf("allocate failed: %v", err)
	}
	for i := range b {
		b[i] = byte(i)
	}
	shrunk, err := a.Realloc(b, 64)
	if err != nil || shrunk == nil {
		return fmt.Errorf("resize failed: %v", err)
	}
	for i := 0; i < 64; i++ {
		if shrunk[i] != byte(i) {
			return fmt.Errorf("byte %d not preserved on shrink", i)
		}
	}
	a.Free(shrunk)
	return nil
}

func scenarioDoubleFree(a *secmalloc.Allocator) error {
	b, err := a.Malloc(128)
	if err != nil || b == nil {
		return fmt.Errorf("allocate failed: %v", err)
	}
	a.Free(b)
	a.Free(b) // expected to log an Error and no-op; nothing to assert here beyond "doesn't panic"
	return nil
}

func scenarioCorruption(a *secmalloc.Allocator) error {
	b, err := a.Malloc(128)
	if err != nil || b == nil {
		return fmt.Errorf("allocate failed: %v", err)
	}
	secmalloc.CorruptCanary(unsafe.Pointer(&b[0]))
	a.Free(b) // expected to log an Error and no-op
	return nil
}

func scenarioStress(a *secmalloc.Allocator) error {
	const n = 1000
	ptrs := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		b, err := a.Malloc(128)
		if err != nil || b == nil {
			return fmt.Errorf("allocate %d failed: %v", i, err)
		}
		ptrs = append(ptrs, b)
	}
	for i := len(ptrs) - 1; i >= 0; i-- {
		a.Free(ptrs[i])
	}
	return nil
}
