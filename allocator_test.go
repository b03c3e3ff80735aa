// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package secmalloc

import (
	"errors"
	"math"
	"testing"
	"unsafe"

	"modernc.org/mathutil"
)

var errTestPageFailure = errors.New("secmalloc: simulated page acquisition failure")

// recordingLogger collects every emitted event for assertions, the
// same role modernc.org/memory's own `trace`-guarded stderr prints
// play in its all_test.go, made queryable instead of merely printed.
type recordingLogger struct {
	events []recordedEvent
}

type recordedEvent struct {
	level Level
	fn    string
	size  uintptr
	addr  unsafe.Pointer
}

func (r *recordingLogger) Emit(level Level, fn string, size uintptr, addr unsafe.Pointer) {
	r.events = append(r.events, recordedEvent{level, fn, size, addr})
}

func (r *recordingLogger) countLevel(l Level) int {
	n := 0
	for _, e := range r.events {
		if e.level == l {
			n++
		}
	}
	return n
}

// --- basic allocate/release ---------------------------------------

func TestBasicAllocateRelease(t *testing.T) {
	var a Allocator
	ptr, err := a.Allocate(1024)
	if err != nil || ptr == nil {
		t.Fatalf("Allocate(1024) = %v, %v", ptr, err)
	}
	c := chunkFromUser(ptr)
	if c.canaryStart != canaryConst || c.canaryEnd != canaryConst {
		t.Fatalf("canaries not set: %#x %#x", c.canaryStart, c.canaryEnd)
	}
	a.Release(ptr)
	if c.state != stateFree {
		t.Fatalf("state after Release = %v, want FREE", c.state)
	}
}

// --- zero-allocate initializes --------------------------------------

func TestZeroAllocateInitializes(t *testing.T) {
	var a Allocator
	ptr, err := a.ZeroAllocate(128, 4)
	if err != nil || ptr == nil {
		t.Fatalf("ZeroAllocate(128,4) = %v, %v", ptr, err)
	}
	b := unsafe.Slice((*byte)(ptr), 512)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, v)
		}
	}
	a.Release(ptr)
}

func TestZeroAllocateZeroArgsReturnNil(t *testing.T) {
	var a Allocator
	if ptr, err := a.ZeroAllocate(0, 8); ptr != nil || err != nil {
		t.Fatalf("ZeroAllocate(0,8) = %v, %v, want nil, nil", ptr, err)
	}
	if ptr, err := a.ZeroAllocate(8, 0); ptr != nil || err != nil {
		t.Fatalf("ZeroAllocate(8,0) = %v, %v, want nil, nil", ptr, err)
	}
	if ptr, err := a.Allocate(0); ptr != nil || err != nil {
		t.Fatalf("Allocate(0) = %v, %v, want nil, nil", ptr, err)
	}
}

// --- overflow in zero-allocate ---------------------------------------

func TestZeroAllocateOverflow(t *testing.T) {
	var a Allocator
	ptr, err := a.ZeroAllocate(math.MaxUint64/2+1, 2)
	if ptr != nil || err != ErrOverflow {
		t.Fatalf("ZeroAllocate overflow = %v, %v, want nil, ErrOverflow", ptr, err)
	}
}

// --- grow preserves data ---------------------------------------------

func TestResizeGrowPreservesData(t *testing.T) {
	var a Allocator
	ptr, err := a.Allocate(64)
	if err != nil || ptr == nil {
		t.Fatalf("Allocate(64) = %v, %v", ptr, err)
	}
	b := unsafe.Slice((*byte)(ptr), 64)
	for i := range b {
		b[i] = byte(i)
	}

	grown, err := a.Resize(ptr, 128)
	if err != nil || grown == nil {
		t.Fatalf("Resize(ptr,128) = %v, %v", grown, err)
	}
	gb := unsafe.Slice((*byte)(grown), 128)
	for i := 0; i < 64; i++ {
		if gb[i] != byte(i) {
			t.Fatalf("byte %d = %#x, want %#x", i, gb[i], byte(i))
		}
	}
	a.Release(grown)
}

// --- shrink preserves data --------------------------------------------

func TestResizeShrinkPreservesData(t *testing.T) {
	var a Allocator
	ptr, err := a.Allocate(128)
	if err != nil || ptr == nil {
		t.Fatalf("Allocate(128) = %v, %v", ptr, err)
	}
	b := unsafe.Slice((*byte)(ptr), 128)
	for i := range b {
		b[i] = byte(i)
	}

	shrunk, err := a.Resize(ptr, 64)
	if err != nil || shrunk == nil {
		t.Fatalf("Resize(ptr,64) = %v, %v", shrunk, err)
	}
	sb := unsafe.Slice((*byte)(shrunk), 64)
	for i := 0; i < 64; i++ {
		if sb[i] != byte(i) {
			t.Fatalf("byte %d = %#x, want %#x", i, sb[i], byte(i))
		}
	}
	a.Release(shrunk)
}

// Round-trip resize to the same size is the identity.
func TestResizeIdentity(t *testing.T) {
	var a Allocator
	ptr, _ := a.Allocate(96)
	c := chunkFromUser(ptr)
	same, err := a.Resize(ptr, c.size)
	if err != nil || same != ptr {
		t.Fatalf("Resize(ptr, same size) = %v, %v, want %v, nil", same, err, ptr)
	}
	a.Release(same)
}

// --- double free detected ----------------------------------------------

func TestDoubleFreeDetected(t *testing.T) {
	var rec recordingLogger
	a := New(WithLogger(&rec))

	ptr, _ := a.Allocate(128)
	a.Release(ptr)
	a.Release(ptr)

	if got := rec.countLevel(LevelError); got != 1 {
		t.Fatalf("Error events after double free = %d, want 1", got)
	}
	c := chunkFromUser(ptr)
	if c.state != stateFree {
		t.Fatalf("state after double free = %v, want FREE (unchanged)", c.state)
	}
}

// --- corruption detected ------------------------------------------------

func TestCorruptionDetected(t *testing.T) {
	var rec recordingLogger
	a := New(WithLogger(&rec))

	ptr, _ := a.Allocate(128)
	c := chunkFromUser(ptr)
	c.canaryStart = 0

	a.Release(ptr)

	if got := rec.countLevel(LevelError); got != 1 {
		t.Fatalf("Error events after corrupted release = %d, want 1", got)
	}
	if c.state != stateBusy {
		t.Fatalf("state after corrupted release = %v, want BUSY (unchanged)", c.state)
	}
}

func TestCorruptCanaryHelper(t *testing.T) {
	var a Allocator
	b, err := a.Malloc(64)
	if err != nil {
		t.Fatal(err)
	}
	CorruptCanary(unsafe.Pointer(&b[0]))
	if chunkFromUser(unsafe.Pointer(&b[0])).canaryStart != 0 {
		t.Fatal("CorruptCanary did not zero canaryStart")
	}
}

// --- stress mix -----------------------------------------------------

func TestStressMix(t *testing.T) {
	var a Allocator
	const n = 1000

	ptrs := make([]unsafe.Pointer, n)
	for i := range ptrs {
		ptr, err := a.Allocate(128)
		if err != nil || ptr == nil {
			t.Fatalf("Allocate #%d failed: %v", i, err)
		}
		ptrs[i] = ptr
	}
	for i := n - 1; i >= 0; i-- {
		a.Release(ptrs[i])
	}

	free := 0
	for c := a.freeList; c != nil; c = c.next {
		if c.state != stateFree {
			t.Fatalf("non-FREE chunk reachable from free list")
		}
		free++
	}
	if free < n {
		t.Fatalf("free list has %d entries, want at least %d", free, n)
	}

	// No cycles, no duplicate entries in the free list.
	seen := map[*chunk]bool{}
	for c := a.freeList; c != nil; c = c.next {
		if seen[c] {
			t.Fatalf("cycle or duplicate detected in free list")
		}
		seen[c] = true
	}
}

// --- canary and free-list membership invariants ---------------------

func TestCanaryInvariantHoldsAcrossSplit(t *testing.T) {
	var a Allocator
	ptr, _ := a.Allocate(64) // well under a page: forces a split remainder
	c := chunkFromUser(ptr)
	if !c.canariesValid(canaryConst) {
		t.Fatalf("winner canaries invalid after split")
	}
	if a.freeList == nil || !a.freeList.canariesValid(canaryConst) {
		t.Fatalf("split remainder canaries invalid or remainder missing from free list")
	}
}

func TestFreeListMembershipInvariant(t *testing.T) {
	var a Allocator
	ptr, _ := a.Allocate(64)
	for c := a.freeList; c != nil; c = c.next {
		if c.state != stateFree {
			t.Fatalf("chunk in free list with state %v, want FREE", c.state)
		}
	}
	a.Release(ptr)
	found := false
	for c := a.freeList; c != nil; c = c.next {
		if c == chunkFromUser(ptr) {
			found = true
		}
	}
	if !found {
		t.Fatalf("released chunk not reachable from free list")
	}
}

// User pointers are aligned to at least the chunk record's word size.
func TestAlignment(t *testing.T) {
	var a Allocator
	for _, size := range []uintptr{1, 3, 7, 63, 127, 4000} {
		ptr, err := a.Allocate(size)
		if err != nil || ptr == nil {
			t.Fatalf("Allocate(%d) = %v, %v", size, ptr, err)
		}
		if uintptr(ptr)%wordAlign != 0 {
			t.Fatalf("Allocate(%d) returned misaligned pointer %p", size, ptr)
		}
		a.Release(ptr)
	}
}

// No split occurs when the remainder would be too small to hold its own record:
// the whole bootstrap chunk's capacity is handed to the caller unshrunk.
func TestSplitAbsorbsTooSmallRemainder(t *testing.T) {
	var a Allocator
	ptr, _ := a.Allocate(PageSize - uintptr(chunkSize) - 1)
	c := chunkFromUser(ptr)
	if c.size != PageSize-uintptr(chunkSize) {
		t.Fatalf("winner size = %d, want %d (whole chunk, no split)", c.size, PageSize-uintptr(chunkSize))
	}
	a.Release(ptr)
}

// --- fatal init path ---------------------------------------------------

func TestEnsureMetadataHeapFatalOnPageFailure(t *testing.T) {
	var a Allocator
	orig := exitFunc
	exited := false
	exitFunc = func(code int) { exited = true }
	defer func() { exitFunc = orig }()

	origAcquire := acquirePageFn
	acquirePageFn = func() (unsafe.Pointer, error) { return nil, errTestPageFailure }
	defer func() { acquirePageFn = origAcquire }()

	a.ensureMetadataHeap()
	if !exited {
		t.Fatalf("ensureMetadataHeap did not call exitFunc on page acquisition failure")
	}
}

// --- resize failure keeps old block alive (documented behavior change) -----

func TestResizeAllocationFailureKeepsOldBlock(t *testing.T) {
	var a Allocator
	ptr, _ := a.Allocate(64)

	origAcquire := acquirePageFn
	acquirePageFn = func() (unsafe.Pointer, error) { return nil, errTestPageFailure }
	defer func() { acquirePageFn = origAcquire }()

	// Ask for something far larger than any free chunk so the best-fit
	// search misses and Resize must fall through to Allocate, which we've
	// made fail above.
	newPtr, err := a.Resize(ptr, PageSize*4)
	if err == nil || newPtr != nil {
		t.Fatalf("Resize under page exhaustion = %v, %v, want nil, error", newPtr, err)
	}
	c := chunkFromUser(ptr)
	if c.state != stateBusy || !c.canariesValid(canaryConst) {
		t.Fatalf("old block not kept alive after failed resize")
	}
}

// --- stress using modernc.org/memory's own PRNG pattern ---------------------

func TestStressRandomSizes(t *testing.T) {
	var a Allocator
	rng, err := mathutil.NewFC32(0, math.MaxInt32, true)
	if err != nil {
		t.Fatal(err)
	}
	rng.Seed(7)

	const count = 256
	blocks := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		size := rng.Next()%2048 + 1
		b, err := a.Malloc(size)
		if err != nil || b == nil {
			t.Fatalf("Malloc(%d) failed: %v", size, err)
		}
		for j := range b {
			b[j] = byte(rng.Next())
		}
		blocks = append(blocks, b)
	}
	for _, b := range blocks {
		a.Free(b)
	}
}
