// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package secmalloc implements a hardened general-purpose heap
// allocator: canary-guarded chunk records, double-free and corruption
// detection, and an audit trail of every allocator call. It services
// Allocate/Release/ZeroAllocate/Resize requests backed by page-level
// reservations from the OS, the same architecture (and some of the
// actual plumbing) as modernc.org/memory, generalized from a
// size-class slab allocator to a single intrusive free list of chunk
// records threaded with security metadata.
package secmalloc

import (
	"errors"
	"sync"
	"unsafe"
)

// ErrOverflow is returned by ZeroAllocate when n*elemSize would
// overflow uintptr.
var ErrOverflow = errors.New("secmalloc: size overflow")

// ErrCorrupted is returned by Resize when the existing record's
// canaries are invalid or it has already been released.
var ErrCorrupted = errors.New("secmalloc: corrupted or double-freed chunk")

// Allocator holds the three roots of the data model (metadata heap,
// data heap, free list) plus the audit/canary configuration. Its zero
// value is ready to use, same as modernc.org/memory's Allocator:
// `var a secmalloc.Allocator` needs no construction step.
//
// Every mutating method takes a's mutex for the duration of its free
// list/roots access, including canary validation, the single exclusive
// critical section an otherwise single-threaded design like this one
// needs once it's shared across goroutines.
type Allocator struct {
	mu sync.Mutex

	metadataRoot *chunk
	dataRoot     *chunk
	freeList     *chunk
	regionRoot   *chunk

	logger Logger
	canary uint32

	bestFit bool // Resize always uses best-fit; this toggles Allocate's own policy (see config.Allocator.BestFitAllocate).

	allocs    int
	liveBytes int
	classHist [numSizeClasses]int
}

// Option configures an Allocator at construction time.
type Option func(*Allocator)

// WithLogger attaches the audit sink an Allocator emits events to.
// Without one, events are discarded silently.
func WithLogger(l Logger) Option { return func(a *Allocator) { a.logger = l } }

// WithCanary overrides the sentinel word written into every chunk's
// canary_start/canary_end. The default is the compile-time literal
// 0xDEADBEEF; a hardened deployment should pass a per-process random
// word instead.
func WithCanary(v uint32) Option { return func(a *Allocator) { a.canary = v } }

// WithBestFitAllocate switches Allocate itself from its default
// first-fit search to best-fit,
// unifying it with Resize's policy at the cost of a full free-list walk
// on every call.
func WithBestFitAllocate() Option { return func(a *Allocator) { a.bestFit = true } }

// New constructs an Allocator with the given options applied. Calling
// New is optional — `var a Allocator` is just as valid — it exists for
// callers who want to set a logger or canary up front.
func New(opts ...Option) *Allocator {
	a := &Allocator{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) logger0() Logger {
	if a.logger == nil {
		return noopLogger{}
	}
	return a.logger
}

func (a *Allocator) canaryValue() uint32 {
	if a.canary == 0 {
		return canaryConst
	}
	return a.canary
}

// findFirstFit walks the free list front-to-back and returns the first
// chunk whose size is at least size.
func (a *Allocator) findFirstFit(size uintptr) *chunk {
	for c := a.freeList; c != nil; c = c.next {
		if c.state == stateFree && c.size >= size {
			return c
		}
	}
	return nil
}

// findBestFit walks the whole free list and returns the smallest chunk
// still large enough to hold size, or nil. This is Resize's own search
// policy, also available to Allocate via WithBestFitAllocate.
func (a *Allocator) findBestFit(size uintptr) *chunk {
	var best *chunk
	for c := a.freeList; c != nil; c = c.next {
		if c.state != stateFree || c.size < size {
			continue
		}
		if best == nil || c.size < best.size {
			best = c
		}
	}
	return best
}

// splitChunk carves a trailing FREE remainder off win if the slack left
// after size bytes is at least chunkSize+1 payload bytes;
// otherwise the whole slack is absorbed into win and nil is returned.
// size is rounded up to wordAlign before any of this math, the same
// way modernc.org/memory rounds every request via roundup(size,
// mallocAllign) before using it in slot math — without it, a win
// carved at a non-word-aligned remainder address (as happens once the
// free list holds a chunk split from an earlier odd-sized request)
// would hand out a misaligned user pointer. It never touches the free
// list — callers decide how to link the remainder, which keeps chunk
// carving and free-list bookkeeping independent instead of punning one
// chunk's next/prev across both concerns mid-call the way the C
// original does.
func (a *Allocator) splitChunk(win *chunk, size uintptr) *chunk {
	size = uintptr(roundup(int(size), wordAlign))
	if win.size < size+uintptr(chunkSize)+1 {
		return nil
	}
	remainder := chunkAt(unsafe.Add(win.dataStart(), int(size)))
	remainder.size = win.size - size - uintptr(chunkSize)
	remainder.setCanaries(a.canaryValue())
	remainder.state = stateFree
	remainder.next = nil
	remainder.prev = nil
	win.size = size
	win.canaryEnd = a.canaryValue()
	a.trackRegion(remainder)
	return remainder
}

// Allocate services a request for size bytes, returning a pointer to
// the payload or nil. size == 0 returns (nil, nil) without touching
// any allocator state.
func (a *Allocator) Allocate(size uintptr) (unsafe.Pointer, error) {
	a.logger0().Emit(LevelInfo, "Allocate", size, nil)
	if size == 0 {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.ensureHeaps()

	var win *chunk
	if a.bestFit {
		win = a.findBestFit(size)
	} else {
		win = a.findFirstFit(size)
	}
	if win != nil {
		a.unlinkFree(win)
	} else {
		var err error
		win, err = a.newDataPage()
		if err != nil {
			a.logger0().Emit(LevelError, "Allocate", size, nil)
			return nil, err
		}
	}

	if remainder := a.splitChunk(win, size); remainder != nil {
		a.pushFree(remainder)
	}
	win.state = stateBusy

	a.allocs++
	a.liveBytes += int(win.size)
	a.classHist[sizeClass(win.size)]++

	ptr := win.userPtr()
	a.logger0().Emit(LevelOK, "Allocate", win.size, ptr)
	return ptr, nil
}

// Release returns a previously allocated chunk to the free list. A nil
// ptr is a no-op. Validation failures — an invalid/corrupted record, a
// double free, or tampered canaries — abort the call without any state
// mutation.
func (a *Allocator) Release(ptr unsafe.Pointer) {
	a.logger0().Emit(LevelInfo, "Release", 0, ptr)
	if ptr == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	c := chunkFromUser(ptr)
	switch {
	case c.size == 0:
		a.logger0().Emit(LevelError, "Release: invalid or corrupted pointer", c.size, unsafe.Pointer(c))
		return
	case c.state == stateFree:
		a.logger0().Emit(LevelError, "Release: double free detected", c.size, unsafe.Pointer(c))
		return
	case !c.canariesValid(a.canaryValue()):
		a.logger0().Emit(LevelError, "Release: corruption detected", c.size, unsafe.Pointer(c))
		return
	}

	a.pushFree(c)
	a.allocs--
	a.liveBytes -= int(c.size)
	a.logger0().Emit(LevelOK, "Release", c.size, ptr)
}

// ZeroAllocate allocates room for n elements of elemSize bytes each and
// zero-fills it. It rejects a multiplication overflow and, like
// Allocate, returns nil for a zero-byte request.
func (a *Allocator) ZeroAllocate(n, elemSize uintptr) (unsafe.Pointer, error) {
	a.logger0().Emit(LevelInfo, "ZeroAllocate", elemSize, nil)
	if elemSize != 0 && n > (^uintptr(0))/elemSize {
		a.logger0().Emit(LevelError, "ZeroAllocate: multiplication overflow", elemSize, nil)
		return nil, ErrOverflow
	}

	total := n * elemSize
	ptr, err := a.Allocate(total)
	if err != nil || ptr == nil {
		return ptr, err
	}

	a.mu.Lock()
	c := chunkFromUser(ptr)
	c.zeroPayload(total)
	a.mu.Unlock()

	a.logger0().Emit(LevelOK, "ZeroAllocate", total, ptr)
	return ptr, nil
}

// copyPayload copies the first n bytes of src's payload into dst's.
func copyPayload(dst, src *chunk, n uintptr) {
	if n == 0 {
		return
	}
	s := unsafe.Slice((*byte)(src.dataStart()), int(n))
	d := unsafe.Slice((*byte)(dst.dataStart()), int(n))
	copy(d, s)
}

// Resize changes the size of a previously allocated block. ptr == nil
// delegates to Allocate; newSize == 0 delegates to Release. Unlike the
// C original — which, on the allocate-then-copy fallback path, releases
// the old block even when the new allocation fails, leaving the
// caller's pointer dangling — this port keeps the old block valid on
// failure, a deliberate, documented behavior change. It also checks
// state == FREE in addition to canaries before resizing, closing a
// double-free gap the original leaves open on this path.
func (a *Allocator) Resize(ptr unsafe.Pointer, newSize uintptr) (unsafe.Pointer, error) {
	a.logger0().Emit(LevelInfo, "Resize", newSize, ptr)

	if ptr == nil {
		return a.Allocate(newSize)
	}
	if newSize == 0 {
		a.Release(ptr)
		return nil, nil
	}

	a.mu.Lock()
	c := chunkFromUser(ptr)
	if c.state == stateFree || !c.canariesValid(a.canaryValue()) {
		a.mu.Unlock()
		a.logger0().Emit(LevelError, "Resize: corrupted or double-freed chunk", c.size, ptr)
		return nil, ErrCorrupted
	}
	if c.size == newSize {
		a.mu.Unlock()
		a.logger0().Emit(LevelOK, "Resize", newSize, ptr)
		return ptr, nil
	}

	if best := a.findBestFit(newSize); best != nil {
		a.unlinkFree(best)
		copySize := c.size
		if newSize < copySize {
			copySize = newSize
		}
		copyPayload(best, c, copySize)
		best.state = stateBusy
		best.setCanaries(a.canaryValue())
		a.allocs++
		a.liveBytes += int(best.size)
		a.classHist[sizeClass(best.size)]++
		a.mu.Unlock()

		a.Release(ptr)
		a.logger0().Emit(LevelOK, "Resize", best.size, best.userPtr())
		return best.userPtr(), nil
	}
	a.mu.Unlock()

	newPtr, err := a.Allocate(newSize)
	if err != nil || newPtr == nil {
		a.logger0().Emit(LevelError, "Resize: allocation failed, old block retained", c.size, ptr)
		return nil, err
	}

	a.mu.Lock()
	newC := chunkFromUser(newPtr)
	copySize := c.size
	if newSize < copySize {
		copySize = newSize
	}
	copyPayload(newC, c, copySize)
	a.mu.Unlock()

	a.Release(ptr)
	a.logger0().Emit(LevelOK, "Resize", newC.size, newPtr)
	return newPtr, nil
}

// Stats is a point-in-time snapshot of allocator bookkeeping, useful
// for tests and printed by the secmallocctl CLI's "bench" command.
type Stats struct {
	LiveAllocs    int
	LiveBytes     int
	SizeHistogram [numSizeClasses]int
}

// Stats returns a snapshot of the allocator's counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		LiveAllocs:    a.allocs,
		LiveBytes:     a.liveBytes,
		SizeHistogram: a.classHist,
	}
}

// LeakEntry describes one still-BUSY chunk found by LeakReport.
type LeakEntry struct {
	Size uintptr
	Addr unsafe.Pointer
}

// LeakReport walks every chunk ever carved (regardless of which heap
// or page it lives on) and reports the ones still marked BUSY. It is
// the live, explicitly-invoked counterpart of the original C source's
// commented-out check_free_leak: rather than silently wiring that stub
// in to run at process exit, it is exposed here for a caller (or the
// CLI's "report" command) to invoke deliberately.
func (a *Allocator) LeakReport() []LeakEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var leaks []LeakEntry
	a.walkRegions(func(c *chunk) {
		if c.state == stateBusy {
			leaks = append(leaks, LeakEntry{Size: c.size, Addr: c.userPtr()})
			a.logger0().Emit(LevelError, "LeakReport: chunk not freed", c.size, c.userPtr())
		}
	})
	return leaks
}
