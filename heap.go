// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package secmalloc

import "os"

// exitFunc terminates the process on an unrecoverable initialization
// failure. It is a variable, not a direct os.Exit call, so tests can
// substitute a non-exiting stand-in and assert the fatal path was
// taken.
var exitFunc = os.Exit

// trackRegion appends c to the allocator's unified record of every
// chunk ever carved, independent of free-list membership. It backs
// LeakReport and is what makes every live chunk reachable from the
// region roots checkable without relying on free-list splice order to
// also preserve region reachability (see chunk.go's doc comment on
// regionNext).
func (a *Allocator) trackRegion(c *chunk) {
	c.regionNext = a.regionRoot
	a.regionRoot = c
}

// ensureMetadataHeap lazily carves the metadata heap's single bootstrap
// page the first time any allocator call observes it unset. The new
// chunk is also pushed onto the free list: it is this chunk, not any
// later data page, that the very first Allocate call actually carves
// from.
func (a *Allocator) ensureMetadataHeap() {
	if a.metadataRoot != nil {
		return
	}
	page, err := acquirePage()
	if err != nil {
		a.logger0().Emit(LevelError, "initialize_metadata", 0, nil)
		exitFunc(1)
		return
	}
	c := chunkAt(page)
	c.size = uintptr(PageSize - chunkSize)
	c.state = stateFree
	c.setCanaries(a.canaryValue())
	c.next = nil
	c.prev = nil
	a.metadataRoot = c
	a.trackRegion(c)
	a.pushFree(c)
	a.logger0().Emit(LevelOK, "initialize_metadata", c.size, page)
}

// ensureDataHeap lazily carves the data heap's bootstrap page. This
// chunk is installed FREE but, unlike the metadata root, is not linked
// into the free list — it is reachable only through
// regionRoot/LeakReport. This mirrors a quirk of the original C source
// (the bootstrap data page is carved but never offered to
// find_free_chunk), preserved deliberately rather than corrected; see
// DESIGN.md.
func (a *Allocator) ensureDataHeap() {
	if a.dataRoot != nil {
		return
	}
	page, err := acquirePage()
	if err != nil {
		a.logger0().Emit(LevelError, "initialize_data", 0, nil)
		exitFunc(1)
		return
	}
	c := chunkAt(page)
	c.size = uintptr(PageSize - chunkSize)
	c.state = stateFree
	c.setCanaries(a.canaryValue())
	c.next = nil
	c.prev = nil
	a.dataRoot = c
	a.trackRegion(c)
	a.logger0().Emit(LevelOK, "initialize_data", c.size, page)
}

// ensureHeaps performs both lazy initializations; Allocate (and so
// ZeroAllocate, and Resize on a nil pointer) calls it before touching
// the free list.
func (a *Allocator) ensureHeaps() {
	a.ensureMetadataHeap()
	a.ensureDataHeap()
}

// pushFree splices c onto the head of the free list.
func (a *Allocator) pushFree(c *chunk) {
	c.state = stateFree
	c.prev = nil
	c.next = a.freeList
	if a.freeList != nil {
		a.freeList.prev = c
	}
	a.freeList = c
}

// unlinkFree removes c from the free list, wherever in the chain it
// sits, patching its neighbors' links.
func (a *Allocator) unlinkFree(c *chunk) {
	if c.prev != nil {
		c.prev.next = c.next
	} else if a.freeList == c {
		a.freeList = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	}
	c.next = nil
	c.prev = nil
}

// newDataPage acquires a fresh page on a free-list miss and returns it
// as one whole FREE chunk.
func (a *Allocator) newDataPage() (*chunk, error) {
	page, err := acquirePage()
	if err != nil {
		a.logger0().Emit(LevelError, "allocate_page", 0, nil)
		return nil, err
	}
	c := chunkAt(page)
	c.size = uintptr(PageSize - chunkSize)
	c.state = stateFree
	c.setCanaries(a.canaryValue())
	c.next = nil
	c.prev = nil
	a.trackRegion(c)
	return c, nil
}

// walkRegions calls visit for every chunk ever carved, live or freed.
func (a *Allocator) walkRegions(visit func(*chunk)) {
	for c := a.regionRoot; c != nil; c = c.regionNext {
		visit(c)
	}
}
