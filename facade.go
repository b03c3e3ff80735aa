// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package secmalloc

import "unsafe"

// Malloc is a slice-returning wrapper around Allocate, for callers that
// would rather not hold unsafe.Pointer directly — the same split
// modernc.org/memory draws between its safe []byte API and its
// Unsafe*(unsafe.Pointer) one. Malloc panics on a negative size, same
// precondition modernc.org/memory's own Malloc enforces.
func (a *Allocator) Malloc(size int) ([]byte, error) {
	if size < 0 {
		panic("secmalloc: invalid malloc size")
	}
	ptr, err := a.Allocate(uintptr(size))
	if err != nil || ptr == nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(ptr), size), nil
}

// Free releases memory obtained from Malloc, Calloc, or Realloc. A
// zero-length slice is a no-op, matching Release(nil).
func (a *Allocator) Free(b []byte) {
	if len(b) == 0 {
		return
	}
	a.Release(unsafe.Pointer(&b[0]))
}

// Calloc is like Malloc except the memory is zeroed and the size is
// expressed as n elements of size bytes each, rejecting a
// multiplication overflow.
func (a *Allocator) Calloc(n, size int) ([]byte, error) {
	if n < 0 || size < 0 {
		panic("secmalloc: invalid calloc size")
	}
	ptr, err := a.ZeroAllocate(uintptr(n), uintptr(size))
	if err != nil || ptr == nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(ptr), n*size), nil
}

// Realloc changes the size of b's backing block, preserving the
// overlap between the old and new sizes. A nil/empty b behaves like
// Malloc(size); size == 0 behaves like Free(b).
func (a *Allocator) Realloc(b []byte, size int) ([]byte, error) {
	if size < 0 {
		panic("secmalloc: invalid realloc size")
	}
	var ptr unsafe.Pointer
	if len(b) != 0 {
		ptr = unsafe.Pointer(&b[0])
	}
	newPtr, err := a.Resize(ptr, uintptr(size))
	if err != nil || newPtr == nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(newPtr), size), nil
}
