// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package secmalloc

import "unsafe"

// PageSize is the fixed page granularity the allocator reserves from
// the OS one at a time. Component A (page provider) never asks for
// more or less than this.
const PageSize = 4096

// acquirePageFn does the actual OS call; it is a variable, not a direct
// call to osAcquirePage, so tests can substitute a failing stand-in and
// exercise the allocator's OS-exhaustion paths (ensureMetadataHeap's
// fatal exit, Resize's "old block kept alive" behavior) without
// actually starving the test process of address space.
var acquirePageFn = func() (unsafe.Pointer, error) {
	return osAcquirePage(PageSize)
}

// acquirePage reserves one fresh, zero-initialized, read+write,
// process-private anonymous page from the OS. It is implemented per-OS
// in page_unix.go / page_windows.go. A returned error means OS
// exhaustion; the page is never returned to the OS afterward.
func acquirePage() (unsafe.Pointer, error) {
	return acquirePageFn()
}
