// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || linux || openbsd || netbsd || solaris

package secmalloc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// osAcquirePage reserves size bytes of anonymous, process-private,
// read-write memory via mmap(2), through golang.org/x/sys/unix rather
// than the raw syscall package.
func osAcquirePage(size int) (unsafe.Pointer, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(&b[0]), nil
}

// osReleasePage unmaps a page previously returned by osAcquirePage.
// Nothing calls it: the allocator never returns pages to the OS.
func osReleasePage(p unsafe.Pointer, size int) error {
	b := unsafe.Slice((*byte)(p), size)
	return unix.Munmap(b)
}
