// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build windows

package secmalloc

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// winRegions remembers the file-mapping handle backing each page so it
// can be unmapped and closed in osReleasePage; UnmapViewOfFile alone
// isn't enough to release the kernel object on Windows.
var winRegions = map[uintptr]windows.Handle{}

// osAcquirePage reserves size bytes of anonymous, process-private,
// read-write memory the Windows way: a page-file-backed file mapping
// plus a view of it, via the CreateFileMapping/MapViewOfFile pair.
func osAcquirePage(size int) (unsafe.Pointer, error) {
	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, 0, uint32(size), nil)
	if err != nil {
		return nil, err
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	winRegions[addr] = h
	return unsafe.Pointer(addr), nil
}

// osReleasePage unmaps a page previously returned by osAcquirePage.
func osReleasePage(p unsafe.Pointer, _ int) error {
	addr := uintptr(p)
	h, ok := winRegions[addr]
	if !ok {
		return nil
	}
	delete(winRegions, addr)
	if err := windows.UnmapViewOfFile(addr); err != nil {
		return err
	}
	return windows.CloseHandle(h)
}
