// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build cgo

// Command secmallocshim is a thin interposition shim: four C-ABI
// exports that forward 1:1 to a single process-local Allocator.
// Building it with `go build -buildmode=c-shared` produces a shared
// object exposing
// secmalloc_malloc/secmalloc_free/secmalloc_calloc/secmalloc_realloc;
// renaming those symbols to malloc/free/calloc/realloc and preloading
// the result into a dynamically linked program is dynamic-linker
// wiring this package deliberately leaves external to the engine.
package main

/*
#include <stddef.h>
*/
import "C"

import (
	"os"
	"unsafe"

	"github.com/Esgr0bar/secmalloc"
	"github.com/Esgr0bar/secmalloc/internal/auditlog"
)

var shared = newShared()

func newShared() *secmalloc.Allocator {
	opts := []secmalloc.Option{}
	if sink, err := auditlog.OpenFromEnv(); err != nil {
		os.Stderr.WriteString("secmallocshim: failed to open MSM_OUTPUT sink\n")
		os.Exit(1)
	} else if sink != nil {
		opts = append(opts, secmalloc.WithLogger(sink))
	}
	return secmalloc.New(opts...)
}

//export secmalloc_malloc
func secmalloc_malloc(size C.size_t) unsafe.Pointer {
	ptr, _ := shared.Allocate(uintptr(size))
	return ptr
}

//export secmalloc_free
func secmalloc_free(ptr unsafe.Pointer) {
	shared.Release(ptr)
}

//export secmalloc_calloc
func secmalloc_calloc(nmemb, size C.size_t) unsafe.Pointer {
	ptr, _ := shared.ZeroAllocate(uintptr(nmemb), uintptr(size))
	return ptr
}

//export secmalloc_realloc
func secmalloc_realloc(ptr unsafe.Pointer, size C.size_t) unsafe.Pointer {
	newPtr, _ := shared.Resize(ptr, uintptr(size))
	return newPtr
}

func main() {}
