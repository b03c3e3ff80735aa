// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package secmalloc

import "unsafe"

// state is the lifecycle tag of a chunk record. A chunk is born FREE,
// becomes busy on Allocate, and goes back to FREE on Release. It is
// never destroyed.
type state uint32

const (
	stateFree state = iota
	stateBusy
)

// canaryConst is the build-time sentinel word written into every live
// chunk's canary_start/canary_end fields. A per-process random value is
// a stronger choice (see config.Canary.Random); this literal is the
// default, matching the C original's compile-time constant.
const canaryConst uint32 = 0xDEADBEEF

// chunk is the bookkeeping record that precedes each payload, on the
// metadata heap's bootstrap page or on a data page alike. size is the
// payload capacity in bytes, excluding sizeof(chunk) itself.
//
// next/prev thread c into exactly one doubly linked list: the free
// list. regionNext threads c into a second, independent singly linked
// list: every chunk ever carved from a page, whether FREE or BUSY,
// rooted at the Allocator's regionRoot. Keeping a dedicated field for that
// second membership — rather than punning next/prev across both lists
// the way the original C source does — is the one deviation from a
// literal port: it's what makes every live chunk reachable from the
// region roots, and LeakReport actually walkable, without depending on
// free-list splice order.
type chunk struct {
	size        uintptr
	canaryStart uint32
	canaryEnd   uint32
	next        *chunk
	prev        *chunk
	state       state
	regionNext  *chunk
}

// chunkSize is sizeof(chunk), rounded up to the allocator's word
// alignment so payloads the allocator hands out start on a naturally
// aligned boundary.
var chunkSize = roundup(int(unsafe.Sizeof(chunk{})), wordAlign)

// chunkAt reinterprets a raw page-relative address as a *chunk. It is
// the Go analogue of the C cast `(struct chunk *)addr`.
func chunkAt(p unsafe.Pointer) *chunk {
	return (*chunk)(p)
}

// userPtr returns the address handed to callers for a chunk: the first
// byte past the record itself.
func (c *chunk) userPtr() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(c), chunkSize)
}

// chunkFromUser recovers the owning record from a pointer previously
// returned to a caller: record = user_ptr - sizeof(record).
func chunkFromUser(ptr unsafe.Pointer) *chunk {
	return chunkAt(unsafe.Add(ptr, -chunkSize))
}

// dataStart returns the address immediately following c's record,
// i.e. the first byte of its payload — identical to userPtr, named
// separately where the call site is about chunk layout rather than
// the caller-facing contract.
func (c *chunk) dataStart() unsafe.Pointer { return c.userPtr() }

// canariesValid reports whether both sentinels still hold expectedCanary.
func (c *chunk) canariesValid(expectedCanary uint32) bool {
	return c.canaryStart == expectedCanary && c.canaryEnd == expectedCanary
}

// setCanaries stamps both sentinel words.
func (c *chunk) setCanaries(v uint32) {
	c.canaryStart = v
	c.canaryEnd = v
}

// zeroPayload zeroes the first n bytes of c's payload.
func (c *chunk) zeroPayload(n uintptr) {
	if n == 0 {
		return
	}
	b := unsafe.Slice((*byte)(c.dataStart()), int(n))
	for i := range b {
		b[i] = 0
	}
}
