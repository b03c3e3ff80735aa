// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package secmalloc

import "unsafe"

// CorruptCanary deliberately tampers with the canary_start word of the
// chunk owning ptr, simulating an out-of-bounds write for tests and the
// secmallocctl CLI's "corruption" scenario. It is not part of the
// allocator's normal operating contract — no real caller should ever
// invoke it outside of exercising the detector it is meant to trip.
func CorruptCanary(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	chunkFromUser(ptr).canaryStart = 0
}
