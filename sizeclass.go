// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package secmalloc

import "modernc.org/mathutil"

// wordAlign is the natural word alignment of the chunk record. Per the
// spec's non-goals, alignment stronger than this is not provided.
const wordAlign = 8

// numSizeClasses bounds the histogram the allocator keeps of request
// sizes by log2 bucket; it drives only Stats()/audit bookkeeping, never
// allocation policy, since the free list itself stays a flat,
// unbucketed first-fit/best-fit list.
const numSizeClasses = 64

// roundup rounds n up to the next multiple of m. m must be a power of 2.
func roundup(n, m int) int { return (n + m - 1) &^ (m - 1) }

// sizeClass buckets a chunk size for the stats histogram by the bit
// length of the size rounded up to wordAlign: class(0)=0,
// class(1..8)=4, class(9..24)=5, class(25..56)=6, and so on.
func sizeClass(size uintptr) int {
	if size == 0 {
		return 0
	}
	class := mathutil.BitLen(roundup(int(size), wordAlign))
	if class >= numSizeClasses {
		class = numSizeClasses - 1
	}
	return class
}
