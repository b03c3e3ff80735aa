// Copyright 2024 The secmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cli

import (
	"crypto/rand"
	"encoding/binary"
)

// randomCanarySeed returns seed unchanged if the operator pinned one in
// config (useful for reproducing a scenario), otherwise draws a fresh
// per-process word, made opt-in via config.Canary.Random rather than
// the allocator's own compile-time-constant default.
func randomCanarySeed(seed uint32) uint32 {
	if seed != 0 {
		return seed
	}
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0xA5A5A5A5
	}
	return binary.LittleEndian.Uint32(buf[:])
}
