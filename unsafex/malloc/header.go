/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package malloc

import "unsafe"

const (
	// HeaderSize is the size of the block header placed in front of every payload.
	HeaderSize = int(unsafe.Sizeof(header{}))

	// Alignment is the rounding unit for allocation requests.
	// Header offsets and payload addresses are always multiples of it.
	Alignment = 4

	// MaxArenaSize is the largest arena that block offsets can address.
	MaxArenaSize = 1<<32 - 1

	// nilOffset marks an absent neighbour.
	nilOffset = ^uint32(0)

	// tags in word 0 of a header; anything else is not a live header.
	tagFree uint32 = 0xF4EEB10C
	tagUsed uint32 = 0x05EDB10C
)

// header is the in-arena block header:
//
//	[4 bytes tag][4 bytes payload size][4 bytes prev offset][4 bytes next offset]
//
// prev and next are offsets from the arena start, nilOffset if absent.
type header struct {
	tag  uint32
	size uint32
	prev uint32
	next uint32
}

func (h *header) free() bool { return h.tag == tagFree }

// hdr returns the header stored at off.
// off must be Alignment-aligned and off+HeaderSize <= len(arena).
func (a *WorstFitAllocator) hdr(off uint32) *header {
	return (*header)(unsafe.Add(a.arenaStart, off))
}

// roundUp rounds n up to the next multiple of Alignment.
func roundUp(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}
