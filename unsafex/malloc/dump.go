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

import (
	"encoding/binary"
	"fmt"
	"io"
	"iter"

	"github.com/bytedance/gopkg/util/xxhash3"
)

// Block describes one block of the arena as seen by Dump.
type Block struct {
	Offset int  // offset of the block header
	Size   int  // payload size, not counting the header
	Free   bool // false if the block is in use
}

// Addr returns the payload address of the block.
func (b Block) Addr() int {
	return b.Offset + HeaderSize
}

func (b Block) String() string {
	if b.Free {
		return fmt.Sprintf("free@%d(%d)", b.Offset, b.Size)
	}
	return fmt.Sprintf("used@%d(%d)", b.Offset, b.Size)
}

// Blocks iterates over all blocks in address order with their index.
// It does not modify the arena, and yields nothing after Release.
func (a *WorstFitAllocator) Blocks() iter.Seq2[int, Block] {
	return func(yield func(int, Block) bool) {
		if a.arena == nil {
			return
		}
		i := 0
		for off := uint32(0); off != nilOffset; i++ {
			h := a.hdr(off)
			if !yield(i, Block{Offset: int(off), Size: int(h.size), Free: h.free()}) {
				return
			}
			off = h.next
		}
	}
}

// Dump returns a snapshot of all blocks in address order.
func (a *WorstFitAllocator) Dump() []Block {
	var blocks []Block
	for _, b := range a.Blocks() {
		blocks = append(blocks, b)
	}
	return blocks
}

// Print writes one line per block to w. Used for debugging.
func (a *WorstFitAllocator) Print(w io.Writer) error {
	for i, b := range a.Blocks() {
		state := "is in use"
		if b.Free {
			state = "is free"
		}
		if _, err := fmt.Fprintf(w, "Block %d: %s, size: %d bytes\n", i, state, b.Size); err != nil {
			return err
		}
	}
	return nil
}

// Fingerprint returns a hash of the block layout (offsets, sizes and states).
// Payload contents are not included. Two allocators with the same layout
// have the same fingerprint.
func (a *WorstFitAllocator) Fingerprint() uint64 {
	buf := make([]byte, 0, 64)
	for _, b := range a.Blocks() {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(b.Offset))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(b.Size))
		if b.Free {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return xxhash3.Hash(buf)
}

// Check walks the block list and verifies that:
//   - blocks are linked in increasing address order with consistent prev links,
//   - every block ends exactly where the next one starts, and the last one at the arena end,
//   - no two adjacent blocks are free,
//   - in-use tracking matches the block states.
//
// It returns an error wrapping ErrCorrupt describing the first violation.
func (a *WorstFitAllocator) Check() error {
	if a.arena == nil {
		return ErrReleased
	}
	var (
		n        = uint64(len(a.arena))
		prev     = nilOffset
		prevFree bool
		total    uint64
		used     int
		count    int
	)
	for off := uint32(0); off != nilOffset; {
		if count++; count > len(a.arena)/HeaderSize {
			return fmt.Errorf("%w: cycle after %d blocks", ErrCorrupt, count-1)
		}
		if off%Alignment != 0 || uint64(off)+uint64(HeaderSize) > n {
			return fmt.Errorf("%w: header offset %d out of range or misaligned", ErrCorrupt, off)
		}
		h := a.hdr(off)
		if h.tag != tagFree && h.tag != tagUsed {
			return fmt.Errorf("%w: block at %d has tag %#x", ErrCorrupt, off, h.tag)
		}
		if h.prev != prev {
			return fmt.Errorf("%w: block at %d links back to %d, want %d", ErrCorrupt, off, h.prev, prev)
		}
		end := uint64(off) + uint64(HeaderSize) + uint64(h.size)
		switch {
		case end > n:
			return fmt.Errorf("%w: block at %d runs past the arena end", ErrCorrupt, off)
		case h.next == nilOffset && end != n:
			return fmt.Errorf("%w: last block at %d ends at %d, arena ends at %d", ErrCorrupt, off, end, n)
		case h.next != nilOffset && uint64(h.next) != end:
			return fmt.Errorf("%w: block at %d ends at %d but next block is at %d", ErrCorrupt, off, end, h.next)
		}
		free := h.free()
		if free && prevFree {
			return fmt.Errorf("%w: adjacent free blocks at %d and %d", ErrCorrupt, prev, off)
		}
		if free == a.inUse.Contains(off/Alignment) {
			return fmt.Errorf("%w: block at %d free=%t disagrees with in-use tracking", ErrCorrupt, off, free)
		}
		if !free {
			used++
		}
		total += uint64(HeaderSize) + uint64(h.size)
		prev, prevFree, off = off, free, h.next
	}
	if total != n {
		return fmt.Errorf("%w: blocks cover %d bytes, arena has %d", ErrCorrupt, total, n)
	}
	if tracked := a.inUse.Count(); tracked != used {
		return fmt.Errorf("%w: %d blocks tracked in use, %d found", ErrCorrupt, tracked, used)
	}
	return nil
}
