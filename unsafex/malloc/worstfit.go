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

// Package malloc implements a fixed-size arena allocator with worst-fit placement.
package malloc

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/kelindar/bitmap"

	"github.com/cloudwego/wfalloc/internal/membuf"
	"github.com/cloudwego/wfalloc/unsafex"
)

const headerSize32 = uint32(HeaderSize)

// WorstFitAllocator manages a single fixed-size arena.
//
// The arena is split into blocks, each starting with a header that links it to
// its neighbours in address order. Allocation picks the largest free block that
// fits (worst-fit) and splits it; deallocation merges the block with free neighbours.
//
// A WorstFitAllocator is NOT safe for concurrent use.
type WorstFitAllocator struct {
	// arena is the underlying memory slab holding both headers and payloads.
	arena []byte

	// arenaStart is a cached pointer to the start of the arena.
	// Used for header access and by Free() to recover offsets.
	arenaStart unsafe.Pointer

	// release gives the arena back to its source; nil for caller-owned arenas.
	release membuf.ReleaseFunc

	// inUse has bit off/Alignment set for every header at off that is in use.
	// FreeAt checks it before touching the list.
	inUse bitmap.Bitmap

	slack  SlackPolicy
	logger *slog.Logger

	allocs   uint64
	frees    uint64
	failures uint64
}

// NewWorstFitAllocator creates an allocator over a new arena of size bytes.
// The arena comes from the source set by WithSource (SourceHeap by default)
// and is given back by Release.
func NewWorstFitAllocator(size int, opts ...Option) (*WorstFitAllocator, error) {
	if err := checkArenaSize(size); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	arena, release, err := o.source.acquire(size)
	if err != nil {
		return nil, fmt.Errorf("malloc: acquire %d bytes from %s: %w", size, o.source, err)
	}
	return newWorstFit(arena[:size], release, o), nil
}

// NewWorstFitAllocatorWithArena creates an allocator managing a caller-owned arena.
// The arena MUST start on an Alignment boundary, and it is not freed by Release.
func NewWorstFitAllocatorWithArena(arena []byte, opts ...Option) (*WorstFitAllocator, error) {
	if err := checkArenaSize(len(arena)); err != nil {
		return nil, err
	}
	if !unsafex.IsAligned(arena, Alignment) {
		return nil, fmt.Errorf("%w: base %p is not a multiple of %d", ErrMisaligned, unsafe.SliceData(arena), Alignment)
	}
	return newWorstFit(arena, nil, newOptions(opts)), nil
}

func checkArenaSize(n int) error {
	if n < HeaderSize {
		return fmt.Errorf("%w: got %d bytes, need at least %d", ErrArenaTooSmall, n, HeaderSize)
	}
	if uint64(n) > MaxArenaSize {
		return fmt.Errorf("%w: got %d bytes, max %d", ErrArenaTooLarge, n, uint64(MaxArenaSize))
	}
	return nil
}

func newWorstFit(arena []byte, release membuf.ReleaseFunc, o options) *WorstFitAllocator {
	a := &WorstFitAllocator{
		arena:      arena,
		arenaStart: unsafe.Pointer(unsafe.SliceData(arena)),
		release:    release,
		inUse:      make(bitmap.Bitmap, (len(arena)/Alignment>>6)+1),
		slack:      o.slack,
		logger:     o.logger,
	}
	a.reset()
	return a
}

// reset installs a single free block spanning the whole arena.
func (a *WorstFitAllocator) reset() {
	*a.hdr(0) = header{
		tag:  tagFree,
		size: uint32(len(a.arena)) - headerSize32,
		prev: nilOffset,
		next: nilOffset,
	}
	clear(a.inUse)
}

// Size returns the arena size in bytes, including all headers.
func (a *WorstFitAllocator) Size() int {
	return len(a.arena)
}

// Alloc allocates size bytes and returns the payload.
// len is size; cap is the payload size of the block, which is size rounded up
// to Alignment, plus any absorbed slack.
//
// IMPORTANT: keep the returned slice as is for Free; reslicing the start of it
// makes Free reject it.
func (a *WorstFitAllocator) Alloc(size int) ([]byte, error) {
	addr, err := a.AllocAt(size)
	if err != nil {
		return nil, err
	}
	payload := int(a.hdr(uint32(addr - HeaderSize)).size)
	return a.arena[addr : addr+size : addr+payload], nil
}

// AllocAt allocates size bytes and returns the payload address,
// i.e. the offset of the payload from the start of the arena.
//
// It returns an error wrapping ErrNoSpace if no free block can hold size
// rounded up to Alignment. A failed AllocAt never changes the arena.
func (a *WorstFitAllocator) AllocAt(size int) (int, error) {
	if a.arena == nil {
		return -1, ErrReleased
	}
	if size <= 0 {
		return -1, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if size > len(a.arena)-HeaderSize {
		return -1, a.noSpace(size, size)
	}
	need := uint32(roundUp(size))

	off, ok := a.worstFit(need)
	if !ok {
		return -1, a.noSpace(size, int(need))
	}

	h := a.hdr(off)
	switch spare := h.size - need; {
	case spare == 0:
		// exact fit, reuse the header in place
	case spare >= headerSize32:
		a.split(off, h, need)
	case a.slack == SlackReject:
		a.failures++
		a.logger.Debug("malloc: slack rejected", "offset", off, "request", size, "slack", spare)
		return -1, fmt.Errorf("%w: %d bytes left in block at %d cannot hold a header", ErrNoSpace, spare, off)
	default:
		a.logger.Debug("malloc: slack absorbed", "offset", off, "request", size, "slack", spare)
	}

	h.tag = tagUsed
	a.inUse.Set(off / Alignment)
	a.allocs++
	return int(off) + HeaderSize, nil
}

func (a *WorstFitAllocator) noSpace(size, need int) error {
	a.failures++
	largest := a.LargestFree()
	a.logger.Debug("malloc: out of memory", "request", size, "rounded", need, "largest_free", largest)
	return fmt.Errorf("%w: request %d (rounded %d), largest free block %d", ErrNoSpace, size, need, largest)
}

// worstFit returns the free block with the largest payload >= need.
// Ties go to the lowest offset. A single-block arena goes through the same
// checks, so a used or undersized block is never returned.
func (a *WorstFitAllocator) worstFit(need uint32) (uint32, bool) {
	best, bestSize, found := nilOffset, uint32(0), false
	for off := uint32(0); off != nilOffset; {
		h := a.hdr(off)
		if h.free() && h.size >= need && (!found || h.size > bestSize) {
			best, bestSize, found = off, h.size, true
		}
		off = h.next
	}
	return best, found
}

// split shrinks the block at off to need bytes and puts a new free block
// holding the rest right after it. The caller ensures the rest fits a header.
func (a *WorstFitAllocator) split(off uint32, h *header, need uint32) {
	noff := off + headerSize32 + need
	*a.hdr(noff) = header{
		tag:  tagFree,
		size: h.size - need - headerSize32,
		prev: off,
		next: h.next,
	}
	if h.next != nilOffset {
		a.hdr(h.next).prev = noff
	}
	h.next = noff
	h.size = need
	a.logger.Debug("malloc: split", "offset", off, "size", need, "rest_offset", noff)
}

// Free returns a block obtained from Alloc to the allocator.
// The block must be the original slice returned by Alloc, or a reslice of it
// that keeps the same start.
func (a *WorstFitAllocator) Free(block []byte) error {
	if a.arena == nil {
		return ErrReleased
	}
	if cap(block) == 0 {
		return fmt.Errorf("%w: empty block", ErrBadAddress)
	}
	addr, ok := unsafex.SliceOffset(a.arena, block)
	if !ok {
		return fmt.Errorf("%w: block not in arena", ErrBadAddress)
	}
	return a.FreeAt(addr)
}

// FreeAt returns the block at the given payload address to the allocator.
//
// addr must have been returned by AllocAt and not freed since. Anything else,
// including a second free of the same address, returns ErrBadAddress and leaves
// the arena untouched.
func (a *WorstFitAllocator) FreeAt(addr int) error {
	if a.arena == nil {
		return ErrReleased
	}
	off, err := a.usedHeader(addr)
	if err != nil {
		return err
	}
	h := a.hdr(off)
	if h.tag != tagUsed {
		return fmt.Errorf("%w: in-use block at %d has tag %#x", ErrCorrupt, off, h.tag)
	}
	a.inUse.Remove(off / Alignment)
	h.tag = tagFree
	a.frees++
	a.coalesce(off, h)
	return nil
}

// usedHeader maps a payload address to the offset of its in-use header.
func (a *WorstFitAllocator) usedHeader(addr int) (uint32, error) {
	off := addr - HeaderSize
	if off < 0 || off > len(a.arena)-HeaderSize || off%Alignment != 0 {
		return 0, fmt.Errorf("%w: %d out of range or misaligned", ErrBadAddress, addr)
	}
	if !a.inUse.Contains(uint32(off / Alignment)) {
		return 0, fmt.Errorf("%w: %d", ErrBadAddress, addr)
	}
	return uint32(off), nil
}

// coalesce merges the just-freed block at off with its free neighbours.
// The next block is merged first so that h stays valid until the merge with prev,
// after which h is never touched again.
func (a *WorstFitAllocator) coalesce(off uint32, h *header) {
	if h.next != nilOffset {
		if n := a.hdr(h.next); n.free() {
			noff := h.next
			h.size += headerSize32 + n.size
			h.next = n.next
			if n.next != nilOffset {
				a.hdr(n.next).prev = off
			}
			*n = header{}
			a.logger.Debug("malloc: coalesce next", "offset", off, "absorbed", noff, "size", h.size)
		}
	}
	if h.prev != nilOffset {
		if p := a.hdr(h.prev); p.free() {
			poff := h.prev
			p.size += headerSize32 + h.size
			p.next = h.next
			if h.next != nilOffset {
				a.hdr(h.next).prev = poff
			}
			*h = header{}
			a.logger.Debug("malloc: coalesce prev", "offset", poff, "absorbed", off, "size", p.size)
		}
	}
}

// Payload returns the whole payload of the in-use block at addr.
func (a *WorstFitAllocator) Payload(addr int) ([]byte, error) {
	if a.arena == nil {
		return nil, ErrReleased
	}
	off, err := a.usedHeader(addr)
	if err != nil {
		return nil, err
	}
	end := addr + int(a.hdr(off).size)
	return a.arena[addr:end:end], nil
}

// Reset frees every block at once and returns the arena to a single free block.
// Counters reported by Stats are kept.
func (a *WorstFitAllocator) Reset() error {
	if a.arena == nil {
		return ErrReleased
	}
	a.reset()
	a.logger.Debug("malloc: reset", "size", len(a.arena))
	return nil
}

// Release gives the arena back to its source and makes the allocator unusable.
// Every address handed out becomes invalid. Calling Release again is a no-op.
func (a *WorstFitAllocator) Release() error {
	if a.arena == nil {
		return nil
	}
	release := a.release
	size := len(a.arena)
	a.arena, a.arenaStart, a.release, a.inUse = nil, nil, nil, nil
	a.logger.Debug("malloc: released", "size", size)
	if release == nil {
		return nil
	}
	return release()
}
