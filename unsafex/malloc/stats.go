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

// Stats contains statistical information about a WorstFitAllocator.
type Stats struct {
	Size        int    // Arena size in bytes
	HeaderSize  int    // Bytes taken by one block header
	Blocks      int    // Number of blocks
	FreeBlocks  int    // Number of free blocks
	UsedBlocks  int    // Number of blocks in use
	FreeBytes   int    // Sum of free payloads
	UsedBytes   int    // Sum of in-use payloads, including rounding and absorbed slack
	LargestFree int    // Largest free payload
	Allocs      uint64 // Successful allocations
	Frees       uint64 // Successful deallocations
	Failures    uint64 // Allocations that failed with ErrNoSpace
}

// Stats returns a snapshot of the arena statistics.
func (a *WorstFitAllocator) Stats() Stats {
	s := Stats{
		Size:       len(a.arena),
		HeaderSize: HeaderSize,
		Allocs:     a.allocs,
		Frees:      a.frees,
		Failures:   a.failures,
	}
	for _, b := range a.Blocks() {
		s.Blocks++
		if !b.Free {
			s.UsedBlocks++
			s.UsedBytes += b.Size
			continue
		}
		s.FreeBlocks++
		s.FreeBytes += b.Size
		if b.Size > s.LargestFree {
			s.LargestFree = b.Size
		}
	}
	return s
}

// Available returns the total free payload bytes.
// Fragmentation may prevent allocating all of them at once, see LargestFree.
func (a *WorstFitAllocator) Available() int {
	total := 0
	for _, b := range a.Blocks() {
		if b.Free {
			total += b.Size
		}
	}
	return total
}

// LargestFree returns the largest free payload in bytes.
func (a *WorstFitAllocator) LargestFree() int {
	largest := 0
	for _, b := range a.Blocks() {
		if b.Free && b.Size > largest {
			largest = b.Size
		}
	}
	return largest
}
