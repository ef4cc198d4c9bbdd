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

// Package unsafex has pointer helpers for slices carved out of a larger buffer.
package unsafex

import "unsafe"

// SliceOffset returns the byte offset of b's first element inside base.
// ok is false if b does not start within base[:len(base)].
// b only needs a non-zero capacity, its length may be zero.
func SliceOffset(base, b []byte) (off int, ok bool) {
	if len(base) == 0 || cap(b) == 0 {
		return 0, false
	}
	start := uintptr(unsafe.Pointer(unsafe.SliceData(base)))
	p := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if p < start || p-start >= uintptr(len(base)) {
		return 0, false
	}
	return int(p - start), true
}

// IsAligned reports whether the first element of b sits at a multiple of n.
// n must be a power of two.
func IsAligned(b []byte, n uintptr) bool {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))&(n-1) == 0
}
