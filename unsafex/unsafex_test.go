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

package unsafex

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestSliceOffset(t *testing.T) {
	base := make([]byte, 64)

	off, ok := SliceOffset(base, base[16:20])
	assert.True(t, ok)
	assert.Equal(t, 16, off)

	// zero length is fine as long as there is capacity
	off, ok = SliceOffset(base, base[63:63])
	assert.True(t, ok)
	assert.Equal(t, 63, off)

	_, ok = SliceOffset(base, base[64:])
	assert.False(t, ok)
	_, ok = SliceOffset(base[:32], base[40:])
	assert.False(t, ok)
	_, ok = SliceOffset(base[8:], base[:4])
	assert.False(t, ok)
	_, ok = SliceOffset(base, make([]byte, 4))
	assert.False(t, ok)
	_, ok = SliceOffset(nil, base)
	assert.False(t, ok)
}

func TestIsAligned(t *testing.T) {
	b := make([]uint64, 4)
	buf := unsafeBytes(b)
	assert.True(t, IsAligned(buf, 8))
	assert.True(t, IsAligned(buf[4:], 4))
	assert.False(t, IsAligned(buf[2:], 4))
	assert.True(t, IsAligned(buf[2:], 2))
}

func BenchmarkSliceOffset(b *testing.B) {
	base := make([]byte, 4096)
	x := base[1024:2048]
	for i := 0; i < b.N; i++ {
		_, _ = SliceOffset(base, x)
	}
}

func unsafeBytes(b []uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(b))), len(b)*8)
}
