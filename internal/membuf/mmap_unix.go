//go:build unix

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

package membuf

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapSupported reports whether Mmap returns a real anonymous mapping.
const MmapSupported = true

// Mmap returns n bytes of private anonymous memory outside the Go heap.
// The pages are zeroed by the kernel and unmapped on release.
func Mmap(n int) ([]byte, ReleaseFunc, error) {
	if n <= 0 {
		return nil, nopRelease, fmt.Errorf("membuf: invalid size %d", n)
	}
	data, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nopRelease, fmt.Errorf("membuf: mmap %d bytes: %w", n, err)
	}
	return data, once(func() error {
		return unix.Munmap(data)
	}), nil
}
