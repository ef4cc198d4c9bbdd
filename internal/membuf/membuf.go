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

// Package membuf acquires the fixed backing buffers used by arenas.
//
// Every acquire function returns the buffer together with a release func.
// The release func may be called more than once; only the first call has an effect.
package membuf

import (
	"fmt"
	"sync"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/lang/mcache"
)

// ReleaseFunc gives a buffer back to where it came from.
type ReleaseFunc func() error

func nopRelease() error { return nil }

// Heap returns a buffer of n bytes from the Go heap.
// The content is NOT zeroed. Releasing it only drops the reference.
func Heap(n int) ([]byte, ReleaseFunc, error) {
	if n <= 0 {
		return nil, nopRelease, fmt.Errorf("membuf: invalid size %d", n)
	}
	return dirtmake.Bytes(n, n), nopRelease, nil
}

// Pool returns a buffer of n bytes from the mcache size-class pools.
// The buffer is put back into the pool on release, so it must not be used afterwards.
func Pool(n int) ([]byte, ReleaseFunc, error) {
	if n <= 0 {
		return nil, nopRelease, fmt.Errorf("membuf: invalid size %d", n)
	}
	buf := mcache.Malloc(n)
	return buf, once(func() error {
		mcache.Free(buf)
		return nil
	}), nil
}

func once(f func() error) ReleaseFunc {
	var (
		o   sync.Once
		err error
	)
	return func() error {
		o.Do(func() { err = f() })
		return err
	}
}
