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

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/wfalloc/unsafex/malloc"
)

func writeTrace(t *testing.T, s string) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "t.trace")
	require.NoError(t, os.WriteFile(name, []byte(s), 0o644))
	return name
}

func TestRun(t *testing.T) {
	*Size = 96
	t.Cleanup(func() { *Size = 4096 })

	first := writeTrace(t, "alloc a 16\nalloc b 16\ndump\n")
	second := writeTrace(t, "free a\nfree b\ndump\n")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &out, []string{first, second}))
	assert.Contains(t, out.String(), "Block 0: is in use, size: 16 bytes\nBlock 1: is in use, size: 16 bytes\nBlock 2: is free, size: 16 bytes\n")
	assert.Contains(t, out.String(), "# line 3\nBlock 0: is free, size: 80 bytes\n")
	assert.Contains(t, out.String(), "3 commands, 2 allocs, 0 frees")
	assert.Contains(t, out.String(), "3 commands, 0 allocs, 2 frees")
}

func TestRunStrict(t *testing.T) {
	*Size, *Strict, Slack = 64, true, malloc.SlackReject
	t.Cleanup(func() { *Size, *Strict, Slack = 4096, false, malloc.SlackAbsorb })

	var out bytes.Buffer
	err := run(context.Background(), &out, []string{writeTrace(t, "alloc a 40\n")})
	assert.ErrorIs(t, err, malloc.ErrNoSpace)
	assert.Contains(t, out.String(), "1 out of memory")
}

func TestRunErrors(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, []string{filepath.Join(t.TempDir(), "missing")})
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = run(context.Background(), &out, []string{writeTrace(t, "alloc a\n")})
	assert.ErrorContains(t, err, "line 1")

	*Size = 8
	t.Cleanup(func() { *Size = 4096 })
	err = run(context.Background(), &out, nil)
	assert.ErrorIs(t, err, malloc.ErrArenaTooSmall)
}

func TestJoinErr(t *testing.T) {
	errUnmap := errors.New("munmap failed")
	failing := func() error { return errUnmap }

	var err error
	joinErr(&err, "release arena", failing)
	assert.ErrorIs(t, err, errUnmap)
	assert.ErrorContains(t, err, "release arena: munmap failed")

	// the replay error is kept alongside the release error
	err = malloc.ErrNoSpace
	joinErr(&err, "release arena", failing)
	assert.ErrorIs(t, err, malloc.ErrNoSpace)
	assert.ErrorIs(t, err, errUnmap)

	err = malloc.ErrNoSpace
	joinErr(&err, "release arena", func() error { return nil })
	assert.Equal(t, malloc.ErrNoSpace, err)
}
