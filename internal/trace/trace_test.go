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

package trace

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/wfalloc/unsafex/malloc"
)

const coalesceTrace = `# three neighbours, freed out of order
alloc a 16
alloc b 16
alloc c 16
alloc d 16

free a
free c
free b   # merges with a and c
dump
check
alloc big 1000
free a   # already merged away
`

func TestParse(t *testing.T) {
	cmds, err := Parse(strings.NewReader(coalesceTrace))
	require.NoError(t, err)
	require.Len(t, cmds, 11)
	assert.Equal(t, Command{Line: 2, Op: OpAlloc, Label: "a", Size: 16}, cmds[0])
	assert.Equal(t, Command{Line: 9, Op: OpFree, Label: "b"}, cmds[6])
	assert.Equal(t, Command{Line: 10, Op: OpDump}, cmds[7])
	assert.Equal(t, Command{Line: 11, Op: OpCheck}, cmds[8])
	assert.Equal(t, Command{Line: 13, Op: OpFree, Label: "a"}, cmds[10])

	cmds, err = Parse(strings.NewReader("reset\n\n  # nothing\n"))
	require.NoError(t, err)
	assert.Equal(t, []Command{{Line: 1, Op: OpReset}}, cmds)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"alloc a", "line 1"},
		{"dump\nalloc a x", "line 2"},
		{"free", "free wants"},
		{"free a b", "free wants"},
		{"check now", "takes no arguments"},
		{"jump a", `unknown command "jump"`},
	}
	for _, tt := range tests {
		_, err := Parse(strings.NewReader(tt.input))
		assert.ErrorIs(t, err, ErrSyntax, "input=%q", tt.input)
		assert.ErrorContains(t, err, tt.want, "input=%q", tt.input)
	}
}

func TestParseLongLine(t *testing.T) {
	// lines past the default scanner limit are fine
	long := "alloc a 16 #" + strings.Repeat("x", 100<<10) + "\n"
	cmds, err := Parse(strings.NewReader("dump\n" + long + "check\n"))
	require.NoError(t, err)
	assert.Equal(t, []Command{
		{Line: 1, Op: OpDump},
		{Line: 2, Op: OpAlloc, Label: "a", Size: 16},
		{Line: 3, Op: OpCheck},
	}, cmds)

	tooLong := "dump\ncheck\n# " + strings.Repeat("x", MaxLineSize) + "\n"
	_, err = Parse(strings.NewReader(tooLong))
	assert.ErrorIs(t, err, ErrSyntax)
	assert.ErrorContains(t, err, "line 3")
}

func TestParseReadError(t *testing.T) {
	r := io.MultiReader(strings.NewReader("dump\n"), iotest.ErrReader(io.ErrUnexpectedEOF))
	_, err := Parse(r)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorContains(t, err, "line 2")
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "alloc", OpAlloc.String())
	assert.Equal(t, "reset", OpReset.String())
	assert.Equal(t, "Op(42)", Op(42).String())
}

func TestReplay(t *testing.T) {
	a := newTestArena(t, 128)
	var out bytes.Buffer
	r := &Replayer{Arena: a, Out: &out, Logger: discard()}

	res, err := r.Run(context.Background(), mustParse(t, coalesceTrace))
	require.NoError(t, err)
	assert.Equal(t, Result{
		Commands:    11,
		Allocs:      4,
		Frees:       3,
		OutOfMemory: 1,
		BadFrees:    1,
		Fingerprint: a.Fingerprint(),
	}, res)
	assert.Equal(t, "# line 10\nBlock 0: is free, size: 80 bytes\nBlock 1: is in use, size: 16 bytes\n", out.String())
}

func TestReplayStrict(t *testing.T) {
	a := newTestArena(t, 128)
	r := &Replayer{Arena: a, Logger: discard(), Strict: true}

	res, err := r.Run(context.Background(), mustParse(t, coalesceTrace))
	assert.ErrorIs(t, err, malloc.ErrNoSpace)
	assert.ErrorContains(t, err, "line 12: alloc")
	assert.Equal(t, 10, res.Commands)
	assert.Equal(t, 1, res.OutOfMemory)

	// a double free stops a strict replay too
	res, err = r.Run(context.Background(), mustParse(t, "free a"))
	assert.ErrorIs(t, err, malloc.ErrBadAddress)
	assert.Equal(t, 1, res.BadFrees)
}

func TestReplayReusedAddress(t *testing.T) {
	a := newTestArena(t, 256)
	r := &Replayer{Arena: a, Logger: discard()}

	res, err := r.Run(context.Background(), mustParse(t, `
alloc a 16
free a
alloc b 16
free a
check
`))
	require.NoError(t, err)
	assert.Equal(t, 1, res.BadFrees)
	assert.Equal(t, 1, res.Frees)

	// b was not freed by the stale free of a
	res, err = r.Run(context.Background(), mustParse(t, "free b"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Frees)
	assert.Equal(t, []malloc.Block{{Offset: 0, Size: 240, Free: true}}, a.Dump())
}

func TestReplayReset(t *testing.T) {
	a := newTestArena(t, 256)
	r := &Replayer{Arena: a, Logger: discard()}

	res, err := r.Run(context.Background(), mustParse(t, `
alloc a 16
alloc b 32
reset
free b
alloc a 64
check
`))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Allocs)
	assert.Equal(t, 1, res.BadFrees)
	assert.Equal(t, 0, res.Frees)
}

func TestReplayErrors(t *testing.T) {
	tests := []struct {
		trace string
		want  error
	}{
		{"alloc a 16\nalloc a 16", ErrLabelInUse},
		{"free z", ErrUnknownLabel},
		{"alloc a 0", malloc.ErrInvalidSize},
		{"alloc a -8", malloc.ErrInvalidSize},
	}
	for _, tt := range tests {
		r := &Replayer{Arena: newTestArena(t, 256), Logger: discard()}
		_, err := r.Run(context.Background(), mustParse(t, tt.trace))
		assert.ErrorIs(t, err, tt.want, "trace=%q", tt.trace)
	}
}

func TestReplayCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Replayer{Arena: newTestArena(t, 256), Logger: discard()}
	res, err := r.Run(ctx, mustParse(t, "alloc a 16"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Commands)
}

func newTestArena(t *testing.T, size int) *malloc.WorstFitAllocator {
	t.Helper()
	a, err := malloc.NewWorstFitAllocator(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Release() })
	return a
}

func mustParse(t *testing.T, s string) []Command {
	t.Helper()
	cmds, err := Parse(strings.NewReader(s))
	require.NoError(t, err)
	return cmds
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
