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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudwego/wfalloc/unsafex/malloc"
)

// Arena is the allocator a trace is replayed against.
// It is implemented by *malloc.WorstFitAllocator.
type Arena interface {
	AllocAt(size int) (int, error)
	FreeAt(addr int) error
	Print(w io.Writer) error
	Check() error
	Reset() error
	Fingerprint() uint64
}

var (
	// ErrLabelInUse is returned when alloc reuses a label that is still allocated.
	ErrLabelInUse = errors.New("trace: label still allocated")

	// ErrUnknownLabel is returned when free names a label that was never allocated.
	ErrUnknownLabel = errors.New("trace: unknown label")
)

// Result summarizes a replay.
type Result struct {
	Commands    int    // commands executed
	Allocs      int    // successful allocs
	Frees       int    // successful frees
	OutOfMemory int    // allocs that failed with malloc.ErrNoSpace
	BadFrees    int    // frees rejected with malloc.ErrBadAddress
	Fingerprint uint64 // block layout after the last command
}

// Replayer applies trace commands to an Arena.
//
// Out-of-memory and rejected frees are expected outcomes of some traces: they
// are logged and counted, and only stop the replay when Strict is set.
// Any other error stops the replay.
type Replayer struct {
	Arena  Arena
	Out    io.Writer    // dump output, discarded if nil
	Logger *slog.Logger // slog.Default() if nil
	Strict bool

	addrs map[string]int // last address of every label
	owner map[int]string // label holding each allocated address
}

// Run replays cmds in order. It stops early if ctx is done.
func (r *Replayer) Run(ctx context.Context, cmds []Command) (res Result, err error) {
	if r.addrs == nil {
		r.addrs = make(map[string]int)
		r.owner = make(map[int]string)
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := r.Out
	if out == nil {
		out = io.Discard
	}
	defer func() { res.Fingerprint = r.Arena.Fingerprint() }()

	for _, c := range cmds {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Commands++
		if err := r.exec(c, out, logger, &res); err != nil {
			return res, fmt.Errorf("line %d: %s: %w", c.Line, c.Op, err)
		}
	}
	return res, nil
}

func (r *Replayer) exec(c Command, out io.Writer, logger *slog.Logger, res *Result) error {
	switch c.Op {
	case OpAlloc:
		if r.isLive(c.Label) {
			return fmt.Errorf("%w: %q", ErrLabelInUse, c.Label)
		}
		addr, err := r.Arena.AllocAt(c.Size)
		if errors.Is(err, malloc.ErrNoSpace) {
			res.OutOfMemory++
			logger.Warn("alloc failed", "line", c.Line, "label", c.Label, "size", c.Size, "error", err)
			if r.Strict {
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}
		r.addrs[c.Label] = addr
		r.owner[addr] = c.Label
		res.Allocs++
		logger.Debug("alloc", "line", c.Line, "label", c.Label, "size", c.Size, "addr", addr)

	case OpFree:
		addr, ok := r.addrs[c.Label]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownLabel, c.Label)
		}
		var err error
		if other, taken := r.owner[addr]; taken && other != c.Label {
			// the address was handed out again; freeing it would free the other label
			err = fmt.Errorf("%w: %d now belongs to %q", malloc.ErrBadAddress, addr, other)
		} else {
			// stale labels go to the arena too, it must reject them
			err = r.Arena.FreeAt(addr)
		}
		if errors.Is(err, malloc.ErrBadAddress) {
			res.BadFrees++
			logger.Warn("free rejected", "line", c.Line, "label", c.Label, "addr", addr, "error", err)
			if r.Strict {
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}
		delete(r.owner, addr)
		res.Frees++
		logger.Debug("free", "line", c.Line, "label", c.Label, "addr", addr)

	case OpDump:
		if _, err := fmt.Fprintf(out, "# line %d\n", c.Line); err != nil {
			return err
		}
		return r.Arena.Print(out)

	case OpCheck:
		if err := r.Arena.Check(); err != nil {
			return err
		}
		logger.Debug("check ok", "line", c.Line)

	case OpReset:
		if err := r.Arena.Reset(); err != nil {
			return err
		}
		clear(r.owner)
		logger.Debug("reset", "line", c.Line)

	default:
		return fmt.Errorf("unknown op %d", c.Op)
	}
	return nil
}

func (r *Replayer) isLive(label string) bool {
	addr, ok := r.addrs[label]
	return ok && r.owner[addr] == label
}
