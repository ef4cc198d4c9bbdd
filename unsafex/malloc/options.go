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
	"fmt"
	"log/slog"

	"github.com/cloudwego/wfalloc/internal/membuf"
)

// Source selects where NewWorstFitAllocator gets its arena from.
type Source uint8

const (
	// SourceHeap allocates a non-zeroed slice on the Go heap.
	SourceHeap Source = iota
	// SourcePool borrows a slice from the mcache pools and returns it on Release.
	SourcePool
	// SourceMmap maps anonymous memory outside the Go heap and unmaps it on Release.
	// Falls back to SourceHeap on platforms without mmap.
	SourceMmap
)

var sourceNames = [...]string{
	SourceHeap: "heap",
	SourcePool: "pool",
	SourceMmap: "mmap",
}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return fmt.Sprintf("Source(%d)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	if int(s) >= len(sourceNames) {
		return nil, fmt.Errorf("malloc: unknown source %d", s)
	}
	return []byte(sourceNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(b []byte) error {
	for i, name := range sourceNames {
		if name == string(b) {
			*s = Source(i)
			return nil
		}
	}
	return fmt.Errorf("malloc: unknown source %q (want heap, pool or mmap)", b)
}

func (s Source) acquire(n int) ([]byte, membuf.ReleaseFunc, error) {
	switch s {
	case SourcePool:
		return membuf.Pool(n)
	case SourceMmap:
		return membuf.Mmap(n)
	default:
		return membuf.Heap(n)
	}
}

// SlackPolicy decides what happens when the chosen block is larger than the
// rounded request but the remainder cannot hold another block header.
type SlackPolicy uint8

const (
	// SlackAbsorb hands the whole block out; the slack shows up in its payload size.
	SlackAbsorb SlackPolicy = iota
	// SlackReject fails the allocation with ErrNoSpace and leaves the arena untouched.
	SlackReject
)

var slackNames = [...]string{
	SlackAbsorb: "absorb",
	SlackReject: "reject",
}

func (p SlackPolicy) String() string {
	if int(p) < len(slackNames) {
		return slackNames[p]
	}
	return fmt.Sprintf("SlackPolicy(%d)", p)
}

// MarshalText implements encoding.TextMarshaler.
func (p SlackPolicy) MarshalText() ([]byte, error) {
	if int(p) >= len(slackNames) {
		return nil, fmt.Errorf("malloc: unknown slack policy %d", p)
	}
	return []byte(slackNames[p]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *SlackPolicy) UnmarshalText(b []byte) error {
	for i, name := range slackNames {
		if name == string(b) {
			*p = SlackPolicy(i)
			return nil
		}
	}
	return fmt.Errorf("malloc: unknown slack policy %q (want absorb or reject)", b)
}

type options struct {
	source Source
	slack  SlackPolicy
	logger *slog.Logger
}

// Option configures a WorstFitAllocator.
type Option func(*options)

// WithSource sets the arena source. Ignored by NewWorstFitAllocatorWithArena.
func WithSource(s Source) Option {
	return func(o *options) { o.source = s }
}

// WithSlackPolicy sets the slack policy. The default is SlackAbsorb.
func WithSlackPolicy(p SlackPolicy) Option {
	return func(o *options) { o.slack = p }
}

// WithLogger sets the logger for debug records. Nothing is logged by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
