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

// Package trace parses allocation traces and replays them against an arena.
//
// A trace is a text file with one command per line:
//
//	alloc <label> <size>   allocate size bytes and remember the address as label
//	free <label>           free the address remembered as label
//	dump                   print the block list
//	check                  verify the block list invariants
//	reset                  free everything at once
//
// Blank lines and everything after '#' are ignored.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Op is a trace command.
type Op uint8

const (
	OpAlloc Op = iota + 1
	OpFree
	OpDump
	OpCheck
	OpReset
)

var opNames = map[Op]string{
	OpAlloc: "alloc",
	OpFree:  "free",
	OpDump:  "dump",
	OpCheck: "check",
	OpReset: "reset",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "Op(" + strconv.Itoa(int(o)) + ")"
}

// Command is one parsed trace line.
type Command struct {
	Line  int
	Op    Op
	Label string // alloc, free
	Size  int    // alloc
}

// ErrSyntax is wrapped by Parse errors caused by the trace content.
var ErrSyntax = errors.New("trace: syntax error")

// MaxLineSize is the longest line Parse accepts.
const MaxLineSize = 1 << 20

// Parse reads a trace from r.
func Parse(r io.Reader) ([]Command, error) {
	var cmds []Command
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxLineSize)
	line := 1
	for ; sc.Scan(); line++ {
		text, _, _ := strings.Cut(sc.Text(), "#")
		f := strings.Fields(text)
		if len(f) == 0 {
			continue
		}
		c, err := parseCommand(f)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrSyntax, line, err)
		}
		c.Line = line
		cmds = append(cmds, c)
	}
	switch err := sc.Err(); {
	case errors.Is(err, bufio.ErrTooLong):
		return nil, fmt.Errorf("%w: line %d: longer than %d bytes", ErrSyntax, line, MaxLineSize)
	case err != nil:
		return nil, fmt.Errorf("trace: read line %d: %w", line, err)
	}
	return cmds, nil
}

func parseCommand(f []string) (Command, error) {
	var c Command
	switch f[0] {
	case "alloc":
		if len(f) != 3 {
			return c, fmt.Errorf("alloc wants <label> <size>, got %d arguments", len(f)-1)
		}
		n, err := strconv.Atoi(f[2])
		if err != nil {
			return c, fmt.Errorf("alloc %s: bad size %q", f[1], f[2])
		}
		c.Op, c.Label, c.Size = OpAlloc, f[1], n
	case "free":
		if len(f) != 2 {
			return c, fmt.Errorf("free wants <label>, got %d arguments", len(f)-1)
		}
		c.Op, c.Label = OpFree, f[1]
	case "dump", "check", "reset":
		if len(f) != 1 {
			return c, fmt.Errorf("%s takes no arguments", f[0])
		}
		for op, name := range opNames {
			if name == f[0] {
				c.Op = op
			}
		}
	default:
		return c, fmt.Errorf("unknown command %q", f[0])
	}
	return c, nil
}
