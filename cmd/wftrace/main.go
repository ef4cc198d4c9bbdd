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

// Command wftrace replays allocation traces against a worst-fit arena.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"

	"github.com/cloudwego/wfalloc/internal/pflagx"
	"github.com/cloudwego/wfalloc/internal/trace"
	"github.com/cloudwego/wfalloc/unsafex/malloc"
)

var (
	EnvPrefix = "WFTRACE_"
	Size      = pflag.IntP("size", "s", 4096, "arena size in bytes")
	Source    = malloc.SourceHeap
	Slack     = malloc.SlackAbsorb
	Strict    = pflag.Bool("strict", false, "stop at the first failed alloc or rejected free")
	LogLevel  = pflagx.LevelP("log-level", "L", slog.LevelInfo, "log level")
	LogJSON   = pflag.Bool("log-json", false, "use json logs")
	Help      = pflag.BoolP("help", "h", false, "show this help text")
)

func init() {
	pflag.TextVar(&Source, "source", malloc.SourceHeap, "arena buffer source (heap, pool, mmap)")
	pflag.TextVar(&Slack, "slack", malloc.SlackAbsorb, "what to do with a remainder too small to split (absorb, reject)")
}

func main() {
	if err := pflagx.ParseEnv(EnvPrefix); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	pflag.Parse()

	if *Help {
		fmt.Printf("usage: %s [options] [trace...]\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		return
	}

	// dumps go to stdout, keep logs out of the way
	if *LogJSON {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: LogLevel,
		})))
	} else {
		slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level: LogLevel,
		})))
	}
	slog.SetLogLoggerLevel(LogLevel.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Stdout, pflag.Args()); err != nil {
		slog.Error("replay failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, files []string) (err error) {
	a, err := malloc.NewWorstFitAllocator(*Size,
		malloc.WithSource(Source),
		malloc.WithSlackPolicy(Slack),
		malloc.WithLogger(slog.Default()),
	)
	if err != nil {
		return fmt.Errorf("create arena: %w", err)
	}
	defer joinErr(&err, "release arena", a.Release)

	slog.Debug("arena ready", "size", a.Size(), "source", Source, "slack", Slack)

	r := &trace.Replayer{
		Arena:  a,
		Out:    out,
		Logger: slog.Default(),
		Strict: *Strict,
	}
	if len(files) == 0 {
		return replay(ctx, r, "-", os.Stdin, out)
	}
	for _, name := range files {
		if err := replayFile(ctx, r, name, out); err != nil {
			return err
		}
	}
	return nil
}

// joinErr calls f and adds its error, if any, to *err.
func joinErr(err *error, what string, f func() error) {
	if ferr := f(); ferr != nil {
		*err = errors.Join(*err, fmt.Errorf("%s: %w", what, ferr))
	}
}

func replayFile(ctx context.Context, r *trace.Replayer, name string, out io.Writer) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return replay(ctx, r, name, f, out)
}

// replay runs one trace. The arena carries over between traces.
func replay(ctx context.Context, r *trace.Replayer, name string, in io.Reader, out io.Writer) error {
	cmds, err := trace.Parse(in)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	res, err := r.Run(ctx, cmds)
	fmt.Fprintf(out, "# %s: %d commands, %d allocs, %d frees, %d out of memory, %d bad frees, layout %016x\n",
		name, res.Commands, res.Allocs, res.Frees, res.OutOfMemory, res.BadFrees, res.Fingerprint)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
