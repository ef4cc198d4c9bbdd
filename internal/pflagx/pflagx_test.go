package pflagx

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagSetParseEnv(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var out bytes.Buffer
	fs.SetOutput(&out)
	size := fs.IntP("arena-size", "s", 64, "")
	strict := fs.Bool("strict", false, "")
	level := FlagSetLevelP(fs, "log-level", "L", slog.LevelInfo, "")

	err := FlagSetParseEnv(fs, "WFTRACE_", []string{
		"WFTRACE_ARENA_SIZE=4096",
		"WFTRACE_STRICT=true",
		"WFTRACE_LOG_LEVEL=debug",
		"WFTRACE_NOPE=1",
		"HOME=/root",
		"garbage",
	})
	require.NoError(t, err)
	assert.Equal(t, 4096, *size)
	assert.True(t, *strict)
	assert.Equal(t, slog.LevelDebug, level.Level())
	assert.Contains(t, out.String(), "unknown flag --nope")

	// command line flags still win when parsed afterwards
	require.NoError(t, fs.Parse([]string{"-s", "128"}))
	assert.Equal(t, 128, *size)
}

func TestFlagSetParseEnvInvalid(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("arena-size", 64, "")
	err := FlagSetParseEnv(fs, "WFTRACE_", []string{"WFTRACE_ARENA_SIZE=big"})
	assert.ErrorContains(t, err, "--arena-size")
}

func TestLevelP(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	level := FlagSetLevelP(fs, "log-level", "L", slog.LevelWarn, "")
	require.NoError(t, fs.Parse([]string{"-L", "error"}))
	assert.Equal(t, slog.LevelError, level.Level())
	assert.Error(t, fs.Parse([]string{"--log-level", "loud"}))
}
