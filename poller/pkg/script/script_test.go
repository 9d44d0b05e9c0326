package script

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	guesstesting "github.com/GeorgeGarkavenko/guess/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "import.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestGuess_Script_Config(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Command: "true"})
	require.Error(t, err)
	_, err = New(Config{Logger: guesstesting.NewLogger(), Command: "   "})
	require.Error(t, err)

	r, err := New(Config{Logger: guesstesting.NewLogger(), Command: "import  --all   now"})
	require.NoError(t, err)
	require.Equal(t, []string{"import", "--all", "now"}, r.args)
}

func TestGuess_Script_Run(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available on windows")
	}

	t.Run("streams output and reports success", func(t *testing.T) {
		t.Parallel()

		var out syncBuffer
		log := slog.New(slog.NewTextHandler(&out, nil))
		path := writeScript(t, "echo imported 12 files\necho warning >&2\n")

		r, err := New(Config{Logger: log, Command: path})
		require.NoError(t, err)
		res, err := r.Run(context.Background())
		require.NoError(t, err)
		require.True(t, res.Success())
		require.Zero(t, res.ExitCode)

		logs := out.String()
		require.Contains(t, logs, `line="imported 12 files"`)
		require.Contains(t, logs, "stream=stdout")
		require.Contains(t, logs, "stream=stderr")
		require.Contains(t, logs, "line=warning")
	})

	t.Run("passes arguments", func(t *testing.T) {
		t.Parallel()

		var out syncBuffer
		log := slog.New(slog.NewTextHandler(&out, nil))
		path := writeScript(t, `echo "args:$1,$2"`+"\n")

		r, err := New(Config{Logger: log, Command: path + " first second"})
		require.NoError(t, err)
		_, err = r.Run(context.Background())
		require.NoError(t, err)
		require.Contains(t, out.String(), "args:first,second")
	})

	t.Run("non-zero exit is a result, not an error", func(t *testing.T) {
		t.Parallel()

		path := writeScript(t, "exit 3\n")
		r, err := New(Config{Logger: guesstesting.NewLogger(), Command: path})
		require.NoError(t, err)
		res, err := r.Run(context.Background())
		require.NoError(t, err)
		require.False(t, res.Success())
		require.Equal(t, 3, res.ExitCode)
	})

	t.Run("runs in the configured directory", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		path := writeScript(t, "touch marker\n")
		r, err := New(Config{Logger: guesstesting.NewLogger(), Command: path, Dir: dir})
		require.NoError(t, err)
		_, err = r.Run(context.Background())
		require.NoError(t, err)
		require.FileExists(t, filepath.Join(dir, "marker"))
	})

	t.Run("a missing command fails to start", func(t *testing.T) {
		t.Parallel()

		r, err := New(Config{Logger: guesstesting.NewLogger(), Command: filepath.Join(t.TempDir(), "missing")})
		require.NoError(t, err)
		_, err = r.Run(context.Background())
		require.ErrorContains(t, err, "failed to start")
	})

	t.Run("cancellation stops the script", func(t *testing.T) {
		t.Parallel()

		path := writeScript(t, "exec sleep 30\n")
		r, err := New(Config{Logger: guesstesting.NewLogger(), Command: path})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = r.Run(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}
