package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	closeFn, err := Init(Options{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, closeFn())
	L.Error("discarded")
}

func TestInit_Stderr(t *testing.T) {
	var out bytes.Buffer
	closeFn, err := Init(Options{Enabled: true, Level: slog.LevelDebug, Stderr: &out})
	require.NoError(t, err)
	defer closeFn()
	defer Init(Options{})

	L.Debug("evict", "blockno", 7)
	require.Contains(t, out.String(), "blockno=7")
}

func TestInit_LogDir(t *testing.T) {
	dir := t.TempDir()
	closeFn, err := Init(Options{Enabled: true, LogDir: dir, Level: slog.LevelInfo})
	require.NoError(t, err)
	defer Init(Options{})

	L.Info("steal", "from", 2)
	require.NoError(t, closeFn())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(data), `"from":2`)
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	old := filepath.Join(dir, "kpool-2024-01-01.log")
	recent := filepath.Join(dir, "kpool-2024-02-28.log")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, recent, other} {
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	cleanOldLogs(dir, now)

	require.NoFileExists(t, old)
	require.FileExists(t, recent)
	require.FileExists(t, other)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	require.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestOr(t *testing.T) {
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	require.Same(t, l, Or(l))
	require.Same(t, L, Or(nil))
}
