package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONFormatAndLevel(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	_, err := Init(Config{Level: "warn", Format: "json", Output: &buf})
	require.NoError(t, err)

	slog.Info("dropped")
	slog.Warn("applied command", "type", "TRANSACTION_SENT")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "applied command", entry["msg"])
	assert.Equal(t, "TRANSACTION_SENT", entry["type"])
}

func TestInit_RoutesStdLog(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	_, err := Init(Config{Level: "debug", Output: &buf})
	require.NoError(t, err)
	log.Print("from std log")

	assert.Contains(t, buf.String(), "from std log")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestInit_CopiesToFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	path := filepath.Join(t.TempDir(), "logs", "ledger.log")
	var buf bytes.Buffer
	file, err := Init(Config{Output: &buf, File: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = file.Close() })

	slog.Info("record persisted", "id", "tx-1")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "record persisted")
	assert.Contains(t, buf.String(), "record persisted")
}

func TestFileWriter_RotatesAndKeepsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	w, err := NewFileWriter(path, 1, 2)
	require.NoError(t, err)
	w.maxSize = 10
	t.Cleanup(func() { _ = w.Close() })

	for _, line := range []string{"first---\n", "second--\n", "third---\n", "fourth--\n"} {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	for name, want := range map[string]string{
		path:        "fourth--\n",
		path + ".1": "third---\n",
		path + ".2": "second--\n",
	} {
		raw, err := os.ReadFile(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, string(raw), name)
	}
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestFileWriter_NoBackupsTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	w, err := NewFileWriter(path, 1, 0)
	require.NoError(t, err)
	w.maxSize = 8
	t.Cleanup(func() { _ = w.Close() })

	_, err = w.Write([]byte("aaaaaa\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("bbbbbb\n"))
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb\n", string(raw))
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestFileWriter_NilClose(t *testing.T) {
	var w *FileWriter
	assert.NoError(t, w.Close())
	_, err := NewFileWriter("", 1, 1)
	assert.Error(t, err)
}
