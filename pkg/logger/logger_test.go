package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(LoggingConfig{Level: "loud"}, "test")
	require.Error(t, err)

	_, err = New(LoggingConfig{Format: "xml"}, "test")
	require.Error(t, err)

	_, err = New(LoggingConfig{Output: "carrier-pigeon"}, "test")
	require.Error(t, err)
}

func TestNewDefaultsApply(t *testing.T) {
	l, err := New(LoggingConfig{}, "test")
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestFileOutputCreatesLog(t *testing.T) {
	dir := t.TempDir()
	l, err := New(LoggingConfig{
		Output:     "file",
		FilePrefix: filepath.Join(dir, "logs", "server"),
	}, "test")
	require.NoError(t, err)

	l.Info("hello")

	matches, err := filepath.Glob(filepath.Join(dir, "logs", "server_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
	require.Contains(t, string(data), "component=test")
}

func TestNamedAddsComponent(t *testing.T) {
	l := NewNop()
	child := l.Named("bus")
	require.NotNil(t, child)
	// Nop loggers stay silent regardless of level.
	child.WithField("k", "v").Info("discarded")
	child.Errorf("also discarded %d", 1)
}
