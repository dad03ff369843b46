package utils

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"trace":    TRACE,
		"DEBUG":    DEBUG,
		"":         INFO,
		"warning":  WARN,
		"error":    ERROR,
		"Critical": CRITICAL,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("loud")
	assert.Error(t, err)
}

func TestConsoleLoggerFiltersAndLabels(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, INFO, true)

	log.Debug("hidden %d", 1)
	log.Info("best score %.2f", 51.84)
	log.Critical("publish failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF best score 51.84")
	assert.Contains(t, out, "CRT publish failed")

	buf.Reset()
	log.SetMinLevel(TRACE)
	log.Trace("draw %d", 7)
	assert.Contains(t, buf.String(), "TRC draw 7")
}

func TestLoggerKeepsPercentWithoutArgs(t *testing.T) {
	var buf bytes.Buffer
	NewConsoleLogger(&buf, INFO, true).Info("overshoot 5%")
	assert.Contains(t, buf.String(), "overshoot 5%")
	assert.NotContains(t, buf.String(), "%!")
}

func TestFileLoggerWritesPlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuner.log")
	log, err := NewFileLogger(path, DEBUG, false)
	require.NoError(t, err)

	log.Warn("settling bound %g differs from %g", 4.5, 4.48)
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "WRN settling bound 4.5 differs from 4.48")
	assert.NotContains(t, line, "\x1b[", "file output carries no color codes")
}

func TestFileLoggerFansOutToStdout(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stdout := os.Stdout
	os.Stdout = w
	t.Cleanup(func() { os.Stdout = stdout })

	path := filepath.Join(t.TempDir(), "tuner.log")
	log, err := NewFileLogger(path, INFO, true)
	require.NoError(t, err)
	log.Debug("hidden everywhere")
	log.Info("replay saturated on %d samples", 12)
	log.SetMinLevel(ERROR)
	log.Warn("dropped after level change")
	require.NoError(t, log.Close())
	require.NoError(t, w.Close())

	console, err := io.ReadAll(r)
	require.NoError(t, err)
	file, err := os.ReadFile(path)
	require.NoError(t, err)

	for name, out := range map[string]string{"file": string(file), "stdout": string(console)} {
		assert.Contains(t, out, "replay saturated on 12 samples", name)
		assert.NotContains(t, out, "hidden everywhere", name)
		assert.NotContains(t, out, "dropped after level change", name)
	}
	assert.NotContains(t, string(file), "\x1b[")
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	log.Critical("dropped")
	assert.NoError(t, log.Close())
}
