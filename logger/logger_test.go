package logger

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLogger(t *testing.T) {
	t.Run("TextFormat", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l := New(WithOutput(buf))
		l.Info("hello %s", "world")
		assert.Contains(t, buf.String(), "[OQL]")
		assert.Contains(t, buf.String(), "INFO: hello world")
	})

	t.Run("JSONFormat", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l := NewStdLogger()
		l.SetOutput(buf)
		l.SetFormat(LogFormatJSON)
		l.Warn("hello %s", "world")

		var data map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
		assert.Equal(t, "WARN", data["level"])
		assert.Equal(t, "hello world", data["msg"])
		assert.Contains(t, data, "time")
	})

	t.Run("WithFields", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l := New(WithOutput(buf), WithFormat(LogFormatJSON))
		l.WithFields(map[string]any{"request_id": "123"}).Info("processed")

		var data map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
		assert.Equal(t, "123", data["request_id"])

		buf.Reset()
		l.Info("plain")
		assert.NotContains(t, buf.String(), "request_id")
	})

	t.Run("SQLJSON", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l := New(WithOutput(buf), WithFormat(LogFormatJSON))
		l.SQL("SELECT * FROM users", 10*time.Millisecond, "arg1", 1)

		var data map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
		assert.Equal(t, "SELECT * FROM users", data["sql"])
		assert.Equal(t, "10ms", data["duration"])
		assert.Equal(t, []any{"arg1", float64(1)}, data["args"])
	})

	t.Run("SQLColor", func(t *testing.T) {
		buf := &bytes.Buffer{}
		New(WithOutput(buf), WithColor(true)).SQL("DELETE FROM t", time.Millisecond)
		assert.Contains(t, buf.String(), "\x1b[31mDELETE FROM t\x1b[0m")

		buf.Reset()
		New(WithOutput(buf), WithColor(false)).SQL("DELETE FROM t", time.Millisecond)
		assert.NotContains(t, buf.String(), "\x1b[")
	})

	t.Run("Levels", func(t *testing.T) {
		buf := &bytes.Buffer{}
		l := New(WithOutput(buf), WithLevel(LogLevelError))
		l.Info("no")
		l.Warn("no")
		l.SQL("SELECT 1", 0)
		assert.Empty(t, buf.String())
		l.Error("yes")
		assert.Contains(t, buf.String(), "ERROR: yes")

		buf.Reset()
		l.SetLevel(LogLevelSilent)
		l.Error("no")
		assert.Empty(t, buf.String())
	})
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"silent": LogLevelSilent,
		"ERROR":  LogLevelError,
		"warn":   LogLevelWarn,
		"":       LogLevelInfo,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
