package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewLogger("test", &buf)
	l.Configure(&buf, true)

	l.Debug("hidden %d", 1)
	assert.Empty(t, buf.String())

	l.Info("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
	assert.Contains(t, buf.String(), "component=test")
}

func TestLogger_WithPrefixSharesLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	root := NewLogger("root", &buf)
	root.Configure(&buf, true)
	child := root.WithPrefix("child")

	root.SetLevel(LevelTrace)
	assert.True(t, child.Enabled(LevelTrace))

	child.Trace("deep")
	assert.Contains(t, buf.String(), "deep")
	assert.Contains(t, buf.String(), "component=child")

	root.SetLevel(LevelError)
	buf.Reset()
	child.Warn("quiet")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"error", LevelError, true},
		{"WARN", LevelWarn, true},
		{" info ", LevelInfo, true},
		{"Debug", LevelDebug, true},
		{"TRACE", LevelTrace, true},
		{"verbose", LevelInfo, false},
	}

	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
