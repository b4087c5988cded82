package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name  string
		level LogLevel
		want  int
	}{
		{"debug shows all", DebugLevel, 4},
		{"info hides debug", InfoLevel, 3},
		{"error only", ErrorLevel, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(tt.level, &buf)
			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")
			assert.Len(t, decodeLines(t, &buf), tt.want)
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(DebugLevel, &buf).WithField("component", "doe")
	l.Info("generated", map[string]interface{}{"rows": 9})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "doe", entries[0]["component"])
	assert.Equal(t, float64(9), entries[0]["rows"])
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "generated", entries[0]["message"])
	assert.Contains(t, entries[0]["caller"], "logger_test.go")
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&Config{Level: "debug", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	l.output = &buf

	l.Warn("slow start", map[string]interface{}{"start": 3})
	line := buf.String()
	assert.Contains(t, line, "WARN")
	assert.Contains(t, line, "slow start")
	assert.Contains(t, line, "start=3")
}

func TestZapBridge(t *testing.T) {
	var buf bytes.Buffer
	base := New(DebugLevel, &buf)
	zl := NewZapLogger(base).Named("slsqp")

	zl.Debug("iteration",
		zap.Int("iter", 4),
		zap.Float64("merit", 2.5),
		zap.Bool("converged", true),
		zap.String("mode", "ok"),
	)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "iteration", e["message"])
	assert.Equal(t, "slsqp", e["logger"])
	assert.Equal(t, float64(4), e["iter"])
	assert.Equal(t, 2.5, e["merit"])
	assert.Equal(t, true, e["converged"])
	assert.Equal(t, "ok", e["mode"])
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctxLogger := &CtxLogger{New(InfoLevel, &buf).WithField("job", "abc")}
	ctx := ctxLogger.WithContext(context.Background())

	FromContext(ctx).Info("hello")
	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "abc", entries[0]["job"])

	assert.NotNil(t, FromContext(context.Background()))
}
