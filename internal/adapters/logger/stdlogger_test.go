package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"Warn", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestStdLogger_LevelThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)
	ctx := context.Background()

	l.Debug(ctx, "ignored")
	l.Info(ctx, "also ignored")
	assert.Empty(t, buf.String())

	l.Warn(ctx, "kept")
	assert.Contains(t, buf.String(), "[WARN] kept")
}

func TestStdLogger_FieldsAreSortedByKey(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)

	l.Info(context.Background(), "order placed", map[string]interface{}{
		"symbol":  "AAPL",
		"qty":     int64(15),
		"tranche": 2,
	})

	line := buf.String()
	assert.Contains(t, line, "[INFO] order placed | qty=15 symbol=AAPL tranche=2")
}

func TestStdLogger_ErrorIncludesCause(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Error(context.Background(), errors.New("connection reset"), "submit failed", map[string]interface{}{
		"symbol": "MSFT",
	})

	line := buf.String()
	assert.Contains(t, line, "[ERROR] submit failed")
	assert.Contains(t, line, "error: connection reset")
	assert.Contains(t, line, "symbol=MSFT")
}
