package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(format Format, level Level) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return New(Options{Output: buf, Level: level, Format: format}), buf
}

func TestLogger_JSONEntry(t *testing.T) {
	log, buf := newBufferLogger(FormatJSON, LevelInfo)

	log.With(UserID("u-1")).Info("xp awarded", XPAmount(50), Source("task"))

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "xp awarded", entry.Message)
	assert.Equal(t, "u-1", entry.Fields["user_id"])
	assert.Equal(t, float64(50), entry.Fields["xp_amount"])
	assert.Equal(t, "task", entry.Fields["source"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	log, buf := newBufferLogger(FormatJSON, LevelWarn)

	log.Info("ignored")
	log.Debug("ignored too")
	assert.Zero(t, buf.Len())

	log.Error("kept", Err(assert.AnError))
	assert.Contains(t, buf.String(), "kept")
}

func TestLogger_TextFormat(t *testing.T) {
	log, buf := newBufferLogger(FormatText, LevelDebug)

	log.Warn("partial apply", TransactionID("tx-9"), UserLevel(3))

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "WARN")
	assert.Contains(t, line, "level=3")
	assert.Contains(t, line, "transaction_id=tx-9")
	// keys are sorted
	assert.Less(t, strings.Index(line, "level="), strings.Index(line, "transaction_id="))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestContextPropagation(t *testing.T) {
	log := Discard().WithRequestID("req-1")
	ctx := WithContext(context.Background(), log)

	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
