package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)

	lvl, err = ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)
}

func TestNewWriterLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriterLogger("[ingest]", &buf, zapcore.InfoLevel)

	log.Debugw("hidden")
	log.Infow("committed", "checkpoint", 7)
	require.NoError(t, log.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[ingest]")
	assert.Contains(t, out, "committed")
	assert.Contains(t, out, `"checkpoint": 7`)
}

func TestNewNamedLogger(t *testing.T) {
	log := NewNamedLogger("[test]", zapcore.WarnLevel)
	assert.False(t, log.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Desugar().Core().Enabled(zapcore.ErrorLevel))
}
