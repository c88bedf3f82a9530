package logger

import (
	"bytes"
	"testing"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-gpuperf/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, log.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, log.InfoLevel, ParseLevel("loud"))
}

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(config.LoggingConfig{Format: "json"}, &buf)
	require.NoError(t, err)

	l := log.Logger{Level: log.InfoLevel, Writer: w}
	l.Info().Str("label", "Load R8 SRV invariant").Msg("resolved")

	assert.Contains(t, buf.String(), `"label":"Load R8 SRV invariant"`)
	assert.Contains(t, buf.String(), `"message":"resolved"`)
}

func TestNewWriterLogfmt(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(config.LoggingConfig{Format: "logfmt"}, &buf)
	require.NoError(t, err)

	l := log.Logger{Level: log.InfoLevel, Writer: w}
	l.Warn().Int("capacity", 8).Msg("exhausted")
	assert.Contains(t, buf.String(), "capacity=8")
}

func TestNewWriterErrors(t *testing.T) {
	_, err := NewWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
	_, err = NewWriter(config.LoggingConfig{Writer: "syslog"}, nil)
	assert.Error(t, err)
}

func TestComponentLogger(t *testing.T) {
	saved := log.DefaultLogger
	defer func() { log.DefaultLogger = saved }()

	var buf bytes.Buffer
	log.DefaultLogger = log.Logger{Level: log.DebugLevel, Writer: &log.IOWriter{Writer: &buf}}

	New("perfquery").Debug().Msg("calibrated")
	assert.Contains(t, buf.String(), `"component":"perfquery"`)
}
