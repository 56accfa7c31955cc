package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterTagsService(t *testing.T) {
	var out bytes.Buffer
	log := NewWithWriter(&out, "loudthoughts")
	log.Info().Str("note_id", "n1").Msg("buffered")

	var line map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	assert.Equal(t, "loudthoughts", line["service"])
	assert.Equal(t, "n1", line["note_id"])
	assert.Contains(t, line, "time")
}

func TestWithLevel(t *testing.T) {
	var out bytes.Buffer
	log := WithLevel(NewWithWriter(&out, "svc"), "WARN")
	log.Info().Msg("hidden")
	assert.Zero(t, out.Len())
	log.Warn().Msg("shown")
	assert.NotZero(t, out.Len())

	assert.Equal(t, zerolog.InfoLevel, WithLevel(zerolog.Nop(), "").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, WithLevel(zerolog.Nop(), "shouting").GetLevel())
	assert.Equal(t, zerolog.DebugLevel, WithLevel(zerolog.Nop(), "debug").GetLevel())
}
