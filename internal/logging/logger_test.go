package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"fatal":   zerolog.FatalLevel,
		"silent":  zerolog.Disabled,
		"unknown": zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for input, want := range cases {
		assert.Equal(t, want, parseLevel(input), "level %q", input)
	}
}

func TestSubsystemTagging(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").Sub("planner")
	log.Info().Msg("plan built")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "planner", entry["subsystem"])
	assert.Equal(t, "plan built", entry["message"])
}

func TestSilentLoggerWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "silent")
	log.Error().Msg("should not appear")
	assert.Zero(t, buf.Len())
}
