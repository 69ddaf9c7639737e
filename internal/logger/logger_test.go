package logger

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
		"trace":     zerolog.TraceLevel,
		"debug":     zerolog.DebugLevel,
		"info":      zerolog.InfoLevel,
		"warn":      zerolog.WarnLevel,
		"WARNING":   zerolog.WarnLevel,
		"error":     zerolog.ErrorLevel,
		"":          zerolog.InfoLevel,
		" garbage ": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestInitNamedJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "debug", Format: "json", Service: "scalextric-child", Writer: &buf})

	Named("mqtt").Info().Int("car", 3).Msg("published")
	Get().Debug().Msg("root")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "mqtt", first["component"])
	assert.Equal(t, "scalextric-child", first["service"])
	assert.Equal(t, "published", first["message"])
	assert.EqualValues(t, 3, first["car"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.NotContains(t, second, "component")

	// Later Init calls are ignored.
	Init(Options{Level: "error", Format: "json", Writer: &bytes.Buffer{}})
	Named("").Info().Msg("still here")
	assert.Contains(t, buf.String(), "still here")
}
