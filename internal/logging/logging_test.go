package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer

	log, err := New("info", FormatJSON, &buf)
	require.NoError(t, err)

	log.Named("resolve").Info("probed", zap.String("name", "numpy"))
	log.Debug("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, "probed", line["msg"])
	assert.Equal(t, "resolve", line["logger"])
	assert.Equal(t, "numpy", line["name"])
	assert.Equal(t, "info", line["level"])
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer

	log, err := New("debug", FormatConsole, &buf)
	require.NoError(t, err)

	log.Debug("running node", zap.String("node", "runtime"))

	out := buf.String()
	assert.Contains(t, out, "DEBUG")
	assert.Contains(t, out, "running node")
	assert.Contains(t, out, `"node": "runtime"`)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
		want   string
	}{
		{name: "bad level", level: "loud", format: FormatConsole, want: `invalid log level "loud"`},
		{name: "bad format", level: "info", format: "xml", want: `unknown log format "xml"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.level, tt.format, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, "debug", Level(true))
	assert.Equal(t, "info", Level(false))
}
