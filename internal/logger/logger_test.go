package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/topic-radar/internal/logger"
)

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "")

	var buf bytes.Buffer
	log := logger.NewWithWriter("modeler", &buf)
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "shown")
	require.Contains(t, out, "service=modeler")
}

func TestJSONFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "JSON")

	var buf bytes.Buffer
	logger.NewWithWriter("api", &buf).Info("started", "addr", ":8080")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "started", line["msg"])
	require.Equal(t, "api", line["service"])
	require.Equal(t, ":8080", line["addr"])
}
