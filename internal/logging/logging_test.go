package logging_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbfleet/ingestor/internal/logging"
)

func TestNew_WithoutDatabaseWritesJSONToWriter(t *testing.T) {
	var buf bytes.Buffer

	logger := logging.New(&buf, slog.LevelInfo, "worker", nil)
	logger.Info("store added", slog.Int64("store_id", 7))

	require.Contains(t, buf.String(), `"msg":"store added"`)
	require.Contains(t, buf.String(), `"store_id":7`)
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := logging.New(&buf, slog.LevelWarn, "worker", nil)
	logger.Info("should not appear")
	logger.Warn("should appear")

	output := buf.String()
	assert.False(t, strings.Contains(output, "should not appear"))
	assert.True(t, strings.Contains(output, "should appear"))
}
