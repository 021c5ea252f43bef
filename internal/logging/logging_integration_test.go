package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/wbfleet/ingestor/internal/config"
	"github.com/wbfleet/ingestor/internal/logging"
)

func TestNew_WithDatabaseInsertsLogRow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	var buf bytes.Buffer

	logger := logging.New(&buf, slog.LevelInfo, "manager", testDB.Connection)
	logger.Info("store dim written", slog.Int64("store_id", 42), slog.String("source", "insert_store_dim"))

	var (
		service, source, message string
		storeID                  int64
	)

	err := testDB.Connection.QueryRow(`
		SELECT service, source, message, store_id FROM logs ORDER BY log_id DESC LIMIT 1`).
		Scan(&service, &source, &message, &storeID)
	require.NoError(t, err)
	require.Equal(t, "manager", service)
	require.Equal(t, "insert_store_dim", source)
	require.Equal(t, "store dim written", message)
	require.Equal(t, int64(42), storeID)
}
