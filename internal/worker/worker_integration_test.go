package worker_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/wbfleet/ingestor/internal/config"
	"github.com/wbfleet/ingestor/internal/scheduler"
	"github.com/wbfleet/ingestor/internal/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedStore(t *testing.T, testDB *config.TestDatabase, storeID int64, tokenValid bool) {
	t.Helper()

	_, err := testDB.Connection.Exec(`
		INSERT INTO stores (store_id, store_name, api_token, token_is_valid, table_id, secret_key)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		storeID, "store-name", "token", tokenValid, "table-id", "secret")
	require.NoError(t, err)

	_, err = testDB.Connection.Exec(`
		INSERT INTO store_process (store_id, running)
		VALUES ($1, false)`, storeID)
	require.NoError(t, err)
}

func TestWorker_Iter_AcquiresStoreAndAdvancesItsTaskEngine(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	seedStore(t, testDB, 1, true)

	sched := scheduler.New(testDB.Connection)
	w := worker.New("worker-test", "v-test", testDB.Connection, sched, discardLogger(), nil, 0)

	status := w.Iter(ctx)
	require.NotEmpty(t, status)

	var running bool
	err := testDB.Connection.QueryRow(`SELECT running FROM store_process WHERE store_id = 1`).Scan(&running)
	require.NoError(t, err)
	require.True(t, running, "expected the acquired lease to still be held after one tick")
}

func TestWorker_Iter_FinalizesStoreWithInvalidTokenWithoutRunningTasks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	seedStore(t, testDB, 2, false)

	sched := scheduler.New(testDB.Connection)
	w := worker.New("worker-test", "v-test", testDB.Connection, sched, discardLogger(), nil, 0)

	w.Iter(ctx)

	var running bool

	var lastDataLoad *time.Time

	err := testDB.Connection.QueryRow(`
		SELECT running, last_data_load FROM store_process WHERE store_id = 2`).Scan(&running, &lastDataLoad)
	require.NoError(t, err)
	require.False(t, running, "expected the invalid-token lease to be released immediately")
	require.NotNil(t, lastDataLoad, "expected last_data_load to be stamped so the store isn't reclaimed instantly")
}
