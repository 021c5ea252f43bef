package manager_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/wbfleet/ingestor/internal/aliasing"
	"github.com/wbfleet/ingestor/internal/config"
	"github.com/wbfleet/ingestor/internal/manager"
	"github.com/wbfleet/ingestor/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubUploader struct {
	uploaded bool
	err      error
	gotRows  [][]any
}

func (s *stubUploader) Upload(_ context.Context, _, _ string, rows [][]any) (bool, error) {
	s.gotRows = rows

	return s.uploaded, s.err
}

func seedStoreReadyForETL(t *testing.T, testDB *config.TestDatabase, storeID int64) {
	t.Helper()

	_, err := testDB.Connection.Exec(`
		INSERT INTO stores (store_id, store_name, api_token, token_is_valid, table_id, secret_key)
		VALUES ($1, $2, $3, true, $4, $5)`,
		storeID, "store-name", "token", "sheet-id", "secret")
	require.NoError(t, err)

	_, err = testDB.Connection.Exec(`
		INSERT INTO store_process (store_id, running, last_data_load)
		VALUES ($1, false, CURRENT_TIMESTAMP)`, storeID)
	require.NoError(t, err)

	_, err = testDB.Connection.Exec(`
		INSERT INTO staging_cards (nm_id, store_id, vendor_code, title)
		VALUES (100, $1, 'vendor-100', 'title')`, storeID)
	require.NoError(t, err)

	_, err = testDB.Connection.Exec(`
		INSERT INTO staging_nm_report_detail (date, store_id, nm_id, open_card_count, add_to_cart_count, orders_count, orders_sum_rub)
		VALUES (CURRENT_DATE, $1, 100, 10, 2, 1, 500)`, storeID)
	require.NoError(t, err)
}

func TestManager_Iter_RunsETLTransactionForEligibleStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	seedStoreReadyForETL(t, testDB, 1)

	sched := scheduler.New(testDB.Connection)
	uploader := &stubUploader{}
	resolver := aliasing.NewTableIDResolver()
	m := manager.New("manager-test", "v-test", testDB.Connection, sched, uploader, resolver, discardLogger(), nil)

	idle := m.Iter(ctx)
	require.False(t, idle, "expected the seeded store to be picked up for etl")

	var vendorCode string

	var lastDMETL *string

	err := testDB.Connection.QueryRow(`SELECT vendor_code FROM dim_tech_list WHERE store_id = 1 AND nm_id = 100`).
		Scan(&vendorCode)
	require.NoError(t, err)
	require.Equal(t, "vendor-100", vendorCode)

	err = testDB.Connection.QueryRow(`SELECT last_dm_etl::text FROM store_process WHERE store_id = 1`).Scan(&lastDMETL)
	require.NoError(t, err)
	require.NotNil(t, lastDMETL, "expected last_dm_etl to be stamped by the pivot transaction")

	var running bool

	err = testDB.Connection.QueryRow(`SELECT running FROM store_process WHERE store_id = 1`).Scan(&running)
	require.NoError(t, err)
	require.False(t, running, "expected the etl lease to be released by the pivot transaction's own update")
}

func TestManager_Iter_FinalizesExportOnSuccessfulUpload(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	_, err := testDB.Connection.Exec(`
		INSERT INTO stores (store_id, store_name, api_token, token_is_valid, table_id, secret_key)
		VALUES (2, 'store-name', 'token', true, 'sheet-id', 'secret')`)
	require.NoError(t, err)

	_, err = testDB.Connection.Exec(`
		INSERT INTO store_process (store_id, running, last_data_load, last_dm_etl)
		VALUES (2, false, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	_, err = testDB.Connection.Exec(`
		INSERT INTO dim_tech_list (store_id, date, nm_id, vendor_code)
		VALUES (2, CURRENT_DATE, 200, 'vendor-200')`)
	require.NoError(t, err)

	sched := scheduler.New(testDB.Connection)
	uploader := &stubUploader{uploaded: true}
	resolver := aliasing.NewTableIDResolver()
	m := manager.New("manager-test", "v-test", testDB.Connection, sched, uploader, resolver, discardLogger(), nil)

	idle := m.Iter(ctx)
	require.False(t, idle, "expected the seeded store to be picked up for export")
	require.Len(t, uploader.gotRows, 2, "expected a header row plus one data row")

	var lastClientLoad *string

	err = testDB.Connection.QueryRow(`SELECT last_client_load::text FROM store_process WHERE store_id = 2`).
		Scan(&lastClientLoad)
	require.NoError(t, err)
	require.NotNil(t, lastClientLoad, "expected finalize export to stamp last_client_load")
}
