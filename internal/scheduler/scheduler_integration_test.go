package scheduler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/wbfleet/ingestor/internal/config"
	"github.com/wbfleet/ingestor/internal/scheduler"
)

func seedStore(t *testing.T, testDB *config.TestDatabase, storeID int64) {
	t.Helper()

	_, err := testDB.Connection.Exec(`
		INSERT INTO stores (store_id, store_name, api_token, token_is_valid, table_id, secret_key)
		VALUES ($1, $2, $3, true, $4, $5)`,
		storeID, "store-name", "token", "table-id", "secret")
	require.NoError(t, err)

	_, err = testDB.Connection.Exec(`
		INSERT INTO store_process (store_id, running)
		VALUES ($1, false)`, storeID)
	require.NoError(t, err)
}

func TestScheduler_AcquireDataLoad_ClaimsEligibleStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	seedStore(t, testDB, 1)

	sched := scheduler.New(testDB.Connection)

	lease, err := sched.AcquireDataLoad(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, int64(1), lease.StoreID)
	require.True(t, lease.Running)
	require.Equal(t, "worker-1", lease.Service.String)
}

func TestScheduler_AcquireDataLoad_ConcurrentWorkersDoNotDoubleClaim(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	seedStore(t, testDB, 1)

	sched := scheduler.New(testDB.Connection)

	results := make(chan *scheduler.Lease, 2)
	errs := make(chan error, 2)

	for _, workerID := range []string{"worker-a", "worker-b"} {
		workerID := workerID

		go func() {
			lease, err := sched.AcquireDataLoad(ctx, workerID)
			results <- lease
			errs <- err
		}()
	}

	var claimed int

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)

		if lease := <-results; lease != nil {
			claimed++
		}
	}

	require.Equal(t, 1, claimed, "exactly one worker should win the only eligible store")
}

func TestScheduler_AcquireDataLoad_NoEligibleStoreReturnsNil(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	seedStore(t, testDB, 1)

	sched := scheduler.New(testDB.Connection)

	first, err := sched.AcquireDataLoad(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := sched.AcquireDataLoad(ctx, "worker-2")
	require.NoError(t, err)
	require.Nil(t, second, "store is already running, no stale lease to reclaim")
}

func TestScheduler_AcquireDataLoad_ReclaimsStaleLease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	seedStore(t, testDB, 1)

	_, err := testDB.Connection.Exec(`
		UPDATE store_process
		SET running = true, process_health_check = NOW() - INTERVAL '2000 seconds'
		WHERE store_id = $1`, 1)
	require.NoError(t, err)

	sched := scheduler.New(testDB.Connection)

	lease, err := sched.AcquireDataLoad(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, lease, "a lease with a stale health check must be reclaimable")
	require.Equal(t, "worker-2", lease.Service.String)
}

func TestScheduler_FinalizeDataLoad_StampsLastDataLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	seedStore(t, testDB, 1)

	sched := scheduler.New(testDB.Connection)

	lease, err := sched.AcquireDataLoad(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, lease)

	finalized, err := sched.FinalizeDataLoad(ctx, lease.StoreProcessID, true)
	require.NoError(t, err)
	require.NotNil(t, finalized)
	require.False(t, finalized.Running)
	require.True(t, finalized.LastDataLoad.Valid)
}

func TestScheduler_HeartbeatLeases_OnlyRefreshesOwnedLeases(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	seedStore(t, testDB, 1)
	seedStore(t, testDB, 2)

	sched := scheduler.New(testDB.Connection)

	leaseOne, err := sched.AcquireDataLoad(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, leaseOne)

	leaseTwo, err := sched.AcquireDataLoad(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, leaseTwo)

	affected, err := sched.HeartbeatLeases(ctx, []int64{leaseOne.StoreProcessID, leaseTwo.StoreProcessID}, "worker-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), affected, "worker-1 should only refresh the lease it owns")
}

func TestScheduler_AcquireETL_WaitsForDataLoadSchedule(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	seedStore(t, testDB, 1)

	_, err := testDB.Connection.Exec(`
		UPDATE store_process
		SET last_data_load = (CURRENT_TIMESTAMP)::DATE - INTERVAL '18 hours'
		WHERE store_id = $1`, 1)
	require.NoError(t, err)

	sched := scheduler.New(testDB.Connection)

	lease, err := sched.AcquireETL(ctx, "manager-1")
	require.NoError(t, err)
	require.Nil(t, lease, "a data load from before today's schedule window is not yet due for ETL")
}

func TestScheduler_AcquireETL_ClaimsStoreDueForETL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	seedStore(t, testDB, 1)

	_, err := testDB.Connection.Exec(`
		UPDATE store_process
		SET last_data_load = (CURRENT_TIMESTAMP)::DATE + INTERVAL '7 hours'
		WHERE store_id = $1`, 1)
	require.NoError(t, err)

	sched := scheduler.New(testDB.Connection)

	lease, err := sched.AcquireETL(ctx, "manager-1")
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, int64(1), lease.StoreID)
}
