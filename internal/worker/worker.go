// Package worker drives the data-load stage: it claims store leases from
// internal/scheduler, builds the six-task internal/task.StoreProcess engine
// for each store it holds, and round-robins one Iter step at a time so no
// single store can starve the others.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/wbfleet/ingestor/internal/api"
	"github.com/wbfleet/ingestor/internal/marketplace"
	"github.com/wbfleet/ingestor/internal/scheduler"
	"github.com/wbfleet/ingestor/internal/task"
)

const (
	// defaultMaxStores bounds how many store processes a single worker holds
	// concurrently when no fleet config overrides it.
	defaultMaxStores = 15

	// healthCheckPeriod is how often the worker refreshes its own and its
	// held leases' health check timestamps.
	healthCheckPeriod = 60 * time.Second

	// idleSleep is how long Run waits before the next tick when it holds no
	// stores to advance.
	idleSleep = 7500 * time.Millisecond

	// tickSleep is the cadence between ticks while stores are active.
	tickSleep = 10 * time.Millisecond
)

// storeRow is the subset of the stores table a worker needs to build a
// StoreProcess.
type storeRow struct {
	storeID      int64
	storeName    string
	apiToken     string
	tokenIsValid bool
}

// activeStore pairs an acquired lease with the task engine running against
// it.
type activeStore struct {
	lease   *scheduler.Lease
	process *task.StoreProcess
}

// Worker claims and advances store data-load leases one tick at a time.
type Worker struct {
	id        string
	version   string
	db        *sql.DB
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	state     *api.ServiceState
	maxStores int

	lastHealthCheck time.Time
	stores          []*activeStore
	currentIndex    int
}

// New creates a Worker identified by id, reporting version on its health
// check rows. poolSize bounds how many store processes this worker holds
// concurrently; a value <= 0 falls back to defaultMaxStores. state is the
// process-wide status record /status and /health read from; every tick's
// outcome and held-lease count is written to it, mirroring the Python
// worker's info_lock-guarded worker_status dict.
func New(
	id, version string,
	db *sql.DB,
	sched *scheduler.Scheduler,
	logger *slog.Logger,
	state *api.ServiceState,
	poolSize int,
) *Worker {
	if poolSize <= 0 {
		poolSize = defaultMaxStores
	}

	return &Worker{
		id:        id,
		version:   version,
		db:        db,
		scheduler: sched,
		logger:    logger,
		state:     state,
		maxStores: poolSize,
	}
}

// Run ticks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		status := w.Iter(ctx)
		w.logger.Debug("worker iteration", slog.String("result", status))

		sleep := tickSleep
		if len(w.stores) == 0 {
			sleep = idleSleep
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Iter runs one worker tick: health check, topping up held stores, and
// advancing one store's task engine by a single step. It returns a short
// human-readable description of what happened, mirroring the Python
// worker's run_iteration return value.
func (w *Worker) Iter(ctx context.Context) (result string) {
	w.scheduledHealthCheck(ctx)
	w.updateStores(ctx)

	if w.state != nil {
		defer func() {
			w.state.SetLastResponse(result, len(w.stores))
		}()
	}

	if len(w.stores) == 0 {
		return "no stores held"
	}

	index := w.currentIndex % len(w.stores)
	w.currentIndex++

	store := w.stores[index]

	resp := store.process.Iter(ctx)

	if resp.Status == task.StatusSuccess || resp.Status == task.StatusError {
		w.stores = append(w.stores[:index], w.stores[index+1:]...)

		dataLoaded := resp.Status == task.StatusSuccess

		if _, err := w.scheduler.FinalizeDataLoad(ctx, store.lease.StoreProcessID, dataLoaded); err != nil {
			w.logger.Error("finalize data load",
				slog.Int64("store_id", store.lease.StoreID),
				slog.String("error", err.Error()))
		}

		w.logger.Info("store data load finished",
			slog.Int64("store_id", store.lease.StoreID),
			slog.String("status", resp.Status.String()))
	}

	return "tick"
}

// scheduledHealthCheck refreshes the worker's own health row plus every
// lease it currently holds, at most once per healthCheckPeriod.
func (w *Worker) scheduledHealthCheck(ctx context.Context) {
	if !w.lastHealthCheck.IsZero() && time.Since(w.lastHealthCheck) <= healthCheckPeriod {
		return
	}

	ids := make([]int64, len(w.stores))
	for i, s := range w.stores {
		ids[i] = s.lease.StoreProcessID
	}

	if _, err := w.scheduler.HeartbeatLeases(ctx, ids, w.id); err != nil {
		w.logger.Error("heartbeat leases", slog.String("error", err.Error()))
	}

	if err := w.scheduler.UpsertServiceHealth(ctx, "worker", w.id, w.version); err != nil {
		w.logger.Error("upsert worker health", slog.String("error", err.Error()))
	}

	w.lastHealthCheck = time.Now()
}

// updateStores tops the held set up to w.maxStores by acquiring one more
// lease, if any is eligible.
func (w *Worker) updateStores(ctx context.Context) {
	if len(w.stores) >= w.maxStores {
		return
	}

	store, err := w.acquireStore(ctx)
	if err != nil {
		w.logger.Error("acquire store", slog.String("error", err.Error()))

		return
	}

	if store == nil {
		return
	}

	w.stores = append(w.stores, store)

	w.logger.Info("store added",
		slog.Int64("store_id", store.lease.StoreID),
		slog.Int64("store_process_id", store.lease.StoreProcessID))
}

// acquireStore claims one data-load lease and builds the task engine for it.
// Returns nil, nil when no store is currently eligible. A store whose token
// has been marked invalid is immediately finalized without ever running a
// task against it.
func (w *Worker) acquireStore(ctx context.Context) (*activeStore, error) {
	lease, err := w.scheduler.AcquireDataLoad(ctx, w.id)
	if err != nil {
		return nil, fmt.Errorf("acquire data load lease: %w", err)
	}

	if lease == nil {
		return nil, nil
	}

	row, err := w.fetchStore(ctx, lease.StoreID)
	if err != nil {
		return nil, fmt.Errorf("fetch store %d: %w", lease.StoreID, err)
	}

	if !row.tokenIsValid {
		if _, finalizeErr := w.scheduler.FinalizeDataLoad(ctx, lease.StoreProcessID, true); finalizeErr != nil {
			w.logger.Error("finalize invalid-token store",
				slog.Int64("store_id", lease.StoreID),
				slog.String("error", finalizeErr.Error()))
		}

		w.logger.Error("store token is not valid", slog.Int64("store_id", lease.StoreID))

		return nil, nil
	}

	client := marketplace.New(row.apiToken)

	process := task.NewStoreProcess(row.storeID, w.logger, []task.Task{
		task.NewCardsList(w.db, client, w.logger, row.storeID),
		task.NewNMReportDetail(w.db, client, w.logger, row.storeID),
		task.NewFactStock(w.db, client, w.logger, row.storeID),
		task.NewFactSales(w.db, client, w.logger, row.storeID),
		task.NewAdvertInfo(w.db, client, w.logger, row.storeID),
		task.NewAdvertStats(w.db, client, w.logger, row.storeID),
	})

	return &activeStore{lease: lease, process: process}, nil
}

// fetchStore reads the api token and validity flag a task engine needs from
// the stores table.
func (w *Worker) fetchStore(ctx context.Context, storeID int64) (*storeRow, error) {
	var row storeRow

	row.storeID = storeID

	err := w.db.QueryRowContext(ctx, `
		SELECT store_name, api_token, token_is_valid
		FROM stores
		WHERE store_id = $1`, storeID).Scan(&row.storeName, &row.apiToken, &row.tokenIsValid)
	if err != nil {
		return nil, err
	}

	return &row, nil
}
