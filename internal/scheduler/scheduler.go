// Package scheduler implements the lease-based coordination that lets many
// worker and manager processes share the store_process table without
// stepping on each other's work. Every acquire is a single
// SELECT ... FOR UPDATE SKIP LOCKED CTE followed by an UPDATE of the winning
// row, so two processes racing for the same store never block each other —
// the loser simply sees no eligible row and moves on.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// staleHealthCheck is how long a process_health_check can go unrefreshed
	// before a lease is considered abandoned and eligible for reclaim.
	staleHealthCheck = 1200 * time.Second

	// staleDataLoad bounds how long a data-load lease can run before another
	// worker is allowed to take over the same store.
	staleDataLoad = 3600 * time.Second

	// etlSchedule and exportSchedule gate how often the ETL/export stages
	// re-run for a store once a data load has landed.
	etlSchedule    = 6*time.Hour + 15*time.Minute
	exportSchedule = 6*time.Hour + 15*time.Minute
)

// Lease is a row of store_process, the shared coordination table every
// stage acquires from and releases back to.
type Lease struct {
	StoreProcessID     int64
	StoreID            int64
	Running            bool
	Service            sql.NullString
	Error              sql.NullString
	ProcessHealthCheck sql.NullTime
	LastWorkerStart    sql.NullTime
	LastWorkerEnd      sql.NullTime
	LastDataLoad       sql.NullTime
	LastDmETL          sql.NullTime
	LastClientLoad     sql.NullTime
	CreatedAt          time.Time
}

// leaseColumns lists store_process columns in the order scanLease expects.
const leaseColumns = `store_process_id, store_id, running, service, error,
	process_health_check, last_worker_start, last_worker_end,
	last_data_load, last_dm_etl, last_client_load, created_at`

func scanLease(row *sql.Row) (*Lease, error) {
	var l Lease

	err := row.Scan(
		&l.StoreProcessID, &l.StoreID, &l.Running, &l.Service, &l.Error,
		&l.ProcessHealthCheck, &l.LastWorkerStart, &l.LastWorkerEnd,
		&l.LastDataLoad, &l.LastDmETL, &l.LastClientLoad, &l.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("scan lease: %w", err)
	}

	return &l, nil
}

// Scheduler acquires and releases store_process leases for the data-load,
// ETL and export stages.
type Scheduler struct {
	db *sql.DB
}

// New creates a Scheduler backed by the shared connection pool.
func New(db *sql.DB) *Scheduler {
	return &Scheduler{db: db}
}

// AcquireDataLoad claims one store eligible for a fresh data-load run: its
// last load is stale (or never happened) and its lease looks abandoned
// (health check stale, or not currently running). Returns nil, nil when no
// store is eligible.
func (s *Scheduler) AcquireDataLoad(ctx context.Context, workerID string) (*Lease, error) {
	query := `
		WITH blocked_store AS (
			SELECT store_process_id
			FROM store_process
			WHERE
				(
					last_data_load < NOW() - ($1 * INTERVAL '1 second')
					OR last_data_load IS NULL
				)
				AND (
					(
						process_health_check < NOW() - ($2 * INTERVAL '1 second')
						OR process_health_check IS NULL
					)
					OR (running = false OR running IS NULL)
				)
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE store_process sp
		SET
			running = true,
			process_health_check = NOW(),
			last_worker_start = NOW(),
			service = $3
		FROM blocked_store
		WHERE sp.store_process_id = blocked_store.store_process_id
		RETURNING ` + leaseColumns

	row := s.db.QueryRowContext(ctx, query,
		staleDataLoad.Seconds(), staleHealthCheck.Seconds(), workerID)

	return scanLease(row)
}

// FinalizeDataLoad releases a data-load lease, recording the worker's
// terminal outcome. When dataLoaded is true, last_data_load is stamped so
// the ETL stage can pick the store up.
func (s *Scheduler) FinalizeDataLoad(ctx context.Context, storeProcessID int64, dataLoaded bool) (*Lease, error) {
	setDataLoad := ""
	if dataLoaded {
		setDataLoad = "last_data_load = NOW(),"
	}

	query := fmt.Sprintf(`
		UPDATE store_process
		SET
			running = false,
			last_worker_end = NOW(),
			%s
			process_health_check = NOW()
		WHERE store_process_id = $1
		RETURNING %s`, setDataLoad, leaseColumns)

	row := s.db.QueryRowContext(ctx, query, storeProcessID)

	return scanLease(row)
}

// AcquireETL claims one store whose data load has landed since the last ETL
// run (or which has never been ETL'd) and whose lease is not currently held.
func (s *Scheduler) AcquireETL(ctx context.Context, managerID string) (*Lease, error) {
	query := `
		WITH next_store AS (
			SELECT *
			FROM store_process
			WHERE
				(
					last_data_load IS NOT NULL
					AND last_data_load >= (CURRENT_TIMESTAMP)::DATE + ($1 * INTERVAL '1 second')
				)
				AND
				(
					last_dm_etl IS NULL
					OR last_dm_etl < (CURRENT_TIMESTAMP)::DATE + ($1 * INTERVAL '1 second')
				)
				AND
				(
					(
						process_health_check < NOW() - ($2 * INTERVAL '1 second')
						OR process_health_check IS NULL
					)
					OR (running = false OR running IS NULL)
				)
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE store_process ss
		SET
			process_health_check = CURRENT_TIMESTAMP,
			service = $3,
			running = true
		FROM next_store ns
		WHERE ss.store_id = ns.store_id
		RETURNING ` + leaseColumns

	row := s.db.QueryRowContext(ctx, query,
		etlSchedule.Seconds(), staleHealthCheck.Seconds(), managerID)

	return scanLease(row)
}

// AcquireExport claims one store whose ETL has already run and whose export
// (client load) is stale or has never happened.
func (s *Scheduler) AcquireExport(ctx context.Context, managerID string) (*Lease, error) {
	query := `
		WITH next_store AS (
			SELECT *
			FROM store_process
			WHERE
				(
					last_data_load IS NOT NULL
					AND last_data_load >= (CURRENT_TIMESTAMP)::DATE + ($1 * INTERVAL '1 second')
				)
				AND
				(
					last_dm_etl IS NOT NULL
					OR last_dm_etl > (CURRENT_TIMESTAMP)::DATE + ($1 * INTERVAL '1 second')
				)
				AND
				(
					last_client_load IS NULL
					OR last_client_load < (CURRENT_TIMESTAMP)::DATE + ($1 * INTERVAL '1 second')
				)
				AND
				(
					(
						process_health_check < NOW() - ($2 * INTERVAL '1 second')
						OR process_health_check IS NULL
					)
					OR (running = false OR running IS NULL)
				)
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE store_process ss
		SET
			process_health_check = CURRENT_TIMESTAMP,
			service = $3,
			running = true
		FROM next_store ns
		WHERE ss.store_id = ns.store_id
		RETURNING ` + leaseColumns

	row := s.db.QueryRowContext(ctx, query,
		exportSchedule.Seconds(), staleHealthCheck.Seconds(), managerID)

	return scanLease(row)
}

// FinalizeETL releases an ETL lease. The actual dimensional write and the
// last_dm_etl stamp happen together inside the manager's ETL transaction
// (internal/manager), not here — this only covers the case where acquiring
// the lease succeeded but the ETL driver never got to run it.
func (s *Scheduler) FinalizeETL(ctx context.Context, storeID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE store_process
		SET running = false
		WHERE store_id = $1`, storeID)
	if err != nil {
		return fmt.Errorf("finalize etl lease for store %d: %w", storeID, err)
	}

	return nil
}

// FinalizeExport releases an export lease and stamps last_client_load.
func (s *Scheduler) FinalizeExport(ctx context.Context, storeID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE store_process
		SET
			running = false,
			last_client_load = CURRENT_TIMESTAMP
		WHERE store_id = $1`, storeID)
	if err != nil {
		return fmt.Errorf("finalize export lease for store %d: %w", storeID, err)
	}

	return nil
}

// HeartbeatLeases refreshes process_health_check for every store_process_id
// a process currently holds, scoped to its own service identity so a
// process can never refresh a lease it doesn't own. Returns the number of
// rows actually refreshed, which the caller can compare against len(ids) to
// detect a lease it believed it held but has since lost — the batch
// equivalent of the worker's update_store_health_check, fixed to use
// RowsAffected instead of assuming a single-row result for a
// potentially-multi-row UPDATE.
func (s *Scheduler) HeartbeatLeases(ctx context.Context, ids []int64, service string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)

	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}

	args = append(args, service)

	query := fmt.Sprintf(`
		UPDATE store_process
		SET process_health_check = NOW()
		WHERE store_process_id IN (%s)
		AND service = $%d`, strings.Join(placeholders, ","), len(ids)+1)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("heartbeat leases: %w", err)
	}

	return result.RowsAffected()
}

// UpsertServiceHealth records that a worker or manager process is alive,
// mirroring the Python worker's ON CONFLICT upsert into service_health.
func (s *Scheduler) UpsertServiceHealth(ctx context.Context, serviceType, serviceName, version string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_health (service_type, service_name, version, last_health_check, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (service_type, service_name)
		DO UPDATE SET
			last_health_check = NOW(),
			updated_at = NOW(),
			version = COALESCE(EXCLUDED.version, service_health.version)`,
		serviceType, serviceName, version)
	if err != nil {
		return fmt.Errorf("upsert service health for %s/%s: %w", serviceType, serviceName, err)
	}

	return nil
}
