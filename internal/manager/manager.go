// Package manager drives the dimensional ETL and spreadsheet export stages:
// it claims a store's etl/export lease from internal/scheduler, runs the
// dimensional pivot write or the sheet upload, and releases the lease on
// completion.
package manager

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/wbfleet/ingestor/internal/aliasing"
	"github.com/wbfleet/ingestor/internal/api"
	"github.com/wbfleet/ingestor/internal/scheduler"
	"github.com/wbfleet/ingestor/internal/sheetclient"
)

const (
	// sheetName is the single tab every store's export lands on, mirroring
	// the Python uploader's fixed sheet_name="tech_list".
	sheetName = "tech_list"

	// healthCheckPeriod is how often the manager refreshes its own health row.
	healthCheckPeriod = 60 * time.Second

	// tickSleep runs between every iteration regardless of outcome.
	tickSleep = 300 * time.Millisecond

	// idleSleep is the extra wait applied on top of tickSleep when an
	// iteration found neither an ETL nor an export candidate.
	idleSleep = 10 * time.Second
)

// dimTechListColumns is the fixed column order the dimensional pivot writes
// and, in the same order, what every export upload's header row and value
// rows use.
var dimTechListColumns = []string{
	"store_id", "date", "nm_id", "vendor_code",
	"open_card_count", "add_to_cart_count", "orders_count", "orders_sum_rub",
	"fact_byouts_count", "fact_byouts_sum",
	"stock_count", "to_client_count", "from_client_count",
	"views_auto", "clicks_auto", "sum_auto", "atbs_auto", "orders_auto", "shks_auto", "price_auto",
	"views_mix", "clicks_mix", "sum_mix", "atbs_mix", "orders_mix", "shks_mix", "price_mix",
	"views_search", "clicks_search", "sum_search", "atbs_search", "orders_search", "shks_search", "price_search",
	"views_cat", "clicks_cat", "sum_cat", "atbs_cat", "orders_cat", "shks_cat", "price_cat",
	"views_card", "clicks_card", "sum_card", "atbs_card", "orders_card", "shks_card", "price_card",
	"views_main", "clicks_main", "sum_main", "atbs_main", "orders_main", "shks_main", "price_main",
}

// Manager claims and drives one store's etl/export lease at a time.
type Manager struct {
	id        string
	version   string
	db        *sql.DB
	scheduler *scheduler.Scheduler
	uploader  sheetclient.Uploader
	resolver  *aliasing.TableIDResolver
	logger    *slog.Logger
	state     *api.ServiceState

	lastHealthCheck time.Time
}

// New creates a Manager identified by id, reporting version on its health
// check rows. state is the process-wide status record /status and /health
// read from; every tick's outcome and the count of stores it touched is
// written to it, mirroring the Python manager's info_lock-guarded
// worker_status dict.
func New(
	id, version string,
	db *sql.DB,
	sched *scheduler.Scheduler,
	uploader sheetclient.Uploader,
	resolver *aliasing.TableIDResolver,
	logger *slog.Logger,
	state *api.ServiceState,
) *Manager {
	return &Manager{
		id:        id,
		version:   version,
		db:        db,
		scheduler: sched,
		uploader:  uploader,
		resolver:  resolver,
		logger:    logger,
		state:     state,
	}
}

// Run ticks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tickSleep):
		}

		idle := m.Iter(ctx)

		if idle {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleSleep):
			}
		}
	}
}

// Iter runs one manager tick: health check, one ETL attempt, one export
// attempt. It returns true when neither stage found a candidate store,
// mirroring the Python manager's run_iteration idle branch.
func (m *Manager) Iter(ctx context.Context) bool {
	m.scheduledHealthCheck(ctx)

	didETL := m.runETL(ctx)
	didExport := m.runExport(ctx)

	if m.state != nil {
		m.state.SetLastResponse(resultString(didETL, didExport), leaseCount(didETL, didExport))
	}

	return !didETL && !didExport
}

// resultString mirrors the worker's short human-readable tick outcome for
// /status, naming which stage(s) this tick actually found a candidate for.
func resultString(didETL, didExport bool) string {
	switch {
	case didETL && didExport:
		return "ran etl and export"
	case didETL:
		return "ran etl"
	case didExport:
		return "ran export"
	default:
		return "no stores held"
	}
}

// leaseCount is the number of store leases this tick acquired, whether or
// not the stage run on them succeeded — the manager's equivalent of the worker's held-lease
// count, since a manager lease is claimed and released within one tick
// rather than held across many.
func leaseCount(didETL, didExport bool) int {
	count := 0

	if didETL {
		count++
	}

	if didExport {
		count++
	}

	return count
}

func (m *Manager) scheduledHealthCheck(ctx context.Context) {
	if !m.lastHealthCheck.IsZero() && time.Since(m.lastHealthCheck) <= healthCheckPeriod {
		return
	}

	if err := m.scheduler.UpsertServiceHealth(ctx, "manager", m.id, m.version); err != nil {
		m.logger.Error("upsert manager health", slog.String("error", err.Error()))
	}

	m.lastHealthCheck = time.Now()
}

// runETL claims one ETL-eligible store, runs the dimensional pivot write
// and reports whether a candidate was found. The pivot transaction itself
// stamps last_dm_etl and clears running on success, so there is no separate
// finalize call on the happy path — only a logged error on failure. The
// lease is then reclaimed by the next acquirer once its health check goes
// stale, the same bounded-leak window the Python original leaves open.
func (m *Manager) runETL(ctx context.Context) bool {
	lease, err := m.scheduler.AcquireETL(ctx, m.id)
	if err != nil {
		m.logger.Error("acquire etl lease", slog.String("error", err.Error()))

		return false
	}

	if lease == nil {
		return false
	}

	if err := m.insertStoreDim(ctx, lease.StoreID); err != nil {
		m.logger.Error("insert store dim",
			slog.Int64("store_id", lease.StoreID),
			slog.String("error", err.Error()))

		return true
	}

	m.logger.Info("store dim written",
		slog.Int64("store_id", lease.StoreID),
		slog.Int64("store_process_id", lease.StoreProcessID))

	return true
}

// runExport claims one export-eligible store, uploads its dimensional rows
// to its spreadsheet, and finalizes the lease only on a successful upload
// — an upload that fails, or that finds no rows to send, leaves the lease
// held rather than marking the store exported; the store becomes eligible
// again once the lease's health check goes stale.
func (m *Manager) runExport(ctx context.Context) bool {
	lease, err := m.scheduler.AcquireExport(ctx, m.id)
	if err != nil {
		m.logger.Error("acquire export lease", slog.String("error", err.Error()))

		return false
	}

	if lease == nil {
		return false
	}

	tableID, err := m.fetchStoreTableID(ctx, lease.StoreID)
	if err != nil {
		m.logger.Error("fetch store table id",
			slog.Int64("store_id", lease.StoreID),
			slog.String("error", err.Error()))

		return true
	}

	spreadsheetID := m.resolver.Resolve(tableID)

	rows, err := m.fetchDimTechListRows(ctx, lease.StoreID)
	if err != nil {
		m.logger.Error("fetch dim tech list rows",
			slog.Int64("store_id", lease.StoreID),
			slog.String("error", err.Error()))

		return true
	}

	uploaded, err := m.uploader.Upload(ctx, spreadsheetID, sheetName, rows)
	if err != nil {
		m.logger.Error("upload store data",
			slog.Int64("store_id", lease.StoreID),
			slog.String("spreadsheet_id", spreadsheetID),
			slog.String("error", err.Error()))

		return true
	}

	if !uploaded {
		m.logger.Warn("no data found to upload", slog.Int64("store_id", lease.StoreID))

		return true
	}

	if err := m.scheduler.FinalizeExport(ctx, lease.StoreID); err != nil {
		m.logger.Error("finalize export",
			slog.Int64("store_id", lease.StoreID),
			slog.String("error", err.Error()))

		return true
	}

	m.logger.Info("store table loaded to sheet",
		slog.Int64("store_id", lease.StoreID),
		slog.String("spreadsheet_id", spreadsheetID))

	return true
}

// insertStoreDim runs the delete-then-insert dimensional pivot and the
// lease-release update as one transaction, so a failure partway through
// never leaves dim_tech_list half-rewritten for a store.
func (m *Manager) insertStoreDim(ctx context.Context, storeID int64) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dim_tech_list WHERE store_id = $1`, storeID); err != nil {
		return fmt.Errorf("delete existing dim rows: %w", err)
	}

	if _, err := tx.ExecContext(ctx, dimTechListInsertQuery, storeID); err != nil {
		return fmt.Errorf("insert dim rows: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE store_process
		SET last_dm_etl = CURRENT_TIMESTAMP, running = false
		WHERE store_id = $1`, storeID); err != nil {
		return fmt.Errorf("stamp last_dm_etl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dim transaction: %w", err)
	}

	return nil
}

// fetchStoreTableID reads the spreadsheet id a store's export defaults to,
// before any dev-environment override is applied.
func (m *Manager) fetchStoreTableID(ctx context.Context, storeID int64) (string, error) {
	var tableID string

	err := m.db.QueryRowContext(ctx, `SELECT table_id FROM stores WHERE store_id = $1`, storeID).Scan(&tableID)
	if err != nil {
		return "", fmt.Errorf("fetch table id for store %d: %w", storeID, err)
	}

	return tableID, nil
}

// fetchDimTechListRows builds the header-row-first grid sheetclient.Upload
// expects: dimTechListColumns as row zero, then one row per dim_tech_list
// record for storeID, in the same column order.
func (m *Manager) fetchDimTechListRows(ctx context.Context, storeID int64) ([][]any, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM dim_tech_list
		WHERE store_id = $1
		ORDER BY date, nm_id`, dimTechListSelectList())

	rows, err := m.db.QueryContext(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("query dim tech list: %w", err)
	}
	defer rows.Close()

	grid := [][]any{dimTechListHeaderRow()}

	for rows.Next() {
		scanTargets := make([]any, len(dimTechListColumns))
		values := make([]any, len(dimTechListColumns))

		for i := range scanTargets {
			scanTargets[i] = &values[i]
		}

		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan dim tech list row: %w", err)
		}

		grid = append(grid, values)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dim tech list rows: %w", err)
	}

	return grid, nil
}

func dimTechListHeaderRow() []any {
	header := make([]any, len(dimTechListColumns))
	for i, col := range dimTechListColumns {
		header[i] = col
	}

	return header
}
