package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/wbfleet/ingestor/internal/marketplace"
)

const (
	advertStatsDaysToLoad        = 90
	advertStatsIDsChunkSize      = 100
	advertStatsDatesChunkSize    = 31
	advertStatsRequestsPerWindow = 1
	advertStatsWindow            = 70 * time.Second
)

// AdvertStats loads per-campaign, per-day, per-product ad statistics for the
// trailing 90 days, tracked in staging_advert_load_info as a grid of
// (advert_id, date) cells marked loaded once fetched. A single call pulls
// one chunk of unloaded cells; the task reports SUCCESS only once the grid
// itself is consistent with the campaign list and every cell is loaded.
type AdvertStats struct {
	db      *sql.DB
	client  *marketplace.Client
	logger  *slog.Logger
	storeID int64
	limiter *RateLimiter
}

// NewAdvertStats builds the advert stats task for one store.
func NewAdvertStats(db *sql.DB, client *marketplace.Client, logger *slog.Logger, storeID int64) *AdvertStats {
	return &AdvertStats{
		db:      db,
		client:  client,
		logger:  logger,
		storeID: storeID,
		limiter: NewRateLimiter(advertStatsRequestsPerWindow, advertStatsWindow),
	}
}

func (t *AdvertStats) Identifier() string { return "taskAdvert" }

func (t *AdvertStats) listAndInfoFresh(ctx context.Context) (bool, error) {
	var actual, countAll, nullCount, actualCount, totalCount int

	err := t.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN created_at::DATE >= (CURRENT_TIMESTAMP - $2 * INTERVAL '1 second')::DATE THEN 1 END),
			COUNT(*)
		FROM staging_advert_info WHERE store_id = $1`,
		t.storeID, advertUpdateSchedule.Seconds()).Scan(&actual, &countAll)
	if err != nil {
		return false, fmt.Errorf("advert stats list freshness: %w", err)
	}

	if countAll == 0 || actual != countAll {
		return false, nil
	}

	err = t.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN last_info_update_time IS NULL THEN 1 END),
			COUNT(CASE WHEN last_info_update_time >= (CURRENT_TIMESTAMP - $2 * INTERVAL '1 second') THEN 1 END),
			COUNT(*)
		FROM staging_advert_info WHERE store_id = $1`,
		t.storeID, advertUpdateSchedule.Seconds()).Scan(&nullCount, &actualCount, &totalCount)
	if err != nil {
		return false, fmt.Errorf("advert stats info freshness: %w", err)
	}

	return totalCount != 0 && nullCount == 0 && actualCount == totalCount, nil
}

// loadGridStatus reports how the load grid compares against the campaign
// list: whether it needs regenerating (any mismatch between the two id
// sets) and whether every cell present has already been loaded.
func (t *AdvertStats) loadGridStatus(ctx context.Context) (needsRegen, fullyLoaded bool, err error) {
	row := t.db.QueryRowContext(ctx, `
		WITH load_data AS (
			SELECT * FROM staging_advert_load_info WHERE store_id = $1
		),
		info_data_filtered AS (
			SELECT advert_id FROM staging_advert_info
			WHERE store_id = $1 AND end_time >= (NOW() - ($2 || ' days')::INTERVAL)
		),
		load_ids AS (SELECT DISTINCT advert_id FROM load_data),
		info_ids AS (SELECT DISTINCT advert_id FROM info_data_filtered),
		difference_ids AS (
			SELECT advert_id FROM load_ids WHERE advert_id NOT IN (SELECT advert_id FROM info_ids)
			UNION
			SELECT advert_id FROM info_ids WHERE advert_id NOT IN (SELECT advert_id FROM load_ids)
		)
		SELECT
			(SELECT COUNT(*) FROM load_data WHERE loaded = true) AS loaded,
			(SELECT COUNT(*) FROM load_data) AS count_all,
			(SELECT COUNT(*) FROM difference_ids) AS difference_count`,
		t.storeID, advertStatsDaysToLoad)

	var loaded, countAll, differenceCount int

	if err := row.Scan(&loaded, &countAll, &differenceCount); err != nil {
		return false, false, fmt.Errorf("advert load grid status: %w", err)
	}

	needsRegen = differenceCount != 0 || countAll == 0
	fullyLoaded = countAll != 0 && loaded == countAll

	return needsRegen, fullyLoaded, nil
}

func (t *AdvertStats) regenerateGrid(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM staging_advert_load_info WHERE store_id = $1`, t.storeID); err != nil {
		return fmt.Errorf("clear advert load grid for store %d: %w", t.storeID, err)
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO staging_advert_load_info (store_id, advert_id, date, loaded)
		WITH filtered_ids AS (
			SELECT advert_id FROM staging_advert_info
			WHERE store_id = $1 AND end_time >= (NOW() - ($2 || ' days')::INTERVAL)
		),
		date_series AS (
			SELECT generate_series(
				date_trunc('day', NOW() - ($2 || ' days')::INTERVAL),
				date_trunc('day', NOW()),
				INTERVAL '1 day'
			)::DATE AS report_date
		)
		SELECT $1, fi.advert_id, ds.report_date, false
		FROM filtered_ids fi CROSS JOIN date_series ds`,
		t.storeID, advertStatsDaysToLoad)
	if err != nil {
		return fmt.Errorf("regenerate advert load grid for store %d: %w", t.storeID, err)
	}

	return nil
}

// loadBatch is a campaign id paired with the unloaded dates owed for it,
// the shape the fullstats endpoint's payload expects.
type loadBatch struct {
	AdvertID int64
	Dates    []string
}

func (t *AdvertStats) nextBatch(ctx context.Context) ([]loadBatch, error) {
	rows, err := t.db.QueryContext(ctx, `
		WITH distinct_ids AS (
			SELECT DISTINCT advert_id
			FROM staging_advert_load_info
			WHERE loaded = false AND store_id = $1
			LIMIT $2
		)
		SELECT li.advert_id, array_agg(li.date ORDER BY li.date)
		FROM staging_advert_load_info li
		JOIN distinct_ids di ON li.advert_id = di.advert_id
		WHERE li.loaded = false
		GROUP BY li.advert_id
		LIMIT $3`,
		t.storeID, advertStatsIDsChunkSize, advertStatsDatesChunkSize)
	if err != nil {
		return nil, fmt.Errorf("next advert load batch: %w", err)
	}
	defer rows.Close()

	var batches []loadBatch

	for rows.Next() {
		var advertID int64

		var dates []time.Time

		if err := rows.Scan(&advertID, pq.Array(&dates)); err != nil {
			return nil, fmt.Errorf("scan advert load batch: %w", err)
		}

		dateStrs := make([]string, len(dates))
		for i, d := range dates {
			dateStrs[i] = d.Format("2006-01-02")
		}

		if len(dateStrs) > advertStatsDatesChunkSize {
			dateStrs = dateStrs[:advertStatsDatesChunkSize]
		}

		batches = append(batches, loadBatch{AdvertID: advertID, Dates: dateStrs})
	}

	return batches, rows.Err()
}

func (t *AdvertStats) insertStats(ctx context.Context, stats []marketplace.AdvertStats) error {
	var rows [][]any

	for _, advert := range stats {
		for _, day := range advert.Days {
			date := day.Date
			if len(date) > 10 {
				date = date[:10]
			}

			for _, app := range day.Apps {
				for _, nm := range app.Nm {
					rows = append(rows, []any{
						date, t.storeID, advert.AdvertID, app.AppType, nm.NmID,
						nm.Views, nm.Clicks, nm.Ctr, nm.Cpc, nm.Sum, nm.Atbs, nm.Orders, nm.Cr, nm.Shks, nm.SumPrice,
					})
				}
			}
		}
	}

	if len(rows) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin advert stats insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const tempTable = "temp_advert_stat"

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TEMP TABLE %s (
			date DATE, store_id INTEGER, advert_id INTEGER, app_type INTEGER, nm_id INTEGER,
			views INTEGER, clicks INTEGER, ctr NUMERIC, cpc NUMERIC, sum NUMERIC,
			atbs INTEGER, orders INTEGER, cr NUMERIC, shks INTEGER, sum_price NUMERIC
		) ON COMMIT DROP`, tempTable)); err != nil {
		return fmt.Errorf("create %s: %w", tempTable, err)
	}

	columns := []string{
		"date", "store_id", "advert_id", "app_type", "nm_id",
		"views", "clicks", "ctr", "cpc", "sum", "atbs", "orders", "cr", "shks", "sum_price",
	}

	if err := bulkCopy(ctx, tx, tempTable, columns, rows); err != nil {
		return err
	}

	insertSQL := fmt.Sprintf(`
		INSERT INTO staging_advert_stat (
			date, store_id, advert_id, app_type, nm_id,
			views, clicks, ctr, cpc, sum, atbs, orders, cr, shks, sum_price
		)
		SELECT date, store_id, advert_id, app_type, nm_id,
			views, clicks, ctr, cpc, sum, atbs, orders, cr, shks, sum_price
		FROM %s
		ON CONFLICT (date, store_id, advert_id, app_type, nm_id) DO UPDATE SET
			views = EXCLUDED.views, clicks = EXCLUDED.clicks, ctr = EXCLUDED.ctr, cpc = EXCLUDED.cpc,
			sum = EXCLUDED.sum, atbs = EXCLUDED.atbs, orders = EXCLUDED.orders, cr = EXCLUDED.cr,
			shks = EXCLUDED.shks, sum_price = EXCLUDED.sum_price, created_at = CURRENT_TIMESTAMP`, tempTable)

	if _, err := tx.ExecContext(ctx, insertSQL); err != nil {
		return fmt.Errorf("insert advert stats rows: %w", err)
	}

	return tx.Commit()
}

func (t *AdvertStats) markLoaded(ctx context.Context, batches []loadBatch) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark advert batch loaded: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE staging_advert_load_info
		SET loaded = true
		WHERE store_id = $1 AND advert_id = $2 AND date = $3`)
	if err != nil {
		return fmt.Errorf("prepare mark advert loaded: %w", err)
	}
	defer stmt.Close()

	for _, batch := range batches {
		for _, date := range batch.Dates {
			if _, err := stmt.ExecContext(ctx, t.storeID, batch.AdvertID, date); err != nil {
				return fmt.Errorf("mark advert %d/%s loaded: %w", batch.AdvertID, date, err)
			}
		}
	}

	return tx.Commit()
}

// Process loads one chunk of the (campaign, date) grid. Reports IN_PROGRESS
// until the campaign list/info are fresh, the grid matches them, and every
// cell is loaded — in that order, mirroring the dependency chain between
// the three.
func (t *AdvertStats) Process(ctx context.Context) (Response, error) {
	fresh, err := t.listAndInfoFresh(ctx)
	if err != nil {
		return Response{}, err
	}

	if !fresh {
		return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	needsRegen, fullyLoaded, err := t.loadGridStatus(ctx)
	if err != nil {
		return Response{}, err
	}

	if needsRegen {
		if err := t.regenerateGrid(ctx); err != nil {
			return Response{}, err
		}
	}

	_, fullyLoaded, err = t.loadGridStatus(ctx)
	if err != nil {
		return Response{}, err
	}

	if fullyLoaded {
		return Response{Status: StatusSuccess, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	batches, err := t.nextBatch(ctx)
	if err != nil {
		return Response{}, err
	}

	if !t.limiter.Allow() {
		return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	payload := make([]marketplace.AdvertStatsRequest, len(batches))
	for i, b := range batches {
		payload[i] = marketplace.AdvertStatsRequest{ID: b.AdvertID, Dates: b.Dates}
	}

	stats, err := t.client.AdvertFullStats(ctx, payload)
	if err != nil {
		if errors.Is(err, marketplace.ErrTooManyRequests) {
			t.limiter.Block()
		}

		return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	if stats != nil {
		if err := t.insertStats(ctx, stats); err != nil {
			return Response{}, err
		}
	}

	if err := t.markLoaded(ctx, batches); err != nil {
		return Response{}, err
	}

	_, fullyLoaded, err = t.loadGridStatus(ctx)
	if err != nil {
		return Response{}, err
	}

	if fullyLoaded {
		return Response{Status: StatusSuccess, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
}
