package task

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/wbfleet/ingestor/internal/marketplace"
)

const (
	advertUpdateSchedule = 6*time.Hour + 15*time.Minute
	advertInfoChunkSize  = 45
)

// AdvertInfo keeps two things fresh for a store: the set of campaign ids it
// runs (by type) and each campaign's lifecycle timestamps. Both are rebuilt
// on the same 6h15m schedule, but the campaign list is the cheaper of the
// two calls and always refreshed first.
type AdvertInfo struct {
	db      *sql.DB
	client  *marketplace.Client
	logger  *slog.Logger
	storeID int64
}

// NewAdvertInfo builds the advert info task for one store.
func NewAdvertInfo(db *sql.DB, client *marketplace.Client, logger *slog.Logger, storeID int64) *AdvertInfo {
	return &AdvertInfo{db: db, client: client, logger: logger, storeID: storeID}
}

func (t *AdvertInfo) Identifier() string { return "taskAdvertInfo" }

func (t *AdvertInfo) listIsFresh(ctx context.Context) (bool, error) {
	var actual, countAll int

	err := t.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN created_at::DATE >= (CURRENT_TIMESTAMP - $2 * INTERVAL '1 second')::DATE THEN 1 END) AS actual,
			COUNT(*) AS count_all
		FROM staging_advert_info
		WHERE store_id = $1`,
		t.storeID, advertUpdateSchedule.Seconds()).Scan(&actual, &countAll)
	if err != nil {
		return false, fmt.Errorf("advert list freshness: %w", err)
	}

	return countAll != 0 && actual == countAll, nil
}

func (t *AdvertInfo) infoIsFresh(ctx context.Context) (bool, error) {
	var nullCount, actualCount, totalCount int

	err := t.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN last_info_update_time IS NULL THEN 1 END) AS null_count,
			COUNT(CASE WHEN last_info_update_time >= (CURRENT_TIMESTAMP - $2 * INTERVAL '1 second') THEN 1 END) AS actual_count,
			COUNT(*) AS total_count
		FROM staging_advert_info
		WHERE store_id = $1`,
		t.storeID, advertUpdateSchedule.Seconds()).Scan(&nullCount, &actualCount, &totalCount)
	if err != nil {
		return false, fmt.Errorf("advert info freshness: %w", err)
	}

	return totalCount != 0 && nullCount == 0 && actualCount == totalCount, nil
}

func (t *AdvertInfo) reloadList(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM staging_advert_info WHERE store_id = $1`, t.storeID); err != nil {
		return fmt.Errorf("delete advert list for store %d: %w", t.storeID, err)
	}

	counts, err := t.client.AdvertCount(ctx)
	if err != nil {
		return &Error{Message: err.Error(), TaskClassIdentifier: t.Identifier()}
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin advert list insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO staging_advert_info (store_id, advert_id, advert_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (store_id, advert_id) DO UPDATE SET advert_type = EXCLUDED.advert_type`)
	if err != nil {
		return fmt.Errorf("prepare advert list insert: %w", err)
	}
	defer stmt.Close()

	for _, group := range counts.Adverts {
		for _, advert := range group.AdvertList {
			if _, err := stmt.ExecContext(ctx, t.storeID, advert.AdvertID, group.Type); err != nil {
				return fmt.Errorf("insert advert %d: %w", advert.AdvertID, err)
			}
		}
	}

	return tx.Commit()
}

func (t *AdvertInfo) advertIDs(ctx context.Context) ([]int64, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT advert_id FROM staging_advert_info WHERE store_id = $1 ORDER BY advert_id`, t.storeID)
	if err != nil {
		return nil, fmt.Errorf("list advert ids for store %d: %w", t.storeID, err)
	}
	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan advert id: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func chunk(ids []int64, size int) [][]int64 {
	var chunks [][]int64

	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}

		chunks = append(chunks, ids[i:end])
	}

	return chunks
}

func (t *AdvertInfo) updateInfo(ctx context.Context, infos []marketplace.AdvertInfo) error {
	if len(infos) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin advert info update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE staging_advert_info
		SET start_time = $3, end_time = $4, create_time = $5, change_time = $6, last_info_update_time = CURRENT_TIMESTAMP
		WHERE store_id = $1 AND advert_id = $2`)
	if err != nil {
		return fmt.Errorf("prepare advert info update: %w", err)
	}
	defer stmt.Close()

	for _, info := range infos {
		if _, err := stmt.ExecContext(ctx, t.storeID, info.AdvertID,
			info.StartTime, info.EndTime, info.CreateTime, info.ChangeTime); err != nil {
			return fmt.Errorf("update advert %d info: %w", info.AdvertID, err)
		}
	}

	return tx.Commit()
}

// Process refreshes the campaign list first if it is stale, then, if any
// campaign is missing lifecycle timestamps or overdue for them, refetches
// them for every campaign id, reporting SUCCESS only once both are fresh.
func (t *AdvertInfo) Process(ctx context.Context) (Response, error) {
	listFresh, err := t.listIsFresh(ctx)
	if err != nil {
		return Response{}, err
	}

	infoFresh, err := t.infoIsFresh(ctx)
	if err != nil {
		return Response{}, err
	}

	if listFresh && infoFresh {
		return Response{Status: StatusSuccess, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	if !listFresh {
		if err := t.reloadList(ctx); err != nil {
			return Response{}, err
		}

		listFresh, err = t.listIsFresh(ctx)
		if err != nil {
			return Response{}, err
		}

		if !listFresh {
			return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
		}
	}

	infoFresh, err = t.infoIsFresh(ctx)
	if err != nil {
		return Response{}, err
	}

	if !infoFresh {
		ids, err := t.advertIDs(ctx)
		if err != nil {
			return Response{}, err
		}

		for _, batch := range chunk(ids, advertInfoChunkSize) {
			time.Sleep(250 * time.Millisecond)

			infos, err := t.client.AdvertInfoBatch(ctx, batch)
			if err != nil {
				return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
			}

			if err := t.updateInfo(ctx, infos); err != nil {
				return Response{}, err
			}
		}
	}

	infoFresh, err = t.infoIsFresh(ctx)
	if err != nil {
		return Response{}, err
	}

	if !infoFresh {
		t.logger.Error("advert info still not fresh after reload",
			slog.Int64("store_id", t.storeID))

		return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	return Response{Status: StatusSuccess, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
}
