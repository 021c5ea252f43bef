package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wbfleet/ingestor/internal/marketplace"
)

const (
	nmReportDetailSchedule   = 6*time.Hour + 15*time.Minute
	nmReportDetailTargetDays = 90
	nmReportRequestsPerWindow = 3
	nmReportWindow            = 60 * time.Second
)

// NMReportDetail walks the trailing 90 days one date at a time, paginating
// each date's report to completion before moving to the next, so a store
// that has been stopped mid-load resumes from the exact page it left off on
// rather than starting the date over.
type NMReportDetail struct {
	db      *sql.DB
	client  *marketplace.Client
	logger  *slog.Logger
	storeID int64
	limiter *RateLimiter
}

// NewNMReportDetail builds the nm-report/detail task for one store.
func NewNMReportDetail(db *sql.DB, client *marketplace.Client, logger *slog.Logger, storeID int64) *NMReportDetail {
	return &NMReportDetail{
		db:      db,
		client:  client,
		logger:  logger,
		storeID: storeID,
		limiter: NewRateLimiter(nmReportRequestsPerWindow, nmReportWindow),
	}
}

func (t *NMReportDetail) Identifier() string { return "taskNmReportDetail" }

type nmReportDateState struct {
	date       time.Time
	page       int
	isNextPage sql.NullBool
}

// nextDate finds the earliest of the trailing 90 days (ending at
// (NOW()-6h15m)::DATE) that is either unrecorded or still paginating.
func (t *NMReportDetail) nextDate(ctx context.Context) (*nmReportDateState, error) {
	row := t.db.QueryRowContext(ctx, `
		WITH target_dates AS (
			SELECT generate_series(
				(NOW() - $2 * INTERVAL '1 second')::DATE - ($3::TEXT || ' days')::INTERVAL,
				(NOW() - $2 * INTERVAL '1 second')::DATE,
				'1 day'::INTERVAL
			)::DATE AS report_date
		)
		SELECT td.report_date, COALESCE(i.page, 0), i.is_next_page
		FROM target_dates td
		LEFT JOIN staging_nm_report_detail_info i
			ON i.store_id = $1 AND i.fact_date = td.report_date
		WHERE i.is_next_page IS NULL OR i.is_next_page = true
		ORDER BY td.report_date ASC
		LIMIT 1`,
		t.storeID, nmReportDetailSchedule.Seconds(), nmReportDetailTargetDays)

	var state nmReportDateState

	err := row.Scan(&state.date, &state.page, &state.isNextPage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("nm report detail next date: %w", err)
	}

	return &state, nil
}

func (t *NMReportDetail) deleteDate(ctx context.Context, date time.Time) error {
	_, err := t.db.ExecContext(ctx, `
		DELETE FROM staging_nm_report_detail WHERE store_id = $1 AND date = $2`,
		t.storeID, date)
	if err != nil {
		return fmt.Errorf("delete nm report detail rows for %s: %w", date.Format("2006-01-02"), err)
	}

	return nil
}

func (t *NMReportDetail) insertPage(ctx context.Context, date time.Time, cards []marketplace.NMReportCardStats) error {
	if len(cards) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin nm report detail insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const tempTable = "temp_nm_report_detail"

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TEMP TABLE %s (
			date DATE, store_id INTEGER, nm_id INTEGER,
			open_card_count INTEGER, add_to_cart_count INTEGER,
			orders_count INTEGER, orders_sum_rub INTEGER,
			buyouts_count INTEGER, buyouts_sum_rub INTEGER
		) ON COMMIT DROP`, tempTable)); err != nil {
		return fmt.Errorf("create %s: %w", tempTable, err)
	}

	columns := []string{
		"date", "store_id", "nm_id", "open_card_count", "add_to_cart_count",
		"orders_count", "orders_sum_rub", "buyouts_count", "buyouts_sum_rub",
	}

	rows := make([][]any, 0, len(cards))
	for _, card := range cards {
		sp := card.Statistics.SelectedPeriod
		rows = append(rows, []any{
			date, t.storeID, card.NmID,
			sp.OpenCardCount, sp.AddToCartCount, sp.OrdersCount, sp.OrdersSumRub,
			sp.BuyoutsCount, sp.BuyoutsSumRub,
		})
	}

	if err := bulkCopy(ctx, tx, tempTable, columns, rows); err != nil {
		return err
	}

	insertSQL := fmt.Sprintf(`
		INSERT INTO staging_nm_report_detail (
			date, store_id, nm_id, open_card_count, add_to_cart_count,
			orders_count, orders_sum_rub, buyouts_count, buyouts_sum_rub
		)
		SELECT date, store_id, nm_id, open_card_count, add_to_cart_count,
			orders_count, orders_sum_rub, buyouts_count, buyouts_sum_rub
		FROM %s
		ON CONFLICT (date, store_id, nm_id) DO NOTHING`, tempTable)

	if _, err := tx.ExecContext(ctx, insertSQL); err != nil {
		return fmt.Errorf("insert nm report detail rows: %w", err)
	}

	return tx.Commit()
}

func (t *NMReportDetail) recordFreshDate(ctx context.Context, date time.Time, page int, isNextPage bool) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO staging_nm_report_detail_info (store_id, fact_date, page, is_next_page, cant_be_load)
		VALUES ($1, $2, $3, $4, false)`,
		t.storeID, date, page, isNextPage)
	if err != nil {
		return fmt.Errorf("record nm report detail info for %s: %w", date.Format("2006-01-02"), err)
	}

	return nil
}

func (t *NMReportDetail) advancePage(ctx context.Context, date time.Time, page int, isNextPage bool) error {
	_, err := t.db.ExecContext(ctx, `
		UPDATE staging_nm_report_detail_info
		SET page = $3, is_next_page = $4
		WHERE store_id = $1 AND fact_date = $2`,
		t.storeID, date, page, isNextPage)
	if err != nil {
		return fmt.Errorf("advance nm report detail page for %s: %w", date.Format("2006-01-02"), err)
	}

	return nil
}

// Process loads one page of one date's nm-report/detail feed per call.
// Reports IN_PROGRESS until every one of the trailing 90 days has been
// paginated to completion.
func (t *NMReportDetail) Process(ctx context.Context) (Response, error) {
	state, err := t.nextDate(ctx)
	if err != nil {
		return Response{}, err
	}

	if state == nil {
		return Response{Status: StatusSuccess, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	if !t.limiter.Allow() {
		return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	fresh := !state.isNextPage.Valid
	page := state.page

	if fresh {
		page = 1

		if err := t.deleteDate(ctx, state.date); err != nil {
			return Response{}, err
		}
	} else {
		page++
	}

	period := marketplace.NMReportPeriod{
		Begin: state.date.Format("2006-01-02"),
		End:   state.date.Format("2006-01-02"),
	}

	resp, err := t.client.NMReportDetail(ctx, period, page)
	if err != nil {
		if errors.Is(err, marketplace.ErrTooManyRequests) {
			t.limiter.Block()
			return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
		}

		return Response{}, &Error{Message: err.Error(), TaskClassIdentifier: t.Identifier()}
	}

	if err := t.insertPage(ctx, state.date, resp.Data.Cards); err != nil {
		return Response{}, err
	}

	if fresh {
		if err := t.recordFreshDate(ctx, state.date, page, resp.Data.IsNextPage); err != nil {
			return Response{}, err
		}
	} else {
		if err := t.advancePage(ctx, state.date, page, resp.Data.IsNextPage); err != nil {
			return Response{}, err
		}
	}

	return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
}
