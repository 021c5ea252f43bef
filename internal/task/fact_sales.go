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
	factSalesSchedule      = 6*time.Hour + 15*time.Minute
	factSalesDefaultCursor = "2025-01-01T00:00:00"
)

// FactSales incrementally walks the sales feed using the marketplace's own
// lastChangeDate cursor: every call asks for everything since the last
// cursor it saved, and an empty response means it has caught up.
type FactSales struct {
	db      *sql.DB
	client  *marketplace.Client
	logger  *slog.Logger
	storeID int64
}

// NewFactSales builds the sales task for one store.
func NewFactSales(db *sql.DB, client *marketplace.Client, logger *slog.Logger, storeID int64) *FactSales {
	return &FactSales{db: db, client: client, logger: logger, storeID: storeID}
}

func (t *FactSales) Identifier() string { return "taskFactSales" }

// status is "need_load" when the store has never loaded, is mid-load, or
// finished a load before today's 6h15m schedule window opened; "ok"
// otherwise.
func (t *FactSales) status(ctx context.Context) (status, cursor string, err error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT last_change_date, is_final
		FROM staging_fact_sales_info
		WHERE store_id = $1`, t.storeID)

	var lastChangeDate string
	var isFinal bool

	err = row.Scan(&lastChangeDate, &isFinal)
	if errors.Is(err, sql.ErrNoRows) {
		return "need_load", factSalesDefaultCursor, nil
	}

	if err != nil {
		return "", "", fmt.Errorf("fact sales status: %w", err)
	}

	if !isFinal {
		return "need_load", lastChangeDate, nil
	}

	var stale bool

	err = t.db.QueryRowContext(ctx, `
		SELECT $1::TIMESTAMP < (CURRENT_TIMESTAMP)::DATE + $2 * INTERVAL '1 second'`,
		lastChangeDate, factSalesSchedule.Seconds()).Scan(&stale)
	if err != nil {
		return "", "", fmt.Errorf("fact sales schedule check: %w", err)
	}

	if stale {
		return "need_load", lastChangeDate, nil
	}

	return "ok", lastChangeDate, nil
}

func (t *FactSales) markFinal(ctx context.Context, cursor string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO staging_fact_sales_info (store_id, last_change_date, is_final)
		VALUES ($1, $2, true)
		ON CONFLICT (store_id) DO UPDATE SET
			last_change_date = EXCLUDED.last_change_date,
			is_final = true`, t.storeID, cursor)
	if err != nil {
		return fmt.Errorf("mark fact sales final: %w", err)
	}

	return nil
}

func (t *FactSales) upsertCursor(ctx context.Context, cursor string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO staging_fact_sales_info (store_id, last_change_date, is_final)
		VALUES ($1, $2, false)
		ON CONFLICT (store_id) DO UPDATE SET
			last_change_date = EXCLUDED.last_change_date,
			is_final = false`, t.storeID, cursor)
	if err != nil {
		return fmt.Errorf("upsert fact sales cursor: %w", err)
	}

	return nil
}

func (t *FactSales) insert(ctx context.Context, sales []marketplace.Sale) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fact sales insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const tempTable = "temp_fact_sales"

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TEMP TABLE %s (
			store_id INTEGER, sale_id TEXT, nm_id INTEGER, sale_type TEXT,
			date DATE, last_change_date TEXT, price_with_disc NUMERIC
		) ON COMMIT DROP`, tempTable)); err != nil {
		return fmt.Errorf("create %s: %w", tempTable, err)
	}

	columns := []string{"store_id", "sale_id", "nm_id", "sale_type", "date", "last_change_date", "price_with_disc"}

	rows := make([][]any, 0, len(sales))

	for _, sale := range sales {
		saleType := ""
		if len(sale.SaleID) > 0 {
			saleType = sale.SaleID[:1]
		}

		date := sale.Date
		if len(date) > 10 {
			date = date[:10]
		}

		rows = append(rows, []any{
			t.storeID, sale.SaleID, sale.NmID, saleType, date, sale.LastChangeDate, sale.PriceWithDisc,
		})
	}

	if err := bulkCopy(ctx, tx, tempTable, columns, rows); err != nil {
		return err
	}

	insertSQL := fmt.Sprintf(`
		INSERT INTO staging_fact_sales (store_id, sale_id, nm_id, sale_type, date, last_change_date, price_with_disc)
		SELECT store_id, sale_id, nm_id, sale_type, date, last_change_date, price_with_disc
		FROM %s
		ON CONFLICT (sale_id) DO UPDATE SET
			store_id = EXCLUDED.store_id,
			nm_id = EXCLUDED.nm_id,
			sale_type = EXCLUDED.sale_type,
			date = EXCLUDED.date,
			last_change_date = EXCLUDED.last_change_date,
			price_with_disc = EXCLUDED.price_with_disc`, tempTable)

	if _, err := tx.ExecContext(ctx, insertSQL); err != nil {
		return fmt.Errorf("insert fact sales rows: %w", err)
	}

	return tx.Commit()
}

// Process pulls one page of the sales feed since the stored cursor. An
// empty page marks the store caught-up (is_final) and reports SUCCESS;
// a non-empty page advances the cursor to the last row's change date and
// stays IN_PROGRESS so the next call keeps pulling.
func (t *FactSales) Process(ctx context.Context) (Response, error) {
	status, cursor, err := t.status(ctx)
	if err != nil {
		return Response{}, err
	}

	if status == "ok" {
		return Response{Status: StatusSuccess, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	sales, err := t.client.FactSales(ctx, cursor)
	if err != nil {
		return Response{}, &Error{Message: err.Error(), TaskClassIdentifier: t.Identifier()}
	}

	if len(sales) == 0 {
		if err := t.markFinal(ctx, cursor); err != nil {
			return Response{}, err
		}

		return Response{Status: StatusSuccess, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	if err := t.insert(ctx, sales); err != nil {
		return Response{}, err
	}

	nextCursor := sales[len(sales)-1].LastChangeDate

	if err := t.upsertCursor(ctx, nextCursor); err != nil {
		return Response{}, err
	}

	return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
}
