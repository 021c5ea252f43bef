package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wbfleet/ingestor/internal/canonicalization"
	"github.com/wbfleet/ingestor/internal/marketplace"
)

const factStockRequestsPerWindow = 3
const factStockWindow = 60 * time.Second

// FactStock pulls yesterday's warehouse stock counts, a date that never
// moves forward until the next calendar day does.
type FactStock struct {
	db      *sql.DB
	client  *marketplace.Client
	logger  *slog.Logger
	storeID int64
	limiter *RateLimiter
}

// NewFactStock builds the stock report task for one store.
func NewFactStock(db *sql.DB, client *marketplace.Client, logger *slog.Logger, storeID int64) *FactStock {
	return &FactStock{
		db:      db,
		client:  client,
		logger:  logger,
		storeID: storeID,
		limiter: NewRateLimiter(factStockRequestsPerWindow, factStockWindow),
	}
}

func (t *FactStock) Identifier() string { return "taskFactStock" }

func (t *FactStock) targetDate() time.Time {
	return canonicalization.Yesterday()
}

func (t *FactStock) isLoaded(ctx context.Context, date time.Time) (bool, error) {
	var loaded bool

	err := t.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM staging_fact_stock WHERE store_id = $1 AND date = $2
		)`, t.storeID, date).Scan(&loaded)
	if err != nil {
		return false, fmt.Errorf("fact stock freshness check: %w", err)
	}

	return loaded, nil
}

func (t *FactStock) insert(ctx context.Context, date time.Time, products []marketplace.FactStockProduct) error {
	if len(products) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fact stock insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO staging_fact_stock (date, store_id, nm_id, stock_count, to_client_count, from_client_count)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("prepare fact stock insert: %w", err)
	}
	defer stmt.Close()

	for _, product := range products {
		var stockCount, toClient, fromClient int

		for _, entry := range product.Stocks {
			stockCount += entry.StockCount
			toClient += entry.ToClientCount
			fromClient += entry.FromClientCount
		}

		if _, err := stmt.ExecContext(ctx, date, t.storeID, product.NmID, stockCount, toClient, fromClient); err != nil {
			return fmt.Errorf("insert fact stock for nm %d: %w", product.NmID, err)
		}
	}

	return tx.Commit()
}

// Process loads yesterday's stock report once per day; once loaded, every
// subsequent call short-circuits to SUCCESS until the target date advances.
func (t *FactStock) Process(ctx context.Context) (Response, error) {
	date := t.targetDate()

	loaded, err := t.isLoaded(ctx, date)
	if err != nil {
		return Response{}, err
	}

	if loaded {
		return Response{Status: StatusSuccess, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	if !t.limiter.Allow() {
		return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	resp, err := t.client.FactStock(ctx, date.Format("2006-01-02"))
	if err != nil {
		if errors.Is(err, marketplace.ErrTooManyRequests) {
			t.limiter.Block()
			return Response{Status: StatusInProgress, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
		}

		return Response{}, &Error{Message: err.Error(), TaskClassIdentifier: t.Identifier()}
	}

	if err := t.insert(ctx, date, resp.Data.Products); err != nil {
		return Response{}, err
	}

	return Response{Status: StatusSuccess, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
}
