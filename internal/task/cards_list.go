package task

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/wbfleet/ingestor/internal/marketplace"
)

const cardsListSchedule = 6*time.Hour + 15*time.Minute

// CardsList pulls a store's full product card catalog and keeps it fresh
// for 6h15m before reloading it from scratch.
type CardsList struct {
	db      *sql.DB
	client  *marketplace.Client
	logger  *slog.Logger
	storeID int64
}

// NewCardsList builds the cards list task for one store.
func NewCardsList(db *sql.DB, client *marketplace.Client, logger *slog.Logger, storeID int64) *CardsList {
	return &CardsList{db: db, client: client, logger: logger, storeID: storeID}
}

func (t *CardsList) Identifier() string { return "taskCardsList" }

func (t *CardsList) freshnessReport(ctx context.Context) (actual, countAll int, err error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN created_at >= (NOW() - $2 * INTERVAL '1 second')::DATE THEN 1 END) AS actual,
			COUNT(*) AS count_all
		FROM staging_cards
		WHERE store_id = $1`,
		t.storeID, cardsListSchedule.Seconds())

	if err := row.Scan(&actual, &countAll); err != nil {
		return 0, 0, fmt.Errorf("cards list freshness report: %w", err)
	}

	return actual, countAll, nil
}

func (t *CardsList) deleteAll(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM staging_cards WHERE store_id = $1`, t.storeID)
	if err != nil {
		return fmt.Errorf("delete cards for store %d: %w", t.storeID, err)
	}

	return nil
}

func (t *CardsList) insertCards(ctx context.Context, cards []marketplace.Card) error {
	if len(cards) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cards insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO staging_cards (nm_id, store_id, vendor_code, title)
		VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("prepare cards insert: %w", err)
	}
	defer stmt.Close()

	for _, card := range cards {
		if _, err := stmt.ExecContext(ctx, card.NmID, t.storeID, card.VendorCode, card.Title); err != nil {
			return fmt.Errorf("insert card %d: %w", card.NmID, err)
		}
	}

	return tx.Commit()
}

// Process reloads the store's card catalog when it is missing or stale, and
// reports SUCCESS immediately when it is already fresh.
func (t *CardsList) Process(ctx context.Context) (Response, error) {
	actual, countAll, err := t.freshnessReport(ctx)
	if err != nil {
		return Response{}, err
	}

	if countAll != 0 && actual == countAll {
		return Response{Status: StatusSuccess, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
	}

	if countAll != 0 && actual != countAll {
		if err := t.deleteAll(ctx); err != nil {
			return Response{}, err
		}
	}

	cursor := marketplace.CardsCursor{}

	for {
		page, err := t.client.CardsList(ctx, cursor)
		if err != nil {
			return Response{}, &Error{Message: err.Error(), TaskClassIdentifier: t.Identifier()}
		}

		if err := t.insertCards(ctx, page.Cards); err != nil {
			return Response{}, err
		}

		if page.Cursor.Total < marketplace.CardsListPageLimit {
			break
		}

		cursor = marketplace.CardsCursor{NmID: page.Cursor.NmID, UpdatedAt: page.Cursor.UpdatedAt}
	}

	return Response{Status: StatusSuccess, TaskIdentifier: t.Identifier(), StoreID: t.storeID}, nil
}
