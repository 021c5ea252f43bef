// Package logging wraps log/slog construction and fans every record out to
// the logs table, grounded on the original app manager's AppManagerLogger
// (console print plus a best-effort INSERT, never raising on a failed
// write).
package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
)

// New builds a JSON-to-w logger whose records are additionally persisted to
// the logs table under service, if db is non-nil. A nil db gives a
// stdout-only logger, useful for tests and one-off tooling.
func New(w io.Writer, level slog.Level, service string, db *sql.DB) *slog.Logger {
	inner := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})

	if db == nil {
		return slog.New(inner)
	}

	return slog.New(&dbHandler{inner: inner, db: db, service: service})
}

// dbHandler fans records out to both the wrapped handler (stdout JSON) and
// a best-effort row in the logs table. A failed insert is swallowed, not
// propagated — logging must never be why a caller's real work fails.
type dbHandler struct {
	inner   slog.Handler
	db      *sql.DB
	service string
	extra   []slog.Attr
}

func (h *dbHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *dbHandler) Handle(ctx context.Context, record slog.Record) error {
	if err := h.inner.Handle(ctx, record); err != nil {
		return err
	}

	h.insert(ctx, record)

	return nil
}

func (h *dbHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.extra)+len(attrs))
	merged = append(merged, h.extra...)
	merged = append(merged, attrs...)

	return &dbHandler{inner: h.inner.WithAttrs(attrs), db: h.db, service: h.service, extra: merged}
}

func (h *dbHandler) WithGroup(name string) slog.Handler {
	return &dbHandler{inner: h.inner.WithGroup(name), db: h.db, service: h.service, extra: h.extra}
}

// insert writes one row to the logs table, pulling store_id/source out of
// the record's attributes (falling back to the handler name/"manager" when
// absent) and folding every remaining attribute into the metadata jsonb
// column, mirroring AppManagerLogger.log's (level, service, store_id,
// source, message, metadata) shape.
func (h *dbHandler) insert(ctx context.Context, record slog.Record) {
	var (
		storeID  *int64
		source   string
		metadata = map[string]any{}
	)

	for _, attr := range h.extra {
		applyLogAttr(attr, &storeID, &source, metadata)
	}

	record.Attrs(func(attr slog.Attr) bool {
		applyLogAttr(attr, &storeID, &source, metadata)

		return true
	})

	if source == "" {
		source = h.service
	}

	var metadataJSON []byte
	if len(metadata) > 0 {
		metadataJSON, _ = json.Marshal(metadata)
	}

	_, _ = h.db.ExecContext(ctx, `
		INSERT INTO logs (log_level, service, store_id, source, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.Level.String(), h.service, storeID, source, record.Message, metadataJSON)
}

func applyLogAttr(attr slog.Attr, storeID **int64, source *string, metadata map[string]any) {
	switch attr.Key {
	case "store_id":
		id := attr.Value.Int64()
		*storeID = &id
	case "source":
		*source = attr.Value.String()
	default:
		metadata[attr.Key] = attr.Value.Any()
	}
}
