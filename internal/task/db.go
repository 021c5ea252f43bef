package task

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// bulkCopy streams rows into tempTable via the Postgres COPY protocol, the
// same bulk-load path the Python tasks use through psycopg2's copy_from.
// tempTable must already exist on tx (callers CREATE TEMP TABLE ... ON
// COMMIT DROP beforehand) so it disappears automatically when tx ends.
func bulkCopy(ctx context.Context, tx *sql.Tx, tempTable string, columns []string, rows [][]any) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(tempTable, columns...))
	if err != nil {
		return fmt.Errorf("prepare copy into %s: %w", tempTable, err)
	}

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy row into %s: %w", tempTable, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("flush copy into %s: %w", tempTable, err)
	}

	return stmt.Close()
}
