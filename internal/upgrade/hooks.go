package upgrade

// Data migration hooks are registered here.
// Add new hooks when a schema migration requires Go-based data transformation.

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

func init() {
	RegisterDataHook(1, "0001_normalize_legacy_parts_meta", normalizeLegacyPartsMeta)
}

// normalizeLegacyPartsMeta rewrites any messages.parts_meta value still
// shaped as a JSON array — an artifact of an earlier revision that wrote
// the hydrated parts inline instead of an object-store locator — to the
// empty locator object. There is no asset key to recover for that
// content, so the row degrades to parts=nil on its next hydration, the
// same path any other hydration miss takes.
func normalizeLegacyPartsMeta(ctx context.Context, db *sql.DB) error {
	res, err := db.ExecContext(ctx,
		`UPDATE messages SET parts_meta = '{}'::jsonb WHERE jsonb_typeof(parts_meta) = 'array'`)
	if err != nil {
		return fmt.Errorf("normalize legacy parts_meta: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("normalized legacy inline parts_meta rows", "count", n)
	}
	return nil
}
