package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

const (
	schemaVersion    = 1
	schemaVersionKey = "schema_version"
)

// migrate applies the journal schema and records its version. A database
// written by a newer binary is refused.
func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}

	if err := applySchema(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func applySchema(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply journal schema: %w", err)
	}

	var raw string
	err := tx.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", schemaVersionKey).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, "INSERT INTO metadata(key, value) VALUES(?, ?)",
			schemaVersionKey, strconv.Itoa(schemaVersion)); err != nil {
			return fmt.Errorf("record journal version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read journal version: %w", err)
	}

	version, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("parse journal version %q: %w", raw, err)
	}
	if version > schemaVersion {
		return fmt.Errorf("journal version %d is newer than supported %d", version, schemaVersion)
	}
	return nil
}
