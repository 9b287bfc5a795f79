// Package variant records which derived files were produced from which
// source file and operation chain, so derivations can be reused. It also
// records which hashes were stored directly, so that removing a source
// never deletes a variant file that is also somebody's upload.
package variant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Variant is one derived file.
type Variant struct {
	SourceHash  string
	Signature   string
	VariantHash string
	CreatedAt   time.Time
}

// Index is a SQLite backed table of variants.
type Index struct {
	db *sql.DB
}

// Open opens or creates the index database at dbPath.
func Open(ctx context.Context, dbPath string) (*Index, error) {
	if dbPath == "" {
		return nil, errors.New("variant db path must not be empty")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS variants (
			source_hash TEXT NOT NULL,
			signature TEXT NOT NULL,
			variant_hash TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (source_hash, signature)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_variants_variant_hash ON variants(variant_hash);`,
		`CREATE TABLE IF NOT EXISTS origins (
			hash TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Lookup returns the variant hash recorded for (sourceHash, signature).
func (x *Index) Lookup(ctx context.Context, sourceHash string, signature string) (string, bool, error) {
	var variantHash string
	err := x.db.QueryRowContext(ctx,
		`SELECT variant_hash FROM variants WHERE source_hash = ? AND signature = ?`,
		sourceHash, signature,
	).Scan(&variantHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup variant: %w", err)
	}
	return variantHash, true, nil
}

// Record stores or replaces the variant for (sourceHash, signature).
func (x *Index) Record(ctx context.Context, sourceHash string, signature string, variantHash string) error {
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO variants(source_hash, signature, variant_hash, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(source_hash, signature) DO UPDATE SET
		 	variant_hash=excluded.variant_hash,
		 	created_at=excluded.created_at`,
		sourceHash, signature, variantHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record variant: %w", err)
	}
	return nil
}

// ForSource lists the variants derived from sourceHash, oldest first.
func (x *Index) ForSource(ctx context.Context, sourceHash string) ([]Variant, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT source_hash, signature, variant_hash, created_at
		 FROM variants WHERE source_hash = ? ORDER BY created_at, signature`,
		sourceHash,
	)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.SourceHash, &v.Signature, &v.VariantHash, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// RecordOrigin marks hash as stored directly rather than derived.
func (x *Index) RecordOrigin(ctx context.Context, hash string) error {
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO origins(hash, created_at) VALUES(?, ?) ON CONFLICT(hash) DO NOTHING`,
		hash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record origin: %w", err)
	}
	return nil
}

// Referenced reports whether hash is still a direct upload or the
// recorded variant of any source.
func (x *Index) Referenced(ctx context.Context, hash string) (bool, error) {
	var referenced bool
	err := x.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM origins WHERE hash = ?)
			OR EXISTS(SELECT 1 FROM variants WHERE variant_hash = ?)`,
		hash, hash,
	).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("check references: %w", err)
	}
	return referenced, nil
}

// Forget drops every row that mentions hash, as origin, source or variant.
func (x *Index) Forget(ctx context.Context, hash string) error {
	return withTransaction(ctx, x.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM origins WHERE hash = ?`, hash); err != nil {
			return fmt.Errorf("forget origin: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM variants WHERE source_hash = ? OR variant_hash = ?`,
			hash, hash,
		); err != nil {
			return fmt.Errorf("forget variants: %w", err)
		}
		return nil
	})
}

// withTransaction runs fn within a database transaction.
func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}
