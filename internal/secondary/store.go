// Package secondary mirrors structured rows into a local SQLite database.
package secondary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS structured_records (
	user_id           TEXT    NOT NULL,
	user_name         TEXT,
	age               INTEGER NOT NULL,
	salary            TEXT,
	purchase_amount   TEXT,
	product_category  TEXT    NOT NULL,
	customer_status   TEXT    NOT NULL,
	transaction_count INTEGER,
	region            TEXT,
	effective_from    TEXT    NOT NULL,
	effective_to      TEXT    NOT NULL,
	current_flag      INTEGER,
	processed_at      TEXT    NOT NULL,
	migrated_at       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_structured_records_from ON structured_records (effective_from);
CREATE INDEX IF NOT EXISTS idx_structured_records_user ON structured_records (user_id);
`

// Store is a SQLite-backed copy of the structured table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("secondary store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create secondary store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open secondary store: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create secondary schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceRange swaps the rows whose effective window lies inside r for
// records. Dates are stored as YYYY-MM-DD text so they compare lexically.
func (s *Store) ReplaceRange(ctx context.Context, r domain.DateRange, records []domain.StructuredRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin secondary transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM structured_records WHERE effective_from >= ? AND effective_to <= ?`,
		domain.FormatDate(r.Start), domain.FormatDate(r.End),
	); err != nil {
		return 0, fmt.Errorf("failed to clear secondary range: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO structured_records (
			user_id, user_name, age, salary, purchase_amount, product_category, customer_status,
			transaction_count, region, effective_from, effective_to, current_flag,
			processed_at, migrated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare secondary insert: %w", err)
	}
	defer stmt.Close()

	migratedAt := s.now().UTC().Format(time.RFC3339)
	var inserted int64
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.UserID,
			nullString(rec.UserName),
			rec.Age,
			nullDecimal(rec.Salary),
			nullDecimal(rec.PurchaseAmount),
			string(rec.ProductCategory),
			rec.CustomerStatus,
			nullInt(rec.TransactionCount),
			nullString(rec.Region),
			domain.FormatDate(rec.EffectiveFrom),
			domain.FormatDate(rec.EffectiveTo),
			nullBool(rec.CurrentFlag),
			rec.ProcessedAt.UTC().Format(time.RFC3339),
			migratedAt,
		); err != nil {
			return 0, fmt.Errorf("failed to insert secondary row for %s: %w", rec.UserID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit secondary transaction: %w", err)
	}
	return inserted, nil
}

// List returns the mirrored rows in r ordered by user and effective_from.
func (s *Store) List(ctx context.Context, r domain.DateRange) ([]domain.StructuredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, user_name, age, salary, purchase_amount, product_category, customer_status,
		       transaction_count, region, effective_from, effective_to, current_flag, processed_at
		FROM structured_records
		WHERE effective_from >= ? AND effective_to <= ?
		ORDER BY user_id, effective_from`,
		domain.FormatDate(r.Start), domain.FormatDate(r.End),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query secondary store: %w", err)
	}
	defer rows.Close()

	var records []domain.StructuredRecord
	for rows.Next() {
		var (
			rec                   domain.StructuredRecord
			salary, purchase      sql.NullString
			category              string
			count                 sql.NullInt64
			userName, region      sql.NullString
			from, to, processedAt string
			currentFlag           sql.NullInt64
		)
		if err := rows.Scan(
			&rec.UserID, &userName, &rec.Age, &salary, &purchase, &category, &rec.CustomerStatus,
			&count, &region, &from, &to, &currentFlag, &processedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan secondary row: %w", err)
		}

		rec.ProductCategory = domain.ProductCategory(category)
		if rec.Salary, err = parseNullDecimal(salary); err != nil {
			return nil, err
		}
		if rec.PurchaseAmount, err = parseNullDecimal(purchase); err != nil {
			return nil, err
		}
		if count.Valid {
			v := int(count.Int64)
			rec.TransactionCount = &v
		}
		if userName.Valid {
			v := userName.String
			rec.UserName = &v
		}
		if region.Valid {
			v := region.String
			rec.Region = &v
		}
		if currentFlag.Valid {
			v := currentFlag.Int64 != 0
			rec.CurrentFlag = &v
		}
		if rec.EffectiveFrom, err = domain.ParseDate(from); err != nil {
			return nil, err
		}
		if rec.EffectiveTo, err = domain.ParseDate(to); err != nil {
			return nil, err
		}
		if rec.ProcessedAt, err = time.Parse(time.RFC3339, processedAt); err != nil {
			return nil, fmt.Errorf("failed to parse processed_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate secondary rows: %w", err)
	}
	return records, nil
}

func nullDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to parse decimal %q: %w", s.String, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullBool(v *bool) any {
	if v == nil {
		return nil
	}
	if *v {
		return 1
	}
	return 0
}
