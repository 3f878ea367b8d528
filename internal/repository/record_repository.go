package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/ddsetl/internal/db"
	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// rangeLockKey is the advisory lock key shared by every range operation.
const rangeLockKey int64 = 0x5d5_e71

var (
	structuredTable = pgx.Identifier{"s_sql_dds", "t_sql_source_structured"}

	structuredInsertColumns = []string{
		"user_id", "user_name", "age", "salary", "purchase_amount", "product_category",
		"region", "customer_status", "transaction_count", "effective_from", "effective_to", "current_flag",
	}
)

const structuredColumns = `id, user_id, user_name, age, salary, purchase_amount, product_category,
	region, customer_status, transaction_count, effective_from, effective_to, current_flag, processed_at`

// RecordRepository is the pgx-backed primary store for landing, structured
// and verification copy rows.
type RecordRepository struct {
	conn *db.Connection
}

// NewRecordRepository wires the record store to a connection pool.
func NewRecordRepository(conn *db.Connection) *RecordRepository {
	return &RecordRepository{conn: conn}
}

// InTx runs fn inside a single transaction; any error rolls the whole unit back.
func (r *RecordRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx RecordTx) error) error {
	if r.conn == nil || r.conn.Pool == nil {
		return fmt.Errorf("record repository not initialized")
	}
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &recordTx{tx: tx})
	})
}

func (r *RecordRepository) ListStructured(ctx context.Context, dr domain.DateRange) ([]domain.StructuredRecord, error) {
	return r.listRange(ctx, "s_sql_dds.t_sql_source_structured", dr)
}

func (r *RecordRepository) ListCopies(ctx context.Context, dr domain.DateRange) ([]domain.StructuredRecord, error) {
	return r.listRange(ctx, "s_sql_dds.t_sql_source_structured_copy", dr)
}

func (r *RecordRepository) listRange(ctx context.Context, table string, dr domain.DateRange) ([]domain.StructuredRecord, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return nil, fmt.Errorf("record repository not initialized")
	}

	rows, err := r.conn.Pool.Query(
		ctx,
		`SELECT `+structuredColumns+`
		 FROM `+table+`
		 WHERE effective_from >= $1 AND effective_to <= $2
		 ORDER BY id`,
		pgtype.Date{Time: dr.Start, Valid: true},
		pgtype.Date{Time: dr.End, Valid: true},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	records := []domain.StructuredRecord{}
	for rows.Next() {
		record, scanErr := scanStructured(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table, rowsErr)
	}
	return records, nil
}

type recordTx struct {
	tx pgx.Tx
}

func (t *recordTx) LockRanges(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, rangeLockKey); err != nil {
		return fmt.Errorf("failed to acquire range lock: %w", err)
	}
	return nil
}

func (t *recordTx) DeleteStructured(ctx context.Context, dr domain.DateRange) (int64, error) {
	tag, err := t.tx.Exec(
		ctx,
		`DELETE FROM s_sql_dds.t_sql_source_structured
		 WHERE effective_from >= $1 AND effective_to <= $2`,
		pgtype.Date{Time: dr.Start, Valid: true},
		pgtype.Date{Time: dr.End, Valid: true},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete structured records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *recordTx) ListRawCandidates(ctx context.Context, filter RawCandidateFilter) ([]domain.RawRecord, error) {
	rows, err := t.tx.Query(
		ctx,
		`SELECT id, user_id, user_name, age, salary, purchase_amount, product_category,
		        region, customer_status, transaction_count, effective_from, effective_to, current_flag, loaded_at
		 FROM s_sql_dds.t_sql_source_unstructured
		 WHERE user_id IS NOT NULL
		   AND effective_from IS NOT NULL
		   AND effective_to IS NOT NULL
		   AND (effective_from <= $1 OR effective_from < $2)
		 ORDER BY id`,
		pgtype.Date{Time: filter.StartsOnOrBefore, Valid: true},
		pgtype.Date{Time: filter.LowWaterMark, Valid: true},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw records: %w", err)
	}
	defer rows.Close()

	records := []domain.RawRecord{}
	for rows.Next() {
		var (
			record           domain.RawRecord
			userID, userName pgtype.Text
			category, region pgtype.Text
			status           pgtype.Text
			age, txCount     pgtype.Int4
			salary, purchase pgtype.Numeric
			from, to         pgtype.Date
			currentFlag      pgtype.Bool
			loadedAt         pgtype.Timestamp
		)
		if scanErr := rows.Scan(
			&record.ID, &userID, &userName, &age, &salary, &purchase, &category,
			&region, &status, &txCount, &from, &to, &currentFlag, &loadedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan raw record: %w", scanErr)
		}

		record.UserID = textPtr(userID)
		record.UserName = textPtr(userName)
		record.Age = int4Ptr(age)
		record.ProductCategory = textPtr(category)
		record.Region = textPtr(region)
		record.CustomerStatus = textPtr(status)
		record.TransactionCount = int4Ptr(txCount)
		record.EffectiveFrom = datePtr(from)
		record.EffectiveTo = datePtr(to)
		record.CurrentFlag = boolPtr(currentFlag)
		if loadedAt.Valid {
			record.LoadedAt = loadedAt.Time
		}
		if record.Salary, err = fromNumeric(salary); err != nil {
			return nil, fmt.Errorf("raw record %d salary: %w", record.ID, err)
		}
		if record.PurchaseAmount, err = fromNumeric(purchase); err != nil {
			return nil, fmt.Errorf("raw record %d purchase_amount: %w", record.ID, err)
		}

		records = append(records, record)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate raw records: %w", rowsErr)
	}
	return records, nil
}

func (t *recordTx) InsertStructured(ctx context.Context, records []domain.StructuredRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	count, err := t.tx.CopyFrom(
		ctx,
		structuredTable,
		structuredInsertColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := records[i]
			return []any{
				rec.UserID,
				toText(rec.UserName),
				int32(rec.Age),
				toNumeric(rec.Salary),
				toNumeric(rec.PurchaseAmount),
				string(rec.ProductCategory),
				toText(rec.Region),
				rec.CustomerStatus,
				toInt4(rec.TransactionCount),
				pgtype.Date{Time: rec.EffectiveFrom, Valid: true},
				pgtype.Date{Time: rec.EffectiveTo, Valid: true},
				toBool(rec.CurrentFlag),
			}, nil
		}),
	)
	if err != nil {
		return 0, classifyError("insert structured records", err)
	}
	return count, nil
}

func (t *recordTx) DeleteCopies(ctx context.Context, dr domain.DateRange) (int64, error) {
	tag, err := t.tx.Exec(
		ctx,
		`DELETE FROM s_sql_dds.t_sql_source_structured_copy
		 WHERE effective_from >= $1 AND effective_to <= $2`,
		pgtype.Date{Time: dr.Start, Valid: true},
		pgtype.Date{Time: dr.End, Valid: true},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete verification copies: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *recordTx) CopyStructured(ctx context.Context, dr domain.DateRange) (int64, error) {
	tag, err := t.tx.Exec(
		ctx,
		`INSERT INTO s_sql_dds.t_sql_source_structured_copy (`+structuredColumns+`)
		 SELECT `+structuredColumns+`
		 FROM s_sql_dds.t_sql_source_structured
		 WHERE effective_from >= $1 AND effective_to <= $2`,
		pgtype.Date{Time: dr.Start, Valid: true},
		pgtype.Date{Time: dr.End, Valid: true},
	)
	if err != nil {
		return 0, classifyError("copy structured records", err)
	}
	return tag.RowsAffected(), nil
}

func scanStructured(rows pgx.Rows) (domain.StructuredRecord, error) {
	var (
		record           domain.StructuredRecord
		userName, region pgtype.Text
		category, status pgtype.Text
		age, txCount     pgtype.Int4
		salary, purchase pgtype.Numeric
		from, to         pgtype.Date
		currentFlag      pgtype.Bool
		processedAt      pgtype.Timestamp
	)
	if err := rows.Scan(
		&record.ID, &record.UserID, &userName, &age, &salary, &purchase, &category,
		&region, &status, &txCount, &from, &to, &currentFlag, &processedAt,
	); err != nil {
		return domain.StructuredRecord{}, fmt.Errorf("failed to scan structured record: %w", err)
	}

	var err error
	record.UserName = textPtr(userName)
	record.Age = int(age.Int32)
	record.ProductCategory = domain.ProductCategory(category.String)
	record.Region = textPtr(region)
	record.CustomerStatus = status.String
	record.TransactionCount = int4Ptr(txCount)
	if f := datePtr(from); f != nil {
		record.EffectiveFrom = *f
	}
	if t := datePtr(to); t != nil {
		record.EffectiveTo = *t
	}
	record.CurrentFlag = boolPtr(currentFlag)
	if processedAt.Valid {
		record.ProcessedAt = processedAt.Time
	}
	if record.Salary, err = fromNumeric(salary); err != nil {
		return domain.StructuredRecord{}, fmt.Errorf("structured record %d salary: %w", record.ID, err)
	}
	if record.PurchaseAmount, err = fromNumeric(purchase); err != nil {
		return domain.StructuredRecord{}, fmt.Errorf("structured record %d purchase_amount: %w", record.ID, err)
	}
	return record, nil
}
