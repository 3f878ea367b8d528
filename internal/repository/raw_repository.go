package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var rawInsertColumns = []string{
	"user_id", "user_name", "age", "salary", "purchase_amount", "product_category",
	"region", "customer_status", "transaction_count", "effective_from", "effective_to", "current_flag",
}

type rawRepository struct {
	pool *pgxpool.Pool
}

// NewRawRepository wires a landing table repository backed by pgxpool.
func NewRawRepository(pool *pgxpool.Pool) RawRepository {
	return &rawRepository{pool: pool}
}

func (r *rawRepository) InsertBatch(ctx context.Context, records []domain.RawRecord) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("raw repository not initialized")
	}
	if len(records) == 0 {
		return 0, nil
	}

	count, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"s_sql_dds", "t_sql_source_unstructured"},
		rawInsertColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := records[i]
			return []any{
				toText(rec.UserID),
				toText(rec.UserName),
				toInt4(rec.Age),
				toNumeric(rec.Salary),
				toNumeric(rec.PurchaseAmount),
				toText(rec.ProductCategory),
				toText(rec.Region),
				toText(rec.CustomerStatus),
				toInt4(rec.TransactionCount),
				toDate(rec.EffectiveFrom),
				toDate(rec.EffectiveTo),
				toBool(rec.CurrentFlag),
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert raw records: %w", err)
	}
	return count, nil
}
