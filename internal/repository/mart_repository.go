package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/ddsetl/internal/db"
	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type martRepository struct {
	conn *db.Connection
}

// NewMartRepository wires the customer summary data mart.
func NewMartRepository(conn *db.Connection) MartRepository {
	return &martRepository{conn: conn}
}

// ReplacePeriod rebuilds the summary rows for exactly this period from the
// structured rows whose effective window lies inside it.
func (r *martRepository) ReplacePeriod(ctx context.Context, dr domain.DateRange) (int64, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return 0, fmt.Errorf("mart repository not initialized")
	}

	start := pgtype.Date{Time: dr.Start, Valid: true}
	end := pgtype.Date{Time: dr.End, Valid: true}

	var inserted int64
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(
			ctx,
			`DELETE FROM s_sql_dm.t_dm_customer_summary
			 WHERE period_start = $1 AND period_end = $2`,
			start, end,
		); err != nil {
			return fmt.Errorf("failed to clear customer summary: %w", err)
		}

		tag, err := tx.Exec(
			ctx,
			`INSERT INTO s_sql_dm.t_dm_customer_summary (
			     period_start, period_end, region, product_category, customer_status,
			     customer_count, total_purchase, average_salary, total_transactions
			 )
			 SELECT $1::date, $2::date,
			        COALESCE(region, 'unknown'),
			        product_category,
			        customer_status,
			        COUNT(DISTINCT user_id),
			        COALESCE(SUM(purchase_amount), 0),
			        COALESCE(ROUND(AVG(salary), 2), 0),
			        COALESCE(SUM(transaction_count), 0)
			 FROM s_sql_dds.t_sql_source_structured
			 WHERE effective_from >= $1 AND effective_to <= $2
			 GROUP BY COALESCE(region, 'unknown'), product_category, customer_status`,
			start, end,
		)
		if err != nil {
			return classifyError("load customer summary", err)
		}
		inserted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *martRepository) ListPeriod(ctx context.Context, dr domain.DateRange) ([]domain.CustomerSummary, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return nil, fmt.Errorf("mart repository not initialized")
	}

	rows, err := r.conn.Pool.Query(
		ctx,
		`SELECT period_start, period_end, region, product_category, customer_status,
		        customer_count, total_purchase, average_salary, total_transactions, loaded_at
		 FROM s_sql_dm.t_dm_customer_summary
		 WHERE period_start = $1 AND period_end = $2
		 ORDER BY region, product_category, customer_status`,
		pgtype.Date{Time: dr.Start, Valid: true},
		pgtype.Date{Time: dr.End, Valid: true},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list customer summary: %w", err)
	}
	defer rows.Close()

	summaries := []domain.CustomerSummary{}
	for rows.Next() {
		var (
			summary          domain.CustomerSummary
			start, end       pgtype.Date
			category         string
			total, avg       pgtype.Numeric
			loadedAt         pgtype.Timestamptz
			totalDec, avgDec decimal.NullDecimal
		)
		if scanErr := rows.Scan(
			&start, &end, &summary.Region, &category, &summary.CustomerStatus,
			&summary.CustomerCount, &total, &avg, &summary.TotalTransactions, &loadedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan customer summary: %w", scanErr)
		}
		if totalDec, err = fromNumeric(total); err != nil {
			return nil, fmt.Errorf("customer summary total_purchase: %w", err)
		}
		if avgDec, err = fromNumeric(avg); err != nil {
			return nil, fmt.Errorf("customer summary average_salary: %w", err)
		}

		summary.PeriodStart = start.Time
		summary.PeriodEnd = end.Time
		summary.ProductCategory = domain.ProductCategory(category)
		summary.TotalPurchase = totalDec.Decimal
		summary.AverageSalary = avgDec.Decimal
		if loadedAt.Valid {
			summary.LoadedAt = loadedAt.Time
		}
		summaries = append(summaries, summary)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate customer summary: %w", rowsErr)
	}
	return summaries, nil
}
