package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pipelineRunRepository struct {
	pool *pgxpool.Pool
}

// NewPipelineRunRepository wires a repository backed by pgxpool.
func NewPipelineRunRepository(pool *pgxpool.Pool) PipelineRunRepository {
	return &pipelineRunRepository{pool: pool}
}

func (r *pipelineRunRepository) Record(ctx context.Context, entry domain.PipelineRunEntry) error {
	if r.pool == nil {
		return fmt.Errorf("pipeline run repository not initialized")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	var errorMessage any
	if entry.ErrorMessage != "" {
		errorMessage = entry.ErrorMessage
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO s_sql_dds.t_pipeline_run_log
		     (id, run_id, stage, outcome, range_start, range_end, record_count, error_message, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID,
		entry.RunID,
		entry.Stage,
		entry.Outcome,
		pgtype.Date{Time: entry.RangeStart, Valid: true},
		pgtype.Date{Time: entry.RangeEnd, Valid: true},
		entry.RecordCount,
		errorMessage,
		entry.StartedAt,
		entry.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record pipeline run: %w", err)
	}

	return nil
}

func (r *pipelineRunRepository) List(ctx context.Context, limit int, offset int) ([]domain.PipelineRunEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("pipeline run repository not initialized")
	}

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, run_id, stage, outcome, range_start, range_end, record_count, error_message, started_at, finished_at
		 FROM s_sql_dds.t_pipeline_run_log
		 ORDER BY started_at DESC, stage
		 LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline runs: %w", err)
	}
	defer rows.Close()

	entries := []domain.PipelineRunEntry{}
	for rows.Next() {
		var (
			entry        domain.PipelineRunEntry
			start, end   pgtype.Date
			errorMessage pgtype.Text
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.Stage,
			&entry.Outcome,
			&start,
			&end,
			&entry.RecordCount,
			&errorMessage,
			&entry.StartedAt,
			&entry.FinishedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan pipeline run: %w", scanErr)
		}

		entry.RangeStart = start.Time
		entry.RangeEnd = end.Time
		if errorMessage.Valid {
			entry.ErrorMessage = errorMessage.String
		}

		entries = append(entries, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate pipeline runs: %w", rowsErr)
	}

	return entries, nil
}
