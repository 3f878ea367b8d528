package repository

import (
	"context"
	"time"

	"github.com/rpattn/ddsetl/internal/domain"
)

// RecordStore opens range-scoped units of work against the primary store.
// Everything fn does through the RecordTx commits together or not at all.
type RecordStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx RecordTx) error) error
}

// RecordTx is the set of statements available inside one unit of work.
type RecordTx interface {
	// LockRanges serialises range operations against the same store.
	LockRanges(ctx context.Context) error
	DeleteStructured(ctx context.Context, r domain.DateRange) (int64, error)
	ListRawCandidates(ctx context.Context, filter RawCandidateFilter) ([]domain.RawRecord, error)
	InsertStructured(ctx context.Context, records []domain.StructuredRecord) (int64, error)
	DeleteCopies(ctx context.Context, r domain.DateRange) (int64, error)
	CopyStructured(ctx context.Context, r domain.DateRange) (int64, error)
}

// RawCandidateFilter narrows the landing rows a transformation has to look at.
// A row is a candidate when it has a user_id and both effective dates, and its
// effective_from is either on or before StartsOnOrBefore or earlier than
// LowWaterMark (those get moved to the default window start).
type RawCandidateFilter struct {
	StartsOnOrBefore time.Time
	LowWaterMark     time.Time
}

// StructuredReader reads cleansed rows for downstream stores.
type StructuredReader interface {
	ListStructured(ctx context.Context, r domain.DateRange) ([]domain.StructuredRecord, error)
	ListCopies(ctx context.Context, r domain.DateRange) ([]domain.StructuredRecord, error)
}

// RawRepository appends rows to the landing table.
type RawRepository interface {
	InsertBatch(ctx context.Context, records []domain.RawRecord) (int64, error)
}

// MartRepository maintains the data mart built from structured rows.
type MartRepository interface {
	ReplacePeriod(ctx context.Context, r domain.DateRange) (int64, error)
	ListPeriod(ctx context.Context, r domain.DateRange) ([]domain.CustomerSummary, error)
}

// PipelineRunRepository stores stage outcomes for observability.
type PipelineRunRepository interface {
	Record(ctx context.Context, entry domain.PipelineRunEntry) error
	List(ctx context.Context, limit int, offset int) ([]domain.PipelineRunEntry, error)
}
