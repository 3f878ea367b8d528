package secondary

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool    { return &v }

func sampleRecord(userID string, from time.Time) domain.StructuredRecord {
	return domain.StructuredRecord{
		UserID:           userID,
		Age:              30,
		Salary:           decimal.NewNullDecimal(decimal.RequireFromString("50000.50")),
		PurchaseAmount:   decimal.NullDecimal{},
		ProductCategory:  domain.CategoryBooks,
		UserName:         strPtr("Reader"),
		CustomerStatus:   "active",
		TransactionCount: intPtr(12),
		Region:           strPtr("North"),
		EffectiveFrom:    from,
		EffectiveTo:      from.AddDate(0, 0, 30),
		CurrentFlag:      boolPtr(true),
		ProcessedAt:      time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStoreRoundTripsAndReplacesRange(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "nested", "secondary.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	year := domain.DefaultDateRange()
	first := []domain.StructuredRecord{
		sampleRecord("user1", domain.Date(2023, time.January, 1)),
		sampleRecord("user2", domain.Date(2023, time.March, 1)),
	}
	if n, err := store.ReplaceRange(ctx, year, first); err != nil || n != 2 {
		t.Fatalf("first replace: n=%d err=%v", n, err)
	}

	second := []domain.StructuredRecord{sampleRecord("user3", domain.Date(2023, time.May, 1))}
	if _, err := store.ReplaceRange(ctx, year, second); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	got, err := store.List(ctx, year)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff(second, got); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
}

func TestStoreLeavesOtherRangesAlone(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "secondary.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	january, _ := domain.NewDateRange(domain.Date(2023, time.January, 1), domain.Date(2023, time.January, 31))
	february, _ := domain.NewDateRange(domain.Date(2023, time.February, 1), domain.Date(2023, time.February, 28))

	if _, err := store.ReplaceRange(ctx, january, []domain.StructuredRecord{sampleRecord("jan", january.Start)}); err != nil {
		t.Fatalf("replace january: %v", err)
	}
	if _, err := store.ReplaceRange(ctx, february, nil); err != nil {
		t.Fatalf("replace february: %v", err)
	}

	got, err := store.List(ctx, january)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "jan" {
		t.Fatalf("expected january row to survive, got %+v", got)
	}
}

type stubReader struct {
	records []domain.StructuredRecord
	err     error
}

func (s stubReader) ListStructured(ctx context.Context, r domain.DateRange) ([]domain.StructuredRecord, error) {
	return s.records, s.err
}

func (s stubReader) ListCopies(ctx context.Context, r domain.DateRange) ([]domain.StructuredRecord, error) {
	return nil, nil
}

func TestMigratorCopiesStructuredRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secondary.db")
	records := []domain.StructuredRecord{sampleRecord("user1", domain.Date(2023, time.January, 1))}

	count, err := NewMigrator(stubReader{records: records}, path, nil).Migrate(ctx, domain.DateRange{})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 migrated row, got %d", count)
	}

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	got, err := store.List(ctx, domain.DefaultDateRange())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff(records, got); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
}

func TestMigratorReportsSourceFailure(t *testing.T) {
	boom := errors.New("primary unavailable")
	_, err := NewMigrator(stubReader{err: boom}, filepath.Join(t.TempDir(), "s.db"), nil).
		Migrate(context.Background(), domain.DefaultDateRange())
	if !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
