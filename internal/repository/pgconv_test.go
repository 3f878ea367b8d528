package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func TestClassifyErrorMapsConstraintViolations(t *testing.T) {
	for _, code := range []string{pgCheckViolation, pgNotNullViolation} {
		err := classifyError("insert structured records", &pgconn.PgError{Code: code, Message: "violates check", ConstraintName: "valid_date_range"})
		if !errors.Is(err, domain.ErrConstraintViolation) {
			t.Fatalf("code %s: expected ErrConstraintViolation, got %v", code, err)
		}
	}

	other := &pgconn.PgError{Code: "40P01"}
	err := classifyError("insert structured records", other)
	if errors.Is(err, domain.ErrConstraintViolation) {
		t.Fatalf("deadlock must not be reported as a constraint violation")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected original error to stay reachable")
	}
}

func TestNumericConversionPreservesValue(t *testing.T) {
	cases := []string{"0", "50000.50", "-12.34", "100000", "0.01"}
	for _, raw := range cases {
		in := decimal.NewNullDecimal(decimal.RequireFromString(raw))
		out, err := fromNumeric(toNumeric(in))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", raw, err)
		}
		if !out.Valid || !out.Decimal.Equal(in.Decimal) {
			t.Fatalf("%s: got %v", raw, out)
		}
	}

	if n := toNumeric(decimal.NullDecimal{}); n.Valid {
		t.Fatalf("NULL decimal must map to NULL numeric")
	}
	if _, err := fromNumeric(pgtype.Numeric{NaN: true, Valid: true}); err == nil {
		t.Fatalf("expected NaN to be rejected")
	}
}

func TestNullableHelpers(t *testing.T) {
	if textPtr(pgtype.Text{}) != nil || int4Ptr(pgtype.Int4{}) != nil || boolPtr(pgtype.Bool{}) != nil || datePtr(pgtype.Date{}) != nil {
		t.Fatalf("invalid pgtype values must map to nil")
	}
	day := time.Date(2023, time.March, 4, 15, 30, 0, 0, time.UTC)
	got := toDate(&day)
	if !got.Valid || !got.Time.Equal(domain.Date(2023, time.March, 4)) {
		t.Fatalf("expected truncated date, got %+v", got)
	}
	if v := toInt4(nil); v.Valid {
		t.Fatalf("nil int must be NULL")
	}
}
