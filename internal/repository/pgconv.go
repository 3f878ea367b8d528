package repository

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// SQLSTATE codes for constraint failures.
const (
	pgNotNullViolation = "23502"
	pgCheckViolation   = "23514"
)

// classifyError maps store-side constraint rejections onto
// domain.ErrConstraintViolation and wraps everything else.
func classifyError(action string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgCheckViolation || pgErr.Code == pgNotNullViolation) {
		return fmt.Errorf("failed to %s: %w: %s (%s)", action, domain.ErrConstraintViolation, pgErr.Message, pgErr.ConstraintName)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

func toNumeric(value decimal.NullDecimal) pgtype.Numeric {
	if !value.Valid {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: value.Decimal.Coefficient(), Exp: value.Decimal.Exponent(), Valid: true}
}

func fromNumeric(value pgtype.Numeric) (decimal.NullDecimal, error) {
	if !value.Valid {
		return decimal.NullDecimal{}, nil
	}
	if value.NaN || value.InfinityModifier != pgtype.Finite {
		return decimal.NullDecimal{}, fmt.Errorf("non-finite numeric value")
	}
	coefficient := value.Int
	if coefficient == nil {
		coefficient = new(big.Int)
	}
	return decimal.NewNullDecimal(decimal.NewFromBigInt(coefficient, value.Exp)), nil
}

func textPtr(value pgtype.Text) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func int4Ptr(value pgtype.Int4) *int {
	if !value.Valid {
		return nil
	}
	i := int(value.Int32)
	return &i
}

func boolPtr(value pgtype.Bool) *bool {
	if !value.Valid {
		return nil
	}
	b := value.Bool
	return &b
}

func datePtr(value pgtype.Date) *time.Time {
	if !value.Valid || value.InfinityModifier != pgtype.Finite {
		return nil
	}
	t := domain.TruncateDate(value.Time)
	return &t
}

func toDate(value *time.Time) pgtype.Date {
	if value == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: domain.TruncateDate(*value), Valid: true}
}

func toText(value *string) pgtype.Text {
	if value == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *value, Valid: true}
}

func toInt4(value *int) pgtype.Int4 {
	if value == nil {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(*value), Valid: true}
}

func toBool(value *bool) pgtype.Bool {
	if value == nil {
		return pgtype.Bool{}
	}
	return pgtype.Bool{Bool: *value, Valid: true}
}
