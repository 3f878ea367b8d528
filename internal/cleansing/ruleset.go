// Package cleansing maps landing rows onto structured rows. Every rule is a
// total function of its input field so the ruleset never touches the store.
package cleansing

import (
	"strings"
	"time"

	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/shopspring/decimal"
)

// Thresholds holds the fixed bounds the rules clamp against. The date marks
// are tied to the dataset era and can be overridden from configuration.
type Thresholds struct {
	// LowWaterMark: effective_from earlier than this is reset.
	LowWaterMark time.Time
	// DefaultWindowStart replaces an effective_from below LowWaterMark.
	DefaultWindowStart time.Time
	// HighWaterMark caps effective_to.
	HighWaterMark time.Time
	// ExtendedWindow is added to effective_from when effective_to precedes it.
	ExtendedWindow time.Duration

	DefaultAge     int
	MinAge         int
	MaxAge         int
	SalaryCap      decimal.Decimal
	PurchaseCap    decimal.Decimal
	TransactionCap int
	AmountScale    int32
}

// DefaultThresholds returns the bounds the s_sql_dds dataset was built with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowWaterMark:       domain.Date(2020, time.January, 1),
		DefaultWindowStart: domain.Date(2023, time.January, 1),
		HighWaterMark:      domain.Date(2024, time.December, 31),
		ExtendedWindow:     30 * 24 * time.Hour,
		DefaultAge:         25,
		MinAge:             domain.MinAge,
		MaxAge:             domain.MaxAge,
		SalaryCap:          decimal.NewFromInt(1000000),
		PurchaseCap:        decimal.NewFromInt(domain.MaxPurchaseAmount),
		TransactionCap:     domain.MaxTransactionCount,
		AmountScale:        2,
	}
}

// DefaultUnknownStatus replaces a missing customer status.
const DefaultUnknownStatus = "unknown"

// Ruleset applies the per-field cleansing rules.
type Ruleset struct {
	thresholds Thresholds
}

// NewRuleset builds a ruleset over the given thresholds.
func NewRuleset(thresholds Thresholds) *Ruleset {
	return &Ruleset{thresholds: thresholds}
}

// Thresholds returns the bounds the ruleset clamps against.
func (r *Ruleset) Thresholds() Thresholds {
	return r.thresholds
}

// Normalize cleanses one landing row. It returns false when the row is
// rejected, which happens only for a missing user_id. Rows whose effective
// dates are missing cannot be placed in any window and are rejected as well.
func (r *Ruleset) Normalize(raw domain.RawRecord) (domain.StructuredRecord, bool) {
	if raw.UserID == nil || raw.EffectiveFrom == nil || raw.EffectiveTo == nil {
		return domain.StructuredRecord{}, false
	}

	from := r.effectiveFrom(*raw.EffectiveFrom)
	return domain.StructuredRecord{
		UserID:           *raw.UserID,
		UserName:         raw.UserName,
		Age:              r.age(raw.Age),
		Salary:           r.amount(raw.Salary, r.thresholds.SalaryCap),
		PurchaseAmount:   r.amount(raw.PurchaseAmount, r.thresholds.PurchaseCap),
		ProductCategory:  productCategory(raw.ProductCategory),
		Region:           raw.Region,
		CustomerStatus:   customerStatus(raw.CustomerStatus),
		TransactionCount: r.transactionCount(raw.TransactionCount),
		EffectiveFrom:    from,
		EffectiveTo:      r.effectiveTo(from, *raw.EffectiveTo),
		CurrentFlag:      raw.CurrentFlag,
	}, true
}

func (r *Ruleset) age(raw *int) int {
	switch {
	case raw == nil:
		return r.thresholds.DefaultAge
	case *raw < r.thresholds.MinAge:
		return r.thresholds.MinAge
	case *raw > r.thresholds.MaxAge:
		return r.thresholds.MaxAge
	default:
		return *raw
	}
}

func (r *Ruleset) amount(raw decimal.NullDecimal, ceiling decimal.Decimal) decimal.NullDecimal {
	if !raw.Valid {
		return raw
	}
	switch {
	case raw.Decimal.IsNegative():
		return decimal.NewNullDecimal(decimal.Zero)
	case raw.Decimal.GreaterThan(ceiling):
		return decimal.NewNullDecimal(ceiling)
	default:
		return decimal.NewNullDecimal(raw.Decimal.Round(r.thresholds.AmountScale))
	}
}

func productCategory(raw *string) domain.ProductCategory {
	if raw == nil {
		return domain.CategoryOther
	}
	category := domain.ProductCategory(*raw)
	if category.IsAllowListed() {
		return category
	}
	return domain.CategoryOther
}

func customerStatus(raw *string) string {
	if raw == nil {
		return DefaultUnknownStatus
	}
	return strings.ToLower(*raw)
}

func (r *Ruleset) transactionCount(raw *int) *int {
	if raw == nil {
		return nil
	}
	count := *raw
	if count < 0 {
		count = 0
	} else if count > r.thresholds.TransactionCap {
		count = r.thresholds.TransactionCap
	}
	return &count
}

func (r *Ruleset) effectiveFrom(raw time.Time) time.Time {
	from := domain.TruncateDate(raw)
	if from.Before(r.thresholds.LowWaterMark) {
		return r.thresholds.DefaultWindowStart
	}
	return from
}

// effectiveTo compares against the already-normalized effective_from.
func (r *Ruleset) effectiveTo(from, raw time.Time) time.Time {
	to := domain.TruncateDate(raw)
	switch {
	case to.Before(from):
		return from.Add(r.thresholds.ExtendedWindow)
	case to.After(r.thresholds.HighWaterMark):
		return r.thresholds.HighWaterMark
	default:
		return to
	}
}
