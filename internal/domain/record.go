package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrConstraintViolation marks a structured record that breaks a store constraint.
var ErrConstraintViolation = errors.New("constraint violation")

// ProductCategory is the closed set of categories allowed in structured form.
type ProductCategory string

const (
	CategoryElectronics ProductCategory = "Electronics"
	CategoryClothing    ProductCategory = "Clothing"
	CategoryBooks       ProductCategory = "Books"
	CategoryHome        ProductCategory = "Home"
	CategorySports      ProductCategory = "Sports"
	CategoryOther       ProductCategory = "Other"
)

// Structured form limits. These mirror the CHECK constraints on
// s_sql_dds.t_sql_source_structured.
const (
	MinAge              = 18
	MaxAge              = 100
	MaxPurchaseAmount   = 100000
	MaxTransactionCount = 1000
)

// AllowListedCategories are the categories that survive cleansing unchanged.
var AllowListedCategories = []ProductCategory{
	CategoryElectronics,
	CategoryClothing,
	CategoryBooks,
	CategoryHome,
	CategorySports,
}

// IsAllowListed reports whether the category passes through cleansing as-is.
func (c ProductCategory) IsAllowListed() bool {
	for _, allowed := range AllowListedCategories {
		if c == allowed {
			return true
		}
	}
	return false
}

// IsValid reports whether the category belongs to the closed structured set.
func (c ProductCategory) IsValid() bool {
	return c == CategoryOther || c.IsAllowListed()
}

// RawRecord is a landing row. Nothing about it is trusted.
type RawRecord struct {
	ID               int64               `json:"id"`
	UserID           *string             `json:"user_id"`
	UserName         *string             `json:"user_name"`
	Age              *int                `json:"age"`
	Salary           decimal.NullDecimal `json:"salary"`
	PurchaseAmount   decimal.NullDecimal `json:"purchase_amount"`
	ProductCategory  *string             `json:"product_category"`
	Region           *string             `json:"region"`
	CustomerStatus   *string             `json:"customer_status"`
	TransactionCount *int                `json:"transaction_count"`
	EffectiveFrom    *time.Time          `json:"effective_from"`
	EffectiveTo      *time.Time          `json:"effective_to"`
	CurrentFlag      *bool               `json:"current_flag"`
	LoadedAt         time.Time           `json:"loaded_at"`
}

// StructuredRecord is a cleansed row. Optional numeric fields stay NULL when
// the landing value was NULL; NULL satisfies every structured constraint.
type StructuredRecord struct {
	ID               int64               `json:"id"`
	UserID           string              `json:"user_id"`
	UserName         *string             `json:"user_name"`
	Age              int                 `json:"age"`
	Salary           decimal.NullDecimal `json:"salary"`
	PurchaseAmount   decimal.NullDecimal `json:"purchase_amount"`
	ProductCategory  ProductCategory     `json:"product_category"`
	Region           *string             `json:"region"`
	CustomerStatus   string              `json:"customer_status"`
	TransactionCount *int                `json:"transaction_count"`
	EffectiveFrom    time.Time           `json:"effective_from"`
	EffectiveTo      time.Time           `json:"effective_to"`
	CurrentFlag      *bool               `json:"current_flag"`
	ProcessedAt      time.Time           `json:"processed_at"`
}

// ConstraintError describes which structured constraint a record broke.
type ConstraintError struct {
	UserID string
	Field  string
	Reason string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("record %q: field %s: %s", e.UserID, e.Field, e.Reason)
}

// Is lets callers match any ConstraintError against ErrConstraintViolation.
func (e *ConstraintError) Is(target error) bool {
	return target == ErrConstraintViolation
}

// Validate checks the record against the structured constraints.
func (r StructuredRecord) Validate() error {
	violation := func(field, reason string) error {
		return &ConstraintError{UserID: r.UserID, Field: field, Reason: reason}
	}

	if r.Age < MinAge || r.Age > MaxAge {
		return violation("age", fmt.Sprintf("%d outside [%d,%d]", r.Age, MinAge, MaxAge))
	}
	if r.Salary.Valid && r.Salary.Decimal.IsNegative() {
		return violation("salary", "negative")
	}
	if r.PurchaseAmount.Valid {
		if r.PurchaseAmount.Decimal.IsNegative() || r.PurchaseAmount.Decimal.GreaterThan(decimal.NewFromInt(MaxPurchaseAmount)) {
			return violation("purchase_amount", fmt.Sprintf("%s outside [0,%d]", r.PurchaseAmount.Decimal, MaxPurchaseAmount))
		}
	}
	if !r.ProductCategory.IsValid() {
		return violation("product_category", fmt.Sprintf("%q not in closed set", r.ProductCategory))
	}
	if r.TransactionCount != nil && (*r.TransactionCount < 0 || *r.TransactionCount > MaxTransactionCount) {
		return violation("transaction_count", fmt.Sprintf("%d outside [0,%d]", *r.TransactionCount, MaxTransactionCount))
	}
	if r.EffectiveFrom.IsZero() {
		return violation("effective_from", "missing")
	}
	if r.EffectiveTo.IsZero() {
		return violation("effective_to", "missing")
	}
	if r.EffectiveTo.Before(r.EffectiveFrom) {
		return violation("effective_to", fmt.Sprintf("%s before effective_from %s", FormatDate(r.EffectiveTo), FormatDate(r.EffectiveFrom)))
	}
	return nil
}
