package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomerSummary is one data mart row aggregated over a period.
type CustomerSummary struct {
	PeriodStart       time.Time       `json:"period_start"`
	PeriodEnd         time.Time       `json:"period_end"`
	Region            string          `json:"region"`
	ProductCategory   ProductCategory `json:"product_category"`
	CustomerStatus    string          `json:"customer_status"`
	CustomerCount     int64           `json:"customer_count"`
	TotalPurchase     decimal.Decimal `json:"total_purchase"`
	AverageSalary     decimal.Decimal `json:"average_salary"`
	TotalTransactions int64           `json:"total_transactions"`
	LoadedAt          time.Time       `json:"loaded_at"`
}
