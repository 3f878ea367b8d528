// Package warehouse loads the customer summary data mart from structured rows.
package warehouse

import (
	"context"
	"fmt"

	"github.com/rpattn/ddsetl/internal/domain"
	"github.com/rpattn/ddsetl/internal/repository"

	"go.uber.org/zap"
)

// Loader rebuilds the mart for a period.
type Loader struct {
	mart   repository.MartRepository
	logger *zap.Logger
}

// NewLoader constructs a mart loader.
func NewLoader(mart repository.MartRepository, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{mart: mart, logger: logger}
}

// Load replaces the mart rows for r and returns how many summary rows were written.
func (l *Loader) Load(ctx context.Context, r domain.DateRange) (int64, error) {
	r = r.OrDefault()
	count, err := l.mart.ReplacePeriod(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("load mart %s: %w", r, err)
	}
	l.logger.Info("customer summary loaded", zap.Stringer("range", r), zap.Int64("rows", count))
	return count, nil
}
