package secondary

import (
	"context"
	"fmt"

	"github.com/rpattn/ddsetl/internal/domain"
	"github.com/rpattn/ddsetl/internal/repository"

	"go.uber.org/zap"
)

// Migrator copies structured rows from the primary store into a Store.
type Migrator struct {
	source repository.StructuredReader
	path   string
	logger *zap.Logger
}

// NewMigrator constructs a migrator that writes to the SQLite file at path.
// The file is opened per run so a broken secondary store never blocks startup.
func NewMigrator(source repository.StructuredReader, path string, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{source: source, path: path, logger: logger}
}

// Migrate replaces the secondary copy of r and returns the migrated row count.
func (m *Migrator) Migrate(ctx context.Context, r domain.DateRange) (int64, error) {
	r = r.OrDefault()

	records, err := m.source.ListStructured(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("failed to read structured rows: %w", err)
	}

	store, err := Open(ctx, m.path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			m.logger.Warn("failed to close secondary store", zap.Error(cerr))
		}
	}()

	count, err := store.ReplaceRange(ctx, r, records)
	if err != nil {
		return 0, err
	}

	m.logger.Info("secondary migration complete",
		zap.Stringer("range", r),
		zap.String("path", m.path),
		zap.Int64("rows", count),
	)
	return count, nil
}
