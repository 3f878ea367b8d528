package transform

import (
	"context"
	"errors"
	"sync"

	"github.com/rpattn/ddsetl/internal/domain"
	"github.com/rpattn/ddsetl/internal/repository"
)

var errInjected = errors.New("injected store failure")

// memoryStore is a transactional in-memory stand-in for the primary store.
// Work happens on a private copy that replaces the committed state only when
// fn succeeds.
type memoryStore struct {
	mu         sync.Mutex
	raw        []domain.RawRecord
	structured []domain.StructuredRecord
	copies     []domain.StructuredRecord
	nextID     int64

	failInsert   bool
	beforeInsert func()
}

type memoryState struct {
	structured []domain.StructuredRecord
	copies     []domain.StructuredRecord
	nextID     int64
}

func (s *memoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.RecordTx) error) error {
	s.mu.Lock()
	work := &memoryState{
		structured: append([]domain.StructuredRecord(nil), s.structured...),
		copies:     append([]domain.StructuredRecord(nil), s.copies...),
		nextID:     s.nextID,
	}
	raw := append([]domain.RawRecord(nil), s.raw...)
	s.mu.Unlock()

	if err := fn(ctx, &memoryTx{store: s, state: work, raw: raw}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.structured = work.structured
	s.copies = work.copies
	s.nextID = work.nextID
	return nil
}

// committedStructured returns what a concurrent reader would see.
func (s *memoryStore) committedStructured() []domain.StructuredRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StructuredRecord(nil), s.structured...)
}

func (s *memoryStore) committedCopies() []domain.StructuredRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StructuredRecord(nil), s.copies...)
}

func (s *memoryStore) addRaw(records ...domain.RawRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		rec.ID = int64(len(s.raw) + 1)
		s.raw = append(s.raw, rec)
	}
}

type memoryTx struct {
	store *memoryStore
	state *memoryState
	raw   []domain.RawRecord
}

func (t *memoryTx) LockRanges(ctx context.Context) error { return nil }

func (t *memoryTx) DeleteStructured(ctx context.Context, r domain.DateRange) (int64, error) {
	kept, removed := partition(t.state.structured, r)
	t.state.structured = kept
	return removed, nil
}

func (t *memoryTx) ListRawCandidates(ctx context.Context, filter repository.RawCandidateFilter) ([]domain.RawRecord, error) {
	var out []domain.RawRecord
	for _, rec := range t.raw {
		if rec.UserID == nil || rec.EffectiveFrom == nil || rec.EffectiveTo == nil {
			continue
		}
		from := *rec.EffectiveFrom
		if !from.After(filter.StartsOnOrBefore) || from.Before(filter.LowWaterMark) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (t *memoryTx) InsertStructured(ctx context.Context, records []domain.StructuredRecord) (int64, error) {
	if t.store.beforeInsert != nil {
		t.store.beforeInsert()
	}
	if t.store.failInsert {
		return 0, errInjected
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return 0, err
		}
		t.state.nextID++
		rec.ID = t.state.nextID
		t.state.structured = append(t.state.structured, rec)
	}
	return int64(len(records)), nil
}

func (t *memoryTx) DeleteCopies(ctx context.Context, r domain.DateRange) (int64, error) {
	kept, removed := partition(t.state.copies, r)
	t.state.copies = kept
	return removed, nil
}

func (t *memoryTx) CopyStructured(ctx context.Context, r domain.DateRange) (int64, error) {
	var copied int64
	for _, rec := range t.state.structured {
		if r.Contains(rec.EffectiveFrom, rec.EffectiveTo) {
			t.state.copies = append(t.state.copies, rec)
			copied++
		}
	}
	return copied, nil
}

func partition(records []domain.StructuredRecord, r domain.DateRange) ([]domain.StructuredRecord, int64) {
	kept := make([]domain.StructuredRecord, 0, len(records))
	var removed int64
	for _, rec := range records {
		if r.Contains(rec.EffectiveFrom, rec.EffectiveTo) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	return kept, removed
}
