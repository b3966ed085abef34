package tokenstore

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/dmitrijs2005/stravasync/internal/common"
	"github.com/dmitrijs2005/stravasync/internal/server/models"
)

// MemoryStore keeps records in a map. Records are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.TokenRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]models.TokenRecord{}}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*models.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) Put(ctx context.Context, rec *models.TokenRecord) error {
	if err := checkUserID(rec.UserID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = *rec
	return nil
}

// All walks a snapshot of the user ids taken when iteration starts.
func (s *MemoryStore) All(ctx context.Context) iter.Seq2[*models.TokenRecord, error] {
	return func(yield func(*models.TokenRecord, error) bool) {
		s.mu.RLock()
		ids := make([]string, 0, len(s.records))
		for id := range s.records {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
		sort.Strings(ids)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(nil, common.StorageError("list tokens", err))
				return
			}
			rec, err := s.Get(ctx, id)
			if err != nil {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}
