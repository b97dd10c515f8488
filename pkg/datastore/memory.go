package datastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linguameet/linguameet/pkg/model"
)

// Memory provides an in-memory Store implementation for tests.
// It mirrors the SQLite store's validation and error behavior.
type Memory struct {
	mu sync.RWMutex

	now func() time.Time

	nextCallID   int64
	nextReviewID int64

	calls   map[int64]model.CallRecord
	reviews []model.Review
}

// NewMemory creates a Memory store using time.Now().UTC().
func NewMemory() *Memory {
	return NewMemoryWithClock(nil)
}

// NewMemoryWithClock creates a Memory store with a custom clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Memory{
		now:          now,
		nextCallID:   1,
		nextReviewID: 1,
		calls:        make(map[int64]model.CallRecord),
	}
}

// Close is a no-op for Memory.
func (s *Memory) Close() error {
	return nil
}

// AppendCall persists a completed call and returns its assigned id.
func (s *Memory) AppendCall(_ context.Context, rec model.CallRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, fmt.Errorf("datastore: append call: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextCallID
	s.nextCallID++
	rec.CreatedAt = s.now()
	s.calls[rec.ID] = rec
	return rec.ID, nil
}

// GetCall retrieves one call record. Returns (nil, nil) if not found.
func (s *Memory) GetCall(_ context.Context, id int64) (*model.CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.calls[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ListCalls returns call records, newest first.
func (s *Memory) ListCalls(_ context.Context, limit int) ([]model.CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.CallRecord
	for id := s.nextCallID - 1; id >= 1; id-- {
		if rec, ok := s.calls[id]; ok {
			result = append(result, rec)
			if limit > 0 && len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

// AppendReview persists a post-call review after validation.
func (s *Memory) AppendReview(_ context.Context, rev model.Review) error {
	if err := rev.Validate(); err != nil {
		return fmt.Errorf("datastore: append review: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rev.ID = s.nextReviewID
	s.nextReviewID++
	rev.CreatedAt = s.now()
	s.reviews = append(s.reviews, rev)
	return nil
}

// ListReviews returns the reviews filed against one call, oldest first.
func (s *Memory) ListReviews(_ context.Context, callID int64) ([]model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Review
	for _, rev := range s.reviews {
		if rev.CallID == callID {
			result = append(result, rev)
		}
	}
	return result, nil
}
