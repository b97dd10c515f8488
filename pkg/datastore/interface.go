package datastore

import (
	"context"

	"github.com/linguameet/linguameet/pkg/model"
)

// Store is the persistence sink for completed calls and reviews.
//
// The coordinator treats both appends as fire-and-forget: failures are
// logged, never retried, and never block session cleanup or participant
// notifications. The read methods serve offline tooling and tests, not
// the event-handling hot path.
//
// The default implementation is SQLite; Memory backs tests.
type Store interface {
	CallWriter
	ReviewWriter
	CallReader
	ReviewReader

	Close() error
}

type CallWriter interface {
	// AppendCall persists a completed call and returns its assigned id.
	AppendCall(ctx context.Context, rec model.CallRecord) (int64, error)
}

type ReviewWriter interface {
	// AppendReview persists a post-call review.
	AppendReview(ctx context.Context, rev model.Review) error
}

type CallReader interface {
	// GetCall retrieves one call record. Returns (nil, nil) if not found.
	GetCall(ctx context.Context, id int64) (*model.CallRecord, error)
	// ListCalls returns call records, newest first, capped at limit
	// (0 = no cap).
	ListCalls(ctx context.Context, limit int) ([]model.CallRecord, error)
}

type ReviewReader interface {
	// ListReviews returns the reviews filed against one call.
	ListReviews(ctx context.Context, callID int64) ([]model.Review, error)
}

// Compile-time checks.
var (
	_ Store = (*SQL)(nil)
	_ Store = (*Memory)(nil)
)
