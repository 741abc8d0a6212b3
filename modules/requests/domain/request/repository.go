package request

import (
	"context"
	"time"
)

// Repository is the persistence collaborator. Implementations must load
// the full aggregate (actions and reviews eagerly, without N+1 queries)
// and commit updates atomically with compare-and-set semantics on
// LockVersion.
type Repository interface {
	// Create persists a new request, assigning the next monotonic number
	// from the sequence owned by the store. Number assignment and insert
	// happen in one transaction.
	Create(ctx context.Context, req *Request) (*Request, error)

	// GetByNumber returns ErrNotFound when absent.
	GetByNumber(ctx context.Context, number int64) (*Request, error)

	// Update commits the aggregate if and only if the persisted
	// LockVersion still matches req.LockVersion; otherwise ErrConflict.
	// On success the returned request carries the bumped version.
	Update(ctx context.Context, req *Request) (*Request, error)

	// Replace destroys the stored request and persists req under the same
	// number inside one transaction. A failure leaves the original intact.
	Replace(ctx context.Context, number int64, req *Request) (*Request, error)

	// Delete removes the request and returns the prior state for the
	// deletion notification.
	Delete(ctx context.Context, number int64) (*Request, error)

	// Find runs the collection query. Results are ordered by number
	// ascending; Filter.Limit truncates after ordering.
	Find(ctx context.Context, f Filter) ([]*Request, error)

	// DueForAcceptance lists numbers of requests in state new or review
	// whose accept_at has elapsed and which have no open reviews.
	DueForAcceptance(ctx context.Context, now time.Time) ([]int64, error)
}
