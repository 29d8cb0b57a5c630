package port

import (
	"context"
	"imgmerge/internal/core/domain"
	"time"
)

type Merger interface {
	// Merge composites the two encoded images of the request and returns the encoded result.
	Merge(ctx context.Context, req domain.MergeRequest) (*domain.MergeResult, error)
	// MergeAndStore runs Merge and persists the result, returning where it was stored.
	MergeAndStore(ctx context.Context, req domain.MergeRequest) (*domain.StoredResult, error)
}

type Cleaner interface {
	// SweepNow removes files older than maxAge from every managed store, keyed by store name.
	SweepNow(ctx context.Context, maxAge time.Duration) (map[string]int, error)
}
