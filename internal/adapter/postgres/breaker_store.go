package postgres

import (
	"context"

	"github.com/Strob0t/taskforge/internal/domain/taskrecord"
	"github.com/Strob0t/taskforge/internal/port/taskstore"
	"github.com/Strob0t/taskforge/internal/resilience"
)

// BreakerStore wraps a taskstore.Store's write path with a circuit breaker
// so a flaky database under subtask fan-out load sheds writes once it is
// tripping instead of piling up blocked goroutines behind it. Reads pass
// through untouched: Refresh/Get calls are not on the hot write path and a
// caller blocked on one already has its own timeout via ctx.
type BreakerStore struct {
	inner   taskstore.Store
	breaker *resilience.Breaker
}

// NewBreakerStore wraps inner's Save/Update/MarkDirty calls with breaker.
func NewBreakerStore(inner taskstore.Store, breaker *resilience.Breaker) *BreakerStore {
	return &BreakerStore{inner: inner, breaker: breaker}
}

func (s *BreakerStore) Save(ctx context.Context, rec *taskrecord.Record) error {
	return s.breaker.Execute(func() error { return s.inner.Save(ctx, rec) })
}

func (s *BreakerStore) Update(ctx context.Context, rec *taskrecord.Record) error {
	return s.breaker.Execute(func() error { return s.inner.Update(ctx, rec) })
}

func (s *BreakerStore) MarkDirty(ctx context.Context, rec *taskrecord.Record) error {
	return s.breaker.Execute(func() error { return s.inner.MarkDirty(ctx, rec) })
}

func (s *BreakerStore) Refresh(ctx context.Context, rec *taskrecord.Record) error {
	return s.inner.Refresh(ctx, rec)
}

func (s *BreakerStore) Get(ctx context.Context, id string) (*taskrecord.Record, error) {
	return s.inner.Get(ctx, id)
}

var _ taskstore.Store = (*BreakerStore)(nil)
