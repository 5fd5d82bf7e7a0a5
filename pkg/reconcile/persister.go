package reconcile

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/georecon/pkg/store"
)

// Persister writes mappings in batches of a fixed size. Row failures are
// logged and counted without aborting the batch.
type Persister struct {
	st        *store.Store
	size      int
	logger    *slog.Logger
	batch     *store.Batch
	pending   []*entry
	errors    int
	committed int
}

// NewPersister returns a Persister committing every size rows.
func NewPersister(st *store.Store, size int, logger *slog.Logger) *Persister {
	if size < 1 {
		size = 1
	}
	return &Persister{st: st, size: size, logger: logger}
}

// Persist upserts m, tracked by e. It only returns an error when ctx is
// done; other failures become PersistenceErrors in the counters.
func (p *Persister) Persist(ctx context.Context, m store.Mapping, e *entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.batch == nil {
		b, err := p.st.Begin(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.fail(m, e, err)
			return nil
		}
		p.batch = b
	}

	if err := p.batch.Upsert(ctx, m); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.fail(m, e, err)
		return nil
	}
	p.pending = append(p.pending, e)

	if len(p.pending) >= p.size {
		return p.Flush(ctx)
	}
	return nil
}

// Flush commits the open batch. A failed commit counts every row of the
// batch as a persistence error.
func (p *Persister) Flush(ctx context.Context) error {
	if p.batch == nil {
		return nil
	}
	b := p.batch
	p.batch = nil
	pending := p.pending
	p.pending = nil

	if err := b.Commit(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Error("persist_batch_failed", "rows", len(pending), "error", err)
		for _, e := range pending {
			e.state = rowFailed
		}
		p.errors += len(pending)
		return nil
	}
	for _, e := range pending {
		e.state = rowCommitted
	}
	p.committed += len(pending)
	return nil
}

// Abort rolls back any open batch.
func (p *Persister) Abort() {
	if p.batch != nil {
		p.batch.Rollback()
		p.batch = nil
		p.pending = nil
	}
}

// Errors returns the number of rows that failed to persist.
func (p *Persister) Errors() int { return p.errors }

// Committed returns the number of rows committed.
func (p *Persister) Committed() int { return p.committed }

func (p *Persister) fail(m store.Mapping, e *entry, err error) {
	e.state = rowFailed
	p.errors++
	p.logger.Warn("persist_error", "error", &PersistenceError{ExternalID: m.ExternalID, LocationType: m.LocationType, Err: err})
}
