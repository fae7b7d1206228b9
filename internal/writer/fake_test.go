package writer

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records batches and answers each queued statement in order.
type fakeDB struct {
	mu      sync.Mutex
	batches []*pgx.Batch

	// rowsAffected for Exec results; inserted for QueryRow results.
	rowsAffected func(i int) int64
	inserted     func(i int) bool
	err          error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not implemented")
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeRow{err: errors.New("not implemented")}
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	f.batches = append(f.batches, b)
	f.mu.Unlock()
	return &fakeResults{db: f}
}

func (f *fakeDB) queued() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*pgx.QueuedQuery
	for _, b := range f.batches {
		all = append(all, b.QueuedQueries...)
	}
	return all
}

type fakeResults struct {
	db *fakeDB
	n  int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	i := r.n
	r.n++
	if r.db.err != nil {
		return pgconn.CommandTag{}, r.db.err
	}
	affected := int64(1)
	if r.db.rowsAffected != nil {
		affected = r.db.rowsAffected(i)
	}
	if affected == 0 {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeResults) QueryRow() pgx.Row {
	i := r.n
	r.n++
	if r.db.err != nil {
		return fakeRow{err: r.db.err}
	}
	inserted := true
	if r.db.inserted != nil {
		inserted = r.db.inserted(i)
	}
	return fakeRow{inserted: inserted}
}

func (r *fakeResults) Close() error { return nil }

type fakeRow struct {
	inserted bool
	err      error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return errors.New("expected one destination")
	}
	p, ok := dest[0].(*bool)
	if !ok {
		return errors.New("expected *bool destination")
	}
	*p = r.inserted
	return nil
}
