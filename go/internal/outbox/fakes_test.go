package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execCall struct {
	sql  string
	args []any
}

// fakeTx implements the parts of pgx.Tx the outbox touches.
type fakeTx struct {
	pgx.Tx
	rows      []Event
	execs     []execCall
	execErr   error
	committed bool
	rolled    bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	limit := args[0].(int)
	rows := t.rows
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return &fakeRows{events: rows, pos: -1}, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.committed || t.rolled {
		return pgx.ErrTxClosed
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.committed || t.rolled {
		return pgx.ErrTxClosed
	}
	t.rolled = true
	return nil
}

type fakeBeginner struct{ tx *fakeTx }

func (b fakeBeginner) Begin(ctx context.Context) (pgx.Tx, error) { return b.tx, nil }

type fakeRows struct {
	pgx.Rows
	events []Event
	pos    int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.events)
}

func (r *fakeRows) Scan(dest ...any) error {
	if len(dest) != 5 {
		return fmt.Errorf("unexpected scan of %d columns", len(dest))
	}
	e := r.events[r.pos]
	*dest[0].(*uuid.UUID) = e.ID
	*dest[1].(*uuid.UUID) = e.AggregateID
	*dest[2].(*string) = e.EventType
	*dest[3].(*[]byte) = e.Payload
	*dest[4].(*time.Time) = e.CreatedAt
	return nil
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }

// memProcessor is an in-memory outbox.
type memProcessor struct {
	mu      sync.Mutex
	pending []Event
	sent    []uuid.UUID
	calls   int
}

func (p *memProcessor) add(events ...Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, events...)
}

func (p *memProcessor) Process(ctx context.Context, limit int, fn func(Event) error) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	n := 0
	for n < limit && len(p.pending) > 0 {
		e := p.pending[0]
		if err := fn(e); err != nil {
			return n, nil
		}
		p.pending = p.pending[1:]
		p.sent = append(p.sent, e.ID)
		n++
	}
	return n, nil
}

func (p *memProcessor) sentIDs() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.sent...)
}

// flakyPublisher fails the first failures attempts for each event listed in
// failing, and forever for those in broken.
type flakyPublisher struct {
	mu        sync.Mutex
	failures  int
	attempts  map[uuid.UUID]int
	broken    map[uuid.UUID]bool
	published []uuid.UUID
}

func newFlakyPublisher(failures int) *flakyPublisher {
	return &flakyPublisher{
		failures: failures,
		attempts: map[uuid.UUID]int{},
		broken:   map[uuid.UUID]bool{},
	}
}

func (p *flakyPublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[e.ID]++
	if p.broken[e.ID] || p.attempts[e.ID] <= p.failures {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, e.ID)
	return nil
}

func (p *flakyPublisher) publishedIDs() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.published...)
}

func newEvents(n int) []Event {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	out := make([]Event, n)
	for i := range out {
		out[i] = Event{
			ID:          uuid.New(),
			AggregateID: uuid.New(),
			EventType:   "RaceCompleted",
			Payload:     []byte(`{}`),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func ids(events []Event) []uuid.UUID {
	out := make([]uuid.UUID, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}
