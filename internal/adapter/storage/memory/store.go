// Package memory is an in-process implementation of the repository ports.
// It backs local development mode and the service-level tests. Row locks
// taken by the ForUpdate methods are held until the owning transaction ends,
// and rollback undoes every write made through the transaction. Reads outside
// a transaction see uncommitted writes.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("memory: transaction already finished")

// Store holds all tables.
type Store struct {
	mu    sync.RWMutex
	locks *rowLocks

	cards        map[uuid.UUID]*domain.GiftCard
	cardCodes    map[string]uuid.UUID
	payments     map[uuid.UUID]*domain.Payment
	redemptions  []domain.Redemption
	transactions []domain.Transaction
	reservations map[uuid.UUID]*domain.RefundReservation
	idempotency  map[string]*domain.IdempotencyLog
	merchants    map[uuid.UUID]*domain.Merchant
	audits       []domain.AuditLog
	webhooks     map[uuid.UUID]*domain.WebhookDeliveryLog
}

// New creates an empty store.
func New() *Store {
	return &Store{
		locks:        newRowLocks(),
		cards:        make(map[uuid.UUID]*domain.GiftCard),
		cardCodes:    make(map[string]uuid.UUID),
		payments:     make(map[uuid.UUID]*domain.Payment),
		reservations: make(map[uuid.UUID]*domain.RefundReservation),
		idempotency:  make(map[string]*domain.IdempotencyLog),
		merchants:    make(map[uuid.UUID]*domain.Merchant),
		webhooks:     make(map[uuid.UUID]*domain.WebhookDeliveryLog),
	}
}

// Begin implements ports.DBTransactor.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return &memTx{store: s, held: make(map[string]struct{})}, nil
}

// write applies fn under the store lock and registers undo with tx, if any.
func (s *Store) write(tx pgx.Tx, fn func() (undo func(), err error)) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	undo, err := fn()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if mt != nil && undo != nil {
		mt.undo = append(mt.undo, undo)
	}
	return nil
}

// lockRow takes the named row lock for tx. Without a tx the lock is taken and
// released immediately, which waits out any transaction holding it.
func (s *Store) lockRow(ctx context.Context, tx pgx.Tx, key string) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if mt == nil {
		if err := s.locks.acquire(ctx, key); err != nil {
			return err
		}
		s.locks.release(key)
		return nil
	}
	if _, ok := mt.held[key]; ok {
		return nil
	}
	if err := s.locks.acquire(ctx, key); err != nil {
		return err
	}
	mt.held[key] = struct{}{}
	return nil
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint,
		Message: fmt.Sprintf("duplicate key value violates unique constraint %q", constraint)}
}

func cardKey(id uuid.UUID) string        { return "gift_cards:" + id.String() }
func paymentKey(id uuid.UUID) string     { return "payments:" + id.String() }
func reservationKey(id uuid.UUID) string { return "refund_reservations:" + id.String() }

// --- row locks ---

type rowLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newRowLocks() *rowLocks {
	return &rowLocks{slots: make(map[string]chan struct{})}
}

func (l *rowLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *rowLocks) acquire(ctx context.Context, key string) error {
	select {
	case l.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lock %s: %w", key, ctx.Err())
	}
}

func (l *rowLocks) release(key string) {
	<-l.slot(key)
}

// --- transaction ---

type memTx struct {
	store *Store
	mu    sync.Mutex
	held  map[string]struct{}
	undo  []func()
	done  bool
}

func asTx(tx pgx.Tx) (*memTx, error) {
	if tx == nil {
		return nil, nil
	}
	mt, ok := tx.(*memTx)
	if !ok {
		return nil, fmt.Errorf("memory: foreign transaction %T", tx)
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.done {
		return nil, ErrTxDone
	}
	return mt, nil
}

func (t *memTx) finish(rollback bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	if rollback {
		t.store.mu.Lock()
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		t.store.mu.Unlock()
	}
	t.undo = nil
	for key := range t.held {
		t.store.locks.release(key)
	}
	t.held = nil
	return nil
}

func (t *memTx) Commit(ctx context.Context) error   { return t.finish(false) }
func (t *memTx) Rollback(ctx context.Context) error { return t.finish(true) }

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("memory: nested transactions are not supported")
}
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("memory: CopyFrom is not supported")
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("memory: Prepare is not supported")
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), errors.New("memory: raw SQL is not supported")
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("memory: raw SQL is not supported")
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return errRow{errors.New("memory: raw SQL is not supported")}
}
func (t *memTx) Conn() *pgx.Conn { return nil }

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

// Ping implements ports.HealthChecker.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Name implements ports.HealthChecker.
func (s *Store) Name() string { return "memory" }
