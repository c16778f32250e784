package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PaymentRepo implements ports.PaymentRepository.
type PaymentRepo struct{ s *Store }

// Payments returns the payment table.
func (s *Store) Payments() *PaymentRepo { return &PaymentRepo{s: s} }

func (r *PaymentRepo) Create(ctx context.Context, payment *domain.Payment) error {
	p := *payment
	return r.s.write(nil, func() (func(), error) {
		if _, ok := r.s.payments[p.ID]; ok {
			return nil, uniqueViolation("payments_pkey")
		}
		if p.IdempotencyKey != nil {
			for _, existing := range r.s.payments {
				if existing.MerchantID == p.MerchantID && existing.IdempotencyKey != nil &&
					*existing.IdempotencyKey == *p.IdempotencyKey {
					return nil, ports.ErrDuplicatePaymentKey
				}
			}
		}
		r.s.payments[p.ID] = &p
		return nil, nil
	})
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.get(id), nil
}

func (r *PaymentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	if err := r.s.lockRow(ctx, tx, paymentKey(id)); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *PaymentRepo) GetByIdempotencyKey(ctx context.Context, merchantID uuid.UUID, key string) (*domain.Payment, error) {
	return r.find(func(p *domain.Payment) bool {
		return p.MerchantID == merchantID && p.IdempotencyKey != nil && *p.IdempotencyKey == key
	}), nil
}

func (r *PaymentRepo) GetByExternalIntentID(ctx context.Context, gateway domain.Gateway, externalIntentID string) (*domain.Payment, error) {
	return r.find(func(p *domain.Payment) bool {
		return p.Gateway == gateway && p.ExternalIntentID != nil && *p.ExternalIntentID == externalIntentID
	}), nil
}

func (r *PaymentRepo) SetIntent(ctx context.Context, id uuid.UUID, intent *ports.IntentResult) error {
	return r.update(ctx, nil, id, func(p *domain.Payment) bool {
		ext := intent.ExternalIntentID
		p.ExternalIntentID, p.ClientToken, p.RedirectURL = &ext, intent.ClientToken, intent.RedirectURL
		p.UpdatedAt = time.Now().UTC()
		return true
	})
}

func (r *PaymentRepo) MarkCompleted(ctx context.Context, id uuid.UUID, externalTransactionID string, at time.Time) (bool, error) {
	moved := false
	err := r.update(ctx, nil, id, func(p *domain.Payment) bool {
		if p.Status != domain.PaymentStatusPending {
			return false
		}
		txID := externalTransactionID
		p.Status, p.TransactionID, p.CompletedAt, p.UpdatedAt = domain.PaymentStatusCompleted, &txID, &at, at
		moved = true
		return true
	})
	return moved, err
}

func (r *PaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	moved := false
	err := r.update(ctx, nil, id, func(p *domain.Payment) bool {
		if p.Status != domain.PaymentStatusPending {
			return false
		}
		why := reason
		p.Status, p.FailureReason, p.UpdatedAt = domain.PaymentStatusFailed, &why, time.Now().UTC()
		moved = true
		return true
	})
	return moved, err
}

func (r *PaymentRepo) MarkRecovered(ctx context.Context, id uuid.UUID, externalTransactionID string, at time.Time) (bool, error) {
	moved := false
	err := r.update(ctx, nil, id, func(p *domain.Payment) bool {
		if p.Status != domain.PaymentStatusFailed {
			return false
		}
		txID := externalTransactionID
		p.Status, p.TransactionID, p.CompletedAt, p.UpdatedAt = domain.PaymentStatusCompleted, &txID, &at, at
		p.FailureReason = nil
		moved = true
		return true
	})
	return moved, err
}

func (r *PaymentRepo) LinkGiftCard(ctx context.Context, tx pgx.Tx, id uuid.UUID, giftCardID uuid.UUID) error {
	return r.update(ctx, tx, id, func(p *domain.Payment) bool {
		cardID := giftCardID
		p.GiftCardID, p.UpdatedAt = &cardID, time.Now().UTC()
		return true
	})
}

func (r *PaymentRepo) UpdateRefund(ctx context.Context, tx pgx.Tx, id uuid.UUID, refunded decimal.Decimal, status domain.PaymentStatus) error {
	return r.update(ctx, tx, id, func(p *domain.Payment) bool {
		p.RefundedAmount, p.Status, p.UpdatedAt = refunded, status, time.Now().UTC()
		return true
	})
}

func (r *PaymentRepo) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	out := r.filter(func(p *domain.Payment) bool {
		return p.Status == domain.PaymentStatusPending && p.CreatedAt.Before(before)
	}, func(a, b *domain.Payment) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return truncate(out, limit), nil
}

func (r *PaymentRepo) ListCompletedWithoutCard(ctx context.Context, limit int) ([]domain.Payment, error) {
	out := r.filter(func(p *domain.Payment) bool {
		return p.Status == domain.PaymentStatusCompleted && p.GiftCardID == nil
	}, func(a, b *domain.Payment) bool {
		if a.CompletedAt == nil || b.CompletedAt == nil {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.CompletedAt.Before(*b.CompletedAt)
	})
	return truncate(out, limit), nil
}

// update locks the payment row, then applies fn. fn returns false to leave the row untouched.
func (r *PaymentRepo) update(ctx context.Context, tx pgx.Tx, id uuid.UUID, fn func(p *domain.Payment) bool) error {
	if err := r.s.lockRow(ctx, tx, paymentKey(id)); err != nil {
		return err
	}
	return r.s.write(tx, func() (func(), error) {
		p, ok := r.s.payments[id]
		if !ok {
			return nil, fmt.Errorf("payment not found: %s", id)
		}
		old := *p
		if !fn(p) {
			return nil, nil
		}
		return func() { *r.s.payments[id] = old }, nil
	})
}

func (r *PaymentRepo) get(id uuid.UUID) *domain.Payment {
	p, ok := r.s.payments[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (r *PaymentRepo) find(match func(p *domain.Payment) bool) *domain.Payment {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for id, p := range r.s.payments {
		if match(p) {
			return r.get(id)
		}
	}
	return nil
}

func (r *PaymentRepo) filter(match func(p *domain.Payment) bool, less func(a, b *domain.Payment) bool) []domain.Payment {
	r.s.mu.RLock()
	var hits []*domain.Payment
	for _, p := range r.s.payments {
		if match(p) {
			cp := *p
			hits = append(hits, &cp)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return less(hits[i], hits[j]) })
	out := make([]domain.Payment, 0, len(hits))
	for _, p := range hits {
		out = append(out, *p)
	}
	return out
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
