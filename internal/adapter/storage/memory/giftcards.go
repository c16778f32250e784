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
)

// GiftCardRepo implements ports.GiftCardRepository.
type GiftCardRepo struct{ s *Store }

// GiftCards returns the gift card table.
func (s *Store) GiftCards() *GiftCardRepo { return &GiftCardRepo{s: s} }

func (r *GiftCardRepo) Create(ctx context.Context, tx pgx.Tx, card *domain.GiftCard) error {
	c := *card
	return r.s.write(tx, func() (func(), error) {
		if _, ok := r.s.cardCodes[c.Code]; ok {
			return nil, ports.ErrDuplicateCardCode
		}
		if _, ok := r.s.cards[c.ID]; ok {
			return nil, ports.ErrDuplicateCardID
		}
		for _, existing := range r.s.cards {
			if existing.PaymentID == c.PaymentID {
				return nil, uniqueViolation("gift_cards_payment_id_key")
			}
		}
		r.s.cards[c.ID] = &c
		r.s.cardCodes[c.Code] = c.ID
		return func() {
			delete(r.s.cards, c.ID)
			delete(r.s.cardCodes, c.Code)
		}, nil
	})
}

func (r *GiftCardRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.GiftCard, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.get(id), nil
}

func (r *GiftCardRepo) GetByCode(ctx context.Context, code string) (*domain.GiftCard, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.cardCodes[code]
	if !ok {
		return nil, nil
	}
	return r.get(id), nil
}

func (r *GiftCardRepo) GetByPaymentID(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (*domain.GiftCard, error) {
	r.s.mu.RLock()
	var id uuid.UUID
	found := false
	for _, c := range r.s.cards {
		if c.PaymentID == paymentID {
			id, found = c.ID, true
			break
		}
	}
	r.s.mu.RUnlock()
	if !found {
		return nil, nil
	}
	return r.GetByIDForUpdate(ctx, tx, id)
}

func (r *GiftCardRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.GiftCard, error) {
	if err := r.s.lockRow(ctx, tx, cardKey(id)); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *GiftCardRepo) Update(ctx context.Context, tx pgx.Tx, card *domain.GiftCard) error {
	c := *card
	return r.s.write(tx, func() (func(), error) {
		prev, ok := r.s.cards[c.ID]
		if !ok {
			return nil, fmt.Errorf("gift card not found: %s", c.ID)
		}
		if c.Balance.Add(c.PendingRefund).GreaterThan(c.Value) || c.Balance.IsNegative() || c.PendingRefund.IsNegative() {
			return nil, fmt.Errorf("gift card %s violates balance check", c.ID)
		}
		old := *prev
		prev.Value, prev.Balance, prev.PendingRefund = c.Value, c.Balance, c.PendingRefund
		prev.Status, prev.UpdatedAt = c.Status, c.UpdatedAt
		return func() { *r.s.cards[c.ID] = old }, nil
	})
}

func (r *GiftCardRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	var due []*domain.GiftCard
	for _, c := range r.s.cards {
		if c.Status == domain.GiftCardStatusActive && c.ExpiryDate != nil && !c.ExpiryDate.After(now) {
			due = append(due, c)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ExpiryDate.Before(*due[j].ExpiryDate) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]uuid.UUID, 0, len(due))
	for _, c := range due {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// get returns a copy; callers hold r.s.mu.
func (r *GiftCardRepo) get(id uuid.UUID) *domain.GiftCard {
	c, ok := r.s.cards[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}
