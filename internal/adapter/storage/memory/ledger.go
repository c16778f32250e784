package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"giftcard-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RedemptionRepo implements ports.RedemptionRepository.
type RedemptionRepo struct{ s *Store }

// Redemptions returns the redemption table.
func (s *Store) Redemptions() *RedemptionRepo { return &RedemptionRepo{s: s} }

func (r *RedemptionRepo) Create(ctx context.Context, tx pgx.Tx, redemption *domain.Redemption) error {
	rd := *redemption
	return r.s.write(tx, func() (func(), error) {
		if !rd.BalanceBefore.Sub(rd.Amount).Equal(rd.BalanceAfter) {
			return nil, fmt.Errorf("redemption %s violates snapshot check", rd.ID)
		}
		r.s.redemptions = append(r.s.redemptions, rd)
		return func() {
			r.s.redemptions = removeWhere(r.s.redemptions, func(x domain.Redemption) bool { return x.ID == rd.ID })
		}, nil
	})
}

func (r *RedemptionRepo) ListByGiftCard(ctx context.Context, giftCardID uuid.UUID, page, pageSize int) ([]domain.Redemption, int64, error) {
	r.s.mu.RLock()
	var hits []domain.Redemption
	for _, rd := range r.s.redemptions {
		if rd.GiftCardID == giftCardID {
			hits = append(hits, rd)
		}
	}
	r.s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })
	items, total := paginate(hits, page, pageSize)
	return items, total, nil
}

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct{ s *Store }

// Transactions returns the ledger log.
func (s *Store) Transactions() *TransactionRepo { return &TransactionRepo{s: s} }

func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, entry *domain.Transaction) error {
	e := *entry
	return r.s.write(tx, func() (func(), error) {
		if e.Type == domain.TransactionTypePurchase {
			for _, existing := range r.s.transactions {
				if existing.GiftCardID == e.GiftCardID && existing.Type == domain.TransactionTypePurchase {
					return nil, uniqueViolation("ledger_transactions_one_purchase")
				}
			}
		}
		r.s.transactions = append(r.s.transactions, e)
		return func() {
			r.s.transactions = removeWhere(r.s.transactions, func(x domain.Transaction) bool { return x.ID == e.ID })
		}, nil
	})
}

func (r *TransactionRepo) ListByGiftCard(ctx context.Context, giftCardID uuid.UUID, page, pageSize int) ([]domain.Transaction, int64, error) {
	hits := r.entries(giftCardID)
	// Newest first; the log is appended in commit order.
	for i, j := 0, len(hits)-1; i < j; i, j = i+1, j-1 {
		hits[i], hits[j] = hits[j], hits[i]
	}
	items, total := paginate(hits, page, pageSize)
	return items, total, nil
}

func (r *TransactionRepo) Totals(ctx context.Context, giftCardID uuid.UUID) (*domain.LedgerTotals, error) {
	t := &domain.LedgerTotals{}
	for _, e := range r.entries(giftCardID) {
		switch e.Type {
		case domain.TransactionTypePurchase:
			t.Purchased = t.Purchased.Add(e.Amount)
		case domain.TransactionTypeRedemption:
			t.Redeemed = t.Redeemed.Add(e.Amount)
		case domain.TransactionTypeRefund:
			t.Refunded = t.Refunded.Add(e.Amount)
		case domain.TransactionTypeRefundReversal:
			t.RefundReversed = t.RefundReversed.Add(e.Amount)
		}
		t.Entries++
	}
	return t, nil
}

func (r *TransactionRepo) entries(giftCardID uuid.UUID) []domain.Transaction {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var hits []domain.Transaction
	for _, e := range r.s.transactions {
		if e.GiftCardID == giftCardID {
			hits = append(hits, e)
		}
	}
	return hits
}

// RefundReservationRepo implements ports.RefundReservationRepository.
type RefundReservationRepo struct{ s *Store }

// RefundReservations returns the refund reservation table.
func (s *Store) RefundReservations() *RefundReservationRepo { return &RefundReservationRepo{s: s} }

func (r *RefundReservationRepo) Create(ctx context.Context, tx pgx.Tx, reservation *domain.RefundReservation) error {
	rr := *reservation
	return r.s.write(tx, func() (func(), error) {
		for _, existing := range r.s.reservations {
			if existing.GiftCardID == rr.GiftCardID && existing.IsPending() {
				return nil, uniqueViolation("refund_reservations_one_pending")
			}
		}
		r.s.reservations[rr.ID] = &rr
		return func() { delete(r.s.reservations, rr.ID) }, nil
	})
}

func (r *RefundReservationRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RefundReservation, error) {
	if err := r.s.lockRow(ctx, tx, reservationKey(id)); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rr, ok := r.s.reservations[id]
	if !ok {
		return nil, nil
	}
	cp := *rr
	return &cp, nil
}

func (r *RefundReservationRepo) GetPendingByGiftCard(ctx context.Context, tx pgx.Tx, giftCardID uuid.UUID) (*domain.RefundReservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, rr := range r.s.reservations {
		if rr.GiftCardID == giftCardID && rr.IsPending() {
			cp := *rr
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *RefundReservationRepo) GetPendingByPayment(ctx context.Context, paymentID uuid.UUID) (*domain.RefundReservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, rr := range r.s.reservations {
		if rr.PaymentID == paymentID && rr.IsPending() {
			cp := *rr
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *RefundReservationRepo) Resolve(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.RefundReservationStatus, externalRefundID *string) error {
	return r.s.write(tx, func() (func(), error) {
		rr, ok := r.s.reservations[id]
		if !ok || !rr.IsPending() {
			return nil, fmt.Errorf("pending refund reservation not found: %s", id)
		}
		old := *rr
		rr.Status, rr.UpdatedAt = status, time.Now().UTC()
		if externalRefundID != nil {
			ext := *externalRefundID
			rr.ExternalRefundID = &ext
		}
		return func() { *r.s.reservations[id] = old }, nil
	})
}

func (r *RefundReservationRepo) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.RefundReservation, error) {
	r.s.mu.RLock()
	var out []domain.RefundReservation
	for _, rr := range r.s.reservations {
		if rr.IsPending() && rr.CreatedAt.Before(before) {
			out = append(out, *rr)
		}
	}
	r.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func paginate[T any](items []T, page, pageSize int) ([]T, int64) {
	total := int64(len(items))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return items, total
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}, total
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], total
}

func removeWhere[T any](items []T, match func(T) bool) []T {
	out := items[:0]
	for _, item := range items {
		if !match(item) {
			out = append(out, item)
		}
	}
	return out
}
