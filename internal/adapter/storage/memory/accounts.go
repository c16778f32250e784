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

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct{ s *Store }

// Idempotency returns the idempotency log table.
func (s *Store) Idempotency() *IdempotencyRepo { return &IdempotencyRepo{s: s} }

func (r *IdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	l := *log
	return r.s.write(tx, func() (func(), error) {
		if _, ok := r.s.idempotency[l.Key]; ok {
			return nil, ports.ErrDuplicateIdempotencyKey
		}
		r.s.idempotency[l.Key] = &l
		return func() { delete(r.s.idempotency, l.Key) }, nil
	})
}

func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.idempotency[key]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (r *IdempotencyRepo) DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []*domain.IdempotencyLog
	for _, l := range r.s.idempotency {
		if l.CreatedAt.Before(before) {
			due = append(due, l)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for _, l := range due {
		delete(r.s.idempotency, l.Key)
	}
	return len(due), nil
}

// MerchantRepo implements ports.MerchantRepository.
type MerchantRepo struct{ s *Store }

// Merchants returns the merchant table.
func (s *Store) Merchants() *MerchantRepo { return &MerchantRepo{s: s} }

func (r *MerchantRepo) Create(ctx context.Context, merchant *domain.Merchant) error {
	m := *merchant
	return r.s.write(nil, func() (func(), error) {
		for _, existing := range r.s.merchants {
			if existing.Username == m.Username {
				return nil, ports.ErrDuplicateUsername
			}
		}
		r.s.merchants[m.ID] = &m
		return nil, nil
	})
}

func (r *MerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.merchants[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *MerchantRepo) GetByUsername(ctx context.Context, username string) (*domain.Merchant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, m := range r.s.merchants {
		if m.Username == username {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MerchantRepo) UpdateWebhook(ctx context.Context, id uuid.UUID, webhookURL *string, secretEnc string) error {
	return r.update(id, func(m *domain.Merchant) {
		m.WebhookURL, m.WebhookSecretEnc = webhookURL, secretEnc
	})
}

func (r *MerchantRepo) UpdateTOTPSecret(ctx context.Context, id uuid.UUID, secretEnc string) error {
	return r.update(id, func(m *domain.Merchant) {
		enc := secretEnc
		m.TOTPSecretEnc = &enc
	})
}

func (r *MerchantRepo) update(id uuid.UUID, fn func(m *domain.Merchant)) error {
	return r.s.write(nil, func() (func(), error) {
		m, ok := r.s.merchants[id]
		if !ok {
			return nil, fmt.Errorf("merchant not found: %s", id)
		}
		fn(m)
		m.UpdatedAt = time.Now().UTC()
		return nil, nil
	})
}

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct{ s *Store }

// Audits returns the audit log.
func (s *Store) Audits() *AuditRepo { return &AuditRepo{s: s} }

func (r *AuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audits = append(r.s.audits, *entry)
	return nil
}

// Entries returns a snapshot of the audit log.
func (r *AuditRepo) Entries() []domain.AuditLog {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.AuditLog(nil), r.s.audits...)
}

// WebhookRepo implements ports.WebhookRepository.
type WebhookRepo struct{ s *Store }

// Webhooks returns the webhook delivery log.
func (s *Store) Webhooks() *WebhookRepo { return &WebhookRepo{s: s} }

func (r *WebhookRepo) Create(ctx context.Context, log *domain.WebhookDeliveryLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l := *log
	r.s.webhooks[l.ID] = &l
	return nil
}

func (r *WebhookRepo) Update(ctx context.Context, log *domain.WebhookDeliveryLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.webhooks[log.ID]; !ok {
		return fmt.Errorf("webhook delivery log not found: %s", log.ID)
	}
	l := *log
	r.s.webhooks[l.ID] = &l
	return nil
}

// Deliveries returns a snapshot of the delivery log.
func (r *WebhookRepo) Deliveries() []domain.WebhookDeliveryLog {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.WebhookDeliveryLog, 0, len(r.s.webhooks))
	for _, l := range r.s.webhooks {
		out = append(out, *l)
	}
	return out
}
