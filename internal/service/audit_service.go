package service

import (
	"context"
	"sync"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	auditQueueSize    = 256
	auditWriteTimeout = 5 * time.Second
)

// AuditServiceImpl queues audit entries and persists them from a single
// background writer. Entries are dropped, with a warning, when the queue is full.
type AuditServiceImpl struct {
	repo  ports.AuditRepository
	log   zerolog.Logger
	queue chan *domain.AuditLog

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAuditService starts the writer. A nil repo only logs entries.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditServiceImpl {
	s := &AuditServiceImpl{
		repo:  repo,
		log:   log,
		queue: make(chan *domain.AuditLog, auditQueueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Log enqueues entry without blocking the request path.
func (s *AuditServiceImpl) Log(_ context.Context, entry *domain.AuditLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- entry:
	default:
		s.log.Warn().Str("action", string(entry.Action)).Msg("audit queue full, entry dropped")
	}
}

// Close stops accepting entries and waits for queued ones to be written.
func (s *AuditServiceImpl) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AuditServiceImpl) run() {
	defer close(s.done)
	for entry := range s.queue {
		s.write(entry)
	}
}

func (s *AuditServiceImpl) write(entry *domain.AuditLog) {
	ev := s.log.Info().
		Str("action", string(entry.Action)).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Str("ip", entry.IPAddress)
	if entry.MerchantID != nil {
		ev = ev.Str("merchant_id", entry.MerchantID.String())
	}
	ev.Msg("audit")

	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	if err := s.repo.Create(ctx, entry); err != nil {
		s.log.Error().Err(err).Str("audit_id", entry.ID.String()).Msg("audit entry not persisted")
	}
}
