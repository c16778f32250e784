package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestAuditService_PersistsQueuedEntriesOnClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(repo, newTestLogger())

	var (
		mu      sync.Mutex
		actions []domain.AuditAction
	)
	repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, entry *domain.AuditLog) error {
			assert.NotEqual(t, uuid.Nil, entry.ID)
			assert.False(t, entry.CreatedAt.IsZero())
			mu.Lock()
			actions = append(actions, entry.Action)
			mu.Unlock()
			return nil
		}).Times(3)

	merchantID := uuid.New()
	for _, action := range []domain.AuditAction{domain.AuditActionRedeem, domain.AuditActionRefund, domain.AuditActionCancelCard} {
		svc.Log(context.Background(), &domain.AuditLog{
			MerchantID:   &merchantID,
			Action:       action,
			ResourceType: "gift_card",
			IPAddress:    "127.0.0.1",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Close(ctx))

	// single writer keeps submission order
	assert.Equal(t, []domain.AuditAction{domain.AuditActionRedeem, domain.AuditActionRefund, domain.AuditActionCancelCard}, actions)

	// entries after Close are ignored
	svc.Log(context.Background(), &domain.AuditLog{Action: domain.AuditActionLogin})
}

func TestAuditService_RepoErrorDoesNotStopWriter(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(repo, newTestLogger())

	gomock.InOrder(
		repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("db down")),
		repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil),
	)
	svc.Log(context.Background(), &domain.AuditLog{Action: domain.AuditActionRegister})
	svc.Log(context.Background(), &domain.AuditLog{Action: domain.AuditActionLogin})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Close(ctx))
}

func TestAuditService_NilRepoOnlyLogs(t *testing.T) {
	svc := NewAuditService(nil, newTestLogger())
	svc.Log(context.Background(), &domain.AuditLog{Action: domain.AuditActionLogin, ResourceType: "session"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, svc.Close(ctx))
	assert.NoError(t, svc.Close(ctx))
}
