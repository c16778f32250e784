package postgres

import (
	"context"
	"errors"
	"fmt"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const merchantColumns = `id, username, password_hash, merchant_name, email, phone, webhook_url,
		webhook_secret_enc, totp_secret_enc, status, created_at, updated_at`

// MerchantRepo implements ports.MerchantRepository.
type MerchantRepo struct {
	pool Pool
}

// NewMerchantRepo creates a new MerchantRepo.
func NewMerchantRepo(pool Pool) *MerchantRepo {
	return &MerchantRepo{pool: pool}
}

// Create inserts a new merchant into the database.
func (r *MerchantRepo) Create(ctx context.Context, m *domain.Merchant) error {
	query := `INSERT INTO merchants (` + merchantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		m.ID, m.Username, m.PasswordHash, m.MerchantName, m.Email, m.Phone, m.WebhookURL,
		m.WebhookSecretEnc, m.TOTPSecretEnc, m.Status, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "merchants_username_key") {
			return ports.ErrDuplicateUsername
		}
		return fmt.Errorf("insert merchant: %w", err)
	}
	return nil
}

// GetByID fetches a merchant by its UUID.
func (r *MerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE id = $1`
	return scanMerchant(r.pool.QueryRow(ctx, query, id), "get merchant by id")
}

// GetByUsername fetches a merchant by username.
func (r *MerchantRepo) GetByUsername(ctx context.Context, username string) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE username = $1`
	return scanMerchant(r.pool.QueryRow(ctx, query, username), "get merchant by username")
}

// UpdateWebhook sets the card-event endpoint and its encrypted signing secret.
func (r *MerchantRepo) UpdateWebhook(ctx context.Context, id uuid.UUID, webhookURL *string, secretEnc string) error {
	query := `UPDATE merchants SET webhook_url = $1, webhook_secret_enc = $2, updated_at = NOW() WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, webhookURL, secretEnc, id)
	if err != nil {
		return fmt.Errorf("update merchant webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("merchant not found: %s", id)
	}
	return nil
}

// UpdateTOTPSecret stores the merchant's encrypted authenticator secret.
func (r *MerchantRepo) UpdateTOTPSecret(ctx context.Context, id uuid.UUID, secretEnc string) error {
	query := `UPDATE merchants SET totp_secret_enc = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, secretEnc, id)
	if err != nil {
		return fmt.Errorf("update merchant totp secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("merchant not found: %s", id)
	}
	return nil
}

func scanMerchant(row pgx.Row, op string) (*domain.Merchant, error) {
	m := &domain.Merchant{}
	err := row.Scan(
		&m.ID, &m.Username, &m.PasswordHash, &m.MerchantName, &m.Email, &m.Phone, &m.WebhookURL,
		&m.WebhookSecretEnc, &m.TOTPSecretEnc, &m.Status, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}
