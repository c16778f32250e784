package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"giftcard-ledger/internal/core/domain"
	"giftcard-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Headers on card event deliveries.
const (
	HeaderEventSignature = "X-GiftCard-Signature"
	HeaderEventTimestamp = "X-GiftCard-Timestamp"
	HeaderEventID        = "X-GiftCard-Event-Id"
)

// notifyRetryIntervals are the waits between delivery attempts.
var notifyRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CardNotifierImpl implements ports.CardNotifier. Events are signed with the
// merchant's webhook secret and delivered in the background.
type CardNotifierImpl struct {
	merchants  ports.MerchantRepository
	deliveries ports.WebhookRepository
	encSvc     ports.EncryptionService
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	intervals  []time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// NewCardNotifier creates a new CardNotifierImpl.
func NewCardNotifier(
	merchants ports.MerchantRepository,
	deliveries ports.WebhookRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	log zerolog.Logger,
) *CardNotifierImpl {
	ctx, cancel := context.WithCancel(context.Background())
	return &CardNotifierImpl{
		merchants:  merchants,
		deliveries: deliveries,
		encSvc:     encSvc,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		intervals:  notifyRetryIntervals,
		ctx:        ctx,
		cancel:     cancel,
		log:        log,
	}
}

// Notify queues event for the merchant's webhook URL. Merchants without one are skipped.
func (n *CardNotifierImpl) Notify(ctx context.Context, merchantID uuid.UUID, event *domain.CardEvent) error {
	merchant, err := n.merchants.GetByID(ctx, merchantID)
	if err != nil {
		return fmt.Errorf("get merchant: %w", err)
	}
	if merchant == nil || merchant.WebhookURL == nil || *merchant.WebhookURL == "" {
		n.log.Debug().Str("merchant_id", merchantID.String()).Msg("no webhook URL configured, skipping card event")
		return nil
	}

	secret, err := n.encSvc.Decrypt(merchant.WebhookSecretEnc)
	if err != nil {
		return fmt.Errorf("decrypt webhook secret: %w", err)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal card event: %w", err)
	}

	now := time.Now().UTC()
	delivery := &domain.WebhookDeliveryLog{
		ID:         uuid.New(),
		EventID:    event.EventID,
		EventType:  event.Type,
		GiftCardID: event.GiftCardID,
		MerchantID: merchantID,
		WebhookURL: *merchant.WebhookURL,
		Payload:    string(body),
		Status:     domain.WebhookStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := n.deliveries.Create(ctx, delivery); err != nil {
		n.log.Warn().Err(err).Str("event_id", event.EventID.String()).Msg("failed to record card event delivery")
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(delivery, secret, body)
	}()
	return nil
}

// Shutdown stops pending retries and waits for in-flight deliveries.
func (n *CardNotifierImpl) Shutdown() {
	n.cancel()
	n.wg.Wait()
}

func (n *CardNotifierImpl) deliver(delivery *domain.WebhookDeliveryLog, secret string, body []byte) {
	for attempt := 0; attempt <= len(n.intervals); attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(n.intervals[attempt-1])
			select {
			case <-n.ctx.Done():
				timer.Stop()
				n.log.Warn().Str("event_id", delivery.EventID.String()).Msg("card event delivery abandoned on shutdown")
				return
			case <-timer.C:
			}
		}

		status, err := n.post(delivery, secret, body)
		delivery.Attempt = attempt + 1
		delivery.HTTPStatus = nil
		if status > 0 {
			delivery.HTTPStatus = &status
		}
		if err == nil {
			delivery.Status = domain.WebhookStatusDelivered
			delivery.LastError = nil
			delivery.NextRetryAt = nil
			n.record(delivery)
			n.log.Info().
				Str("event_id", delivery.EventID.String()).
				Int("attempt", delivery.Attempt).
				Int("status", status).
				Msg("card event delivered")
			return
		}

		msg := err.Error()
		delivery.LastError = &msg
		if attempt < len(n.intervals) {
			next := time.Now().UTC().Add(n.intervals[attempt])
			delivery.NextRetryAt = &next
		} else {
			delivery.Status = domain.WebhookStatusFailed
			delivery.NextRetryAt = nil
		}
		n.record(delivery)
		n.log.Warn().Err(err).Str("event_id", delivery.EventID.String()).Int("attempt", delivery.Attempt).Msg("card event delivery failed")
	}

	n.log.Error().Str("event_id", delivery.EventID.String()).Msg("card event: all retry attempts exhausted")
}

func (n *CardNotifierImpl) post(delivery *domain.WebhookDeliveryLog, secret string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, delivery.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, delivery.EventID.String())
	req.Header.Set(HeaderEventTimestamp, ts)
	req.Header.Set(HeaderEventSignature, n.sigSvc.Sign(secret, ts+"."+string(body)))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("merchant endpoint responded %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (n *CardNotifierImpl) record(delivery *domain.WebhookDeliveryLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.deliveries.Update(ctx, delivery); err != nil {
		n.log.Warn().Err(err).Str("delivery_id", delivery.ID.String()).Msg("failed to update card event delivery")
	}
}
