package domain

import (
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMerchant_IsActive(t *testing.T) {
	tests := []struct {
		name   string
		status MerchantStatus
		want   bool
	}{
		{"active", MerchantStatusActive, true},
		{"suspended", MerchantStatusSuspended, false},
		{"deactivated", MerchantStatusDeactivated, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Merchant{Status: tt.status}
			assert.Equal(t, tt.want, m.IsActive())
		})
	}
}

func TestMerchant_HasTOTP(t *testing.T) {
	empty := ""
	secret := "enc"
	assert.False(t, (&Merchant{}).HasTOTP())
	assert.False(t, (&Merchant{TOTPSecretEnc: &empty}).HasTOTP())
	assert.True(t, (&Merchant{TOTPSecretEnc: &secret}).HasTOTP())
}

func TestGiftCard_IsExpiredAt(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&GiftCard{}).IsExpiredAt(now))
	assert.True(t, (&GiftCard{ExpiryDate: &past}).IsExpiredAt(now))
	assert.True(t, (&GiftCard{ExpiryDate: &now}).IsExpiredAt(now))
	assert.False(t, (&GiftCard{ExpiryDate: &future}).IsExpiredAt(now))
}

func TestGiftCard_RedeemedAmount(t *testing.T) {
	card := &GiftCard{Value: dec("100"), Balance: dec("60"), PendingRefund: dec("0")}
	assert.True(t, dec("40").Equal(card.RedeemedAmount()))

	// A reservation moves balance into PendingRefund without counting as redeemed.
	reserved := &GiftCard{Value: dec("100"), Balance: dec("0"), PendingRefund: dec("100")}
	assert.True(t, reserved.RedeemedAmount().IsZero())
	assert.True(t, reserved.HasPendingRefund())
}

func TestGiftCard_CanCancel(t *testing.T) {
	tests := []struct {
		name string
		card GiftCard
		want bool
	}{
		{"untouched", GiftCard{Status: GiftCardStatusActive, Value: dec("50"), Balance: dec("50")}, true},
		{"partially redeemed", GiftCard{Status: GiftCardStatusActive, Value: dec("50"), Balance: dec("20")}, false},
		{"pending refund", GiftCard{Status: GiftCardStatusActive, Value: dec("50"), Balance: dec("50"), PendingRefund: dec("10")}, false},
		{"expired", GiftCard{Status: GiftCardStatusExpired, Value: dec("50"), Balance: dec("50")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.card.CanCancel())
		})
	}
}

func TestGiftCard_IsTerminal(t *testing.T) {
	assert.False(t, (&GiftCard{Status: GiftCardStatusActive}).IsTerminal())
	assert.True(t, (&GiftCard{Status: GiftCardStatusRedeemed}).IsTerminal())
	assert.True(t, (&GiftCard{Status: GiftCardStatusExpired}).IsTerminal())
	assert.True(t, (&GiftCard{Status: GiftCardStatusCancelled}).IsTerminal())
}

func TestNewCardCode_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^GC-[2-9A-HJKMNP-Z]{4}-[2-9A-HJKMNP-Z]{4}-[2-9A-HJKMNP-Z]{4}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := NewCardCode()
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
		seen[code] = struct{}{}
	}
	assert.Len(t, seen, 200)
	for code := range seen {
		assert.True(t, ValidCardCode(code), code)
	}
}

func TestValidCardCode(t *testing.T) {
	for _, code := range []string{"GC-AAAA-BBBB-CCCC", "GC-2345-6789-XYZW"} {
		assert.True(t, ValidCardCode(code), code)
	}
	for _, code := range []string{
		"", "GC-AAAA-BBBB-CCC", "GC-AAAA-BBBB-CCCCC", "GX-AAAA-BBBB-CCCC",
		"GC-AAAA_BBBB-CCCC", "GC-AAA0-BBBB-CCCC", "GC-AAAO-BBBB-CCCC", "gc-aaaa-bbbb-cccc",
	} {
		assert.False(t, ValidCardCode(code), code)
	}
}

func TestGatewayForMethod(t *testing.T) {
	tests := []struct {
		method PaymentMethod
		want   Gateway
		ok     bool
	}{
		{PaymentMethodStripe, GatewayCardNetwork, true},
		{PaymentMethodPayPal, GatewayWallet, true},
		{PaymentMethodRazorpay, GatewayRegional, true},
		{PaymentMethodUPI, GatewayRegional, true},
		{PaymentMethod("CASH"), "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			got, ok := GatewayForMethod(tt.method)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntentStatus_IsFinal(t *testing.T) {
	assert.True(t, IntentSucceeded.IsFinal())
	assert.True(t, IntentFailed.IsFinal())
	assert.True(t, IntentCanceled.IsFinal())
	assert.False(t, IntentProcessing.IsFinal())
	assert.False(t, IntentRequiresAction.IsFinal())
}

func TestPayment_IsRefundable(t *testing.T) {
	txID := "ch_1"
	assert.True(t, (&Payment{Status: PaymentStatusCompleted, TransactionID: &txID}).IsRefundable())
	assert.False(t, (&Payment{Status: PaymentStatusCompleted}).IsRefundable())
	assert.False(t, (&Payment{Status: PaymentStatusRefunded, TransactionID: &txID}).IsRefundable())
	assert.False(t, (&Payment{Status: PaymentStatusPending}).IsRefundable())
}

func TestRedemptionMethod_IsValid(t *testing.T) {
	assert.True(t, RedemptionMethodQRCode.IsValid())
	assert.True(t, RedemptionMethodAPI.IsValid())
	assert.False(t, RedemptionMethod("SWIPE").IsValid())
}

func TestTransaction_SignedEffect(t *testing.T) {
	amt := dec("25")
	tests := []struct {
		txType TransactionType
		want   string
	}{
		{TransactionTypePurchase, "25"},
		{TransactionTypeRedemption, "-25"},
		{TransactionTypeRefund, "-25"},
		{TransactionTypeRefundReversal, "25"},
		{TransactionTypeExpiry, "0"},
	}

	for _, tt := range tests {
		t.Run(string(tt.txType), func(t *testing.T) {
			tx := &Transaction{Type: tt.txType, Amount: amt}
			assert.True(t, dec(tt.want).Equal(tx.SignedEffect()))
		})
	}
}

func TestLedgerTotals_ExpectedBalance(t *testing.T) {
	totals := LedgerTotals{
		Purchased:      dec("100"),
		Redeemed:       dec("30"),
		Refunded:       dec("20"),
		RefundReversed: dec("20"),
	}
	assert.True(t, dec("70").Equal(totals.ExpectedBalance()))
}

func TestIdempotencyKeys(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "redeem:550e8400-e29b-41d4-a716-446655440000:K-1", BuildIdempotencyKey("redeem", id, "K-1"))
	assert.Equal(t, "confirm:550e8400-e29b-41d4-a716-446655440000", BuildConfirmKey(id))
	assert.Equal(t, "webhook:wallet:WH-9", BuildWebhookEventKey(GatewayWallet, "WH-9"))
}

func TestNewCardEvent_Snapshot(t *testing.T) {
	at := time.Now().UTC()
	card := &GiftCard{ID: uuid.New(), Code: "GC-AAAA-BBBB-CCCC", Value: dec("80"), Balance: dec("30"), Currency: "USD", Status: GiftCardStatusActive}
	ev := NewCardEvent(CardEventRedeemed, card, at)

	assert.Equal(t, card.ID, ev.GiftCardID)
	assert.Equal(t, card.Code, ev.Code)
	assert.True(t, dec("30").Equal(ev.Balance))
	assert.Equal(t, CardEventRedeemed, ev.Type)
	assert.NotEqual(t, uuid.Nil, ev.EventID)
}
