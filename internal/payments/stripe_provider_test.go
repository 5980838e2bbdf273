package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"

	domain "github.com/motorshield/warranty-api/internal/domain"
)

type fakeStripeSessions struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeStripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	return f.session, f.err
}

func newTestStripeProvider(t *testing.T, sessions *fakeStripeSessions) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		WebhookSecret: "whsec_test",
		Clients:       &stripeClients{sessions: sessions},
		Clock:         func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new stripe provider: %v", err)
	}
	return provider
}

func TestStripeProviderSubmitChargesFinalAmountInPence(t *testing.T) {
	sessions := &fakeStripeSessions{session: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}}
	provider := newTestStripeProvider(t, sessions)

	result, err := provider.Submit(context.Background(), SubmitRequest{
		SessionID:      "chk_1",
		OrderReference: "WR-100",
		Items: []LineItem{
			{ID: "item_1", Name: "Gold 24 Month", Amount: 997},
		},
		Customer:       domain.Customer{Email: "alex@example.com"},
		DiscountCode:   "SPRING",
		OriginalAmount: 997,
		FinalAmount:    900,
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Redirect == nil || result.Redirect.URL != "https://checkout.stripe.com/c/cs_test_1" {
		t.Fatalf("expected redirect, got %+v", result)
	}
	if result.Redirect.ProviderRef != "cs_test_1" {
		t.Fatalf("unexpected provider ref %q", result.Redirect.ProviderRef)
	}

	params := sessions.params
	if params == nil {
		t.Fatalf("expected session params to be sent")
	}
	if len(params.LineItems) != 1 {
		t.Fatalf("expected single discounted line, got %d", len(params.LineItems))
	}
	if got := *params.LineItems[0].PriceData.UnitAmount; got != 90000 {
		t.Fatalf("expected 90000 pence, got %d", got)
	}
	if got := *params.LineItems[0].PriceData.Currency; got != "gbp" {
		t.Fatalf("expected gbp, got %s", got)
	}
	if params.Metadata[metadataOrderReference] != "WR-100" || params.Metadata[metadataDiscountCode] != "SPRING" {
		t.Fatalf("unexpected metadata %+v", params.Metadata)
	}
	if *params.CustomerEmail != "alex@example.com" {
		t.Fatalf("unexpected customer email %s", *params.CustomerEmail)
	}
	if *params.ClientReferenceID != "WR-100" {
		t.Fatalf("unexpected client reference %s", *params.ClientReferenceID)
	}
}

func TestStripeProviderSubmitItemisesWhenUndiscounted(t *testing.T) {
	sessions := &fakeStripeSessions{session: &stripe.CheckoutSession{ID: "cs_2", URL: "https://checkout.stripe.com/c/cs_2"}}
	provider := newTestStripeProvider(t, sessions)

	_, err := provider.Submit(context.Background(), SubmitRequest{
		OrderReference: "WR-2",
		Items: []LineItem{
			{ID: "a", Name: "Gold 12 Month", Amount: 479},
			{ID: "b", Name: "Basic 12 Month", Amount: 399},
		},
		OriginalAmount: 878,
		FinalAmount:    878,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(sessions.params.LineItems) != 2 {
		t.Fatalf("expected two line items, got %d", len(sessions.params.LineItems))
	}
}

func TestStripeProviderSubmitHardError(t *testing.T) {
	sessions := &fakeStripeSessions{err: errors.New("api down")}
	provider := newTestStripeProvider(t, sessions)

	_, err := provider.Submit(context.Background(), SubmitRequest{OrderReference: "WR-3", FinalAmount: 100})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestStripeProviderSubmitRejectsNonPositiveAmount(t *testing.T) {
	provider := newTestStripeProvider(t, &fakeStripeSessions{})
	if _, err := provider.Submit(context.Background(), SubmitRequest{FinalAmount: 0}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func signStripePayload(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeProviderParseCompletion(t *testing.T) {
	provider := newTestStripeProvider(t, &fakeStripeSessions{})
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_live_1",
			"object": "checkout.session",
			"client_reference_id": "WR-100",
			"payment_status": "paid",
			"amount_total": 90000,
			"metadata": {"order_reference": "WR-100", "checkout_session_id": "chk_1"}
		}}
	}`)

	completion, err := provider.ParseCompletion(context.Background(), payload, signStripePayload("whsec_test", payload, time.Now()))
	if err != nil {
		t.Fatalf("parse completion: %v", err)
	}
	if completion.OrderReference != "WR-100" || completion.SessionID != "chk_1" {
		t.Fatalf("unexpected completion %+v", completion)
	}
	if !completion.Paid || completion.AmountPence != 90000 {
		t.Fatalf("expected paid completion, got %+v", completion)
	}
}

func TestStripeProviderParseCompletionRejectsBadSignature(t *testing.T) {
	provider := newTestStripeProvider(t, &fakeStripeSessions{})
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)

	_, err := provider.ParseCompletion(context.Background(), payload, signStripePayload("whsec_other", payload, time.Now()))
	if !errors.Is(err, ErrInvalidCompletion) {
		t.Fatalf("expected ErrInvalidCompletion, got %v", err)
	}
}
