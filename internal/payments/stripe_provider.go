package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	stripeCurrency              = "gbp"
	stripeEventSessionCompleted = "checkout.session.completed"
	metadataOrderReference      = "order_reference"
	metadataSessionID           = "checkout_session_id"
	metadataDiscountCode        = "discount_code"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeProvider takes pay-in-full card payments through Stripe Checkout.
type StripeProvider struct {
	api           stripeClients
	webhookSecret string
	account       string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{sessions: sc.CheckoutSessions}
	}
	if clients.sessions == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Submit creates a Stripe Checkout session charging the final amount in pence.
func (p *StripeProvider) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if p == nil {
		return SubmitResult{}, errors.New("stripe: provider is nil")
	}
	if req.FinalAmount <= 0 {
		return SubmitResult{}, fmt.Errorf("stripe: final amount must be positive, got %d", req.FinalAmount)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderReference),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.Customer.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	metadata := stripeMetadata(req)
	params.Metadata = metadata
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: metadata,
	}
	params.LineItems = stripeLineItems(req)

	session, err := p.api.sessions.New(params)
	if err != nil {
		p.logger(ctx, "payments.stripe.session.failed", map[string]any{
			"orderReference": req.OrderReference,
			"error":          err.Error(),
		})
		return SubmitResult{}, fmt.Errorf("%w: stripe: create checkout session: %v", ErrProviderUnavailable, err)
	}
	if strings.TrimSpace(session.URL) == "" {
		return SubmitResult{}, fmt.Errorf("%w: stripe: session %s has no url", ErrProviderUnavailable, session.ID)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":      session.ID,
		"orderReference": req.OrderReference,
		"amountPence":    req.FinalAmount * 100,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return RedirectTo(session.URL, session.ID, expiresAt), nil
}

// ParseCompletion verifies a Stripe webhook signature and extracts the completed session.
func (p *StripeProvider) ParseCompletion(ctx context.Context, payload []byte, signature string) (Completion, error) {
	if p == nil {
		return Completion{}, errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return Completion{}, fmt.Errorf("%w: stripe webhook secret not configured", ErrInvalidCompletion)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("%w: %v", ErrInvalidCompletion, err)
	}
	if string(event.Type) != stripeEventSessionCompleted {
		return Completion{}, fmt.Errorf("%w: unexpected event type %q", ErrInvalidCompletion, event.Type)
	}
	if event.Data == nil {
		return Completion{}, fmt.Errorf("%w: event has no data", ErrInvalidCompletion)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return Completion{}, fmt.Errorf("%w: decode session: %v", ErrInvalidCompletion, err)
	}

	ref := strings.TrimSpace(session.Metadata[metadataOrderReference])
	if ref == "" {
		ref = strings.TrimSpace(session.ClientReferenceID)
	}
	if ref == "" {
		return Completion{}, fmt.Errorf("%w: session %s has no order reference", ErrInvalidCompletion, session.ID)
	}

	p.logger(ctx, "payments.stripe.session.completed", map[string]any{
		"sessionId":      session.ID,
		"orderReference": ref,
		"paymentStatus":  session.PaymentStatus,
	})

	return Completion{
		OrderReference: ref,
		SessionID:      strings.TrimSpace(session.Metadata[metadataSessionID]),
		ProviderRef:    session.ID,
		Paid:           session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountPence:    session.AmountTotal,
	}, nil
}

func stripeMetadata(req SubmitRequest) map[string]string {
	metadata := make(map[string]string, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		metadata[k] = v
	}
	metadata[metadataOrderReference] = req.OrderReference
	metadata[metadataSessionID] = req.SessionID
	if code := strings.TrimSpace(req.DiscountCode); code != "" {
		metadata[metadataDiscountCode] = code
	}
	return metadata
}

// stripeLineItems itemises the cart when the items add up to the charge, otherwise bills a single line.
func stripeLineItems(req SubmitRequest) []*stripe.CheckoutSessionLineItemParams {
	var itemTotal int64
	lines := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Amount <= 0 {
			continue
		}
		lines = append(lines, stripeLine(item.Name, item.Description, item.Amount))
		itemTotal += item.Amount
	}
	if itemTotal == req.FinalAmount && len(lines) > 0 {
		return lines
	}

	name := "Vehicle warranty"
	if len(req.Items) > 1 {
		name = fmt.Sprintf("Vehicle warranty (%d policies)", len(req.Items))
	}
	description := ""
	if req.OriginalAmount > req.FinalAmount {
		description = fmt.Sprintf("Includes £%d discount", req.OriginalAmount-req.FinalAmount)
	}
	return []*stripe.CheckoutSessionLineItemParams{stripeLine(name, description, req.FinalAmount)}
}

func stripeLine(name, description string, pounds int64) *stripe.CheckoutSessionLineItemParams {
	line := &stripe.CheckoutSessionLineItemParams{
		Quantity: stripe.Int64(1),
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(stripeCurrency),
			UnitAmount: stripe.Int64(pounds * 100),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(defaultString(name, "Vehicle warranty")),
			},
		},
	}
	if description != "" {
		line.PriceData.ProductData.Description = stripe.String(description)
	}
	return line
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
