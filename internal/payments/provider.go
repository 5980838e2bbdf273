package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/motorshield/warranty-api/internal/domain"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider for a payment method.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrProviderUnavailable wraps unexpected provider or network failures.
	ErrProviderUnavailable = errors.New("payments: provider unavailable")
	// ErrInvalidCompletion is returned when a completion callback cannot be verified or decoded.
	ErrInvalidCompletion = errors.New("payments: invalid completion")
)

// LineItem is one policy inside a provider request. Amounts are whole pounds.
type LineItem struct {
	ID           string
	Name         string
	Description  string
	Registration string
	Amount       int64
}

// SubmitRequest is the provider-agnostic payload built once per checkout, not per item.
type SubmitRequest struct {
	SessionID      string
	OrderReference string
	Items          []LineItem
	Customer       domain.Customer
	DiscountCode   string
	OriginalAmount int64
	FinalAmount    int64
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

// Redirect sends the customer to a provider hosted page.
type Redirect struct {
	URL         string
	ProviderRef string
	ExpiresAt   time.Time
}

// Fallback is a provider's structured refusal to process the checkout.
type Fallback struct {
	Reason domain.FallbackReason
	Detail string
}

// SubmitResult holds exactly one of Redirect or Fallback. Unexpected failures are returned as errors.
type SubmitResult struct {
	Redirect *Redirect
	Fallback *Fallback
}

// RedirectTo builds a redirect result.
func RedirectTo(url, providerRef string, expiresAt time.Time) SubmitResult {
	return SubmitResult{Redirect: &Redirect{URL: url, ProviderRef: providerRef, ExpiresAt: expiresAt}}
}

// FallbackTo builds a fallback result.
func FallbackTo(reason domain.FallbackReason, detail string) SubmitResult {
	return SubmitResult{Fallback: &Fallback{Reason: reason, Detail: detail}}
}

// Completion is a verified provider callback confirming the outcome of a hosted payment.
type Completion struct {
	Method         domain.PaymentMethod
	OrderReference string
	SessionID      string
	ProviderRef    string
	Paid           bool
	AmountPence    int64
}

// Provider is implemented once per payment provider.
type Provider interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	ParseCompletion(ctx context.Context, payload []byte, signature string) (Completion, error)
}

// Manager resolves the provider for a payment method.
type Manager struct {
	providers     map[domain.PaymentMethod]Provider
	defaultMethod domain.PaymentMethod
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultMethod overrides the method used when a session has none selected.
func WithDefaultMethod(method domain.PaymentMethod) ManagerOption {
	return func(m *Manager) {
		m.defaultMethod = method
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[domain.PaymentMethod]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[domain.PaymentMethod]Provider, len(providers))
	for k, v := range providers {
		key := domain.PaymentMethod(strings.TrimSpace(strings.ToLower(string(k))))
		if !key.IsValid() || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for method %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap[domain.PaymentMethodCard]; ok {
		m.defaultMethod = domain.PaymentMethodCard
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveProvider(method domain.PaymentMethod) (domain.PaymentMethod, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	key := domain.PaymentMethod(strings.TrimSpace(strings.ToLower(string(method))))
	if key == "" {
		key = m.defaultMethod
	}
	if p, ok := m.providers[key]; ok {
		return key, p, nil
	}
	return "", nil, ErrUnsupportedProvider
}

// Submit delegates to the provider for the payment method.
func (m *Manager) Submit(ctx context.Context, method domain.PaymentMethod, req SubmitRequest) (SubmitResult, error) {
	_, provider, err := m.resolveProvider(method)
	if err != nil {
		return SubmitResult{}, err
	}
	result, err := provider.Submit(ctx, req)
	if err != nil {
		return SubmitResult{}, err
	}
	if result.Redirect == nil && result.Fallback == nil {
		return SubmitResult{}, fmt.Errorf("%w: empty provider result", ErrProviderUnavailable)
	}
	return result, nil
}

// ParseCompletion delegates callback verification to the provider for the payment method.
func (m *Manager) ParseCompletion(ctx context.Context, method domain.PaymentMethod, payload []byte, signature string) (Completion, error) {
	key, provider, err := m.resolveProvider(method)
	if err != nil {
		return Completion{}, err
	}
	completion, err := provider.ParseCompletion(ctx, payload, signature)
	if err != nil {
		return Completion{}, err
	}
	completion.Method = key
	return completion, nil
}

// DefaultMethod returns the method used when none is selected.
func (m *Manager) DefaultMethod() domain.PaymentMethod {
	if m == nil {
		return domain.PaymentMethodCard
	}
	return m.defaultMethod
}
