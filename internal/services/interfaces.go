package services

import (
	"context"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	VehicleProfile     = domain.VehicleProfile
	RatingSelection    = domain.RatingSelection
	AddOnSelection     = domain.AddOnSelection
	PriceBreakdown     = domain.PriceBreakdown
	QuoteOption        = domain.QuoteOption
	Customer           = domain.Customer
	CartItem           = domain.CartItem
	CheckoutSession    = domain.CheckoutSession
	DiscountValidation = domain.DiscountValidation
	PaymentMethod      = domain.PaymentMethod
	Order              = domain.Order
	HealthReport       = domain.HealthReport
)

// QuotePricer prices a single vehicle and rating.
type QuotePricer interface {
	Price(ctx context.Context, vehicle VehicleProfile, rating RatingSelection, addOns AddOnSelection) (PriceBreakdown, error)
	Grid(ctx context.Context, vehicle VehicleProfile, excess int, addOns AddOnSelection) ([]QuoteOption, error)
}

// PaymentGateway submits a checkout to the provider for the chosen payment method.
type PaymentGateway interface {
	Submit(ctx context.Context, method PaymentMethod, req payments.SubmitRequest) (payments.SubmitResult, error)
	DefaultMethod() PaymentMethod
}

// InFlightGuard prevents two submits for the same session from running at once.
type InFlightGuard interface {
	// Acquire returns false when another submit already holds the session.
	Acquire(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

// CheckoutService owns every mutation of a checkout session.
type CheckoutService interface {
	Create(ctx context.Context, cmd CreateCheckoutCommand) (CheckoutSession, error)
	Load(ctx context.Context, sessionID string) (CheckoutSession, error)
	SaveDraft(ctx context.Context, cmd SaveDraftCommand) (CheckoutSession, error)
	Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutSession, error)
	Resume(ctx context.Context, cmd ResumeCheckoutCommand) (CheckoutSession, error)
	Complete(ctx context.Context, completion payments.Completion) (CheckoutSession, error)
}

// QuoteService prices a registration for the quote page.
type QuoteService interface {
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

// CartItemInput is one policy the customer wants to buy.
type CartItemInput struct {
	Vehicle VehicleProfile
	Rating  RatingSelection
	AddOns  AddOnSelection
}

// CreateCheckoutCommand starts a checkout. DiscountCode carries a code from an inbound link.
type CreateCheckoutCommand struct {
	Items        []CartItemInput
	Customer     *Customer
	DiscountCode string
	EditOrderRef string
}

// SaveDraftCommand persists form changes. Nil fields are left untouched.
type SaveDraftCommand struct {
	SessionID         string
	Customer          *Customer
	PaymentMethod     *PaymentMethod
	DiscountCode      *string
	AcknowledgePlates *bool
}

// SubmitCheckoutCommand runs the checkout pipeline for a session.
type SubmitCheckoutCommand struct {
	SessionID         string
	AcknowledgePlates bool
}

// ResumeTrigger records why a session was restored.
type ResumeTrigger string

const (
	ResumeTriggerBackNavigation   ResumeTrigger = "back_navigation"
	ResumeTriggerVisibilityChange ResumeTrigger = "visibility_change"
	ResumeTriggerPageShow         ResumeTrigger = "pageshow"
	ResumeTriggerProviderReturn   ResumeTrigger = "provider_return"
)

// ResumeCheckoutCommand restores a session after the customer returns to checkout.
type ResumeCheckoutCommand struct {
	SessionID string
	Trigger   ResumeTrigger
}

// QuoteRequest asks for prices for a registration.
type QuoteRequest struct {
	Registration string
	Mileage      int
	Rating       RatingSelection
	AddOns       AddOnSelection
}

// Quote is the priced response for a registration.
type Quote struct {
	Vehicle        VehicleProfile
	Rating         RatingSelection
	PlanName       string
	Breakdown      PriceBreakdown
	Options        []QuoteOption
	PolicyDocument *PolicyDocument
}
