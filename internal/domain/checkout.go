package domain

import "time"

// CheckoutStatus is the state of a checkout session.
type CheckoutStatus string

const (
	CheckoutStatusIdle                 CheckoutStatus = "idle"
	CheckoutStatusValidating           CheckoutStatus = "validating"
	CheckoutStatusDiscountCheck        CheckoutStatus = "discount_check"
	CheckoutStatusDuplicateCheck       CheckoutStatus = "duplicate_check"
	CheckoutStatusProviderSubmit       CheckoutStatus = "provider_submit"
	CheckoutStatusProviderRedirect     CheckoutStatus = "provider_redirect"
	CheckoutStatusProviderFallback     CheckoutStatus = "provider_fallback"
	CheckoutStatusRequiresConfirmation CheckoutStatus = "requires_confirmation"
	CheckoutStatusFailed               CheckoutStatus = "failed"
	CheckoutStatusResumed              CheckoutStatus = "resumed"
	CheckoutStatusCompleted            CheckoutStatus = "completed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusCompleted
}

// FallbackReason explains why a provider handed control back to checkout.
type FallbackReason string

const (
	FallbackMissingCredentials FallbackReason = "missing_credentials"
	FallbackNoCustomerData     FallbackReason = "no_customer_data"
	FallbackCreditCheckFailed  FallbackReason = "credit_check_failed"
	FallbackError              FallbackReason = "error"
)

// CheckoutFallback is stored on a session after a provider declines to process it.
type CheckoutFallback struct {
	Reason          FallbackReason
	Message         string
	AlternateMethod PaymentMethod
}

// CheckoutSession is the persisted, mutable state of one checkout. Only the checkout
// service writes it.
type CheckoutSession struct {
	ID                 string
	Customer           Customer
	PaymentMethod      PaymentMethod
	DiscountCode       string
	Discount           *DiscountValidation
	Cart               Cart
	Status             CheckoutStatus
	InFlight           bool
	EditOrderRef       string
	PendingOrderRef    string
	OwnOrderRefs       []string
	PlateConflicts     []PlateConflict
	PlatesAcknowledged bool
	Fallback           *CheckoutFallback
	RedirectURL        string
	OriginalAmount     int
	ChargeAmount       int
	FieldErrors        map[string]string
	LastError          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
}

// OwnsOrder reports whether the reference was created by this session.
func (s CheckoutSession) OwnsOrder(ref string) bool {
	for _, own := range s.OwnOrderRefs {
		if own == ref {
			return true
		}
	}
	return false
}

// CheckoutSessionPatch carries a partial update to a persisted session. Nil fields are left untouched.
type CheckoutSessionPatch struct {
	Customer           *Customer
	PaymentMethod      *PaymentMethod
	DiscountCode       *string
	Discount           **DiscountValidation
	Cart               *Cart
	Status             *CheckoutStatus
	InFlight           *bool
	EditOrderRef       *string
	PendingOrderRef    *string
	OwnOrderRefs       *[]string
	PlateConflicts     *[]PlateConflict
	PlatesAcknowledged *bool
	Fallback           **CheckoutFallback
	RedirectURL        *string
	OriginalAmount     *int
	ChargeAmount       *int
	FieldErrors        *map[string]string
	LastError          *string
	CompletedAt        **time.Time
}

// Apply returns a copy of the session with the patch merged in.
func (p CheckoutSessionPatch) Apply(session CheckoutSession) CheckoutSession {
	if p.Customer != nil {
		session.Customer = *p.Customer
	}
	if p.PaymentMethod != nil {
		session.PaymentMethod = *p.PaymentMethod
	}
	if p.DiscountCode != nil {
		session.DiscountCode = *p.DiscountCode
	}
	if p.Discount != nil {
		session.Discount = *p.Discount
	}
	if p.Cart != nil {
		session.Cart = *p.Cart
	}
	if p.Status != nil {
		session.Status = *p.Status
	}
	if p.InFlight != nil {
		session.InFlight = *p.InFlight
	}
	if p.EditOrderRef != nil {
		session.EditOrderRef = *p.EditOrderRef
	}
	if p.PendingOrderRef != nil {
		session.PendingOrderRef = *p.PendingOrderRef
	}
	if p.OwnOrderRefs != nil {
		session.OwnOrderRefs = append([]string(nil), (*p.OwnOrderRefs)...)
	}
	if p.PlateConflicts != nil {
		session.PlateConflicts = append([]PlateConflict(nil), (*p.PlateConflicts)...)
	}
	if p.PlatesAcknowledged != nil {
		session.PlatesAcknowledged = *p.PlatesAcknowledged
	}
	if p.Fallback != nil {
		session.Fallback = *p.Fallback
	}
	if p.RedirectURL != nil {
		session.RedirectURL = *p.RedirectURL
	}
	if p.OriginalAmount != nil {
		session.OriginalAmount = *p.OriginalAmount
	}
	if p.ChargeAmount != nil {
		session.ChargeAmount = *p.ChargeAmount
	}
	if p.FieldErrors != nil {
		session.FieldErrors = *p.FieldErrors
	}
	if p.LastError != nil {
		session.LastError = *p.LastError
	}
	if p.CompletedAt != nil {
		session.CompletedAt = *p.CompletedAt
	}
	return session
}
