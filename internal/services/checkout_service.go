package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/payments"
	"github.com/motorshield/warranty-api/internal/repositories"
)

const (
	instrumentationName             = "github.com/motorshield/warranty-api/internal/services"
	defaultPayInFullDiscountPercent = 5
	orderReferencePrefix            = "WR-"
	discountUnavailableMessage      = "We could not check your discount code right now, so your order will continue without it"
	providerErrorMessage            = "We could not reach the payment provider. Please try again."
)

// CheckoutServiceDeps wires the collaborators of the checkout state machine.
type CheckoutServiceDeps struct {
	Sessions  repositories.CheckoutSessionStore
	Orders    repositories.OrderRepository
	Pricing   QuotePricer
	Discounts DiscountValidator
	Guard     *DuplicateGuard
	Payments  PaymentGateway
	InFlight  InFlightGuard

	// DefaultPaymentMethod is restored on resume; it falls back to the gateway default.
	DefaultPaymentMethod     PaymentMethod
	PayInFullDiscountPercent int
	SuccessURL               string
	CancelURL                string

	NewID  func() string
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
	Tracer trace.Tracer
	Meter  metric.Meter
}

type checkoutService struct {
	sessions  repositories.CheckoutSessionStore
	orders    repositories.OrderRepository
	pricing   QuotePricer
	discounts DiscountValidator
	guard     *DuplicateGuard
	payments  PaymentGateway
	inFlight  InFlightGuard

	defaultMethod  PaymentMethod
	payInFullPct   int
	successURL     string
	cancelURL      string
	newID          func() string
	now            func() time.Time
	logger         func(ctx context.Context, event string, fields map[string]any)
	tracer         trace.Tracer
	outcomes       metric.Int64Counter
	abandonedEmits metric.Int64Counter
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs the checkout state machine validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("checkout service: session store is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Pricing == nil:
		return nil, errors.New("checkout service: pricing engine is required")
	case deps.Discounts == nil:
		return nil, errors.New("checkout service: discount validator is required")
	case deps.Guard == nil:
		return nil, errors.New("checkout service: duplicate guard is required")
	case deps.Payments == nil:
		return nil, errors.New("checkout service: payment gateway is required")
	case deps.InFlight == nil:
		return nil, errors.New("checkout service: in-flight guard is required")
	}

	defaultMethod := deps.DefaultPaymentMethod
	if !defaultMethod.IsValid() {
		defaultMethod = deps.Payments.DefaultMethod()
	}
	if !defaultMethod.IsValid() {
		return nil, errors.New("checkout service: default payment method is required")
	}
	pct := deps.PayInFullDiscountPercent
	if pct == 0 {
		pct = defaultPayInFullDiscountPercent
	}
	if pct < 0 || pct >= 100 {
		return nil, errors.New("checkout service: pay in full discount must be between 0 and 99")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	outcomes, err := meter.Int64Counter("checkout.submit.outcomes",
		metric.WithDescription("Checkout submit attempts by resulting status"))
	if err != nil {
		return nil, fmt.Errorf("checkout service: register outcome metric: %w", err)
	}
	abandoned, err := meter.Int64Counter("checkout.abandoned_cart.emitted",
		metric.WithDescription("Abandoned cart records emitted per cart item"))
	if err != nil {
		return nil, fmt.Errorf("checkout service: register abandoned cart metric: %w", err)
	}

	return &checkoutService{
		sessions:       deps.Sessions,
		orders:         deps.Orders,
		pricing:        deps.Pricing,
		discounts:      deps.Discounts,
		guard:          deps.Guard,
		payments:       deps.Payments,
		inFlight:       deps.InFlight,
		defaultMethod:  defaultMethod,
		payInFullPct:   pct,
		successURL:     strings.TrimSpace(deps.SuccessURL),
		cancelURL:      strings.TrimSpace(deps.CancelURL),
		newID:          newID,
		now:            func() time.Time { return clock().UTC() },
		logger:         logger,
		tracer:         tracer,
		outcomes:       outcomes,
		abandonedEmits: abandoned,
	}, nil
}

// Create prices the requested items and persists a new idle session.
func (s *checkoutService) Create(ctx context.Context, cmd CreateCheckoutCommand) (CheckoutSession, error) {
	if len(cmd.Items) == 0 {
		return CheckoutSession{}, fmt.Errorf("%w: at least one cart item is required", ErrInvalidInput)
	}

	items := make([]CartItem, 0, len(cmd.Items))
	for _, input := range cmd.Items {
		vehicle := input.Vehicle
		vehicle.RegNumber = domain.NormalizeRegistration(vehicle.RegNumber)
		if vehicle.RegNumber == "" {
			return CheckoutSession{}, fmt.Errorf("%w: registration is required", ErrInvalidInput)
		}
		if !vehicle.Class.IsValid() {
			vehicle.Class = domain.VehicleClassCar
		}
		breakdown, err := s.pricing.Price(ctx, vehicle, input.Rating, input.AddOns)
		if err != nil {
			return CheckoutSession{}, err
		}
		items = append(items, CartItem{
			ID:       s.newID(),
			Vehicle:  vehicle,
			Rating:   input.Rating,
			AddOns:   input.AddOns,
			Price:    breakdown,
			PlanName: PlanName(input.Rating),
		})
	}

	now := s.now()
	session := CheckoutSession{
		ID:            s.newID(),
		PaymentMethod: s.defaultMethod,
		Cart:          domain.Cart{Items: items},
		Status:        domain.CheckoutStatusIdle,
		EditOrderRef:  strings.TrimSpace(cmd.EditOrderRef),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cmd.Customer != nil {
		session.Customer = SanitiseCustomer(*cmd.Customer)
	}

	if code := normaliseCode(cmd.DiscountCode); code != "" {
		session.DiscountCode = code
		if s.discounts.IsAutomatic(code) {
			validation, err := s.discounts.Validate(ctx, code, session.Customer.Email, session.Cart.Subtotal())
			if err == nil {
				session.Discount = &validation
			}
		}
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return CheckoutSession{}, err
	}
	s.logger(ctx, "checkout.created", map[string]any{
		"sessionId": session.ID,
		"items":     len(items),
		"subtotal":  session.Cart.Subtotal(),
	})
	return session, nil
}

// Load returns the persisted session.
func (s *checkoutService) Load(ctx context.Context, sessionID string) (CheckoutSession, error) {
	session, err := s.sessions.Load(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return CheckoutSession{}, translateSessionError(err)
	}
	return session, nil
}

// SaveDraft persists form input between steps.
func (s *checkoutService) SaveDraft(ctx context.Context, cmd SaveDraftCommand) (CheckoutSession, error) {
	session, err := s.Load(ctx, cmd.SessionID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if session.Status.IsTerminal() {
		return CheckoutSession{}, ErrSessionCompleted
	}

	var patch domain.CheckoutSessionPatch
	if cmd.Customer != nil {
		customer := SanitiseCustomer(*cmd.Customer)
		patch.Customer = &customer
	}
	if cmd.PaymentMethod != nil {
		if !cmd.PaymentMethod.IsValid() {
			return CheckoutSession{}, &ValidationError{Fields: map[string]string{"paymentMethod": "Choose a payment method"}}
		}
		patch.PaymentMethod = cmd.PaymentMethod
		if *cmd.PaymentMethod != session.PaymentMethod {
			patch.Fallback = ptr[*domain.CheckoutFallback](nil)
		}
	}
	if cmd.DiscountCode != nil {
		code := normaliseCode(*cmd.DiscountCode)
		if code != session.DiscountCode {
			patch.DiscountCode = &code
			patch.Discount = ptr[*DiscountValidation](nil)
		}
	}
	if cmd.AcknowledgePlates != nil {
		patch.PlatesAcknowledged = cmd.AcknowledgePlates
	}
	return s.save(ctx, session.ID, patch)
}

// Submit runs Validating, DiscountCheck, DuplicateCheck and ProviderSubmit in order. Any step
// failure leaves the session in failed state and retryable; a fallback or redirect is returned as
// session state rather than an error.
func (s *checkoutService) Submit(ctx context.Context, cmd SubmitCheckoutCommand) (CheckoutSession, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.submit")
	defer span.End()

	session, err := s.Load(ctx, cmd.SessionID)
	if err != nil {
		return CheckoutSession{}, err
	}
	span.SetAttributes(attribute.String("checkout.session_id", session.ID))
	if session.Status.IsTerminal() {
		return CheckoutSession{}, ErrSessionCompleted
	}

	acquired, err := s.inFlight.Acquire(ctx, session.ID)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("checkout: acquire in-flight guard: %w", err)
	}
	if !acquired {
		return CheckoutSession{}, ErrCheckoutInProgress
	}
	defer s.releaseInFlight(ctx, session.ID)

	session, err = s.save(ctx, session.ID, domain.CheckoutSessionPatch{
		Status:         ptr(domain.CheckoutStatusValidating),
		InFlight:       ptr(true),
		FieldErrors:    ptr[map[string]string](nil),
		LastError:      ptr(""),
		Fallback:       ptr[*domain.CheckoutFallback](nil),
		RedirectURL:    ptr(""),
		PlateConflicts: ptr[[]domain.PlateConflict](nil),
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	s.recordAbandonedCart(ctx, session)

	result, err := s.runSubmit(ctx, session, cmd)
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(result.Status)),
		attribute.String("payment_method", string(result.PaymentMethod)),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *checkoutService) runSubmit(ctx context.Context, session CheckoutSession, cmd SubmitCheckoutCommand) (CheckoutSession, error) {
	// Validating
	customer := SanitiseCustomer(session.Customer)
	fields := ValidateCustomer(customer)
	if len(session.Cart.Items) == 0 {
		if fields == nil {
			fields = make(map[string]string)
		}
		fields["cart"] = "Your basket is empty"
	}
	if !session.PaymentMethod.IsValid() {
		if fields == nil {
			fields = make(map[string]string)
		}
		fields["paymentMethod"] = "Choose a payment method"
	}
	if len(fields) > 0 {
		validationErr := &ValidationError{Fields: fields}
		failed, err := s.fail(ctx, session.ID, domain.CheckoutSessionPatch{FieldErrors: &fields}, validationErr.Error())
		if err != nil {
			return CheckoutSession{}, err
		}
		return failed, validationErr
	}

	// DiscountCheck
	session, err := s.save(ctx, session.ID, domain.CheckoutSessionPatch{
		Customer: &customer,
		Status:   ptr(domain.CheckoutStatusDiscountCheck),
	})
	if err != nil {
		return CheckoutSession{}, err
	}
	subtotal := session.Cart.Subtotal()
	discount := s.checkDiscount(ctx, session, subtotal)
	finalAmount := subtotal
	if discount != nil && discount.Valid {
		finalAmount = discount.FinalAmount
	}

	// DuplicateCheck
	session, err = s.save(ctx, session.ID, domain.CheckoutSessionPatch{
		Discount: &discount,
		Status:   ptr(domain.CheckoutStatusDuplicateCheck),
	})
	if err != nil {
		return CheckoutSession{}, err
	}
	if blocked, err := s.checkDuplicates(ctx, session, cmd.AcknowledgePlates); blocked != nil || err != nil {
		return *blocked, err
	}

	// ProviderSubmit
	charge := finalAmount
	if session.PaymentMethod == domain.PaymentMethodCard {
		charge = PayInFullCharge(finalAmount, s.payInFullPct)
	}
	orderRef, ownRefs, err := s.ensurePendingOrder(ctx, session, charge)
	if err != nil {
		failed, saveErr := s.fail(ctx, session.ID, domain.CheckoutSessionPatch{}, providerErrorMessage)
		if saveErr != nil {
			return CheckoutSession{}, saveErr
		}
		return failed, fmt.Errorf("checkout: create pending order: %w", err)
	}
	session, err = s.save(ctx, session.ID, domain.CheckoutSessionPatch{
		Status:          ptr(domain.CheckoutStatusProviderSubmit),
		PendingOrderRef: &orderRef,
		OwnOrderRefs:    &ownRefs,
		OriginalAmount:  &subtotal,
		ChargeAmount:    &charge,
	})
	if err != nil {
		return CheckoutSession{}, err
	}
	return s.submitToProvider(ctx, session, subtotal, charge)
}

// checkDiscount never fails the checkout; lookup errors degrade to an invalid discount.
func (s *checkoutService) checkDiscount(ctx context.Context, session CheckoutSession, subtotal int) *DiscountValidation {
	if session.DiscountCode == "" {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "checkout.discount")
	defer span.End()

	validation, err := s.discounts.Validate(ctx, session.DiscountCode, session.Customer.Email, subtotal)
	if err != nil {
		span.RecordError(err)
		s.logger(ctx, "checkout.discount_unavailable", map[string]any{
			"sessionId": session.ID,
			"code":      session.DiscountCode,
			"error":     err.Error(),
		})
		validation = DiscountValidation{
			Code:        session.DiscountCode,
			Valid:       false,
			FinalAmount: subtotal,
			Message:     discountUnavailableMessage,
			CheckedAt:   s.now(),
		}
	}
	span.SetAttributes(attribute.Bool("checkout.discount_valid", validation.Valid))
	return &validation
}

// checkDuplicates returns a non-nil session when the attempt must stop here.
func (s *checkoutService) checkDuplicates(ctx context.Context, session CheckoutSession, acknowledge bool) (*CheckoutSession, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.duplicate")
	defer span.End()

	if session.EditOrderRef == "" {
		err := s.guard.CheckRecentOrder(ctx, session.Customer.Email, session.OwnOrderRefs)
		var dup *DuplicateOrderError
		switch {
		case errors.As(err, &dup):
			message := fmt.Sprintf("An order (%s) was placed with this email address a few minutes ago. Please contact us if you want to buy another warranty.", dup.Reference)
			failed, saveErr := s.fail(ctx, session.ID, domain.CheckoutSessionPatch{}, message)
			if saveErr != nil {
				return &CheckoutSession{}, saveErr
			}
			return &failed, err
		case err != nil:
			failed, saveErr := s.fail(ctx, session.ID, domain.CheckoutSessionPatch{}, providerErrorMessage)
			if saveErr != nil {
				return &CheckoutSession{}, saveErr
			}
			return &failed, fmt.Errorf("checkout: duplicate lookup: %w", err)
		}
	}

	if session.PlatesAcknowledged || acknowledge {
		if !session.PlatesAcknowledged {
			if _, err := s.save(ctx, session.ID, domain.CheckoutSessionPatch{PlatesAcknowledged: ptr(true)}); err != nil {
				return &CheckoutSession{}, err
			}
		}
		return nil, nil
	}
	conflicts, err := s.guard.CheckPlates(ctx, session.Cart.Plates(), session.Customer.Email)
	if err != nil {
		failed, saveErr := s.fail(ctx, session.ID, domain.CheckoutSessionPatch{}, providerErrorMessage)
		if saveErr != nil {
			return &CheckoutSession{}, saveErr
		}
		return &failed, fmt.Errorf("checkout: plate lookup: %w", err)
	}
	if len(conflicts) == 0 {
		return nil, nil
	}
	pending, err := s.save(ctx, session.ID, domain.CheckoutSessionPatch{
		Status:         ptr(domain.CheckoutStatusRequiresConfirmation),
		PlateConflicts: &conflicts,
		InFlight:       ptr(false),
	})
	if err != nil {
		return &CheckoutSession{}, err
	}
	s.logger(ctx, "checkout.plate_confirmation_required", map[string]any{
		"sessionId": session.ID,
		"conflicts": len(conflicts),
	})
	return &pending, nil
}

// ensurePendingOrder keeps exactly one pending order per session across retries and fallbacks.
func (s *checkoutService) ensurePendingOrder(ctx context.Context, session CheckoutSession, charge int) (string, []string, error) {
	now := s.now()
	ownRefs := append([]string(nil), session.OwnOrderRefs...)

	ref := session.PendingOrderRef
	if ref == "" && session.EditOrderRef != "" {
		ref = session.EditOrderRef
	}
	if ref != "" {
		order, err := s.orders.Get(ctx, ref)
		if err == nil {
			order.Email = session.Customer.Email
			order.Plates = session.Cart.Plates()
			order.PaymentMethod = session.PaymentMethod
			order.Amount = charge
			order.DiscountCode = discountCodeIfValid(session.Discount)
			order.UpdatedAt = now
			if err := s.orders.Update(ctx, order); err != nil {
				return "", nil, err
			}
			if !session.OwnsOrder(ref) {
				ownRefs = append(ownRefs, ref)
			}
			return ref, ownRefs, nil
		}
		if !repositories.IsNotFound(err) {
			return "", nil, err
		}
	}

	ref = orderReferencePrefix + s.newID()
	order := Order{
		Reference:     ref,
		SessionID:     session.ID,
		Email:         session.Customer.Email,
		Plates:        session.Cart.Plates(),
		Status:        domain.OrderStatusPending,
		PaymentMethod: session.PaymentMethod,
		Amount:        charge,
		DiscountCode:  discountCodeIfValid(session.Discount),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return "", nil, err
	}
	return ref, append(ownRefs, ref), nil
}

func (s *checkoutService) submitToProvider(ctx context.Context, session CheckoutSession, subtotal, charge int) (CheckoutSession, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.provider_submit", trace.WithAttributes(
		attribute.String("checkout.payment_method", string(session.PaymentMethod)),
	))
	defer span.End()

	req := payments.SubmitRequest{
		SessionID:      session.ID,
		OrderReference: session.PendingOrderRef,
		Items:          lineItems(session.Cart),
		Customer:       session.Customer,
		DiscountCode:   discountCodeIfValid(session.Discount),
		OriginalAmount: int64(subtotal),
		FinalAmount:    int64(charge),
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		IdempotencyKey: session.PendingOrderRef + ":" + string(session.PaymentMethod),
		Metadata: map[string]string{
			"plates": strings.Join(session.Cart.Plates(), ","),
		},
	}

	result, err := s.payments.Submit(ctx, session.PaymentMethod, req)
	if err != nil {
		span.RecordError(err)
		s.logger(ctx, "checkout.provider_error", map[string]any{
			"sessionId": session.ID,
			"method":    string(session.PaymentMethod),
			"error":     err.Error(),
		})
		failed, saveErr := s.fail(ctx, session.ID, domain.CheckoutSessionPatch{}, providerErrorMessage)
		if saveErr != nil {
			return CheckoutSession{}, saveErr
		}
		return failed, fmt.Errorf("%w: %v", ErrProviderHardError, err)
	}

	if result.Fallback != nil {
		fallback := &domain.CheckoutFallback{
			Reason:          result.Fallback.Reason,
			Message:         payments.FallbackMessage(result.Fallback.Reason),
			AlternateMethod: domain.PaymentMethodCard,
		}
		s.logger(ctx, "checkout.provider_fallback", map[string]any{
			"sessionId": session.ID,
			"reason":    string(fallback.Reason),
			"detail":    result.Fallback.Detail,
		})
		return s.save(ctx, session.ID, domain.CheckoutSessionPatch{
			Status:   ptr(domain.CheckoutStatusProviderFallback),
			Fallback: &fallback,
			InFlight: ptr(false),
		})
	}

	if result.Redirect == nil || strings.TrimSpace(result.Redirect.URL) == "" {
		failed, saveErr := s.fail(ctx, session.ID, domain.CheckoutSessionPatch{}, providerErrorMessage)
		if saveErr != nil {
			return CheckoutSession{}, saveErr
		}
		return failed, fmt.Errorf("%w: provider returned neither redirect nor fallback", ErrProviderHardError)
	}
	redirect := result.Redirect.URL
	s.logger(ctx, "checkout.provider_redirect", map[string]any{
		"sessionId":   session.ID,
		"method":      string(session.PaymentMethod),
		"providerRef": result.Redirect.ProviderRef,
		"charge":      charge,
	})
	return s.save(ctx, session.ID, domain.CheckoutSessionPatch{
		Status:      ptr(domain.CheckoutStatusProviderRedirect),
		RedirectURL: &redirect,
		InFlight:    ptr(false),
	})
}

// Resume restores a session after navigation. Customer details and discount state are kept; the
// payment method returns to the default and the in-flight flag is cleared.
func (s *checkoutService) Resume(ctx context.Context, cmd ResumeCheckoutCommand) (CheckoutSession, error) {
	session, err := s.Load(ctx, cmd.SessionID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if session.Status.IsTerminal() {
		return session, nil
	}
	if err := s.inFlight.Release(ctx, session.ID); err != nil {
		s.logger(ctx, "checkout.inflight_release_failed", map[string]any{"sessionId": session.ID, "error": err.Error()})
	}

	patch := domain.CheckoutSessionPatch{
		PaymentMethod: ptr(s.defaultMethod),
		InFlight:      ptr(false),
		Status:        ptr(domain.CheckoutStatusResumed),
		RedirectURL:   ptr(""),
	}
	if session.PaymentMethod != s.defaultMethod {
		patch.Fallback = ptr[*domain.CheckoutFallback](nil)
	}
	resumed, err := s.save(ctx, session.ID, patch)
	if err != nil {
		return CheckoutSession{}, err
	}
	s.logger(ctx, "checkout.resumed", map[string]any{"sessionId": session.ID, "trigger": string(cmd.Trigger)})
	return resumed, nil
}

// Complete applies a verified provider completion. A paid completion activates the pending order,
// redeems the discount and clears the session; an unpaid one leaves the session retryable.
func (s *checkoutService) Complete(ctx context.Context, completion payments.Completion) (CheckoutSession, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.complete")
	defer span.End()

	order, err := s.orders.Get(ctx, strings.TrimSpace(completion.OrderReference))
	if err != nil {
		if repositories.IsNotFound(err) {
			return CheckoutSession{}, fmt.Errorf("%w: unknown order reference", ErrInvalidInput)
		}
		return CheckoutSession{}, err
	}
	sessionID := firstNonEmpty(completion.SessionID, order.SessionID)

	if !completion.Paid {
		session, err := s.Load(ctx, sessionID)
		if err != nil {
			return CheckoutSession{}, err
		}
		if session.Status.IsTerminal() {
			return session, nil
		}
		return s.fail(ctx, sessionID, domain.CheckoutSessionPatch{}, "Your payment was not completed. Please try again.")
	}

	now := s.now()
	if order.Status != domain.OrderStatusActive {
		order.Status = domain.OrderStatusActive
		order.CompletedAt = &now
		order.UpdatedAt = now
		if err := s.orders.Update(ctx, order); err != nil {
			return CheckoutSession{}, err
		}
	}
	if order.DiscountCode != "" {
		if err := s.discounts.Redeem(ctx, order.DiscountCode, order.Email, order.Reference); err != nil {
			s.logger(ctx, "checkout.discount_redeem_failed", map[string]any{"orderRef": order.Reference, "error": err.Error()})
		}
	}

	session, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		if repositories.IsNotFound(err) {
			// Already completed and cleared by an earlier delivery of the same webhook.
			return CheckoutSession{ID: sessionID, Status: domain.CheckoutStatusCompleted, PendingOrderRef: order.Reference, CompletedAt: order.CompletedAt}, nil
		}
		return CheckoutSession{}, err
	}
	completed := domain.CheckoutSessionPatch{
		Status:      ptr(domain.CheckoutStatusCompleted),
		InFlight:    ptr(false),
		CompletedAt: ptr(&now),
	}.Apply(session)
	completed.UpdatedAt = now

	if err := s.sessions.Clear(ctx, sessionID); err != nil {
		return CheckoutSession{}, err
	}
	s.logger(ctx, "checkout.completed", map[string]any{
		"sessionId": sessionID,
		"orderRef":  order.Reference,
		"method":    string(completion.Method),
	})
	return completed, nil
}

func (s *checkoutService) recordAbandonedCart(ctx context.Context, session CheckoutSession) {
	s.guard.RecordAbandonedCart(ctx, session)
	s.abandonedEmits.Add(ctx, int64(len(session.Cart.Items)))
}

func (s *checkoutService) fail(ctx context.Context, sessionID string, patch domain.CheckoutSessionPatch, message string) (CheckoutSession, error) {
	patch.Status = ptr(domain.CheckoutStatusFailed)
	patch.InFlight = ptr(false)
	patch.LastError = &message
	return s.save(ctx, sessionID, patch)
}

func (s *checkoutService) save(ctx context.Context, sessionID string, patch domain.CheckoutSessionPatch) (CheckoutSession, error) {
	session, err := s.sessions.Save(ctx, sessionID, patch)
	if err != nil {
		return CheckoutSession{}, translateSessionError(err)
	}
	return session, nil
}

func (s *checkoutService) releaseInFlight(ctx context.Context, sessionID string) {
	if err := s.inFlight.Release(context.WithoutCancel(ctx), sessionID); err != nil {
		s.logger(ctx, "checkout.inflight_release_failed", map[string]any{"sessionId": sessionID, "error": err.Error()})
	}
}

// PayInFullCharge applies the card discount after any code discount: round(amount * (100-pct) / 100).
func PayInFullCharge(amount, percent int) int {
	return roundDiv(amount*(100-percent), 100)
}

func lineItems(cart domain.Cart) []payments.LineItem {
	items := make([]payments.LineItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, payments.LineItem{
			ID:           item.ID,
			Name:         item.PlanName + " warranty",
			Description:  strings.TrimSpace(item.Vehicle.Make + " " + item.Vehicle.Model),
			Registration: item.Vehicle.RegNumber,
			Amount:       int64(item.Price.TotalPrice),
		})
	}
	return items
}

func discountCodeIfValid(discount *DiscountValidation) string {
	if discount == nil || !discount.Valid {
		return ""
	}
	return discount.Code
}

func translateSessionError(err error) error {
	if repositories.IsNotFound(err) {
		return ErrSessionNotFound
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func ptr[T any](v T) *T { return &v }
