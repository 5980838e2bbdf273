package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/platform/httpx"
	"github.com/motorshield/warranty-api/internal/platform/observability"
	"github.com/motorshield/warranty-api/internal/platform/requestctx"
	"github.com/motorshield/warranty-api/internal/services"
)

const maxCheckoutRequestBody = 32 * 1024

// SessionTokens converts between checkout session ids and the opaque token used in URLs.
type SessionTokens interface {
	Issue(sessionID string) (string, time.Time, error)
	Parse(token string) (string, error)
}

// CheckoutHandlers exposes the anonymous checkout flow. Sessions are addressed by signed token.
type CheckoutHandlers struct {
	checkout    services.CheckoutService
	tokens      SessionTokens
	idempotency func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency guards the session mutations. The middleware runs after the token is
// verified, so it can scope keys by session.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

func NewCheckoutHandlers(checkout services.CheckoutService, tokens SessionTokens, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout, tokens: tokens}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createCheckout)
	r.Route("/{token}", func(session chi.Router) {
		session.Use(h.resolveSession)
		session.Get("/", h.getCheckout)
		session.Group(func(mutate chi.Router) {
			if h.idempotency != nil {
				mutate.Use(h.idempotency)
			}
			mutate.Patch("/", h.saveDraft)
			mutate.Post("/submit", h.submitCheckout)
			mutate.Post("/resume", h.resumeCheckout)
		})
	})
}

// resolveSession verifies the path token and stores the session id on the context.
// Unknown and forged tokens are indistinguishable from expired sessions.
func (h *CheckoutHandlers) resolveSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.checkout == nil || h.tokens == nil {
			httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
			return
		}
		sessionID, err := h.tokens.Parse(chi.URLParam(r, "token"))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found or expired", http.StatusNotFound))
			return
		}
		ctx = requestctx.WithSessionID(ctx, sessionID)
		logger := requestctx.Logger(ctx).With(zap.String("session", observability.SanitizeSessionID(sessionID)))
		ctx = requestctx.WithLogger(ctx, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type cartItemRequest struct {
	Vehicle vehiclePayload `json:"vehicle"`
	Rating  ratingPayload  `json:"rating"`
	AddOns  []string       `json:"addOns"`
}

type createCheckoutRequest struct {
	Items        []cartItemRequest `json:"items"`
	Customer     *customerPayload  `json:"customer"`
	DiscountCode string            `json:"discountCode"`
	EditOrderRef string            `json:"editOrderRef"`
}

type saveDraftRequest struct {
	Customer          *customerPayload `json:"customer"`
	PaymentMethod     *string          `json:"paymentMethod"`
	DiscountCode      *string          `json:"discountCode"`
	AcknowledgePlates *bool            `json:"acknowledgePlates"`
}

type submitCheckoutRequest struct {
	AcknowledgePlates bool `json:"acknowledgePlates"`
}

type resumeCheckoutRequest struct {
	Trigger string `json:"trigger"`
}

func (h *CheckoutHandlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil || h.tokens == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createCheckoutRequest
	if err := httpx.DecodeJSON(r, &req, maxCheckoutRequestBody, false); err != nil {
		httpx.WriteError(ctx, w, httpx.DecodeError(err))
		return
	}

	cmd := services.CreateCheckoutCommand{
		Items:        make([]services.CartItemInput, 0, len(req.Items)),
		DiscountCode: strings.TrimSpace(req.DiscountCode),
		EditOrderRef: strings.TrimSpace(req.EditOrderRef),
	}
	for _, item := range req.Items {
		addOns, err := parseAddOns(item.AddOns)
		if err != nil {
			writeServiceError(ctx, w, err, nil)
			return
		}
		cmd.Items = append(cmd.Items, services.CartItemInput{
			Vehicle: item.Vehicle.profile(),
			Rating:  item.Rating.selection(),
			AddOns:  addOns,
		})
	}
	if req.Customer != nil {
		customer := req.Customer.customer()
		cmd.Customer = &customer
	}

	session, err := h.checkout.Create(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}
	token, expires, err := h.tokens.Issue(session.ID)
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}

	payload := newCheckoutPayload(session)
	payload.Token = token
	payload.TokenExpiresAt = formatTime(expires)
	httpx.WriteJSON(w, http.StatusCreated, payload)
}

func (h *CheckoutHandlers) getCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.checkout.Load(ctx, requestctx.SessionID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCheckoutPayload(session))
}

func (h *CheckoutHandlers) saveDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req saveDraftRequest
	if err := httpx.DecodeJSON(r, &req, maxCheckoutRequestBody, false); err != nil {
		httpx.WriteError(ctx, w, httpx.DecodeError(err))
		return
	}

	cmd := services.SaveDraftCommand{
		SessionID:         requestctx.SessionID(ctx),
		DiscountCode:      req.DiscountCode,
		AcknowledgePlates: req.AcknowledgePlates,
	}
	if req.Customer != nil {
		customer := req.Customer.customer()
		cmd.Customer = &customer
	}
	if req.PaymentMethod != nil {
		method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(*req.PaymentMethod)))
		cmd.PaymentMethod = &method
	}

	session, err := h.checkout.SaveDraft(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCheckoutPayload(session))
}

// submitCheckout answers 200 for redirects, fallbacks and plate confirmations; the client reads the
// status. Failures persisted on the session are returned as errors carrying the session view.
func (h *CheckoutHandlers) submitCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req submitCheckoutRequest
	if err := httpx.DecodeJSON(r, &req, maxCheckoutRequestBody, true); err != nil {
		httpx.WriteError(ctx, w, httpx.DecodeError(err))
		return
	}

	session, err := h.checkout.Submit(ctx, services.SubmitCheckoutCommand{
		SessionID:         requestctx.SessionID(ctx),
		AcknowledgePlates: req.AcknowledgePlates,
	})
	if err != nil {
		writeServiceError(ctx, w, err, failedCheckout(session))
		return
	}
	requestctx.Logger(ctx).Info("checkout submitted",
		zap.String("status", string(session.Status)),
		zap.String("paymentMethod", string(session.PaymentMethod)),
	)
	httpx.WriteJSON(w, http.StatusOK, newCheckoutPayload(session))
}

func (h *CheckoutHandlers) resumeCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req resumeCheckoutRequest
	if err := httpx.DecodeJSON(r, &req, maxCheckoutRequestBody, true); err != nil {
		httpx.WriteError(ctx, w, httpx.DecodeError(err))
		return
	}
	trigger, ok := parseResumeTrigger(req.Trigger)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown resume trigger", http.StatusBadRequest))
		return
	}

	session, err := h.checkout.Resume(ctx, services.ResumeCheckoutCommand{
		SessionID: requestctx.SessionID(ctx),
		Trigger:   trigger,
	})
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCheckoutPayload(session))
}

func parseResumeTrigger(raw string) (services.ResumeTrigger, bool) {
	switch trigger := services.ResumeTrigger(strings.ToLower(strings.TrimSpace(raw))); trigger {
	case "":
		return services.ResumeTriggerBackNavigation, true
	case services.ResumeTriggerBackNavigation,
		services.ResumeTriggerVisibilityChange,
		services.ResumeTriggerPageShow,
		services.ResumeTriggerProviderReturn:
		return trigger, true
	default:
		return "", false
	}
}
