package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/payments"
	"github.com/motorshield/warranty-api/internal/platform/httpx"
	"github.com/motorshield/warranty-api/internal/platform/requestctx"
	"github.com/motorshield/warranty-api/internal/services"
)

const stripeSignatureHeader = "Stripe-Signature"

// CompletionParser verifies and decodes a provider callback.
type CompletionParser interface {
	ParseCompletion(ctx context.Context, method domain.PaymentMethod, payload []byte, signature string) (payments.Completion, error)
}

// PaymentWebhookHandlers receives provider completion callbacks.
type PaymentWebhookHandlers struct {
	parser           CompletionParser
	checkout         services.CheckoutService
	installmentsAuth func(http.Handler) http.Handler
}

// NewPaymentWebhookHandlers wires callbacks. installmentsAuth verifies the finance provider's HMAC
// signature; Stripe callbacks are verified by the Stripe provider itself.
func NewPaymentWebhookHandlers(parser CompletionParser, checkout services.CheckoutService, installmentsAuth func(http.Handler) http.Handler) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{parser: parser, checkout: checkout, installmentsAuth: installmentsAuth}
}

// Routes registers webhook endpoints under the provided router.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.stripeCompletion)
	installments := r
	if h.installmentsAuth != nil {
		installments = r.With(h.installmentsAuth)
	}
	installments.Post("/payments/installments", h.installmentsCompletion)
}

type webhookResponse struct {
	Received       bool   `json:"received"`
	Status         string `json:"status,omitempty"`
	OrderReference string `json:"orderReference,omitempty"`
}

func (h *PaymentWebhookHandlers) stripeCompletion(w http.ResponseWriter, r *http.Request) {
	h.complete(w, r, domain.PaymentMethodCard, r.Header.Get(stripeSignatureHeader))
}

func (h *PaymentWebhookHandlers) installmentsCompletion(w http.ResponseWriter, r *http.Request) {
	if h.installmentsAuth == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("webhook_unavailable", "installments webhook verification not configured", http.StatusServiceUnavailable))
		return
	}
	h.complete(w, r, domain.PaymentMethodInstallments, "")
}

func (h *PaymentWebhookHandlers) complete(w http.ResponseWriter, r *http.Request, method domain.PaymentMethod, signature string) {
	ctx := r.Context()
	if h.parser == nil || h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment webhooks unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	completion, err := h.parser.ParseCompletion(ctx, method, body, signature)
	if err != nil {
		requestctx.Logger(ctx).Warn("payment callback rejected", zap.String("method", string(method)), zap.Error(err))
		writeServiceError(ctx, w, err, nil)
		return
	}
	logger := requestctx.Logger(ctx).With(
		zap.String("method", string(method)),
		zap.String("orderReference", completion.OrderReference),
		zap.Bool("paid", completion.Paid),
	)

	session, err := h.checkout.Complete(ctx, completion)
	if err != nil {
		logger.Error("payment completion failed", zap.Error(err))
		writeServiceError(ctx, w, err, nil)
		return
	}
	logger.Info("payment completion applied", zap.String("status", string(session.Status)))
	httpx.WriteJSON(w, http.StatusOK, webhookResponse{
		Received:       true,
		Status:         string(session.Status),
		OrderReference: completion.OrderReference,
	})
}
