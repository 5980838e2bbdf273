package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/motorshield/warranty-api/internal/payments"
	"github.com/motorshield/warranty-api/internal/platform/httpx"
	"github.com/motorshield/warranty-api/internal/platform/requestctx"
	"github.com/motorshield/warranty-api/internal/repositories"
	"github.com/motorshield/warranty-api/internal/services"
)

const maxWebhookBody = 256 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// writeServiceError maps service and repository failures onto the JSON error envelope.
// A non-nil checkout is attached so the client can render the persisted failure state.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, checkout *checkoutPayload) {
	var (
		validation *services.ValidationError
		inelig     *services.IneligibilityError
		duplicate  *services.DuplicateOrderError
		apiErr     httpx.Error
	)
	switch {
	case errors.As(err, &validation):
		apiErr = httpx.NewError("validation_failed", "some details need fixing", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"fields": validation.Fields})
	case errors.As(err, &inelig):
		apiErr = httpx.NewError("vehicle_ineligible", inelig.Message, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": string(inelig.Reason)})
	case errors.As(err, &duplicate):
		apiErr = httpx.NewError("duplicate_order", "an order was placed with this email a few minutes ago", http.StatusConflict).
			WithDetails(map[string]any{"orderReference": duplicate.Reference})
	case errors.Is(err, services.ErrInvalidInput):
		apiErr = httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrSessionNotFound):
		apiErr = httpx.NewError("session_not_found", "checkout session not found or expired", http.StatusNotFound)
	case errors.Is(err, services.ErrSessionCompleted):
		apiErr = httpx.NewError("session_completed", "checkout session is already complete", http.StatusConflict)
	case errors.Is(err, services.ErrCheckoutInProgress):
		apiErr = httpx.NewError("checkout_in_progress", "checkout is already being processed", http.StatusConflict)
	case errors.Is(err, services.ErrProviderHardError):
		apiErr = httpx.NewError("provider_error", "payment provider could not be reached", http.StatusBadGateway)
	case errors.Is(err, services.ErrVehicleLookupFailed):
		apiErr = httpx.NewError("vehicle_lookup_failed", "vehicle lookup is unavailable, please try again", http.StatusBadGateway)
	case errors.Is(err, payments.ErrInvalidCompletion), errors.Is(err, payments.ErrUnsupportedProvider):
		apiErr = httpx.NewError("invalid_completion", "callback could not be verified", http.StatusBadRequest)
	case repositories.IsUnavailable(err):
		apiErr = httpx.NewError("service_unavailable", "storage unavailable, please retry", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		apiErr = httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout)
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		apiErr = httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError)
	}
	if checkout != nil {
		apiErr = apiErr.WithDetails(map[string]any{"checkout": checkout})
	}
	httpx.WriteError(ctx, w, apiErr)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}
