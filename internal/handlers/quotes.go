package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/motorshield/warranty-api/internal/platform/httpx"
	"github.com/motorshield/warranty-api/internal/services"
)

const maxQuoteRequestBody = 4 * 1024

// QuoteHandlers exposes registration pricing for the quote page.
type QuoteHandlers struct {
	quotes  services.QuoteService
	limiter RateLimiter
}

// QuoteOption customises QuoteHandlers.
type QuoteOption func(*QuoteHandlers)

// WithQuoteRateLimit caps lookups per client address. Each quote costs a paid registration lookup.
func WithQuoteRateLimit(limiter RateLimiter) QuoteOption {
	return func(h *QuoteHandlers) {
		h.limiter = limiter
	}
}

func NewQuoteHandlers(quotes services.QuoteService, opts ...QuoteOption) *QuoteHandlers {
	h := &QuoteHandlers{quotes: quotes}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers quote endpoints under the provided router.
func (h *QuoteHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createQuote)
}

type quoteRequest struct {
	Registration    string   `json:"registration"`
	Mileage         int      `json:"mileage"`
	DurationMonths  int      `json:"durationMonths"`
	VoluntaryExcess int      `json:"voluntaryExcess"`
	ClaimLimit      int      `json:"claimLimit"`
	AddOns          []string `json:"addOns"`
}

type quoteOptionPayload struct {
	PlanName          string `json:"planName"`
	DurationMonths    int    `json:"durationMonths"`
	ClaimLimit        int    `json:"claimLimit"`
	TotalPrice        int    `json:"totalPrice"`
	MonthlyEquivalent int    `json:"monthlyEquivalent"`
	Savings           int    `json:"savings,omitempty"`
	SavingsMessage    string `json:"savingsMessage,omitempty"`
}

type policyDocumentPayload struct {
	Category  string `json:"category"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}

type quoteResponse struct {
	Vehicle        vehiclePayload         `json:"vehicle"`
	Rating         ratingPayload          `json:"rating"`
	PlanName       string                 `json:"planName"`
	Price          breakdownPayload       `json:"price"`
	Options        []quoteOptionPayload   `json:"options"`
	PolicyDocument *policyDocumentPayload `json:"policyDocument,omitempty"`
}

func (h *QuoteHandlers) createQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quotes_unavailable", "quote service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientAddress(r)) {
		w.Header().Set("Retry-After", "60")
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many quote requests, please wait a moment", http.StatusTooManyRequests))
		return
	}

	var req quoteRequest
	if err := httpx.DecodeJSON(r, &req, maxQuoteRequestBody, false); err != nil {
		httpx.WriteError(ctx, w, httpx.DecodeError(err))
		return
	}
	addOns, err := parseAddOns(req.AddOns)
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}

	quote, err := h.quotes.Quote(ctx, services.QuoteRequest{
		Registration: req.Registration,
		Mileage:      req.Mileage,
		Rating: ratingPayload{
			DurationMonths:  req.DurationMonths,
			VoluntaryExcess: req.VoluntaryExcess,
			ClaimLimit:      req.ClaimLimit,
		}.selection(),
		AddOns: addOns,
	})
	if err != nil {
		writeServiceError(ctx, w, err, nil)
		return
	}

	resp := quoteResponse{
		Vehicle:  newVehiclePayload(quote.Vehicle),
		Rating:   newRatingPayload(quote.Rating),
		PlanName: quote.PlanName,
		Price:    newBreakdownPayload(quote.Breakdown),
		Options:  make([]quoteOptionPayload, 0, len(quote.Options)),
	}
	for _, option := range quote.Options {
		resp.Options = append(resp.Options, quoteOptionPayload(option))
	}
	if doc := quote.PolicyDocument; doc != nil {
		resp.PolicyDocument = &policyDocumentPayload{
			Category:  string(doc.Category),
			URL:       doc.URL,
			ExpiresAt: formatTime(doc.ExpiresAt),
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func clientAddress(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
