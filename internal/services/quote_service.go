package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/vehicles"
)

const defaultQuoteDurationMonths = 12

// VehicleLookup resolves registrations into vehicle profiles.
type VehicleLookup interface {
	Lookup(ctx context.Context, registration string, mileage int) (vehicles.Result, error)
}

// PolicyDocuments locates the wording document for a vehicle.
type PolicyDocuments interface {
	Locate(ctx context.Context, vehicle VehicleProfile) (PolicyDocument, error)
}

// QuoteServiceDeps wires the quote service.
type QuoteServiceDeps struct {
	Vehicles  VehicleLookup
	Pricing   QuotePricer
	Documents PolicyDocuments
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type quoteService struct {
	vehicles  VehicleLookup
	pricing   QuotePricer
	documents PolicyDocuments
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewQuoteService constructs the quote service. Documents are optional.
func NewQuoteService(deps QuoteServiceDeps) (QuoteService, error) {
	if deps.Vehicles == nil {
		return nil, errors.New("quote service: vehicle lookup is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("quote service: pricing engine is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &quoteService{
		vehicles:  deps.Vehicles,
		pricing:   deps.Pricing,
		documents: deps.Documents,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// Quote looks the registration up, prices the requested rating and the duration by claim limit grid.
// Lookup rejections and age or mileage failures are returned as IneligibilityError.
func (s *quoteService) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	reg := domain.NormalizeRegistration(req.Registration)
	fields := make(map[string]string)
	if reg == "" {
		fields["registration"] = "Enter a registration"
	}
	if req.Mileage < 0 {
		fields["mileage"] = "Mileage cannot be negative"
	}
	if len(fields) > 0 {
		return Quote{}, &ValidationError{Fields: fields}
	}

	result, err := s.vehicles.Lookup(ctx, reg, req.Mileage)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Quote{}, err
		}
		s.logger(ctx, "quote.lookup_failed", map[string]any{"registration": reg, "error": err.Error()})
		return Quote{}, fmt.Errorf("%w: %v", ErrVehicleLookupFailed, err)
	}
	if !result.Found {
		if result.Ineligible() {
			return Quote{}, &IneligibilityError{Reason: IneligibleLookupRejected, Message: result.Message}
		}
		return Quote{}, &ValidationError{Fields: map[string]string{"registration": firstNonEmpty(result.Message, "We could not find that registration")}}
	}

	rating := req.Rating
	if rating.DurationMonths == 0 {
		rating.DurationMonths = defaultQuoteDurationMonths
	}
	vehicle := result.Vehicle

	breakdown, err := s.pricing.Price(ctx, vehicle, rating, req.AddOns)
	if err != nil {
		return Quote{}, err
	}
	options, err := s.pricing.Grid(ctx, vehicle, rating.VoluntaryExcess, req.AddOns)
	if err != nil {
		return Quote{}, err
	}

	quote := Quote{
		Vehicle:   vehicle,
		Rating:    rating,
		PlanName:  PlanName(rating),
		Breakdown: breakdown,
		Options:   options,
	}
	if s.documents != nil {
		doc, err := s.documents.Locate(ctx, vehicle)
		if err != nil {
			s.logger(ctx, "quote.policy_document_failed", map[string]any{"registration": reg, "error": err.Error()})
		} else {
			quote.PolicyDocument = &doc
		}
	}
	s.logger(ctx, "quote.issued", map[string]any{
		"registration": reg,
		"class":        string(vehicle.Class),
		"plan":         strings.TrimSpace(quote.PlanName),
		"total":        breakdown.TotalPrice,
	})
	return quote, nil
}
