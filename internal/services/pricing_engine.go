package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
)

const defaultQuoteCacheTTL = 10 * time.Minute

// PricingEngine produces authoritative whole-pound price breakdowns. Results are memoised on the
// rated inputs for a short TTL.
type PricingEngine struct {
	adjuster   VehicleAdjuster
	maxMileage int
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
	cache      *breakdownCache
}

// PricingEngineDeps configures the pricing engine.
type PricingEngineDeps struct {
	Adjuster   VehicleAdjuster
	MaxMileage int
	CacheTTL   time.Duration
	Now        func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

// NewPricingEngine constructs a pricing engine. A nil adjuster uses the production banding.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if deps.MaxMileage < 0 {
		return nil, errors.New("pricing engine: max mileage must not be negative")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	utc := func() time.Time { return now().UTC() }
	adjuster := deps.Adjuster
	if adjuster == nil {
		adjuster = NewBandedAdjuster(utc)
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultQuoteCacheTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{
		adjuster:   adjuster,
		maxMileage: deps.MaxMileage,
		now:        utc,
		logger:     logger,
		cache:      newBreakdownCache(ttl, utc),
	}, nil
}

// Price returns the breakdown for one vehicle, rating and add-on selection. Ineligible vehicles
// return an IneligibilityError and no price.
func (e *PricingEngine) Price(ctx context.Context, vehicle domain.VehicleProfile, rating domain.RatingSelection, addOns domain.AddOnSelection) (domain.PriceBreakdown, error) {
	if err := CheckEligibility(vehicle, e.now(), e.maxMileage); err != nil {
		return domain.PriceBreakdown{}, err
	}
	key := breakdownKey(vehicle, rating, addOns)
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	breakdown := e.compute(vehicle, rating, addOns)
	e.cache.Put(key, breakdown)
	e.logger(ctx, "pricing.computed", map[string]any{
		"class":      string(vehicle.Class),
		"duration":   rating.DurationMonths,
		"excess":     rating.VoluntaryExcess,
		"claimLimit": rating.ClaimLimit,
		"total":      breakdown.TotalPrice,
	})
	return breakdown, nil
}

// Grid prices every duration and claim limit at the chosen excess, for the plan comparison table.
func (e *PricingEngine) Grid(ctx context.Context, vehicle domain.VehicleProfile, excess int, addOns domain.AddOnSelection) ([]domain.QuoteOption, error) {
	options := make([]domain.QuoteOption, 0, len(Durations)*len(ClaimLimits))
	for _, months := range Durations {
		for _, limit := range ClaimLimits {
			rating := domain.RatingSelection{DurationMonths: months, VoluntaryExcess: excess, ClaimLimit: limit}
			breakdown, err := e.Price(ctx, vehicle, rating, addOns)
			if err != nil {
				return nil, err
			}
			options = append(options, domain.QuoteOption{
				PlanName:          PlanName(rating),
				DurationMonths:    months,
				ClaimLimit:        limit,
				TotalPrice:        breakdown.TotalPrice,
				MonthlyEquivalent: breakdown.MonthlyEquivalent,
				Savings:           breakdown.Savings,
				SavingsMessage:    breakdown.SavingsMessage,
			})
		}
	}
	return options, nil
}

func (e *PricingEngine) compute(vehicle domain.VehicleProfile, rating domain.RatingSelection, addOns domain.AddOnSelection) domain.PriceBreakdown {
	months := rating.DurationMonths
	if _, ok := standardPriceTable[months]; !ok {
		months = fallbackDuration
	}
	rating.DurationMonths = months

	tablePrice := ComputeBasePrice(vehicle.Class, months, rating.VoluntaryExcess, rating.ClaimLimit)
	adjustment := e.adjuster.Adjust(vehicle, rating.DurationYears())
	base := ApplyPriceAdjustment(tablePrice, adjustment)

	addOnCost := PriceAddOns(addOns, rating)
	total := base + addOnCost.Total

	savings := e.savings(vehicle, rating, addOns, total)
	return domain.PriceBreakdown{
		TableBasePrice:    tablePrice,
		Adjustment:        adjustment,
		BasePrice:         base,
		AddOnTotal:        addOnCost.Total,
		OneTimeAddOnTotal: addOnCost.OneTime,
		TotalPrice:        total,
		MonthlyEquivalent: MonthlyEquivalent(total, months),
		Installments:      ComputeInstallments(total, addOnCost.OneTime, months),
		Savings:           savings,
		SavingsMessage:    savingsMessage(savings),
		AddOns:            addOnCost.Lines,
	}
}

// savings compares the monthly equivalent of the total, add-ons included, against the same
// selection on a 12 month plan. It is display only and never feeds the total.
func (e *PricingEngine) savings(vehicle domain.VehicleProfile, rating domain.RatingSelection, addOns domain.AddOnSelection, total int) int {
	if rating.DurationMonths == fallbackDuration {
		return 0
	}
	yearly := rating
	yearly.DurationMonths = fallbackDuration
	yearlyTotal := ApplyPriceAdjustment(
		ComputeBasePrice(vehicle.Class, fallbackDuration, rating.VoluntaryExcess, rating.ClaimLimit),
		e.adjuster.Adjust(vehicle, yearly.DurationYears()),
	) + PriceAddOns(addOns, yearly).Total
	diff := MonthlyEquivalent(yearlyTotal, fallbackDuration) - MonthlyEquivalent(total, rating.DurationMonths)
	if diff <= 0 {
		return 0
	}
	return diff * rating.DurationMonths
}

type breakdownCache struct {
	ttl time.Duration
	now func() time.Time
	mu  sync.RWMutex
	m   map[string]breakdownCacheEntry
}

type breakdownCacheEntry struct {
	breakdown domain.PriceBreakdown
	expires   time.Time
}

func newBreakdownCache(ttl time.Duration, now func() time.Time) *breakdownCache {
	return &breakdownCache{ttl: ttl, now: now, m: make(map[string]breakdownCacheEntry)}
}

func (c *breakdownCache) Get(key string) (domain.PriceBreakdown, bool) {
	c.mu.RLock()
	entry, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return domain.PriceBreakdown{}, false
	}
	if c.now().After(entry.expires) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return domain.PriceBreakdown{}, false
	}
	return cloneBreakdown(entry.breakdown), true
}

func (c *breakdownCache) Put(key string, breakdown domain.PriceBreakdown) {
	c.mu.Lock()
	c.m[key] = breakdownCacheEntry{breakdown: cloneBreakdown(breakdown), expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func cloneBreakdown(b domain.PriceBreakdown) domain.PriceBreakdown {
	b.AddOns = append([]domain.AddOnLine(nil), b.AddOns...)
	b.Adjustment.Reasons = append([]string(nil), b.Adjustment.Reasons...)
	return b
}

func breakdownKey(vehicle domain.VehicleProfile, rating domain.RatingSelection, addOns domain.AddOnSelection) string {
	selected := addOns.Selected()
	keys := make([]string, len(selected))
	for i, key := range selected {
		keys[i] = string(key)
	}
	return fmt.Sprintf("%s|%d|%d|%d|%d|%d|%s",
		vehicle.Class, vehicle.Year, vehicle.Mileage,
		rating.DurationMonths, rating.VoluntaryExcess, rating.ClaimLimit,
		strings.Join(keys, ","))
}
