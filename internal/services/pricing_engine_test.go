package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
)

var pricingNow = time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)

func newTestPricingEngine(t *testing.T, adjuster VehicleAdjuster) *PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(PricingEngineDeps{
		Adjuster:   adjuster,
		MaxMileage: 150000,
		Now:        func() time.Time { return pricingNow },
	})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	return engine
}

func TestPricingEngine_WorkedExample(t *testing.T) {
	engine := newTestPricingEngine(t, NoAdjustment)
	car := domain.VehicleProfile{RegNumber: "AB12CDE", Mileage: 30000, Year: 2022, Class: domain.VehicleClassCar}
	rating := domain.RatingSelection{DurationMonths: 24, VoluntaryExcess: 50, ClaimLimit: 1250}

	breakdown, err := engine.Price(context.Background(), car, rating, nil)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if breakdown.BasePrice != 877 {
		t.Fatalf("expected base 877, got %d", breakdown.BasePrice)
	}
	if breakdown.TotalPrice != 877 || breakdown.AddOnTotal != 0 {
		t.Fatalf("unexpected totals %+v", breakdown)
	}

	withAddOn, err := engine.Price(context.Background(), car, rating, domain.AddOnSelection{domain.AddOnBreakdownRecovery: true})
	if err != nil {
		t.Fatalf("Price with add-on: %v", err)
	}
	if withAddOn.AddOnTotal != 120 {
		t.Fatalf("expected add-on total 120, got %d", withAddOn.AddOnTotal)
	}
	if withAddOn.TotalPrice != 997 {
		t.Fatalf("expected total 997, got %d", withAddOn.TotalPrice)
	}
	if withAddOn.MonthlyEquivalent != 42 {
		t.Fatalf("expected monthly 42, got %d", withAddOn.MonthlyEquivalent)
	}
}

func TestComputeBasePrice_Deterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		if got := ComputeBasePrice(domain.VehicleClassCar, 36, 100, 2000); got != 1469 {
			t.Fatalf("call %d: expected 1469, got %d", i, got)
		}
	}
}

func TestComputeBasePrice_Fallbacks(t *testing.T) {
	cases := []struct {
		name                          string
		duration, excess, claimLimit  int
		fallbackExcess, fallbackLimit int
	}{
		{name: "ui only excess", duration: 24, excess: 250, claimLimit: 2000, fallbackExcess: 0, fallbackLimit: 2000},
		{name: "unknown claim limit", duration: 36, excess: 100, claimLimit: 999, fallbackExcess: 100, fallbackLimit: 1250},
		{name: "both unknown", duration: 12, excess: 200, claimLimit: 5000, fallbackExcess: 0, fallbackLimit: 1250},
	}
	for _, tc := range cases {
		for _, class := range []domain.VehicleClass{domain.VehicleClassCar, domain.VehicleClassMotorbike} {
			got := ComputeBasePrice(class, tc.duration, tc.excess, tc.claimLimit)
			want := ComputeBasePrice(class, tc.duration, tc.fallbackExcess, tc.fallbackLimit)
			if got != want || got == 0 {
				t.Fatalf("%s/%s: expected %d, got %d", tc.name, class, want, got)
			}
		}
	}
	if got := ComputeBasePrice(domain.VehicleClassCar, 18, 0, 1250); got != 479 {
		t.Fatalf("unknown duration should use 12 month table, got %d", got)
	}
}

func TestComputeBasePrice_MotorbikeUsesSpecialTable(t *testing.T) {
	for _, months := range Durations {
		for _, limit := range ClaimLimits {
			car := ComputeBasePrice(domain.VehicleClassCar, months, 0, limit)
			bike := ComputeBasePrice(domain.VehicleClassMotorbike, months, 0, limit)
			if bike <= car {
				t.Fatalf("%d/%d: expected motorbike %d above car %d", months, limit, bike, car)
			}
		}
	}
}

func TestApplyPriceAdjustment(t *testing.T) {
	if got := ApplyPriceAdjustment(877, domain.Adjustment{}); got != 877 {
		t.Fatalf("zero adjustment changed price: %d", got)
	}
	if got := ApplyPriceAdjustment(877, domain.Adjustment{Percent: 10}); got != 965 {
		t.Fatalf("expected 964.7 to round to 965, got %d", got)
	}
	if got := ApplyPriceAdjustment(100, domain.Adjustment{Percent: 5, Fixed: -10}); got != 95 {
		t.Fatalf("expected 95, got %d", got)
	}
	if got := ApplyPriceAdjustment(50, domain.Adjustment{Fixed: -80}); got != 0 {
		t.Fatalf("expected floor at zero, got %d", got)
	}
}

func TestBandedAdjuster(t *testing.T) {
	adjuster := NewBandedAdjuster(func() time.Time { return pricingNow })

	young := adjuster.Adjust(domain.VehicleProfile{Year: 2024, Mileage: 20000}, 1)
	if !young.IsZero() {
		t.Fatalf("expected no loading for young low mileage vehicle, got %+v", young)
	}

	old := adjuster.Adjust(domain.VehicleProfile{Year: 2015, Mileage: 120000}, 3)
	if old.Percent != 50 {
		t.Fatalf("expected 30%% age + 20%% mileage loading, got %+v", old)
	}
	if len(old.Reasons) != 2 {
		t.Fatalf("expected two reasons, got %v", old.Reasons)
	}
}

func TestPricingEngine_AppliesAdjustmentAfterLookup(t *testing.T) {
	engine := newTestPricingEngine(t, VehicleAdjusterFunc(func(domain.VehicleProfile, int) domain.Adjustment {
		return domain.Adjustment{Percent: 10}
	}))
	breakdown, err := engine.Price(context.Background(), domain.VehicleProfile{Class: domain.VehicleClassCar},
		domain.RatingSelection{DurationMonths: 24, VoluntaryExcess: 50, ClaimLimit: 1250}, nil)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if breakdown.TableBasePrice != 877 || breakdown.BasePrice != 965 {
		t.Fatalf("unexpected base prices %+v", breakdown)
	}
}

func TestPricingEngine_Ineligible(t *testing.T) {
	engine := newTestPricingEngine(t, NoAdjustment)
	rating := domain.RatingSelection{DurationMonths: 12, ClaimLimit: 1250}

	_, err := engine.Price(context.Background(), domain.VehicleProfile{Year: 2009, Class: domain.VehicleClassCar}, rating, nil)
	var inelig *IneligibilityError
	if !errors.As(err, &inelig) || inelig.Reason != IneligibleTooOld {
		t.Fatalf("expected too old ineligibility, got %v", err)
	}
	if !errors.Is(err, ErrVehicleIneligible) {
		t.Fatalf("expected ErrVehicleIneligible, got %v", err)
	}

	_, err = engine.Price(context.Background(), domain.VehicleProfile{Year: 2020, Mileage: 150001}, rating, nil)
	if !errors.As(err, &inelig) || inelig.Reason != IneligibleMileageTooHigh {
		t.Fatalf("expected mileage ineligibility, got %v", err)
	}

	if _, err := engine.Price(context.Background(), domain.VehicleProfile{Year: 2011}, rating, nil); err != nil {
		t.Fatalf("15 year old vehicle should be eligible: %v", err)
	}
}

func TestPricingEngine_SavingsNeverNegative(t *testing.T) {
	engine := newTestPricingEngine(t, NoAdjustment)
	car := domain.VehicleProfile{Class: domain.VehicleClassCar}

	twelve, err := engine.Price(context.Background(), car, domain.RatingSelection{DurationMonths: 12, ClaimLimit: 1250}, nil)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if twelve.Savings != 0 || twelve.SavingsMessage != "No saving" {
		t.Fatalf("12 month plan should have no saving, got %d %q", twelve.Savings, twelve.SavingsMessage)
	}

	// 24/50/1250: round(459/12)=38, round(877/24)=37, so 1 * 24.
	two, err := engine.Price(context.Background(), car, domain.RatingSelection{DurationMonths: 24, VoluntaryExcess: 50, ClaimLimit: 1250}, nil)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if two.Savings != 24 {
		t.Fatalf("expected savings 24, got %d", two.Savings)
	}
	if two.SavingsMessage != "Save £24 compared with paying for a 12 month plan" {
		t.Fatalf("unexpected savings message %q", two.SavingsMessage)
	}
	if two.TotalPrice != 877 {
		t.Fatalf("savings must not change the total, got %d", two.TotalPrice)
	}
}

func TestPricingEngine_SavingsIncludeAddOns(t *testing.T) {
	engine := newTestPricingEngine(t, NoAdjustment)
	car := domain.VehicleProfile{Class: domain.VehicleClassCar}

	// 12m: round((459+30)/12)=41, 24m: round((877+30)/24)=38, so 3 * 24.
	breakdown, err := engine.Price(context.Background(), car,
		domain.RatingSelection{DurationMonths: 24, VoluntaryExcess: 50, ClaimLimit: 1250},
		domain.AddOnSelection{domain.AddOnTransferCover: true},
	)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if breakdown.TotalPrice != 907 {
		t.Fatalf("expected total 907, got %d", breakdown.TotalPrice)
	}
	if breakdown.Savings != 72 {
		t.Fatalf("expected savings 72, got %d", breakdown.Savings)
	}
}

func TestPricingEngine_InstallmentsMatchTotal(t *testing.T) {
	engine := newTestPricingEngine(t, NoAdjustment)
	car := domain.VehicleProfile{Class: domain.VehicleClassCar}

	breakdown, err := engine.Price(context.Background(), car,
		domain.RatingSelection{DurationMonths: 12, VoluntaryExcess: 0, ClaimLimit: 1250},
		domain.AddOnSelection{domain.AddOnTransferCover: true},
	)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	plan := breakdown.Installments
	if breakdown.TotalPrice != 509 || breakdown.OneTimeAddOnTotal != 30 {
		t.Fatalf("unexpected totals %+v", breakdown)
	}
	// round(479/12)=40, with the £30 transfer fee on the first payment only.
	if plan.Count != 12 || plan.Standard != 40 || plan.First != 70 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	sum := plan.First + (plan.Count-1)*plan.Standard
	if diff := sum - breakdown.TotalPrice; diff < -plan.Count/2 || diff > plan.Count/2 {
		t.Fatalf("plan collects %d against total %d", sum, breakdown.TotalPrice)
	}
}

func TestPricingEngine_CacheReturnsIndependentCopies(t *testing.T) {
	calls := 0
	engine := newTestPricingEngine(t, VehicleAdjusterFunc(func(domain.VehicleProfile, int) domain.Adjustment {
		calls++
		return domain.Adjustment{}
	}))
	rating := domain.RatingSelection{DurationMonths: 12, ClaimLimit: 1250}
	addOns := domain.AddOnSelection{domain.AddOnTyreCover: true}

	first, err := engine.Price(context.Background(), domain.VehicleProfile{}, rating, addOns)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	first.AddOns[0].Cost = -1
	second, err := engine.Price(context.Background(), domain.VehicleProfile{}, rating, addOns)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if second.AddOns[0].Cost != 48 {
		t.Fatalf("cached breakdown was mutated: %+v", second.AddOns)
	}
	if calls != 1 {
		t.Fatalf("expected adjuster to run once, ran %d times", calls)
	}
}

func TestPricingEngine_Grid(t *testing.T) {
	engine := newTestPricingEngine(t, NoAdjustment)
	grid, err := engine.Grid(context.Background(), domain.VehicleProfile{Class: domain.VehicleClassCar}, 50, nil)
	if err != nil {
		t.Fatalf("Grid: %v", err)
	}
	if len(grid) != 9 {
		t.Fatalf("expected 9 options, got %d", len(grid))
	}
	if grid[4].PlanName != "Gold 24 Month" || grid[4].TotalPrice != 877 {
		t.Fatalf("unexpected middle option %+v", grid[4])
	}
}

func TestPlanName(t *testing.T) {
	if got := PlanName(domain.RatingSelection{DurationMonths: 36, ClaimLimit: 2000}); got != "Platinum 36 Month" {
		t.Fatalf("unexpected plan name %q", got)
	}
	if got := PlanName(domain.RatingSelection{DurationMonths: 7, ClaimLimit: 750}); got != "Basic 12 Month" {
		t.Fatalf("unexpected plan name %q", got)
	}
}
