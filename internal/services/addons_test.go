package services

import (
	"testing"

	"github.com/motorshield/warranty-api/internal/domain"
)

func TestPriceAddOns_DurationScaling(t *testing.T) {
	for _, rate := range AddOnCatalog() {
		selection := domain.AddOnSelection{rate.Key: true}
		short := PriceAddOns(selection, domain.RatingSelection{DurationMonths: 12, ClaimLimit: 750})
		long := PriceAddOns(selection, domain.RatingSelection{DurationMonths: 24, ClaimLimit: 750})
		if rate.Recurring() {
			if long.Total != 2*short.Total || short.Total != rate.Monthly*12 {
				t.Fatalf("%s: expected recurring cost to double, got 12m=%d 24m=%d", rate.Key, short.Total, long.Total)
			}
			continue
		}
		if short.Total != long.Total || short.OneTime != rate.OneTime {
			t.Fatalf("%s: one-time cost must not depend on duration, got 12m=%d 24m=%d", rate.Key, short.Total, long.Total)
		}
	}
}

func TestPriceAddOns_AutoIncludedAreFree(t *testing.T) {
	rating := domain.RatingSelection{DurationMonths: 36, ClaimLimit: 2000}
	selection := domain.AddOnSelection{
		domain.AddOnMOTFeeCover:       true,
		domain.AddOnBreakdownRecovery: true,
		domain.AddOnTyreCover:         true,
	}
	cost := PriceAddOns(selection, rating)
	if cost.Total != 4*36 {
		t.Fatalf("expected only tyre cover to be charged, got %d", cost.Total)
	}
	if ComputeAddOnTotal(selection, rating) != cost.Total {
		t.Fatalf("ComputeAddOnTotal disagrees with PriceAddOns")
	}

	var included, paid int
	for _, line := range cost.Lines {
		switch {
		case line.Included:
			included++
			if line.Cost != 0 || !line.Selected {
				t.Fatalf("included line should be selected and free: %+v", line)
			}
		case line.Selected:
			paid++
		}
	}
	if included != 2 || paid != 1 {
		t.Fatalf("expected 2 included and 1 paid line, got %d and %d", included, paid)
	}
}

func TestPriceAddOns_IncludedShownWhenNotTicked(t *testing.T) {
	cost := PriceAddOns(nil, domain.RatingSelection{DurationMonths: 36, ClaimLimit: 1250})
	if cost.Total != 0 || len(cost.Lines) != 1 || cost.Lines[0].Key != domain.AddOnMOTFeeCover || cost.Lines[0].Selected {
		t.Fatalf("unexpected lines %+v", cost.Lines)
	}
}

func TestComputeInstallments_FrontLoadsOneTimeFees(t *testing.T) {
	rating := domain.RatingSelection{DurationMonths: 24, ClaimLimit: 1250}
	withTransfer := PriceAddOns(domain.AddOnSelection{domain.AddOnTransferCover: true, domain.AddOnTyreCover: true}, rating)
	total := 877 + withTransfer.Total

	plan := ComputeInstallments(total, withTransfer.OneTime, 24)
	if plan.First-plan.Standard != 30 {
		t.Fatalf("expected first installment to carry the £30 fee, got %+v", plan)
	}
	if plan.Standard != MonthlyEquivalent(total-30, 24) || plan.Count != 24 {
		t.Fatalf("unexpected standard installment %+v", plan)
	}
	if diff := plan.First + (plan.Count-1)*plan.Standard - total; diff < -plan.Count/2 || diff > plan.Count/2 {
		t.Fatalf("plan collects %d against total %d: %+v", total+diff, total, plan)
	}

	none := ComputeInstallments(997, 0, 24)
	if none.First != none.Standard || none.Standard != 42 {
		t.Fatalf("expected equal installments of 42, got %+v", none)
	}
}

func TestMonthlyEquivalentRoundsHalfUp(t *testing.T) {
	cases := map[[2]int]int{
		{997, 24}: 42,
		{18, 12}:  2,
		{6, 12}:   1,
		{5, 12}:   0,
		{0, 12}:   0,
		{120, 0}:  10,
	}
	for in, want := range cases {
		if got := MonthlyEquivalent(in[0], in[1]); got != want {
			t.Fatalf("MonthlyEquivalent(%d, %d) = %d, want %d", in[0], in[1], got, want)
		}
	}
}
