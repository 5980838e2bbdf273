package services

import "github.com/motorshield/warranty-api/internal/domain"

// AddOnRate is the price list entry for one add-on. Exactly one of Monthly and OneTime is set.
type AddOnRate struct {
	Key     domain.AddOnKey
	Label   string
	Monthly int
	OneTime int
}

// Recurring reports whether the add-on is charged per month of cover.
func (r AddOnRate) Recurring() bool { return r.OneTime == 0 }

var addOnCatalog = []AddOnRate{
	{Key: domain.AddOnBreakdownRecovery, Label: "Breakdown recovery", Monthly: 5},
	{Key: domain.AddOnMOTFeeCover, Label: "MOT fee cover", Monthly: 2},
	{Key: domain.AddOnTyreCover, Label: "Tyre cover", Monthly: 4},
	{Key: domain.AddOnWearAndTear, Label: "Wear and tear", Monthly: 6},
	{Key: domain.AddOnEuropeanCover, Label: "European cover", Monthly: 3},
	{Key: domain.AddOnTransferCover, Label: "Transfer cover", OneTime: 30},
}

// AddOnCatalog returns the add-ons on sale in display order.
func AddOnCatalog() []AddOnRate {
	return append([]AddOnRate(nil), addOnCatalog...)
}

// LookupAddOn returns the rate for a key.
func LookupAddOn(key domain.AddOnKey) (AddOnRate, bool) {
	for _, rate := range addOnCatalog {
		if rate.Key == key {
			return rate, true
		}
	}
	return AddOnRate{}, false
}

// IsAutoIncluded reports whether the add-on is bundled free with the rating: MOT fee cover on
// 36 month plans and breakdown recovery at the top claim limit.
func IsAutoIncluded(key domain.AddOnKey, rating domain.RatingSelection) bool {
	switch key {
	case domain.AddOnMOTFeeCover:
		return rating.DurationMonths == 36
	case domain.AddOnBreakdownRecovery:
		return rating.ClaimLimit == 2000
	default:
		return false
	}
}

// AddOnCost is the priced add-on selection of one cart item.
type AddOnCost struct {
	Total     int
	Recurring int
	OneTime   int
	Lines     []domain.AddOnLine
}

// PriceAddOns prices a selection. Recurring add-ons cost rate times months, one-time add-ons are
// charged once, and auto-included add-ons are listed as included at zero cost even when ticked.
// Unknown keys are ignored.
func PriceAddOns(selection domain.AddOnSelection, rating domain.RatingSelection) AddOnCost {
	months := rating.DurationMonths
	if months <= 0 {
		months = fallbackDuration
	}
	var cost AddOnCost
	for _, rate := range addOnCatalog {
		selected := selection[rate.Key]
		included := IsAutoIncluded(rate.Key, rating)
		if !selected && !included {
			continue
		}
		line := domain.AddOnLine{
			Key:       rate.Key,
			Label:     rate.Label,
			Recurring: rate.Recurring(),
			Selected:  selected,
			Included:  included,
		}
		if !included {
			if rate.Recurring() {
				line.Cost = rate.Monthly * months
				cost.Recurring += line.Cost
			} else {
				line.Cost = rate.OneTime
				cost.OneTime += line.Cost
			}
		}
		cost.Lines = append(cost.Lines, line)
	}
	cost.Total = cost.Recurring + cost.OneTime
	return cost
}

// ComputeAddOnTotal returns only the paid add-on cost for the selection.
func ComputeAddOnTotal(selection domain.AddOnSelection, rating domain.RatingSelection) int {
	return PriceAddOns(selection, rating).Total
}

// ComputeInstallments returns the payment plan: standard = round((total - oneTime) / months) and the
// one-time fees are front-loaded into the first payment, never spread across the term.
func ComputeInstallments(total, oneTime, months int) domain.Installments {
	if months <= 0 {
		months = fallbackDuration
	}
	standard := MonthlyEquivalent(total-oneTime, months)
	return domain.Installments{
		Count:    months,
		First:    standard + oneTime,
		Standard: standard,
	}
}
