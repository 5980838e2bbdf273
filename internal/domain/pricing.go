package domain

import "sort"

// RatingSelection holds the rated inputs chosen by the customer. Together with the vehicle class
// they are the only keys into the base price table.
type RatingSelection struct {
	DurationMonths  int
	VoluntaryExcess int
	ClaimLimit      int
}

// DurationYears returns the cover length in whole years, at least one.
func (r RatingSelection) DurationYears() int {
	years := r.DurationMonths / 12
	if years < 1 {
		return 1
	}
	return years
}

// AddOnKey identifies optional supplementary cover.
type AddOnKey string

const (
	AddOnBreakdownRecovery AddOnKey = "breakdown_recovery"
	AddOnMOTFeeCover       AddOnKey = "mot_fee_cover"
	AddOnTyreCover         AddOnKey = "tyre_cover"
	AddOnWearAndTear       AddOnKey = "wear_and_tear"
	AddOnEuropeanCover     AddOnKey = "european_cover"
	AddOnTransferCover     AddOnKey = "transfer_cover"
)

// AddOnSelection maps add-on keys to whether the customer ticked them for one cart item.
type AddOnSelection map[AddOnKey]bool

// Selected returns the ticked keys in a stable order.
func (s AddOnSelection) Selected() []AddOnKey {
	keys := make([]AddOnKey, 0, len(s))
	for key, on := range s {
		if on {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Adjustment is the vehicle loading applied on top of the table price.
type Adjustment struct {
	Percent int
	Fixed   int
	Reasons []string
}

// IsZero reports whether the adjustment leaves the price unchanged.
func (a Adjustment) IsZero() bool {
	return a.Percent == 0 && a.Fixed == 0
}

// AddOnLine is one add-on as rendered on an order summary.
type AddOnLine struct {
	Key       AddOnKey
	Label     string
	Cost      int
	Recurring bool
	Selected  bool
	Included  bool
}

// Installments splits the total into a front-loaded first payment and equal standard payments.
type Installments struct {
	Count    int
	First    int
	Standard int
}

// PriceBreakdown is the authoritative, whole-pound price of one cart item.
type PriceBreakdown struct {
	TableBasePrice    int
	Adjustment        Adjustment
	BasePrice         int
	AddOnTotal        int
	OneTimeAddOnTotal int
	TotalPrice        int
	MonthlyEquivalent int
	Installments      Installments
	Savings           int
	SavingsMessage    string
	AddOns            []AddOnLine
}

// QuoteOption is one cell of the duration by claim limit price grid.
type QuoteOption struct {
	PlanName          string
	DurationMonths    int
	ClaimLimit        int
	TotalPrice        int
	MonthlyEquivalent int
	Savings           int
	SavingsMessage    string
}
