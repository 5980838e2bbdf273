package services

import (
	"fmt"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
)

// VehicleAdjuster computes the loading applied to a table price for a specific vehicle.
type VehicleAdjuster interface {
	Adjust(vehicle domain.VehicleProfile, durationYears int) domain.Adjustment
}

// VehicleAdjusterFunc adapts a function to VehicleAdjuster.
type VehicleAdjusterFunc func(domain.VehicleProfile, int) domain.Adjustment

func (f VehicleAdjusterFunc) Adjust(vehicle domain.VehicleProfile, durationYears int) domain.Adjustment {
	return f(vehicle, durationYears)
}

// NoAdjustment leaves every price at its table value.
var NoAdjustment VehicleAdjuster = VehicleAdjusterFunc(func(domain.VehicleProfile, int) domain.Adjustment {
	return domain.Adjustment{}
})

// AgeBand loads vehicles whose age at the end of cover is at most MaxAge.
type AgeBand struct {
	MaxAge  int
	Percent int
}

// MileageBand loads vehicles whose current mileage is at most MaxMileage.
type MileageBand struct {
	MaxMileage int
	Percent    int
}

var (
	defaultAgeBands = []AgeBand{
		{MaxAge: 7, Percent: 0},
		{MaxAge: 10, Percent: 10},
		{MaxAge: 13, Percent: 20},
		{MaxAge: domain.MaxVehicleAgeYears + 3, Percent: 30},
	}
	defaultMileageBands = []MileageBand{
		{MaxMileage: 60000, Percent: 0},
		{MaxMileage: 100000, Percent: 10},
		{MaxMileage: 150000, Percent: 20},
	}
)

// BandedAdjuster applies percentage loadings by age at end of cover and by mileage. Bands must be
// sorted ascending; values beyond the last band take the last band's loading.
type BandedAdjuster struct {
	AgeBands     []AgeBand
	MileageBands []MileageBand
	Now          func() time.Time
}

// NewBandedAdjuster returns the adjuster used in production.
func NewBandedAdjuster(now func() time.Time) *BandedAdjuster {
	if now == nil {
		now = time.Now
	}
	return &BandedAdjuster{AgeBands: defaultAgeBands, MileageBands: defaultMileageBands, Now: now}
}

func (a *BandedAdjuster) Adjust(vehicle domain.VehicleProfile, durationYears int) domain.Adjustment {
	var adj domain.Adjustment
	if vehicle.Year > 0 && len(a.AgeBands) > 0 {
		ageAtEnd := vehicle.Age(a.Now()) + durationYears
		band := a.AgeBands[len(a.AgeBands)-1]
		for _, candidate := range a.AgeBands {
			if ageAtEnd <= candidate.MaxAge {
				band = candidate
				break
			}
		}
		if band.Percent != 0 {
			adj.Percent += band.Percent
			adj.Reasons = append(adj.Reasons, fmt.Sprintf("age %d at end of cover (+%d%%)", ageAtEnd, band.Percent))
		}
	}
	if len(a.MileageBands) > 0 {
		band := a.MileageBands[len(a.MileageBands)-1]
		for _, candidate := range a.MileageBands {
			if vehicle.Mileage <= candidate.MaxMileage {
				band = candidate
				break
			}
		}
		if band.Percent != 0 {
			adj.Percent += band.Percent
			adj.Reasons = append(adj.Reasons, fmt.Sprintf("mileage up to %d (+%d%%)", band.MaxMileage, band.Percent))
		}
	}
	return adj
}

// CalculateVehiclePriceAdjustment runs the production banding for the vehicle as of now.
func CalculateVehiclePriceAdjustment(vehicle domain.VehicleProfile, durationYears int, now time.Time) domain.Adjustment {
	return NewBandedAdjuster(func() time.Time { return now }).Adjust(vehicle, durationYears)
}

// ApplyPriceAdjustment loads the base price by the percentage, rounds to whole pounds, then adds the
// fixed amount. The result never drops below zero.
func ApplyPriceAdjustment(base int, adj domain.Adjustment) int {
	price := roundDiv(base*(100+adj.Percent), 100) + adj.Fixed
	if price < 0 {
		return 0
	}
	return price
}

// CheckEligibility rejects vehicles outside insurable bounds. A zero maxMileage disables the mileage rule.
func CheckEligibility(vehicle domain.VehicleProfile, now time.Time, maxMileage int) error {
	if vehicle.Year > 0 && vehicle.Age(now) > domain.MaxVehicleAgeYears {
		return &IneligibilityError{
			Reason:  IneligibleTooOld,
			Message: fmt.Sprintf("vehicles over %d years old cannot be covered", domain.MaxVehicleAgeYears),
		}
	}
	if maxMileage > 0 && vehicle.Mileage > maxMileage {
		return &IneligibilityError{
			Reason:  IneligibleMileageTooHigh,
			Message: fmt.Sprintf("vehicles with more than %s miles cannot be covered", gbPrinter.Sprintf("%d", maxMileage)),
		}
	}
	return nil
}
