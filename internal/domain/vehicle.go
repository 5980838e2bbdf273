package domain

import (
	"strings"
	"time"
)

// MaxVehicleAgeYears is the oldest vehicle that can be quoted.
const MaxVehicleAgeYears = 15

// VehicleClass selects the price table used for a vehicle.
type VehicleClass string

const (
	// VehicleClassCar covers cars, vans, EV, PHEV and hybrid vehicles.
	VehicleClassCar VehicleClass = "car"
	// VehicleClassMotorbike covers motorcycles and scooters, priced from the special table.
	VehicleClassMotorbike VehicleClass = "motorbike"
)

// IsValid reports whether the class is one of the priced classes.
func (c VehicleClass) IsValid() bool {
	return c == VehicleClassCar || c == VehicleClassMotorbike
}

// FuelCategory groups vehicles for policy wording documents. It never affects price.
type FuelCategory string

const (
	FuelCategoryPetrolDiesel FuelCategory = "petrol_diesel"
	FuelCategoryElectric     FuelCategory = "electric"
	FuelCategoryHybrid       FuelCategory = "hybrid"
)

// VehicleProfile describes the vehicle being quoted. It is treated as immutable once a quote exists.
type VehicleProfile struct {
	RegNumber string
	Mileage   int
	Make      string
	Model     string
	Year      int
	FuelType  string
	Class     VehicleClass
}

// Age returns the vehicle age in whole years at the supplied time. Unknown years report zero.
func (v VehicleProfile) Age(now time.Time) int {
	if v.Year <= 0 {
		return 0
	}
	age := now.Year() - v.Year
	if age < 0 {
		return 0
	}
	return age
}

// FuelCategory returns the document bucket for the vehicle fuel type.
func (v VehicleProfile) FuelCategory() FuelCategory {
	return FuelCategoryFor(v.FuelType)
}

// NormalizeRegistration uppercases a registration and strips whitespace.
func NormalizeRegistration(reg string) string {
	var b strings.Builder
	b.Grow(len(reg))
	for _, r := range strings.ToUpper(reg) {
		if r == ' ' || r == '\t' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ClassifyVehicle maps a lookup class or body type onto a priced class.
// Electric, plug-in and hybrid vehicles share car pricing.
func ClassifyVehicle(raw string) VehicleClass {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "motorbike", "motorcycle", "moped", "scooter":
		return VehicleClassMotorbike
	default:
		return VehicleClassCar
	}
}

// FuelCategoryFor maps a free-form fuel type onto a document bucket.
func FuelCategoryFor(fuelType string) FuelCategory {
	fuel := strings.ToLower(strings.TrimSpace(fuelType))
	switch {
	case fuel == "":
		return FuelCategoryPetrolDiesel
	case strings.Contains(fuel, "hybrid"), strings.Contains(fuel, "phev"), strings.Contains(fuel, "plug-in"):
		return FuelCategoryHybrid
	case strings.Contains(fuel, "electric"), fuel == "ev", fuel == "bev":
		return FuelCategoryElectric
	default:
		return FuelCategoryPetrolDiesel
	}
}
