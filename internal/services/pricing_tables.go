package services

import "github.com/motorshield/warranty-api/internal/domain"

const (
	fallbackDuration   = 12
	fallbackExcess     = 0
	fallbackClaimLimit = 1250
)

// priceTable is keyed by duration in months, then voluntary excess, then claim limit.
type priceTable map[int]map[int]map[int]int

var standardPriceTable = priceTable{
	12: {
		0:   {750: 399, 1250: 479, 2000: 599},
		50:  {750: 379, 1250: 459, 2000: 569},
		100: {750: 359, 1250: 439, 2000: 549},
		150: {750: 339, 1250: 419, 2000: 529},
	},
	24: {
		0:   {750: 749, 1250: 899, 2000: 1099},
		50:  {750: 727, 1250: 877, 2000: 1069},
		100: {750: 705, 1250: 855, 2000: 1039},
		150: {750: 683, 1250: 833, 2000: 1009},
	},
	36: {
		0:   {750: 1049, 1250: 1259, 2000: 1549},
		50:  {750: 1019, 1250: 1229, 2000: 1509},
		100: {750: 989, 1250: 1199, 2000: 1469},
		150: {750: 959, 1250: 1169, 2000: 1429},
	},
}

// specialPriceTable prices motorbikes, whose parts cost more to source.
var specialPriceTable = priceTable{
	12: {
		0:   {750: 459, 1250: 551, 2000: 689},
		50:  {750: 436, 1250: 528, 2000: 654},
		100: {750: 413, 1250: 505, 2000: 631},
		150: {750: 390, 1250: 482, 2000: 608},
	},
	24: {
		0:   {750: 861, 1250: 1034, 2000: 1264},
		50:  {750: 836, 1250: 1009, 2000: 1229},
		100: {750: 811, 1250: 983, 2000: 1195},
		150: {750: 785, 1250: 958, 2000: 1160},
	},
	36: {
		0:   {750: 1206, 1250: 1448, 2000: 1781},
		50:  {750: 1172, 1250: 1413, 2000: 1735},
		100: {750: 1137, 1250: 1379, 2000: 1689},
		150: {750: 1103, 1250: 1344, 2000: 1643},
	},
}

// Durations lists the cover lengths on sale, shortest first.
var Durations = []int{12, 24, 36}

// ClaimLimits lists the per-claim limits on sale, lowest first.
var ClaimLimits = []int{750, 1250, 2000}

// ComputeBasePrice looks up the table price. Unknown excess and claim limit values resolve to the
// 0 row and 1250 column; an unknown duration resolves to the 12 month table. It never fails.
func ComputeBasePrice(class domain.VehicleClass, durationMonths, excess, claimLimit int) int {
	table := standardPriceTable
	if class == domain.VehicleClassMotorbike {
		table = specialPriceTable
	}

	byExcess, ok := table[durationMonths]
	if !ok {
		byExcess = table[fallbackDuration]
	}
	byLimit, ok := byExcess[excess]
	if !ok {
		byLimit = byExcess[fallbackExcess]
	}
	price, ok := byLimit[claimLimit]
	if !ok {
		price = byLimit[fallbackClaimLimit]
	}
	return price
}

// PlanName labels a rating, e.g. "Gold 24 Month".
func PlanName(rating domain.RatingSelection) string {
	tier := "Gold"
	switch rating.ClaimLimit {
	case 750:
		tier = "Basic"
	case 2000:
		tier = "Platinum"
	}
	months := rating.DurationMonths
	if _, ok := standardPriceTable[months]; !ok {
		months = fallbackDuration
	}
	return tier + " " + itoa(months) + " Month"
}
