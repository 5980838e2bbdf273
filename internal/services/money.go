package services

import (
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var gbPrinter = message.NewPrinter(language.BritishEnglish)

// roundDiv divides and rounds half up. Negative numerators clamp to zero since prices never go below it.
func roundDiv(numerator, denominator int) int {
	if denominator <= 0 || numerator <= 0 {
		return 0
	}
	return (2*numerator + denominator) / (2 * denominator)
}

// MonthlyEquivalent spreads the total evenly across the cover, rounded half up to whole pounds.
func MonthlyEquivalent(total, months int) int {
	if months <= 0 {
		months = fallbackDuration
	}
	return roundDiv(total, months)
}

// FormatPounds renders a whole pound amount with UK digit grouping, e.g. £1,259.
func FormatPounds(amount int) string {
	return gbPrinter.Sprintf("£%d", amount)
}

func savingsMessage(savings int) string {
	if savings <= 0 {
		return "No saving"
	}
	return gbPrinter.Sprintf("Save %s compared with paying for a 12 month plan", FormatPounds(savings))
}

func itoa(v int) string { return strconv.Itoa(v) }
