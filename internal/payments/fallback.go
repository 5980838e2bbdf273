package payments

import domain "github.com/motorshield/warranty-api/internal/domain"

var fallbackMessages = map[domain.FallbackReason]string{
	domain.FallbackMissingCredentials: "Monthly payments are temporarily unavailable. You can still buy your warranty by paying in full by card.",
	domain.FallbackNoCustomerData:     "We could not start a monthly payment application with the details provided. You can pay in full by card instead.",
	domain.FallbackCreditCheckFailed:  "Unfortunately the finance provider could not approve monthly payments. You can pay in full by card instead.",
	domain.FallbackError:              "Something went wrong setting up monthly payments. You can pay in full by card instead.",
}

// FallbackMessage returns the customer-facing explanation for a fallback reason.
func FallbackMessage(reason domain.FallbackReason) string {
	if msg, ok := fallbackMessages[reason]; ok {
		return msg
	}
	return fallbackMessages[domain.FallbackError]
}

// NormalizeFallbackReason maps provider supplied reason strings onto the known set.
func NormalizeFallbackReason(raw string) domain.FallbackReason {
	switch domain.FallbackReason(raw) {
	case domain.FallbackMissingCredentials, domain.FallbackNoCustomerData, domain.FallbackCreditCheckFailed:
		return domain.FallbackReason(raw)
	case "declined", "credit_declined", "credit_check":
		return domain.FallbackCreditCheckFailed
	default:
		return domain.FallbackError
	}
}
