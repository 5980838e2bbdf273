package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidInput signals malformed request data such as an empty cart or unknown payment method.
	ErrInvalidInput = errors.New("checkout: invalid input")
	// ErrVehicleIneligible indicates the vehicle cannot be quoted at all.
	ErrVehicleIneligible = errors.New("pricing: vehicle ineligible")
	// ErrDuplicateOrder indicates a recent order already exists for the customer email.
	ErrDuplicateOrder = errors.New("checkout: duplicate order")
	// ErrCheckoutInProgress is returned when a submit for the same session is already running.
	ErrCheckoutInProgress = errors.New("checkout: already in progress")
	// ErrSessionNotFound indicates the checkout session does not exist or has expired.
	ErrSessionNotFound = errors.New("checkout: session not found")
	// ErrSessionCompleted indicates the session reached its terminal state and cannot change.
	ErrSessionCompleted = errors.New("checkout: session already completed")
	// ErrProviderHardError wraps unexpected provider or network failures. Checkout stays retryable.
	ErrProviderHardError = errors.New("checkout: payment provider error")
	// ErrVehicleLookupFailed indicates the registration lookup could not be completed.
	ErrVehicleLookupFailed = errors.New("quote: vehicle lookup failed")
)

// ValidationError carries field level problems found while validating customer input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "checkout: validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("checkout: validation failed for %s", strings.Join(names, ", "))
}

// Unwrap lets callers match ValidationError with errors.Is(err, ErrInvalidInput).
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// IneligibilityReason names the rule a vehicle failed.
type IneligibilityReason string

const (
	IneligibleTooOld         IneligibilityReason = "vehicle_too_old"
	IneligibleMileageTooHigh IneligibilityReason = "mileage_too_high"
	IneligibleLookupRejected IneligibilityReason = "lookup_rejected"
)

// IneligibilityError is fatal to a quote and must not be retried.
type IneligibilityError struct {
	Reason  IneligibilityReason
	Message string
}

func (e *IneligibilityError) Error() string {
	if e == nil {
		return ErrVehicleIneligible.Error()
	}
	return fmt.Sprintf("%s: %s", ErrVehicleIneligible.Error(), e.Message)
}

func (e *IneligibilityError) Unwrap() error { return ErrVehicleIneligible }

// DuplicateOrderError references the order that blocked the attempt.
type DuplicateOrderError struct {
	Reference string
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("%s: an order (%s) was placed for this email in the last few minutes", ErrDuplicateOrder.Error(), e.Reference)
}

func (e *DuplicateOrderError) Unwrap() error { return ErrDuplicateOrder }
