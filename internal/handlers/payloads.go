package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/services"
)

type vehiclePayload struct {
	Registration string `json:"registration"`
	Mileage      int    `json:"mileage"`
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	Year         int    `json:"year,omitempty"`
	FuelType     string `json:"fuelType,omitempty"`
	Class        string `json:"vehicleClass,omitempty"`
}

func (p vehiclePayload) profile() domain.VehicleProfile {
	return domain.VehicleProfile{
		RegNumber: p.Registration,
		Mileage:   p.Mileage,
		Make:      strings.TrimSpace(p.Make),
		Model:     strings.TrimSpace(p.Model),
		Year:      p.Year,
		FuelType:  strings.TrimSpace(p.FuelType),
		Class:     domain.ClassifyVehicle(p.Class),
	}
}

func newVehiclePayload(v domain.VehicleProfile) vehiclePayload {
	return vehiclePayload{
		Registration: v.RegNumber,
		Mileage:      v.Mileage,
		Make:         v.Make,
		Model:        v.Model,
		Year:         v.Year,
		FuelType:     v.FuelType,
		Class:        string(v.Class),
	}
}

type ratingPayload struct {
	DurationMonths  int `json:"durationMonths"`
	VoluntaryExcess int `json:"voluntaryExcess"`
	ClaimLimit      int `json:"claimLimit"`
}

func (p ratingPayload) selection() domain.RatingSelection {
	return domain.RatingSelection{
		DurationMonths:  p.DurationMonths,
		VoluntaryExcess: p.VoluntaryExcess,
		ClaimLimit:      p.ClaimLimit,
	}
}

func newRatingPayload(r domain.RatingSelection) ratingPayload {
	return ratingPayload{DurationMonths: r.DurationMonths, VoluntaryExcess: r.VoluntaryExcess, ClaimLimit: r.ClaimLimit}
}

// parseAddOns rejects keys that are not in the add-on catalogue.
func parseAddOns(keys []string) (domain.AddOnSelection, error) {
	selection := make(domain.AddOnSelection, len(keys))
	for _, raw := range keys {
		key := domain.AddOnKey(strings.ToLower(strings.TrimSpace(raw)))
		if key == "" {
			continue
		}
		if _, ok := services.LookupAddOn(key); !ok {
			return nil, &services.ValidationError{Fields: map[string]string{"addOns": fmt.Sprintf("Unknown add-on %q", raw)}}
		}
		selection[key] = true
	}
	return selection, nil
}

func addOnKeys(selection domain.AddOnSelection) []string {
	selected := selection.Selected()
	keys := make([]string, 0, len(selected))
	for _, key := range selected {
		keys = append(keys, string(key))
	}
	return keys
}

type installmentsPayload struct {
	Count    int `json:"count"`
	First    int `json:"first"`
	Standard int `json:"standard"`
}

type addOnLinePayload struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Cost      int    `json:"cost"`
	Recurring bool   `json:"recurring"`
	Selected  bool   `json:"selected"`
	Included  bool   `json:"included"`
}

type adjustmentPayload struct {
	Percent int      `json:"percent"`
	Fixed   int      `json:"fixed"`
	Reasons []string `json:"reasons,omitempty"`
}

type breakdownPayload struct {
	BasePrice         int                 `json:"basePrice"`
	Adjustment        *adjustmentPayload  `json:"adjustment,omitempty"`
	AddOnTotal        int                 `json:"addOnTotal"`
	OneTimeAddOnTotal int                 `json:"oneTimeAddOnTotal"`
	TotalPrice        int                 `json:"totalPrice"`
	MonthlyEquivalent int                 `json:"monthlyEquivalent"`
	Installments      installmentsPayload `json:"installments"`
	Savings           int                 `json:"savings,omitempty"`
	SavingsMessage    string              `json:"savingsMessage,omitempty"`
	AddOns            []addOnLinePayload  `json:"addOns"`
}

func newBreakdownPayload(b domain.PriceBreakdown) breakdownPayload {
	payload := breakdownPayload{
		BasePrice:         b.BasePrice,
		AddOnTotal:        b.AddOnTotal,
		OneTimeAddOnTotal: b.OneTimeAddOnTotal,
		TotalPrice:        b.TotalPrice,
		MonthlyEquivalent: b.MonthlyEquivalent,
		Installments: installmentsPayload{
			Count:    b.Installments.Count,
			First:    b.Installments.First,
			Standard: b.Installments.Standard,
		},
		Savings:        b.Savings,
		SavingsMessage: b.SavingsMessage,
		AddOns:         make([]addOnLinePayload, 0, len(b.AddOns)),
	}
	if !b.Adjustment.IsZero() {
		payload.Adjustment = &adjustmentPayload{Percent: b.Adjustment.Percent, Fixed: b.Adjustment.Fixed, Reasons: b.Adjustment.Reasons}
	}
	for _, line := range b.AddOns {
		payload.AddOns = append(payload.AddOns, addOnLinePayload{
			Key:       string(line.Key),
			Label:     line.Label,
			Cost:      line.Cost,
			Recurring: line.Recurring,
			Selected:  line.Selected,
			Included:  line.Included,
		})
	}
	return payload
}

type customerPayload struct {
	Title        string `json:"title"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2"`
	Town         string `json:"town"`
	Postcode     string `json:"postcode"`
}

func (p customerPayload) customer() domain.Customer {
	return domain.Customer(p)
}

func newCustomerPayload(c domain.Customer) customerPayload {
	return customerPayload(c)
}

type cartItemPayload struct {
	ID       string           `json:"id"`
	Vehicle  vehiclePayload   `json:"vehicle"`
	Rating   ratingPayload    `json:"rating"`
	AddOns   []string         `json:"addOns"`
	PlanName string           `json:"planName"`
	Price    breakdownPayload `json:"price"`
}

type discountPayload struct {
	Code           string `json:"code"`
	Valid          bool   `json:"valid"`
	DiscountAmount int    `json:"discountAmount"`
	FinalAmount    int    `json:"finalAmount"`
	Message        string `json:"message,omitempty"`
	Automatic      bool   `json:"automatic,omitempty"`
}

type plateConflictPayload struct {
	Registration   string `json:"registration"`
	OrderReference string `json:"orderReference"`
}

type fallbackPayload struct {
	Reason          string `json:"reason"`
	Message         string `json:"message"`
	AlternateMethod string `json:"alternateMethod,omitempty"`
}

// checkoutPayload is the client view of a session. The internal session id is never exposed.
type checkoutPayload struct {
	Token              string                 `json:"token,omitempty"`
	TokenExpiresAt     string                 `json:"tokenExpiresAt,omitempty"`
	Status             string                 `json:"status"`
	PaymentMethod      string                 `json:"paymentMethod"`
	Customer           customerPayload        `json:"customer"`
	Items              []cartItemPayload      `json:"items"`
	Subtotal           int                    `json:"subtotal"`
	DiscountCode       string                 `json:"discountCode,omitempty"`
	Discount           *discountPayload       `json:"discount,omitempty"`
	OriginalAmount     int                    `json:"originalAmount,omitempty"`
	ChargeAmount       int                    `json:"chargeAmount,omitempty"`
	OrderReference     string                 `json:"orderReference,omitempty"`
	PlateConflicts     []plateConflictPayload `json:"plateConflicts,omitempty"`
	PlatesAcknowledged bool                   `json:"platesAcknowledged"`
	Fallback           *fallbackPayload       `json:"fallback,omitempty"`
	RedirectURL        string                 `json:"redirectUrl,omitempty"`
	FieldErrors        map[string]string      `json:"fieldErrors,omitempty"`
	Message            string                 `json:"message,omitempty"`
	InFlight           bool                   `json:"inFlight"`
	UpdatedAt          string                 `json:"updatedAt,omitempty"`
	CompletedAt        string                 `json:"completedAt,omitempty"`
}

func newCheckoutPayload(session domain.CheckoutSession) checkoutPayload {
	payload := checkoutPayload{
		Status:             string(session.Status),
		PaymentMethod:      string(session.PaymentMethod),
		Customer:           newCustomerPayload(session.Customer),
		Items:              make([]cartItemPayload, 0, len(session.Cart.Items)),
		Subtotal:           session.Cart.Subtotal(),
		DiscountCode:       session.DiscountCode,
		OriginalAmount:     session.OriginalAmount,
		ChargeAmount:       session.ChargeAmount,
		OrderReference:     session.PendingOrderRef,
		PlatesAcknowledged: session.PlatesAcknowledged,
		RedirectURL:        session.RedirectURL,
		FieldErrors:        session.FieldErrors,
		Message:            session.LastError,
		InFlight:           session.InFlight,
		UpdatedAt:          formatTime(session.UpdatedAt),
	}
	for _, item := range session.Cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ID:       item.ID,
			Vehicle:  newVehiclePayload(item.Vehicle),
			Rating:   newRatingPayload(item.Rating),
			AddOns:   addOnKeys(item.AddOns),
			PlanName: item.PlanName,
			Price:    newBreakdownPayload(item.Price),
		})
	}
	if d := session.Discount; d != nil {
		payload.Discount = &discountPayload{
			Code:           d.Code,
			Valid:          d.Valid,
			DiscountAmount: d.DiscountAmount,
			FinalAmount:    d.FinalAmount,
			Message:        d.Message,
			Automatic:      d.Automatic,
		}
	}
	for _, conflict := range session.PlateConflicts {
		payload.PlateConflicts = append(payload.PlateConflicts, plateConflictPayload{
			Registration:   conflict.Plate,
			OrderReference: conflict.OrderReference,
		})
	}
	if f := session.Fallback; f != nil {
		payload.Fallback = &fallbackPayload{Reason: string(f.Reason), Message: f.Message, AlternateMethod: string(f.AlternateMethod)}
	}
	if session.CompletedAt != nil {
		payload.CompletedAt = formatTime(*session.CompletedAt)
	}
	return payload
}

// failedCheckout returns the payload for a session persisted alongside an error, or nil.
func failedCheckout(session domain.CheckoutSession) *checkoutPayload {
	if session.ID == "" {
		return nil
	}
	payload := newCheckoutPayload(session)
	return &payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
