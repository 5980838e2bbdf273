package domain

import (
	"time"
)

// PaymentMethod identifies which payment provider settles a checkout.
type PaymentMethod string

const (
	// PaymentMethodInstallments spreads the policy price over monthly credit payments.
	PaymentMethodInstallments PaymentMethod = "installments"
	// PaymentMethodCard charges the full price upfront by card.
	PaymentMethodCard PaymentMethod = "card"
)

// IsValid reports whether the payment method is supported.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodInstallments, PaymentMethodCard:
		return true
	default:
		return false
	}
}

// Customer holds the contact and address fields captured during checkout.
type Customer struct {
	Title        string
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	AddressLine1 string
	AddressLine2 string
	Town         string
	Postcode     string
}

// CartItem is one priced policy inside a checkout cart.
type CartItem struct {
	ID       string
	Vehicle  VehicleProfile
	Rating   RatingSelection
	AddOns   AddOnSelection
	Price    PriceBreakdown
	PlanName string
}

// Cart is the ordered list of policies being purchased together. Order is display only.
type Cart struct {
	Items []CartItem
}

// Subtotal sums the total price of every item.
func (c Cart) Subtotal() int {
	total := 0
	for _, item := range c.Items {
		total += item.Price.TotalPrice
	}
	return total
}

// Plates returns the normalised registration of every item, in cart order.
func (c Cart) Plates() []string {
	plates := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		if item.Vehicle.RegNumber == "" {
			continue
		}
		plates = append(plates, item.Vehicle.RegNumber)
	}
	return plates
}

// DiscountValidation is the outcome of checking a discount code against the cart subtotal.
type DiscountValidation struct {
	Code           string
	Valid          bool
	DiscountAmount int
	FinalAmount    int
	Message        string
	Automatic      bool
	CheckedAt      time.Time
}

// DiscountKind distinguishes percentage codes from fixed amount codes.
type DiscountKind string

const (
	// DiscountKindPercent reduces the order by a percentage of the subtotal.
	DiscountKindPercent DiscountKind = "percent"
	// DiscountKindFixed reduces the order by a whole pound amount.
	DiscountKindFixed DiscountKind = "fixed"
)

// DiscountCode is a stored, redeemable discount definition.
type DiscountCode struct {
	Code              string
	Kind              DiscountKind
	Value             int
	MinOrderAmount    int
	Active            bool
	SingleUsePerEmail bool
	StartsAt          time.Time
	EndsAt            time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DiscountRedemption records that an email has used a discount code.
type DiscountRedemption struct {
	Code       string
	Email      string
	OrderRef   string
	RedeemedAt time.Time
}

// OrderStatus tracks the lifecycle of a policy order.
type OrderStatus string

const (
	// OrderStatusPending marks an order created ahead of provider submission.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusActive marks a paid order with live cover.
	OrderStatusActive OrderStatus = "active"
	// OrderStatusCancelled marks a withdrawn or expired order.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is the terminal artefact of a successful checkout.
type Order struct {
	Reference     string
	SessionID     string
	Email         string
	Plates        []string
	Status        OrderStatus
	PaymentMethod PaymentMethod
	Amount        int
	DiscountCode  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// PlateConflict reports a registration already covered by an active order for another email.
type PlateConflict struct {
	Plate          string
	OrderReference string
}

// AbandonedCartRecord is the snapshot emitted per cart item when a checkout is attempted.
type AbandonedCartRecord struct {
	SessionID  string
	ItemID     string
	Email      string
	Phone      string
	Name       string
	RegNumber  string
	Mileage    int
	PlanName   string
	Rating     RatingSelection
	AddOns     []AddOnKey
	TotalPrice int
	RecordedAt time.Time
}
