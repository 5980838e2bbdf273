package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/repositories"
)

// DiscountValidator checks a code against the order amount. A returned error means the check
// itself could not run; an invalid code is reported through DiscountValidation.Valid.
type DiscountValidator interface {
	Validate(ctx context.Context, code, email string, orderAmount int) (domain.DiscountValidation, error)
	IsAutomatic(code string) bool
	Redeem(ctx context.Context, code, email, orderRef string) error
}

// DiscountServiceDeps configures the discount service.
type DiscountServiceDeps struct {
	Codes repositories.DiscountCodeRepository
	// AutoDiscounts maps link codes to percentages applied without a repository lookup.
	AutoDiscounts map[string]int
	Now           func() time.Time
	Logger        func(context.Context, string, map[string]any)
}

// DiscountService validates stored and automatic discount codes.
type DiscountService struct {
	codes  repositories.DiscountCodeRepository
	auto   map[string]int
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

var _ DiscountValidator = (*DiscountService)(nil)

// NewDiscountService constructs the discount service.
func NewDiscountService(deps DiscountServiceDeps) (*DiscountService, error) {
	if deps.Codes == nil {
		return nil, errors.New("discount service: code repository is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	auto := make(map[string]int, len(deps.AutoDiscounts))
	for code, percent := range deps.AutoDiscounts {
		if percent > 0 && percent < 100 {
			auto[normaliseCode(code)] = percent
		}
	}
	return &DiscountService{
		codes:  deps.Codes,
		auto:   auto,
		now:    func() time.Time { return now().UTC() },
		logger: logger,
	}, nil
}

// IsAutomatic reports whether the code is a link discount applied without a lookup.
func (s *DiscountService) IsAutomatic(code string) bool {
	_, ok := s.auto[normaliseCode(code)]
	return ok
}

// Validate evaluates the code for the customer and order amount.
func (s *DiscountService) Validate(ctx context.Context, code, email string, orderAmount int) (domain.DiscountValidation, error) {
	code = normaliseCode(code)
	result := domain.DiscountValidation{Code: code, FinalAmount: orderAmount, CheckedAt: s.now()}
	if code == "" {
		result.Message = "Enter a discount code"
		return result, nil
	}

	if percent, ok := s.auto[code]; ok {
		result.Automatic = true
		return applyDiscount(result, orderAmount, roundDiv(orderAmount*percent, 100)), nil
	}

	stored, err := s.codes.Get(ctx, code)
	if err != nil {
		if repositories.IsNotFound(err) {
			result.Message = "This discount code is not recognised"
			return result, nil
		}
		s.logger(ctx, "discount.lookup_failed", map[string]any{"code": code, "error": err.Error()})
		return result, err
	}

	now := s.now()
	switch {
	case !stored.Active:
		result.Message = "This discount code is no longer active"
		return result, nil
	case !stored.StartsAt.IsZero() && now.Before(stored.StartsAt):
		result.Message = "This discount code is not valid yet"
		return result, nil
	case !stored.EndsAt.IsZero() && !now.Before(stored.EndsAt):
		result.Message = "This discount code has expired"
		return result, nil
	case stored.MinOrderAmount > 0 && orderAmount < stored.MinOrderAmount:
		result.Message = "Orders must be at least " + FormatPounds(stored.MinOrderAmount) + " to use this code"
		return result, nil
	}

	if stored.SingleUsePerEmail && strings.TrimSpace(email) != "" {
		used, err := s.codes.HasRedemption(ctx, code, email)
		if err != nil {
			return result, err
		}
		if used {
			result.Message = "This discount code has already been used"
			return result, nil
		}
	}

	var amount int
	switch stored.Kind {
	case domain.DiscountKindPercent:
		amount = roundDiv(orderAmount*stored.Value, 100)
	case domain.DiscountKindFixed:
		amount = stored.Value
	default:
		result.Message = "This discount code cannot be applied"
		return result, nil
	}
	return applyDiscount(result, orderAmount, amount), nil
}

// Redeem records use of a stored single-use code once the order completes. Automatic and unknown
// codes are ignored; a repeat redemption is not an error.
func (s *DiscountService) Redeem(ctx context.Context, code, email, orderRef string) error {
	code = normaliseCode(code)
	if code == "" || s.IsAutomatic(code) {
		return nil
	}
	stored, err := s.codes.Get(ctx, code)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !stored.SingleUsePerEmail {
		return nil
	}
	err = s.codes.RecordRedemption(ctx, domain.DiscountRedemption{
		Code:       code,
		Email:      strings.ToLower(strings.TrimSpace(email)),
		OrderRef:   orderRef,
		RedeemedAt: s.now(),
	})
	if repositories.IsConflict(err) {
		return nil
	}
	return err
}

func applyDiscount(result domain.DiscountValidation, orderAmount, amount int) domain.DiscountValidation {
	if amount > orderAmount {
		amount = orderAmount
	}
	if amount <= 0 {
		result.Message = "This discount code does not reduce your order"
		return result
	}
	result.Valid = true
	result.DiscountAmount = amount
	result.FinalAmount = orderAmount - amount
	result.Message = FormatPounds(amount) + " discount applied"
	return result
}

func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
