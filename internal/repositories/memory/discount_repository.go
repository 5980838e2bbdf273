package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/repositories"
)

// DiscountCodeRepository holds discount codes seeded at construction.
type DiscountCodeRepository struct {
	mu          sync.RWMutex
	codes       map[string]domain.DiscountCode
	redemptions map[string]domain.DiscountRedemption
}

var _ repositories.DiscountCodeRepository = (*DiscountCodeRepository)(nil)

// NewDiscountCodeRepository seeds the repository with the given codes.
func NewDiscountCodeRepository(codes ...domain.DiscountCode) *DiscountCodeRepository {
	repo := &DiscountCodeRepository{
		codes:       make(map[string]domain.DiscountCode, len(codes)),
		redemptions: make(map[string]domain.DiscountRedemption),
	}
	for _, code := range codes {
		code.Code = strings.ToUpper(strings.TrimSpace(code.Code))
		repo.codes[code.Code] = code
	}
	return repo
}

func (r *DiscountCodeRepository) Get(_ context.Context, code string) (domain.DiscountCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found, ok := r.codes[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return domain.DiscountCode{}, repositories.NewNotFoundError("discounts.get", "discount code")
	}
	return found, nil
}

func (r *DiscountCodeRepository) HasRedemption(_ context.Context, code, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.redemptions[redemptionKey(code, email)]
	return ok, nil
}

func (r *DiscountCodeRepository) RecordRedemption(_ context.Context, redemption domain.DiscountRedemption) error {
	key := redemptionKey(redemption.Code, redemption.Email)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.redemptions[key]; ok {
		return repositories.NewConflictError("discounts.redeem", "redemption")
	}
	r.redemptions[key] = redemption
	return nil
}

func redemptionKey(code, email string) string {
	return strings.ToUpper(strings.TrimSpace(code)) + "|" + strings.ToLower(strings.TrimSpace(email))
}
