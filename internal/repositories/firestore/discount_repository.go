package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
	pfirestore "github.com/motorshield/warranty-api/internal/platform/firestore"
	"github.com/motorshield/warranty-api/internal/repositories"
)

const (
	discountCodeCollection       = "discountCodes"
	discountRedemptionCollection = "discountRedemptions"
)

// DiscountCodeRepository reads discount definitions and records per-email redemptions.
type DiscountCodeRepository struct {
	codes       *pfirestore.Collection[discountCodeDocument]
	redemptions *pfirestore.Collection[redemptionDocument]
}

var _ repositories.DiscountCodeRepository = (*DiscountCodeRepository)(nil)

// NewDiscountCodeRepository constructs the Firestore-backed discount repository.
func NewDiscountCodeRepository(provider *pfirestore.Provider) (*DiscountCodeRepository, error) {
	if provider == nil {
		return nil, errors.New("discount code repository requires firestore provider")
	}
	return &DiscountCodeRepository{
		codes:       pfirestore.NewCollection[discountCodeDocument](provider, discountCodeCollection),
		redemptions: pfirestore.NewCollection[redemptionDocument](provider, discountRedemptionCollection),
	}, nil
}

// Get loads a code definition. Codes are stored under their uppercase form.
func (r *DiscountCodeRepository) Get(ctx context.Context, code string) (domain.DiscountCode, error) {
	id := strings.ToUpper(strings.TrimSpace(code))
	snap, err := r.codes.Get(ctx, id)
	if err != nil {
		return domain.DiscountCode{}, err
	}
	doc := snap.Data
	return domain.DiscountCode{
		Code:              snap.ID,
		Kind:              domain.DiscountKind(doc.Kind),
		Value:             doc.Value,
		MinOrderAmount:    doc.MinOrderAmount,
		Active:            doc.Active,
		SingleUsePerEmail: doc.SingleUsePerEmail,
		StartsAt:          doc.StartsAt.UTC(),
		EndsAt:            doc.EndsAt.UTC(),
		CreatedAt:         doc.CreatedAt.UTC(),
		UpdatedAt:         doc.UpdatedAt.UTC(),
	}, nil
}

// HasRedemption reports whether the email has already redeemed the code.
func (r *DiscountCodeRepository) HasRedemption(ctx context.Context, code, email string) (bool, error) {
	_, err := r.redemptions.Get(ctx, redemptionID(code, email))
	if err == nil {
		return true, nil
	}
	if repositories.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// RecordRedemption stores the redemption. A repeat for the same code and email is a conflict.
func (r *DiscountCodeRepository) RecordRedemption(ctx context.Context, redemption domain.DiscountRedemption) error {
	return r.redemptions.Create(ctx, redemptionID(redemption.Code, redemption.Email), redemptionDocument{
		Code:       strings.ToUpper(strings.TrimSpace(redemption.Code)),
		Email:      normaliseEmail(redemption.Email),
		OrderRef:   redemption.OrderRef,
		RedeemedAt: redemption.RedeemedAt.UTC(),
	})
}

type discountCodeDocument struct {
	Kind              string    `firestore:"kind"`
	Value             int       `firestore:"value"`
	MinOrderAmount    int       `firestore:"minOrderAmount"`
	Active            bool      `firestore:"active"`
	SingleUsePerEmail bool      `firestore:"singleUsePerEmail"`
	StartsAt          time.Time `firestore:"startsAt"`
	EndsAt            time.Time `firestore:"endsAt"`
	CreatedAt         time.Time `firestore:"createdAt"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

type redemptionDocument struct {
	Code       string    `firestore:"code"`
	Email      string    `firestore:"email"`
	OrderRef   string    `firestore:"orderRef"`
	RedeemedAt time.Time `firestore:"redeemedAt"`
}

// redemptionID keys redemptions by code and hashed email; emails are not valid document ids.
func redemptionID(code, email string) string {
	sum := sha256.Sum256([]byte(normaliseEmail(email)))
	return strings.ToUpper(strings.TrimSpace(code)) + "_" + hex.EncodeToString(sum[:12])
}
