package repositories

import (
	"context"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CheckoutSessionStore persists checkout sessions across provider redirects and back-navigation.
// Save merges the patch into the stored session and returns the merged result.
type CheckoutSessionStore interface {
	Create(ctx context.Context, session domain.CheckoutSession) error
	Load(ctx context.Context, sessionID string) (domain.CheckoutSession, error)
	Save(ctx context.Context, sessionID string, patch domain.CheckoutSessionPatch) (domain.CheckoutSession, error)
	Clear(ctx context.Context, sessionID string) error
}

// OrderRepository stores the order records created by checkout and answers duplicate lookups.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Get(ctx context.Context, reference string) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) error
	// FindRecentByEmail returns non-cancelled orders for the email created at or after since, newest first.
	FindRecentByEmail(ctx context.Context, email string, since time.Time) ([]domain.Order, error)
	// FindActiveByPlate returns active orders covering the registration.
	FindActiveByPlate(ctx context.Context, plate string) ([]domain.Order, error)
}

// DiscountCodeRepository exposes discount definitions and per-email redemptions.
type DiscountCodeRepository interface {
	Get(ctx context.Context, code string) (domain.DiscountCode, error)
	HasRedemption(ctx context.Context, code, email string) (bool, error)
	RecordRedemption(ctx context.Context, redemption domain.DiscountRedemption) error
}

// HealthRepository reports readiness of infrastructure dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
