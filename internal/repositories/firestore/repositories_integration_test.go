//go:build integration

package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/platform/config"
	pfirestore "github.com/motorshield/warranty-api/internal/platform/firestore"
	"github.com/motorshield/warranty-api/internal/repositories"
)

func emulator(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "warranty-it", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func TestCheckoutSessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := NewCheckoutSessionStore(emulator(t), WithSessionTTL(time.Hour))
	require.NoError(t, err)

	id := ulid.Make().String()
	session := domain.CheckoutSession{
		ID:            id,
		Customer:      domain.Customer{FirstName: "Ada", Email: "Ada@Example.com"},
		PaymentMethod: domain.PaymentMethodCard,
		Status:        domain.CheckoutStatusIdle,
		Cart: domain.Cart{Items: []domain.CartItem{{
			ID:      "item-1",
			Vehicle: domain.VehicleProfile{RegNumber: "AB12CDE", Class: domain.VehicleClassCar},
			Rating:  domain.RatingSelection{DurationMonths: 24, VoluntaryExcess: 50, ClaimLimit: 1250},
			AddOns:  domain.AddOnSelection{domain.AddOnTyreCover: true},
			Price:   domain.PriceBreakdown{TotalPrice: 997},
		}}},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, session))
	assert.True(t, repositories.IsConflict(store.Create(ctx, session)))

	status := domain.CheckoutStatusValidating
	inFlight := true
	saved, err := store.Save(ctx, id, domain.CheckoutSessionPatch{Status: &status, InFlight: &inFlight})
	require.NoError(t, err)
	assert.Equal(t, status, saved.Status)
	assert.Equal(t, "Ada", saved.Customer.FirstName)

	loaded, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, loaded.InFlight)
	require.Len(t, loaded.Cart.Items, 1)
	assert.Equal(t, 997, loaded.Cart.Items[0].Price.TotalPrice)
	assert.True(t, loaded.Cart.Items[0].AddOns[domain.AddOnTyreCover])

	require.NoError(t, store.Clear(ctx, id))
	_, err = store.Load(ctx, id)
	assert.True(t, repositories.IsNotFound(err))
}

func TestOrderRepositoryDuplicateQueries(t *testing.T) {
	ctx := context.Background()
	repo, err := NewOrderRepository(emulator(t))
	require.NoError(t, err)

	email := ulid.Make().String() + "@example.com"
	now := time.Now().UTC()
	ref := "WR-" + ulid.Make().String()
	require.NoError(t, repo.Insert(ctx, domain.Order{
		Reference: ref, Email: email, Plates: []string{"ab12 cde"}, Status: domain.OrderStatusActive,
		CreatedAt: now, UpdatedAt: now,
	}))

	recent, err := repo.FindRecentByEmail(ctx, email, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, ref, recent[0].Reference)

	byPlate, err := repo.FindActiveByPlate(ctx, "AB12CDE")
	require.NoError(t, err)
	assert.NotEmpty(t, byPlate)

	none, err := repo.FindRecentByEmail(ctx, email, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)
}
