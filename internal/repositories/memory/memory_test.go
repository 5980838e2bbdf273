package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/repositories"
)

func TestCheckoutSessionStoreSaveMergesPatch(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store := NewCheckoutSessionStore(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, domain.CheckoutSession{
		ID:           "s1",
		Customer:     domain.Customer{Email: "ada@example.com"},
		OwnOrderRefs: []string{"WR-1"},
	}))
	assert.True(t, repositories.IsConflict(store.Create(ctx, domain.CheckoutSession{ID: "s1"})))

	method := domain.PaymentMethodInstallments
	saved, err := store.Save(ctx, "s1", domain.CheckoutSessionPatch{PaymentMethod: &method})
	require.NoError(t, err)
	assert.Equal(t, method, saved.PaymentMethod)
	assert.Equal(t, "ada@example.com", saved.Customer.Email)
	assert.Equal(t, now, saved.UpdatedAt)

	saved.OwnOrderRefs[0] = "mutated"
	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"WR-1"}, loaded.OwnOrderRefs)

	require.NoError(t, store.Clear(ctx, "s1"))
	_, err = store.Load(ctx, "s1")
	assert.True(t, repositories.IsNotFound(err))
	_, err = store.Save(ctx, "s1", domain.CheckoutSessionPatch{})
	assert.True(t, repositories.IsNotFound(err))
}

func TestOrderRepositoryQueries(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, domain.Order{Reference: "WR-1", Email: "Ada@Example.com", Plates: []string{"ab12 cde"}, Status: domain.OrderStatusActive, CreatedAt: base}))
	require.NoError(t, repo.Insert(ctx, domain.Order{Reference: "WR-2", Email: "ada@example.com", Status: domain.OrderStatusCancelled, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, repo.Insert(ctx, domain.Order{Reference: "WR-3", Email: "ada@example.com", Plates: []string{"XY99ZZZ"}, Status: domain.OrderStatusPending, CreatedAt: base.Add(2 * time.Minute)}))
	assert.True(t, repositories.IsConflict(repo.Insert(ctx, domain.Order{Reference: "WR-1"})))

	recent, err := repo.FindRecentByEmail(ctx, "ADA@example.com", base)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "WR-3", recent[0].Reference)

	plates, err := repo.FindActiveByPlate(ctx, "AB12-CDE")
	require.NoError(t, err)
	require.Len(t, plates, 1)
	assert.Equal(t, "WR-1", plates[0].Reference)

	pending, err := repo.FindActiveByPlate(ctx, "XY99ZZZ")
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.True(t, repositories.IsNotFound(repo.Update(ctx, domain.Order{Reference: "missing"})))
}

func TestDiscountCodeRepositoryRedemptions(t *testing.T) {
	repo := NewDiscountCodeRepository(domain.DiscountCode{Code: "spring25", Kind: domain.DiscountKindFixed, Value: 25, Active: true})
	ctx := context.Background()

	code, err := repo.Get(ctx, " SPRING25 ")
	require.NoError(t, err)
	assert.Equal(t, 25, code.Value)

	_, err = repo.Get(ctx, "nope")
	assert.True(t, repositories.IsNotFound(err))

	used, err := repo.HasRedemption(ctx, "spring25", "ada@example.com")
	require.NoError(t, err)
	assert.False(t, used)

	require.NoError(t, repo.RecordRedemption(ctx, domain.DiscountRedemption{Code: "SPRING25", Email: "Ada@example.com"}))
	used, err = repo.HasRedemption(ctx, "spring25", "ada@example.com")
	require.NoError(t, err)
	assert.True(t, used)
	assert.True(t, repositories.IsConflict(repo.RecordRedemption(ctx, domain.DiscountRedemption{Code: "spring25", Email: "ADA@example.com"})))
}
