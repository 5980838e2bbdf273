package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/repositories/memory"
)

func seedOrders(t *testing.T, orders ...Order) *memory.OrderRepository {
	t.Helper()
	repo := memory.NewOrderRepository()
	for _, order := range orders {
		if err := repo.Insert(context.Background(), order); err != nil {
			t.Fatalf("seed %s: %v", order.Reference, err)
		}
	}
	return repo
}

func TestDuplicateGuardCheckRecentOrder(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	repo := seedOrders(t,
		Order{Reference: "WR-OWN", Email: "ada@example.com", Status: domain.OrderStatusPending, CreatedAt: now.Add(-time.Minute)},
		Order{Reference: "WR-CANCELLED", Email: "ada@example.com", Status: domain.OrderStatusCancelled, CreatedAt: now.Add(-time.Minute)},
		Order{Reference: "WR-STALE", Email: "grace@example.com", Status: domain.OrderStatusActive, CreatedAt: now.Add(-6 * time.Minute)},
		Order{Reference: "WR-RECENT", Email: "grace@example.com", Status: domain.OrderStatusActive, CreatedAt: now.Add(-4 * time.Minute)},
	)
	guard, err := NewDuplicateGuard(DuplicateGuardDeps{Orders: repo, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()

	if err := guard.CheckRecentOrder(ctx, "ada@example.com", []string{"WR-OWN"}); err != nil {
		t.Fatalf("own and cancelled orders must not block, got %v", err)
	}
	err = guard.CheckRecentOrder(ctx, "ada@example.com", nil)
	if !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("expected duplicate without exclusions, got %v", err)
	}
	var dup *DuplicateOrderError
	if !errors.As(guard.CheckRecentOrder(ctx, " Grace@Example.com ", nil), &dup) || dup.Reference != "WR-RECENT" {
		t.Fatalf("expected WR-RECENT to block, got %+v", dup)
	}
	if err := guard.CheckRecentOrder(ctx, "", nil); err != nil {
		t.Fatalf("empty email must not block, got %v", err)
	}
}

func TestDuplicateGuardCheckPlates(t *testing.T) {
	repo := seedOrders(t,
		Order{Reference: "WR-A", Email: "other@example.com", Plates: []string{"AB12CDE"}, Status: domain.OrderStatusActive},
		Order{Reference: "WR-B", Email: "ada@example.com", Plates: []string{"XY99ZZZ"}, Status: domain.OrderStatusActive},
		Order{Reference: "WR-C", Email: "other@example.com", Plates: []string{"LM55NOP"}, Status: domain.OrderStatusPending},
	)
	guard, err := NewDuplicateGuard(DuplicateGuardDeps{Orders: repo})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	conflicts, err := guard.CheckPlates(context.Background(), []string{"ab12 cde", "AB12CDE", "XY99ZZZ", "LM55NOP", ""}, "ADA@example.com")
	if err != nil {
		t.Fatalf("check plates: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", conflicts)
	}
	if conflicts[0].Plate != "AB12CDE" || conflicts[0].OrderReference != "WR-A" {
		t.Fatalf("unexpected conflict %+v", conflicts[0])
	}
}

func TestDuplicateGuardRecordAbandonedCartIsBestEffort(t *testing.T) {
	var (
		mu      sync.Mutex
		records []domain.AbandonedCartRecord
		logged  []string
	)
	recorder := AbandonedCartRecorderFunc(func(ctx context.Context, record domain.AbandonedCartRecord) error {
		if ctx.Err() != nil {
			t.Errorf("record context must outlive the request context")
		}
		mu.Lock()
		defer mu.Unlock()
		records = append(records, record)
		if record.ItemID == "item-2" {
			return errors.New("sink unavailable")
		}
		return nil
	})
	guard, err := NewDuplicateGuard(DuplicateGuardDeps{
		Orders:   memory.NewOrderRepository(),
		Recorder: recorder,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			mu.Lock()
			defer mu.Unlock()
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := CheckoutSession{
		ID:       "sess-1",
		Customer: Customer{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		Cart: domain.Cart{Items: []CartItem{
			{ID: "item-1", Vehicle: VehicleProfile{RegNumber: "AB12CDE"}, PlanName: "Gold 12 Month", AddOns: AddOnSelection{domain.AddOnTyreCover: true}},
			{ID: "item-2", Vehicle: VehicleProfile{RegNumber: "XY99ZZZ"}, PlanName: "Basic 24 Month"},
		}},
	}
	guard.RecordAbandonedCart(ctx, session)
	cancel()
	guard.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(records) != 2 {
		t.Fatalf("expected one record per item, got %d", len(records))
	}
	for _, record := range records {
		if record.Name != "Ada Lovelace" || record.SessionID != "sess-1" {
			t.Fatalf("unexpected record %+v", record)
		}
	}
	if len(logged) != 1 || logged[0] != "checkout.abandoned_cart_failed" {
		t.Fatalf("expected one logged failure, got %v", logged)
	}
}

func TestDuplicateGuardRequiresOrders(t *testing.T) {
	if _, err := NewDuplicateGuard(DuplicateGuardDeps{}); err == nil {
		t.Fatalf("expected error without order repository")
	}
}
