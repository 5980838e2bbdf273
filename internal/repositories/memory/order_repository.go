package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/repositories"
)

// OrderRepository is an in-memory order store.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository returns an empty order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.Reference]; ok {
		return repositories.NewConflictError("orders.insert", "order "+order.Reference)
	}
	r.orders[order.Reference] = normaliseOrder(order)
	return nil
}

func (r *OrderRepository) Get(_ context.Context, reference string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[strings.TrimSpace(reference)]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", "order")
	}
	return order, nil
}

func (r *OrderRepository) Update(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.Reference]; !ok {
		return repositories.NewNotFoundError("orders.update", "order")
	}
	r.orders[order.Reference] = normaliseOrder(order)
	return nil
}

func (r *OrderRepository) FindRecentByEmail(_ context.Context, email string, since time.Time) ([]domain.Order, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Order
	for _, order := range r.orders {
		if order.Email != email || order.Status == domain.OrderStatusCancelled || order.CreatedAt.Before(since) {
			continue
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *OrderRepository) FindActiveByPlate(_ context.Context, plate string) ([]domain.Order, error) {
	plate = domain.NormalizeRegistration(plate)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Order
	for _, order := range r.orders {
		if order.Status != domain.OrderStatusActive {
			continue
		}
		for _, p := range order.Plates {
			if p == plate {
				out = append(out, order)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func normaliseOrder(order domain.Order) domain.Order {
	order.Email = strings.ToLower(strings.TrimSpace(order.Email))
	plates := make([]string, 0, len(order.Plates))
	for _, p := range order.Plates {
		plates = append(plates, domain.NormalizeRegistration(p))
	}
	order.Plates = plates
	return order
}
