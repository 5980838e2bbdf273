package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/motorshield/warranty-api/internal/domain"
	pfirestore "github.com/motorshield/warranty-api/internal/platform/firestore"
	"github.com/motorshield/warranty-api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists policy orders in Firestore.
type OrderRepository struct {
	coll *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{coll: pfirestore.NewCollection[orderDocument](provider, orderCollection)}, nil
}

// Insert creates the order and fails with a conflict when the reference exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.coll.Create(ctx, order.Reference, encodeOrder(order))
}

// Get loads an order by reference.
func (r *OrderRepository) Get(ctx context.Context, reference string) (domain.Order, error) {
	snap, err := r.coll.Get(ctx, strings.TrimSpace(reference))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(snap.ID, snap.Data), nil
}

// Update overwrites an existing order.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if _, err := r.coll.Get(ctx, order.Reference); err != nil {
		return err
	}
	return r.coll.Set(ctx, order.Reference, encodeOrder(order))
}

// FindRecentByEmail returns pending or active orders for the email created at or after since.
func (r *OrderRepository) FindRecentByEmail(ctx context.Context, email string, since time.Time) ([]domain.Order, error) {
	email = normaliseEmail(email)
	if email == "" {
		return nil, nil
	}
	snaps, err := r.coll.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", email).
			Where("createdAt", ">=", since.UTC()).
			OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(snaps))
	for _, snap := range snaps {
		if snap.Data.Status == string(domain.OrderStatusCancelled) {
			continue
		}
		orders = append(orders, decodeOrder(snap.ID, snap.Data))
	}
	return orders, nil
}

// FindActiveByPlate returns active orders covering the registration.
func (r *OrderRepository) FindActiveByPlate(ctx context.Context, plate string) ([]domain.Order, error) {
	plate = domain.NormalizeRegistration(plate)
	if plate == "" {
		return nil, nil
	}
	snaps, err := r.coll.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("plates", "array-contains", plate).
			Where("status", "==", string(domain.OrderStatusActive))
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(snaps))
	for _, snap := range snaps {
		orders = append(orders, decodeOrder(snap.ID, snap.Data))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

type orderDocument struct {
	SessionID     string     `firestore:"sessionId"`
	Email         string     `firestore:"email"`
	Plates        []string   `firestore:"plates"`
	Status        string     `firestore:"status"`
	PaymentMethod string     `firestore:"paymentMethod"`
	Amount        int        `firestore:"amount"`
	DiscountCode  string     `firestore:"discountCode,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
	CompletedAt   *time.Time `firestore:"completedAt,omitempty"`
}

func encodeOrder(order domain.Order) orderDocument {
	plates := make([]string, 0, len(order.Plates))
	for _, plate := range order.Plates {
		if normalised := domain.NormalizeRegistration(plate); normalised != "" {
			plates = append(plates, normalised)
		}
	}
	return orderDocument{
		SessionID:     order.SessionID,
		Email:         normaliseEmail(order.Email),
		Plates:        plates,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		Amount:        order.Amount,
		DiscountCode:  order.DiscountCode,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		CompletedAt:   order.CompletedAt,
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	return domain.Order{
		Reference:     id,
		SessionID:     doc.SessionID,
		Email:         doc.Email,
		Plates:        doc.Plates,
		Status:        domain.OrderStatus(doc.Status),
		PaymentMethod: domain.PaymentMethod(doc.PaymentMethod),
		Amount:        doc.Amount,
		DiscountCode:  doc.DiscountCode,
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
		CompletedAt:   doc.CompletedAt,
	}
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
