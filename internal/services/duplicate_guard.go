package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/repositories"
)

const (
	defaultDuplicateWindow = 5 * time.Minute
	defaultRecordTimeout   = 5 * time.Second
)

// AbandonedCartRecorder receives best-effort snapshots of attempted checkouts.
type AbandonedCartRecorder interface {
	Record(ctx context.Context, record domain.AbandonedCartRecord) error
}

// AbandonedCartRecorderFunc adapts a function to AbandonedCartRecorder.
type AbandonedCartRecorderFunc func(context.Context, domain.AbandonedCartRecord) error

func (f AbandonedCartRecorderFunc) Record(ctx context.Context, record domain.AbandonedCartRecord) error {
	return f(ctx, record)
}

// DuplicateGuardDeps configures the duplicate and abandonment guard.
type DuplicateGuardDeps struct {
	Orders        repositories.OrderRepository
	Recorder      AbandonedCartRecorder
	Window        time.Duration
	RecordTimeout time.Duration
	Now           func() time.Time
	Logger        func(context.Context, string, map[string]any)
}

// DuplicateGuard protects the one-order-per-checkout rule and emits abandoned cart records.
type DuplicateGuard struct {
	orders        repositories.OrderRepository
	recorder      AbandonedCartRecorder
	window        time.Duration
	recordTimeout time.Duration
	now           func() time.Time
	logger        func(context.Context, string, map[string]any)
	pending       sync.WaitGroup
}

// NewDuplicateGuard constructs the guard. The recorder is optional.
func NewDuplicateGuard(deps DuplicateGuardDeps) (*DuplicateGuard, error) {
	if deps.Orders == nil {
		return nil, errors.New("duplicate guard: order repository is required")
	}
	window := deps.Window
	if window <= 0 {
		window = defaultDuplicateWindow
	}
	recordTimeout := deps.RecordTimeout
	if recordTimeout <= 0 {
		recordTimeout = defaultRecordTimeout
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &DuplicateGuard{
		orders:        deps.Orders,
		recorder:      deps.Recorder,
		window:        window,
		recordTimeout: recordTimeout,
		now:           func() time.Time { return now().UTC() },
		logger:        logger,
	}, nil
}

// CheckRecentOrder returns a DuplicateOrderError when the email placed an order inside the window.
// Orders whose references are listed in exclude belong to the caller and never count.
func (g *DuplicateGuard) CheckRecentOrder(ctx context.Context, email string, exclude []string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	orders, err := g.orders.FindRecentByEmail(ctx, email, g.now().Add(-g.window))
	if err != nil {
		return err
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, ref := range exclude {
		skip[ref] = struct{}{}
	}
	for _, order := range orders {
		if _, own := skip[order.Reference]; own {
			continue
		}
		return &DuplicateOrderError{Reference: order.Reference}
	}
	return nil
}

// CheckPlates lists registrations already attached to an active order under a different email.
// A conflict needs explicit acknowledgement but is not a hard stop.
func (g *DuplicateGuard) CheckPlates(ctx context.Context, plates []string, email string) ([]domain.PlateConflict, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	seen := make(map[string]struct{}, len(plates))
	var conflicts []domain.PlateConflict
	for _, plate := range plates {
		plate = domain.NormalizeRegistration(plate)
		if plate == "" {
			continue
		}
		if _, dup := seen[plate]; dup {
			continue
		}
		seen[plate] = struct{}{}

		orders, err := g.orders.FindActiveByPlate(ctx, plate)
		if err != nil {
			return nil, err
		}
		for _, order := range orders {
			if strings.EqualFold(order.Email, email) {
				continue
			}
			conflicts = append(conflicts, domain.PlateConflict{Plate: plate, OrderReference: order.Reference})
			break
		}
	}
	return conflicts, nil
}

// RecordAbandonedCart emits one record per cart item concurrently and returns immediately.
// Failures are logged and never reach the caller.
func (g *DuplicateGuard) RecordAbandonedCart(ctx context.Context, session domain.CheckoutSession) {
	if g.recorder == nil || len(session.Cart.Items) == 0 {
		return
	}
	recordedAt := g.now()
	name := strings.TrimSpace(session.Customer.FirstName + " " + session.Customer.LastName)
	for _, item := range session.Cart.Items {
		record := domain.AbandonedCartRecord{
			SessionID:  session.ID,
			ItemID:     item.ID,
			Email:      session.Customer.Email,
			Phone:      session.Customer.Phone,
			Name:       name,
			RegNumber:  item.Vehicle.RegNumber,
			Mileage:    item.Vehicle.Mileage,
			PlanName:   item.PlanName,
			Rating:     item.Rating,
			AddOns:     item.AddOns.Selected(),
			TotalPrice: item.Price.TotalPrice,
			RecordedAt: recordedAt,
		}
		g.pending.Add(1)
		go func() {
			defer g.pending.Done()
			// Detached from the request so a finished HTTP call does not cancel the record.
			recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.recordTimeout)
			defer cancel()
			if err := g.recorder.Record(recordCtx, record); err != nil {
				g.logger(ctx, "checkout.abandoned_cart_failed", map[string]any{
					"sessionId": record.SessionID,
					"itemId":    record.ItemID,
					"error":     err.Error(),
				})
			}
		}()
	}
}

// Wait blocks until every in-flight abandoned cart record has finished. Used on shutdown and in tests.
func (g *DuplicateGuard) Wait() {
	g.pending.Wait()
}
