package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/repositories"
)

// CheckoutSessionStore keeps sessions in process memory. Used for local runs and tests.
type CheckoutSessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.CheckoutSession
	now      func() time.Time
}

var _ repositories.CheckoutSessionStore = (*CheckoutSessionStore)(nil)

// NewCheckoutSessionStore returns an empty in-memory session store.
func NewCheckoutSessionStore(clock func() time.Time) *CheckoutSessionStore {
	if clock == nil {
		clock = time.Now
	}
	return &CheckoutSessionStore{sessions: make(map[string]domain.CheckoutSession), now: clock}
}

func (s *CheckoutSessionStore) Create(_ context.Context, session domain.CheckoutSession) error {
	id := strings.TrimSpace(session.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return repositories.NewConflictError("sessions.create", "checkout session")
	}
	s.sessions[id] = cloneSession(session)
	return nil
}

func (s *CheckoutSessionStore) Load(_ context.Context, sessionID string) (domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return domain.CheckoutSession{}, repositories.NewNotFoundError("sessions.load", "checkout session")
	}
	return cloneSession(session), nil
}

func (s *CheckoutSessionStore) Save(_ context.Context, sessionID string, patch domain.CheckoutSessionPatch) (domain.CheckoutSession, error) {
	id := strings.TrimSpace(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.CheckoutSession{}, repositories.NewNotFoundError("sessions.save", "checkout session")
	}
	merged := patch.Apply(session)
	merged.UpdatedAt = s.now().UTC()
	s.sessions[id] = cloneSession(merged)
	return cloneSession(merged), nil
}

func (s *CheckoutSessionStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, strings.TrimSpace(sessionID))
	return nil
}

// cloneSession copies the slices and maps a caller could otherwise mutate through the store.
func cloneSession(session domain.CheckoutSession) domain.CheckoutSession {
	out := session
	out.OwnOrderRefs = append([]string(nil), session.OwnOrderRefs...)
	out.PlateConflicts = append([]domain.PlateConflict(nil), session.PlateConflicts...)
	if session.Discount != nil {
		d := *session.Discount
		out.Discount = &d
	}
	if session.Fallback != nil {
		f := *session.Fallback
		out.Fallback = &f
	}
	if session.FieldErrors != nil {
		out.FieldErrors = make(map[string]string, len(session.FieldErrors))
		for k, v := range session.FieldErrors {
			out.FieldErrors[k] = v
		}
	}
	out.Cart.Items = make([]domain.CartItem, len(session.Cart.Items))
	for i, item := range session.Cart.Items {
		copied := item
		if item.AddOns != nil {
			copied.AddOns = make(domain.AddOnSelection, len(item.AddOns))
			for k, v := range item.AddOns {
				copied.AddOns[k] = v
			}
		}
		copied.Price.AddOns = append([]domain.AddOnLine(nil), item.Price.AddOns...)
		out.Cart.Items[i] = copied
	}
	return out
}
