package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/motorshield/warranty-api/internal/domain"
	pfirestore "github.com/motorshield/warranty-api/internal/platform/firestore"
	"github.com/motorshield/warranty-api/internal/repositories"
)

const checkoutSessionCollection = "checkoutSessions"

// CheckoutSessionStore persists checkout sessions in Firestore. Patches are merged inside a
// transaction so concurrent writers never lose fields.
type CheckoutSessionStore struct {
	provider *pfirestore.Provider
	coll     *pfirestore.Collection[sessionDocument]
	ttl      time.Duration
	now      func() time.Time
}

// SessionStoreOption customises the Firestore session store.
type SessionStoreOption func(*CheckoutSessionStore)

// WithSessionTTL stamps an expiresAt field so a Firestore TTL policy can reap idle sessions.
func WithSessionTTL(ttl time.Duration) SessionStoreOption {
	return func(s *CheckoutSessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSessionClock overrides the clock used for timestamps.
func WithSessionClock(clock func() time.Time) SessionStoreOption {
	return func(s *CheckoutSessionStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

var _ repositories.CheckoutSessionStore = (*CheckoutSessionStore)(nil)

// NewCheckoutSessionStore constructs the Firestore-backed session store.
func NewCheckoutSessionStore(provider *pfirestore.Provider, opts ...SessionStoreOption) (*CheckoutSessionStore, error) {
	if provider == nil {
		return nil, errors.New("checkout session store requires firestore provider")
	}
	store := &CheckoutSessionStore{
		provider: provider,
		coll:     pfirestore.NewCollection[sessionDocument](provider, checkoutSessionCollection),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Create stores a new session and fails with a conflict if the id is taken.
func (s *CheckoutSessionStore) Create(ctx context.Context, session domain.CheckoutSession) error {
	doc, err := s.encode(session)
	if err != nil {
		return err
	}
	return s.coll.Create(ctx, session.ID, doc)
}

// Load returns the stored session.
func (s *CheckoutSessionStore) Load(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	snap, err := s.coll.Get(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return decodeSession(snap.ID, snap.Data)
}

// Save merges the patch into the stored session within a transaction.
func (s *CheckoutSessionStore) Save(ctx context.Context, sessionID string, patch domain.CheckoutSessionPatch) (domain.CheckoutSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	var merged domain.CheckoutSession
	err := s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := s.coll.GetTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		current, err := decodeSession(snap.ID, snap.Data)
		if err != nil {
			return err
		}
		merged = patch.Apply(current)
		merged.UpdatedAt = s.now().UTC()
		doc, err := s.encode(merged)
		if err != nil {
			return err
		}
		return s.coll.SetTx(ctx, tx, sessionID, doc)
	})
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	return merged, nil
}

// Clear deletes the session. Clearing a missing session succeeds.
func (s *CheckoutSessionStore) Clear(ctx context.Context, sessionID string) error {
	return s.coll.Delete(ctx, strings.TrimSpace(sessionID))
}

type sessionDocument struct {
	Email              string                  `firestore:"email"`
	Customer           customerDocument        `firestore:"customer"`
	PaymentMethod      string                  `firestore:"paymentMethod"`
	DiscountCode       string                  `firestore:"discountCode,omitempty"`
	Discount           *discountDocument       `firestore:"discount,omitempty"`
	CartJSON           string                  `firestore:"cartJson"`
	Subtotal           int                     `firestore:"subtotal"`
	Status             string                  `firestore:"status"`
	InFlight           bool                    `firestore:"inFlight"`
	EditOrderRef       string                  `firestore:"editOrderRef,omitempty"`
	PendingOrderRef    string                  `firestore:"pendingOrderRef,omitempty"`
	OwnOrderRefs       []string                `firestore:"ownOrderRefs,omitempty"`
	PlateConflicts     []plateConflictDocument `firestore:"plateConflicts,omitempty"`
	PlatesAcknowledged bool                    `firestore:"platesAcknowledged"`
	Fallback           *fallbackDocument       `firestore:"fallback,omitempty"`
	RedirectURL        string                  `firestore:"redirectUrl,omitempty"`
	OriginalAmount     int                     `firestore:"originalAmount"`
	ChargeAmount       int                     `firestore:"chargeAmount"`
	FieldErrors        map[string]string       `firestore:"fieldErrors,omitempty"`
	LastError          string                  `firestore:"lastError,omitempty"`
	CreatedAt          time.Time               `firestore:"createdAt"`
	UpdatedAt          time.Time               `firestore:"updatedAt"`
	CompletedAt        *time.Time              `firestore:"completedAt,omitempty"`
	ExpiresAt          *time.Time              `firestore:"expiresAt,omitempty"`
}

type customerDocument struct {
	Title        string `firestore:"title,omitempty"`
	FirstName    string `firestore:"firstName"`
	LastName     string `firestore:"lastName"`
	Email        string `firestore:"email"`
	Phone        string `firestore:"phone"`
	AddressLine1 string `firestore:"addressLine1"`
	AddressLine2 string `firestore:"addressLine2,omitempty"`
	Town         string `firestore:"town"`
	Postcode     string `firestore:"postcode"`
}

type discountDocument struct {
	Code           string    `firestore:"code"`
	Valid          bool      `firestore:"valid"`
	DiscountAmount int       `firestore:"discountAmount"`
	FinalAmount    int       `firestore:"finalAmount"`
	Message        string    `firestore:"message,omitempty"`
	Automatic      bool      `firestore:"automatic"`
	CheckedAt      time.Time `firestore:"checkedAt"`
}

type plateConflictDocument struct {
	Plate          string `firestore:"plate"`
	OrderReference string `firestore:"orderReference"`
}

type fallbackDocument struct {
	Reason          string `firestore:"reason"`
	Message         string `firestore:"message"`
	AlternateMethod string `firestore:"alternateMethod"`
}

func (s *CheckoutSessionStore) encode(session domain.CheckoutSession) (sessionDocument, error) {
	if strings.TrimSpace(session.ID) == "" {
		return sessionDocument{}, errors.New("checkout session store: session id is required")
	}
	cart, err := json.Marshal(session.Cart)
	if err != nil {
		return sessionDocument{}, fmt.Errorf("checkout session store: encode cart: %w", err)
	}

	doc := sessionDocument{
		Email:              strings.ToLower(strings.TrimSpace(session.Customer.Email)),
		Customer:           customerDocument(session.Customer),
		PaymentMethod:      string(session.PaymentMethod),
		DiscountCode:       session.DiscountCode,
		CartJSON:           string(cart),
		Subtotal:           session.Cart.Subtotal(),
		Status:             string(session.Status),
		InFlight:           session.InFlight,
		EditOrderRef:       session.EditOrderRef,
		PendingOrderRef:    session.PendingOrderRef,
		OwnOrderRefs:       session.OwnOrderRefs,
		PlatesAcknowledged: session.PlatesAcknowledged,
		RedirectURL:        session.RedirectURL,
		OriginalAmount:     session.OriginalAmount,
		ChargeAmount:       session.ChargeAmount,
		FieldErrors:        session.FieldErrors,
		LastError:          session.LastError,
		CreatedAt:          session.CreatedAt.UTC(),
		UpdatedAt:          session.UpdatedAt.UTC(),
		CompletedAt:        session.CompletedAt,
	}
	if session.Discount != nil {
		d := discountDocument(*session.Discount)
		doc.Discount = &d
	}
	for _, conflict := range session.PlateConflicts {
		doc.PlateConflicts = append(doc.PlateConflicts, plateConflictDocument(conflict))
	}
	if session.Fallback != nil {
		doc.Fallback = &fallbackDocument{
			Reason:          string(session.Fallback.Reason),
			Message:         session.Fallback.Message,
			AlternateMethod: string(session.Fallback.AlternateMethod),
		}
	}
	if s.ttl > 0 {
		expires := s.now().UTC().Add(s.ttl)
		doc.ExpiresAt = &expires
	}
	return doc, nil
}

func decodeSession(id string, doc sessionDocument) (domain.CheckoutSession, error) {
	session := domain.CheckoutSession{
		ID:                 id,
		Customer:           domain.Customer(doc.Customer),
		PaymentMethod:      domain.PaymentMethod(doc.PaymentMethod),
		DiscountCode:       doc.DiscountCode,
		Status:             domain.CheckoutStatus(doc.Status),
		InFlight:           doc.InFlight,
		EditOrderRef:       doc.EditOrderRef,
		PendingOrderRef:    doc.PendingOrderRef,
		OwnOrderRefs:       doc.OwnOrderRefs,
		PlatesAcknowledged: doc.PlatesAcknowledged,
		RedirectURL:        doc.RedirectURL,
		OriginalAmount:     doc.OriginalAmount,
		ChargeAmount:       doc.ChargeAmount,
		FieldErrors:        doc.FieldErrors,
		LastError:          doc.LastError,
		CreatedAt:          doc.CreatedAt.UTC(),
		UpdatedAt:          doc.UpdatedAt.UTC(),
		CompletedAt:        doc.CompletedAt,
	}
	if doc.CartJSON != "" {
		if err := json.Unmarshal([]byte(doc.CartJSON), &session.Cart); err != nil {
			return domain.CheckoutSession{}, fmt.Errorf("checkout session store: decode cart %s: %w", id, err)
		}
	}
	if doc.Discount != nil {
		d := domain.DiscountValidation(*doc.Discount)
		session.Discount = &d
	}
	for _, conflict := range doc.PlateConflicts {
		session.PlateConflicts = append(session.PlateConflicts, domain.PlateConflict(conflict))
	}
	if doc.Fallback != nil {
		session.Fallback = &domain.CheckoutFallback{
			Reason:          domain.FallbackReason(doc.Fallback.Reason),
			Message:         doc.Fallback.Message,
			AlternateMethod: domain.PaymentMethod(doc.Fallback.AlternateMethod),
		}
	}
	return session, nil
}
