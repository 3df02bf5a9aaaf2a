package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mostafaomar7/tadawi-checkout/internal/cache"
	"github.com/mostafaomar7/tadawi-checkout/internal/cart"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"go.uber.org/zap"
)

// Deps are shared by every session the registry creates.
type Deps struct {
	Checkout       CheckoutBackend
	Orders         OrderBackend
	ProviderConfig ProviderConfigSource
	Provider       PaymentProvider
	CaptureLock    cache.CaptureLock
	CaptureLockTTL time.Duration
	CartBackend    cart.Backend
	CartCache      cache.SnapshotCache
	Incidents      IncidentRecorder
	Observer       Observer
	SubmitTimeout  time.Duration
	Logger         *zap.Logger
}

// Session is one patient's engine: the cart, the provider adapter (loaded at most
// once for the session) and at most one open checkout.
type Session struct {
	patientID string
	cart      *cart.Service
	gateway   *GatewayAdapter
	deps      Deps
	logger    *zap.Logger

	mu       sync.Mutex
	checkout *Coordinator
	notices  []*Failure

	// guarded by the registry
	deadline time.Time
}

func NewSession(patientID string, deps Deps) *Session {
	logger := deps.Logger.With(zap.String("patient_id", patientID))
	return &Session{
		patientID: patientID,
		cart:      cart.NewService(patientID, cart.NewStore(cart.WithLogger(logger)), deps.CartBackend, deps.CartCache, deps.Logger),
		gateway:   NewGatewayAdapter(deps.ProviderConfig, deps.Provider, deps.CaptureLock, deps.CaptureLockTTL, logger),
		deps:      deps,
		logger:    logger.With(zap.String("component", "session")),
	}
}

func (s *Session) PatientID() string {
	return s.patientID
}

func (s *Session) Cart() *cart.Service {
	return s.cart
}

func (s *Session) Gateway() *GatewayAdapter {
	return s.gateway
}

// OpenCheckout opens checkout for one pharmacy group. An open checkout for the same
// pharmacy is returned as is; one for another pharmacy is left first, and a
// captured-without-order failure it holds is shown by every later checkout.
func (s *Session) OpenCheckout(ctx context.Context, pharmacyID int64) (View, error) {
	s.mu.Lock()
	cur := s.checkout
	if cur != nil && cur.PharmacyID() == pharmacyID {
		switch st := cur.State(); {
		case st == domain.StateIdle || st == domain.StateFailed:
			s.mu.Unlock()
			return cur.Open(ctx)
		case !st.IsTerminal():
			s.mu.Unlock()
			return cur.View(), nil
		}
	}
	if cur != nil {
		s.leaveLocked()
	}
	coord := NewCoordinator(s.patientID, pharmacyID, CoordinatorDeps{
		Checkout:      s.deps.Checkout,
		Orders:        s.deps.Orders,
		Gateway:       s.gateway,
		Cart:          s.cart,
		Incidents:     s.deps.Incidents,
		Observer:      s.deps.Observer,
		SubmitTimeout: s.deps.SubmitTimeout,
		Logger:        s.deps.Logger,
		Notices:       s.notices,
	})
	s.checkout = coord
	s.mu.Unlock()

	return coord.Open(ctx)
}

// Checkout returns the open checkout for pharmacyID.
func (s *Session) Checkout(pharmacyID int64) (*Coordinator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkout == nil || s.checkout.PharmacyID() != pharmacyID {
		return nil, fmt.Errorf("%w: %d", ErrNoCheckout, pharmacyID)
	}
	return s.checkout, nil
}

// LeaveCheckout discards the checkout state. Captured funds are not touched; an
// unresolved incident stays listed in Incidents and as a notice on later checkouts.
func (s *Session) LeaveCheckout(pharmacyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkout == nil || s.checkout.PharmacyID() != pharmacyID {
		return fmt.Errorf("%w: %d", ErrNoCheckout, pharmacyID)
	}
	s.leaveLocked()
	return nil
}

func (s *Session) leaveLocked() {
	if f := s.checkout.PersistentFailure(); f != nil {
		s.notices = append(s.notices, f)
	}
	s.checkout.Leave()
	s.checkout = nil
}

// Incidents lists the patient's unresolved captured-without-order payments.
func (s *Session) Incidents(ctx context.Context) ([]*domain.Incident, error) {
	incidents, err := s.deps.Incidents.ListOpenIncidents(ctx, s.patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	return incidents, nil
}

// busy reports whether one of this server's calls is in flight for the session.
func (s *Session) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkout != nil && s.checkout.State().InFlight()
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkout != nil {
		s.leaveLocked()
	}
}
