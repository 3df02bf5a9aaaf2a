package service

import (
	"context"
	"sync"

	"github.com/mostafaomar7/tadawi-checkout/internal/backend"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"github.com/mostafaomar7/tadawi-checkout/internal/paypal"
)

type mockCheckoutBackend struct {
	mu            sync.Mutex
	validation    domain.CheckoutValidation
	validateErr   error
	summary       *domain.CheckoutSummary
	summaryErr    error
	validateCalls int
	summaryCalls  int
}

func (m *mockCheckoutBackend) ValidateCheckout(context.Context, int64) (domain.CheckoutValidation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateCalls++
	return m.validation, m.validateErr
}

func (m *mockCheckoutBackend) CheckoutSummary(context.Context, int64) (*domain.CheckoutSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaryCalls++
	if m.summaryErr != nil {
		return nil, m.summaryErr
	}
	s := *m.summary
	return &s, nil
}

type mockOrderBackend struct {
	mu       sync.Mutex
	confirm  backend.OrderConfirmation
	err      error
	requests []backend.OrderRequest
}

func (m *mockOrderBackend) InitiateOrder(_ context.Context, req backend.OrderRequest) (backend.OrderConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return backend.OrderConfirmation{}, m.err
	}
	return m.confirm, nil
}

func (m *mockOrderBackend) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type mockConfigSource struct {
	mu    sync.Mutex
	cfg   domain.ProviderConfig
	err   error
	calls int
	block chan struct{} // when set, PayPalConfig waits for it
}

func (m *mockConfigSource) PayPalConfig(context.Context) (domain.ProviderConfig, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.cfg, m.err
}

func (m *mockConfigSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockProvider struct {
	mu           sync.Mutex
	orderID      string
	createErr    error
	captureErr   error
	createCalls  int
	captureCalls int
	amounts      []paypal.Amount
	captureGate  chan struct{} // when set, CaptureOrder waits for it
	captureSeen  chan struct{} // when set, closed on the first capture call
}

func (m *mockProvider) CreateOrder(_ context.Context, _, _ string, amount paypal.Amount) (*paypal.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.amounts = append(m.amounts, amount)
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &paypal.Order{ID: m.orderID, Status: "CREATED"}, nil
}

func (m *mockProvider) CaptureOrder(_ context.Context, _, orderID string) (*paypal.Capture, error) {
	m.mu.Lock()
	m.captureCalls++
	first := m.captureCalls == 1
	gate, seen := m.captureGate, m.captureSeen
	m.mu.Unlock()

	if first && seen != nil {
		close(seen)
	}
	if gate != nil {
		<-gate
	}
	if m.captureErr != nil {
		return nil, m.captureErr
	}
	return &paypal.Capture{OrderID: orderID, TransactionID: "TX-" + orderID, Status: "COMPLETED"}, nil
}

func (m *mockProvider) captureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captureCalls
}

type mockCart struct {
	mu        sync.Mutex
	forgotten []int64
}

func (m *mockCart) ForgetPharmacy(_ context.Context, pharmacyID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgotten = append(m.forgotten, pharmacyID)
}

type mockIncidents struct {
	mu        sync.Mutex
	incidents []*domain.Incident
	completed []*domain.OrderCompleted
	err       error
}

func (m *mockIncidents) RecordIncident(_ context.Context, incident *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents = append(m.incidents, incident)
	return m.err
}

func (m *mockIncidents) RecordOrderCompleted(_ context.Context, event *domain.OrderCompleted) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, event)
	return m.err
}

func (m *mockIncidents) ListOpenIncidents(_ context.Context, patientID string) ([]*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Incident
	for _, in := range m.incidents {
		if in.PatientID == patientID && in.Status == domain.IncidentOpen {
			out = append(out, in)
		}
	}
	return out, nil
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []domain.PaymentState
	failures    []FailureKind
}

func (o *recordingObserver) ObserveTransition(_, to domain.PaymentState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, to)
}

func (o *recordingObserver) ObserveFailure(kind FailureKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, kind)
}
