package http

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mostafaomar7/tadawi-checkout/internal/backend"
	"github.com/mostafaomar7/tadawi-checkout/internal/cache"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"github.com/mostafaomar7/tadawi-checkout/internal/paypal"
	"github.com/mostafaomar7/tadawi-checkout/internal/service"
	"go.uber.org/zap"
)

const (
	testSecret   = "test-secret"
	testPatient  = "patient-7"
	testPharmacy = "3"
)

type fakeBackend struct {
	mu       sync.Mutex
	lines    []domain.CartLine
	eligible bool
	reason   string
	summary  domain.CheckoutSummary
	orderErr error
	orders   []backend.OrderRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		eligible: true,
		lines: []domain.CartLine{
			{ID: domain.LineID(3, 10), PharmacyID: 3, PharmacyName: "Nile Pharmacy", MedicineID: 10, MedicineName: "Panadol", UnitPrice: 50, Quantity: 2},
			{ID: domain.LineID(4, 20), PharmacyID: 4, PharmacyName: "Delta Pharmacy", MedicineID: 20, MedicineName: "Brufen", UnitPrice: 25, Quantity: 1},
		},
		summary: domain.CheckoutSummary{
			Pharmacy:    domain.PharmacyInfo{ID: 3, Name: "Nile Pharmacy"},
			Medicines:   []domain.SummaryMedicine{{MedicineID: 10, Name: "Panadol", Quantity: 2, UnitPrice: 50, Total: 100}},
			Subtotal:    100,
			Shipping:    15,
			TotalAmount: 115,
		},
	}
}

func (f *fakeBackend) GetCart(context.Context) ([]domain.CartLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CartLine(nil), f.lines...), nil
}

func (f *fakeBackend) AddToCart(context.Context, int64, int64, int) error { return nil }

func (f *fakeBackend) RemoveFromCart(context.Context, int64, int64) error { return nil }

func (f *fakeBackend) ValidateCheckout(context.Context, int64) (domain.CheckoutValidation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.CheckoutValidation{Eligible: f.eligible, Reason: f.reason}, nil
}

func (f *fakeBackend) CheckoutSummary(context.Context, int64) (*domain.CheckoutSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.summary
	return &s, nil
}

func (f *fakeBackend) InitiateOrder(_ context.Context, req backend.OrderRequest) (backend.OrderConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	if f.orderErr != nil {
		return backend.OrderConfirmation{}, f.orderErr
	}
	return backend.OrderConfirmation{OrderID: "981", Message: "Order placed"}, nil
}

func (f *fakeBackend) PayPalConfig(context.Context) (domain.ProviderConfig, error) {
	return domain.ProviderConfig{ClientID: "sb-client", Currency: "USD"}, nil
}

type fakeProvider struct{}

func (fakeProvider) CreateOrder(context.Context, string, string, paypal.Amount) (*paypal.Order, error) {
	return &paypal.Order{ID: "PAYPAL-1", Status: "CREATED"}, nil
}

func (fakeProvider) CaptureOrder(_ context.Context, _, orderID string) (*paypal.Capture, error) {
	return &paypal.Capture{OrderID: orderID, TransactionID: "TX-" + orderID, Status: "COMPLETED"}, nil
}

type fakeIncidents struct {
	mu        sync.Mutex
	incidents []*domain.Incident
}

func (f *fakeIncidents) RecordIncident(_ context.Context, in *domain.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents = append(f.incidents, in)
	return nil
}

func (f *fakeIncidents) RecordOrderCompleted(context.Context, *domain.OrderCompleted) error {
	return nil
}

func (f *fakeIncidents) ListOpenIncidents(_ context.Context, patientID string) ([]*domain.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Incident
	for _, in := range f.incidents {
		if in.PatientID == patientID {
			out = append(out, in)
		}
	}
	return out, nil
}

type testEnv struct {
	backend   *fakeBackend
	incidents *fakeIncidents
	registry  *service.Registry
}

func newTestEnv() *testEnv {
	b := newFakeBackend()
	incidents := &fakeIncidents{}
	registry := service.NewRegistry(service.Deps{
		Checkout:       b,
		Orders:         b,
		ProviderConfig: b,
		Provider:       fakeProvider{},
		CaptureLock:    cache.NewMemoryCaptureLock(),
		CaptureLockTTL: time.Hour,
		CartBackend:    b,
		CartCache:      cache.NewMemoryCache(),
		Incidents:      incidents,
		SubmitTimeout:  5 * time.Second,
		Logger:         zap.NewNop(),
	}, time.Hour)
	return &testEnv{backend: b, incidents: incidents, registry: registry}
}

func signToken(subject string, secret string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	return signed
}
