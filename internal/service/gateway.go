package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mostafaomar7/tadawi-checkout/internal/cache"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"github.com/mostafaomar7/tadawi-checkout/internal/paypal"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
)

// ProviderConfigSource returns the provider configuration for the current patient.
type ProviderConfigSource interface {
	PayPalConfig(ctx context.Context) (domain.ProviderConfig, error)
}

type PaymentProvider interface {
	CreateOrder(ctx context.Context, requestID, referenceID string, amount paypal.Amount) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, requestID, orderID string) (*paypal.Capture, error)
}

// Button is the rendered provider button. The amount is fixed at render time, so a
// new generation is rendered whenever the amount or draft validity changes.
type Button struct {
	Generation int    `json:"generation"`
	ClientID   string `json:"client_id"`
	Currency   string `json:"currency"`
	Amount     string `json:"amount"`
	Enabled    bool   `json:"enabled"`
}

// GatewayAdapter wraps the payment provider for one patient: the config is loaded
// once, the button is re-rendered only on change and an order is captured at most once.
type GatewayAdapter struct {
	source   ProviderConfigSource
	provider PaymentProvider
	lock     cache.CaptureLock
	lockTTL  time.Duration
	logger   *zap.Logger

	loadMu sync.Mutex
	config atomic.Pointer[domain.ProviderConfig]

	mu         sync.Mutex
	button     *Button
	generation int
}

func NewGatewayAdapter(source ProviderConfigSource, provider PaymentProvider, lock cache.CaptureLock, lockTTL time.Duration, logger *zap.Logger) *GatewayAdapter {
	if lockTTL <= 0 {
		lockTTL = 24 * time.Hour
	}
	return &GatewayAdapter{
		source:   source,
		provider: provider,
		lock:     lock,
		lockTTL:  lockTTL,
		logger:   logger.With(zap.String("component", "gateway")),
	}
}

// Load fetches and validates the provider config the first time it is called.
// A failed load leaves the adapter unloaded so the next call retries.
func (g *GatewayAdapter) Load(ctx context.Context) (domain.ProviderConfig, error) {
	g.loadMu.Lock()
	defer g.loadMu.Unlock()
	if cfg := g.config.Load(); cfg != nil {
		return *cfg, nil
	}

	cfg, err := g.source.PayPalConfig(ctx)
	if err != nil {
		return domain.ProviderConfig{}, classify("paypal_config", err)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return domain.ProviderConfig{}, &ProviderError{Message: "provider config has no client id"}
	}
	unit, err := currency.ParseISO(cfg.Currency)
	if err != nil {
		return domain.ProviderConfig{}, &ProviderError{Message: fmt.Sprintf("provider config currency %q", cfg.Currency), Err: err}
	}

	loaded := domain.ProviderConfig{ClientID: cfg.ClientID, Currency: unit.String()}
	g.config.Store(&loaded)
	g.logger.Info("payment provider loaded", zap.String("currency", loaded.Currency))
	return loaded, nil
}

func (g *GatewayAdapter) Loaded() bool {
	return g.config.Load() != nil
}

// Render returns the button for amount. The current button is kept when nothing it
// snapshots has changed.
func (g *GatewayAdapter) Render(amount float64, draftValid bool) Button {
	var cfg domain.ProviderConfig
	if loaded := g.config.Load(); loaded != nil {
		cfg = *loaded
	}

	formatted := domain.FormatAmount(amount)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.button != nil && g.button.Amount == formatted && g.button.Enabled == draftValid {
		return *g.button
	}
	g.generation++
	g.button = &Button{
		Generation: g.generation,
		ClientID:   cfg.ClientID,
		Currency:   cfg.Currency,
		Amount:     formatted,
		Enabled:    draftValid,
	}
	return *g.button
}

// Destroy unmounts the button. The loaded config is kept.
func (g *GatewayAdapter) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.button = nil
}

// CreateOrder opens a provider order for the summary total of one attempt.
func (g *GatewayAdapter) CreateOrder(ctx context.Context, attemptID string, pharmacyID int64, amount float64) (string, error) {
	cfg, err := g.Load(ctx)
	if err != nil {
		return "", err
	}
	order, err := g.provider.CreateOrder(ctx, attemptID+"-create", "pharmacy-"+strconv.FormatInt(pharmacyID, 10), paypal.Amount{
		CurrencyCode: cfg.Currency,
		Value:        domain.FormatAmount(amount),
	})
	if err != nil {
		return "", &ProviderError{Message: "create order failed", Err: err}
	}
	return order.ID, nil
}

// Capture captures providerOrderID. The lock keyed by the provider order makes a
// second capture of the same order fail fast, across sessions and instances.
func (g *GatewayAdapter) Capture(ctx context.Context, attemptID, providerOrderID string) (*paypal.Capture, error) {
	ok, err := g.lock.TryLock(ctx, providerOrderID, g.lockTTL)
	if err != nil {
		return nil, &ProviderError{Message: "capture lock unavailable", Err: err}
	}
	if !ok {
		return nil, &ProviderError{Message: "provider order already captured", Err: ErrCaptureLocked}
	}

	capture, err := g.provider.CaptureOrder(ctx, attemptID+"-capture", providerOrderID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// the capture may still have happened on the provider side
			g.logger.Error("capture outcome unknown",
				zap.String("attempt_id", attemptID),
				zap.String("provider_order_id", providerOrderID),
				zap.Error(err))
		}
		return nil, &ProviderError{Message: "capture failed", Err: err}
	}
	return capture, nil
}

func (g *GatewayAdapter) Currency() string {
	if cfg := g.config.Load(); cfg != nil {
		return cfg.Currency
	}
	return ""
}
