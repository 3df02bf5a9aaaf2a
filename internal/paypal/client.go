package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const SandboxURL = "https://api-m.sandbox.paypal.com"

type Config struct {
	BaseURL  string        `koanf:"base_url"`
	ClientID string        `koanf:"client_id"`
	Secret   string        `koanf:"secret"`
	Timeout  time.Duration `koanf:"timeout"`
}

var ErrNotCompleted = errors.New("capture not completed")

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Name       string `json:"name"`
	Message    string `json:"message"`
	DebugID    string `json:"debug_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal: %d %s: %s (debug_id=%s)", e.StatusCode, e.Name, e.Message, e.DebugID)
}

type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type Capture struct {
	OrderID       string
	TransactionID string
	Status        string
	Amount        Amount
}

// Client is a minimal Orders v2 client: create an order, capture it.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With(zap.String("component", "paypal")),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok tokenResponse
	if err := c.send(req, &tok); err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("failed to get access token: empty token")
	}
	c.accessToken = tok.AccessToken
	// refresh a minute early so a token never expires mid-request
	c.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      Amount `json:"amount"`
}

type createOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

// CreateOrder opens a provider order for amount. requestID makes retries of the
// same attempt return the same order.
func (c *Client) CreateOrder(ctx context.Context, requestID, referenceID string, amount Amount) (*Order, error) {
	body := createOrderRequest{
		Intent:        "CAPTURE",
		PurchaseUnits: []purchaseUnit{{ReferenceID: referenceID, Amount: amount}},
	}
	var order Order
	if err := c.post(ctx, "/v2/checkout/orders", requestID, body, &order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	c.logger.Info("provider order created", zap.String("provider_order_id", order.ID), zap.String("amount", amount.Value))
	return &order, nil
}

type captureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount Amount `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CaptureOrder captures an approved order and returns the capture transaction.
func (c *Client) CaptureOrder(ctx context.Context, requestID, orderID string) (*Capture, error) {
	var resp captureResponse
	if err := c.post(ctx, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", requestID, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to capture order %s: %w", orderID, err)
	}

	capture := &Capture{OrderID: resp.ID, Status: resp.Status}
	if len(resp.PurchaseUnits) > 0 && len(resp.PurchaseUnits[0].Payments.Captures) > 0 {
		first := resp.PurchaseUnits[0].Payments.Captures[0]
		capture.TransactionID = first.ID
		capture.Amount = first.Amount
	}
	if resp.Status != "COMPLETED" || capture.TransactionID == "" {
		return capture, fmt.Errorf("%w: order %s status %s", ErrNotCompleted, orderID, resp.Status)
	}
	c.logger.Info("provider order captured", zap.String("provider_order_id", orderID), zap.String("transaction_id", capture.TransactionID))
	return capture, nil
}

func (c *Client) post(ctx context.Context, path, requestID string, body, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var payload io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, payload)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
