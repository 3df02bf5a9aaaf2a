package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mostafaomar7/tadawi-checkout/internal/circuitbreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Config struct {
	BaseURL string                `koanf:"base_url"`
	Timeout time.Duration         `koanf:"timeout"`
	Breaker circuitbreaker.Config `koanf:"breaker"`
}

type tokenKey struct{}

// WithToken attaches the patient's bearer token; every backend call forwards it.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func TokenFrom(ctx context.Context) string {
	if token, ok := ctx.Value(tokenKey{}).(string); ok {
		return token
	}
	return ""
}

// CallObserver is notified after every backend call with its outcome
// ("ok", "transport", "malformed", "rejected", "open").
type CallObserver func(op, outcome string, elapsed time.Duration)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithCallObserver(o CallObserver) Option {
	return func(c *Client) { c.observe = o }
}

// Client talks to the pharmacy backend: checkout, orders, paypal config and cart.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
	observe CallObserver
}

func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:  logger.With(zap.String("component", "backend")),
		observe: func(string, string, time.Duration) {},
	}
	c.breaker = circuitbreaker.New("backend", cfg.Breaker, c.logger, isTransportFailure)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type request struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
}

// errorBody is the backend's shape for non-2xx responses.
type errorBody struct {
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
}

// call performs req and decodes a 2xx body into out. A nil out skips decoding.
func (c *Client) call(ctx context.Context, req request, out any) error {
	start := time.Now()
	_, err := circuitbreaker.Do(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.roundTrip(ctx, req, out)
	})
	outcome := outcomeOf(err)
	c.observe(req.op, outcome, time.Since(start))
	if circuitbreaker.IsOpen(err) {
		return &TransportError{Op: req.op, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	if err != nil && outcome != "rejected" {
		c.logger.Warn("backend call failed", zap.String("op", req.op), zap.String("outcome", outcome), zap.Error(err))
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, req request, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, req.body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if token := TokenFrom(ctx); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &TransportError{Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &TransportError{Op: req.op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &MalformedResponseError{Op: req.op, StatusCode: resp.StatusCode, Body: snippet(data), Err: err}
		}
		return nil
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return &MalformedResponseError{Op: req.op, StatusCode: resp.StatusCode, Body: snippet(data), Err: err}
	}
	rej := &RejectionError{Op: req.op, StatusCode: resp.StatusCode, Message: body.Message}
	var fields map[string][]string
	if len(body.Errors) > 0 && json.Unmarshal(body.Errors, &fields) == nil && len(fields) > 0 {
		rej.Fields = fields
	}
	return rej
}

func outcomeOf(err error) string {
	var (
		transport *TransportError
		malformed *MalformedResponseError
		rejected  *RejectionError
	)
	switch {
	case err == nil:
		return "ok"
	case circuitbreaker.IsOpen(err):
		return "open"
	case errors.As(err, &transport):
		return "transport"
	case errors.As(err, &malformed):
		return "malformed"
	case errors.As(err, &rejected):
		return "rejected"
	}
	return "error"
}

func snippet(data []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
