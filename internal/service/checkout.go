package service

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/mostafaomar7/tadawi-checkout/internal/backend"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"go.uber.org/zap"
)

// CheckoutValidator asks the order backend whether a pharmacy group can be checked out.
type CheckoutValidator struct {
	backend CheckoutBackend
}

func NewCheckoutValidator(b CheckoutBackend) CheckoutValidator {
	return CheckoutValidator{backend: b}
}

// Validate returns a ValidationError carrying the backend's reason verbatim when the
// checkout is not eligible.
func (v CheckoutValidator) Validate(ctx context.Context, pharmacyID int64) (domain.CheckoutValidation, error) {
	res, err := v.backend.ValidateCheckout(ctx, pharmacyID)
	if err != nil {
		return domain.CheckoutValidation{}, classify("validate_checkout", err)
	}
	if !res.Eligible {
		if strings.TrimSpace(res.Reason) == "" {
			res.Reason = defaultIneligibleReason
		}
		return res, &ValidationError{Message: res.Reason}
	}
	return res, nil
}

// SummaryProvider fetches the authoritative totals of a validated checkout.
type SummaryProvider struct {
	backend CheckoutBackend
}

func NewSummaryProvider(b CheckoutBackend) SummaryProvider {
	return SummaryProvider{backend: b}
}

func (p SummaryProvider) Summary(ctx context.Context, pharmacyID int64) (*domain.CheckoutSummary, error) {
	summary, err := p.backend.CheckoutSummary(ctx, pharmacyID)
	if err != nil {
		return nil, classify("checkout_summary", err)
	}
	if summary == nil || summary.TotalAmount < 0 || math.IsNaN(summary.TotalAmount) || math.IsInf(summary.TotalAmount, 0) {
		return nil, &MalformedResponseError{Op: "checkout_summary", StatusCode: http.StatusOK, Err: errors.New("invalid total amount")}
	}
	return summary, nil
}

// OrderSubmitter turns a draft into a backend order.
type OrderSubmitter struct {
	backend OrderBackend
	logger  *zap.Logger
}

func NewOrderSubmitter(b OrderBackend, logger *zap.Logger) *OrderSubmitter {
	return &OrderSubmitter{backend: b, logger: logger.With(zap.String("component", "order_submitter"))}
}

// Submit sends exactly one order request. Field errors from the backend come back
// as a ServerRejection with the messages untouched.
func (s *OrderSubmitter) Submit(ctx context.Context, pharmacyID int64, draft domain.OrderDraft, method domain.PaymentMethod, providerTxID string) (string, error) {
	if errs := draft.Validate(); errs != nil {
		return "", &ValidationError{Fields: errs}
	}
	conf, err := s.backend.InitiateOrder(ctx, backend.OrderRequest{
		PharmacyID:            pharmacyID,
		Draft:                 draft,
		Method:                method,
		ProviderTransactionID: providerTxID,
	})
	if err != nil {
		return "", classify("initiate_order", err)
	}
	s.logger.Info("order accepted",
		zap.Int64("pharmacy_id", pharmacyID),
		zap.String("order_id", conf.OrderID),
		zap.String("payment_method", string(method)))
	return conf.OrderID, nil
}
