package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mostafaomar7/tadawi-checkout/internal/backend"
	"github.com/mostafaomar7/tadawi-checkout/internal/cart"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"github.com/mostafaomar7/tadawi-checkout/internal/service"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error    string             `json:"error"`
	Code     string             `json:"code,omitempty"`
	Details  string             `json:"details,omitempty"`
	Fields   domain.FieldErrors `json:"fields,omitempty"`
	Checkout *service.View      `json:"checkout,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError maps the checkout error taxonomy onto HTTP. The checkout view, when
// given, is returned with the error so the client renders the state it ended in.
func handleError(w http.ResponseWriter, l *zap.Logger, err error, view *service.View) {
	resp := ErrorResponse{Error: err.Error(), Checkout: view}
	status := http.StatusInternalServerError

	var (
		validation *service.ValidationError
		rejection  *service.ServerRejection
		network    *service.NetworkError
		provider   *service.ProviderError
		cwo        *service.CaptureWithoutOrderError
		malformed  *service.MalformedResponseError
		bRejection *backend.RejectionError
		bTransport *backend.TransportError
		bMalformed *backend.MalformedResponseError
	)

	switch {
	case errors.As(err, &cwo):
		status, resp.Code = http.StatusBadGateway, "capture_without_order"
		if f := service.FailureFrom(err); f != nil {
			resp.Error, resp.Details = f.Message, cwo.TransactionID
		}
	case errors.As(err, &validation):
		status, resp.Code, resp.Fields = http.StatusUnprocessableEntity, "validation_failed", validation.Fields
	case errors.As(err, &rejection):
		status, resp.Code, resp.Fields = http.StatusUnprocessableEntity, "rejected", rejection.Fields
		resp.Error = rejection.Message
	case errors.As(err, &bRejection):
		status, resp.Code, resp.Fields = http.StatusUnprocessableEntity, "rejected", domain.FieldErrors(bRejection.Fields)
		resp.Error = bRejection.Message
	case errors.As(err, &provider):
		status, resp.Code = http.StatusBadGateway, "provider_error"
	case errors.As(err, &malformed), errors.As(err, &bMalformed):
		status, resp.Code = http.StatusBadGateway, "malformed_response"
	case errors.As(err, &network), errors.As(err, &bTransport):
		status, resp.Code = http.StatusBadGateway, "backend_unavailable"
	case errors.Is(err, service.ErrNoCheckout), errors.Is(err, cart.ErrLineNotFound):
		status, resp.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrIllegalTransition),
		errors.Is(err, service.ErrStaleAttempt),
		errors.Is(err, service.ErrCaptureRequested),
		errors.Is(err, service.ErrProviderOrderMismatch),
		errors.Is(err, service.ErrPersistentFailure):
		status, resp.Code = http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrNegativePrice):
		status, resp.Code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, context.DeadlineExceeded):
		status, resp.Code = http.StatusGatewayTimeout, "timeout"
	default:
		resp.Code, resp.Error = "internal_error", "internal server error"
	}

	if status >= http.StatusInternalServerError {
		l.Warn("request failed", zap.String("code", resp.Code), zap.Error(err))
	}
	respondJSON(w, status, resp)
}
