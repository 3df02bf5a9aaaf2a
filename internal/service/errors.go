package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mostafaomar7/tadawi-checkout/internal/backend"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
)

var (
	ErrIllegalTransition     = errors.New("illegal transition of payment state")
	ErrStaleAttempt          = errors.New("payment attempt was replaced")
	ErrCaptureRequested      = errors.New("capture already requested for this attempt")
	ErrCaptureLocked         = errors.New("provider order is already being captured")
	ErrProviderOrderMismatch = errors.New("approval is for a different provider order")
	ErrPersistentFailure     = errors.New("checkout has an unresolved captured payment")
	ErrNoCheckout            = errors.New("no checkout open for this pharmacy")
)

type FailureKind string

const (
	KindValidation          FailureKind = "validation"
	KindNetwork             FailureKind = "network"
	KindProvider            FailureKind = "provider"
	KindCaptureWithoutOrder FailureKind = "capture_without_order"
	KindServerRejection     FailureKind = "server_rejection"
	KindMalformedResponse   FailureKind = "malformed_response"
)

// ValidationError is an ineligible checkout or an incomplete draft.
type ValidationError struct {
	Message string
	Fields  domain.FieldErrors
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("invalid order draft: %v", e.Fields)
}

// NetworkError means the request got no usable answer. Re-issuing it is safe.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProviderError is a failure reported by the payment provider or a bad provider config.
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return "payment provider error: " + e.Message
	}
	return fmt.Sprintf("payment provider error: %s: %v", e.Message, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CaptureWithoutOrderError means funds were captured and the order was not created.
type CaptureWithoutOrderError struct {
	TransactionID   string
	ProviderOrderID string
	Amount          float64
	Err             error
}

func (e *CaptureWithoutOrderError) Error() string {
	return fmt.Sprintf("payment %s captured but order submission failed: %v", e.TransactionID, e.Err)
}

func (e *CaptureWithoutOrderError) Unwrap() error { return e.Err }

// ServerRejection is a well-formed error answer. Fields are kept verbatim.
type ServerRejection struct {
	StatusCode int
	Message    string
	Fields     domain.FieldErrors
}

func (e *ServerRejection) Error() string {
	return fmt.Sprintf("rejected by server (%d): %s", e.StatusCode, e.Message)
}

type MalformedResponseError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s returned a malformed response (status %d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// classify maps backend client errors onto the checkout error taxonomy.
func classify(op string, err error) error {
	var (
		rejected  *backend.RejectionError
		malformed *backend.MalformedResponseError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rejected):
		return &ServerRejection{StatusCode: rejected.StatusCode, Message: rejected.Message, Fields: domain.FieldErrors(rejected.Fields)}
	case errors.As(err, &malformed):
		return &MalformedResponseError{Op: op, StatusCode: malformed.StatusCode, Err: err}
	}
	return &NetworkError{Op: op, Err: err}
}

// Failure is the single presentation of a failed attempt, shared by the cash and
// gateway paths.
type Failure struct {
	Kind          FailureKind        `json:"kind"`
	Message       string             `json:"message"`
	Fields        domain.FieldErrors `json:"fields,omitempty"`
	Retryable     bool               `json:"retryable"`
	Persistent    bool               `json:"persistent"`
	TransactionID string             `json:"transaction_id,omitempty"`
}

func FailureFrom(err error) *Failure {
	var (
		validation *ValidationError
		network    *NetworkError
		provider   *ProviderError
		cwo        *CaptureWithoutOrderError
		rejection  *ServerRejection
		malformed  *MalformedResponseError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &cwo):
		return &Failure{
			Kind:          KindCaptureWithoutOrder,
			Message:       fmt.Sprintf("Your payment was taken (transaction %s) but the order could not be created. Contact support with this transaction id; do not pay again.", cwo.TransactionID),
			Persistent:    true,
			TransactionID: cwo.TransactionID,
		}
	case errors.As(err, &validation):
		msg := validation.Message
		if msg == "" {
			msg = "Please correct the highlighted fields."
		}
		return &Failure{Kind: KindValidation, Message: msg, Fields: validation.Fields}
	case errors.As(err, &rejection):
		msg := rejection.Message
		if msg == "" {
			msg = "The order was rejected."
		}
		return &Failure{Kind: KindServerRejection, Message: msg, Fields: rejection.Fields}
	case errors.As(err, &provider):
		return &Failure{Kind: KindProvider, Message: "The payment provider reported a problem. Please try again.", Retryable: true}
	case errors.As(err, &malformed):
		return &Failure{Kind: KindMalformedResponse, Message: "The pharmacy service sent an unexpected response. Please try again.", Retryable: true}
	case errors.As(err, &network), errors.Is(err, context.DeadlineExceeded):
		return &Failure{Kind: KindNetwork, Message: "Could not reach the pharmacy service. Please try again.", Retryable: true}
	}
	return &Failure{Kind: KindNetwork, Message: "Something went wrong. Please try again.", Retryable: true}
}
