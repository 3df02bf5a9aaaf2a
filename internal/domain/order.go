package domain

import (
	"fmt"
	"strings"
)

type PaymentMethod string

const (
	PaymentMethodCash    PaymentMethod = "cash"
	PaymentMethodGateway PaymentMethod = "paypal"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(s))) {
	case PaymentMethodCash:
		return PaymentMethodCash, nil
	case PaymentMethodGateway, "gateway":
		return PaymentMethodGateway, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

type PrescriptionFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// OrderDraft is the user-editable form state submitted with an order.
type OrderDraft struct {
	BillingAddress       string             `json:"billing_address"`
	ShippingAddress      string             `json:"shipping_address"`
	Phone                string             `json:"phone"`
	Notes                string             `json:"notes"`
	PrescriptionRequired bool               `json:"prescription_required"`
	PrescriptionFiles    []PrescriptionFile `json:"prescription_files"`
}

// FieldErrors maps a form field to its messages, in the backend's shape.
type FieldErrors map[string][]string

func (f FieldErrors) Add(field, msg string) {
	f[field] = append(f[field], msg)
}

// Validate checks the draft the way the checkout form does before submission.
// Notes are optional.
func (d OrderDraft) Validate() FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(d.BillingAddress) == "" {
		errs.Add("billing_address", "required")
	}
	if strings.TrimSpace(d.ShippingAddress) == "" {
		errs.Add("shipping_address", "required")
	}
	if strings.TrimSpace(d.Phone) == "" {
		errs.Add("phone", "required")
	}
	if d.PrescriptionRequired && len(d.PrescriptionFiles) == 0 {
		errs.Add("prescription_files", "a prescription is required for this order")
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (d OrderDraft) Valid() bool {
	return d.Validate() == nil
}

// Clone copies the draft so callers cannot alias the file slice.
func (d OrderDraft) Clone() OrderDraft {
	out := d
	out.PrescriptionFiles = append([]PrescriptionFile(nil), d.PrescriptionFiles...)
	return out
}

// PaymentAttempt tracks one try at paying for a checkout session.
type PaymentAttempt struct {
	ID                    string        `json:"id"`
	Method                PaymentMethod `json:"method"`
	Amount                float64       `json:"amount"`
	ProviderOrderID       string        `json:"provider_order_id,omitempty"`
	ProviderTransactionID string        `json:"provider_transaction_id,omitempty"`
	OrderID               string        `json:"order_id,omitempty"`
	CaptureRequested      bool          `json:"-"`
}
