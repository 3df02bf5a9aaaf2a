package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
)

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// ValidateCheckout asks whether the pharmacy's group can be checked out right now.
// A 4xx answer carrying a message is an ineligible checkout, not an error.
func (c *Client) ValidateCheckout(ctx context.Context, pharmacyID int64) (domain.CheckoutValidation, error) {
	var resp validateResponse
	err := c.call(ctx, request{
		op:     "validate_checkout",
		method: http.MethodGet,
		path:   fmt.Sprintf("/checkout/%d/validate", pharmacyID),
	}, &resp)

	var rejected *RejectionError
	if errors.As(err, &rejected) && rejected.StatusCode < 500 && rejected.Message != "" {
		return domain.CheckoutValidation{Eligible: false, Reason: rejected.Message}, nil
	}
	if err != nil {
		return domain.CheckoutValidation{}, err
	}
	return domain.CheckoutValidation{Eligible: resp.Valid, Reason: resp.Message}, nil
}

type summaryResponse struct {
	Pharmacy struct {
		ID      int64  `json:"id"`
		Name    string `json:"name"`
		Address string `json:"address"`
		Phone   string `json:"phone"`
	} `json:"pharmacy"`
	Medicines []struct {
		ID                   int64   `json:"id"`
		Name                 string  `json:"name"`
		Quantity             int     `json:"quantity"`
		Price                float64 `json:"price"`
		Total                float64 `json:"total"`
		PrescriptionRequired bool    `json:"prescription_required"`
	} `json:"medicines"`
	Totals *struct {
		Subtotal    float64 `json:"subtotal"`
		Tax         float64 `json:"tax"`
		Shipping    float64 `json:"shipping"`
		TotalAmount float64 `json:"total_amount"`
	} `json:"totals"`
	EstimatedDelivery string `json:"estimated_delivery"`
}

// CheckoutSummary fetches the authoritative totals for one pharmacy group.
func (c *Client) CheckoutSummary(ctx context.Context, pharmacyID int64) (*domain.CheckoutSummary, error) {
	var resp summaryResponse
	err := c.call(ctx, request{
		op:     "checkout_summary",
		method: http.MethodGet,
		path:   fmt.Sprintf("/checkout/%d/summary", pharmacyID),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Totals == nil {
		return nil, &MalformedResponseError{Op: "checkout_summary", StatusCode: http.StatusOK, Err: errors.New("totals missing")}
	}

	summary := &domain.CheckoutSummary{
		Pharmacy: domain.PharmacyInfo{
			ID:      resp.Pharmacy.ID,
			Name:    resp.Pharmacy.Name,
			Address: resp.Pharmacy.Address,
			Phone:   resp.Pharmacy.Phone,
		},
		Medicines:         make([]domain.SummaryMedicine, 0, len(resp.Medicines)),
		Subtotal:          resp.Totals.Subtotal,
		Tax:               resp.Totals.Tax,
		Shipping:          resp.Totals.Shipping,
		TotalAmount:       resp.Totals.TotalAmount,
		EstimatedDelivery: resp.EstimatedDelivery,
	}
	for _, m := range resp.Medicines {
		summary.Medicines = append(summary.Medicines, domain.SummaryMedicine{
			MedicineID:           m.ID,
			Name:                 m.Name,
			Quantity:             m.Quantity,
			UnitPrice:            m.Price,
			Total:                m.Total,
			PrescriptionRequired: m.PrescriptionRequired,
		})
	}
	return summary, nil
}

// PayPalConfig returns the provider client id and currency for the patient.
func (c *Client) PayPalConfig(ctx context.Context) (domain.ProviderConfig, error) {
	var cfg domain.ProviderConfig
	err := c.call(ctx, request{
		op:     "paypal_config",
		method: http.MethodGet,
		path:   "/paypal/config",
	}, &cfg)
	if err != nil {
		return domain.ProviderConfig{}, err
	}
	return cfg, nil
}
