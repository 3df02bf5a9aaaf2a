package domain

type CheckoutValidation struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

type PharmacyInfo struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type SummaryMedicine struct {
	MedicineID           int64   `json:"medicine_id"`
	Name                 string  `json:"name"`
	Quantity             int     `json:"quantity"`
	UnitPrice            float64 `json:"unit_price"`
	Total                float64 `json:"total"`
	PrescriptionRequired bool    `json:"prescription_required"`
}

// CheckoutSummary is the backend's authoritative pricing. Amounts charged are always
// taken from here, never from the locally aggregated cart.
type CheckoutSummary struct {
	Pharmacy          PharmacyInfo      `json:"pharmacy"`
	Medicines         []SummaryMedicine `json:"medicines"`
	Subtotal          float64           `json:"subtotal"`
	Tax               float64           `json:"tax"`
	Shipping          float64           `json:"shipping"`
	TotalAmount       float64           `json:"total_amount"`
	EstimatedDelivery string            `json:"estimated_delivery,omitempty"`
}

// PrescriptionRequired reports whether any medicine in the summary needs a prescription.
func (s *CheckoutSummary) PrescriptionRequired() bool {
	if s == nil {
		return false
	}
	for _, m := range s.Medicines {
		if m.PrescriptionRequired {
			return true
		}
	}
	return false
}

// CheckoutSession is the validated, priced context for checking out one pharmacy group.
type CheckoutSession struct {
	PharmacyID int64               `json:"pharmacy_id"`
	Validation *CheckoutValidation `json:"validation,omitempty"`
	Summary    *CheckoutSummary    `json:"summary,omitempty"`
}

// ProviderConfig is what the payment provider needs to be loaded for a patient.
type ProviderConfig struct {
	ClientID string `json:"client_id"`
	Currency string `json:"currency"`
}
