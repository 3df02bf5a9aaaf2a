package domain

import "time"

type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "OPEN"
	IncidentResolved IncidentStatus = "RESOLVED"
)

// Incident records funds captured by the provider without a matching order.
// It stays open until support reconciles it.
type Incident struct {
	ID              string         `json:"id"`
	PatientID       string         `json:"patient_id"`
	PharmacyID      int64          `json:"pharmacy_id"`
	AttemptID       string         `json:"attempt_id"`
	ProviderOrderID string         `json:"provider_order_id"`
	TransactionID   string         `json:"transaction_id"`
	Amount          float64        `json:"amount"`
	Currency        string         `json:"currency"`
	Reason          string         `json:"reason"`
	Status          IncidentStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
}

// OrderCompleted is emitted once the backend accepted an order.
type OrderCompleted struct {
	PatientID     string        `json:"patient_id"`
	PharmacyID    int64         `json:"pharmacy_id"`
	AttemptID     string        `json:"attempt_id"`
	OrderID       string        `json:"order_id"`
	Method        PaymentMethod `json:"payment_method"`
	Amount        float64       `json:"amount"`
	TransactionID string        `json:"transaction_id,omitempty"`
	CompletedAt   time.Time     `json:"completed_at"`
}
