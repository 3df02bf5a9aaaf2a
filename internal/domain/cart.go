package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrNegativePrice   = errors.New("unit price must not be negative")
)

// CartLine is one (pharmacy, medicine) pairing held by the cart store.
type CartLine struct {
	ID           string  `json:"id"`
	PharmacyID   int64   `json:"pharmacy_id"`
	PharmacyName string  `json:"pharmacy_name"`
	MedicineID   int64   `json:"medicine_id"`
	MedicineName string  `json:"medicine_name"`
	UnitPrice    float64 `json:"unit_price"`
	Quantity     int     `json:"quantity"`
}

// LineID is the stable identity of a (pharmacy, medicine) pair.
func LineID(pharmacyID, medicineID int64) string {
	return fmt.Sprintf("%d:%d", pharmacyID, medicineID)
}

func (l CartLine) Subtotal() float64 {
	return l.UnitPrice * float64(l.Quantity)
}

func (l CartLine) Validate() error {
	if l.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if l.UnitPrice < 0 {
		return ErrNegativePrice
	}
	return nil
}

// PharmacyGroup is a derived view over the lines of one pharmacy. It is never stored.
type PharmacyGroup struct {
	PharmacyID   int64      `json:"pharmacy_id"`
	PharmacyName string     `json:"pharmacy_name"`
	Lines        []CartLine `json:"lines"`
	Subtotal     float64    `json:"subtotal"`
	ItemCount    int        `json:"item_count"`
}

type CartView struct {
	Groups     []PharmacyGroup `json:"groups"`
	ItemCount  int             `json:"item_count"`
	GrandTotal float64         `json:"grand_total"`
}

// Group returns the group for pharmacyID, if present.
func (v CartView) Group(pharmacyID int64) (PharmacyGroup, bool) {
	for _, g := range v.Groups {
		if g.PharmacyID == pharmacyID {
			return g, true
		}
	}
	return PharmacyGroup{}, false
}
