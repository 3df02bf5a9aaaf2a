package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
)

type cartItem struct {
	PharmacyID   int64   `json:"pharmacy_id"`
	PharmacyName string  `json:"pharmacy_name"`
	MedicineID   int64   `json:"medicine_id"`
	MedicineName string  `json:"medicine_name"`
	Price        float64 `json:"price"`
	Quantity     int     `json:"quantity"`
}

type cartResponse struct {
	Items []cartItem `json:"items"`
}

type addToCartRequest struct {
	PharmacyID int64 `json:"pharmacy_id"`
	MedicineID int64 `json:"medicine_id"`
	Quantity   int   `json:"quantity"`
}

// GetCart returns the server-side cart as cart lines.
func (c *Client) GetCart(ctx context.Context) ([]domain.CartLine, error) {
	var resp cartResponse
	if err := c.call(ctx, request{op: "get_cart", method: http.MethodGet, path: "/cart"}, &resp); err != nil {
		return nil, err
	}
	lines := make([]domain.CartLine, 0, len(resp.Items))
	for _, it := range resp.Items {
		lines = append(lines, domain.CartLine{
			ID:           domain.LineID(it.PharmacyID, it.MedicineID),
			PharmacyID:   it.PharmacyID,
			PharmacyName: it.PharmacyName,
			MedicineID:   it.MedicineID,
			MedicineName: it.MedicineName,
			UnitPrice:    it.Price,
			Quantity:     it.Quantity,
		})
	}
	return lines, nil
}

func (c *Client) AddToCart(ctx context.Context, pharmacyID, medicineID int64, quantity int) error {
	payload, err := json.Marshal(addToCartRequest{PharmacyID: pharmacyID, MedicineID: medicineID, Quantity: quantity})
	if err != nil {
		return fmt.Errorf("failed to marshal cart item: %w", err)
	}
	return c.call(ctx, request{
		op:          "add_to_cart",
		method:      http.MethodPost,
		path:        "/cart",
		body:        bytes.NewReader(payload),
		contentType: "application/json",
	}, nil)
}

func (c *Client) RemoveFromCart(ctx context.Context, pharmacyID, medicineID int64) error {
	return c.call(ctx, request{
		op:     "remove_from_cart",
		method: http.MethodDelete,
		path:   fmt.Sprintf("/cart/%d?pharmacy_id=%d", medicineID, pharmacyID),
	}, nil)
}
