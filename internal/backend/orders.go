package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
)

type OrderRequest struct {
	PharmacyID            int64
	Draft                 domain.OrderDraft
	Method                domain.PaymentMethod
	ProviderTransactionID string
}

type OrderConfirmation struct {
	OrderID string
	Message string
}

type initiateResponse struct {
	Message string  `json:"message"`
	OrderID orderID `json:"order_id"`
}

// orderID accepts both numeric and string ids.
type orderID string

func (o *orderID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*o = orderID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("order_id is neither string nor number: %w", err)
	}
	*o = orderID(n.String())
	return nil
}

// InitiateOrder submits the order as one multipart request so prescription files
// travel with the form fields.
func (c *Client) InitiateOrder(ctx context.Context, req OrderRequest) (OrderConfirmation, error) {
	body, contentType, err := encodeOrder(req)
	if err != nil {
		return OrderConfirmation{}, fmt.Errorf("failed to encode order: %w", err)
	}

	var resp initiateResponse
	err = c.call(ctx, request{
		op:          "initiate_order",
		method:      http.MethodPost,
		path:        fmt.Sprintf("/checkout/%d/initiate", req.PharmacyID),
		body:        body,
		contentType: contentType,
	}, &resp)
	if err != nil {
		return OrderConfirmation{}, err
	}
	return OrderConfirmation{OrderID: string(resp.OrderID), Message: resp.Message}, nil
}

func encodeOrder(req OrderRequest) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	prescription := "0"
	if req.Draft.PrescriptionRequired {
		prescription = "1"
	}
	fields := [][2]string{
		{"payment_method", string(req.Method)},
		{"billing_address", req.Draft.BillingAddress},
		{"shipping_address", req.Draft.ShippingAddress},
		{"phone", req.Draft.Phone},
		{"notes", req.Draft.Notes},
		{"prescription_required", prescription},
	}
	if req.ProviderTransactionID != "" {
		fields = append(fields, [2]string{"paypal_transaction_id", req.ProviderTransactionID})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	for i, file := range req.Draft.PrescriptionFiles {
		name := file.Name
		if name == "" {
			name = "prescription-" + strconv.Itoa(i+1)
		}
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="prescription_files[]"; filename="%s"`, escapeQuotes(name)))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
