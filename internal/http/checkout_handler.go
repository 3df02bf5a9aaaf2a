package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"github.com/mostafaomar7/tadawi-checkout/internal/logger"
	"github.com/mostafaomar7/tadawi-checkout/internal/service"
	"go.uber.org/zap"
)

const prescriptionField = "file"

type CheckoutHandler struct {
	sessions       SessionSource
	timeout        time.Duration
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewCheckoutHandler(sessions SessionSource, timeout time.Duration, maxUploadBytes int64, logger *zap.Logger) *CheckoutHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &CheckoutHandler{
		sessions:       sessions,
		timeout:        timeout,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

type DraftRequestDTO struct {
	BillingAddress  string `json:"billing_address"`
	ShippingAddress string `json:"shipping_address"`
	Phone           string `json:"phone"`
	Notes           string `json:"notes"`
}

type MethodRequestDTO struct {
	Method string `json:"method"`
}

type ProviderErrorRequestDTO struct {
	Message string `json:"message"`
}

type IncidentsResponseDTO struct {
	Incidents []*domain.Incident `json:"incidents"`
}

// checkout resolves the open checkout addressed by the URL. It writes the error
// response itself and returns nil when there is none.
func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) *service.Coordinator {
	s := h.session(w, r)
	if s == nil {
		return nil
	}
	pharmacyID, ok := pharmacyParam(w, r)
	if !ok {
		return nil
	}
	coord, err := s.Checkout(pharmacyID)
	if err != nil {
		handleError(w, logger.FromContext(r.Context(), h.logger), err, nil)
		return nil
	}
	return coord
}

func (h *CheckoutHandler) session(w http.ResponseWriter, r *http.Request) *service.Session {
	patientID := getPatientID(r.Context())
	if patientID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing patient authentication")
		return nil
	}
	return h.sessions.Session(patientID)
}

func (h *CheckoutHandler) respondView(w http.ResponseWriter, r *http.Request, status int, view service.View, err error) {
	if err != nil {
		handleError(w, logger.FromContext(r.Context(), h.logger), err, &view)
		return
	}
	respondJSON(w, status, view)
}

// Open validates the pharmacy group and loads its summary. Ineligible groups come
// back as a FAILED checkout with the backend's reason.
func (h *CheckoutHandler) Open(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.session(w, r)
	if s == nil {
		return
	}
	pharmacyID, ok := pharmacyParam(w, r)
	if !ok {
		return
	}
	view, err := s.OpenCheckout(ctx, pharmacyID)
	h.respondView(w, r, http.StatusOK, view, err)
}

func (h *CheckoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	coord := h.checkout(w, r)
	if coord == nil {
		return
	}
	respondJSON(w, http.StatusOK, coord.View())
}

func (h *CheckoutHandler) Leave(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	pharmacyID, ok := pharmacyParam(w, r)
	if !ok {
		return
	}
	if err := s.LeaveCheckout(pharmacyID); err != nil {
		handleError(w, logger.FromContext(r.Context(), h.logger), err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	coord := h.checkout(w, r)
	if coord == nil {
		return
	}
	var req DraftRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	view, err := coord.UpdateDraft(domain.OrderDraft{
		BillingAddress:  req.BillingAddress,
		ShippingAddress: req.ShippingAddress,
		Phone:           req.Phone,
		Notes:           req.Notes,
	})
	h.respondView(w, r, http.StatusOK, view, err)
}

// AddPrescription accepts one prescription image or document as multipart field "file".
func (h *CheckoutHandler) AddPrescription(w http.ResponseWriter, r *http.Request) {
	coord := h.checkout(w, r)
	if coord == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "file_too_large", "prescription file is too large")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(prescriptionField)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing prescription file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "unreadable prescription file")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	view, err := coord.AddPrescription(domain.PrescriptionFile{
		Name:        header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	h.respondView(w, r, http.StatusCreated, view, err)
}

func (h *CheckoutHandler) SelectMethod(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	coord := h.checkout(w, r)
	if coord == nil {
		return
	}
	var req MethodRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	method, err := domain.ParsePaymentMethod(req.Method)
	if err != nil {
		view := coord.View()
		handleError(w, logger.FromContext(ctx, h.logger), &service.ValidationError{
			Fields: domain.FieldErrors{"payment_method": {err.Error()}},
		}, &view)
		return
	}
	view, err := coord.SelectMethod(ctx, method)
	h.respondView(w, r, http.StatusOK, view, err)
}

// SubmitCash places the cash order. The call is not retried on failure.
func (h *CheckoutHandler) SubmitCash(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	coord := h.checkout(w, r)
	if coord == nil {
		return
	}
	view, err := coord.SubmitCash(ctx)
	h.respondView(w, r, http.StatusOK, view, err)
}

func (h *CheckoutHandler) ClickGateway(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	coord := h.checkout(w, r)
	if coord == nil {
		return
	}
	view, err := coord.ClickGateway(ctx)
	h.respondView(w, r, http.StatusOK, view, err)
}

// Approve captures the approved provider order and submits the pharmacy order. The
// capture keeps running past a dropped request.
func (h *CheckoutHandler) Approve(w http.ResponseWriter, r *http.Request) {
	coord := h.checkout(w, r)
	if coord == nil {
		return
	}
	var req service.ApproveDetails
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProviderOrderID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "order_id is required")
		return
	}
	view, err := coord.Approve(r.Context(), req)
	h.respondView(w, r, http.StatusOK, view, err)
}

func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	coord := h.checkout(w, r)
	if coord == nil {
		return
	}
	view, err := coord.Cancel()
	h.respondView(w, r, http.StatusOK, view, err)
}

// ProviderError records the provider SDK's onError. The reported failure is the
// expected outcome, so it is answered with the resulting view.
func (h *CheckoutHandler) ProviderError(w http.ResponseWriter, r *http.Request) {
	coord := h.checkout(w, r)
	if coord == nil {
		return
	}
	var req ProviderErrorRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	view, err := coord.ProviderFailed(req.Message)
	var reported *service.ProviderError
	if errors.As(err, &reported) {
		err = nil
	}
	h.respondView(w, r, http.StatusOK, view, err)
}

// Incidents lists payments captured without an order that are still unresolved.
func (h *CheckoutHandler) Incidents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.session(w, r)
	if s == nil {
		return
	}
	incidents, err := s.Incidents(ctx)
	if err != nil {
		handleError(w, logger.FromContext(ctx, h.logger), err, nil)
		return
	}
	if incidents == nil {
		incidents = []*domain.Incident{}
	}
	respondJSON(w, http.StatusOK, IncidentsResponseDTO{Incidents: incidents})
}
