package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"github.com/mostafaomar7/tadawi-checkout/internal/logger"
	"github.com/mostafaomar7/tadawi-checkout/internal/service"
	"go.uber.org/zap"
)

// SessionSource hands out the per-patient engine.
type SessionSource interface {
	Session(patientID string) *service.Session
}

type CartHandler struct {
	sessions SessionSource
	timeout  time.Duration
	logger   *zap.Logger
}

func NewCartHandler(sessions SessionSource, timeout time.Duration, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		timeout:  timeout,
		logger:   logger,
	}
}

type AddLineRequestDTO struct {
	PharmacyID   int64   `json:"pharmacy_id"`
	PharmacyName string  `json:"pharmacy_name"`
	MedicineID   int64   `json:"medicine_id"`
	MedicineName string  `json:"medicine_name"`
	UnitPrice    float64 `json:"price"`
	Quantity     int     `json:"quantity"`
}

func (h *CartHandler) session(w http.ResponseWriter, r *http.Request) *service.Session {
	patientID := getPatientID(r.Context())
	if patientID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing patient authentication")
		return nil
	}
	return h.sessions.Session(patientID)
}

// GetCart returns the grouped cart. The first read of a session loads it from the
// backend; a failed load still answers with whatever could be restored.
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.session(w, r)
	if s == nil {
		return
	}
	if !s.Cart().Store().Loaded() {
		if err := s.Cart().Refresh(ctx); err != nil {
			logger.FromContext(ctx, h.logger).Warn("cart refresh failed", zap.Error(err))
		}
	}
	respondJSON(w, http.StatusOK, s.Cart().View())
}

func (h *CartHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.session(w, r)
	if s == nil {
		return
	}
	if err := s.Cart().Refresh(ctx); err != nil {
		handleError(w, logger.FromContext(ctx, h.logger), err, nil)
		return
	}
	respondJSON(w, http.StatusOK, s.Cart().View())
}

func (h *CartHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.session(w, r)
	if s == nil {
		return
	}

	var req AddLineRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.PharmacyID <= 0 || req.MedicineID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "pharmacy_id and medicine_id must be positive")
		return
	}
	if req.Quantity <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at least 1")
		return
	}

	line, err := s.Cart().AddItem(ctx, domain.CartLine{
		ID:           domain.LineID(req.PharmacyID, req.MedicineID),
		PharmacyID:   req.PharmacyID,
		PharmacyName: req.PharmacyName,
		MedicineID:   req.MedicineID,
		MedicineName: req.MedicineName,
		UnitPrice:    req.UnitPrice,
		Quantity:     req.Quantity,
	})
	if err != nil {
		handleError(w, logger.FromContext(ctx, h.logger), err, nil)
		return
	}
	respondJSON(w, http.StatusCreated, struct {
		Line domain.CartLine `json:"line"`
		Cart domain.CartView `json:"cart"`
	}{line, s.Cart().View()})
}

func (h *CartHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.session(w, r)
	if s == nil {
		return
	}
	if err := s.Cart().RemoveItem(ctx, chi.URLParam(r, "lineID")); err != nil {
		handleError(w, logger.FromContext(ctx, h.logger), err, nil)
		return
	}
	respondJSON(w, http.StatusOK, s.Cart().View())
}

func (h *CartHandler) ClearPharmacy(w http.ResponseWriter, r *http.Request) {
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
	if err := s.Cart().ClearPharmacy(ctx, pharmacyID); err != nil {
		handleError(w, logger.FromContext(ctx, h.logger), err, nil)
		return
	}
	respondJSON(w, http.StatusOK, s.Cart().View())
}

func pharmacyParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "pharmacyID"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_pharmacy_id", "pharmacy id must be a positive integer")
		return 0, false
	}
	return id, true
}
