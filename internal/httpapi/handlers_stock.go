package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kasirstok/backend/internal/domain"
)

type deactivateRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.AdjustStock(r.Context(), chi.URLParam(r, "id"), req.Delta)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockReceiptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ProductID = chi.URLParam(r, "id")

	receipt, err := a.service.ReceiveStock(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) handleListUnits(w http.ResponseWriter, r *http.Request) {
	status := domain.UnitStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	units, err := a.service.ListUnits(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": units})
}

func (a *API) handleCreateUnit(w http.ResponseWriter, r *http.Request) {
	var req domain.StockUnitCreateRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ProductID = chi.URLParam(r, "id")

	unit, err := a.service.CreateUnit(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, unit)
}

func (a *API) handleGhostCleanup(w http.ResponseWriter, r *http.Request) {
	cleaned, err := a.service.CleanupGhostUnits(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.PurgeResult{Deleted: cleaned})
}

func (a *API) handleFindUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := a.service.FindUnitByBarcode(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (a *API) handleDeactivateUnit(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	unit, err := a.service.DeactivateUnit(r.Context(), domain.UnitRef{ID: chi.URLParam(r, "id")}, req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (a *API) handleReactivateUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := a.service.ReactivateUnit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (a *API) handlePurgeInactive(w http.ResponseWriter, r *http.Request) {
	var req domain.PurgeInactiveRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	deleted, err := a.service.PurgeInactiveUnits(r.Context(), req.ProductID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.PurgeResult{Deleted: deleted})
}

func (a *API) handlePurgeExpired(w http.ResponseWriter, r *http.Request) {
	var req domain.PurgeExpiredRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asOf, err := parseAsOf(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	deleted, err := a.service.PurgeExpired(r.Context(), asOf)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.PurgeResult{Deleted: deleted})
}

// parseAsOf accepts RFC3339 or a plain date and defaults to now.
func parseAsOf(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("as_of must be RFC3339 or YYYY-MM-DD: %q", raw)
	}
	return t, nil
}
