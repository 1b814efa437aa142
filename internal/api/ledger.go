package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bizledger/domain"
	"bizledger/internal/ledger"
)

// Sale handlers

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleOwner, RoleEmployee) {
		return
	}
	var header domain.SaleHeader
	if err := decodeJSON(r, &header); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.claimBusiness(w, r, &header.BusinessID) {
		return
	}
	if header.SoldBy == "" {
		header.SoldBy = userID(r)
	}

	id, err := h.store.InsertSale(r.Context(), header)
	if err != nil {
		h.respondLedgerError(w, r, err, id)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type saleResponse struct {
	Sale  domain.SaleHeader `json:"sale"`
	Items []domain.SaleItem `json:"items"`
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	header, items, err := h.store.GetSale(r.Context(), businessID(r), chi.URLParam(r, "localID"))
	if err != nil {
		h.respondLedgerError(w, r, err, "")
		return
	}
	respondJSON(w, http.StatusOK, saleResponse{Sale: header, Items: items})
}

type saleItemsRequest struct {
	Items []domain.SaleItem `json:"items"`
}

func (h *Handler) addSaleItems(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleOwner, RoleEmployee) {
		return
	}
	saleID := chi.URLParam(r, "id")
	owner, err := h.store.SaleBusiness(r.Context(), saleID)
	if err == nil && owner != businessID(r) {
		err = ledger.ErrSaleNotFound
	}
	if err != nil {
		h.respondLedgerError(w, r, err, "")
		return
	}

	var req saleItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.InsertSaleItems(r.Context(), saleID, req.Items); err != nil {
		h.respondLedgerError(w, r, err, "")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"sale_id": saleID, "items": len(req.Items)})
}

// Debt handlers

func (h *Handler) createDebt(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleOwner, RoleEmployee) {
		return
	}
	var debt domain.Debt
	if err := decodeJSON(r, &debt); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.claimBusiness(w, r, &debt.BusinessID) {
		return
	}
	if debt.DebtType != "" && !domain.ValidDebtType(debt.DebtType) {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "debt_type must be customer_debt or business_debt", Code: ledger.CodeInvalid})
		return
	}
	if debt.RecordedBy == "" {
		debt.RecordedBy = userID(r)
	}

	id, err := h.store.InsertDebt(r.Context(), debt)
	if err != nil {
		h.respondLedgerError(w, r, err, id)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) listDebts(w http.ResponseWriter, r *http.Request) {
	status := domain.DebtStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", domain.DebtActive, domain.DebtPaid, domain.DebtCancelled:
	default:
		respondError(w, http.StatusBadRequest, "status must be active, paid or cancelled")
		return
	}

	debts, err := h.store.ListDebts(r.Context(), businessID(r), status)
	if err != nil {
		h.respondLedgerError(w, r, err, "")
		return
	}
	respondJSON(w, http.StatusOK, debts)
}

func (h *Handler) getDebt(w http.ResponseWriter, r *http.Request) {
	debt, ok := h.ownedDebt(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, debt)
}

func (h *Handler) applyPayment(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleOwner, RoleEmployee) {
		return
	}
	var write ledger.PaymentWrite
	if err := decodeJSON(r, &write); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	debtID := chi.URLParam(r, "id")
	if write.DebtID == "" {
		write.DebtID = debtID
	}
	if write.DebtID != debtID {
		respondError(w, http.StatusBadRequest, "debt_id does not match path")
		return
	}
	if _, ok := h.ownedDebt(w, r); !ok {
		return
	}

	write.Payment.DebtID = debtID
	if write.Payment.RecordedBy == "" {
		write.Payment.RecordedBy = userID(r)
	}
	if !write.Payment.PaymentMethod.Valid() || write.Payment.PaymentMethod.IsCredit() {
		respondError(w, http.StatusBadRequest, "payment_method must be cash, card, mobile_money or bank_transfer")
		return
	}

	updated, err := h.store.ApplyDebtPayment(r.Context(), write)
	if err != nil {
		h.respondLedgerError(w, r, err, "")
		return
	}
	h.logger.Info().Str("debt_id", debtID).Str("payment_id", write.Payment.ID).Stringer("write", write).Msg("debt payment recorded")
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	debt, ok := h.ownedDebt(w, r)
	if !ok {
		return
	}
	payments, err := h.store.ListDebtPayments(r.Context(), debt.ID)
	if err != nil {
		h.respondLedgerError(w, r, err, "")
		return
	}
	respondJSON(w, http.StatusOK, payments)
}

// ownedDebt loads the debt named in the path. Debts of other businesses are
// reported as not found.
func (h *Handler) ownedDebt(w http.ResponseWriter, r *http.Request) (domain.Debt, bool) {
	debt, err := h.store.GetDebt(r.Context(), chi.URLParam(r, "id"))
	if err == nil && debt.BusinessID != businessID(r) {
		err = ledger.ErrDebtNotFound
	}
	if err != nil {
		h.respondLedgerError(w, r, err, "")
		return domain.Debt{}, false
	}
	return debt, true
}

// claimBusiness fills an empty business id from the token and rejects writes
// for any other business.
func (h *Handler) claimBusiness(w http.ResponseWriter, r *http.Request, id *string) bool {
	current := businessID(r)
	if *id == "" {
		*id = current
		return true
	}
	if *id != current {
		respondError(w, http.StatusForbidden, "business does not match token")
		return false
	}
	return true
}

// Reports

func (h *Handler) dailySales(w http.ResponseWriter, r *http.Request) {
	day := h.now().UTC().Truncate(24 * time.Hour)
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "date must be in YYYY-MM-DD format")
			return
		}
		day = parsed
	}
	h.respondSummary(w, r, day, day.AddDate(0, 0, 1))
}

func (h *Handler) monthlySales(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	h.respondSummary(w, r, start, start.AddDate(0, 1, 0))
}

func (h *Handler) salesReport(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, RoleOwner) {
		return
	}

	now := h.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := now.Truncate(24 * time.Hour)

	if raw := strings.TrimSpace(r.URL.Query().Get("start_date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "start_date must be in YYYY-MM-DD format")
			return
		}
		start = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("end_date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "end_date must be in YYYY-MM-DD format")
			return
		}
		end = parsed
	}
	if end.Before(start) {
		respondError(w, http.StatusBadRequest, "end_date must not be before start_date")
		return
	}
	h.respondSummary(w, r, start, end.AddDate(0, 0, 1))
}

func (h *Handler) respondSummary(w http.ResponseWriter, r *http.Request, from, to time.Time) {
	summary, err := h.store.SummarizeSales(r.Context(), businessID(r), from, to)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid report range")
			return
		}
		h.respondLedgerError(w, r, err, "")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
