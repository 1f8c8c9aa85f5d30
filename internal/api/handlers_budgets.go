package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kudokuapp/kudoku-server/internal/app"
	"github.com/kudokuapp/kudoku-server/internal/domain"
)

func (h *Handlers) ListMerchantsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, "list_merchants", err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeServiceError(w, "list_merchants", err)
		return
	}

	merchants, err := h.service.ListMerchants(r.Context(), r.URL.Query().Get("search"), limit, offset)
	if err != nil {
		writeServiceError(w, "list_merchants", err)
		return
	}
	writeJSON(w, http.StatusOK, merchants)
}

func (h *Handlers) CreateMerchantHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.MerchantRequest
	if !decodeBody(w, r, "create_merchant", &req) {
		return
	}

	merchant, err := h.service.CreateMerchant(r.Context(), req)
	if err != nil {
		writeServiceError(w, "create_merchant", err)
		return
	}
	writeJSON(w, http.StatusCreated, merchant)
}

func (h *Handlers) GetMerchantHandler(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	merchant, err := h.service.GetMerchant(r.Context(), merchantID)
	if err != nil {
		writeServiceError(w, "get_merchant", err)
		return
	}
	writeJSON(w, http.StatusOK, merchant)
}

func (h *Handlers) UpdateMerchantHandler(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.MerchantRequest
	if !decodeBody(w, r, "update_merchant", &req) {
		return
	}

	merchant, err := h.service.UpdateMerchant(r.Context(), merchantID, req)
	if err != nil {
		writeServiceError(w, "update_merchant", err)
		return
	}
	writeJSON(w, http.StatusOK, merchant)
}

func (h *Handlers) DeleteMerchantHandler(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteMerchant(r.Context(), merchantID); err != nil {
		writeServiceError(w, "delete_merchant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListBudgetsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	budgets, err := h.service.ListBudgets(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "list_budgets", err)
		return
	}
	writeJSON(w, http.StatusOK, budgets)
}

func (h *Handlers) CreateBudgetHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req domain.BudgetRequest
	if !decodeBody(w, r, "create_budget", &req) {
		return
	}

	budget, err := h.service.CreateBudget(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, "create_budget", err)
		return
	}
	writeJSON(w, http.StatusCreated, budget)
}

func (h *Handlers) GetBudgetHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	budgetID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	budget, err := h.service.GetBudget(r.Context(), userID, budgetID)
	if err != nil {
		writeServiceError(w, "get_budget", err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

func (h *Handlers) UpdateBudgetHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	budgetID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.BudgetRequest
	if !decodeBody(w, r, "update_budget", &req) {
		return
	}

	budget, err := h.service.UpdateBudget(r.Context(), userID, budgetID, req)
	if err != nil {
		writeServiceError(w, "update_budget", err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

func (h *Handlers) DeleteBudgetHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	budgetID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteBudget(r.Context(), userID, budgetID); err != nil {
		writeServiceError(w, "delete_budget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BudgetSummaryHandler reports spending for the period containing ?at= (default now).
func (h *Handlers) BudgetSummaryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	budgetID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var at time.Time
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeServiceError(w, "budget_summary", fmt.Errorf("%w: at must be an RFC 3339 timestamp", app.ErrInvalidInput))
			return
		}
		at = parsed
	}

	summary, err := h.service.BudgetSummary(r.Context(), userID, budgetID, at)
	if err != nil {
		writeServiceError(w, "budget_summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
