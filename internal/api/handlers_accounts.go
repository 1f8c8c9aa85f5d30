package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kudokuapp/kudoku-server/internal/domain"
)

// ListAccountsHandler lists the caller's accounts, optionally filtered by ?type=.
func (h *Handlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), userID, r.URL.Query().Get("type"))
	if err != nil {
		writeServiceError(w, "list_accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toAccountResponses(accounts))
}

// CreateAccountHandler creates a cash or e-money account.
func (h *Handlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req domain.CreateManualAccountRequest
	if !decodeBody(w, r, "create_account", &req) {
		return
	}

	account, err := h.service.CreateManualAccount(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, "create_account", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toAccountResponse(account))
}

// LinkAccountHandler links bank-fed accounts through Brick.
func (h *Handlers) LinkAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req domain.LinkAutomaticAccountRequest
	if !decodeBody(w, r, "link_account", &req) {
		return
	}

	log.Printf("level=info component=api endpoint=link_account outcome=accepted user_id=%s type=%s institution_id=%d", userID, req.Type, req.InstitutionID)
	accounts, err := h.service.LinkAutomaticAccount(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, "link_account", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toAccountResponses(accounts))
}

// GetAccountByRefHandler resolves an obfuscated account reference.
func (h *Handlers) GetAccountByRefHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountType, err := domain.ParseAccountType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.refs == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	accountID, err := h.refs.Decode(string(accountType), chi.URLParam(r, "ref"))
	if err != nil {
		writeServiceError(w, "get_account_by_ref", err)
		return
	}
	account, err := h.service.GetAccountByRef(r.Context(), userID, accountType, accountID)
	if err != nil {
		writeServiceError(w, "get_account_by_ref", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toAccountResponse(account))
}

func (h *Handlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	account, err := h.service.GetAccount(r.Context(), userID, accountID)
	if err != nil {
		writeServiceError(w, "get_account", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toAccountResponse(account))
}

func (h *Handlers) RenameAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.RenameAccountRequest
	if !decodeBody(w, r, "rename_account", &req) {
		return
	}

	account, err := h.service.RenameAccount(r.Context(), userID, accountID, req)
	if err != nil {
		writeServiceError(w, "rename_account", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toAccountResponse(account))
}

func (h *Handlers) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), userID, accountID); err != nil {
		writeServiceError(w, "delete_account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReconcileAccountHandler sets a new balance and records the difference.
func (h *Handlers) ReconcileAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.ReconcileRequest
	if !decodeBody(w, r, "reconcile_account", &req) {
		return
	}

	result, err := h.service.ReconcileAccount(r.Context(), userID, accountID, req.NewBalance)
	if err != nil {
		writeServiceError(w, "reconcile_account", err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{
		Account:     h.toAccountResponse(result.Account),
		Transaction: h.toTransactionResponse(result.Transaction),
	})
}

// SyncAccountHandler pulls the latest Brick feed for one account.
func (h *Handlers) SyncAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	account, inserted, err := h.service.SyncUserAccount(r.Context(), userID, accountID)
	if err != nil {
		writeServiceError(w, "sync_account", err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Account: h.toAccountResponse(account), Inserted: inserted})
}

func (h *Handlers) ListInstitutionsHandler(w http.ResponseWriter, r *http.Request) {
	institutions, err := h.service.ListInstitutions(r.Context())
	if err != nil {
		writeServiceError(w, "list_institutions", err)
		return
	}
	writeJSON(w, http.StatusOK, institutions)
}
