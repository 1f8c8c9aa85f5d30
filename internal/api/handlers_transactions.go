package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/app"
	"github.com/kudokuapp/kudoku-server/internal/domain"
)

// parseTransactionFilter reads from, to (RFC 3339), limit and offset from the query string.
func parseTransactionFilter(r *http.Request) (domain.TransactionFilter, error) {
	var filter domain.TransactionFilter
	query := r.URL.Query()

	for _, bound := range []struct {
		key string
		dst **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := query.Get(bound.key)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", app.ErrInvalidInput, bound.key)
		}
		*bound.dst = &parsed
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		return filter, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	filter.Offset = offset

	if raw := query.Get("account_id"); raw != "" {
		accountID, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid account_id", app.ErrInvalidInput)
		}
		filter.AccountID = &accountID
	}
	return filter, nil
}

func (h *Handlers) listTransactions(w http.ResponseWriter, r *http.Request, endpoint string, accountID *uuid.UUID) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	filter, err := parseTransactionFilter(r)
	if err != nil {
		writeServiceError(w, endpoint, err)
		return
	}
	if accountID != nil {
		filter.AccountID = accountID
	}

	txs, err := h.service.ListTransactions(r.Context(), userID, filter)
	if err != nil {
		writeServiceError(w, endpoint, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransactionResponses(txs))
}

func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	h.listTransactions(w, r, "list_transactions", nil)
}

func (h *Handlers) ListAccountTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.listTransactions(w, r, "list_account_transactions", &accountID)
}

// CreateTransactionHandler records a user-entered transaction on a manual account.
func (h *Handlers) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req domain.CreateTransactionRequest
	if !decodeBody(w, r, "create_transaction", &req) {
		return
	}

	log.Printf("level=info component=api endpoint=create_transaction outcome=accepted user_id=%s account_id=%s direction=%s amount=%s", userID, req.AccountID, req.Direction, req.Amount)
	tx, err := h.service.CreateTransaction(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, "create_transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toTransactionResponse(tx))
}

func (h *Handlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	transactionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), userID, transactionID)
	if err != nil {
		writeServiceError(w, "get_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransactionResponse(tx))
}

// EditTransactionHandler applies a merge patch to a transaction.
func (h *Handlers) EditTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	transactionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.EditTransactionRequest
	if !decodeBody(w, r, "edit_transaction", &req) {
		return
	}

	tx, err := h.service.EditTransaction(r.Context(), userID, transactionID, req)
	if err != nil {
		writeServiceError(w, "edit_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransactionResponse(tx))
}

func (h *Handlers) DeleteTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	transactionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteTransaction(r.Context(), userID, transactionID); err != nil {
		writeServiceError(w, "delete_transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SelectInternalTransferHandler links the transaction to an existing bank-fed counterpart.
func (h *Handlers) SelectInternalTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	transactionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.SelectInternalTransferRequest
	if !decodeBody(w, r, "select_internal_transfer", &req) {
		return
	}

	result, err := h.service.SelectInternalTransfer(r.Context(), userID, transactionID, req)
	if err != nil {
		writeServiceError(w, "select_internal_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, internalTransferResponse{
		From: h.toTransactionResponse(result.From),
		To:   h.toTransactionResponse(result.To),
	})
}

// CreateInternalTransferHandler creates the incoming leg on a cash or e-money account.
func (h *Handlers) CreateInternalTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	transactionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.CreateInternalTransferRequest
	if !decodeBody(w, r, "create_internal_transfer", &req) {
		return
	}

	result, err := h.service.CreateInternalTransfer(r.Context(), userID, transactionID, req)
	if err != nil {
		writeServiceError(w, "create_internal_transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, internalTransferResponse{
		From: h.toTransactionResponse(result.From),
		To:   h.toTransactionResponse(result.To),
	})
}
