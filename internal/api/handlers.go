/**
 * @description
 * This file contains the shared plumbing of the kudoku-server HTTP handlers: the
 * handler set, response DTOs that add obfuscated account references, request
 * decoding and the mapping from service errors to HTTP statuses.
 *
 * @dependencies
 * - internal/app, internal/domain, internal/store: service logic, models and sentinel errors.
 * - pkg/accountref: signed account references exposed to clients.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/app"
	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/kudokuapp/kudoku-server/internal/store"
	"github.com/kudokuapp/kudoku-server/pkg/accountref"
	"github.com/kudokuapp/kudoku-server/pkg/brickclient"
	"github.com/kudokuapp/kudoku-server/pkg/otpclient"
)

const maxRequestBodyBytes = 1 << 20

// Handlers holds the application service and the account reference codec.
type Handlers struct {
	service *app.Service
	refs    *accountref.Codec
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service, refs *accountref.Codec) *Handlers {
	return &Handlers{service: service, refs: refs}
}

type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type accountResponse struct {
	domain.Account
	Ref string `json:"ref,omitempty"`
}

type transactionResponse struct {
	domain.Transaction
	AccountRef string `json:"account_ref,omitempty"`
}

type reconcileResponse struct {
	Account     accountResponse     `json:"account"`
	Transaction transactionResponse `json:"transaction"`
}

type internalTransferResponse struct {
	From transactionResponse `json:"from"`
	To   transactionResponse `json:"to"`
}

type syncResponse struct {
	Account  accountResponse `json:"account"`
	Inserted int             `json:"inserted"`
}

// accountRef returns an empty string when no secret is configured for the type.
func (h *Handlers) accountRef(accountType domain.AccountType, id uuid.UUID) string {
	if h.refs == nil {
		return ""
	}
	ref, err := h.refs.Encode(string(accountType), id)
	if err != nil {
		return ""
	}
	return ref
}

func (h *Handlers) toAccountResponse(account *domain.Account) accountResponse {
	return accountResponse{Account: *account, Ref: h.accountRef(account.Type, account.ID)}
}

func (h *Handlers) toAccountResponses(accounts []domain.Account) []accountResponse {
	out := make([]accountResponse, 0, len(accounts))
	for i := range accounts {
		out = append(out, h.toAccountResponse(&accounts[i]))
	}
	return out
}

func (h *Handlers) toTransactionResponse(tx *domain.Transaction) transactionResponse {
	return transactionResponse{Transaction: *tx, AccountRef: h.accountRef(tx.AccountType, tx.AccountID)}
}

func (h *Handlers) toTransactionResponses(txs []domain.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txs))
	for i := range txs {
		out = append(out, h.toTransactionResponse(&txs[i]))
	}
	return out
}

// requireUser writes 401 and returns false when the context carries no user.
func requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return uuid.Nil, false
	}
	return userID, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", param))
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody decodes a JSON request body and writes 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, endpoint string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=invalid_json err=%v", endpoint, err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", app.ErrInvalidInput, key)
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Status: status, Message: message})
}

// errorStatus maps a service error onto an HTTP status and a client-safe message.
// ok is false for errors that are not part of the API contract.
func errorStatus(err error) (status int, message string, ok bool) {
	var rateLimited *app.RateLimitError
	var brickErr *brickclient.APIError
	var otpErr *otpclient.APIError

	switch {
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests, app.ErrRateLimited.Error(), true

	case errors.Is(err, app.ErrUnauthorized),
		errors.Is(err, app.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error(), true

	case errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrProfileNotFound),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrMerchantNotFound),
		errors.Is(err, store.ErrBudgetNotFound):
		return http.StatusNotFound, err.Error(), true

	case errors.Is(err, accountref.ErrInvalidRef),
		errors.Is(err, accountref.ErrTypeMismatch),
		errors.Is(err, accountref.ErrUnknownType):
		return http.StatusNotFound, store.ErrAccountNotFound.Error(), true

	case errors.Is(err, store.ErrDuplicateUser),
		errors.Is(err, store.ErrDuplicateMerchant),
		errors.Is(err, app.ErrDuplicateAccount),
		errors.Is(err, app.ErrAlreadyLinked):
		return http.StatusConflict, err.Error(), true

	case errors.Is(err, app.ErrInvalidInput),
		errors.Is(err, app.ErrOTPInvalid),
		errors.Is(err, app.ErrMerchantReferenceNotFound),
		errors.Is(err, app.ErrBudgetPlanExceedsTotal),
		errors.Is(err, app.ErrBudgetDuplicateCategory),
		errors.Is(err, domain.ErrNegativeAmount),
		errors.Is(err, domain.ErrCategorySumMismatch),
		errors.Is(err, domain.ErrTagSumExceeded),
		errors.Is(err, domain.ErrEmptyBreakdownName):
		return http.StatusBadRequest, err.Error(), true

	case errors.Is(err, app.ErrAutomaticAccountReadOnly),
		errors.Is(err, app.ErrFeedOwnedField),
		errors.Is(err, app.ErrTransferLegLocked),
		errors.Is(err, app.ErrReconcileNoop),
		errors.Is(err, app.ErrNotAutomaticAccount),
		errors.Is(err, app.ErrAccountNotLinked),
		errors.Is(err, app.ErrTransferSameAccount),
		errors.Is(err, app.ErrTransferTargetManual),
		errors.Is(err, app.ErrTransferTargetUnsupported),
		errors.Is(err, app.ErrTransferTargetAutomatic):
		return http.StatusUnprocessableEntity, err.Error(), true

	case errors.Is(err, app.ErrProviderNotConfigured):
		return http.StatusServiceUnavailable, err.Error(), true

	case errors.As(err, &brickErr):
		return http.StatusBadGateway, "Bank provider request failed", true

	case errors.As(err, &otpErr):
		return http.StatusBadGateway, "Verification provider request failed", true
	}
	return http.StatusInternalServerError, "Internal server error", false
}

// writeServiceError logs and writes the HTTP form of a service error.
func writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	status, message, known := errorStatus(err)
	if !known {
		log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
	} else {
		log.Printf("level=warn component=api endpoint=%s outcome=reject status=%d err=%v", endpoint, status, err)
	}

	var rateLimited *app.RateLimitError
	if errors.As(err, &rateLimited) && rateLimited.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
	}
	writeError(w, status, message)
}
