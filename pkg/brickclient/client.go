/**
 * @description
 * This package provides a thin client for the Brick bank-aggregation API.
 * It covers the handful of calls kudoku-server needs to link a bank, e-wallet or
 * pay-later account and pull its balance and transaction feed.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact decoding of Brick amounts.
 */
package brickclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Client is a client for the Brick API.
type Client struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// NewClient creates a new Brick API client.
func NewClient(baseURL, clientID, clientSecret string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from Brick.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("brick api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("brick api error: status %d: %s", e.StatusCode, e.Message)
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Institution is a bank or wallet provider supported by Brick.
type Institution struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	BankCode        string `json:"bank_code"`
	InstitutionType string `json:"institution_type"`
	CountryName     string `json:"country_name"`
}

// LoginResult is the outcome of authenticating a user against an institution.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
}

// Account is one account behind a user access token.
type Account struct {
	AccountID     string `json:"accountId"`
	AccountHolder string `json:"accountHolder"`
	AccountNumber string `json:"accountNumber"`
	Currency      string `json:"currency"`
	Balances      struct {
		Available decimal.Decimal `json:"available"`
		Current   decimal.Decimal `json:"current"`
	} `json:"balances"`
}

// Transaction is one entry of an account's feed.
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	ReferenceID string          `json:"reference_id"`
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Direction   string          `json:"direction"`
	Status      string          `json:"status"`
}

// ParsedDate returns the transaction date, tolerating both date-only and RFC 3339 values.
func (t Transaction) ParsedDate() (time.Time, error) {
	if parsed, err := time.Parse(dateLayout, t.Date); err == nil {
		return parsed, nil
	}
	return time.Parse(time.RFC3339, t.Date)
}

// IsIncoming reports whether the feed marks the entry as money in.
func (t Transaction) IsIncoming() bool {
	switch strings.ToLower(strings.TrimSpace(t.Direction)) {
	case "in", "credit", "cr":
		return true
	}
	return false
}

// GetClientToken exchanges the client credentials for a public access token.
func (c *Client) GetClientToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/auth/token", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)

	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(req, "client_token", &data); err != nil {
		return "", err
	}
	return data.AccessToken, nil
}

// ListInstitutions returns every institution the client may link.
func (c *Client) ListInstitutions(ctx context.Context, publicToken string) ([]Institution, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/institution/list", publicToken, nil)
	if err != nil {
		return nil, err
	}
	var institutions []Institution
	if err := c.do(req, "list_institutions", &institutions); err != nil {
		return nil, err
	}
	return institutions, nil
}

// Login authenticates a user's banking credentials and returns a user access token.
func (c *Client) Login(ctx context.Context, publicToken string, institutionID int64, username, password string) (*LoginResult, error) {
	payload := map[string]any{
		"institution_id": institutionID,
		"username":       username,
		"password":       password,
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/auth", publicToken, payload)
	if err != nil {
		return nil, err
	}
	var result LoginResult
	if err := c.do(req, "login", &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, &APIError{StatusCode: http.StatusBadGateway, Message: "login response missing access token"}
	}
	return &result, nil
}

// ListAccounts returns the accounts reachable with a user access token.
func (c *Client) ListAccounts(ctx context.Context, userToken string) ([]Account, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/account/list", userToken, nil)
	if err != nil {
		return nil, err
	}
	var accounts []Account
	if err := c.do(req, "list_accounts", &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListTransactions returns the feed between from and to, inclusive, by calendar date.
func (c *Client) ListTransactions(ctx context.Context, userToken string, from, to time.Time) ([]Transaction, error) {
	query := url.Values{}
	query.Set("from", from.UTC().Format(dateLayout))
	query.Set("to", to.UTC().Format(dateLayout))
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/transaction/list?"+query.Encode(), userToken, nil)
	if err != nil {
		return nil, err
	}
	var transactions []Transaction
	if err := c.do(req, "list_transactions", &transactions); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(bodyBytes, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := env.Message
		if decodeErr != nil {
			message = strings.TrimSpace(string(bodyBytes))
		}
		log.Printf("level=warn component=brick_client op=%s status=%d msg=%q", op, resp.StatusCode, message)
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, decodeErr)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", op, err)
	}
	return nil
}
