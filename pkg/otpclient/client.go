// Package otpclient is a thin client for a Twilio Verify compatible one-time-code API.
package otpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const statusApproved = "approved"

// Client sends and checks verification codes.
type Client struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	ServiceSID string
	HTTPClient *http.Client
}

func NewClient(baseURL, accountSID, authToken, serviceSID string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AccountSID: accountSID,
		AuthToken:  authToken,
		ServiceSID: serviceSID,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("otp provider error: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
}

type verificationResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Channel string `json:"channel"`
	Valid   bool   `json:"valid"`
}

// Send starts a verification on channel ("sms" or "email") for the destination.
func (c *Client) Send(ctx context.Context, channel, to string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("Channel", channel)

	var resp verificationResponse
	if err := c.post(ctx, "Verifications", form, &resp); err != nil {
		return err
	}
	log.Printf("level=info component=otp_client op=send channel=%s status=%s", channel, resp.Status)
	return nil
}

// Check reports whether code is the current valid code for the destination.
func (c *Client) Check(ctx context.Context, to, code string) (bool, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("Code", code)

	var resp verificationResponse
	if err := c.post(ctx, "VerificationCheck", form, &resp); err != nil {
		// An expired or already-consumed verification is a failed check, not an outage.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return resp.Status == statusApproved, nil
}

func (c *Client) post(ctx context.Context, resource string, form url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/v2/Services/%s/%s", c.BaseURL, c.ServiceSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create otp request: %w", err)
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute otp request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read otp response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var providerErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &providerErr)
		log.Printf("level=warn component=otp_client op=%s status=%d code=%d", resource, resp.StatusCode, providerErr.Code)
		return &APIError{StatusCode: resp.StatusCode, Code: providerErr.Code, Message: providerErr.Message}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode otp response: %w", err)
	}
	return nil
}
