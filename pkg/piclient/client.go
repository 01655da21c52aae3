/**
 * @description
 * This package provides a client for interacting with the Pi Platform API.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * platform's endpoints, handling request body construction, and parsing
 * responses. The client carries no retry or business logic; every operation
 * maps to exactly one remote call and surfaces success or failure per call.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, net/url, time: Standard Go libraries.
 */
package piclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

const (
	// ProductionBaseURL is the default Pi Platform API endpoint.
	ProductionBaseURL = "https://api.minepi.com"
	// SandboxBaseURL is the functionally identical sandbox endpoint.
	SandboxBaseURL = "https://api.sandbox.minepi.com"
)

// Client is a client for the Pi Platform API.
type Client struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

// NewClient creates a new Pi Platform API client. An empty baseURL selects the
// production endpoint; sandbox mode overrides any configured base URL.
func NewClient(baseURL, accessToken string, sandbox bool) *Client {
	if baseURL == "" {
		baseURL = ProductionBaseURL
	}
	if sandbox {
		baseURL = SandboxBaseURL
	}
	return &Client{
		BaseURL:     baseURL,
		AccessToken: accessToken,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// User is the authenticated identity returned by GET /v2/me.
type User struct {
	UID           string `json:"uid"`
	Username      string `json:"username"`
	WalletAddress string `json:"wallet_address"`
}

// Balance is the response from the wallet balance endpoint. Amounts are
// expressed in Pi as reported by the platform.
type Balance struct {
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
}

// PaymentStatus carries the lifecycle flags the platform reports for a payment.
type PaymentStatus struct {
	DeveloperApproved   bool `json:"developer_approved"`
	TransactionVerified bool `json:"transaction_verified"`
	DeveloperCompleted  bool `json:"developer_completed"`
	Cancelled           bool `json:"cancelled"`
	UserCancelled       bool `json:"user_cancelled"`
}

// PaymentTransaction is the on-chain transaction attached to a payment once
// the user has signed it.
type PaymentTransaction struct {
	TxID     string `json:"txid"`
	Verified bool   `json:"verified"`
}

// Payment is the platform's representation of one payment.
type Payment struct {
	Identifier  string              `json:"identifier"`
	UserUID     string              `json:"user_uid"`
	Amount      float64             `json:"amount"`
	Memo        string              `json:"memo"`
	Metadata    map[string]any      `json:"metadata"`
	ToAddress   string              `json:"to_address"`
	Status      PaymentStatus       `json:"status"`
	Transaction *PaymentTransaction `json:"transaction,omitempty"`
}

// PaymentArgs is the payload for creating a new payment.
type PaymentArgs struct {
	Amount   float64        `json:"amount"`
	Memo     string         `json:"memo"`
	Metadata map[string]any `json:"metadata"`
	UID      string         `json:"uid"`
}

// createPaymentRequest wraps PaymentArgs the way POST /v2/payments expects.
type createPaymentRequest struct {
	Payment PaymentArgs `json:"payment"`
}

// paymentListResponse is the envelope returned by GET /v2/payments.
type paymentListResponse struct {
	Payments []Payment `json:"payments"`
}

// APIError represents a structured rejection from the Pi Platform API. It is
// distinct from transport-level failures (timeouts, refused connections),
// which are returned as wrapped errors from the HTTP client.
type APIError struct {
	StatusCode int
	Name       string `json:"error"`
	Message    string `json:"error_message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("pi api error (status %d): %s - %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("pi api error (status %d)", e.StatusCode)
}

// IsAPIError reports whether err is an application-level rejection from the
// platform rather than a network failure.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// GetMe fetches the authenticated user's identity.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/v2/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetWalletBalance fetches the balance for the given wallet address.
func (c *Client) GetWalletBalance(ctx context.Context, walletAddress string) (*Balance, error) {
	var balance Balance
	path := "/v2/wallets/" + url.PathEscape(walletAddress) + "/balance"
	if err := c.do(ctx, http.MethodGet, path, nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// ListIncompletePayments fetches payments the platform still considers pending,
// typically payments left incomplete by earlier runs.
func (c *Client) ListIncompletePayments(ctx context.Context) ([]Payment, error) {
	var list paymentListResponse
	if err := c.do(ctx, http.MethodGet, "/v2/payments?status=pending", nil, &list); err != nil {
		return nil, err
	}
	return list.Payments, nil
}

// CreatePayment registers a new payment with the platform and returns it with
// the platform-assigned identifier.
func (c *Client) CreatePayment(ctx context.Context, args PaymentArgs) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodPost, "/v2/payments", createPaymentRequest{Payment: args}, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// ApprovePayment performs the server-side approval of a created payment.
func (c *Client) ApprovePayment(ctx context.Context, paymentID string) error {
	return c.do(ctx, http.MethodPost, "/v2/payments/"+url.PathEscape(paymentID)+"/approve", nil, nil)
}

// GetPayment fetches the full status object for a payment.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/v2/payments/"+url.PathEscape(paymentID), nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// CompletePayment finalizes a payment server-side after on-chain verification.
func (c *Client) CompletePayment(ctx context.Context, paymentID string) error {
	return c.do(ctx, http.MethodPost, "/v2/payments/"+url.PathEscape(paymentID)+"/complete", nil, nil)
}

// do executes one authenticated request against the platform. A non-2xx
// response is returned as an *APIError; transport failures are wrapped and
// returned as-is so callers can distinguish the two kinds.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request for %s: %w", path, err)
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}

	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request for %s: %w", path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response for %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, apiErr); err != nil {
			log.Printf("level=warn component=pi_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return apiErr
		}
		log.Printf("level=warn component=pi_client op=%s status=%d error=%q detail=%q", path, resp.StatusCode, apiErr.Name, apiErr.Message)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response for %s: %w", path, err)
	}
	return nil
}
