/**
 * @description
 * This package provides a client for the external payment gateway. It
 * encapsulates the logic for making authenticated HTTP requests to the
 * gateway's charge and status endpoints, handling request body construction,
 * and parsing responses.
 *
 * The contract the engine relies on: calling Execute twice with the same
 * idempotency key either returns the same terminal result or the second
 * call observes the in-flight/duplicate-suppressed charge. A call that
 * times out without a definitive answer is reported as ErrTimeoutUnknown,
 * never as a decline, so the engine can resolve it by status polling.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Charge statuses reported by the gateway.
const (
	ChargeSucceeded  = "succeeded"
	ChargeDeclined   = "declined"
	ChargeProcessing = "processing"
)

// ErrTimeoutUnknown is returned when a call produced no definitive answer:
// the charge may or may not have been executed. The caller must resolve it
// via CheckStatus under the same idempotency key, never by re-charging.
var ErrTimeoutUnknown = errors.New("gateway call timed out with unknown result")

// Client is a client for the payment gateway API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new gateway API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ChargeRequest is the payload for a gateway charge.
type ChargeRequest struct {
	Kind         string `json:"kind"`
	Amount       int64  `json:"amount"` // in cents
	Currency     string `json:"currency"`
	RecipientRef string `json:"recipient_ref"`
	Network      string `json:"network,omitempty"`
}

// ChargeResult is the gateway's answer for a charge, by execution or by
// status lookup.
type ChargeResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// BalanceResult is the gateway's answer for an account balance lookup.
type BalanceResult struct {
	AvailableBalance int64 `json:"available_balance"` // in cents
	LedgerBalance    int64 `json:"ledger_balance"`    // in cents
}

// ErrorResponse represents an error from the gateway API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("gateway api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown gateway api error"
}

// Execute submits a charge under the given idempotency key.
func (c *Client) Execute(ctx context.Context, idempotencyKey, kind string, amount int64, recipientRef, network string) (*ChargeResult, error) {
	payload := ChargeRequest{
		Kind:         kind,
		Amount:       amount,
		Currency:     "ZAR",
		RecipientRef: recipientRef,
		Network:      network,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/charges", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	return c.doCharge(req, "execute", idempotencyKey)
}

// CheckStatus looks up the charge previously submitted under the key.
func (c *Client) CheckStatus(ctx context.Context, idempotencyKey string) (*ChargeResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v1/charges/"+idempotencyKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	return c.doCharge(req, "check_status", idempotencyKey)
}

// doCharge executes a charge or status request and normalizes the result.
func (c *Client) doCharge(req *http.Request, op, idempotencyKey string) (*ChargeResult, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Network failures and client timeouts leave the charge outcome
		// unknown on the gateway side.
		log.Printf("level=warn component=gateway_client op=%s idempotency_key=%s msg=\"request failed; outcome unknown\" err=%v", op, idempotencyKey, err)
		return nil, ErrTimeoutUnknown
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrTimeoutUnknown
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result ChargeResult
		if err := json.Unmarshal(bodyBytes, &result); err != nil {
			return nil, fmt.Errorf("failed to decode charge response: %w", err)
		}
		return &result, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		// Server-side failure: the charge may still settle.
		log.Printf("level=warn component=gateway_client op=%s idempotency_key=%s status=%d msg=\"server error; outcome unknown\"", op, idempotencyKey, resp.StatusCode)
		return nil, ErrTimeoutUnknown
	case resp.StatusCode == http.StatusNotFound && op == "check_status":
		// The gateway never saw the key: the original call did not land.
		return &ChargeResult{Status: ChargeDeclined, Reason: "charge not found"}, nil
	default:
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=gateway_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		return nil, &errResp
	}
}

// GetBalance fetches the available balance for an account reference.
func (c *Client) GetBalance(ctx context.Context, accountRef string) (*BalanceResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v1/accounts/"+accountRef+"/balance", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute balance request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=gateway_client op=get_balance account_ref=%s status=%d msg=\"non-2xx response (unparsable error body)\"", accountRef, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		return nil, &errResp
	}

	var balance BalanceResult
	if err := json.Unmarshal(bodyBytes, &balance); err != nil {
		return nil, fmt.Errorf("failed to decode balance response: %w", err)
	}
	return &balance, nil
}
