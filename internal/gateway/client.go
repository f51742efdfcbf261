// Package gateway talks to the external card-payment service. The engine
// only needs two calls: create an authorization for an amount, and confirm
// it with the payer's instrument. Everything else (3DS, tokenization, webhook
// callbacks) lives on the gateway side.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConfirmStatus is the gateway's verdict on a confirmation attempt
type ConfirmStatus string

const (
	StatusSucceeded ConfirmStatus = "succeeded"
	StatusDeclined  ConfirmStatus = "declined"
)

// Authorization is a gateway payment authorization awaiting confirmation
type Authorization struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// Instrument is the payer-supplied payment instrument (an opaque token
// produced by the card-capture widget, never raw card data)
type Instrument struct {
	Token          string `json:"token"`
	CardholderName string `json:"cardholder_name,omitempty"`
}

// BillingDetails accompany a confirmation
type BillingDetails struct {
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

// ConfirmResult is the outcome of a confirmation attempt. A decline is a
// normal result, not a transport error: Status is declined and Message holds
// the gateway's human-readable reason.
type ConfirmResult struct {
	ID      string        `json:"id"`
	Status  ConfirmStatus `json:"status"`
	Message string        `json:"message,omitempty"`
}

// Client is the payment gateway API consumed by the submission coordinator
type Client interface {
	CreateAuthorization(ctx context.Context, amountMinorUnits int64, currency, customerEmail string) (*Authorization, error)
	Confirm(ctx context.Context, clientSecret string, instrument Instrument, billing BillingDetails) (*ConfirmResult, error)
}

// Config holds gateway client configuration
type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// HTTPClient is the REST implementation of Client
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient creates a new gateway client
func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type createAuthorizationRequest struct {
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

type confirmRequest struct {
	ClientSecret string         `json:"client_secret"`
	Instrument   Instrument     `json:"instrument"`
	Billing      BillingDetails `json:"billing_details"`
}

type gatewayError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateAuthorization creates a payment authorization for the given amount
// in minor units. An idempotency key accompanies every create so a retried
// request yields the same authorization instead of a second charge.
func (c *HTTPClient) CreateAuthorization(ctx context.Context, amountMinorUnits int64, currency, customerEmail string) (*Authorization, error) {
	if amountMinorUnits <= 0 {
		return nil, fmt.Errorf("authorization amount must be positive, got %d", amountMinorUnits)
	}

	body := createAuthorizationRequest{
		Amount:        amountMinorUnits,
		Currency:      currency,
		CustomerEmail: customerEmail,
	}

	var auth Authorization
	if err := c.post(ctx, "/v1/authorizations", uuid.NewString(), body, &auth); err != nil {
		return nil, err
	}

	c.logger.Info("Gateway authorization created",
		zap.String("authorization_id", auth.ID),
		zap.Int64("amount_minor_units", amountMinorUnits),
		zap.String("currency", currency))

	return &auth, nil
}

// Confirm confirms an authorization with the payer's instrument. A decline
// comes back as a ConfirmResult, not an error; transport failures and
// timeouts are errors, and the caller must treat them as failure, never as
// success.
func (c *HTTPClient) Confirm(ctx context.Context, clientSecret string, instrument Instrument, billing BillingDetails) (*ConfirmResult, error) {
	body := confirmRequest{
		ClientSecret: clientSecret,
		Instrument:   instrument,
		Billing:      billing,
	}

	var result ConfirmResult
	if err := c.post(ctx, "/v1/authorizations/confirm", "", body, &result); err != nil {
		return nil, err
	}

	c.logger.Info("Gateway confirmation finished",
		zap.String("authorization_id", result.ID),
		zap.String("status", string(result.Status)))

	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, path, idempotencyKey string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Gateway request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var gerr gatewayError
		if jsonErr := json.Unmarshal(data, &gerr); jsonErr == nil && gerr.Error.Message != "" {
			c.logger.Warn("Gateway returned error",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.String("code", gerr.Error.Code))
			return fmt.Errorf("gateway error: %s", gerr.Error.Message)
		}
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
