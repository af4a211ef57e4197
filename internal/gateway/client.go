package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

const maxResponseBytes = 1 << 20

var (
	ErrMissingAccessToken = errors.New("gateway: access token is required")
	ErrPaymentNotFound    = errors.New("gateway: payment not found")
	ErrUnexpectedStatus   = errors.New("gateway: unexpected response status")
	ErrInvalidResponse    = errors.New("gateway: invalid response body")
)

const paymentSchema = `{
	"type": "object",
	"required": ["id", "status"],
	"properties": {
		"id": {"type": ["string", "integer"]},
		"status": {"type": "string", "minLength": 1},
		"external_reference": {"type": ["string", "null"]},
		"date_last_updated": {"type": ["string", "null"]},
		"transaction_amount": {"type": ["number", "string", "null"]}
	}
}`

const preferenceSchema = `{
	"type": "object",
	"required": ["id", "init_point"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"init_point": {"type": "string", "minLength": 1}
	}
}`

var (
	paymentSchemaLoader    = gojsonschema.NewStringLoader(paymentSchema)
	preferenceSchemaLoader = gojsonschema.NewStringLoader(preferenceSchema)
)

type Options struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	// HTTPClient overrides the default client; its own Timeout is kept.
	HTTPClient *http.Client
}

// Client talks to the payment provider REST API. It is safe for concurrent use.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.AccessToken) == "" {
		return nil, ErrMissingAccessToken
	}
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("gateway: invalid base url %q: %w", opts.BaseURL, err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		accessToken: opts.AccessToken,
		httpClient:  httpClient,
	}, nil
}

// GetPayment fetches GET /v1/payments/{id}.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: GET payment %s returned %d", ErrUnexpectedStatus, id, status)
	}

	if err := validateJSONSchema(paymentSchemaLoader, body); err != nil {
		return nil, err
	}

	var p Payment
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &p, nil
}

// CreatePreference calls POST /checkout/preferences.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*PreferenceResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to encode preference: %w", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, "/checkout/preferences", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("%w: create preference for %s returned %d", ErrUnexpectedStatus, req.ExternalReference, status)
	}

	if err := validateJSONSchema(preferenceSchemaLoader, body); err != nil {
		return nil, err
	}

	var pref PreferenceResponse
	if err := json.Unmarshal(body, &pref); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &pref, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("gateway: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("gateway: %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("gateway: failed to read response: %w", err)
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("gateway: provider call")
	return body, resp.StatusCode, nil
}

func validateJSONSchema(schemaLoader gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for _, e := range result.Errors() {
			sb.WriteString(e.String())
			sb.WriteString("; ")
		}
		return fmt.Errorf("%w: %s", ErrInvalidResponse, sb.String())
	}
	return nil
}
