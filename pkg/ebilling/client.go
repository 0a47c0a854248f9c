package ebilling

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

	"github.com/angelmondragon/marketpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
)

const (
	defaultTimeout          = 15 * time.Second
	defaultExpiryPeriodMins = 60

	responseBodyReadLimit int64 = 1024

	opAuthenticate  = "authenticate"
	opCreateInvoice = "create_invoice"
	opPushUSSD      = "push_ussd"
	opGetBill       = "get_bill"
)

var errBaseURLRequired = errors.New("billing base url is required")

// Observer receives one call per gateway request.
type Observer interface {
	ObserveGateway(operation string, duration time.Duration, err error)
}

// Client talks to the merchant billing provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiID      string
	apiSecret  string
	username   string
	sharedKey  string
	expiry     int
	observer   Observer
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithObserver records request outcomes, typically into metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient builds a billing client from config.
func NewClient(cfg config.BillingConfig, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errBaseURLRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	expiry := cfg.ExpiryPeriodMinutes
	if expiry <= 0 {
		expiry = defaultExpiryPeriodMins
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		apiID:      strings.TrimSpace(cfg.APIID),
		apiSecret:  strings.TrimSpace(cfg.APISecret),
		username:   strings.TrimSpace(cfg.Username),
		sharedKey:  strings.TrimSpace(cfg.SharedKey),
		expiry:     expiry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// InvoiceRequest is the payer and amount data for a new bill.
type InvoiceRequest struct {
	PayerName         string
	PayerEmail        string
	PayerMSISDN       string
	AmountCents       int64
	ExternalReference string
	Description       string
}

// BillState is the provider view of a bill.
type BillState struct {
	BillID            string `json:"bill_id"`
	State             string `json:"state"`
	PSTransactionID   string `json:"ps_transaction_id"`
	PaymentSystemName string `json:"payment_system_name"`
}

// IsPaid reports whether the provider considers the bill settled.
func (b BillState) IsPaid() bool {
	switch strings.ToLower(strings.TrimSpace(b.State)) {
	case "paid", "processed":
		return true
	default:
		return false
	}
}

// Authenticate exchanges the API credentials for a bearer token. Tokens are
// not cached; each payment initiation authenticates again.
// TODO: cache the token until its expiry once the provider returns one.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if c.apiID == "" || c.apiSecret == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "billing api credentials not configured")
	}
	var resp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	err := c.do(ctx, opAuthenticate, http.MethodPost, "/auth", map[string]string{
		"api_id":     c.apiID,
		"api_secret": c.apiSecret,
	}, nil, &resp)
	if err != nil {
		return "", err
	}
	token := resp.Token
	if token == "" {
		token = resp.AccessToken
	}
	if token == "" {
		return "", c.fail(opAuthenticate, errors.New("empty token"), "authenticate")
	}
	return token, nil
}

// CreateInvoice registers a bill and returns its provider id.
func (c *Client) CreateInvoice(ctx context.Context, token string, req InvoiceRequest) (string, error) {
	if req.AmountCents <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invoice amount must be positive")
	}
	if strings.TrimSpace(req.PayerMSISDN) == "" && strings.TrimSpace(req.PayerEmail) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payer phone or email is required")
	}
	payload := map[string]any{
		"payer_msisdn":       req.PayerMSISDN,
		"payer_email":        req.PayerEmail,
		"payer_name":         req.PayerName,
		"amount":             req.AmountCents,
		"external_reference": req.ExternalReference,
		"short_description":  req.Description,
		"expiry_period":      c.expiry,
	}
	var resp struct {
		EBill struct {
			BillID string `json:"bill_id"`
		} `json:"e_bill"`
		BillID string `json:"bill_id"`
	}
	if err := c.do(ctx, opCreateInvoice, http.MethodPost, "/create-invoice", payload, bearer(token), &resp); err != nil {
		return "", err
	}
	billID := resp.EBill.BillID
	if billID == "" {
		billID = resp.BillID
	}
	if billID == "" {
		return "", c.fail(opCreateInvoice, errors.New("missing bill_id"), "create invoice")
	}
	return billID, nil
}

// PushUSSD asks the operator to prompt the payer's phone for billID.
func (c *Client) PushUSSD(ctx context.Context, token, billID, phone, paymentSystem string) error {
	if strings.TrimSpace(billID) == "" || strings.TrimSpace(phone) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "bill id and phone are required")
	}
	payload := map[string]string{
		"bill_id":             billID,
		"payer_msisdn":        phone,
		"payment_system_name": paymentSystem,
	}
	return c.do(ctx, opPushUSSD, http.MethodPost, "/send-ussd-push", payload, bearer(token), nil)
}

// GetBill polls the provider state of billID using basic auth.
func (c *Client) GetBill(ctx context.Context, billID string) (*BillState, error) {
	billID = strings.TrimSpace(billID)
	if billID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bill id is required")
	}
	var state BillState
	auth := func(r *http.Request) { r.SetBasicAuth(c.username, c.sharedKey) }
	if err := c.do(ctx, opGetBill, http.MethodGet, "/e_bills/"+url.PathEscape(billID), nil, auth, &state); err != nil {
		return nil, err
	}
	if state.BillID == "" {
		state.BillID = billID
	}
	return &state, nil
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// do issues one JSON request. Every failure, including 404, is a retryable
// gateway error.
func (c *Client) do(ctx context.Context, op, method, path string, body any, decorate func(*http.Request), out any) (err error) {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "billing client not configured")
	}
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveGateway(op, time.Since(start), err)
		}
	}()

	var reader io.Reader
	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, merr, "marshal "+op+" request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build "+op+" request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if decorate != nil {
		decorate(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(op, err, "execute "+op+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return c.fail(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), op+" request failed").
			WithDetails(map[string]any{"operation": op, "status": resp.StatusCode})
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.fail(op, err, "decode "+op+" response")
	}
	return nil
}

func (c *Client) fail(op string, err error, msg string) *pkgerrors.Error {
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, msg).
		WithDetails(map[string]any{"operation": op})
}
