// Package paymongo is a minimal client for the PayMongo v1 REST API,
// covering hosted checkout sessions.
package paymongo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Default base URL for the PayMongo v1 API.
const defaultBaseURL = "https://api.paymongo.com/v1"

// Client defines the PayMongo operations the service uses.
type Client interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
}

// CheckoutSessionRequest describes one hosted checkout page.
type CheckoutSessionRequest struct {
	Description string
	LineItems   []LineItem
	// PaymentMethodTypes defaults to the Philippine consumer set when empty.
	PaymentMethodTypes []string
	SuccessURL         string
	CancelURL          string
	// Metadata is echoed back verbatim in the payment webhook. The
	// reconciler depends on user_email and plan being present here.
	Metadata map[string]string
}

// LineItem is a single purchasable row. Amount is in centavos.
type LineItem struct {
	Currency string `json:"currency"`
	Amount   int    `json:"amount"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// CheckoutSession is the created session. URL is the hosted payment page
// the caller redirects the user to.
type CheckoutSession struct {
	ID  string
	URL string
}

// DefaultPaymentMethods are the checkout options offered to PH customers.
var DefaultPaymentMethods = []string{"card", "gcash", "paymaya", "grab_pay"}

// APIError is returned when PayMongo responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paymongo: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit throttles outgoing requests.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	secretKey string
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a new PayMongo client authenticated with the account's
// secret key.
func NewClient(secretKey string, opts ...Option) Client {
	c := &httpClient{
		secretKey: secretKey,
		baseURL:   defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// checkoutEnvelope is PayMongo's JSON:API-style request/response wrapper.
type checkoutEnvelope struct {
	Data struct {
		ID         string `json:"id,omitempty"`
		Attributes struct {
			SendEmailReceipt   bool              `json:"send_email_receipt"`
			ShowDescription    bool              `json:"show_description"`
			ShowLineItems      bool              `json:"show_line_items"`
			Description        string            `json:"description,omitempty"`
			LineItems          []LineItem        `json:"line_items,omitempty"`
			PaymentMethodTypes []string          `json:"payment_method_types,omitempty"`
			SuccessURL         string            `json:"success_url,omitempty"`
			CancelURL          string            `json:"cancel_url,omitempty"`
			Metadata           map[string]string `json:"metadata,omitempty"`
			CheckoutURL        string            `json:"checkout_url,omitempty"`
		} `json:"attributes"`
	} `json:"data"`
}

func (c *httpClient) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if len(req.LineItems) == 0 {
		return nil, eris.New("paymongo: checkout session needs at least one line item")
	}

	methods := req.PaymentMethodTypes
	if len(methods) == 0 {
		methods = DefaultPaymentMethods
	}

	var body checkoutEnvelope
	body.Data.Attributes.SendEmailReceipt = false
	body.Data.Attributes.ShowDescription = req.Description != ""
	body.Data.Attributes.ShowLineItems = true
	body.Data.Attributes.Description = req.Description
	body.Data.Attributes.LineItems = req.LineItems
	body.Data.Attributes.PaymentMethodTypes = methods
	body.Data.Attributes.SuccessURL = req.SuccessURL
	body.Data.Attributes.CancelURL = req.CancelURL
	body.Data.Attributes.Metadata = req.Metadata

	var resp checkoutEnvelope
	if err := c.post(ctx, "/checkout_sessions", body, &resp); err != nil {
		return nil, eris.Wrap(err, "paymongo: create checkout session")
	}

	if resp.Data.Attributes.CheckoutURL == "" {
		return nil, eris.New("paymongo: response missing checkout_url")
	}

	return &CheckoutSession{
		ID:  resp.Data.ID,
		URL: resp.Data.Attributes.CheckoutURL,
	}, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+basicAuth(c.secretKey))

	return c.do(req, out)
}

// basicAuth encodes the secret key the way PayMongo expects: the key as
// username with an empty password.
func basicAuth(secretKey string) string {
	return base64.StdEncoding.EncodeToString([]byte(secretKey + ":"))
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
