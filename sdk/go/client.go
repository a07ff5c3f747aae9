package invoicersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Invoicer HTTP API client. It never follows redirects:
// a 303 from a mutation is how the server reports success.
type Client struct {
	BaseURL     string
	BearerToken string
	CookieName  string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		CookieName: "session",
		Timeout:    10 * time.Second,
	}
}

// InvoiceInput is the invoice form. Amount is in dollars, e.g. "19.99".
type InvoiceInput struct {
	CustomerID string
	Amount     string
	Status     string
}

// Invoice is a listed invoice with its customer.
type Invoice struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount"`
	Status     string `json:"status"`
	Date       string `json:"date"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	ImageURL   string `json:"image_url,omitempty"`
}

type InvoicePage struct {
	Invoices   []Invoice `json:"invoices"`
	Page       int       `json:"page"`
	Generation uint64    `json:"generation,omitempty"`
}

type Customer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	ImageURL string `json:"image_url,omitempty"`
}

// State is the form state returned when a mutation fails.
type State struct {
	Errors  map[string][]string `json:"errors,omitempty"`
	Message string              `json:"message,omitempty"`
}

// StateError is a failed mutation: 422 for validation, 500 for storage.
type StateError struct {
	StatusCode int
	State      State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invoice mutation failed: status=%d message=%s", e.StatusCode, e.State.Message)
}

// SignInError carries the user-facing message of a rejected login.
type SignInError struct {
	Message string
}

func (e *SignInError) Error() string { return "sign-in rejected: " + e.Message }

// APIError wraps any other non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login signs in and keeps the session token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	form := url.Values{"email": {email}, "password": {password}}
	resp, body, err := c.send(ctx, http.MethodPost, "login", form)
	if err != nil {
		return "", err
	}
	switch resp.StatusCode {
	case http.StatusSeeOther:
		for _, ck := range resp.Cookies() {
			if ck.Name == c.cookieName() && ck.Value != "" {
				c.BearerToken = ck.Value
				return ck.Value, nil
			}
		}
		return "", errors.New("login succeeded without a session cookie")
	case http.StatusUnauthorized:
		var msg string
		if err := json.Unmarshal(body, &msg); err != nil {
			return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return "", &SignInError{Message: msg}
	default:
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// CreateInvoice submits the create form.
func (c *Client) CreateInvoice(ctx context.Context, in InvoiceInput) error {
	return c.mutate(ctx, http.MethodPost, "dashboard/invoices", in.form())
}

// UpdateInvoice submits the edit form for invoice id.
func (c *Client) UpdateInvoice(ctx context.Context, id string, in InvoiceInput) error {
	return c.mutate(ctx, http.MethodPut, "dashboard/invoices/"+url.PathEscape(id), in.form())
}

// DeleteInvoice removes invoice id.
func (c *Client) DeleteInvoice(ctx context.Context, id string) error {
	return c.mutate(ctx, http.MethodDelete, "dashboard/invoices/"+url.PathEscape(id), nil)
}

// ListInvoices returns one page of the dashboard listing.
func (c *Client) ListInvoices(ctx context.Context, query string, page int) (InvoicePage, error) {
	params := url.Values{}
	if query != "" {
		params.Set("query", query)
	}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	endpoint := "dashboard/invoices"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var out InvoicePage
	err := c.getJSON(ctx, endpoint, &out)
	return out, err
}

func (c *Client) ListCustomers(ctx context.Context) ([]Customer, error) {
	var out struct {
		Customers []Customer `json:"customers"`
	}
	err := c.getJSON(ctx, "dashboard/customers", &out)
	return out.Customers, err
}

func (in InvoiceInput) form() url.Values {
	return url.Values{
		"customerId": {in.CustomerID},
		"amount":     {in.Amount},
		"status":     {in.Status},
	}
}

func (c *Client) mutate(ctx context.Context, method, endpoint string, form url.Values) error {
	resp, body, err := c.send(ctx, method, endpoint, form)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusSeeOther, http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusUnprocessableEntity, http.StatusInternalServerError:
		var st State
		if json.Unmarshal(body, &st) == nil && st.Message != "" {
			return &StateError{StatusCode: resp.StatusCode, State: st}
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, body, err := c.send(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return json.Unmarshal(body, out)
}

func (c *Client) send(ctx context.Context, method, endpoint string, form url.Values) (*http.Response, []byte, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{
			Timeout: c.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if form != nil {
		buf.WriteString(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return nil, nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func (c *Client) cookieName() string {
	if c.CookieName != "" {
		return c.CookieName
	}
	return "session"
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
