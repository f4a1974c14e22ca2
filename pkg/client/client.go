package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Machine-readable error codes returned by the API.
const (
	CodeEmailAlreadyPending = "email_already_pending"
	CodeFreeMailbox         = "free_mailbox"
	CodeInvalidInput        = "invalid_input"
	CodeUnknownProvider     = "unknown_provider"
	CodeOTPExpired          = "otp_expired"
	CodeOTPInvalid          = "otp_invalid"
	CodeOTPLocked           = "otp_locked"
	CodeConcurrentUpdate    = "concurrent_update"
	CodeNotPending          = "not_pending"
	CodeMailboxUnverified   = "mailbox_unverified"
)

// ErrNotFound is matched by errors.Is for 404 responses.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("senderauth: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("senderauth: %d: %s", e.StatusCode, e.Message)
}

// Is reports 404 responses as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client is the senderauth SDK entry point. It is safe for concurrent use.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	userAgent   string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an account token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed certificate.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 30 * time.Second,
		}
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("senderauth: invalid base URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "senderauth-go",
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ListDomains returns the account's domains.
func (c *Client) ListDomains(ctx context.Context) ([]Domain, error) {
	var out []Domain
	return out, c.call(ctx, http.MethodGet, "/api/v1/email/domains", nil, &out)
}

// GetDomain returns one domain.
func (c *Client) GetDomain(ctx context.Context, id string) (*Domain, error) {
	var out Domain
	if err := c.call(ctx, http.MethodGet, domainPath(id, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitMailbox claims email's domain for the account and mails a code to
// email.
func (c *Client) SubmitMailbox(ctx context.Context, email string) (*Domain, error) {
	var out Domain
	if err := c.call(ctx, http.MethodPost, "/api/v1/email/domains", map[string]string{"email": email}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResendCode mails a fresh code to the domain's verifying mailbox.
func (c *Client) ResendCode(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, domainPath(id, "/otp/resend"), nil, nil)
}

// VerifyCode submits the mailed code.
func (c *Client) VerifyCode(ctx context.Context, id, code string) (*Domain, error) {
	var out Domain
	if err := c.call(ctx, http.MethodPost, domainPath(id, "/otp/verify"), map[string]string{"code": code}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartAuth detects the DNS provider and returns the records to publish.
func (c *Client) StartAuth(ctx context.Context, id string) (*AuthState, error) {
	var out AuthState
	if err := c.call(ctx, http.MethodPost, domainPath(id, "/start-auth"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recheck verifies the published records against live DNS.
func (c *Client) Recheck(ctx context.Context, id string) (*AuthState, error) {
	var out AuthState
	if err := c.call(ctx, http.MethodPost, domainPath(id, "/recheck-dns"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetProvider overrides the detected DNS provider.
func (c *Client) SetProvider(ctx context.Context, id, providerID string) (*Provider, error) {
	var out struct {
		Provider *Provider `json:"provider"`
	}
	if err := c.call(ctx, http.MethodPost, domainPath(id, "/provider"), map[string]string{"providerId": providerID}, &out); err != nil {
		return nil, err
	}
	return out.Provider, nil
}

// Disconnect resets the domain to auth_required.
func (c *Client) Disconnect(ctx context.Context, id string) (*Domain, error) {
	var out Domain
	if err := c.call(ctx, http.MethodPost, domainPath(id, "/disconnect"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMailboxes returns every mailbox known across the account's domains.
func (c *Client) ListMailboxes(ctx context.Context) ([]Mailbox, error) {
	var out []Mailbox
	return out, c.call(ctx, http.MethodGet, "/api/v1/email/domains/domain-emails", nil, &out)
}

// Providers returns the DNS provider catalog.
func (c *Client) Providers(ctx context.Context) ([]CatalogEntry, error) {
	var out []CatalogEntry
	return out, c.call(ctx, http.MethodGet, "/api/v1/email/providers", nil, &out)
}

func domainPath(id, suffix string) string {
	return "/api/v1/email/domains/" + url.PathEscape(id) + suffix
}

// call sends reqBody as JSON and decodes a 2xx response into respBody.
// Either may be nil.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if respBody == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			apiErr.Message, apiErr.Code = payload.Error, payload.Code
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}
	return body, nil
}
