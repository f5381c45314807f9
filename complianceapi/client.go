// Package complianceapi is a client for the external India Compliance API
// used for account login, signup and session validation.
//
// Every endpoint accepts a JSON body and answers with an envelope:
//
//	{"success": true, "message": {...}}
//	{"success": false, "error": "Invalid session"}
//
// A call fails when the transport fails, the status is not 2xx, the reply is
// not JSON or the envelope reports success=false. With CallOptions.FailSilently
// a failure is reported in-band: Call returns a Response with Success=false and
// Error set, and a nil error. Without it, Call returns a nil Response and an
// error (an *APIError when the service answered).
package complianceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/finbyz/icaccount/internal/logctx"
	"github.com/google/uuid"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://asp.resilient.tech/api/"

// ComplianceAPI sends a request to a named endpoint.
type ComplianceAPI interface {
	Call(ctx context.Context, endpoint string, opts CallOptions) (*Response, error)
}

// CallOptions carries the request body and failure mode.
type CallOptions struct {
	// Body is marshalled as the JSON request body. Nil sends "{}".
	Body any
	// FailSilently reports failures in the Response instead of an error.
	FailSilently bool
}

// Response is the decoded reply envelope.
type Response struct {
	Success    bool            `json:"success"`
	Message    json.RawMessage `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
	StatusCode int             `json:"-"`
}

// Failed reports whether r is nil or represents a failed call.
func (r *Response) Failed() bool {
	return r == nil || !r.Success
}

// Decode unmarshals the message payload into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Message) == 0 {
		return ErrNoMessage
	}
	return json.Unmarshal(r.Message, v)
}

var (
	// ErrEndpointRequired is returned when Call is given an empty endpoint.
	ErrEndpointRequired = errors.New("complianceapi: endpoint is required")
	// ErrNoMessage is returned by Response.Decode when there is no payload.
	ErrNoMessage = errors.New("complianceapi: response has no message")
	// ErrNotJSON is returned when the service replies with a non-JSON body.
	ErrNotJSON = errors.New("complianceapi: response is not JSON")
)

// APIError is returned when the service answered but the call failed.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("complianceapi: %s: %d %s", e.Endpoint, e.StatusCode, msg)
}

// SecretSource yields the API secret to authenticate with. ok is false when
// no secret is configured, in which case requests are sent unauthenticated.
type SecretSource func(ctx context.Context) (secret string, ok bool)

// StaticSecret returns a SecretSource that always yields secret.
func StaticSecret(secret string) SecretSource {
	return func(context.Context) (string, bool) { return secret, secret != "" }
}

// Client is an HTTP ComplianceAPI.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	secret     SecretSource
	log        *slog.Logger
}

var _ ComplianceAPI = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSecretSource sets where the x-api-key header value comes from.
func WithSecretSource(src SecretSource) Option {
	return func(c *Client) { c.secret = src }
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient returns a Client rooted at baseURL (DefaultBaseURL if empty).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("complianceapi: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("complianceapi: base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logctx.New(c.log)
	return c, nil
}

var jsonMediaType = contenttype.NewMediaType("application/json")

// Call posts opts.Body to endpoint.
func (c *Client) Call(ctx context.Context, endpoint string, opts CallOptions) (*Response, error) {
	endpoint = strings.Trim(endpoint, "/")
	if endpoint == "" {
		return c.fail(ctx, opts, 0, ErrEndpointRequired)
	}

	requestID := uuid.NewString()
	ctx = logctx.WithAPICall(ctx, &logctx.APICall{
		Endpoint:     endpoint,
		RequestID:    requestID,
		FailSilently: opts.FailSilently,
	})

	body := opts.Body
	if body == nil {
		body = struct{}{}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return c.fail(ctx, opts, 0, fmt.Errorf("complianceapi: marshal body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath(endpoint).String(), bytes.NewReader(data))
	if err != nil {
		return c.fail(ctx, opts, 0, fmt.Errorf("complianceapi: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-request-id", requestID)
	if c.secret != nil {
		if secret, ok := c.secret(ctx); ok {
			req.Header.Set("x-api-key", secret)
		}
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(ctx, opts, 0, fmt.Errorf("complianceapi: %s: %w", endpoint, err))
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return c.fail(ctx, opts, res.StatusCode, fmt.Errorf("complianceapi: read response: %w", err))
	}

	var out Response
	if !isJSON(res) || json.Unmarshal(raw, &out) != nil {
		if res.StatusCode < 200 || res.StatusCode > 299 {
			return c.fail(ctx, opts, res.StatusCode, &APIError{Endpoint: endpoint, StatusCode: res.StatusCode})
		}
		return c.fail(ctx, opts, res.StatusCode, fmt.Errorf("%w (%s)", ErrNotJSON, endpoint))
	}
	out.StatusCode = res.StatusCode

	if res.StatusCode < 200 || res.StatusCode > 299 || !out.Success {
		return c.fail(ctx, opts, res.StatusCode, &APIError{
			Endpoint:   endpoint,
			StatusCode: res.StatusCode,
			Message:    out.errorMessage(),
		})
	}

	c.log.DebugContext(ctx, "complianceapi.call.ok", slog.Int("status", res.StatusCode))
	return &out, nil
}

// fail maps err to the caller's chosen failure mode.
func (c *Client) fail(ctx context.Context, opts CallOptions, status int, err error) (*Response, error) {
	if !opts.FailSilently {
		c.log.DebugContext(ctx, "complianceapi.call.failed", slog.Int("status", status), slog.String("err", err.Error()))
		return nil, err
	}
	c.log.WarnContext(ctx, "complianceapi.call.failed_silently", slog.Int("status", status), slog.String("err", err.Error()))
	msg := err.Error()
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return &Response{Success: false, Error: msg, StatusCode: status}, nil
}

func (r *Response) errorMessage() string {
	if r.Error != "" {
		return r.Error
	}
	var s string
	if json.Unmarshal(r.Message, &s) == nil {
		return s
	}
	return ""
}

func isJSON(res *http.Response) bool {
	ct := res.Header.Get("Content-Type")
	if ct == "" {
		// Some gateways omit the header on small replies.
		return true
	}
	mt, err := contenttype.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt.Matches(jsonMediaType)
}
