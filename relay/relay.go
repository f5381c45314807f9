// Package relay calls whitelisted server methods of the host application.
//
// A ServerRelay sends a method name and optional arguments and returns the
// raw "message" payload of the reply. The HTTP implementation speaks the
// host framework's /api/method/<name> convention:
//
//	POST /api/method/finbyz_einvoice.gst_india.page.finbyz_einvoice_account.get_api_secret
//	{"message": "sk_live_..."}
//
// Failures are returned as errors. Whether to swallow them is the caller's
// decision.
package relay

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

	"github.com/finbyz/icaccount/internal/logctx"
)

// ServerRelay invokes a named server method.
type ServerRelay interface {
	// Call invokes method with args (nil for none). It returns the reply's
	// message payload, which is nil when the server sent none.
	Call(ctx context.Context, method string, args any) (json.RawMessage, error)
}

// Func adapts a plain function to ServerRelay.
type Func func(ctx context.Context, method string, args any) (json.RawMessage, error)

func (f Func) Call(ctx context.Context, method string, args any) (json.RawMessage, error) {
	return f(ctx, method, args)
}

var (
	// ErrMethodRequired is returned when Call is given an empty method name.
	ErrMethodRequired = errors.New("relay: method is required")
)

// ServerError is returned when the server answers with a non-2xx status.
type ServerError struct {
	StatusCode int
	ExcType    string
	Messages   []string
}

func (e *ServerError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "relay: server returned %d", e.StatusCode)
	if e.ExcType != "" {
		fmt.Fprintf(&b, " (%s)", e.ExcType)
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	return b.String()
}

// Client is an HTTP ServerRelay.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	apiSecret  string
	log        *slog.Logger
}

var _ ServerRelay = (*Client)(nil)

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

// WithTokenAuth authenticates requests with a host API key pair.
func WithTokenAuth(apiKey, apiSecret string) Option {
	return func(c *Client) {
		c.apiKey = apiKey
		c.apiSecret = apiSecret
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient returns a Client for the host application at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("relay: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("relay: base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logctx.New(c.log)
	return c, nil
}

type envelope struct {
	Message        json.RawMessage `json:"message"`
	ExcType        string          `json:"exc_type"`
	ServerMessages string          `json:"_server_messages"`
}

// Call posts args as JSON to /api/method/<method>.
func (c *Client) Call(ctx context.Context, method string, args any) (json.RawMessage, error) {
	if method == "" {
		return nil, ErrMethodRequired
	}
	ctx = logctx.WithRelayCall(ctx, &logctx.RelayCall{Method: method})

	var body io.Reader = http.NoBody
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("relay: marshal args: %w", err)
		}
		body = bytes.NewReader(data)
	}

	endpoint := c.baseURL.JoinPath("api", "method", method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "token "+c.apiKey+":"+c.apiSecret)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: %s: %w", method, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("relay: read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		serr := &ServerError{StatusCode: res.StatusCode, ExcType: env.ExcType}
		if decodeErr == nil {
			serr.Messages = parseServerMessages(env.ServerMessages)
		}
		c.log.DebugContext(ctx, "relay.call.failed", slog.Int("status", res.StatusCode), slog.String("exc_type", env.ExcType))
		return nil, serr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("relay: decode response: %w", decodeErr)
	}

	if len(env.Message) == 0 || string(env.Message) == "null" {
		return nil, nil
	}
	return env.Message, nil
}

// parseServerMessages unpacks the doubly-encoded _server_messages field: a
// JSON array of JSON objects, each with a "message" string.
func parseServerMessages(s string) []string {
	if s == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var m struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(item), &m); err == nil && m.Message != "" {
			out = append(out, m.Message)
			continue
		}
		out = append(out, item)
	}
	return out
}
