// Package account bridges the application's compliance account page to its
// two backends: server methods that hold the API secret and auth session,
// and the external compliance API that performs login, signup, free-trial
// eligibility checks and session validation.
//
// Server-held values are read and written through a relay.ServerRelay. Those
// operations never fail from the caller's point of view: a missing value and
// a failed call both yield ok == false. Of the compliance API operations,
// Login, Signup and CheckFreeTrialEligibility ask the client to fail
// silently and always return a Response (Success == false on failure), while
// ValidateSession returns errors to its caller.
package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/finbyz/icaccount/complianceapi"
	"github.com/finbyz/icaccount/internal/logctx"
	"github.com/finbyz/icaccount/relay"
)

// MethodNamespace prefixes the server method names.
const MethodNamespace = "finbyz_einvoice.gst_india.page.finbyz_einvoice_account"

// Server method names.
const (
	MethodGetAPISecret   = MethodNamespace + ".get_api_secret"
	MethodSetAPISecret   = MethodNamespace + ".set_api_secret"
	MethodGetAuthSession = MethodNamespace + ".get_auth_session"
	MethodSetAuthSession = MethodNamespace + ".set_auth_session"

	MethodCanShowAPIPromo = MethodNamespace + ".can_show_api_promo"
	MethodDisableAPIPromo = MethodNamespace + ".disable_api_promo"
	MethodIsAPIEnabled    = MethodNamespace + ".is_api_enabled"
	MethodSetEnableAPI    = MethodNamespace + ".set_enable_api"
)

// Compliance API endpoints.
const (
	EndpointLogin                = "auth/login"
	EndpointSignup               = "auth/signup"
	EndpointFreeTrialEligibility = "auth/is_eligible_for_free_trial"
	EndpointValidateSession      = "auth/validate_session"
)

// ErrNoComplianceAPI is returned by ValidateSession on a Service built
// without a compliance API client.
var ErrNoComplianceAPI = errors.New("account: no compliance API configured")

// Service exposes the account operations. It holds no state of its own and
// is safe for concurrent use if its collaborators are.
type Service struct {
	relay relay.ServerRelay
	api   complianceapi.ComplianceAPI
	log   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used to record swallowed relay failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns a Service over the given relay and compliance API. api may be
// nil when only the server-held operations are used; the compliance API
// operations then fail without making a request.
func New(r relay.ServerRelay, api complianceapi.ComplianceAPI, opts ...Option) *Service {
	s := &Service{relay: r, api: api, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logctx.New(s.log)
	return s
}

// GetAPISecret returns the stored API secret. ok is false when no secret is
// stored or the call failed.
func (s *Service) GetAPISecret(ctx context.Context) (secret string, ok bool) {
	msg, ok := s.callServerMethod(ctx, MethodGetAPISecret, nil)
	if !ok {
		return "", false
	}
	if err := json.Unmarshal(msg, &secret); err != nil {
		s.log.DebugContext(ctx, "account.secret.decode_failed", slog.String("err", err.Error()))
		return "", false
	}
	return secret, secret != ""
}

// SetAPISecret stores secret on the server and returns the server's reply
// payload, if any.
func (s *Service) SetAPISecret(ctx context.Context, secret string) (json.RawMessage, bool) {
	return s.callServerMethod(ctx, MethodSetAPISecret, map[string]any{"api_secret": secret})
}

// GetSession returns the stored auth session. ok is false when no session is
// stored or the call failed.
func (s *Service) GetSession(ctx context.Context) (json.RawMessage, bool) {
	return s.callServerMethod(ctx, MethodGetAuthSession, nil)
}

// SetSession stores session on the server. The outcome is not reported.
func (s *Service) SetSession(ctx context.Context, session json.RawMessage) {
	s.callServerMethod(ctx, MethodSetAuthSession, map[string]any{"session": session})
}

// SecretSource returns a complianceapi.SecretSource that reads the stored
// API secret through r on every request.
func SecretSource(r relay.ServerRelay) complianceapi.SecretSource {
	return func(ctx context.Context) (string, bool) {
		msg, err := r.Call(ctx, MethodGetAPISecret, nil)
		if err != nil || isEmptyPayload(msg) {
			return "", false
		}
		var secret string
		if json.Unmarshal(msg, &secret) != nil {
			return "", false
		}
		return secret, secret != ""
	}
}

// CanShowAPIPromo reports whether the page should advertise API features.
func (s *Service) CanShowAPIPromo(ctx context.Context) bool {
	msg, ok := s.callServerMethod(ctx, MethodCanShowAPIPromo, nil)
	return ok && string(bytes.TrimSpace(msg)) == "true"
}

// DisableAPIPromo records that the user dismissed the API promotion.
func (s *Service) DisableAPIPromo(ctx context.Context) {
	s.callServerMethod(ctx, MethodDisableAPIPromo, nil)
}

// IsAPIEnabled reports whether API features are switched on. A failed call
// reads as disabled.
func (s *Service) IsAPIEnabled(ctx context.Context) bool {
	msg, ok := s.callServerMethod(ctx, MethodIsAPIEnabled, nil)
	return ok && string(bytes.TrimSpace(msg)) == "true"
}

// SetEnableAPI switches API features. The server refuses to enable them
// until an API secret is stored, so the error is returned to the caller.
func (s *Service) SetEnableAPI(ctx context.Context, enable bool) error {
	_, err := s.relay.Call(ctx, MethodSetEnableAPI, map[string]any{"enable_api": enable})
	return err
}

// Login starts an email login with the compliance service.
func (s *Service) Login(ctx context.Context, email string) *complianceapi.Response {
	return s.callSilently(ctx, EndpointLogin, map[string]any{"email": email})
}

// Signup registers email and gstin with the compliance service.
func (s *Service) Signup(ctx context.Context, email, gstin string) *complianceapi.Response {
	return s.callSilently(ctx, EndpointSignup, map[string]any{"email": email, "gstin": gstin})
}

// CheckFreeTrialEligibility asks whether gstin may start a free trial.
func (s *Service) CheckFreeTrialEligibility(ctx context.Context, gstin string) *complianceapi.Response {
	return s.callSilently(ctx, EndpointFreeTrialEligibility, map[string]any{"gstin": gstin})
}

// ValidateSession checks sessionID with the compliance service. Unlike the
// other API operations, failures are returned to the caller.
func (s *Service) ValidateSession(ctx context.Context, sessionID string) (*complianceapi.Response, error) {
	if s.api == nil {
		return nil, ErrNoComplianceAPI
	}
	return s.api.Call(ctx, EndpointValidateSession, complianceapi.CallOptions{
		Body: map[string]any{"session_id": sessionID},
	})
}

// callSilently calls endpoint with FailSilently set. An error from a client
// that does not honour the flag is folded into the failure sentinel.
func (s *Service) callSilently(ctx context.Context, endpoint string, body any) *complianceapi.Response {
	if s.api == nil {
		return &complianceapi.Response{Success: false, Error: ErrNoComplianceAPI.Error()}
	}
	res, err := s.api.Call(ctx, endpoint, complianceapi.CallOptions{Body: body, FailSilently: true})
	if err != nil {
		s.log.DebugContext(ctx, "account.api.failed", slog.String("endpoint", endpoint), slog.String("err", err.Error()))
		return &complianceapi.Response{Success: false, Error: err.Error()}
	}
	if res == nil {
		return &complianceapi.Response{Success: false}
	}
	return res
}

// callServerMethod collapses "no payload" and "call failed" into ok == false.
// A falsy payload (null, "", false or 0) counts as no payload.
func (s *Service) callServerMethod(ctx context.Context, method string, args any) (msg json.RawMessage, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "account.relay.panic", slog.String("method", method), slog.Any("panic", r))
			msg, ok = nil, false
		}
	}()

	msg, err := s.relay.Call(ctx, method, args)
	if err != nil {
		s.log.DebugContext(logctx.WithRelayCall(ctx, &logctx.RelayCall{Method: method}),
			"account.relay.failed", slog.String("err", err.Error()))
		return nil, false
	}
	if isEmptyPayload(msg) {
		return nil, false
	}
	return msg, true
}

func isEmptyPayload(msg json.RawMessage) bool {
	trimmed := bytes.TrimSpace(msg)
	switch string(trimmed) {
	case "", "null", `""`, "false":
		return true
	}
	if c := trimmed[0]; c != '-' && (c < '0' || c > '9') {
		return false
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err == nil {
		if f, err := n.Float64(); err == nil && f == 0 {
			return true
		}
	}
	return false
}
