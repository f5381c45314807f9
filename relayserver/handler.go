// Package relayserver serves the account server methods over HTTP using the
// host framework's /api/method/<name> convention, backed by an
// accountstore.Store.
package relayserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/finbyz/icaccount/account"
	"github.com/finbyz/icaccount/accountstore"
	"github.com/finbyz/icaccount/internal/logctx"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// maxBodyBytes bounds request bodies; sessions and secrets are small.
const maxBodyBytes = 1 << 20

// Handler dispatches server method calls to a Store.
type Handler struct {
	store   accountstore.Store
	log     *slog.Logger
	router  *mux.Router
	methods map[string]methodFunc
}

type methodFunc func(r *http.Request, args json.RawMessage) (any, error)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for request logs.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// New returns a Handler serving the account methods from store.
func New(store accountstore.Store, opts ...Option) *Handler {
	h := &Handler{store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.New(h.log)

	h.methods = map[string]methodFunc{
		account.MethodGetAPISecret:    h.getAPISecret,
		account.MethodSetAPISecret:    h.setAPISecret,
		account.MethodGetAuthSession:  h.getAuthSession,
		account.MethodSetAuthSession:  h.setAuthSession,
		account.MethodCanShowAPIPromo: h.canShowAPIPromo,
		account.MethodDisableAPIPromo: h.disableAPIPromo,
		account.MethodIsAPIEnabled:    h.isAPIEnabled,
		account.MethodSetEnableAPI:    h.setEnableAPI,
	}

	h.router = mux.NewRouter()
	h.router.HandleFunc("/api/method/{method}", h.handleMethod).Methods(http.MethodPost)
	h.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "DoesNotExistError", "Not found")
	})
	h.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "Method not allowed")
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get("X-Request-Id")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  reqID,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	h.router.ServeHTTP(w, r.WithContext(ctx))
}

func (h *Handler) handleMethod(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	method := mux.Vars(r)["method"]
	ctx := logctx.WithRelayCall(r.Context(), &logctx.RelayCall{Method: method})
	r = r.WithContext(ctx)

	fn, ok := h.methods[method]
	if !ok {
		h.log.WarnContext(ctx, "relay.method.unknown")
		writeError(w, http.StatusNotFound, "DoesNotExistError", "Method not found: "+method)
		return
	}

	args, err := readArgs(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errUnsupportedMediaType) {
			status = http.StatusUnsupportedMediaType
		}
		h.log.WarnContext(ctx, "relay.args.invalid", slog.String("err", err.Error()))
		writeError(w, status, "ValidationError", err.Error())
		return
	}

	result, err := fn(r, args)
	if err != nil {
		status := http.StatusInternalServerError
		excType := "InternalError"
		if errors.Is(err, errInvalidArgs) || errors.Is(err, accountstore.ErrInvalidSession) || errors.Is(err, errAccountNotConfigured) {
			status = http.StatusBadRequest
			excType = "ValidationError"
		}
		h.log.ErrorContext(ctx, "relay.method.failed", slog.String("err", err.Error()))
		writeError(w, status, excType, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": result})
	h.log.DebugContext(ctx, "relay.method.ok", slog.Duration("dur", time.Since(start)))
}

var (
	errUnsupportedMediaType = errors.New("content-type must be application/json")
	errInvalidArgs          = errors.New("invalid arguments")
	errAccountNotConfigured = errors.New("configure your India Compliance Account to enable API features")
)

// readArgs returns the JSON object body, or nil for an empty body.
func readArgs(r *http.Request) (json.RawMessage, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		return nil, errUnsupportedMediaType
	}
	if !json.Valid(data) {
		return nil, errors.New("request body is not valid JSON")
	}
	return data, nil
}

func (h *Handler) getAPISecret(r *http.Request, _ json.RawMessage) (any, error) {
	secret, err := h.store.APISecret(r.Context())
	if err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, nil
	}
	return secret, nil
}

// setAPISecret stores the new secret. A new non-empty secret invalidates any
// session obtained with the old one; clearing the secret leaves it alone.
func (h *Handler) setAPISecret(r *http.Request, args json.RawMessage) (any, error) {
	var in struct {
		APISecret *string `json:"api_secret"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.APISecret == nil {
		return nil, errors.Join(errInvalidArgs, errors.New("api_secret is required"))
	}

	ctx := r.Context()
	prev, err := h.store.APISecret(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.store.SetAPISecret(ctx, *in.APISecret); err != nil {
		return nil, err
	}
	if *in.APISecret != "" && prev != *in.APISecret {
		if err := h.store.ClearSession(ctx); err != nil {
			return nil, err
		}
		h.log.InfoContext(ctx, "relay.secret.changed")
	}
	return nil, nil
}

func (h *Handler) getAuthSession(r *http.Request, _ json.RawMessage) (any, error) {
	session, err := h.store.Session(r.Context())
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	return session, nil
}

func (h *Handler) setAuthSession(r *http.Request, args json.RawMessage) (any, error) {
	var in struct {
		Session json.RawMessage `json:"session"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if err := h.store.SetSession(r.Context(), in.Session); err != nil {
		return nil, err
	}
	return nil, nil
}

// canShowAPIPromo reports whether to advertise API features: only while no
// API secret is configured and the promotion has not been dismissed.
func (h *Handler) canShowAPIPromo(r *http.Request, _ json.RawMessage) (any, error) {
	ctx := r.Context()
	secret, err := h.store.APISecret(ctx)
	if err != nil {
		return nil, err
	}
	if secret != "" {
		return false, nil
	}
	dismissed, err := h.store.PromoDismissed(ctx)
	if err != nil {
		return nil, err
	}
	return !dismissed, nil
}

func (h *Handler) disableAPIPromo(r *http.Request, _ json.RawMessage) (any, error) {
	return nil, h.store.DismissPromo(r.Context())
}

func (h *Handler) isAPIEnabled(r *http.Request, _ json.RawMessage) (any, error) {
	return h.store.APIEnabled(r.Context())
}

// setEnableAPI switches API features. Turning them on requires a configured
// API secret; re-saving an already enabled flag is accepted as is.
func (h *Handler) setEnableAPI(r *http.Request, args json.RawMessage) (any, error) {
	var in struct {
		EnableAPI *bool `json:"enable_api"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.EnableAPI == nil {
		return nil, errors.Join(errInvalidArgs, errors.New("enable_api is required"))
	}

	ctx := r.Context()
	if *in.EnableAPI {
		prev, err := h.store.APIEnabled(ctx)
		if err != nil {
			return nil, err
		}
		secret, err := h.store.APISecret(ctx)
		if err != nil {
			return nil, err
		}
		if !prev && secret == "" {
			return nil, errAccountNotConfigured
		}
	}
	if err := h.store.SetAPIEnabled(ctx, *in.EnableAPI); err != nil {
		return nil, err
	}
	return nil, nil
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return errors.Join(errInvalidArgs, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, excType, msg string) {
	encoded, _ := json.Marshal(map[string]string{"message": msg})
	serverMessages, _ := json.Marshal([]string{string(encoded)})
	writeJSON(w, status, map[string]any{
		"exc_type":         excType,
		"_server_messages": string(serverMessages),
	})
}
