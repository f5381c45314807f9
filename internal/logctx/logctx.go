package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with request, relay and compliance API call
// attributes carried on the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if rc, ok := ctx.Value(relayCallKey{}).(*RelayCall); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", rc.Method),
		))
	}

	if ac, ok := ctx.Value(apiCallKey{}).(*APICall); ok {
		r.AddAttrs(slog.Group("api",
			slog.String("endpoint", ac.Endpoint),
			slog.String("request_id", ac.RequestID),
			slog.Bool("fail_silently", ac.FailSilently),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

// New wraps the handler of logger so context attributes are emitted.
func New(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if _, ok := logger.Handler().(Handler); ok {
		return logger
	}
	return slog.New(Handler{Handler: logger.Handler()})
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type relayCallKey struct{}

// RelayCall identifies a server method invocation.
type RelayCall struct {
	Method string
}

func WithRelayCall(ctx context.Context, call *RelayCall) context.Context {
	return context.WithValue(ctx, relayCallKey{}, call)
}

type apiCallKey struct{}

// APICall identifies a compliance API request.
type APICall struct {
	Endpoint     string
	RequestID    string
	FailSilently bool
}

func WithAPICall(ctx context.Context, call *APICall) context.Context {
	return context.WithValue(ctx, apiCallKey{}, call)
}
