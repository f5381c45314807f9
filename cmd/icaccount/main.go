// Command icaccount serves the compliance account page and the server
// methods that hold its API secret and auth session.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/finbyz/icaccount/account"
	"github.com/finbyz/icaccount/accountstore"
	"github.com/finbyz/icaccount/accountstore/memory"
	redisstore "github.com/finbyz/icaccount/accountstore/redis"
	"github.com/finbyz/icaccount/complianceapi"
	"github.com/finbyz/icaccount/internal/logctx"
	"github.com/finbyz/icaccount/page"
	"github.com/finbyz/icaccount/relay"
	"github.com/finbyz/icaccount/relayserver"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
)

type config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:8000"`
	// HostURL is where the server methods are reached. It defaults to this
	// process, which serves them itself.
	HostURL       string `env:"HOST_URL,default=http://127.0.0.1:8000"`
	HostAPIKey    string `env:"HOST_API_KEY"`
	HostAPISecret string `env:"HOST_API_SECRET"`

	ComplianceAPIURL string `env:"COMPLIANCE_API_URL,default=https://asp.resilient.tech/api/"`

	// Store selects the backend for served server methods: memory, redis
	// or none (when HostURL points at another host).
	Store     string `env:"ACCOUNT_STORE,default=memory"`
	AssetsDir string `env:"ASSETS_DIR,default=./public/dist"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
}

func main() {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logctx.New(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("icaccount.exit", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, log *slog.Logger) error {
	rc, err := relay.NewClient(cfg.HostURL,
		relay.WithTokenAuth(cfg.HostAPIKey, cfg.HostAPISecret),
		relay.WithLogger(log),
	)
	if err != nil {
		return err
	}

	api, err := complianceapi.NewClient(cfg.ComplianceAPIURL,
		complianceapi.WithSecretSource(account.SecretSource(rc)),
		complianceapi.WithLogger(log),
	)
	if err != nil {
		return err
	}

	svc := account.New(rc, api, account.WithLogger(log))
	loader := page.NewFSLoader(os.DirFS(cfg.AssetsDir), log)

	pages := page.NewRegistry()
	if err := pages.Register(page.AccountPageName, page.AccountPageHook(loader, svc, log)); err != nil {
		return err
	}

	router := mux.NewRouter()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		router.PathPrefix("/api/method/").Handler(relayserver.New(store, relayserver.WithLogger(log)))
	}

	router.HandleFunc("/app/{page}", servePage(pages, log)).Methods(http.MethodGet)
	router.HandleFunc("/assets/{asset}", serveAsset(loader)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("icaccount.listen", slog.String("addr", cfg.ListenAddr), slog.String("store", cfg.Store))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, kind string) (accountstore.Store, error) {
	switch strings.ToLower(kind) {
	case "memory", "":
		return memory.New(), nil
	case "redis":
		s, err := redisstore.NewFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown ACCOUNT_STORE %q", kind)
	}
}

// servePage runs the page's on-load hook and reports the account view.
func servePage(pages *page.Registry, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["page"]
		p, err := pages.Load(r.Context(), name, page.Wrapper{Name: name, Route: r.URL.Path})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, page.ErrUnknownPage) {
				status = http.StatusNotFound
			}
			log.WarnContext(r.Context(), "page.load.failed", slog.String("page", name), slog.String("err", err.Error()))
			http.Error(w, err.Error(), status)
			return
		}

		body := map[string]any{"page": p.Wrapper()}
		if ap, ok := p.(*page.AccountPage); ok {
			body["view"] = ap.View(r.Context())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

func serveAsset(loader *page.FSLoader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := loader.Asset(mux.Vars(r)["asset"])
		if !ok {
			http.NotFound(w, r)
			return
		}
		switch {
		case strings.HasSuffix(a.Name, ".js"):
			w.Header().Set("Content-Type", "text/javascript")
		case strings.HasSuffix(a.Name, ".css"):
			w.Header().Set("Content-Type", "text/css")
		}
		_, _ = w.Write(a.Data)
	}
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
