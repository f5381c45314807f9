package page

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/finbyz/icaccount/complianceapi"
)

// AccountPageName is the route name of the compliance account page.
const AccountPageName = "india-compliance-account"

// AccountBundle lists the assets the account page needs.
var AccountBundle = []string{
	"finbyz_einvoice.bundle.js",
	"finbyz_einvoice.bundle.css",
}

// AccountService is the subset of account.Service the page uses.
type AccountService interface {
	GetAPISecret(ctx context.Context) (string, bool)
	GetSession(ctx context.Context) (json.RawMessage, bool)
	CanShowAPIPromo(ctx context.Context) bool
	ValidateSession(ctx context.Context, sessionID string) (*complianceapi.Response, error)
}

// ViewKind names the screen the account page shows.
type ViewKind string

const (
	// ViewAuth asks the user to log in or sign up.
	ViewAuth ViewKind = "auth"
	// ViewAccount shows the logged-in account.
	ViewAccount ViewKind = "account"
)

// View describes what the account page renders.
type View struct {
	Kind ViewKind `json:"kind"`
	// HasAPISecret reports whether an API secret is already stored.
	HasAPISecret bool `json:"has_api_secret"`
	// CanShowPromo reports whether to advertise API features.
	CanShowPromo bool `json:"can_show_promo"`
	// Account is the validation payload when Kind is ViewAccount.
	Account json.RawMessage `json:"account,omitempty"`
	// Error is set when a stored session failed validation.
	Error string `json:"error,omitempty"`
}

// AccountPage is the compliance account page object.
type AccountPage struct {
	wrapper Wrapper
	svc     AccountService
	log     *slog.Logger
}

// NewAccountPage binds a page to wrapper.
func NewAccountPage(wrapper Wrapper, svc AccountService, log *slog.Logger) *AccountPage {
	if log == nil {
		log = slog.Default()
	}
	return &AccountPage{wrapper: wrapper, svc: svc, log: log}
}

// AccountPageHook returns the on-load hook for the account page.
func AccountPageHook(loader BundleLoader, svc AccountService, log *slog.Logger) Hook {
	return BundleHook(loader, AccountBundle, func(w Wrapper) Page {
		return NewAccountPage(w, svc, log)
	})
}

func (p *AccountPage) Wrapper() Wrapper { return p.wrapper }

// View picks the screen: the account view when a stored session validates,
// the auth view otherwise.
func (p *AccountPage) View(ctx context.Context) View {
	_, hasSecret := p.svc.GetAPISecret(ctx)
	v := View{Kind: ViewAuth, HasAPISecret: hasSecret, CanShowPromo: p.svc.CanShowAPIPromo(ctx)}

	session, ok := p.svc.GetSession(ctx)
	if !ok {
		return v
	}
	id := sessionID(session)
	if id == "" {
		p.log.WarnContext(ctx, "page.account.session_unrecognized")
		return v
	}

	res, err := p.svc.ValidateSession(ctx, id)
	if err != nil {
		p.log.InfoContext(ctx, "page.account.session_invalid", slog.String("err", err.Error()))
		v.Error = err.Error()
		return v
	}
	if res.Failed() {
		v.Error = res.Error
		return v
	}
	v.Kind = ViewAccount
	v.Account = res.Message
	return v
}

// sessionID extracts the id from a stored session, which is either the bare
// id string or an object carrying session_id.
func sessionID(session json.RawMessage) string {
	var s string
	if err := json.Unmarshal(session, &s); err == nil {
		return s
	}
	var obj struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(session, &obj); err == nil {
		return obj.SessionID
	}
	return ""
}
