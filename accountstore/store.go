// Package accountstore defines the server-held storage behind the account
// relay methods: the compliance API secret, the current auth session and the
// API feature flags that depend on them.
package accountstore

import (
	"context"
	"encoding/json"
	"errors"
)

// Store holds the single API secret and auth session of a site.
type Store interface {
	// APISecret returns the stored secret, or "" if none is stored.
	// Returns error only for legitimate storage system failures.
	APISecret(ctx context.Context) (string, error)

	// SetAPISecret replaces the stored secret. An empty secret removes it.
	SetAPISecret(ctx context.Context, secret string) error

	// Session returns the stored session, or nil if none is stored.
	// Returns error only for legitimate storage system failures.
	Session(ctx context.Context) (json.RawMessage, error)

	// SetSession replaces the stored session. A nil or JSON null session
	// removes it.
	SetSession(ctx context.Context, session json.RawMessage) error

	// ClearSession removes the stored session.
	ClearSession(ctx context.Context) error

	// APIEnabled reports whether API features are switched on.
	APIEnabled(ctx context.Context) (bool, error)

	// SetAPIEnabled switches API features on or off.
	SetAPIEnabled(ctx context.Context, enabled bool) error

	// PromoDismissed reports whether the API promotion was dismissed.
	PromoDismissed(ctx context.Context) (bool, error)

	// DismissPromo records that the API promotion was dismissed.
	DismissPromo(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}

var (
	// ErrInvalidSession is returned when a session is not valid JSON.
	ErrInvalidSession = errors.New("accountstore: session is not valid JSON")
)

// IsEmptySession reports whether session carries no value.
func IsEmptySession(session json.RawMessage) bool {
	switch string(session) {
	case "", "null", `""`:
		return true
	}
	return false
}

// ValidateSession checks that a non-empty session is well-formed JSON.
func ValidateSession(session json.RawMessage) error {
	if IsEmptySession(session) {
		return nil
	}
	if !json.Valid(session) {
		return ErrInvalidSession
	}
	return nil
}
