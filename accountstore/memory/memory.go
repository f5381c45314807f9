// Package memory provides an in-process implementation of
// accountstore.Store. Contents are lost when the process exits.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/finbyz/icaccount/accountstore"
)

// Store implements accountstore.Store with mutex-guarded fields.
type Store struct {
	mu             sync.RWMutex
	secret         string
	session        json.RawMessage
	apiEnabled     bool
	promoDismissed bool
}

var _ accountstore.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

func (s *Store) APISecret(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secret, nil
}

func (s *Store) SetAPISecret(ctx context.Context, secret string) error {
	s.mu.Lock()
	s.secret = secret
	s.mu.Unlock()
	return nil
}

func (s *Store) Session(ctx context.Context) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, nil
	}
	out := make(json.RawMessage, len(s.session))
	copy(out, s.session)
	return out, nil
}

func (s *Store) SetSession(ctx context.Context, session json.RawMessage) error {
	if err := accountstore.ValidateSession(session); err != nil {
		return err
	}
	if accountstore.IsEmptySession(session) {
		return s.ClearSession(ctx)
	}

	// Copy so later mutation of the caller's slice cannot leak in.
	data := make(json.RawMessage, len(session))
	copy(data, session)

	s.mu.Lock()
	s.session = data
	s.mu.Unlock()
	return nil
}

func (s *Store) ClearSession(ctx context.Context) error {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	return nil
}

func (s *Store) APIEnabled(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiEnabled, nil
}

func (s *Store) SetAPIEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.apiEnabled = enabled
	s.mu.Unlock()
	return nil
}

func (s *Store) PromoDismissed(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.promoDismissed, nil
}

func (s *Store) DismissPromo(ctx context.Context) error {
	s.mu.Lock()
	s.promoDismissed = true
	s.mu.Unlock()
	return nil
}

// Close drops all stored values.
func (s *Store) Close() error {
	s.mu.Lock()
	s.secret = ""
	s.session = nil
	s.apiEnabled = false
	s.promoDismissed = false
	s.mu.Unlock()
	return nil
}
