package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/finbyz/icaccount/accountstore"
)

func TestNew(t *testing.T) {
	s := New()
	defer s.Close()

	ctx := context.Background()
	secret, err := s.APISecret(ctx)
	if err != nil {
		t.Fatalf("APISecret() failed: %v", err)
	}
	if secret != "" {
		t.Fatalf("APISecret() on empty store = %q, want empty", secret)
	}
	sess, err := s.Session(ctx)
	if err != nil {
		t.Fatalf("Session() failed: %v", err)
	}
	if sess != nil {
		t.Fatalf("Session() on empty store = %s, want nil", sess)
	}
}

func TestAPISecretRoundTrip(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	if err := s.SetAPISecret(ctx, "sk_live_123"); err != nil {
		t.Fatalf("SetAPISecret() failed: %v", err)
	}
	got, err := s.APISecret(ctx)
	if err != nil {
		t.Fatalf("APISecret() failed: %v", err)
	}
	if got != "sk_live_123" {
		t.Fatalf("APISecret() = %q, want %q", got, "sk_live_123")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	in := json.RawMessage(`{"session_id":"abc","email":"a@b.com"}`)
	if err := s.SetSession(ctx, in); err != nil {
		t.Fatalf("SetSession() failed: %v", err)
	}

	// Mutating the input must not affect the stored value.
	in[2] = 'X'

	got, err := s.Session(ctx)
	if err != nil {
		t.Fatalf("Session() failed: %v", err)
	}
	if string(got) != `{"session_id":"abc","email":"a@b.com"}` {
		t.Fatalf("Session() = %s", got)
	}
}

func TestSetSessionNullClears(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	if err := s.SetSession(ctx, json.RawMessage(`"tok"`)); err != nil {
		t.Fatalf("SetSession() failed: %v", err)
	}
	if err := s.SetSession(ctx, json.RawMessage(`null`)); err != nil {
		t.Fatalf("SetSession(null) failed: %v", err)
	}
	got, _ := s.Session(ctx)
	if got != nil {
		t.Fatalf("Session() after null = %s, want nil", got)
	}
}

func TestSetSessionRejectsInvalidJSON(t *testing.T) {
	s := New()
	defer s.Close()

	err := s.SetSession(context.Background(), json.RawMessage(`{broken`))
	if !errors.Is(err, accountstore.ErrInvalidSession) {
		t.Fatalf("SetSession() error = %v, want ErrInvalidSession", err)
	}
}

func TestFlags(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	if on, _ := s.APIEnabled(ctx); on {
		t.Fatal("APIEnabled() on empty store = true")
	}
	if err := s.SetAPIEnabled(ctx, true); err != nil {
		t.Fatalf("SetAPIEnabled() failed: %v", err)
	}
	if on, _ := s.APIEnabled(ctx); !on {
		t.Fatal("APIEnabled() after enable = false")
	}

	if dismissed, _ := s.PromoDismissed(ctx); dismissed {
		t.Fatal("PromoDismissed() on empty store = true")
	}
	if err := s.DismissPromo(ctx); err != nil {
		t.Fatalf("DismissPromo() failed: %v", err)
	}
	if dismissed, _ := s.PromoDismissed(ctx); !dismissed {
		t.Fatal("PromoDismissed() after dismiss = false")
	}
}
