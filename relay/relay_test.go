package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClientCall(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":"sk_live_1"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithTokenAuth("key", "secret"))
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	msg, err := c.Call(context.Background(), "ns.set_api_secret", map[string]any{"api_secret": "sk_live_1"})
	if err != nil {
		t.Fatalf("Call() failed: %v", err)
	}
	if string(msg) != `"sk_live_1"` {
		t.Fatalf("Call() message = %s", msg)
	}
	if gotPath != "/api/method/ns.set_api_secret" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "token key:secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if diff := cmp.Diff(map[string]any{"api_secret": "sk_live_1"}, gotBody); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestClientCallAbsentMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing", body: `{}`},
		{name: "null", body: `{"message":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c, err := NewClient(srv.URL)
			if err != nil {
				t.Fatalf("NewClient() failed: %v", err)
			}
			msg, err := c.Call(context.Background(), "ns.get_auth_session", nil)
			if err != nil {
				t.Fatalf("Call() failed: %v", err)
			}
			if msg != nil {
				t.Fatalf("Call() message = %s, want nil", msg)
			}
		})
	}
}

func TestClientCallServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"exc_type":"PermissionError","_server_messages":"[\"{\\\"message\\\": \\\"Not permitted\\\"}\"]"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	_, err = c.Call(context.Background(), "ns.get_api_secret", nil)

	var serr *ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("Call() error = %v, want *ServerError", err)
	}
	if serr.StatusCode != http.StatusForbidden || serr.ExcType != "PermissionError" {
		t.Fatalf("ServerError = %+v", serr)
	}
	if diff := cmp.Diff([]string{"Not permitted"}, serr.Messages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestClientCallRequiresMethod(t *testing.T) {
	c, err := NewClient("http://localhost")
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	if _, err := c.Call(context.Background(), "", nil); !errors.Is(err, ErrMethodRequired) {
		t.Fatalf("Call() error = %v, want ErrMethodRequired", err)
	}
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("/just/a/path"); err == nil {
		t.Fatal("NewClient() accepted a relative url")
	}
}
