package complianceapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/api/", opts...)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestCallSuccess(t *testing.T) {
	var gotPath, gotKey, gotReqID string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotReqID = r.Header.Get("x-request-id")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, `{"success":true,"message":{"session_id":"s-1"}}`)
	}, WithSecretSource(StaticSecret("sk_1")))

	res, err := c.Call(context.Background(), "auth/login", CallOptions{Body: map[string]string{"email": "a@b.com"}})
	if err != nil {
		t.Fatalf("Call() failed: %v", err)
	}
	if res.Failed() {
		t.Fatalf("Call() response failed: %+v", res)
	}
	var msg struct {
		SessionID string `json:"session_id"`
	}
	if err := res.Decode(&msg); err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if msg.SessionID != "s-1" {
		t.Fatalf("session_id = %q", msg.SessionID)
	}
	if gotPath != "/api/auth/login" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotKey != "sk_1" {
		t.Fatalf("x-api-key = %q", gotKey)
	}
	if _, err := uuid.Parse(gotReqID); err != nil {
		t.Fatalf("x-request-id %q is not a uuid: %v", gotReqID, err)
	}
	if diff := cmp.Diff(map[string]any{"email": "a@b.com"}, gotBody); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestCallWithoutSecretOmitsHeader(t *testing.T) {
	var sawKey bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, sawKey = r.Header["X-Api-Key"]
		writeJSON(w, http.StatusOK, `{"success":true}`)
	}, WithSecretSource(func(context.Context) (string, bool) { return "", false }))

	if _, err := c.Call(context.Background(), "auth/login", CallOptions{}); err != nil {
		t.Fatalf("Call() failed: %v", err)
	}
	if sawKey {
		t.Fatal("x-api-key sent without a secret")
	}
}

func TestCallFailureModes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		ctype     string
		body      string
		wantError string
	}{
		{name: "success false", status: http.StatusOK, body: `{"success":false,"error":"Invalid session"}`, wantError: "Invalid session"},
		{name: "message as error", status: http.StatusOK, body: `{"success":false,"message":"GSTIN not eligible"}`, wantError: "GSTIN not eligible"},
		{name: "http 401", status: http.StatusUnauthorized, body: `{"success":false,"error":"Unauthorized"}`, wantError: "Unauthorized"},
		{name: "html 502", status: http.StatusBadGateway, ctype: "text/html", body: `<html>bad gateway</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := func(w http.ResponseWriter, r *http.Request) {
				ct := tt.ctype
				if ct == "" {
					ct = "application/json"
				}
				w.Header().Set("Content-Type", ct)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}

			t.Run("silent", func(t *testing.T) {
				c := newTestClient(t, h)
				res, err := c.Call(context.Background(), "auth/validate_session", CallOptions{FailSilently: true})
				if err != nil {
					t.Fatalf("Call() error = %v, want nil", err)
				}
				if !res.Failed() {
					t.Fatalf("Call() response = %+v, want failure", res)
				}
				if tt.wantError != "" && res.Error != tt.wantError {
					t.Fatalf("Response.Error = %q, want %q", res.Error, tt.wantError)
				}
				if res.StatusCode != tt.status {
					t.Fatalf("Response.StatusCode = %d, want %d", res.StatusCode, tt.status)
				}
			})

			t.Run("loud", func(t *testing.T) {
				c := newTestClient(t, h)
				res, err := c.Call(context.Background(), "auth/validate_session", CallOptions{})
				if res != nil {
					t.Fatalf("Call() response = %+v, want nil", res)
				}
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("Call() error = %v, want *APIError", err)
				}
				if apiErr.StatusCode != tt.status {
					t.Fatalf("APIError.StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
				}
				if tt.wantError != "" && apiErr.Message != tt.wantError {
					t.Fatalf("APIError.Message = %q, want %q", apiErr.Message, tt.wantError)
				}
			})
		})
	}
}

func TestCallNonJSONSuccessIsFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	})
	_, err := c.Call(context.Background(), "auth/login", CallOptions{})
	if !errors.Is(err, ErrNotJSON) {
		t.Fatalf("Call() error = %v, want ErrNotJSON", err)
	}
}

func TestCallTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	res, err := c.Call(context.Background(), "auth/login", CallOptions{FailSilently: true})
	if err != nil {
		t.Fatalf("silent Call() error = %v, want nil", err)
	}
	if !res.Failed() || res.Error == "" {
		t.Fatalf("silent Call() response = %+v, want tagged failure", res)
	}

	if _, err := c.Call(context.Background(), "auth/login", CallOptions{}); err == nil {
		t.Fatal("loud Call() returned nil error on transport failure")
	}
}

func TestCallRequiresEndpoint(t *testing.T) {
	c, err := NewClient("")
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	if _, err := c.Call(context.Background(), "/", CallOptions{}); !errors.Is(err, ErrEndpointRequired) {
		t.Fatalf("Call() error = %v, want ErrEndpointRequired", err)
	}
}

func TestResponseFailedNil(t *testing.T) {
	var r *Response
	if !r.Failed() {
		t.Fatal("nil Response should report Failed")
	}
	if err := r.Decode(&struct{}{}); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("Decode() error = %v, want ErrNoMessage", err)
	}
}
