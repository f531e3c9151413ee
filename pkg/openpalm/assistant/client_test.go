package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateSessionReturnsID(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "abc123"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	id, err := c.CreateSession(context.Background(), "chat:u1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if id != "abc123" {
		t.Fatalf("id = %q, want abc123", id)
	}
}

func TestCreateSessionRejectsInvalidID(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "bad id!"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if _, err := c.CreateSession(context.Background(), "t"); err == nil {
		t.Fatalf("CreateSession() error = nil, want error for invalid session id")
	}
}

func TestCreateSessionRejectsNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if _, err := c.CreateSession(context.Background(), "t"); err == nil {
		t.Fatalf("CreateSession() error = nil, want error for 500 response")
	}
}

func TestSendMessageJoinsTextParts(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/sess1/message" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"info": map[string]any{},
			"parts": []map[string]string{
				{"type": "text", "text": "part one"},
				{"type": "text", "text": "part two"},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	answer, err := c.SendMessage(context.Background(), "sess1", "hello")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if answer != "part one\npart two" {
		t.Fatalf("answer = %q, want %q", answer, "part one\\npart two")
	}
}

func TestSendMessageUsesBasicAuth(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "u" || pass != "p" {
			t.Fatalf("missing or wrong basic auth: ok=%v user=%q pass=%q", ok, user, pass)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"parts": []map[string]string{}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, BasicAuthUser: "u", BasicAuthPass: "p"})
	if _, err := c.SendMessage(context.Background(), "sess1", "hi"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
}
