package memoryclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecallReturnsMemories(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/memories/recall" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body recallRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.UserID != "u1" || body.Query != "favorite color" {
			t.Fatalf("unexpected request body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(recallResponse{Memories: []Memory{
			{ID: "m1", Text: "likes blue", Score: 0.9},
		}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	memories, err := c.Recall(context.Background(), "u1", "favorite color", 5)
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(memories) != 1 || memories[0].Text != "likes blue" {
		t.Fatalf("memories = %+v", memories)
	}
}

func TestRecallRejectsNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if _, err := c.Recall(context.Background(), "u1", "q", 5); err == nil {
		t.Fatal("Recall() error = nil, want error on 503")
	}
}

func TestRecallWithoutBaseURLFailsFast(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	if _, err := c.Recall(context.Background(), "u1", "q", 5); err == nil {
		t.Fatal("Recall() error = nil, want error for unconfigured base url")
	}
}

func TestWriteReturnsID(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/memories" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-key" {
			t.Fatalf("Authorization = %q, want Bearer secret-key", got)
		}
		_ = json.NewEncoder(w).Encode(writeResponse{ID: "m2"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "secret-key"})
	id, err := c.Write(context.Background(), "u1", "likes tea", map[string]any{"source": "chat"})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if id != "m2" {
		t.Fatalf("id = %q, want m2", id)
	}
}

func TestWriteRejectsNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if _, err := c.Write(context.Background(), "u1", "text", nil); err == nil {
		t.Fatal("Write() error = nil, want error on 400")
	}
}
