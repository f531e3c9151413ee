package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/itlackey/openpalm/pkg/openpalm/control/automation"
	"github.com/itlackey/openpalm/pkg/openpalm/control/spec"
)

type memTokenStore struct {
	mu    sync.Mutex
	token string
}

func (m *memTokenStore) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *memTokenStore) SetToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

type memAuditor struct {
	mu     sync.Mutex
	events []map[string]any
}

func (a *memAuditor) Record(event map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *memAuditor) Events() ([]map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]any{}, a.events...), nil
}

type memSpecReader struct{ s spec.StackSpec }

func (m memSpecReader) Load() (spec.StackSpec, error) { return m.s, nil }

type memArtifacts struct{}

func (memArtifacts) Manifest() ([]byte, error) { return []byte(`{"artifacts":[]}`), nil }
func (memArtifacts) Artifact(name string) ([]byte, error) {
	if name == "docker-compose.yml" {
		return []byte("services: {}\n"), nil
	}
	return nil, errNotFound
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

func newTestServer(t *testing.T, tokenSet bool) (*Server, *memTokenStore, *memAuditor) {
	t.Helper()
	tokens := &memTokenStore{}
	if tokenSet {
		tokens.token = "admin-secret"
	}
	auditor := &memAuditor{}
	autos := automation.New(fakeAutomationDispatcher{}, nil)

	srv := New(Config{
		Tokens:      tokens,
		Channels:    nil,
		Automations: autos,
		Spec:        memSpecReader{s: spec.Default()},
		Artifacts:   memArtifacts{},
		Audit:       auditor,
	})
	return srv, tokens, auditor
}

type fakeAutomationDispatcher struct{}

func (fakeAutomationDispatcher) Dispatch(ctx context.Context, action spec.Action) error { return nil }

func TestHealthEndpointIsAlwaysOpen(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSetupOpenUntilTokenSet(t *testing.T) {
	t.Parallel()
	srv, tokens, _ := newTestServer(t, false)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body := strings.NewReader(`{"adminToken":"new-token"}`)
	resp, err := http.Post(ts.URL+"/setup", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if tokens.Token() != "new-token" {
		t.Fatalf("token = %q, want new-token", tokens.Token())
	}
}

func TestSetupRequiresAuthAfterTokenSet(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	body := strings.NewReader(`{"adminToken":"another"}`)
	resp, err := http.Post(ts.URL+"/setup", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestReadEndpointRequiresAdminToken(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/automations")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestReadEndpointAcceptsValidToken(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/automations", nil)
	req.Header.Set("x-admin-token", "admin-secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuditRecordsEveryMutationIncludingFailures(t *testing.T) {
	t.Parallel()
	srv, _, auditor := newTestServer(t, true)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/automations/does-not-exist/run", nil)
	req.Header.Set("x-admin-token", "admin-secret")
	req.Header.Set("x-requested-by", "operator")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	events, _ := auditor.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0]["ok"] != false {
		t.Fatalf("event.ok = %v, want false", events[0]["ok"])
	}
	if events[0]["actor"] != "operator" {
		t.Fatalf("event.actor = %v, want operator", events[0]["actor"])
	}
}

func TestSpecEndpointReturnsCurrentSpec(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/spec", nil)
	req.Header.Set("x-admin-token", "admin-secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got spec.StackSpec
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.AccessScope != spec.ScopeHost {
		t.Fatalf("AccessScope = %q, want host", got.AccessScope)
	}
}

func TestChannelInstallRejectsMissingChannelField(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/channels/install", strings.NewReader(`{}`))
	req.Header.Set("x-admin-token", "admin-secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
