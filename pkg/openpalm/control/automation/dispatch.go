package automation

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"

	"github.com/itlackey/openpalm/pkg/openpalm/control/spec"
)

// Dispatcher fires a single automation action and reports failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, action spec.Action) error
}

// HTTPDispatcher dispatches the api and http action types. AdminBaseURL
// and AdminToken are used only for action.Type == api, where the token is
// auto-injected as x-admin-token. AdminToken is a func, not a string: the
// admin token can be set after first boot via the setup endpoint, and a
// fire must see the token as it is then, not as it was when the scheduler
// was built.
type HTTPDispatcher struct {
	Client       *http.Client
	AdminBaseURL string
	AdminToken   func() string
}

// Dispatch sends the HTTP request (api or http) or runs the shell command
// described by action.
func (d HTTPDispatcher) Dispatch(ctx context.Context, action spec.Action) error {
	switch action.Type {
	case spec.ActionAPI:
		return d.dispatchHTTP(ctx, d.AdminBaseURL+action.Path, action, true)
	case spec.ActionHTTP:
		return d.dispatchHTTP(ctx, action.URL, action, false)
	case spec.ActionShell:
		return dispatchShell(ctx, action)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

func (d HTTPDispatcher) dispatchHTTP(ctx context.Context, url string, action spec.Action, authInject bool) error {
	method := action.Method
	if method == "" {
		method = http.MethodGet
	}

	var body *bytes.Reader
	if action.Body != "" {
		body = bytes.NewReader([]byte(action.Body))
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if action.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authInject && d.AdminToken != nil {
		if token := d.AdminToken(); token != "" {
			req.Header.Set("x-admin-token", token)
		}
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil
}

// dispatchShell runs action.Command[0] with action.Command[1:] as argv,
// never shell-interpolated.
func dispatchShell(ctx context.Context, action spec.Action) error {
	if len(action.Command) == 0 {
		return fmt.Errorf("shell action has no command")
	}
	cmd := exec.CommandContext(ctx, action.Command[0], action.Command[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shell command failed: %w: %s", err, stderr.String())
	}
	return nil
}
