// Package assistant implements the guardian's REST client to the LLM
// inference backend: create-session then send-message.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Config configures the assistant REST client.
type Config struct {
	BaseURL        string
	BasicAuthUser  string
	BasicAuthPass  string
	CreateTimeout  time.Duration // default 10s
	MessageTimeout time.Duration // default 120s, overridable via env
}

// Client talks to the assistant's session create + message send endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = 10 * time.Second
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = 120 * time.Second
	}
	return &Client{cfg: cfg, httpClient: &http.Client{}}
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type createSessionRequest struct {
	Title string `json:"title"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

// CreateSession opens a new assistant session and returns its id.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CreateTimeout)
	defer cancel()

	body, _ := json.Marshal(createSessionRequest{Title: title})
	req, err := c.newRequest(ctx, http.MethodPost, "/session", body)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("create session: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create session: unexpected status %d", resp.StatusCode)
	}

	var out createSessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("create session: malformed response: %w", err)
	}
	if !sessionIDPattern.MatchString(out.ID) {
		return "", fmt.Errorf("create session: invalid session id %q", out.ID)
	}
	return out.ID, nil
}

type messagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type sendMessageRequest struct {
	Parts []messagePart `json:"parts"`
}

type sendMessageResponse struct {
	Info  map[string]any `json:"info"`
	Parts []messagePart  `json:"parts"`
}

// SendMessage posts text to the given session and returns the joined text
// parts of the assistant's reply.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MessageTimeout)
	defer cancel()

	body, _ := json.Marshal(sendMessageRequest{Parts: []messagePart{{Type: "text", Text: text}}})
	req, err := c.newRequest(ctx, http.MethodPost, "/session/"+sessionID+"/message", body)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("send message: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("send message: unexpected status %d", resp.StatusCode)
	}

	var out sendMessageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("send message: malformed response: %w", err)
	}

	var b strings.Builder
	for _, p := range out.Parts {
		if p.Type == "text" && p.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.BasicAuthUser != "" {
		req.SetBasicAuth(c.cfg.BasicAuthUser, c.cfg.BasicAuthPass)
	}
	return req, nil
}
