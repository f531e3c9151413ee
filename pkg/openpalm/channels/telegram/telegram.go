// Package telegram implements the Telegram channel adapter using the Bot
// API directly over HTTP (no SDK), long-polling for updates and forwarding
// normalized messages to the guardian.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/itlackey/openpalm/pkg/openpalm/channels"
	"github.com/itlackey/openpalm/pkg/openpalm/payload"
)

// Config holds Telegram adapter configuration.
type Config struct {
	// Token is the Telegram Bot API token.
	Token string `yaml:"token"`

	// AllowedChats restricts which chat IDs the bot responds to. Empty
	// means respond to all chats.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// SendTyping sends a typing indicator while the guardian call is in
	// flight.
	SendTyping bool `yaml:"send_typing"`

	// SharedSecret signs outgoing payloads to the guardian.
	SharedSecret string `yaml:"-"`

	// GuardianURL is the base URL of the guardian.
	GuardianURL string `yaml:"-"`

	// ForwardTimeout bounds the adapter-to-guardian round trip.
	ForwardTimeout time.Duration `yaml:"-"`
}

// Adapter runs the Telegram long-poll loop and relays messages through the
// guardian.
type Adapter struct {
	cfg        Config
	logger     *slog.Logger
	forwarder  *channels.GuardianForwarder
	httpClient *http.Client
	baseURL    string

	offset    int64
	connected atomic.Bool
	cancel    context.CancelFunc
}

// New constructs a Telegram adapter. Like every channel adapter, it
// refuses to run with an empty shared secret.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.SharedSecret == "" {
		panic("channel \"telegram\": shared secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:        cfg,
		logger:     logger.With("component", "channel", "channel", "telegram"),
		forwarder:  channels.NewGuardianForwarder(cfg.SharedSecret, cfg.GuardianURL, cfg.ForwardTimeout),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    "https://api.telegram.org/bot" + cfg.Token,
	}
}

// Connect verifies the bot token and starts the long-poll loop.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if a.connected.Load() {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if _, err := a.apiCall(runCtx, "getMe", nil); err != nil {
		cancel()
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	a.connected.Store(true)
	a.logger.Info("telegram: connected")

	go a.pollLoop(runCtx)
	return nil
}

// Disconnect stops the poll loop.
func (a *Adapter) Disconnect() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.connected.Store(false)
	return nil
}

func (a *Adapter) pollLoop(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := a.getUpdates(ctx)
		if err != nil {
			a.logger.Warn("telegram: getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID >= a.offset {
				a.offset = u.UpdateID + 1
			}
			a.handleUpdate(ctx, u)
		}
	}
}

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	MessageID int    `json:"message_id"`
	Text      string `json:"text"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From struct {
		ID       int64  `json:"id"`
		IsBot    bool   `json:"is_bot"`
		Username string `json:"username"`
	} `json:"from"`
}

func (a *Adapter) getUpdates(ctx context.Context) ([]tgUpdate, error) {
	data, err := a.apiCall(ctx, "getUpdates", map[string]any{
		"offset":          a.offset,
		"limit":           100,
		"timeout":         30,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

func (a *Adapter) handleUpdate(ctx context.Context, u tgUpdate) {
	m := u.Message
	if m == nil || m.From.IsBot {
		return
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}
	if !a.allowed(m.Chat.ID) {
		return
	}

	if a.cfg.SendTyping {
		_, _ = a.apiCall(ctx, "sendChatAction", map[string]any{"chat_id": m.Chat.ID, "action": "typing"})
	}

	p := payload.SignedChannelPayload{
		UserID:  strconv.FormatInt(m.From.ID, 10),
		Channel: "telegram",
		Text:    text,
		Metadata: map[string]any{
			"chatId":    m.Chat.ID,
			"messageId": m.MessageID,
		},
	}

	answer, _, _, _, err := a.forwarder.Forward(ctx, p)
	if err != nil {
		a.logger.Error("telegram: forward to guardian failed", "error", err)
		return
	}
	if _, err := a.apiCall(ctx, "sendMessage", map[string]any{
		"chat_id":             m.Chat.ID,
		"text":                answer,
		"reply_to_message_id": m.MessageID,
	}); err != nil {
		a.logger.Error("telegram: send reply failed", "error", err)
	}
}

func (a *Adapter) allowed(chatID int64) bool {
	if len(a.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range a.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

func (a *Adapter) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/"+method, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("telegram: parsing response: %w", err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, envelope.Description)
	}
	return envelope.Result, nil
}
