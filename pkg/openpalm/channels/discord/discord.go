// Package discord implements the Discord channel adapter: a persistent
// gateway connection (via discordgo) that normalizes incoming guild/DM
// messages into the signed channel payload, forwards them to the
// guardian, and relays the guardian's answer back as a Discord reply.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/itlackey/openpalm/pkg/openpalm/channels"
	"github.com/itlackey/openpalm/pkg/openpalm/payload"
)

// Config holds Discord adapter configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild IDs the bot responds in. Empty
	// means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

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

// Adapter runs the Discord gateway connection and relays messages through
// the guardian.
type Adapter struct {
	cfg       Config
	logger    *slog.Logger
	forwarder *channels.GuardianForwarder

	mu      sync.RWMutex
	session *discordgo.Session
	cancel  context.CancelFunc
}

// New constructs a Discord adapter. Like every channel adapter, it refuses
// to run with an empty shared secret.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.SharedSecret == "" {
		panic("channel \"discord\": shared secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:       cfg,
		logger:    logger.With("component", "channel", "channel", "discord"),
		forwarder: channels.NewGuardianForwarder(cfg.SharedSecret, cfg.GuardianURL, cfg.ForwardTimeout),
	}
}

// Connect opens the Discord gateway WebSocket connection and registers the
// message handler.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	session, err := discordgo.New("Bot " + a.cfg.Token)
	if err != nil {
		cancel()
		return fmt.Errorf("discord: creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		a.onMessageCreate(runCtx, s, m)
	})

	if err := session.Open(); err != nil {
		cancel()
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.mu.Unlock()

	a.logger.Info("discord: connected")
	return nil
}

// Disconnect closes the gateway connection.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *Adapter) onMessageCreate(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if !a.allowed(m.GuildID, m.ChannelID) {
		return
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return
	}

	if a.cfg.SendTyping {
		_ = s.ChannelTyping(m.ChannelID)
	}

	p := payload.SignedChannelPayload{
		UserID:  m.Author.ID,
		Channel: "discord",
		Text:    text,
		Metadata: map[string]any{
			"guildId":   m.GuildID,
			"channelId": m.ChannelID,
			"messageId": m.ID,
		},
	}

	answer, _, _, _, err := a.forwarder.Forward(ctx, p)
	if err != nil {
		a.logger.Error("discord: forward to guardian failed", "error", err)
		return
	}
	if err := a.reply(s, m.ChannelID, m.ID, answer); err != nil {
		a.logger.Error("discord: send reply failed", "error", err)
	}
}

// reply splits answer into Discord's 2000-character message limit and
// sends it as a reply to the triggering message.
func (a *Adapter) reply(s *discordgo.Session, channelID, replyTo, answer string) error {
	const limit = 2000
	chunks := splitMessage(answer, limit)
	for i, chunk := range chunks {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 && replyTo != "" {
			send.Reference = &discordgo.MessageReference{MessageID: replyTo, ChannelID: channelID}
		}
		if _, err := s.ChannelMessageSendComplex(channelID, send); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) allowed(guildID, channelID string) bool {
	if len(a.cfg.AllowedGuilds) > 0 && !contains(a.cfg.AllowedGuilds, guildID) {
		return false
	}
	if len(a.cfg.AllowedChannels) > 0 && !contains(a.cfg.AllowedChannels, channelID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func splitMessage(text string, limit int) []string {
	if text == "" {
		return []string{""}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
