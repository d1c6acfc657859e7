// Package discord provides the Discord bot layer for WeCantTalk. It owns the
// discordgo.Session lifecycle, routes prefixed chat commands to registered
// handlers, and answers guild questions (voice channels, voice states) from
// the gateway state cache.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/wecanttalk/pkg/audio"
	discordaudio "github.com/MrWong99/wecanttalk/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// CommandPrefix precedes every chat command (e.g., "!").
	CommandPrefix string

	// AudioOptions configure the voice playback platform.
	AudioOptions []discordaudio.Option
}

// Bot owns the Discord gateway connection and routes chat messages to
// registered commands.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *Router
	resolver  *StateResolver
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a Bot, registers the message handler, and connects to Discord.
// Handlers run with a context derived from ctx that is cancelled by Close.
func New(ctx context.Context, cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token must not be empty")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildVoiceStates |
		discordgo.IntentMessageContent

	platform, err := discordaudio.New(session, cfg.AudioOptions...)
	if err != nil {
		return nil, fmt.Errorf("discord: create audio platform: %w", err)
	}

	resolver := NewStateResolver(session.State)
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Bot{
		session:  session,
		platform: platform,
		resolver: resolver,
		router:   NewRouter(cfg.CommandPrefix, session, WithDisplayNames(resolver.DisplayName)),
		ctx:      bctx,
		cancel:   cancel,
	}

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.router.Handle(b.ctx, m, selfID(s))
	})
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord bot connected", "user", r.User.Username, "guilds", len(r.Guilds))
	})

	if err := session.Open(); err != nil {
		cancel()
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// selfID returns the bot's own user ID, or "" before the ready event.
func selfID(s *discordgo.Session) string {
	if s.State == nil || s.State.User == nil {
		return ""
	}
	return s.State.User.ID
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// Router returns the command router for registering commands.
func (b *Bot) Router() *Router {
	return b.router
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// VoiceChannelExists reports whether channelID is a voice channel of guildID.
func (b *Bot) VoiceChannelExists(guildID, channelID string) bool {
	return b.resolver.VoiceChannelExists(guildID, channelID)
}

// UserVoiceChannel returns the voice channel userID is in, or "".
func (b *Bot) UserVoiceChannel(guildID, userID string) string {
	return b.resolver.UserVoiceChannel(guildID, userID)
}

// Check reports whether the gateway has delivered its ready event. It is
// used as a readiness probe.
func (b *Bot) Check(_ context.Context) error {
	s := b.Session()
	s.RLock()
	ready := s.DataReady
	s.RUnlock()
	if !ready {
		return errors.New("discord: gateway not ready")
	}
	return nil
}

// Run blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return nil
	}
}

// Close cancels in-flight handlers and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.cancel()

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
