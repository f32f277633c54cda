// Package discord wires the proxy pipeline to the Discord gateway.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/personate/internal/audit"
	"github.com/nextlevelbuilder/personate/internal/config"
	"github.com/nextlevelbuilder/personate/internal/proxy"
	"github.com/nextlevelbuilder/personate/internal/store"
)

// Bot owns the gateway connection and dispatches incoming messages to the
// proxy pipeline, one goroutine per message.
type Bot struct {
	session   *discordgo.Session
	store     store.Store
	cfg       *config.Config
	svc       *proxy.Service
	botUserID string
}

// New creates a Bot from config.
func New(cfg *config.Config, st store.Store) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	return &Bot{
		session: session,
		store:   st,
		cfg:     cfg,
	}, nil
}

// Start opens the gateway connection and begins proxying.
func (b *Bot) Start(_ context.Context) error {
	slog.Info("starting personate bot")

	// Resolve identity over REST and build the pipeline before the gateway
	// opens, so the first events already find a wired service.
	user, err := b.session.User("@me")
	if err != nil {
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	b.botUserID = user.ID

	dispatcher := NewWebhookDispatcher(b.session, user.ID, b.cfg.Discord.WebhookName)
	auditLog := audit.New(b.session, b.store)
	b.svc = proxy.New(b.session, b.store, proxy.TagMatcher{}, dispatcher, auditLog, proxy.Options{
		BotUserID:     user.ID,
		MaxNameLength: b.cfg.Proxy.MaxNameLength,
		DeleteDelay:   b.cfg.Proxy.DeleteDelay(),
	})

	b.session.AddHandler(b.handleMessageCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	slog.Info("personate connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection and drains in-flight post-effects.
func (b *Bot) Stop(_ context.Context) error {
	slog.Info("stopping personate bot")
	err := b.session.Close()
	if b.svc != nil {
		b.svc.Wait()
	}
	return err
}

// handleMessageCreate fans incoming guild messages out to the pipeline.
// The cheap rejections happen here; everything else is the pipeline's job.
func (b *Bot) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == b.botUserID {
		return
	}
	if m.GuildID == "" {
		// DMs are never proxied.
		return
	}

	go b.process(m.Message)
}

func (b *Bot) process(m *discordgo.Message) {
	ctx := context.Background()

	ch, err := b.channel(m.ChannelID)
	if err != nil {
		slog.Warn("resolve channel", "channel_id", m.ChannelID, "error", err)
		return
	}

	mctx, allowAutoproxy, err := b.resolveContext(ctx, m)
	if err != nil {
		slog.Error("resolve message context",
			"author_id", m.Author.ID, "guild_id", m.GuildID, "error", err)
		return
	}

	proxied, err := b.svc.HandleIncomingMessage(ctx, m, ch, mctx, allowAutoproxy)
	if err != nil {
		slog.Error("proxy pipeline",
			"original_mid", m.ID, "channel_id", m.ChannelID, "error", err)
		return
	}
	if proxied {
		slog.Debug("message proxied", "original_mid", m.ID, "channel_id", m.ChannelID)
	}
}

// resolveContext loads the author's proxying state and the guild's autoproxy
// switch on a short-lived store connection of its own.
func (b *Bot) resolveContext(ctx context.Context, m *discordgo.Message) (*store.MessageContext, bool, error) {
	conn, err := b.store.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire store conn: %w", err)
	}
	defer conn.Release()

	mctx, err := conn.MessageContext(ctx, m.Author.ID, m.ChannelID, m.GuildID)
	if err != nil {
		return nil, false, err
	}
	if !mctx.SystemID.Valid {
		// No registered system: skip the settings lookup, the pipeline
		// rejects this message anyway.
		return mctx, false, nil
	}

	gs, err := conn.GuildSettings(ctx, m.GuildID)
	if err != nil {
		return nil, false, err
	}
	return mctx, gs.AutoproxyEnabled, nil
}

func (b *Bot) channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := b.session.State.Channel(channelID); err == nil {
		return ch, nil
	}
	ch, err := b.session.Channel(channelID)
	if err != nil {
		return nil, fmt.Errorf("fetch channel: %w", err)
	}
	return ch, nil
}
