// Package audit posts proxy-event records to each guild's configured log
// channel.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/personate/internal/proxy"
	"github.com/nextlevelbuilder/personate/internal/store"
)

const contentPreviewLimit = 500

type sessionAPI interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Logger implements proxy.AuditLogger.
type Logger struct {
	session sessionAPI
	store   store.Store
}

// New builds a Logger.
func New(session sessionAPI, st store.Store) *Logger {
	return &Logger{session: session, store: st}
}

// LogProxyEvent posts an embed describing one successful proxy to the guild's
// log channel. Guilds without a log channel are a no-op. The lookup runs on
// its own store connection, independent of the pipeline's scoped one.
func (l *Logger) LogProxyEvent(ctx context.Context, mctx *store.MessageContext, match proxy.Match, original *discordgo.Message, proxiedID string) error {
	conn, err := l.store.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire store conn: %w", err)
	}
	gs, err := conn.GuildSettings(ctx, original.GuildID)
	conn.Release()
	if err != nil {
		return err
	}
	if gs.LogChannelID == "" {
		return nil
	}

	preview := match.Content
	if r := []rune(preview); len(r) > contentPreviewLimit {
		preview = string(r[:contentPreviewLimit]) + "…"
	}

	embed := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    match.Member.Name,
			IconURL: match.Member.AvatarURL,
		},
		Description: preview,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Channel", Value: fmt.Sprintf("<#%s>", original.ChannelID), Inline: true},
			{Name: "Sender", Value: fmt.Sprintf("<@%s>", original.Author.ID), Inline: true},
			{
				Name: "Message",
				Value: fmt.Sprintf("[Jump](https://discord.com/channels/%s/%s/%s)",
					original.GuildID, original.ChannelID, proxiedID),
				Inline: true,
			},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Member ID: %s | Sender ID: %s", match.Member.ID, original.Author.ID),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if _, err := l.session.ChannelMessageSendEmbed(gs.LogChannelID, embed); err != nil {
		return fmt.Errorf("send log embed: %w", err)
	}
	return nil
}
