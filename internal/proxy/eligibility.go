package proxy

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/personate/internal/store"
)

// ShouldProxy decides whether proxying should even be attempted for an
// incoming message. Pure: no I/O, no side effects. Each check is an
// independent predicate; the order only short-circuits the cheap ones first.
func ShouldProxy(m *discordgo.Message, ch *discordgo.Channel, mctx *store.MessageContext) bool {
	// Author has no registered system.
	if mctx == nil || !mctx.SystemID.Valid {
		return false
	}

	// Only plain messages in guild text channels (threads included) qualify.
	if ch == nil || !isTextChannel(ch.Type) {
		return false
	}
	if m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply {
		return false
	}

	// Never proxy system accounts, bots, or webhook output — the latter two
	// also guard against re-proxying our own re-emissions.
	if m.Author == nil || m.Author.System || m.Author.Bot || m.WebhookID != "" {
		return false
	}

	if !mctx.ProxyEnabled || mctx.Blacklisted {
		return false
	}

	// Nothing to re-emit.
	if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
		return false
	}

	return true
}

func isTextChannel(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return true
	}
	return isThread(t)
}

func isThread(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return true
	}
	return false
}
