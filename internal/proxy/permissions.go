package proxy

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

const (
	missingWebhooksMsg = "personate does not have the **Manage Webhooks** permission in this channel, " +
		"so it cannot proxy messages here. Please ask a server administrator to grant it."
	missingManageMessagesMsg = "personate does not have the **Manage Messages** permission in this channel, " +
		"so it cannot remove trigger messages after proxying. Please ask a server administrator to grant it."
)

// CheckBotPermissions verifies the bot holds every channel capability proxying
// needs, sending at most one remediation message on failure. First failing
// check wins:
//   - no Send Messages: fail silently, a diagnostic could not be delivered anyway
//   - no Manage Webhooks: fail with a message naming the permission
//   - no Manage Messages: fail with a message naming the permission
func (s *Service) CheckBotPermissions(ch *discordgo.Channel) bool {
	perms, err := s.session.UserChannelPermissions(s.botUserID, ch.ID)
	if err != nil {
		slog.Warn("proxy: resolve bot permissions", "channel_id", ch.ID, "error", err)
		return false
	}

	if perms&discordgo.PermissionSendMessages == 0 {
		return false
	}
	if perms&discordgo.PermissionManageWebhooks == 0 {
		s.sendDiagnostic(ch.ID, missingWebhooksMsg)
		return false
	}
	if perms&discordgo.PermissionManageMessages == 0 {
		s.sendDiagnostic(ch.ID, missingManageMessagesMsg)
		return false
	}
	return true
}

// sendDiagnostic posts a plain-text remediation message to the channel.
// Failures are logged, never propagated: diagnostics are best-effort.
func (s *Service) sendDiagnostic(channelID, text string) {
	if _, err := s.session.ChannelMessageSend(channelID, text); err != nil {
		slog.Warn("proxy: send diagnostic", "channel_id", channelID, "error", err)
	}
}
