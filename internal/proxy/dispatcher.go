package proxy

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// DispatchRequest carries everything the impersonation transport needs to
// re-emit one message. The permission-mirroring flags are snapshots of the
// triggering author's channel permissions, never the bot's.
type DispatchRequest struct {
	ChannelID   string
	ThreadID    string // set when the target channel is a thread; ChannelID is then the parent
	Name        string
	AvatarURL   string
	Content     string
	Attachments []*discordgo.MessageAttachment

	// AllowEveryone permits @everyone/@here only when the original author
	// held Mention Everyone in the channel.
	AllowEveryone bool

	// SuppressEmbeds defeats link previews when the original author lacked
	// Embed Links in the channel.
	SuppressEmbeds bool
}

// Dispatcher performs the actual re-emission under the persona's identity.
// This is the single non-idempotent side effect in the pipeline; the service
// invokes it at most once per trigger message.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (proxiedID string, err error)
}
