package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/personate/internal/proxy"
)

// maxReuploadBytes is the per-file cap for re-uploading original attachments.
// Larger files are referenced by URL instead.
const maxReuploadBytes = 8 << 20

type webhookAPI interface {
	ChannelWebhooks(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Webhook, error)
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookThreadExecute(webhookID, token string, wait bool, threadID string, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// WebhookDispatcher implements proxy.Dispatcher on Discord channel webhooks.
// It keeps one bot-owned webhook per channel, created on demand and cached.
type WebhookDispatcher struct {
	api         webhookAPI
	botUserID   string
	webhookName string
	limiter     *dispatchLimiter
	httpClient  *http.Client
	cache       sync.Map // channelID → *discordgo.Webhook
}

// NewWebhookDispatcher builds a dispatcher executing through api's webhooks.
func NewWebhookDispatcher(api webhookAPI, botUserID, webhookName string) *WebhookDispatcher {
	return &WebhookDispatcher{
		api:         api,
		botUserID:   botUserID,
		webhookName: webhookName,
		limiter:     newDispatchLimiter(),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Dispatch re-emits the message through the channel's proxy webhook and
// returns the re-emitted message's ID. A stale cached webhook (deleted by a
// moderator) is detected on execution failure, recreated, and retried once;
// the failed execution emitted nothing, so the at-most-once contract holds.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, req proxy.DispatchRequest) (string, error) {
	if err := d.limiter.wait(ctx, req.ChannelID); err != nil {
		return "", fmt.Errorf("dispatch rate limit: %w", err)
	}

	wh, err := d.webhookFor(req.ChannelID)
	if err != nil {
		return "", err
	}

	params := d.buildParams(ctx, req)

	msg, err := d.execute(wh, req.ThreadID, params)
	if err != nil && isUnknownWebhook(err) {
		d.cache.Delete(req.ChannelID)
		if wh, err = d.webhookFor(req.ChannelID); err != nil {
			return "", err
		}
		msg, err = d.execute(wh, req.ThreadID, params)
	}
	if err != nil {
		return "", fmt.Errorf("execute proxy webhook: %w", err)
	}
	return msg.ID, nil
}

func (d *WebhookDispatcher) execute(wh *discordgo.Webhook, threadID string, params *discordgo.WebhookParams) (*discordgo.Message, error) {
	if threadID != "" {
		return d.api.WebhookThreadExecute(wh.ID, wh.Token, true, threadID, params)
	}
	return d.api.WebhookExecute(wh.ID, wh.Token, true, params)
}

func (d *WebhookDispatcher) buildParams(ctx context.Context, req proxy.DispatchRequest) *discordgo.WebhookParams {
	mentions := &discordgo.MessageAllowedMentions{
		Parse: []discordgo.AllowedMentionType{
			discordgo.AllowedMentionTypeUsers,
			discordgo.AllowedMentionTypeRoles,
		},
	}
	if req.AllowEveryone {
		mentions.Parse = append(mentions.Parse, discordgo.AllowedMentionTypeEveryone)
	}

	params := &discordgo.WebhookParams{
		Content:         req.Content,
		Username:        req.Name,
		AvatarURL:       req.AvatarURL,
		AllowedMentions: mentions,
	}
	if req.SuppressEmbeds {
		params.Flags = discordgo.MessageFlagsSuppressEmbeds
	}

	for _, att := range req.Attachments {
		f, err := d.fetchAttachment(ctx, att)
		if err != nil {
			slog.Warn("proxy: attachment reupload failed, falling back to URL",
				"filename", att.Filename, "error", err)
			if params.Content != "" {
				params.Content += "\n"
			}
			params.Content += att.URL
			continue
		}
		params.Files = append(params.Files, f)
	}

	return params
}

// fetchAttachment downloads an original attachment for re-upload under the
// proxied message.
func (d *WebhookDispatcher) fetchAttachment(ctx context.Context, att *discordgo.MessageAttachment) (*discordgo.File, error) {
	if att.Size > maxReuploadBytes {
		return nil, fmt.Errorf("attachment %q too large to reupload (%d bytes)", att.Filename, att.Size)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build attachment request: %w", err)
	}
	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxReuploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if len(buf) > maxReuploadBytes {
		return nil, fmt.Errorf("attachment %q exceeds reupload cap", att.Filename)
	}

	return &discordgo.File{
		Name:        att.Filename,
		ContentType: att.ContentType,
		Reader:      bytes.NewReader(buf),
	}, nil
}

// webhookFor returns the channel's cached proxy webhook, finding or creating
// one on first use.
func (d *WebhookDispatcher) webhookFor(channelID string) (*discordgo.Webhook, error) {
	if v, ok := d.cache.Load(channelID); ok {
		return v.(*discordgo.Webhook), nil
	}

	hooks, err := d.api.ChannelWebhooks(channelID)
	if err != nil {
		return nil, fmt.Errorf("list channel webhooks: %w", err)
	}
	for _, wh := range hooks {
		if wh.Token != "" && wh.User != nil && wh.User.ID == d.botUserID {
			d.cache.Store(channelID, wh)
			return wh, nil
		}
	}

	wh, err := d.api.WebhookCreate(channelID, d.webhookName, "")
	if err != nil {
		return nil, fmt.Errorf("create proxy webhook: %w", err)
	}
	d.cache.Store(channelID, wh)
	return wh, nil
}

func isUnknownWebhook(err error) bool {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Message != nil {
		return rerr.Message.Code == discordgo.ErrCodeUnknownWebhook
	}
	return false
}
