package discord

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/personate/internal/proxy"
)

type executeCall struct {
	webhookID string
	threadID  string
	params    *discordgo.WebhookParams
}

type fakeWebhookAPI struct {
	mu       sync.Mutex
	hooks    map[string][]*discordgo.Webhook
	created  int
	failures int // upcoming executes that fail with Unknown Webhook
	executes []executeCall
}

func (f *fakeWebhookAPI) ChannelWebhooks(channelID string, _ ...discordgo.RequestOption) ([]*discordgo.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hooks[channelID], nil
}

func (f *fakeWebhookAPI) WebhookCreate(channelID, name, avatar string, _ ...discordgo.RequestOption) (*discordgo.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	wh := &discordgo.Webhook{ID: "wh-new", Token: "tok", Name: name, ChannelID: channelID}
	return wh, nil
}

func (f *fakeWebhookAPI) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.record(webhookID, "", data)
}

func (f *fakeWebhookAPI) WebhookThreadExecute(webhookID, token string, wait bool, threadID string, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.record(webhookID, threadID, data)
}

func (f *fakeWebhookAPI) record(webhookID, threadID string, data *discordgo.WebhookParams) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executes = append(f.executes, executeCall{webhookID: webhookID, threadID: threadID, params: data})
	if f.failures > 0 {
		f.failures--
		return nil, &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownWebhook}}
	}
	return &discordgo.Message{ID: "w-msg"}, nil
}

func newTestDispatcher(api *fakeWebhookAPI) *WebhookDispatcher {
	return NewWebhookDispatcher(api, "bot1", "personate proxy")
}

func TestDispatch_ReusesBotOwnedWebhook(t *testing.T) {
	api := &fakeWebhookAPI{hooks: map[string][]*discordgo.Webhook{
		"c1": {
			{ID: "other", Token: "t", User: &discordgo.User{ID: "someone-else"}},
			{ID: "mine", Token: "t", User: &discordgo.User{ID: "bot1"}},
		},
	}}
	d := newTestDispatcher(api)

	id, err := d.Dispatch(context.Background(), proxy.DispatchRequest{ChannelID: "c1", Name: "Kit", Content: "hi"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if id != "w-msg" {
		t.Errorf("Dispatch() id = %q, want w-msg", id)
	}
	if api.created != 0 {
		t.Error("should reuse the existing bot-owned webhook, not create one")
	}
	if api.executes[0].webhookID != "mine" {
		t.Errorf("executed on %q, want the bot-owned webhook", api.executes[0].webhookID)
	}
}

func TestDispatch_CreatesAndCachesWebhook(t *testing.T) {
	api := &fakeWebhookAPI{hooks: map[string][]*discordgo.Webhook{}}
	d := newTestDispatcher(api)

	for i := 0; i < 2; i++ {
		if _, err := d.Dispatch(context.Background(), proxy.DispatchRequest{ChannelID: "c1", Name: "Kit", Content: "hi"}); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}
	if api.created != 1 {
		t.Errorf("created %d webhooks, want 1 (second dispatch hits the cache)", api.created)
	}
}

func TestDispatch_ParamsMapping(t *testing.T) {
	api := &fakeWebhookAPI{hooks: map[string][]*discordgo.Webhook{}}
	d := newTestDispatcher(api)

	req := proxy.DispatchRequest{
		ChannelID:      "c1",
		Name:           "Kit",
		AvatarURL:      "https://cdn.example/kit.png",
		Content:        "hello",
		SuppressEmbeds: true,
	}
	if _, err := d.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	params := api.executes[0].params
	if params.Username != "Kit" || params.AvatarURL != req.AvatarURL || params.Content != "hello" {
		t.Errorf("unexpected params %+v", params)
	}
	if params.Flags&discordgo.MessageFlagsSuppressEmbeds == 0 {
		t.Error("SuppressEmbeds flag not applied")
	}
	for _, p := range params.AllowedMentions.Parse {
		if p == discordgo.AllowedMentionTypeEveryone {
			t.Error("everyone mentions allowed without AllowEveryone")
		}
	}

	// With AllowEveryone the parse list gains the everyone type.
	req.AllowEveryone = true
	if _, err := d.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	found := false
	for _, p := range api.executes[1].params.AllowedMentions.Parse {
		if p == discordgo.AllowedMentionTypeEveryone {
			found = true
		}
	}
	if !found {
		t.Error("everyone mentions not allowed despite AllowEveryone")
	}
}

func TestDispatch_ThreadRouting(t *testing.T) {
	api := &fakeWebhookAPI{hooks: map[string][]*discordgo.Webhook{}}
	d := newTestDispatcher(api)

	req := proxy.DispatchRequest{ChannelID: "parent", ThreadID: "thread-1", Name: "Kit", Content: "hi"}
	if _, err := d.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if api.executes[0].threadID != "thread-1" {
		t.Errorf("threadID = %q, want thread-1", api.executes[0].threadID)
	}
}

func TestDispatch_StaleWebhookRecreatedOnce(t *testing.T) {
	api := &fakeWebhookAPI{hooks: map[string][]*discordgo.Webhook{}, failures: 1}
	d := newTestDispatcher(api)

	id, err := d.Dispatch(context.Background(), proxy.DispatchRequest{ChannelID: "c1", Name: "Kit", Content: "hi"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if id != "w-msg" {
		t.Errorf("Dispatch() id = %q, want w-msg", id)
	}
	if len(api.executes) != 2 {
		t.Errorf("executed %d times, want 2 (one failed, one retried)", len(api.executes))
	}
	if api.created != 2 {
		t.Errorf("created %d webhooks, want 2 (stale one replaced)", api.created)
	}
}

func TestDispatch_OversizeAttachmentFallsBackToURL(t *testing.T) {
	api := &fakeWebhookAPI{hooks: map[string][]*discordgo.Webhook{}}
	d := newTestDispatcher(api)

	req := proxy.DispatchRequest{
		ChannelID: "c1",
		Name:      "Kit",
		Content:   "look at this",
		Attachments: []*discordgo.MessageAttachment{
			{Filename: "big.bin", URL: "https://cdn.example/big.bin", Size: maxReuploadBytes + 1},
		},
	}
	if _, err := d.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	params := api.executes[0].params
	if len(params.Files) != 0 {
		t.Error("oversize attachment should not be re-uploaded")
	}
	if !strings.Contains(params.Content, "https://cdn.example/big.bin") {
		t.Errorf("content %q should fall back to the attachment URL", params.Content)
	}
}
