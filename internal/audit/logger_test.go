package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/personate/internal/proxy"
	"github.com/nextlevelbuilder/personate/internal/store"
)

type fakeSession struct {
	embeds   []*discordgo.MessageEmbed
	channels []string
}

func (f *fakeSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channels = append(f.channels, channelID)
	f.embeds = append(f.embeds, embed)
	return &discordgo.Message{ID: "log-1"}, nil
}

type fakeStore struct {
	settings store.GuildSettings
	released int
}

func (s *fakeStore) Acquire(ctx context.Context) (store.Conn, error) {
	return &fakeConn{s: s}, nil
}
func (s *fakeStore) Close() error { return nil }

type fakeConn struct{ s *fakeStore }

func (c *fakeConn) MessageContext(ctx context.Context, authorID, channelID, guildID string) (*store.MessageContext, error) {
	return &store.MessageContext{}, nil
}
func (c *fakeConn) ProxyCandidates(ctx context.Context, authorID, guildID string) ([]store.PersonaCandidate, error) {
	return nil, nil
}
func (c *fakeConn) AddMessageLink(ctx context.Context, link store.MessageLink) error { return nil }
func (c *fakeConn) GuildSettings(ctx context.Context, guildID string) (*store.GuildSettings, error) {
	gs := c.s.settings
	return &gs, nil
}
func (c *fakeConn) PruneMessageLinks(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (c *fakeConn) Release() { c.s.released++ }

func proxyEventFixture() (*store.MessageContext, proxy.Match, *discordgo.Message) {
	mctx := &store.MessageContext{SystemID: uuid.NullUUID{UUID: uuid.New(), Valid: true}}
	match := proxy.Match{
		Member:  store.PersonaCandidate{ID: uuid.New(), Name: "Kit", AvatarURL: "https://cdn.example/kit.png"},
		Content: "hello there",
	}
	original := &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Author:    &discordgo.User{ID: "u1"},
	}
	return mctx, match, original
}

func TestLogProxyEvent_NoLogChannelConfigured(t *testing.T) {
	sess := &fakeSession{}
	st := &fakeStore{settings: store.GuildSettings{AutoproxyEnabled: true}}
	l := New(sess, st)

	mctx, match, original := proxyEventFixture()
	if err := l.LogProxyEvent(context.Background(), mctx, match, original, "p1"); err != nil {
		t.Fatalf("LogProxyEvent() = %v", err)
	}
	if len(sess.embeds) != 0 {
		t.Error("no embed should be sent without a configured log channel")
	}
	if st.released != 1 {
		t.Errorf("store conn released %d times, want 1", st.released)
	}
}

func TestLogProxyEvent_SendsEmbed(t *testing.T) {
	sess := &fakeSession{}
	st := &fakeStore{settings: store.GuildSettings{LogChannelID: "log-chan", AutoproxyEnabled: true}}
	l := New(sess, st)

	mctx, match, original := proxyEventFixture()
	if err := l.LogProxyEvent(context.Background(), mctx, match, original, "p1"); err != nil {
		t.Fatalf("LogProxyEvent() = %v", err)
	}

	if len(sess.embeds) != 1 || sess.channels[0] != "log-chan" {
		t.Fatalf("embed sent to %v, want one embed to log-chan", sess.channels)
	}
	embed := sess.embeds[0]
	if embed.Author == nil || embed.Author.Name != "Kit" {
		t.Error("embed should carry the persona name")
	}
	if embed.Description != "hello there" {
		t.Errorf("embed description = %q, want the proxied content", embed.Description)
	}
	jump := false
	for _, f := range embed.Fields {
		if strings.Contains(f.Value, "g1/c1/p1") {
			jump = true
		}
	}
	if !jump {
		t.Error("embed should link to the proxied message")
	}
}
