// Package proxy implements the message proxying pipeline: deciding whether an
// incoming guild message should be re-emitted under one of the author's
// personas, dispatching the re-emission, and reconciling the duplicate
// original/proxied message state afterwards.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/personate/internal/store"
)

// Session is the subset of *discordgo.Session the pipeline uses.
type Session interface {
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// AuditLogger records successful proxy events to the guild's log channel.
// It must use its own store connection, never the pipeline's scoped one.
type AuditLogger interface {
	LogProxyEvent(ctx context.Context, mctx *store.MessageContext, match Match, original *discordgo.Message, proxiedID string) error
}

// Options tunes a Service.
type Options struct {
	BotUserID     string
	MaxNameLength int           // webhook username cap, runes
	DeleteDelay   time.Duration // pause before deleting the trigger message
}

// Service runs the proxying pipeline. Safe for concurrent use: the platform
// delivers many messages at once and each invocation is independent.
type Service struct {
	session    Session
	store      store.Store
	matcher    Matcher
	dispatcher Dispatcher
	audit      AuditLogger

	botUserID     string
	maxNameLength int
	deleteDelay   time.Duration

	tracer   trace.Tracer
	inflight sync.WaitGroup
}

// New builds a Service.
func New(session Session, st store.Store, matcher Matcher, dispatcher Dispatcher, audit AuditLogger, opts Options) *Service {
	return &Service{
		session:       session,
		store:         st,
		matcher:       matcher,
		dispatcher:    dispatcher,
		audit:         audit,
		botUserID:     opts.BotUserID,
		maxNameLength: opts.MaxNameLength,
		deleteDelay:   opts.DeleteDelay,
		tracer:        otel.Tracer("personate/proxy"),
	}
}

// HandleIncomingMessage runs the full pipeline for one message and reports
// whether a proxy was actually executed. Ineligibility, no persona match,
// missing bot capabilities, and invalid persona names all return (false, nil):
// they are resolved locally, the last two with a user-visible diagnostic.
// Unexpected store or transport failures are returned to the caller unmasked.
//
// On success the three post-dispatch effects (linkage persistence, audit log,
// delayed original deletion) still run in the background; Wait drains them.
func (s *Service) HandleIncomingMessage(ctx context.Context, m *discordgo.Message, ch *discordgo.Channel, mctx *store.MessageContext, allowAutoproxy bool) (bool, error) {
	if !ShouldProxy(m, ch, mctx) {
		return false, nil
	}

	conn, err := s.store.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire store conn: %w", err)
	}
	// The scoped conn is released on every exit path. On dispatch success its
	// ownership moves to the post-dispatch coordinator, which releases it
	// after the linkage write.
	handedOff := false
	defer func() {
		if !handedOff {
			conn.Release()
		}
	}()

	fetchCtx, span := s.tracer.Start(ctx, "proxy.candidates",
		trace.WithAttributes(attribute.String("guild_id", m.GuildID)))
	start := time.Now()
	candidates, err := conn.ProxyCandidates(fetchCtx, m.Author.ID, m.GuildID)
	span.End()
	if err != nil {
		return false, fmt.Errorf("fetch proxy candidates: %w", err)
	}
	slog.Debug("proxy: candidates fetched",
		"author_id", m.Author.ID,
		"guild_id", m.GuildID,
		"count", len(candidates),
		"elapsed", time.Since(start),
	)

	match, ok := s.matcher.TryMatch(mctx, candidates, m.Content, len(m.Attachments) > 0, allowAutoproxy)
	if !ok {
		return false, nil
	}

	// The permission gate runs only after a match is found, so permission
	// warnings are limited to messages that were genuinely about to be
	// proxied instead of spamming every ineligible message in the channel.
	if !s.CheckBotPermissions(ch) {
		return false, nil
	}

	name := match.Member.DisplayName(mctx.SystemTag)
	if err := ValidateName(name, s.maxNameLength); err != nil {
		s.sendDiagnostic(ch.ID, "Error: "+err.Error())
		return false, nil
	}

	// Snapshot the author's own permissions so the proxied message cannot
	// grant privileges the author did not hold.
	authorPerms, err := s.session.UserChannelPermissions(m.Author.ID, ch.ID)
	if err != nil {
		return false, fmt.Errorf("snapshot author permissions: %w", err)
	}

	req := DispatchRequest{
		ChannelID:      ch.ID,
		Name:           name,
		AvatarURL:      match.Member.AvatarURL,
		Content:        match.Content,
		Attachments:    m.Attachments,
		AllowEveryone:  authorPerms&discordgo.PermissionMentionEveryone != 0,
		SuppressEmbeds: authorPerms&discordgo.PermissionEmbedLinks == 0,
	}
	if isThread(ch.Type) {
		// Webhooks live on the parent channel; the thread is targeted at
		// execution time.
		req.ChannelID = ch.ParentID
		req.ThreadID = ch.ID
	}

	dispatchCtx, dspan := s.tracer.Start(ctx, "proxy.dispatch",
		trace.WithAttributes(attribute.String("channel_id", ch.ID)))
	proxiedID, err := s.dispatcher.Dispatch(dispatchCtx, req)
	dspan.End()
	if err != nil {
		return false, fmt.Errorf("dispatch proxy message: %w", err)
	}

	handedOff = true
	s.inflight.Add(1)
	go s.finishProxy(context.WithoutCancel(ctx), conn, m, mctx, match, proxiedID)

	return true, nil
}

// finishProxy runs the three independent post-dispatch effects concurrently
// and awaits them jointly. Each effect observes and logs its own failure;
// none aborts the others, and none reaches the pipeline's caller.
func (s *Service) finishProxy(ctx context.Context, conn store.Conn, m *discordgo.Message, mctx *store.MessageContext, match Match, proxiedID string) {
	defer s.inflight.Done()

	var g errgroup.Group

	g.Go(func() error {
		// Sole user of the pipeline's scoped conn.
		defer conn.Release()
		link := store.MessageLink{
			ProxiedID:  proxiedID,
			OriginalID: m.ID,
			AuthorID:   m.Author.ID,
			ChannelID:  m.ChannelID,
			GuildID:    m.GuildID,
			MemberID:   match.Member.ID,
			CreatedAt:  time.Now().UTC(),
		}
		if err := conn.AddMessageLink(ctx, link); err != nil {
			slog.Error("proxy: persist message link",
				"original_mid", m.ID, "proxied_mid", proxiedID, "error", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.audit.LogProxyEvent(ctx, mctx, match, m, proxiedID); err != nil {
			slog.Warn("proxy: audit log", "original_mid", m.ID, "error", err)
		}
		return nil
	})

	g.Go(func() error {
		s.deleteOriginal(ctx, m.ChannelID, m.ID, proxiedID)
		return nil
	})

	_ = g.Wait()
}

// deleteOriginal removes the trigger message after a short delay, with race
// recovery: if a third party deleted the original first, the proxied copy is
// deleted instead so that exactly one of the two survives.
func (s *Service) deleteOriginal(ctx context.Context, channelID, originalID, proxiedID string) {
	// The delay gives moderation bots watching message creation a chance to
	// act on the original before it disappears.
	timer := time.NewTimer(s.deleteDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	err := s.session.ChannelMessageDelete(channelID, originalID)
	if err == nil {
		return
	}

	if isUnknownMessage(err) {
		// Someone beat us to the original. Leaving the proxied copy up would
		// contradict their intent, so remove it too. "Already gone" and
		// "not allowed" on the compensation leave nothing to reconcile.
		derr := s.session.ChannelMessageDelete(channelID, proxiedID)
		if derr != nil && !isUnknownMessage(derr) && !isMissingPermissions(derr) {
			slog.Error("proxy: compensating delete",
				"channel_id", channelID, "proxied_mid", proxiedID, "error", derr)
		}
		return
	}

	slog.Error("proxy: delete original",
		"channel_id", channelID, "original_mid", originalID, "error", err)
}

// Wait blocks until all in-flight post-dispatch effects have finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func isUnknownMessage(err error) bool {
	return hasDiscordCode(err, discordgo.ErrCodeUnknownMessage)
}

func isMissingPermissions(err error) bool {
	return hasDiscordCode(err, discordgo.ErrCodeMissingPermissions)
}

func hasDiscordCode(err error, code int) bool {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Message != nil {
		return rerr.Message.Code == code
	}
	return false
}
