// Package store defines the persistence contract for personate.
// Two backends implement it: pg (Postgres, managed mode) and lite
// (SQLite, standalone mode).
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageContext is the resolved per-author/per-guild proxying state for one
// incoming message. SystemID is null when the author has no registered system.
type MessageContext struct {
	SystemID        uuid.NullUUID
	SystemTag       string
	ProxyEnabled    bool
	Blacklisted     bool // author or channel blocked from proxying in this guild
	AutoproxyMember uuid.NullUUID
}

// PersonaCandidate is one member of the author's system, eligible for matching
// against the incoming message. Prefix/Suffix form the member's proxy tags and
// are consumed opaquely by the matcher.
type PersonaCandidate struct {
	ID            uuid.UUID
	Name          string
	AvatarURL     string
	Prefix        string
	Suffix        string
	KeepProxyTags bool
}

// DisplayName resolves the webhook username for this candidate: the member
// name followed by the system tag, when one is set.
func (p PersonaCandidate) DisplayName(systemTag string) string {
	if systemTag == "" {
		return p.Name
	}
	return p.Name + " " + systemTag
}

// MessageLink records the original↔proxied message pair. Created exactly once
// per successful dispatch, never mutated; removed only by the retention janitor.
type MessageLink struct {
	ProxiedID  string
	OriginalID string
	AuthorID   string
	ChannelID  string
	GuildID    string
	MemberID   uuid.UUID
	CreatedAt  time.Time
}

// GuildSettings holds per-guild bot configuration.
type GuildSettings struct {
	LogChannelID     string
	AutoproxyEnabled bool
}

// Store hands out scoped connections. Acquire blocks until a connection is
// available or ctx is done.
type Store interface {
	Acquire(ctx context.Context) (Conn, error)
	Close() error
}

// Conn is a single database connection scoped to one pipeline invocation.
// It is exclusively owned by the acquirer and must be Released on every exit
// path. It must not be used by more than one goroutine at a time.
type Conn interface {
	// MessageContext resolves the proxying state for an author in a guild
	// channel. Returns a context with a null SystemID (not an error) when the
	// author has no registered system.
	MessageContext(ctx context.Context, authorID, channelID, guildID string) (*MessageContext, error)

	// ProxyCandidates returns the author's system members eligible for
	// matching within the guild.
	ProxyCandidates(ctx context.Context, authorID, guildID string) ([]PersonaCandidate, error)

	// AddMessageLink persists the original↔proxied linkage.
	AddMessageLink(ctx context.Context, link MessageLink) error

	// GuildSettings returns the guild's bot configuration, zero-valued
	// (with AutoproxyEnabled true) when the guild has no settings row.
	GuildSettings(ctx context.Context, guildID string) (*GuildSettings, error)

	// PruneMessageLinks deletes links created before cutoff and reports how
	// many were removed.
	PruneMessageLinks(ctx context.Context, cutoff time.Time) (int64, error)

	Release()
}
