// Package lite implements store.Store on SQLite (standalone mode).
// The schema is applied at open, so standalone deployments need no
// migration step.
package lite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/personate/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS systems (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	tag             TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS accounts (
	account_id      TEXT PRIMARY KEY,
	system_id       TEXT NOT NULL REFERENCES systems(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS members (
	id              TEXT PRIMARY KEY,
	system_id       TEXT NOT NULL REFERENCES systems(id) ON DELETE CASCADE,
	name            TEXT NOT NULL,
	avatar_url      TEXT,
	proxy_prefix    TEXT,
	proxy_suffix    TEXT,
	keep_proxy_tags INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS system_guilds (
	system_id        TEXT NOT NULL REFERENCES systems(id) ON DELETE CASCADE,
	guild_id         TEXT NOT NULL,
	proxy_enabled    INTEGER NOT NULL DEFAULT 1,
	autoproxy_member TEXT,
	PRIMARY KEY (system_id, guild_id)
);

CREATE TABLE IF NOT EXISTS guild_settings (
	guild_id          TEXT PRIMARY KEY,
	log_channel_id    TEXT,
	autoproxy_enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS proxy_blacklist (
	guild_id   TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	PRIMARY KEY (guild_id, channel_id)
);

CREATE TABLE IF NOT EXISTS message_links (
	proxied_mid  TEXT PRIMARY KEY,
	original_mid TEXT NOT NULL,
	author_id    TEXT NOT NULL,
	channel_id   TEXT NOT NULL,
	guild_id     TEXT NOT NULL,
	member_id    TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_message_links_original ON message_links(original_mid);
CREATE INDEX IF NOT EXISTS idx_message_links_created ON message_links(created_at);
`

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open creates/opens the SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := "file:" + path + "?" + url.Values{
		"_pragma": []string{"busy_timeout(5000)", "journal_mode(WAL)", "foreign_keys(1)"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Acquire checks out a dedicated connection.
func (s *Store) Acquire(ctx context.Context) (store.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sqlite conn: %w", err)
	}
	return &liteConn{conn: conn}, nil
}

// Close shuts down the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type liteConn struct {
	conn *sql.Conn
}

func (c *liteConn) MessageContext(ctx context.Context, authorID, channelID, guildID string) (*store.MessageContext, error) {
	const q = `
		SELECT s.id, s.tag,
		       COALESCE(sg.proxy_enabled, 1),
		       EXISTS(SELECT 1 FROM proxy_blacklist b WHERE b.guild_id = ?3 AND b.channel_id = ?2),
		       sg.autoproxy_member
		FROM accounts a
		JOIN systems s ON s.id = a.system_id
		LEFT JOIN system_guilds sg ON sg.system_id = s.id AND sg.guild_id = ?3
		WHERE a.account_id = ?1`

	mctx := &store.MessageContext{}
	err := c.conn.QueryRowContext(ctx, q, authorID, channelID, guildID).Scan(
		&mctx.SystemID.UUID,
		&mctx.SystemTag,
		&mctx.ProxyEnabled,
		&mctx.Blacklisted,
		&mctx.AutoproxyMember,
	)
	if err == sql.ErrNoRows {
		return &store.MessageContext{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve message context: %w", err)
	}
	mctx.SystemID.Valid = true
	return mctx, nil
}

func (c *liteConn) ProxyCandidates(ctx context.Context, authorID, guildID string) ([]store.PersonaCandidate, error) {
	const q = `
		SELECT m.id, m.name, COALESCE(m.avatar_url, ''),
		       COALESCE(m.proxy_prefix, ''), COALESCE(m.proxy_suffix, ''),
		       m.keep_proxy_tags
		FROM members m
		JOIN accounts a ON a.system_id = m.system_id
		WHERE a.account_id = ?1
		ORDER BY m.created_at`

	rows, err := c.conn.QueryContext(ctx, q, authorID)
	if err != nil {
		return nil, fmt.Errorf("query proxy candidates: %w", err)
	}
	defer rows.Close()

	var out []store.PersonaCandidate
	for rows.Next() {
		var p store.PersonaCandidate
		if err := rows.Scan(&p.ID, &p.Name, &p.AvatarURL, &p.Prefix, &p.Suffix, &p.KeepProxyTags); err != nil {
			return nil, fmt.Errorf("scan proxy candidate: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proxy candidates: %w", err)
	}
	return out, nil
}

func (c *liteConn) AddMessageLink(ctx context.Context, link store.MessageLink) error {
	const q = `
		INSERT INTO message_links
			(proxied_mid, original_mid, author_id, channel_id, guild_id, member_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := c.conn.ExecContext(ctx, q,
		link.ProxiedID, link.OriginalID, link.AuthorID,
		link.ChannelID, link.GuildID, link.MemberID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert message link: %w", err)
	}
	return nil
}

func (c *liteConn) GuildSettings(ctx context.Context, guildID string) (*store.GuildSettings, error) {
	const q = `
		SELECT COALESCE(log_channel_id, ''), autoproxy_enabled
		FROM guild_settings WHERE guild_id = ?1`

	gs := &store.GuildSettings{}
	err := c.conn.QueryRowContext(ctx, q, guildID).Scan(&gs.LogChannelID, &gs.AutoproxyEnabled)
	if err == sql.ErrNoRows {
		return &store.GuildSettings{AutoproxyEnabled: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query guild settings: %w", err)
	}
	return gs, nil
}

func (c *liteConn) PruneMessageLinks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.conn.ExecContext(ctx, `DELETE FROM message_links WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune message links: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *liteConn) Release() {
	if err := c.conn.Close(); err != nil {
		slog.Debug("release sqlite conn", "error", err)
	}
}
