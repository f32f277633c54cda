// Package pg implements store.Store on Postgres (managed mode).
// Schema is managed by the migrate command (migrations/).
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/personate/internal/store"
)

// Store is a Postgres-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// Acquire checks out a dedicated connection from the pool.
func (s *Store) Acquire(ctx context.Context) (store.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire postgres conn: %w", err)
	}
	return &pgConn{conn: conn}, nil
}

// Close shuts down the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type pgConn struct {
	conn *sql.Conn
}

func (c *pgConn) MessageContext(ctx context.Context, authorID, channelID, guildID string) (*store.MessageContext, error) {
	const q = `
		SELECT s.id, COALESCE(s.tag, ''),
		       COALESCE(sg.proxy_enabled, TRUE),
		       EXISTS(SELECT 1 FROM proxy_blacklist b WHERE b.guild_id = $3 AND b.channel_id = $2),
		       sg.autoproxy_member
		FROM accounts a
		JOIN systems s ON s.id = a.system_id
		LEFT JOIN system_guilds sg ON sg.system_id = s.id AND sg.guild_id = $3
		WHERE a.account_id = $1`

	mctx := &store.MessageContext{}
	err := c.conn.QueryRowContext(ctx, q, authorID, channelID, guildID).Scan(
		&mctx.SystemID.UUID,
		&mctx.SystemTag,
		&mctx.ProxyEnabled,
		&mctx.Blacklisted,
		&mctx.AutoproxyMember,
	)
	if err == sql.ErrNoRows {
		// Author has no registered system. Not an error: the eligibility
		// filter handles the null SystemID.
		return &store.MessageContext{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve message context: %w", err)
	}
	mctx.SystemID.Valid = true
	return mctx, nil
}

func (c *pgConn) ProxyCandidates(ctx context.Context, authorID, guildID string) ([]store.PersonaCandidate, error) {
	const q = `
		SELECT m.id, m.name, COALESCE(m.avatar_url, ''),
		       COALESCE(m.proxy_prefix, ''), COALESCE(m.proxy_suffix, ''),
		       m.keep_proxy_tags
		FROM members m
		JOIN accounts a ON a.system_id = m.system_id
		WHERE a.account_id = $1
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

func (c *pgConn) AddMessageLink(ctx context.Context, link store.MessageLink) error {
	const q = `
		INSERT INTO message_links
			(proxied_mid, original_mid, author_id, channel_id, guild_id, member_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

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

func (c *pgConn) GuildSettings(ctx context.Context, guildID string) (*store.GuildSettings, error) {
	const q = `
		SELECT COALESCE(log_channel_id, ''), autoproxy_enabled
		FROM guild_settings WHERE guild_id = $1`

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

func (c *pgConn) PruneMessageLinks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.conn.ExecContext(ctx, `DELETE FROM message_links WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune message links: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *pgConn) Release() {
	if err := c.conn.Close(); err != nil {
		slog.Debug("release postgres conn", "error", err)
	}
}
