package proxy

import (
	"strings"

	"github.com/nextlevelbuilder/personate/internal/store"
)

// Match is a selected persona plus the content to re-emit, with any proxy
// tag markup already stripped.
type Match struct {
	Member  store.PersonaCandidate
	Content string
}

// Matcher selects at most one persona for an incoming message.
// Implementations must be pure: same inputs, same result, no side effects.
type Matcher interface {
	TryMatch(mctx *store.MessageContext, candidates []store.PersonaCandidate, content string, hasAttachments, allowAutoproxy bool) (Match, bool)
}

// TagMatcher matches personas by their proxy tags (prefix/suffix pairs),
// falling back to the guild's autoproxy member when permitted. When several
// candidates' tags match, the most specific (longest combined tag) wins.
type TagMatcher struct{}

func (TagMatcher) TryMatch(mctx *store.MessageContext, candidates []store.PersonaCandidate, content string, hasAttachments, allowAutoproxy bool) (Match, bool) {
	var (
		best    store.PersonaCandidate
		bestLen = -1
		inner   string
	)

	for _, c := range candidates {
		if c.Prefix == "" && c.Suffix == "" {
			continue
		}
		if len(content) < len(c.Prefix)+len(c.Suffix) {
			continue
		}
		if !strings.HasPrefix(content, c.Prefix) || !strings.HasSuffix(content, c.Suffix) {
			continue
		}

		stripped := strings.TrimSpace(content[len(c.Prefix) : len(content)-len(c.Suffix)])
		if stripped == "" && !hasAttachments {
			// Bare tags with nothing to re-emit are not a proxy trigger.
			continue
		}

		if tagLen := len(c.Prefix) + len(c.Suffix); tagLen > bestLen {
			best = c
			bestLen = tagLen
			if c.KeepProxyTags {
				inner = content
			} else {
				inner = stripped
			}
		}
	}

	if bestLen >= 0 {
		return Match{Member: best, Content: inner}, true
	}

	// No explicit tags: fall back to the configured autoproxy member.
	if allowAutoproxy && mctx != nil && mctx.AutoproxyMember.Valid {
		for _, c := range candidates {
			if c.ID == mctx.AutoproxyMember.UUID {
				return Match{Member: c, Content: content}, true
			}
		}
	}

	return Match{}, false
}
