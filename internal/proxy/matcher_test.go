package proxy

import (
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/personate/internal/store"
)

func TestTagMatcher_ExplicitTags(t *testing.T) {
	kit := store.PersonaCandidate{ID: uuid.New(), Name: "Kit", Prefix: "k:"}
	ash := store.PersonaCandidate{ID: uuid.New(), Name: "Ash", Suffix: "-a"}
	kai := store.PersonaCandidate{ID: uuid.New(), Name: "Kai", Prefix: "k:", Suffix: ":k"}
	raw := store.PersonaCandidate{ID: uuid.New(), Name: "Raw", Prefix: "r:", KeepProxyTags: true}
	untagged := store.PersonaCandidate{ID: uuid.New(), Name: "Plain"}
	candidates := []store.PersonaCandidate{untagged, kit, ash, kai, raw}

	mctx := &store.MessageContext{}

	tests := []struct {
		name           string
		content        string
		hasAttachments bool
		wantMember     string
		wantContent    string
		wantOK         bool
	}{
		{
			name:        "prefix match strips tag",
			content:     "k: hello there",
			wantMember:  "Kit",
			wantContent: "hello there",
			wantOK:      true,
		},
		{
			name:        "suffix match strips tag",
			content:     "good morning -a",
			wantMember:  "Ash",
			wantContent: "good morning",
			wantOK:      true,
		},
		{
			name:        "longest combined tag wins",
			content:     "k: hello :k",
			wantMember:  "Kai",
			wantContent: "hello",
			wantOK:      true,
		},
		{
			name:        "keep proxy tags passes content through",
			content:     "r: hi",
			wantMember:  "Raw",
			wantContent: "r: hi",
			wantOK:      true,
		},
		{
			name:    "bare tags with no attachments is not a trigger",
			content: "k:",
			wantOK:  false,
		},
		{
			name:           "bare tags with attachment matches",
			content:        "k:",
			hasAttachments: true,
			wantMember:     "Kit",
			wantContent:    "",
			wantOK:         true,
		},
		{
			name:    "no tags no match",
			content: "just chatting",
			wantOK:  false,
		},
	}

	m := TagMatcher{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, ok := m.TryMatch(mctx, candidates, tt.content, tt.hasAttachments, false)
			if ok != tt.wantOK {
				t.Fatalf("TryMatch() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if match.Member.Name != tt.wantMember {
				t.Errorf("TryMatch() member = %q, want %q", match.Member.Name, tt.wantMember)
			}
			if match.Content != tt.wantContent {
				t.Errorf("TryMatch() content = %q, want %q", match.Content, tt.wantContent)
			}
		})
	}
}

func TestTagMatcher_Autoproxy(t *testing.T) {
	kit := store.PersonaCandidate{ID: uuid.New(), Name: "Kit", Prefix: "k:"}
	ash := store.PersonaCandidate{ID: uuid.New(), Name: "Ash"}
	candidates := []store.PersonaCandidate{kit, ash}

	mctx := &store.MessageContext{
		AutoproxyMember: uuid.NullUUID{UUID: ash.ID, Valid: true},
	}

	m := TagMatcher{}

	match, ok := m.TryMatch(mctx, candidates, "untagged message", false, true)
	if !ok {
		t.Fatal("TryMatch() should fall back to the autoproxy member")
	}
	if match.Member.ID != ash.ID {
		t.Errorf("TryMatch() member = %q, want autoproxy member %q", match.Member.Name, ash.Name)
	}
	if match.Content != "untagged message" {
		t.Errorf("TryMatch() content = %q, want full content", match.Content)
	}

	// Explicit tags always beat autoproxy.
	match, ok = m.TryMatch(mctx, candidates, "k: tagged", false, true)
	if !ok || match.Member.ID != kit.ID {
		t.Errorf("TryMatch() = (%q, %v), want explicit tag match %q", match.Member.Name, ok, kit.Name)
	}

	// Autoproxy disallowed: no match.
	if _, ok = m.TryMatch(mctx, candidates, "untagged message", false, false); ok {
		t.Error("TryMatch() matched with autoproxy disallowed")
	}

	// Autoproxy member not among candidates: no match.
	mctx.AutoproxyMember = uuid.NullUUID{UUID: uuid.New(), Valid: true}
	if _, ok = m.TryMatch(mctx, candidates, "untagged message", false, true); ok {
		t.Error("TryMatch() matched an autoproxy member that is not a candidate")
	}
}
