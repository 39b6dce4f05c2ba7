// Package contacts maps raw subscriber addresses to stable contact rows.
//
// The display-name rules live here and nowhere else. A stored name may
// only be replaced from two provenances: chat-level metadata describing
// the chat's own identity, or an inbound message on a direct chat whose
// remote address is the contact being resolved. An outbound message, or
// anything arriving through a group, must never rename the counterpart:
// a group's last-speaker name is not the chat's identity, and applying
// it would corrupt unrelated contacts across the whole store.
package contacts

import (
	"fmt"

	"github.com/Fyned/wp-crm-sub000/internal/gateway"
	"github.com/Fyned/wp-crm-sub000/internal/store"
	"go.uber.org/zap"
)

// NameSource declares where a candidate display name came from.
type NameSource int

const (
	// SourceNone carries no naming authority; the candidate is dropped.
	SourceNone NameSource = iota
	// SourceChatMetadata is chat-level metadata from enumeration or a
	// chat/contact-upsert event; it names the chat itself.
	SourceChatMetadata
	// SourceInboundDirect is an inbound message on a non-group chat.
	SourceInboundDirect
)

// Resolver creates and names contact rows under the provenance rules.
type Resolver struct {
	db     *store.DB
	logger *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(db *store.DB, logger *zap.Logger) *Resolver {
	return &Resolver{db: db, logger: logger}
}

// Resolve returns the contact row id for (session, jid), creating the row
// if absent. The candidate name is applied only when src authorizes it.
func (r *Resolver) Resolve(sessionID int64, jid, candidateName string, isGroup bool, src NameSource) (int64, error) {
	if jid == "" {
		return 0, fmt.Errorf("resolve contact: empty address")
	}

	allowName := candidateName != "" && nameAllowed(src, isGroup)
	id, err := r.db.UpsertContact(sessionID, jid, candidateName, isGroup, allowName)
	if err != nil {
		return 0, fmt.Errorf("resolve contact %q: %w", jid, err)
	}
	return id, nil
}

// ResolveForMessage resolves the chat contact for one message and derives
// the naming provenance itself, so callers on the message path cannot
// smuggle a group sender name into the chat's identity.
func (r *Resolver) ResolveForMessage(sessionID int64, chatJID, carriedName string, fromMe bool) (int64, error) {
	isGroup := gateway.IsGroupJID(chatJID)

	src := SourceNone
	if !fromMe && !isGroup {
		// Direct inbound: the carried push name describes the chat's
		// counterpart, which is the contact being resolved.
		src = SourceInboundDirect
	}
	return r.Resolve(sessionID, chatJID, carriedName, isGroup, src)
}

func nameAllowed(src NameSource, isGroup bool) bool {
	switch src {
	case SourceChatMetadata:
		return true
	case SourceInboundDirect:
		return !isGroup
	default:
		return false
	}
}
