package gateway

import "strings"

const (
	userSuffix       = "@s.whatsapp.net"
	groupSuffix      = "@g.us"
	aliasSuffix      = "@lid"
	broadcastSuffix  = "@broadcast"
	newsletterSuffix = "@newsletter"
)

// IsGroupJID reports whether jid addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, groupSuffix)
}

// ValidChatJID reports whether a chat identifier is worth syncing.
// System/broadcast/status pseudo-chats are rejected; everything accepted
// is either a group, a numeric subscriber address, or an explicitly
// tagged alias address.
func ValidChatJID(jid string) bool {
	if jid == "" {
		return false
	}
	if strings.HasSuffix(jid, broadcastSuffix) || strings.HasSuffix(jid, newsletterSuffix) {
		return false
	}
	if IsGroupJID(jid) || strings.HasSuffix(jid, aliasSuffix) {
		return true
	}
	user, ok := strings.CutSuffix(jid, userSuffix)
	if !ok || user == "" {
		return false
	}
	for _, r := range user {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
