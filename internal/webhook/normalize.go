package webhook

import "strings"

// NormalizeEventTag canonicalizes a provider event name. Providers spell
// the same event "messages.upsert", "MESSAGES_UPSERT" or "messages-upsert"
// depending on version; all collapse to upper snake case so the dispatch
// table needs exactly one entry per event.
func NormalizeEventTag(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	pendingSep := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			r -= 'a' - 'A'
			fallthrough
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}
