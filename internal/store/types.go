package store

// Session connection statuses, mutated by connection-update webhooks.
const (
	SessionConnected    = "connected"
	SessionConnecting   = "connecting"
	SessionDisconnected = "disconnected"
)

// Sync run statuses persisted in sync_state.
const (
	SyncIdle      = "IDLE"
	SyncSyncing   = "SYNCING"
	SyncCompleted = "COMPLETED"
	SyncFailed    = "FAILED"
)

// Session is one connected channel identity.
type Session struct {
	ID            int64
	Name          string
	Status        string
	QRCode        string
	LastMessageTS int64 // watermark: newest ingested message timestamp (millis)
}

// Contact is a subscriber or group identity scoped to a session.
type Contact struct {
	ID                 int64
	SessionID          int64
	JID                string
	Name               string
	IsGroup            bool
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is one canonical message row. Immutable once written except
// for ack and media_path backfill.
type Message struct {
	ID          int64
	SessionID   int64
	ContactID   int64
	MsgID       string
	SenderJID   string
	FromMe      bool
	MessageType string
	Body        string
	HasMedia    bool
	MediaPath   string
	Ack         string
	Timestamp   int64
	Raw         string
}

// MediaAsset references a stored attachment for a message. Absence is a
// valid state, not an error.
type MediaAsset struct {
	ID          int64
	MessageID   int64
	StoragePath string
	URL         string
	Mimetype    string
	Size        int64
	FileName    string
}

// SyncState is the per-session orchestrator status row. Counters are
// additive across runs; terminal fields are last-write-wins.
type SyncState struct {
	SessionID      int64
	Status         string
	SyncType       string
	MessagesSynced int64
	ChatsSynced    int64
	StartedAt      int64
	CompletedAt    int64
	ErrorMessage   string
}

// OutboxEntry is one pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	SessionID    int64
	SessionName  string
	ChatJID      string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
