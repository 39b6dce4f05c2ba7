// Package ingest persists canonical messages idempotently. The dedup key
// (session, external message id) is enforced by the storage layer's
// unique constraint, so webhook delivery and backfill can race on the
// same message and exactly one write wins.
package ingest

import (
	"fmt"
	"unicode/utf8"

	"github.com/Fyned/wp-crm-sub000/internal/bus"
	"github.com/Fyned/wp-crm-sub000/internal/canon"
	"github.com/Fyned/wp-crm-sub000/internal/contacts"
	"github.com/Fyned/wp-crm-sub000/internal/store"
	"go.uber.org/zap"
)

// Result reports what a write did.
type Result int

const (
	// Inserted means a new canonical row was created.
	Inserted Result = iota
	// Skipped means the dedup key already existed; the event was a replay.
	Skipped
)

// MediaScheduler kicks off attachment processing for a committed message.
// Scheduling is fire-and-forget relative to the write.
type MediaScheduler interface {
	Schedule(sess *store.Session, messageID int64, msg *canon.Message)
}

// Writer is the idempotent message writer.
type Writer struct {
	db       *store.DB
	resolver *contacts.Resolver
	media    MediaScheduler
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewWriter creates a writer. media may be nil to disable attachment
// processing (tests, dry runs).
func NewWriter(db *store.DB, resolver *contacts.Resolver, media MediaScheduler, b *bus.Bus, logger *zap.Logger) *Writer {
	return &Writer{db: db, resolver: resolver, media: media, bus: b, logger: logger}
}

// Write persists one canonical message for a session. Replays of an
// already-written message return Skipped without touching the row.
func (w *Writer) Write(sess *store.Session, cm *canon.Message) (Result, error) {
	contactID, err := w.resolver.ResolveForMessage(sess.ID, cm.ChatJID, cm.PushName, cm.FromMe)
	if err != nil {
		return Skipped, fmt.Errorf("resolve contact: %w", err)
	}

	m := &store.Message{
		SessionID:   sess.ID,
		ContactID:   contactID,
		MsgID:       cm.ExternalID,
		SenderJID:   cm.SenderJID,
		FromMe:      cm.FromMe,
		MessageType: string(cm.Type),
		Body:        cm.Body,
		HasMedia:    cm.HasMedia,
		Ack:         string(cm.Ack),
		Timestamp:   cm.Timestamp,
		Raw:         string(cm.Raw),
	}
	inserted, err := w.db.InsertMessageIfAbsent(m)
	if err != nil {
		return Skipped, fmt.Errorf("insert message: %w", err)
	}
	if !inserted {
		return Skipped, nil
	}

	if err := w.db.TouchContactActivity(contactID, cm.Timestamp, preview(cm.Body)); err != nil {
		w.logger.Warn("failed to touch contact activity", zap.Error(err), zap.String("msg_id", cm.ExternalID))
	}

	w.bus.Publish(bus.TopicMessageUpserted, map[string]string{
		"session": sess.Name,
		"chat":    cm.ChatJID,
		"msg_id":  cm.ExternalID,
	})

	if cm.HasMedia && w.media != nil {
		w.media.Schedule(sess, m.ID, cm)
	}
	return Inserted, nil
}

// ApplyAck updates a message's delivery state by its external id.
func (w *Writer) ApplyAck(sess *store.Session, msgID string, ack canon.AckStatus) error {
	if err := w.db.UpdateAck(sess.ID, msgID, string(ack)); err != nil {
		return fmt.Errorf("update ack: %w", err)
	}
	w.bus.Publish(bus.TopicMessageAck, map[string]string{
		"session": sess.Name,
		"msg_id":  msgID,
		"ack":     string(ack),
	})
	return nil
}

func preview(s string) string {
	const maxLen = 100
	if len(s) <= maxLen {
		return s
	}
	// Back up to a rune boundary so the cut never leaves a broken
	// multi-byte sequence at the end.
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
