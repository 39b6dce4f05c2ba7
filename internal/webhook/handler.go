// Package webhook turns raw provider event deliveries into canonical
// writes. The transport contract is acknowledge-everything: the HTTP
// layer always answers 200 so the provider never retries into a storm,
// and the processing outcome is surfaced only in the response body and
// the logs. Replays are harmless because every write downstream is
// idempotent.
package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/Fyned/wp-crm-sub000/internal/bus"
	"github.com/Fyned/wp-crm-sub000/internal/canon"
	"github.com/Fyned/wp-crm-sub000/internal/contacts"
	"github.com/Fyned/wp-crm-sub000/internal/gateway"
	"github.com/Fyned/wp-crm-sub000/internal/ingest"
	"github.com/Fyned/wp-crm-sub000/internal/store"
	"go.uber.org/zap"
)

// Envelope is the outer webhook delivery shape. Field aliases cover the
// provider versions seen in the wild.
type Envelope struct {
	Event     string `json:"event,omitempty"`
	EventType string `json:"event_type,omitempty"`

	Instance  string `json:"instance,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`

	Data    json.RawMessage `json:"data,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Tag returns the raw event name from whichever alias is populated.
func (e *Envelope) Tag() string {
	if e.Event != "" {
		return e.Event
	}
	return e.EventType
}

// Session returns the channel name from whichever alias is populated.
func (e *Envelope) Session() string {
	if e.Instance != "" {
		return e.Instance
	}
	return e.ChannelID
}

// Body returns the event payload from whichever alias is populated.
func (e *Envelope) Body() json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	return e.Payload
}

// Processor dispatches normalized provider events.
type Processor struct {
	db       *store.DB
	writer   *ingest.Writer
	resolver *contacts.Resolver
	bus      *bus.Bus
	logger   *zap.Logger

	handlers map[string]func(sess *store.Session, body json.RawMessage) error
}

// NewProcessor creates a processor with the full dispatch table.
func NewProcessor(db *store.DB, writer *ingest.Writer, resolver *contacts.Resolver, b *bus.Bus, logger *zap.Logger) *Processor {
	p := &Processor{
		db:       db,
		writer:   writer,
		resolver: resolver,
		bus:      b,
		logger:   logger,
	}
	p.handlers = map[string]func(*store.Session, json.RawMessage) error{
		"MESSAGES_UPSERT":   p.handleMessagesUpsert,
		"MESSAGES_UPDATE":   p.handleMessagesUpdate,
		"CONNECTION_UPDATE": p.handleConnectionUpdate,
		"QRCODE_UPDATED":    p.handleQRCodeUpdated,
		"CONTACTS_UPSERT":   p.handleContactsUpsert,
		"CHATS_UPSERT":      p.handleContactsUpsert,
	}
	return p
}

// Process handles one raw webhook delivery. The returned bool is the
// internal outcome only; the transport answer is 200 either way.
func (p *Processor) Process(raw []byte) bool {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.logger.Warn("undecodable webhook delivery", zap.Error(err))
		return false
	}

	tag := NormalizeEventTag(env.Tag())
	handler, known := p.handlers[tag]
	if !known {
		// Providers emit far more event kinds than we consume. Dropping
		// is the handled outcome, not a failure.
		p.logger.Debug("webhook event dropped", zap.String("event", tag))
		return true
	}

	sess, err := p.db.GetSessionByName(env.Session())
	if err != nil {
		p.logger.Error("session lookup failed", zap.Error(err), zap.String("channel", env.Session()))
		return false
	}
	if sess == nil {
		p.logger.Warn("webhook for unregistered channel dropped",
			zap.String("channel", env.Session()), zap.String("event", tag))
		return false
	}

	if err := handler(sess, env.Body()); err != nil {
		p.logger.Warn("webhook processing failed",
			zap.Error(err), zap.String("event", tag), zap.String("channel", env.Session()))
		return false
	}
	return true
}

// records decodes a payload that may be a single message record, a bare
// array, or a wrapper object holding the array.
func records(body json.RawMessage) ([]gateway.MessageRecord, error) {
	var one gateway.MessageRecord
	if err := json.Unmarshal(body, &one); err == nil && one.Key.ID != "" {
		return []gateway.MessageRecord{one}, nil
	}

	var many []gateway.MessageRecord
	if err := json.Unmarshal(body, &many); err == nil {
		return many, nil
	}

	var wrapped struct {
		Messages []gateway.MessageRecord `json:"messages"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode message payload: %w", err)
	}
	return wrapped.Messages, nil
}

func (p *Processor) handleMessagesUpsert(sess *store.Session, body json.RawMessage) error {
	recs, err := records(body)
	if err != nil {
		return err
	}

	for i := range recs {
		cm, err := canon.FromRecord(&recs[i])
		if err != nil {
			p.logger.Warn("unparseable message in webhook skipped", zap.Error(err))
			continue
		}
		if !gateway.ValidChatJID(cm.ChatJID) {
			p.logger.Debug("message for invalid chat dropped", zap.String("chat", cm.ChatJID))
			continue
		}
		// The watermark is owned by the orchestrator's completion step.
		// A live write moving it would jump past a disconnected window
		// and make the next gap-fill skip the missed messages.
		if _, err := p.writer.Write(sess, cm); err != nil {
			p.logger.Warn("webhook message write failed",
				zap.Error(err), zap.String("msg_id", cm.ExternalID))
		}
	}
	return nil
}

func (p *Processor) handleMessagesUpdate(sess *store.Session, body json.RawMessage) error {
	var one gateway.AckUpdate
	var updates []gateway.AckUpdate
	if err := json.Unmarshal(body, &one); err == nil && one.Key.ID != "" {
		updates = []gateway.AckUpdate{one}
	} else if err := json.Unmarshal(body, &updates); err != nil {
		return fmt.Errorf("decode ack payload: %w", err)
	}

	for _, u := range updates {
		if u.Key.ID == "" {
			continue
		}
		if err := p.writer.ApplyAck(sess, u.Key.ID, canon.AckFromCode(u.Status)); err != nil {
			p.logger.Warn("ack update failed", zap.Error(err), zap.String("msg_id", u.Key.ID))
		}
	}
	return nil
}

func (p *Processor) handleConnectionUpdate(sess *store.Session, body json.RawMessage) error {
	var upd struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(body, &upd); err != nil {
		return fmt.Errorf("decode connection payload: %w", err)
	}

	var st string
	switch upd.State {
	case "open":
		st = store.SessionConnected
	case "connecting":
		st = store.SessionConnecting
	case "close", "closed":
		st = store.SessionDisconnected
	default:
		p.logger.Debug("unknown connection state dropped", zap.String("state", upd.State))
		return nil
	}

	if err := p.db.UpdateSessionStatus(sess.ID, st); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	p.bus.Publish(bus.TopicSessionStatus, map[string]string{
		"session": sess.Name,
		"status":  st,
	})
	return nil
}

func (p *Processor) handleQRCodeUpdated(sess *store.Session, body json.RawMessage) error {
	var upd struct {
		Code   string `json:"code"`
		QRCode struct {
			Code string `json:"code"`
		} `json:"qrcode"`
	}
	if err := json.Unmarshal(body, &upd); err != nil {
		return fmt.Errorf("decode qr payload: %w", err)
	}

	code := upd.Code
	if code == "" {
		code = upd.QRCode.Code
	}
	if code == "" {
		return nil
	}
	return p.db.SetSessionQR(sess.ID, code)
}

// handleContactsUpsert serves both contact and chat upsert events; both
// carry chat-level metadata, the provenance allowed to name any contact.
func (p *Processor) handleContactsUpsert(sess *store.Session, body json.RawMessage) error {
	type entry struct {
		ID       string `json:"id"`
		Name     string `json:"name,omitempty"`
		PushName string `json:"pushName,omitempty"`
	}

	var one entry
	var entries []entry
	if err := json.Unmarshal(body, &one); err == nil && one.ID != "" {
		entries = []entry{one}
	} else if err := json.Unmarshal(body, &entries); err != nil {
		return fmt.Errorf("decode contact payload: %w", err)
	}

	for _, c := range entries {
		if !gateway.ValidChatJID(c.ID) {
			continue
		}
		name := c.Name
		if name == "" {
			name = c.PushName
		}
		if _, err := p.resolver.Resolve(sess.ID, c.ID, name, gateway.IsGroupJID(c.ID), contacts.SourceChatMetadata); err != nil {
			p.logger.Warn("contact upsert failed", zap.Error(err), zap.String("jid", c.ID))
		}
	}
	return nil
}
