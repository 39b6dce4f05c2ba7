// Package outbox drains queued outgoing messages to the gateway. Sends
// are durable: a message survives a daemon restart while queued, and a
// failed send is marked rather than retried blindly. The canonical row
// for a sent message is NOT written here; it arrives through the
// provider's own-message webhook and deduplicates by server id like any
// other message.
package outbox

import (
	"context"
	"time"

	"github.com/Fyned/wp-crm-sub000/internal/bus"
	"github.com/Fyned/wp-crm-sub000/internal/store"
	"go.uber.org/zap"
)

const drainInterval = 500 * time.Millisecond

// TextSender is the gateway subset the sender drives.
type TextSender interface {
	SendText(ctx context.Context, session, chatJID, text string) (string, error)
}

// Sender is the background outbox drain loop.
type Sender struct {
	db     *store.DB
	gw     TextSender
	bus    *bus.Bus
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	kick   chan struct{}
}

// NewSender creates a sender; call Start to begin draining.
func NewSender(db *store.DB, gw TextSender, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{db: db, gw: gw, bus: b, logger: logger, kick: make(chan struct{}, 1)}
}

// Start launches the drain loop.
func (s *Sender) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(drainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.DrainOnce(ctx)
			case <-s.kick:
				s.DrainOnce(ctx)
			}
		}
	}()
}

// Stop terminates the drain loop and waits for it to exit.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Kick nudges the loop to drain now instead of waiting out the tick.
// Safe to call from any goroutine; a pending nudge coalesces.
func (s *Sender) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// DrainOnce sends every currently queued entry. Exported so the send API
// can trigger an immediate drain instead of waiting out the tick.
func (s *Sender) DrainOnce(ctx context.Context) {
	entries, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to load outbox", zap.Error(err))
		return
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		s.send(ctx, e)
	}
}

func (s *Sender) send(ctx context.Context, e store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(e.ClientMsgID); err != nil {
		s.logger.Error("failed to mark outbox entry sending", zap.Error(err), zap.String("client_msg_id", e.ClientMsgID))
		return
	}

	serverID, err := s.gw.SendText(ctx, e.SessionName, e.ChatJID, e.Body)
	if err != nil {
		s.logger.Warn("send failed",
			zap.Error(err), zap.String("client_msg_id", e.ClientMsgID), zap.String("chat", e.ChatJID))
		if dbErr := s.db.MarkOutboxFailed(e.ClientMsgID, err.Error()); dbErr != nil {
			s.logger.Error("failed to mark outbox entry failed", zap.Error(dbErr), zap.String("client_msg_id", e.ClientMsgID))
		}
		s.publishResult(e, "failed", err.Error())
		return
	}

	if err := s.db.MarkOutboxSent(e.ClientMsgID, serverID); err != nil {
		s.logger.Error("failed to mark outbox entry sent", zap.Error(err), zap.String("client_msg_id", e.ClientMsgID))
		return
	}
	s.logger.Info("message sent",
		zap.String("client_msg_id", e.ClientMsgID), zap.String("server_msg_id", serverID), zap.String("chat", e.ChatJID))
	s.publishResult(e, "sent", "")
}

func (s *Sender) publishResult(e store.OutboxEntry, result, errMsg string) {
	s.bus.Publish(bus.TopicSendResult, map[string]string{
		"session":       e.SessionName,
		"client_msg_id": e.ClientMsgID,
		"chat":          e.ChatJID,
		"result":        result,
		"error":         errMsg,
	})
}
