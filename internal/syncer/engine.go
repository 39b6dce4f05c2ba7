// Package syncer drives bulk historical backfill. An initial sync walks
// every chat; a gap-fill sync runs the same machinery bounded below by
// the session watermark. Per-chat and per-message failures are isolated:
// they are logged and skipped, never fatal to the run. Only a failed
// precondition or a broken setup step fails a run outright.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Fyned/wp-crm-sub000/internal/bus"
	"github.com/Fyned/wp-crm-sub000/internal/canon"
	"github.com/Fyned/wp-crm-sub000/internal/contacts"
	"github.com/Fyned/wp-crm-sub000/internal/gateway"
	"github.com/Fyned/wp-crm-sub000/internal/ingest"
	"github.com/Fyned/wp-crm-sub000/internal/status"
	"github.com/Fyned/wp-crm-sub000/internal/store"
	"go.uber.org/zap"
)

// Type selects the backfill mode.
type Type string

const (
	Initial Type = "initial"
	GapFill Type = "gapfill"
)

var (
	// ErrSyncInProgress means another sync holds the session's sync lock.
	ErrSyncInProgress = errors.New("sync already running for this session")
	// ErrSessionNotConnected rejects a sync on a disconnected session
	// before any work begins.
	ErrSessionNotConnected = errors.New("session is not connected")
)

// Gateway is the provider subset the orchestrator drives.
type Gateway interface {
	ListChats(ctx context.Context, session string, page, pageSize int) ([]gateway.ChatRecord, error)
	ListMessages(ctx context.Context, session, chatJID string, count int) ([]gateway.MessageRecord, error)
}

// Config tunes pagination bounds and pacing. The batch delay is an
// operational constraint: burst backfill traffic trips the provider's
// anti-abuse detection and can get the channel suspended.
type Config struct {
	ChatPageSize      int
	MaxChatPages      int
	MessageFetchLimit int
	ChatsPerBatch     int
	MessagesPerBatch  int
	BatchDelay        time.Duration
}

// Engine is the sync orchestrator.
type Engine struct {
	db       *store.DB
	gw       Gateway
	writer   *ingest.Writer
	resolver *contacts.Resolver
	registry *status.Registry
	bus      *bus.Bus
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	wg      sync.WaitGroup

	// sleep is swappable so tests don't pay for pacing delays.
	sleep func(ctx context.Context, d time.Duration)
}

// NewEngine creates an orchestrator.
func NewEngine(db *store.DB, gw Gateway, writer *ingest.Writer, resolver *contacts.Resolver, registry *status.Registry, b *bus.Bus, cfg Config, logger *zap.Logger) *Engine {
	if cfg.ChatsPerBatch <= 0 {
		cfg.ChatsPerBatch = 5
	}
	if cfg.MessagesPerBatch <= 0 {
		cfg.MessagesPerBatch = 50
	}
	return &Engine{
		db:       db,
		gw:       gw,
		writer:   writer,
		resolver: resolver,
		registry: registry,
		bus:      b,
		cfg:      cfg,
		logger:   logger,
		cancels:  make(map[int64]context.CancelFunc),
		sleep:    sleepCtx,
	}
}

// Start validates preconditions synchronously, then runs the backfill as
// a detached background task. The caller polls SyncState for progress;
// Start returning nil only means the run was admitted.
func (e *Engine) Start(sess *store.Session, t Type) error {
	if sess.Status != store.SessionConnected {
		return fmt.Errorf("%w: session %q is %s", ErrSessionNotConnected, sess.Name, sess.Status)
	}

	ok, err := e.db.AcquireSyncLock(sess.ID)
	if err != nil {
		return fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return ErrSyncInProgress
	}

	if err := e.registry.Transition(sess.ID, status.Syncing); err != nil {
		_ = e.db.ReleaseSyncLock(sess.ID)
		return err
	}
	if err := e.db.BeginSyncState(sess.ID, string(t)); err != nil {
		_ = e.registry.Transition(sess.ID, status.Failed)
		_ = e.db.ReleaseSyncLock(sess.ID)
		return fmt.Errorf("begin sync state: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[sess.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.cancels, sess.ID)
			e.mu.Unlock()
			cancel()
			if err := e.db.ReleaseSyncLock(sess.ID); err != nil {
				e.logger.Error("failed to release sync lock", zap.Error(err), zap.Int64("session_id", sess.ID))
			}
		}()
		e.run(ctx, sess, t)
	}()
	return nil
}

// Stop cancels every in-flight run. Only the daemon shutdown path calls
// this; no user-facing cancellation is exposed.
func (e *Engine) Stop() {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Wait blocks until all admitted runs have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context, sess *store.Session, t Type) {
	defer func() {
		if r := recover(); r != nil {
			e.finish(sess, status.Failed, 0, 0, fmt.Sprintf("panic: %v", r))
		}
	}()

	e.logger.Info("sync started",
		zap.String("session", sess.Name), zap.String("type", string(t)),
		zap.Int64("watermark", sess.LastMessageTS))

	chats, err := e.enumerateChats(ctx, sess.Name)
	if err != nil {
		e.finish(sess, status.Failed, 0, 0, fmt.Sprintf("enumerate chats: %v", err))
		return
	}

	valid := chats[:0]
	for _, c := range chats {
		if gateway.ValidChatJID(c.JID) {
			valid = append(valid, c)
		} else {
			e.logger.Debug("skipping invalid chat", zap.String("jid", c.JID))
		}
	}

	var (
		written   int64
		chatsDone int64
		maxTs     int64
	)
	for i, chat := range valid {
		if ctx.Err() != nil {
			e.finish(sess, status.Failed, written, chatsDone, "sync cancelled")
			return
		}

		n, chatMax, err := e.syncChat(ctx, sess, t, chat)
		written += n
		if chatMax > maxTs {
			maxTs = chatMax
		}
		if err != nil {
			// Isolated: one broken chat never aborts the run.
			e.logger.Warn("chat sync failed, skipping",
				zap.Error(err), zap.String("session", sess.Name), zap.String("chat", chat.JID))
		} else {
			chatsDone++
		}

		e.bus.Publish(bus.TopicSyncProgress, bus.Progress{
			Session:      sess.Name,
			ChatsTotal:   len(valid),
			ChatsDone:    i + 1,
			MessagesDone: int(written),
			CurrentChat:  chat.JID,
		})

		if (i+1)%e.cfg.ChatsPerBatch == 0 && i+1 < len(valid) {
			e.sleep(ctx, e.cfg.BatchDelay)
		}
	}

	if maxTs > 0 {
		if err := e.db.AdvanceWatermark(sess.ID, maxTs); err != nil {
			e.logger.Error("failed to advance watermark", zap.Error(err), zap.String("session", sess.Name))
		}
	}
	e.finish(sess, status.Completed, written, chatsDone, "")

	e.logger.Info("sync completed",
		zap.String("session", sess.Name),
		zap.Int64("messages", written), zap.Int64("chats", chatsDone),
		zap.Int64("watermark", maxTs))
}

// enumerateChats walks the paginated chat list into a seen-set. It stops
// on an empty page, a short page, or a page contributing nothing new
// (broken pagination: accept partial results rather than loop forever).
// The page ceiling holds regardless; a provider has been observed to
// return page one's content for every page.
func (e *Engine) enumerateChats(ctx context.Context, session string) ([]gateway.ChatRecord, error) {
	seen := make(map[string]struct{})
	var chats []gateway.ChatRecord

	for page := 1; page <= e.cfg.MaxChatPages; page++ {
		recs, err := e.gw.ListChats(ctx, session, page, e.cfg.ChatPageSize)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			e.logger.Warn("chat page fetch failed, accepting partial enumeration",
				zap.Error(err), zap.Int("page", page))
			break
		}
		if len(recs) == 0 {
			break
		}

		fresh := 0
		for _, c := range recs {
			if _, dup := seen[c.JID]; dup {
				continue
			}
			seen[c.JID] = struct{}{}
			chats = append(chats, c)
			fresh++
		}
		if fresh == 0 {
			e.logger.Warn("chat pagination repeating itself, accepting partial enumeration",
				zap.Int("page", page), zap.Int("chats", len(chats)))
			break
		}
		if len(recs) < e.cfg.ChatPageSize {
			break
		}
	}
	return chats, nil
}

func (e *Engine) syncChat(ctx context.Context, sess *store.Session, t Type, chat gateway.ChatRecord) (written, maxTs int64, err error) {
	// Chat-level metadata is the one provenance allowed to name a chat
	// of any kind, groups included.
	if _, err := e.resolver.Resolve(sess.ID, chat.JID, chat.Name, gateway.IsGroupJID(chat.JID), contacts.SourceChatMetadata); err != nil {
		e.logger.Warn("failed to resolve chat contact", zap.Error(err), zap.String("chat", chat.JID))
	}

	recs, err := e.gw.ListMessages(ctx, sess.Name, chat.JID, e.cfg.MessageFetchLimit)
	if err != nil {
		return 0, 0, fmt.Errorf("list messages: %w", err)
	}

	for i := range recs {
		cm, err := canon.FromRecord(&recs[i])
		if err != nil {
			e.logger.Warn("unparseable message skipped", zap.Error(err), zap.String("chat", chat.JID))
			continue
		}
		if t == GapFill && cm.Timestamp <= sess.LastMessageTS {
			continue
		}

		res, err := e.writer.Write(sess, cm)
		if err != nil {
			e.logger.Warn("message write failed, skipping",
				zap.Error(err), zap.String("chat", chat.JID), zap.String("msg_id", cm.ExternalID))
			continue
		}
		if res != ingest.Inserted {
			continue
		}
		written++
		if cm.Timestamp > maxTs {
			maxTs = cm.Timestamp
		}
		if written%int64(e.cfg.MessagesPerBatch) == 0 {
			e.sleep(ctx, e.cfg.BatchDelay)
		}
	}
	return written, maxTs, nil
}

func (e *Engine) finish(sess *store.Session, st status.State, written, chatsDone int64, errMsg string) {
	if err := e.registry.Transition(sess.ID, st); err != nil {
		e.logger.Error("invalid sync state transition", zap.Error(err), zap.String("session", sess.Name))
	}
	if err := e.db.FinishSyncState(sess.ID, string(st), written, chatsDone, errMsg); err != nil {
		e.logger.Error("failed to persist sync state", zap.Error(err), zap.String("session", sess.Name))
	}
	e.bus.Publish(bus.TopicSyncFinished, map[string]string{
		"session": sess.Name,
		"status":  string(st),
		"error":   errMsg,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
