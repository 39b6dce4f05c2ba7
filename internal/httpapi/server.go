// Package httpapi exposes the engine over HTTP: the provider-facing
// webhook endpoint plus the local control and read surface. The webhook
// route has one hard rule: it answers 200 no matter what processing did,
// so a misbehaving payload can never talk the provider into a retry
// storm. Everything else reports honest status codes.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Fyned/wp-crm-sub000/internal/gateway"
	"github.com/Fyned/wp-crm-sub000/internal/outbox"
	"github.com/Fyned/wp-crm-sub000/internal/store"
	"github.com/Fyned/wp-crm-sub000/internal/syncer"
	"github.com/Fyned/wp-crm-sub000/internal/webhook"
	"go.uber.org/zap"
)

const maxWebhookBody = 10 << 20

// Gateway is the provider subset the control surface drives directly.
type Gateway interface {
	CreateChannel(ctx context.Context, name string) error
	DeleteChannel(ctx context.Context, name string) error
	ConnectionState(ctx context.Context, name string) (string, error)
	PairingCode(ctx context.Context, name string) (string, error)
	MarkRead(ctx context.Context, name string, keys []gateway.MessageKey) error
}

// Server is the daemon's HTTP surface.
type Server struct {
	db        *store.DB
	gw        Gateway
	engine    *syncer.Engine
	processor *webhook.Processor
	sender    *outbox.Sender
	mediaDir  string
	logger    *zap.Logger
}

// NewServer creates the HTTP surface.
func NewServer(db *store.DB, gw Gateway, engine *syncer.Engine, processor *webhook.Processor, sender *outbox.Sender, mediaDir string, logger *zap.Logger) *Server {
	return &Server{
		db:        db,
		gw:        gw,
		engine:    engine,
		processor: processor,
		sender:    sender,
		mediaDir:  mediaDir,
		logger:    logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		s.handleHealth(w, r)
	case path == "/v1/webhook" && r.Method == http.MethodPost:
		s.handleWebhook(w, r)
	case path == "/v1/sessions" && r.Method == http.MethodGet:
		s.handleListSessions(w, r)
	case path == "/v1/sessions" && r.Method == http.MethodPost:
		s.handleCreateSession(w, r)
	case strings.HasPrefix(path, "/v1/sessions/"):
		s.routeSession(w, r, strings.TrimPrefix(path, "/v1/sessions/"))
	case strings.HasPrefix(path, "/media/") && r.Method == http.MethodGet:
		s.handleMedia(w, r, strings.TrimPrefix(path, "/media/"))
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// routeSession dispatches /v1/sessions/{name}[/resource].
func (s *Server) routeSession(w http.ResponseWriter, r *http.Request, rest string) {
	name, resource, _ := strings.Cut(rest, "/")
	if name == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	sess, err := s.db.GetSessionByName(name)
	if err != nil {
		s.logger.Error("session lookup failed", zap.Error(err), zap.String("session", name))
		writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	switch {
	case resource == "" && r.Method == http.MethodGet:
		s.handleGetSession(w, r, sess)
	case resource == "" && r.Method == http.MethodDelete:
		s.handleDeleteSession(w, r, sess)
	case resource == "qr.png" && r.Method == http.MethodGet:
		s.handleQRImage(w, r, sess)
	case resource == "sync" && r.Method == http.MethodPost:
		s.handleStartSync(w, r, sess)
	case resource == "sync" && r.Method == http.MethodGet:
		s.handleSyncState(w, r, sess)
	case resource == "chats" && r.Method == http.MethodGet:
		s.handleChats(w, r, sess)
	case resource == "messages" && r.Method == http.MethodGet:
		s.handleMessages(w, r, sess)
	case resource == "search" && r.Method == http.MethodGet:
		s.handleSearch(w, r, sess)
	case resource == "send" && r.Method == http.MethodPost:
		s.handleSend(w, r, sess)
	case resource == "read" && r.Method == http.MethodPost:
		s.handleMarkRead(w, r, sess)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UnixMilli(),
	})
}

// handleWebhook is the provider callback. Always 200: the processing
// outcome only shows in the body, never in the status code.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Warn("failed to read webhook body", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]bool{"success": false})
		return
	}
	ok := s.processor.Process(raw)
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

// handleMedia serves stored attachment files. The request path is forced
// under the media root before any filesystem access.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request, rest string) {
	clean := filepath.Clean("/" + rest)
	full := filepath.Join(s.mediaDir, clean)

	rel, err := filepath.Rel(s.mediaDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		writeError(w, http.StatusBadRequest, "invalid media path")
		return
	}
	http.ServeFile(w, r, full)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
