package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Fyned/wp-crm-sub000/internal/gateway"
	"github.com/Fyned/wp-crm-sub000/internal/store"
	"github.com/Fyned/wp-crm-sub000/internal/syncer"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

type sessionDTO struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	LastMessageTS int64  `json:"last_message_ts"`
}

type chatDTO struct {
	JID                string `json:"jid"`
	Name               string `json:"name"`
	IsGroup            bool   `json:"is_group"`
	LastMessageAt      int64  `json:"last_message_at"`
	LastMessagePreview string `json:"last_message_preview"`
}

type messageDTO struct {
	MsgID       string `json:"msg_id"`
	SenderJID   string `json:"sender_jid"`
	FromMe      bool   `json:"from_me"`
	MessageType string `json:"message_type"`
	Body        string `json:"body"`
	HasMedia    bool   `json:"has_media"`
	MediaPath   string `json:"media_path,omitempty"`
	Ack         string `json:"ack"`
	Timestamp   int64  `json:"timestamp"`
}

type syncStateDTO struct {
	Status         string `json:"status"`
	SyncType       string `json:"sync_type,omitempty"`
	MessagesSynced int64  `json:"messages_synced"`
	ChatsSynced    int64  `json:"chats_synced"`
	StartedAt      int64  `json:"started_at,omitempty"`
	CompletedAt    int64  `json:"completed_at,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

func toSessionDTO(s *store.Session) sessionDTO {
	return sessionDTO{Name: s.Name, Status: s.Status, LastMessageTS: s.LastMessageTS}
}

func toMessageDTO(m *store.Message) messageDTO {
	return messageDTO{
		MsgID:       m.MsgID,
		SenderJID:   m.SenderJID,
		FromMe:      m.FromMe,
		MessageType: m.MessageType,
		Body:        m.Body,
		HasMedia:    m.HasMedia,
		MediaPath:   m.MediaPath,
		Ack:         m.Ack,
		Timestamp:   m.Timestamp,
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions, err := s.db.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionDTO(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	existing, err := s.db.GetSessionByName(req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "session already exists")
		return
	}

	if err := s.gw.CreateChannel(r.Context(), req.Name); err != nil {
		s.logger.Error("channel creation failed", zap.Error(err), zap.String("session", req.Name))
		writeError(w, http.StatusBadGateway, "provider rejected channel creation")
		return
	}
	sess, err := s.db.CreateSession(req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record session")
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	// Best effort refresh of the provider-side state on read.
	if state, err := s.gw.ConnectionState(r.Context(), sess.Name); err == nil {
		st := sess.Status
		switch state {
		case "open":
			st = store.SessionConnected
		case "connecting":
			st = store.SessionConnecting
		case "close", "closed":
			st = store.SessionDisconnected
		}
		if st != sess.Status {
			if err := s.db.UpdateSessionStatus(sess.ID, st); err == nil {
				sess.Status = st
			}
		}
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	if err := s.gw.DeleteChannel(r.Context(), sess.Name); err != nil {
		s.logger.Warn("provider channel deletion failed, removing local rows anyway",
			zap.Error(err), zap.String("session", sess.Name))
	}
	if err := s.db.DeleteSession(sess.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": sess.Name})
}

func (s *Server) handleQRImage(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	code := sess.QRCode
	if code == "" {
		fetched, err := s.gw.PairingCode(r.Context(), sess.Name)
		if err != nil || fetched == "" {
			writeError(w, http.StatusNotFound, "no pairing code available")
			return
		}
		code = fetched
		if err := s.db.SetSessionQR(sess.ID, code); err != nil {
			s.logger.Warn("failed to store pairing code", zap.Error(err), zap.String("session", sess.Name))
		}
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render qr code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	var req struct {
		Type string `json:"type"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	t := syncer.Initial
	switch req.Type {
	case "", "initial":
	case "gapfill":
		t = syncer.GapFill
	default:
		writeError(w, http.StatusBadRequest, "type must be initial or gapfill")
		return
	}

	err := s.engine.Start(sess, t)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, syncer.ErrSessionNotConnected):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"session": sess.Name,
			"status":  store.SyncSyncing,
			"type":    string(t),
		})
	}
}

func (s *Server) handleSyncState(w http.ResponseWriter, _ *http.Request, sess *store.Session) {
	st, err := s.db.GetSyncState(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load sync state")
		return
	}
	writeJSON(w, http.StatusOK, syncStateDTO{
		Status:         st.Status,
		SyncType:       st.SyncType,
		MessagesSynced: st.MessagesSynced,
		ChatsSynced:    st.ChatsSynced,
		StartedAt:      st.StartedAt,
		CompletedAt:    st.CompletedAt,
		ErrorMessage:   st.ErrorMessage,
	})
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	chats, err := s.db.ListChats(sess.ID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	out := make([]chatDTO, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatDTO{
			JID:                c.JID,
			Name:               c.Name,
			IsGroup:            c.IsGroup,
			LastMessageAt:      c.LastMessageAt,
			LastMessagePreview: c.LastMessagePreview,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	chat := r.URL.Query().Get("chat")
	if chat == "" {
		writeError(w, http.StatusBadRequest, "chat is required")
		return
	}
	before := int64(queryInt(r, "before", 0))
	limit := queryInt(r, "limit", 50)

	msgs, err := s.db.ListMessages(sess.ID, chat, before, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	out := make([]messageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, toMessageDTO(&msgs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	results, err := s.db.SearchMessages(sess.ID, q, r.URL.Query().Get("chat"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	type hit struct {
		Message messageDTO `json:"message"`
		Snippet string     `json:"snippet"`
	}
	out := make([]hit, 0, len(results))
	for i := range results {
		out = append(out, hit{Message: toMessageDTO(&results[i].Message), Snippet: results[i].Snippet})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	var req struct {
		Chat string `json:"chat"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Chat == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "chat and text are required")
		return
	}
	if !gateway.ValidChatJID(req.Chat) {
		writeError(w, http.StatusBadRequest, "invalid chat address")
		return
	}

	clientID := uuid.NewString()
	if err := s.db.QueueOutbox(sess.ID, clientID, req.Chat, req.Text); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to queue message")
		return
	}
	s.sender.Kick()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"client_msg_id": clientID,
		"status":        "queued",
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	var req struct {
		Chat string   `json:"chat"`
		IDs  []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Chat == "" || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "chat and ids are required")
		return
	}

	keys := make([]gateway.MessageKey, 0, len(req.IDs))
	for _, id := range req.IDs {
		keys = append(keys, gateway.MessageKey{RemoteJID: req.Chat, ID: id})
	}
	if err := s.gw.MarkRead(r.Context(), sess.Name, keys); err != nil {
		writeError(w, http.StatusBadGateway, "provider rejected read receipt")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": len(keys)})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
