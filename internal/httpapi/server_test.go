package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Fyned/wp-crm-sub000/internal/bus"
	"github.com/Fyned/wp-crm-sub000/internal/contacts"
	"github.com/Fyned/wp-crm-sub000/internal/gateway"
	"github.com/Fyned/wp-crm-sub000/internal/ingest"
	"github.com/Fyned/wp-crm-sub000/internal/outbox"
	"github.com/Fyned/wp-crm-sub000/internal/status"
	"github.com/Fyned/wp-crm-sub000/internal/store"
	"github.com/Fyned/wp-crm-sub000/internal/syncer"
	"github.com/Fyned/wp-crm-sub000/internal/webhook"
	"go.uber.org/zap"
)

type fakeControlGateway struct {
	createErr error
	state     string
	pairing   string
}

func (f *fakeControlGateway) CreateChannel(context.Context, string) error { return f.createErr }
func (f *fakeControlGateway) DeleteChannel(context.Context, string) error { return nil }
func (f *fakeControlGateway) ConnectionState(context.Context, string) (string, error) {
	return f.state, nil
}
func (f *fakeControlGateway) PairingCode(context.Context, string) (string, error) {
	return f.pairing, nil
}
func (f *fakeControlGateway) MarkRead(context.Context, string, []gateway.MessageKey) error {
	return nil
}

type fakeSyncGateway struct{}

func (fakeSyncGateway) ListChats(context.Context, string, int, int) ([]gateway.ChatRecord, error) {
	return nil, nil
}
func (fakeSyncGateway) ListMessages(context.Context, string, string, int) ([]gateway.MessageRecord, error) {
	return nil, nil
}

type fakeTextSender struct{}

func (fakeTextSender) SendText(context.Context, string, string, string) (string, error) {
	return "SRV-1", nil
}

func newTestServer(t *testing.T) (*Server, *syncer.Engine, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	resolver := contacts.NewResolver(db, logger)
	writer := ingest.NewWriter(db, resolver, nil, b, logger)
	processor := webhook.NewProcessor(db, writer, resolver, b, logger)
	engine := syncer.NewEngine(db, fakeSyncGateway{}, writer, resolver, status.NewRegistry(b), b, syncer.Config{
		ChatPageSize: 10, MaxChatPages: 2, MessageFetchLimit: 10, ChatsPerBatch: 10, MessagesPerBatch: 10,
	}, logger)
	sender := outbox.NewSender(db, fakeTextSender{}, b, logger)

	srv := NewServer(db, &fakeControlGateway{state: "open"}, engine, processor, sender, t.TempDir(), logger)
	return srv, engine, db
}

func doReq(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func connectedSession(t *testing.T, db *store.DB, name string) *store.Session {
	t.Helper()
	sess, err := db.CreateSession(name)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateSessionStatus(sess.ID, store.SessionConnected); err != nil {
		t.Fatal(err)
	}
	sess.Status = store.SessionConnected
	return sess
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doReq(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestWebhookAlwaysAnswers200(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, body := range []string{
		`not json`,
		`{}`,
		`{"event": "messages.upsert", "instance": "nobody-registered-this", "data": {}}`,
	} {
		rec := doReq(t, srv, http.MethodPost, "/v1/webhook", body)
		if rec.Code != http.StatusOK {
			t.Errorf("webhook status = %d for %q, want 200 always", rec.Code, body)
		}
	}
}

func TestWebhookDeliveryLandsInStore(t *testing.T) {
	srv, _, db := newTestServer(t)
	sess := connectedSession(t, db, "main")

	body := `{
		"event": "messages.upsert",
		"instance": "main",
		"data": {
			"key": {"remoteJid": "111@s.whatsapp.net", "fromMe": false, "id": "W1"},
			"message": {"conversation": "hello"},
			"messageTimestamp": 1700000001
		}
	}`
	rec := doReq(t, srv, http.MethodPost, "/v1/webhook", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || !resp["success"] {
		t.Errorf("response = %s", rec.Body.String())
	}

	m, err := db.GetMessageByExternalID(sess.ID, "W1")
	if err != nil || m == nil {
		t.Fatalf("message not stored: %v", err)
	}
}

func TestCreateSessionAndDuplicate(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doReq(t, srv, http.MethodPost, "/v1/sessions", `{"name": "main"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = doReq(t, srv, http.MethodPost, "/v1/sessions", `{"name": "main"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", rec.Code)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doReq(t, srv, http.MethodGet, "/v1/sessions/ghost/chats", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStartSyncAccepted(t *testing.T) {
	srv, engine, db := newTestServer(t)
	connectedSession(t, db, "main")

	rec := doReq(t, srv, http.MethodPost, "/v1/sessions/main/sync", `{"type": "initial"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	engine.Wait()

	rec = doReq(t, srv, http.MethodGet, "/v1/sessions/main/sync", "")
	var st syncStateDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Status != store.SyncCompleted {
		t.Errorf("sync status = %q, want COMPLETED", st.Status)
	}
}

func TestStartSyncOnDisconnectedSessionIs412(t *testing.T) {
	srv, _, db := newTestServer(t)
	if _, err := db.CreateSession("main"); err != nil {
		t.Fatal(err)
	}

	// Session read refresh is driven by the fake's "open" state only on
	// the session GET route, so the stored disconnected status holds here.
	rec := doReq(t, srv, http.MethodPost, "/v1/sessions/main/sync", "")
	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("status = %d, want 412", rec.Code)
	}
}

func TestSyncStateDefaultsToIdle(t *testing.T) {
	srv, _, db := newTestServer(t)
	connectedSession(t, db, "main")

	rec := doReq(t, srv, http.MethodGet, "/v1/sessions/main/sync", "")
	var st syncStateDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Status != store.SyncIdle {
		t.Errorf("status = %q, want IDLE", st.Status)
	}
}

func TestSendQueuesMessage(t *testing.T) {
	srv, _, db := newTestServer(t)
	sess := connectedSession(t, db, "main")

	rec := doReq(t, srv, http.MethodPost, "/v1/sessions/main/send",
		`{"chat": "111@s.whatsapp.net", "text": "hi"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp["client_msg_id"] == "" {
		t.Fatalf("response = %s", rec.Body.String())
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE session_id = ?`, sess.ID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("outbox rows = %d, want 1", n)
	}
}

func TestSendRejectsInvalidChat(t *testing.T) {
	srv, _, db := newTestServer(t)
	connectedSession(t, db, "main")

	rec := doReq(t, srv, http.MethodPost, "/v1/sessions/main/send",
		`{"chat": "status@broadcast", "text": "hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatsAndMessagesReadSurface(t *testing.T) {
	srv, _, db := newTestServer(t)
	connectedSession(t, db, "main")

	body := fmt.Sprintf(`{
		"event": "messages.upsert",
		"instance": "main",
		"data": {
			"key": {"remoteJid": %q, "fromMe": false, "id": "W1"},
			"pushName": "Alice",
			"message": {"conversation": "hello there"},
			"messageTimestamp": 1700000001
		}
	}`, "111@s.whatsapp.net")
	doReq(t, srv, http.MethodPost, "/v1/webhook", body)

	rec := doReq(t, srv, http.MethodGet, "/v1/sessions/main/chats", "")
	var chats []chatDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &chats); err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].Name != "Alice" || chats[0].LastMessagePreview != "hello there" {
		t.Errorf("chats = %+v", chats)
	}

	rec = doReq(t, srv, http.MethodGet, "/v1/sessions/main/messages?chat=111@s.whatsapp.net", "")
	var msgs []messageDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != "W1" || msgs[0].Body != "hello there" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestMediaPathTraversalRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doReq(t, srv, http.MethodGet, "/media/../../etc/passwd", "")
	if rec.Code == http.StatusOK {
		t.Error("traversal request served")
	}
}

func TestQRImageRendered(t *testing.T) {
	srv, _, db := newTestServer(t)
	sess := connectedSession(t, db, "main")
	if err := db.SetSessionQR(sess.ID, "PAIR-123"); err != nil {
		t.Fatal(err)
	}

	rec := doReq(t, srv, http.MethodGet, "/v1/sessions/main/qr.png", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty image body")
	}
}
