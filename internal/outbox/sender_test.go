package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Fyned/wp-crm-sub000/internal/bus"
	"github.com/Fyned/wp-crm-sub000/internal/store"
	"go.uber.org/zap"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeSender) SendText(_ context.Context, _ string, chatJID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatJID)
	if f.err != nil {
		return "", f.err
	}
	return "SRV-1", nil
}

func newTestSender(t *testing.T, gw TextSender) (*Sender, *store.DB, *store.Session) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sess, err := db.CreateSession("main")
	if err != nil {
		t.Fatal(err)
	}
	return NewSender(db, gw, bus.New(), zap.NewNop()), db, sess
}

func outboxStatus(t *testing.T, db *store.DB, clientID string) (status, serverID, errMsg string) {
	t.Helper()
	err := db.QueryRow(`SELECT status, server_msg_id, error_message FROM outbox WHERE client_msg_id = ?`, clientID).
		Scan(&status, &serverID, &errMsg)
	if err != nil {
		t.Fatal(err)
	}
	return status, serverID, errMsg
}

func TestDrainSendsQueuedEntries(t *testing.T) {
	gw := &fakeSender{}
	s, db, sess := newTestSender(t, gw)

	if err := db.QueueOutbox(sess.ID, "C1", "111@s.whatsapp.net", "hello"); err != nil {
		t.Fatal(err)
	}
	s.DrainOnce(context.Background())

	status, serverID, _ := outboxStatus(t, db, "C1")
	if status != "sent" || serverID != "SRV-1" {
		t.Errorf("entry = (%q, %q), want (sent, SRV-1)", status, serverID)
	}
	if len(gw.calls) != 1 || gw.calls[0] != "111@s.whatsapp.net" {
		t.Errorf("gateway calls = %v", gw.calls)
	}
}

func TestFailedSendMarkedNotRetried(t *testing.T) {
	gw := &fakeSender{err: errors.New("gateway down")}
	s, db, sess := newTestSender(t, gw)

	if err := db.QueueOutbox(sess.ID, "C1", "111@s.whatsapp.net", "hello"); err != nil {
		t.Fatal(err)
	}
	s.DrainOnce(context.Background())
	s.DrainOnce(context.Background())

	status, _, errMsg := outboxStatus(t, db, "C1")
	if status != "failed" || errMsg != "gateway down" {
		t.Errorf("entry = (%q, %q), want failed with error", status, errMsg)
	}
	if len(gw.calls) != 1 {
		t.Errorf("gateway called %d times, want 1 (no blind retry)", len(gw.calls))
	}
}

func TestDrainOrderIsOldestFirst(t *testing.T) {
	gw := &fakeSender{}
	s, db, sess := newTestSender(t, gw)

	for i, chat := range []string{"1@s.whatsapp.net", "2@s.whatsapp.net", "3@s.whatsapp.net"} {
		if err := db.QueueOutbox(sess.ID, string(rune('A'+i)), chat, "m"); err != nil {
			t.Fatal(err)
		}
	}
	s.DrainOnce(context.Background())

	want := []string{"1@s.whatsapp.net", "2@s.whatsapp.net", "3@s.whatsapp.net"}
	if len(gw.calls) != len(want) {
		t.Fatalf("calls = %v", gw.calls)
	}
	for i := range want {
		if gw.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, gw.calls[i], want[i])
		}
	}
}

func TestSendResultPublished(t *testing.T) {
	gw := &fakeSender{}
	s, db, sess := newTestSender(t, gw)
	ch, unsub := s.bus.Subscribe(bus.TopicSendResult, 4)
	defer unsub()

	if err := db.QueueOutbox(sess.ID, "C1", "111@s.whatsapp.net", "hello"); err != nil {
		t.Fatal(err)
	}
	s.DrainOnce(context.Background())

	select {
	case evt := <-ch:
		payload, ok := evt.Payload.(map[string]string)
		if !ok || payload["result"] != "sent" || payload["client_msg_id"] != "C1" {
			t.Errorf("payload = %#v", evt.Payload)
		}
	default:
		t.Fatal("no send result event")
	}
}
