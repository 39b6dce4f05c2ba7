package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestListMessagesRefiltersCrossChatResults(t *testing.T) {
	// The provider ignores the chat filter and returns a mixed superset.
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		records := []MessageRecord{
			{Key: MessageKey{RemoteJID: "111@s.whatsapp.net", ID: "a1"}, MessageTimestamp: 100},
			{Key: MessageKey{RemoteJID: "222@s.whatsapp.net", ID: "b1"}, MessageTimestamp: 150},
			{Key: MessageKey{RemoteJID: "111@s.whatsapp.net", ID: "a2"}, MessageTimestamp: 200},
			{Key: MessageKey{RemoteJID: "333@g.us", ID: "c1"}, MessageTimestamp: 300},
		}
		_ = json.NewEncoder(w).Encode(records)
	})

	msgs, err := client.ListMessages(context.Background(), "main", "111@s.whatsapp.net", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 after re-filter", len(msgs))
	}
	for _, m := range msgs {
		if m.Key.RemoteJID != "111@s.whatsapp.net" {
			t.Errorf("cross-chat message survived filter: %q", m.Key.RemoteJID)
		}
	}
	// Sorted descending by timestamp.
	if msgs[0].Key.ID != "a2" || msgs[1].Key.ID != "a1" {
		t.Errorf("order = %q,%q, want a2,a1", msgs[0].Key.ID, msgs[1].Key.ID)
	}
}

func TestListMessagesTruncatesToRequestedCount(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var records []MessageRecord
		for i := 0; i < 10; i++ {
			records = append(records, MessageRecord{
				Key:              MessageKey{RemoteJID: "111@s.whatsapp.net", ID: string(rune('a' + i))},
				MessageTimestamp: int64(i),
			})
		}
		_ = json.NewEncoder(w).Encode(records)
	})

	msgs, err := client.ListMessages(context.Background(), "main", "111@s.whatsapp.net", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// Kept the newest three.
	if msgs[0].MessageTimestamp != 9 || msgs[2].MessageTimestamp != 7 {
		t.Errorf("timestamps = %d..%d, want 9..7", msgs[0].MessageTimestamp, msgs[2].MessageTimestamp)
	}
}

func TestClientSendsAPIKeyHeader(t *testing.T) {
	var gotKey string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("apikey")
		_ = json.NewEncoder(w).Encode(map[string]any{"instance": map[string]string{"state": "open"}})
	})

	state, err := client.ConnectionState(context.Background(), "main")
	if err != nil {
		t.Fatal(err)
	}
	if state != "open" {
		t.Errorf("state = %q, want open", state)
	}
	if gotKey != "test-key" {
		t.Errorf("apikey header = %q, want test-key", gotKey)
	}
}

func TestClientErrorIncludesStatusAndBody(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	})

	err := client.CreateChannel(context.Background(), "main")
	if err == nil {
		t.Fatal("want error on 429")
	}
}

func TestSendTextReturnsServerID(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["number"] != "111@s.whatsapp.net" || body["text"] != "hi" {
			t.Errorf("unexpected send body: %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"key": MessageKey{ID: "srv-1"}})
	})

	id, err := client.SendText(context.Background(), "main", "111@s.whatsapp.net", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if id != "srv-1" {
		t.Errorf("server id = %q, want srv-1", id)
	}
}

func TestFetchMediaDecodesBase64(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"base64":   "aGVsbG8=",
			"mimetype": "image/jpeg",
		})
	})

	data, mime, err := client.FetchMedia(context.Background(), "main", MessageKey{ID: "m1"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" || mime != "image/jpeg" {
		t.Errorf("got %q/%q, want hello/image/jpeg", data, mime)
	}
}
