package media

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Fyned/wp-crm-sub000/internal/bus"
	"github.com/Fyned/wp-crm-sub000/internal/canon"
	"github.com/Fyned/wp-crm-sub000/internal/gateway"
	"github.com/Fyned/wp-crm-sub000/internal/store"
	"go.uber.org/zap"
)

// Tiny valid PNG header so mimetype sniffing has something to chew on.
var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}

type fakeFetcher struct {
	data []byte
	mime string
	err  error
}

func (f *fakeFetcher) FetchMedia(_ context.Context, _ string, _ gateway.MessageKey) ([]byte, string, error) {
	return f.data, f.mime, f.err
}

func (f *fakeFetcher) FetchURL(_ context.Context, _ string) ([]byte, error) {
	return f.data, f.err
}

func testPipeline(t *testing.T, gw Fetcher) (*Pipeline, *store.DB, *store.Session, int64, string) {
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
	cid, err := db.UpsertContact(sess.ID, "111@s.whatsapp.net", "", false, false)
	if err != nil {
		t.Fatal(err)
	}
	m := &store.Message{SessionID: sess.ID, ContactID: cid, MsgID: "M1", HasMedia: true, MessageType: "image", Ack: "PENDING", Timestamp: 1700000000000}
	if _, err := db.InsertMessageIfAbsent(m); err != nil {
		t.Fatal(err)
	}

	blobRoot := t.TempDir()
	p := NewPipeline(db, NewFSBlobStore(blobRoot, "/media"), gw, bus.New(), zap.NewNop())
	return p, db, sess, m.ID, blobRoot
}

func mediaMessage(ref *canon.MediaRef) *canon.Message {
	return &canon.Message{
		ExternalID: "M1",
		ChatJID:    "111@s.whatsapp.net",
		Type:       canon.TypeImage,
		HasMedia:   true,
		Media:      ref,
		Timestamp:  1700000000000,
	}
}

func TestInlineBase64PersistedAndAttached(t *testing.T) {
	p, db, sess, msgRowID, blobRoot := testPipeline(t, &fakeFetcher{})

	ref := &canon.MediaRef{
		Base64:   base64.StdEncoding.EncodeToString(pngBytes),
		Mimetype: "image/png",
	}
	p.Schedule(sess, msgRowID, mediaMessage(ref))
	p.Wait()

	asset, err := db.GetMediaAsset(msgRowID)
	if err != nil {
		t.Fatal(err)
	}
	if asset == nil {
		t.Fatal("no media asset recorded")
	}
	if asset.Mimetype != "image/png" {
		t.Errorf("mimetype = %q, want image/png", asset.Mimetype)
	}
	if asset.Size != int64(len(pngBytes)) {
		t.Errorf("size = %d, want %d", asset.Size, len(pngBytes))
	}

	// Path is namespaced year/month/message-id.
	wantPrefix := "2023/11/M1/"
	if len(asset.StoragePath) < len(wantPrefix) || asset.StoragePath[:len(wantPrefix)] != wantPrefix {
		t.Errorf("storage path = %q, want prefix %q", asset.StoragePath, wantPrefix)
	}

	if _, err := os.Stat(filepath.Join(blobRoot, asset.StoragePath)); err != nil {
		t.Errorf("blob file missing: %v", err)
	}

	msg, _ := db.GetMessageByExternalID(sess.ID, "M1")
	if msg.MediaPath != asset.StoragePath {
		t.Errorf("message media_path = %q, want %q", msg.MediaPath, asset.StoragePath)
	}
}

func TestGatewayFetchFailureLeavesMessageIntact(t *testing.T) {
	p, db, sess, msgRowID, _ := testPipeline(t, &fakeFetcher{err: errors.New("network down")})

	// No inline payload and no URL forces the gateway fetch path.
	p.Schedule(sess, msgRowID, mediaMessage(&canon.MediaRef{Mimetype: "image/jpeg"}))
	p.Wait()

	asset, err := db.GetMediaAsset(msgRowID)
	if err != nil {
		t.Fatal(err)
	}
	if asset != nil {
		t.Errorf("asset recorded despite fetch failure: %+v", asset)
	}

	msg, _ := db.GetMessageByExternalID(sess.ID, "M1")
	if msg == nil || !msg.HasMedia || msg.MediaPath != "" {
		t.Errorf("message row disturbed by media failure: %+v", msg)
	}
}

func TestProviderFileNamePreferred(t *testing.T) {
	p, db, sess, msgRowID, _ := testPipeline(t, &fakeFetcher{})

	ref := &canon.MediaRef{
		Base64:   base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 fake")),
		Mimetype: "application/pdf",
		FileName: "contract.pdf",
	}
	p.Schedule(sess, msgRowID, mediaMessage(ref))
	p.Wait()

	asset, _ := db.GetMediaAsset(msgRowID)
	if asset == nil || asset.FileName != "contract.pdf" {
		t.Errorf("asset = %+v, want provider file name kept", asset)
	}
}

func TestSynthesizedFileNameUsesMimeExtension(t *testing.T) {
	p, db, sess, msgRowID, _ := testPipeline(t, &fakeFetcher{data: pngBytes, mime: "image/png"})

	p.Schedule(sess, msgRowID, mediaMessage(&canon.MediaRef{}))
	p.Wait()

	asset, _ := db.GetMediaAsset(msgRowID)
	if asset == nil {
		t.Fatal("no asset")
	}
	if filepath.Ext(asset.FileName) != ".png" {
		t.Errorf("file name = %q, want .png extension", asset.FileName)
	}
}

func TestExtensionFallbackTable(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"image/jpeg", ".jpg"},
		{"audio/ogg", ".ogg"},
		{"application/pdf", ".pdf"},
		{"application/zip", ".zip"},
		{"application/x-unheard-of", ".bin"},
	}
	for _, tt := range tests {
		if got := extensionFor(tt.mime, nil); got != tt.want {
			t.Errorf("extensionFor(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestDetectMimeStripsCodecParams(t *testing.T) {
	if got := detectMime(nil, "audio/ogg; codecs=opus"); got != "audio/ogg" {
		t.Errorf("detectMime = %q, want audio/ogg", got)
	}
}
