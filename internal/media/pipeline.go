// Package media resolves attachment bytes for committed messages and
// relays them to durable blob storage. Every failure here is terminal
// for the attachment only: the owning message row is never rolled back
// or failed, and no automatic retry is scheduled. A message with missing
// media beats a lost message.
package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/Fyned/wp-crm-sub000/internal/bus"
	"github.com/Fyned/wp-crm-sub000/internal/canon"
	"github.com/Fyned/wp-crm-sub000/internal/gateway"
	"github.com/Fyned/wp-crm-sub000/internal/store"
	"go.uber.org/zap"
)

const fetchTimeout = 60 * time.Second

// Fetcher is the gateway subset the pipeline needs to obtain bytes that
// were not inlined in the webhook payload.
type Fetcher interface {
	FetchMedia(ctx context.Context, session string, key gateway.MessageKey) ([]byte, string, error)
	FetchURL(ctx context.Context, url string) ([]byte, error)
}

// Pipeline processes attachments asynchronously after their message commit.
type Pipeline struct {
	db     *store.DB
	blobs  BlobStore
	gw     Fetcher
	bus    *bus.Bus
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewPipeline creates a pipeline.
func NewPipeline(db *store.DB, blobs BlobStore, gw Fetcher, b *bus.Bus, logger *zap.Logger) *Pipeline {
	return &Pipeline{db: db, blobs: blobs, gw: gw, bus: b, logger: logger}
}

// Schedule starts attachment processing in the background. It returns
// immediately; the caller's transaction must never wait on it.
func (p *Pipeline) Schedule(sess *store.Session, messageID int64, msg *canon.Message) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("media pipeline panic", zap.Any("panic", r), zap.String("msg_id", msg.ExternalID))
			}
		}()
		if err := p.process(sess, messageID, msg); err != nil {
			p.logger.Warn("media processing failed, message kept without attachment",
				zap.Error(err), zap.String("msg_id", msg.ExternalID))
		}
	}()
}

// Wait blocks until all scheduled work has drained. Used on shutdown
// and in tests.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) process(sess *store.Session, messageID int64, msg *canon.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	data, declaredMime, err := p.resolveBytes(ctx, sess, msg)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("empty media payload")
	}

	mime := detectMime(data, declaredMime)
	fileName := msg.Media.FileName
	if fileName == "" {
		fileName = fmt.Sprintf("%d%s", msg.Timestamp, extensionFor(mime, data))
	}

	ts := time.UnixMilli(msg.Timestamp).UTC()
	storagePath := path.Join(
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", int(ts.Month())),
		msg.ExternalID,
		fileName,
	)

	url, err := p.blobs.Put(storagePath, data)
	if err != nil {
		return fmt.Errorf("store blob: %w", err)
	}

	asset := &store.MediaAsset{
		MessageID:   messageID,
		StoragePath: storagePath,
		URL:         url,
		Mimetype:    mime,
		Size:        int64(len(data)),
		FileName:    fileName,
	}
	if err := p.db.InsertMediaAsset(asset); err != nil {
		return fmt.Errorf("record media asset: %w", err)
	}
	if err := p.db.AttachMediaPath(messageID, storagePath); err != nil {
		return fmt.Errorf("attach media path: %w", err)
	}

	p.bus.Publish(bus.TopicMediaAttached, map[string]string{
		"session": sess.Name,
		"msg_id":  msg.ExternalID,
		"path":    storagePath,
	})
	return nil
}

// resolveBytes tries the cheapest source first: inline base64, then the
// descriptor URL, then a provider media fetch by message key.
func (p *Pipeline) resolveBytes(ctx context.Context, sess *store.Session, msg *canon.Message) ([]byte, string, error) {
	ref := msg.Media
	if ref == nil {
		return nil, "", fmt.Errorf("message flagged has_media without descriptor")
	}

	if ref.Base64 != "" {
		data, err := base64.StdEncoding.DecodeString(ref.Base64)
		if err != nil {
			return nil, "", fmt.Errorf("decode inline payload: %w", err)
		}
		return data, ref.Mimetype, nil
	}

	if ref.URL != "" {
		data, err := p.gw.FetchURL(ctx, ref.URL)
		if err != nil {
			return nil, "", fmt.Errorf("fetch media url: %w", err)
		}
		return data, ref.Mimetype, nil
	}

	key := gateway.MessageKey{
		RemoteJID: msg.ChatJID,
		FromMe:    msg.FromMe,
		ID:        msg.ExternalID,
	}
	data, mime, err := p.gw.FetchMedia(ctx, sess.Name, key)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media by key: %w", err)
	}
	if mime == "" {
		mime = ref.Mimetype
	}
	return data, mime, nil
}
