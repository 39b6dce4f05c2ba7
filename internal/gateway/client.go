package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
)

// maxMessagesPerChat is the hard ceiling on a single per-chat history fetch,
// regardless of what the caller asks for.
const maxMessagesPerChat = 1000

// Config configures the provider client. Timeout bounds every outbound
// call; gateway calls are the only blocking points in the engine besides
// the orchestrator's pacing sleeps.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a thin HTTP wrapper for the external messaging provider.
// It holds its own explicitly constructed http.Client; nothing here
// relies on an ambient shared transport.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a provider client with a bounded-timeout transport.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// CreateChannel provisions a new channel instance on the provider.
func (c *Client) CreateChannel(ctx context.Context, name string) error {
	body := map[string]string{"instanceName": name}
	return c.do(ctx, http.MethodPost, "/instance/create", body, nil)
}

// DeleteChannel removes a channel instance from the provider.
func (c *Client) DeleteChannel(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/instance/delete/"+name, nil, nil)
}

// ConnectionState fetches the provider-side connection state for a channel.
func (c *Client) ConnectionState(ctx context.Context, name string) (string, error) {
	var out struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
	}
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+name, nil, &out); err != nil {
		return "", err
	}
	return out.Instance.State, nil
}

// PairingCode fetches the current QR/pairing credential for a channel.
func (c *Client) PairingCode(ctx context.Context, name string) (string, error) {
	var out struct {
		Code string `json:"code"`
	}
	if err := c.do(ctx, http.MethodGet, "/instance/connect/"+name, nil, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

// ListChats fetches one page of the channel's chat list.
func (c *Client) ListChats(ctx context.Context, name string, page, pageSize int) ([]ChatRecord, error) {
	body := map[string]int{"page": page, "pageSize": pageSize}
	var out []ChatRecord
	if err := c.do(ctx, http.MethodPost, "/chat/findChats/"+name, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages fetches up to count messages for one chat. The chat filter is
// passed to the provider, but some provider versions silently ignore it and
// return a cross-chat superset, so the result is always re-filtered here by
// each record's own embedded chat identifier, sorted descending by timestamp
// and truncated. The provider's claimed filtering is never trusted alone.
func (c *Client) ListMessages(ctx context.Context, name, chatJID string, count int) ([]MessageRecord, error) {
	if count <= 0 || count > maxMessagesPerChat {
		count = maxMessagesPerChat
	}
	body := map[string]any{
		"where": map[string]any{
			"key": map[string]string{"remoteJid": chatJID},
		},
		"limit": count,
	}
	var raw []MessageRecord
	if err := c.do(ctx, http.MethodPost, "/chat/findMessages/"+name, body, &raw); err != nil {
		return nil, err
	}

	msgs := raw[:0]
	for _, m := range raw {
		if m.Key.RemoteJID == chatJID {
			msgs = append(msgs, m)
		}
	}
	if dropped := len(raw) - len(msgs); dropped > 0 {
		c.logger.Warn("provider returned cross-chat messages, re-filtered locally",
			zap.String("chat", chatJID), zap.Int("dropped", dropped))
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].MessageTimestamp > msgs[j].MessageTimestamp
	})
	if len(msgs) > count {
		msgs = msgs[:count]
	}
	return msgs, nil
}

// SendText sends a text message. Returns the server-assigned message ID.
func (c *Client) SendText(ctx context.Context, name, chatJID, text string) (string, error) {
	body := map[string]string{"number": chatJID, "text": text}
	var out struct {
		Key MessageKey `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/message/sendText/"+name, body, &out); err != nil {
		return "", err
	}
	return out.Key.ID, nil
}

// SendMedia sends a media message from a URL or base64 payload.
func (c *Client) SendMedia(ctx context.Context, name, chatJID, mediaType, media, caption, fileName string) (string, error) {
	body := map[string]string{
		"number":    chatJID,
		"mediatype": mediaType,
		"media":     media,
		"caption":   caption,
		"fileName":  fileName,
	}
	var out struct {
		Key MessageKey `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/message/sendMedia/"+name, body, &out); err != nil {
		return "", err
	}
	return out.Key.ID, nil
}

// MarkRead marks the given messages as read on the provider.
func (c *Client) MarkRead(ctx context.Context, name string, keys []MessageKey) error {
	body := map[string]any{"readMessages": keys}
	return c.do(ctx, http.MethodPost, "/chat/markMessageAsRead/"+name, body, nil)
}

// FetchMedia fetches and decodes the media payload for a message key.
func (c *Client) FetchMedia(ctx context.Context, name string, key MessageKey) ([]byte, string, error) {
	body := map[string]any{
		"message": map[string]any{"key": key},
	}
	var out struct {
		Base64   string `json:"base64"`
		Mimetype string `json:"mimetype"`
	}
	if err := c.do(ctx, http.MethodPost, "/chat/getBase64FromMediaMessage/"+name, body, &out); err != nil {
		return nil, "", err
	}
	data, err := base64.StdEncoding.DecodeString(out.Base64)
	if err != nil {
		return nil, "", fmt.Errorf("decode media payload: %w", err)
	}
	return data, out.Mimetype, nil
}

// FetchURL downloads raw bytes from a provider-hosted media URL.
func (c *Client) FetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media url: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch media url: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
