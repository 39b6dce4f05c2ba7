// Package canon decodes provider message envelopes into the engine's
// canonical, provider-agnostic message shape. Exactly one content branch
// is expected to match; a record matching none is tagged unknown with an
// empty body rather than rejected.
package canon

import (
	"encoding/json"
	"fmt"

	"github.com/Fyned/wp-crm-sub000/internal/gateway"
)

// MessageType is the canonical content variant tag.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeImage       MessageType = "image"
	TypeVideo       MessageType = "video"
	TypeAudio       MessageType = "audio"
	TypeDocument    MessageType = "document"
	TypeSticker     MessageType = "sticker"
	TypeLocation    MessageType = "location"
	TypeContactCard MessageType = "contact"
	TypeUnknown     MessageType = "unknown"
)

// AckStatus is the canonical delivery state.
type AckStatus string

const (
	AckPending AckStatus = "PENDING"
	AckServer  AckStatus = "SERVER"
	AckDevice  AckStatus = "DEVICE"
	AckRead    AckStatus = "READ"
	AckPlayed  AckStatus = "PLAYED"
)

// AckFromCode maps the provider's small integer ack codes to canonical
// states. Unrecognized codes map to PENDING, never to a delivered state:
// when the status is ambiguous, under-claiming is the safe direction.
func AckFromCode(code int) AckStatus {
	switch code {
	case 1:
		return AckServer
	case 2:
		return AckDevice
	case 3:
		return AckRead
	case 4:
		return AckPlayed
	default:
		return AckPending
	}
}

// MediaRef describes how to obtain a message's attachment bytes.
type MediaRef struct {
	URL      string
	Base64   string
	Mimetype string
	FileName string
}

// Message is the canonical message record.
type Message struct {
	ExternalID string
	ChatJID    string
	SenderJID  string
	PushName   string
	FromMe     bool
	Type       MessageType
	Body       string
	HasMedia   bool
	Media      *MediaRef
	Ack        AckStatus
	Timestamp  int64 // unix milliseconds
	Raw        json.RawMessage
}

// FromRecord decodes one provider message record. A record without a key
// identifier cannot be deduplicated and is rejected; every other input
// yields a canonical message.
func FromRecord(rec *gateway.MessageRecord) (*Message, error) {
	if rec == nil || rec.Key.ID == "" {
		return nil, fmt.Errorf("message record missing key id")
	}

	m := &Message{
		ExternalID: rec.Key.ID,
		ChatJID:    rec.Key.RemoteJID,
		SenderJID:  senderJID(rec),
		PushName:   rec.PushName,
		FromMe:     rec.Key.FromMe,
		Ack:        AckFromCode(rec.Status),
		Timestamp:  rec.MessageTimestamp * 1000,
	}
	if raw, err := json.Marshal(rec); err == nil {
		m.Raw = raw
	}

	content := rec.Message
	switch {
	case content == nil:
		m.Type = TypeUnknown
	case content.Conversation != "":
		m.Type = TypeText
		m.Body = content.Conversation
	case content.ExtendedText != nil:
		m.Type = TypeText
		m.Body = content.ExtendedText.Text
	case content.Image != nil:
		m.Type = TypeImage
		m.Body = content.Image.Caption
		m.setMedia(content.Image, rec.Base64)
	case content.Video != nil:
		m.Type = TypeVideo
		m.Body = content.Video.Caption
		m.setMedia(content.Video, rec.Base64)
	case content.Audio != nil:
		m.Type = TypeAudio
		m.setMedia(content.Audio, rec.Base64)
	case content.Document != nil:
		m.Type = TypeDocument
		m.Body = content.Document.Caption
		m.setMedia(content.Document, rec.Base64)
	case content.Sticker != nil:
		m.Type = TypeSticker
		m.setMedia(content.Sticker, rec.Base64)
	case content.Location != nil:
		m.Type = TypeLocation
		m.Body = locationBody(content.Location)
	case content.ContactCard != nil:
		m.Type = TypeContactCard
		m.Body = content.ContactCard.DisplayName
	default:
		m.Type = TypeUnknown
	}

	return m, nil
}

func (m *Message) setMedia(part *gateway.MediaPart, inline string) {
	m.HasMedia = true
	m.Media = &MediaRef{
		URL:      part.URL,
		Base64:   inline,
		Mimetype: part.Mimetype,
		FileName: part.FileName,
	}
}

func senderJID(rec *gateway.MessageRecord) string {
	if rec.Key.Participant != "" {
		return rec.Key.Participant
	}
	return rec.Key.RemoteJID
}

func locationBody(loc *gateway.LocationPart) string {
	if loc.Name != "" {
		return fmt.Sprintf("%s (%.6f, %.6f)", loc.Name, loc.Latitude, loc.Longitude)
	}
	return fmt.Sprintf("%.6f, %.6f", loc.Latitude, loc.Longitude)
}
