package gateway

// Wire types for the external messaging provider API. The provider nests
// message content in mutually-exclusive sub-objects; exactly one of the
// MessageContent pointers is expected to be set per record.

// MessageKey identifies a message on the provider side.
type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// MessageRecord is one provider message envelope, as returned by the
// message-list endpoint and carried in message-upsert webhooks.
type MessageRecord struct {
	Key              MessageKey      `json:"key"`
	PushName         string          `json:"pushName,omitempty"`
	Message          *MessageContent `json:"message,omitempty"`
	MessageTimestamp int64           `json:"messageTimestamp"`
	Status           int             `json:"status,omitempty"`
	// Some provider versions inline the decoded media payload here.
	Base64 string `json:"base64,omitempty"`
}

// MessageContent carries the polymorphic content shapes.
type MessageContent struct {
	Conversation string            `json:"conversation,omitempty"`
	ExtendedText *ExtendedTextPart `json:"extendedTextMessage,omitempty"`
	Image        *MediaPart        `json:"imageMessage,omitempty"`
	Video        *MediaPart        `json:"videoMessage,omitempty"`
	Audio        *MediaPart        `json:"audioMessage,omitempty"`
	Document     *MediaPart        `json:"documentMessage,omitempty"`
	Sticker      *MediaPart        `json:"stickerMessage,omitempty"`
	Location     *LocationPart     `json:"locationMessage,omitempty"`
	ContactCard  *ContactCardPart  `json:"contactMessage,omitempty"`
}

// ExtendedTextPart is the rich-text content shape.
type ExtendedTextPart struct {
	Text string `json:"text"`
}

// MediaPart is shared by image/video/audio/document/sticker shapes.
type MediaPart struct {
	URL      string `json:"url,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Length   int64  `json:"fileLength,omitempty"`
}

// LocationPart is the location content shape.
type LocationPart struct {
	Latitude  float64 `json:"degreesLatitude"`
	Longitude float64 `json:"degreesLongitude"`
	Name      string  `json:"name,omitempty"`
}

// ContactCardPart is the shared-contact content shape.
type ContactCardPart struct {
	DisplayName string `json:"displayName"`
	VCard       string `json:"vcard"`
}

// ChatRecord is one entry from the paginated chat-list endpoint.
type ChatRecord struct {
	JID  string `json:"id"`
	Name string `json:"name,omitempty"`
}

// AckUpdate is one entry from a message-ack webhook payload.
type AckUpdate struct {
	Key    MessageKey `json:"key"`
	Status int        `json:"status"`
}
