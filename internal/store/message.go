package store

import (
	"database/sql"
	"time"
)

// InsertMessageIfAbsent performs the atomic conditional insert behind the
// engine's idempotence guarantee. Returns true if the row was inserted,
// false if the dedup key (session_id, msg_id) already existed. This is
// deliberately not read-then-write: webhook delivery and backfill can
// race on the same external id.
func (db *DB) InsertMessageIfAbsent(m *Message) (bool, error) {
	res, err := db.Exec(`
		INSERT INTO messages (session_id, contact_id, msg_id, sender_jid, from_me,
			message_type, body, has_media, ack, timestamp, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, msg_id) DO NOTHING`,
		m.SessionID, m.ContactID, m.MsgID, m.SenderJID, m.FromMe,
		m.MessageType, m.Body, m.HasMedia, m.Ack, m.Timestamp, m.Raw, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, err
	}
	m.ID = id
	return true, nil
}

// UpdateAck sets the ack status for a message by its external id.
func (db *DB) UpdateAck(sessionID int64, msgID, ack string) error {
	_, err := db.Exec(`
		UPDATE messages SET ack = ? WHERE session_id = ? AND msg_id = ?`,
		ack, sessionID, msgID)
	return err
}

// AttachMediaPath backfills the media reference on a committed message.
func (db *DB) AttachMediaPath(messageID int64, path string) error {
	_, err := db.Exec(`UPDATE messages SET media_path = ? WHERE id = ?`, path, messageID)
	return err
}

// GetMessageByExternalID returns a message by its dedup key, or nil.
func (db *DB) GetMessageByExternalID(sessionID int64, msgID string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, session_id, contact_id, msg_id, sender_jid, from_me,
			message_type, body, has_media, media_path, ack, timestamp, raw
		FROM messages WHERE session_id = ? AND msg_id = ?`, sessionID, msgID).
		Scan(&m.ID, &m.SessionID, &m.ContactID, &m.MsgID, &m.SenderJID, &m.FromMe,
			&m.MessageType, &m.Body, &m.HasMedia, &m.MediaPath, &m.Ack, &m.Timestamp, &m.Raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages for a chat using keyset pagination by timestamp.
func (db *DB) ListMessages(sessionID int64, chatJID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT m.id, m.session_id, m.contact_id, m.msg_id, m.sender_jid, m.from_me,
			m.message_type, m.body, m.has_media, m.media_path, m.ack, m.timestamp, m.raw
		FROM messages m
		JOIN contacts c ON m.contact_id = c.id
		WHERE m.session_id = ? AND c.jid = ? AND m.timestamp < ?
		ORDER BY m.timestamp DESC
		LIMIT ?`, sessionID, chatJID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.ContactID, &m.MsgID, &m.SenderJID, &m.FromMe,
			&m.MessageType, &m.Body, &m.HasMedia, &m.MediaPath, &m.Ack, &m.Timestamp, &m.Raw); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of messages for a session.
func (db *DB) MessageCount(sessionID int64) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}
