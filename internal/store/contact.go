package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetContact returns a contact by (session, jid), or nil if absent.
func (db *DB) GetContact(sessionID int64, jid string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT id, session_id, jid, name, is_group, last_message_at, last_message_preview
		FROM contacts WHERE session_id = ? AND jid = ?`, sessionID, jid).
		Scan(&c.ID, &c.SessionID, &c.JID, &c.Name, &c.IsGroup, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertContact inserts the contact if absent and returns its row id.
// The stored name is replaced only when updateName is set and the new
// name is non-empty; name provenance is decided by the resolver, never
// here and never by raw callers.
func (db *DB) UpsertContact(sessionID int64, jid, name string, isGroup, updateName bool) (int64, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (session_id, jid, name, is_group, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, jid) DO UPDATE SET
			name = CASE WHEN ? AND excluded.name != '' THEN excluded.name ELSE contacts.name END,
			is_group = excluded.is_group,
			updated_at = excluded.updated_at`,
		sessionID, jid, nameIf(updateName, name), isGroup, now, updateName)
	if err != nil {
		return 0, fmt.Errorf("upsert contact %q: %w", jid, err)
	}

	var id int64
	err = db.QueryRow(`SELECT id FROM contacts WHERE session_id = ? AND jid = ?`, sessionID, jid).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reread contact %q: %w", jid, err)
	}
	return id, nil
}

// TouchContactActivity bumps the contact's chat-list ordering fields.
func (db *DB) TouchContactActivity(id int64, ts int64, preview string) error {
	_, err := db.Exec(`
		UPDATE contacts SET
			last_message_at = MAX(last_message_at, ?),
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			updated_at = ?
		WHERE id = ?`,
		ts, ts, preview, time.Now().UnixMilli(), id)
	return err
}

// ListChats returns a session's contacts ordered by last activity.
func (db *DB) ListChats(sessionID int64, limit, offset int) ([]Contact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, session_id, jid, name, is_group, last_message_at, last_message_preview
		FROM contacts
		WHERE session_id = ?
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.SessionID, &c.JID, &c.Name, &c.IsGroup, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func nameIf(cond bool, name string) string {
	if cond {
		return name
	}
	return ""
}
