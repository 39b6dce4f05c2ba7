package store

import "strings"

// SearchMessages performs a full-text search on a session's message
// bodies. When the sqlite build lacks the FTS5 module the search runs a
// LIKE scan instead, trading ranking and snippets for availability.
func (db *DB) SearchMessages(sessionID int64, query, chatJID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	if !db.ftsEnabled {
		return db.searchMessagesLike(sessionID, query, chatJID, limit)
	}

	q := `
		SELECT m.id, m.session_id, m.contact_id, m.msg_id, m.sender_jid, m.from_me,
			m.message_type, m.body, m.has_media, m.media_path, m.ack, m.timestamp, m.raw,
			snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		JOIN contacts c ON m.contact_id = c.id
		WHERE messages_fts MATCH ? AND m.session_id = ?`

	args := []any{query, sessionID}
	if chatJID != "" {
		q += " AND c.jid = ?"
		args = append(args, chatJID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.SessionID, &r.Message.ContactID, &r.Message.MsgID,
			&r.Message.SenderJID, &r.Message.FromMe, &r.Message.MessageType, &r.Message.Body,
			&r.Message.HasMedia, &r.Message.MediaPath, &r.Message.Ack, &r.Message.Timestamp,
			&r.Message.Raw, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (db *DB) searchMessagesLike(sessionID int64, query, chatJID string, limit int) ([]SearchResult, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"

	q := `
		SELECT m.id, m.session_id, m.contact_id, m.msg_id, m.sender_jid, m.from_me,
			m.message_type, m.body, m.has_media, m.media_path, m.ack, m.timestamp, m.raw
		FROM messages m
		JOIN contacts c ON m.contact_id = c.id
		WHERE m.session_id = ? AND m.body LIKE ? ESCAPE '\'`

	args := []any{sessionID, pattern}
	if chatJID != "" {
		q += " AND c.jid = ?"
		args = append(args, chatJID)
	}
	q += " ORDER BY m.timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.SessionID, &r.Message.ContactID, &r.Message.MsgID,
			&r.Message.SenderJID, &r.Message.FromMe, &r.Message.MessageType, &r.Message.Body,
			&r.Message.HasMedia, &r.Message.MediaPath, &r.Message.Ack, &r.Message.Timestamp,
			&r.Message.Raw,
		); err != nil {
			return nil, err
		}
		r.Snippet = r.Message.Body
		results = append(results, r)
	}
	return results, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
