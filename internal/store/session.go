package store

import (
	"database/sql"
	"time"
)

// CreateSession inserts a new session row in disconnected state.
func (db *DB) CreateSession(name string) (*Session, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO sessions (name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		name, SessionDisconnected, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, Name: name, Status: SessionDisconnected}, nil
}

// GetSessionByName returns a session by channel name, or nil if absent.
func (db *DB) GetSessionByName(name string) (*Session, error) {
	var s Session
	err := db.QueryRow(`
		SELECT id, name, status, qr_code, last_message_ts
		FROM sessions WHERE name = ?`, name).
		Scan(&s.ID, &s.Name, &s.Status, &s.QRCode, &s.LastMessageTS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns all sessions ordered by name.
func (db *DB) ListSessions() ([]Session, error) {
	rows, err := db.Query(`
		SELECT id, name, status, qr_code, last_message_ts
		FROM sessions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Name, &s.Status, &s.QRCode, &s.LastMessageTS); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus sets the connection status for a session.
func (db *DB) UpdateSessionStatus(id int64, status string) error {
	_, err := db.Exec(`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UnixMilli(), id)
	return err
}

// SetSessionQR stores the latest pairing credential for a session.
func (db *DB) SetSessionQR(id int64, code string) error {
	_, err := db.Exec(`UPDATE sessions SET qr_code = ?, updated_at = ? WHERE id = ?`,
		code, time.Now().UnixMilli(), id)
	return err
}

// AdvanceWatermark moves the session watermark forward to ts. The MAX
// keeps it monotonic under racing webhook and backfill writers.
func (db *DB) AdvanceWatermark(id int64, ts int64) error {
	_, err := db.Exec(`
		UPDATE sessions SET last_message_ts = MAX(last_message_ts, ?), updated_at = ?
		WHERE id = ?`,
		ts, time.Now().UnixMilli(), id)
	return err
}

// DeleteSession removes a session and its dependent rows.
func (db *DB) DeleteSession(id int64) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}
