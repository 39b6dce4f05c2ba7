package store

import (
	"database/sql"
	"time"
)

// BeginSyncState upserts the session's sync row into SYNCING. Counters
// from previous runs are preserved; the error message is cleared.
func (db *DB) BeginSyncState(sessionID int64, syncType string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (session_id, status, sync_type, started_at, completed_at, error_message)
		VALUES (?, ?, ?, ?, 0, '')
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			sync_type = excluded.sync_type,
			started_at = excluded.started_at,
			completed_at = 0,
			error_message = ''`,
		sessionID, SyncSyncing, syncType, now)
	return err
}

// FinishSyncState records a terminal transition. Counter deltas are
// additive across runs; status/completed_at/error are last-write-wins.
func (db *DB) FinishSyncState(sessionID int64, status string, messagesDelta, chatsDelta int64, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE sync_state SET
			status = ?,
			messages_synced = messages_synced + ?,
			chats_synced = chats_synced + ?,
			completed_at = ?,
			error_message = ?
		WHERE session_id = ?`,
		status, messagesDelta, chatsDelta, now, errMsg, sessionID)
	return err
}

// GetSyncState returns the session's sync row, or an IDLE default if the
// orchestrator has never run.
func (db *DB) GetSyncState(sessionID int64) (*SyncState, error) {
	var s SyncState
	err := db.QueryRow(`
		SELECT session_id, status, sync_type, messages_synced, chats_synced,
			started_at, completed_at, error_message
		FROM sync_state WHERE session_id = ?`, sessionID).
		Scan(&s.SessionID, &s.Status, &s.SyncType, &s.MessagesSynced, &s.ChatsSynced,
			&s.StartedAt, &s.CompletedAt, &s.ErrorMessage)
	if err == sql.ErrNoRows {
		return &SyncState{SessionID: sessionID, Status: SyncIdle}, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// AcquireSyncLock takes the per-session sync mutex. Returns false if a
// sync already holds it. The unique insert makes concurrent triggers on
// the same session lose deterministically.
func (db *DB) AcquireSyncLock(sessionID int64) (bool, error) {
	res, err := db.Exec(`
		INSERT INTO sync_locks (session_id, acquired_at)
		VALUES (?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sessionID, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseSyncLock frees the per-session sync mutex.
func (db *DB) ReleaseSyncLock(sessionID int64) error {
	_, err := db.Exec(`DELETE FROM sync_locks WHERE session_id = ?`, sessionID)
	return err
}

// ClearSyncLocks drops every sync lock. The daemon holds an exclusive
// flock on the data dir, so at startup any surviving lock row belongs
// to a run that died without its release defer. Left in place it would
// reject every future sync on that session.
func (db *DB) ClearSyncLocks() error {
	_, err := db.Exec(`DELETE FROM sync_locks`)
	return err
}
