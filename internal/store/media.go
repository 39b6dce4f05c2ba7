package store

import (
	"database/sql"
	"time"
)

// InsertMediaAsset records a stored attachment for a message.
func (db *DB) InsertMediaAsset(a *MediaAsset) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO media_assets (message_id, storage_path, url, mimetype, size, file_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			storage_path = excluded.storage_path,
			url = excluded.url,
			mimetype = excluded.mimetype,
			size = excluded.size,
			file_name = excluded.file_name`,
		a.MessageID, a.StoragePath, a.URL, a.Mimetype, a.Size, a.FileName, now)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// GetMediaAsset returns the asset for a message, or nil if none exists.
// Absence is a valid state: the pipeline runs after the message commit
// and is allowed to fail without touching the message.
func (db *DB) GetMediaAsset(messageID int64) (*MediaAsset, error) {
	var a MediaAsset
	err := db.QueryRow(`
		SELECT id, message_id, storage_path, url, mimetype, size, file_name
		FROM media_assets WHERE message_id = ?`, messageID).
		Scan(&a.ID, &a.MessageID, &a.StoragePath, &a.URL, &a.Mimetype, &a.Size, &a.FileName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
