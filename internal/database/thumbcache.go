package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrThumbNotFound is returned when no cache entry exists for the
// (asset, mtime) pair.
var ErrThumbNotFound = errors.New("thumbnail cache entry not found")

// GetThumbEntry looks up the cache entry for an asset at a specific
// modification time. Entries keyed to older mtimes are ignored, which is
// how content changes invalidate cached thumbnails.
func (d *Database) GetThumbEntry(ctx context.Context, assetID string, modifiedTime time.Time) (*ThumbEntry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_thumb_entry", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var entry ThumbEntry
	var path sql.NullString
	var modTime, createdAt int64

	err = d.db.QueryRowContext(ctx, `
		SELECT asset_id, modified_time, status, path, size_bytes, created_at
		FROM thumb_cache WHERE asset_id = ? AND modified_time = ?
	`, assetID, modifiedTime.Unix()).Scan(
		&entry.AssetID, &modTime, &entry.Status, &path, &entry.SizeBytes, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrThumbNotFound
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	entry.Path = path.String
	entry.ModifiedTime = time.Unix(modTime, 0)
	entry.CreatedAt = time.Unix(createdAt, 0)
	return &entry, nil
}

// PutThumbEntry records a generation outcome for the (asset, mtime) pair.
// Stale entries for older mtimes of the same asset are dropped.
func (d *Database) PutThumbEntry(ctx context.Context, entry *ThumbEntry) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("put_thumb_entry", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tx, err := d.BeginBatch()
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM thumb_cache WHERE asset_id = ? AND modified_time != ?
	`, entry.AssetID, entry.ModifiedTime.Unix())
	if err != nil {
		return d.EndBatch(tx, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO thumb_cache (asset_id, modified_time, status, path, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, strftime('%s', 'now'))
	`, entry.AssetID, entry.ModifiedTime.Unix(), entry.Status, nullString(entry.Path), entry.SizeBytes)

	return d.EndBatch(tx, err)
}

// ClearThumbEntries drops all cache entries for a project. Used by bulk
// regeneration, which rebuilds the cache from scratch.
func (d *Database) ClearThumbEntries(ctx context.Context, projectID string) ([]string, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("clear_thumb_entries", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := d.BeginBatch()
	if err != nil {
		return nil, err
	}

	// Collect payload paths so the caller can remove the files.
	rows, err := tx.QueryContext(ctx, `
		SELECT path FROM thumb_cache
		WHERE path IS NOT NULL
		  AND asset_id IN (SELECT id FROM assets WHERE project_id = ?)
	`, projectID)
	if err != nil {
		return nil, d.EndBatch(tx, err)
	}

	var paths []string
	for rows.Next() {
		var p string
		if err = rows.Scan(&p); err != nil {
			rows.Close()
			return nil, d.EndBatch(tx, err)
		}
		paths = append(paths, p)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, d.EndBatch(tx, err)
	}
	rows.Close()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM thumb_cache
		WHERE asset_id IN (SELECT id FROM assets WHERE project_id = ?)
	`, projectID)

	if endErr := d.EndBatch(tx, err); endErr != nil {
		return nil, endErr
	}
	return paths, nil
}
