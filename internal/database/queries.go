package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"asset-atlas/internal/metrics"
)

// ErrAssetNotFound is returned when an asset lookup matches no row.
var ErrAssetNotFound = errors.New("asset not found")

const assetColumns = `id, project_id, absolute_path, relative_path, file_name, extension,
	asset_type, size_bytes, modified_time, external_id, created_at, updated_at`

func scanAsset(row interface{ Scan(...any) error }) (*Asset, error) {
	var a Asset
	var externalID sql.NullString
	var modTime, createdAt, updatedAt int64

	err := row.Scan(
		&a.ID, &a.ProjectID, &a.AbsolutePath, &a.RelativePath, &a.FileName,
		&a.Extension, &a.Type, &a.SizeBytes, &modTime, &externalID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ExternalID = externalID.String
	a.ModifiedTime = time.Unix(modTime, 0)
	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// UpsertAsset inserts or updates an asset record within a transaction.
// The asset's id is only used on insert; an existing row at the same
// (project, relative path) keeps its id so edges and cached thumbnails
// stay attached across content changes.
func (d *Database) UpsertAsset(tx *sql.Tx, asset *Asset) error {
	query := `
	INSERT INTO assets (id, project_id, absolute_path, relative_path, file_name, extension,
		asset_type, size_bytes, modified_time, external_id, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s', 'now'))
	ON CONFLICT(project_id, relative_path) DO UPDATE SET
		absolute_path = excluded.absolute_path,
		file_name = excluded.file_name,
		extension = excluded.extension,
		asset_type = excluded.asset_type,
		size_bytes = excluded.size_bytes,
		modified_time = excluded.modified_time,
		external_id = excluded.external_id,
		updated_at = strftime('%s', 'now')
	`

	// Use background context since we're within a transaction.
	// The transaction itself controls the operation's lifecycle.
	result, err := tx.ExecContext(context.Background(), query,
		asset.ID,
		asset.ProjectID,
		asset.AbsolutePath,
		asset.RelativePath,
		asset.FileName,
		asset.Extension,
		asset.Type,
		asset.SizeBytes,
		asset.ModifiedTime.Unix(),
		nullString(asset.ExternalID),
	)
	if err == nil {
		if rows, _ := result.RowsAffected(); rows > 0 {
			metrics.DBRowsAffected.WithLabelValues("upsert_asset").Observe(float64(rows))
		}
	}
	return err
}

// UpsertBatch writes a batch of assets in a single transaction.
func (d *Database) UpsertBatch(assets []*Asset) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("upsert_batch", start, err) }()

	tx, err := d.BeginBatch()
	if err != nil {
		return err
	}

	for _, a := range assets {
		if err = d.UpsertAsset(tx, a); err != nil {
			break
		}
	}

	return d.EndBatch(tx, err)
}

// Snapshot returns the on-disk identity of every indexed asset in the
// project, keyed by relative path. The scanner uses it to skip files
// whose size and mtime are unchanged.
func (d *Database) Snapshot(ctx context.Context, projectID string) (map[string]FileState, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("snapshot", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT relative_path, id, size_bytes, modified_time FROM assets WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshot := make(map[string]FileState)
	for rows.Next() {
		var relPath string
		var state FileState
		if err = rows.Scan(&relPath, &state.AssetID, &state.SizeBytes, &state.ModifiedTime); err != nil {
			return nil, err
		}
		snapshot[relPath] = state
	}
	err = rows.Err()
	return snapshot, err
}

// DeleteMissing removes assets whose relative paths were not seen during
// the scan. Edge and thumbnail rows follow via foreign key actions:
// outgoing edges and cached thumbnails are deleted, incoming edges revert
// to unresolved.
func (d *Database) DeleteMissing(projectID string, seen map[string]struct{}) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_missing", start, err) }()

	tx, err := d.BeginBatch()
	if err != nil {
		return 0, err
	}

	ctx := context.Background()

	_, err = tx.ExecContext(ctx, `
		CREATE TEMP TABLE IF NOT EXISTS scan_seen (path TEXT PRIMARY KEY) WITHOUT ROWID
	`)
	if err != nil {
		return 0, d.EndBatch(tx, err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM scan_seen"); err != nil {
		return 0, d.EndBatch(tx, err)
	}

	insert, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO scan_seen (path) VALUES (?)")
	if err != nil {
		return 0, d.EndBatch(tx, err)
	}
	for path := range seen {
		if _, err = insert.ExecContext(ctx, path); err != nil {
			_ = insert.Close()
			return 0, d.EndBatch(tx, err)
		}
	}
	if err = insert.Close(); err != nil {
		return 0, d.EndBatch(tx, err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM assets
		WHERE project_id = ?
		  AND relative_path NOT IN (SELECT path FROM scan_seen)
	`, projectID)
	if err != nil {
		return 0, d.EndBatch(tx, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected > 0 {
		metrics.DBRowsAffected.WithLabelValues("delete_missing").Observe(float64(rowsAffected))
	}

	return rowsAffected, d.EndBatch(tx, err)
}

// GetAsset retrieves a single asset by id.
func (d *Database) GetAsset(ctx context.Context, id string) (*Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_asset", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM assets WHERE id = ?", assetColumns)
	a, err := scanAsset(d.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrAssetNotFound
		return nil, err
	}
	return a, err
}

// GetAssetByExternalID retrieves the asset carrying the given external id
// within a project.
func (d *Database) GetAssetByExternalID(ctx context.Context, projectID, externalID string) (*Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_asset_by_external_id", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT %s FROM assets WHERE project_id = ? AND external_id = ?", assetColumns)
	a, err := scanAsset(d.db.QueryRowContext(ctx, query, projectID, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrAssetNotFound
		return nil, err
	}
	return a, err
}

// QueryAssets returns a page of assets matching the query, together with
// the total match count. The search term matches file names and relative
// paths via FTS with prefix expansion.
func (d *Database) QueryAssets(ctx context.Context, q AssetQuery) (*AssetPage, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("query_assets", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if q.Page < 0 {
		q.Page = 0
	}
	if q.PageSize < 1 {
		q.PageSize = 100
	}

	where := []string{"project_id = ?"}
	args := []any{q.ProjectID}

	search := strings.TrimSpace(q.Search)
	if search != "" {
		where = append(where, "rowid IN (SELECT rowid FROM assets_fts WHERE assets_fts MATCH ?)")
		args = append(args, ftsQuery(search))
	}

	if len(q.Types) > 0 {
		placeholders := make([]string, len(q.Types))
		for i, t := range q.Types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		where = append(where, fmt.Sprintf("asset_type IN (%s)", strings.Join(placeholders, ", ")))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM assets WHERE %s", whereClause)
	if err = d.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s FROM assets
		WHERE %s
		ORDER BY file_name COLLATE NOCASE ASC, relative_path ASC
		LIMIT ? OFFSET ?
	`, assetColumns, whereClause)
	page := q.Page
	if page < 1 {
		page = 1
	}
	args = append(args, q.PageSize, (page-1)*q.PageSize)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Asset{}
	for rows.Next() {
		a, scanErr := scanAsset(rows)
		if scanErr != nil {
			err = scanErr
			return nil, scanErr
		}
		items = append(items, *a)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	totalPages := (total + q.PageSize - 1) / q.PageSize

	return &AssetPage{
		Items:      items,
		TotalItems: total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: totalPages,
	}, nil
}

// ftsQuery builds a prefix-matching FTS5 query from raw user input.
// Each term is quoted to neutralize FTS operators.
func ftsQuery(input string) string {
	terms := strings.Fields(input)
	for i, term := range terms {
		term = strings.ReplaceAll(term, `"`, `""`)
		terms[i] = fmt.Sprintf(`"%s"*`, term)
	}
	return strings.Join(terms, " ")
}

// GetDescriptorAssets returns every asset in the project whose type
// carries a parseable text descriptor.
func (d *Database) GetDescriptorAssets(ctx context.Context, projectID string) ([]Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_descriptor_assets", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s FROM assets
		WHERE project_id = ?
		  AND asset_type IN ('material', 'prefab', 'scene', 'scriptable_object')
		ORDER BY relative_path ASC
	`, assetColumns)

	rows, err := d.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		a, scanErr := scanAsset(rows)
		if scanErr != nil {
			err = scanErr
			return nil, scanErr
		}
		assets = append(assets, *a)
	}
	err = rows.Err()
	return assets, err
}

// GetThumbnailCandidates returns assets the thumbnail pipeline should
// consider, textures first, in deterministic order.
func (d *Database) GetThumbnailCandidates(ctx context.Context, projectID string) ([]Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_thumbnail_candidates", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT %s FROM assets
		WHERE project_id = ?
		  AND asset_type IN ('texture', 'material')
		ORDER BY
		  CASE asset_type WHEN 'texture' THEN 1 ELSE 2 END,
		  relative_path ASC
	`, assetColumns)

	rows, err := d.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		a, scanErr := scanAsset(rows)
		if scanErr != nil {
			err = scanErr
			return nil, scanErr
		}
		assets = append(assets, *a)
	}
	err = rows.Err()
	return assets, err
}

// GetTypeCounts returns per-type asset counts for a project.
func (d *Database) GetTypeCounts(ctx context.Context, projectID string) ([]TypeCount, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_type_counts", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT asset_type, COUNT(*) FROM assets WHERE project_id = ? GROUP BY asset_type
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []TypeCount
	for rows.Next() {
		var tc TypeCount
		if err = rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, tc)
	}
	err = rows.Err()

	for _, tc := range counts {
		metrics.AssetsTotal.WithLabelValues(string(tc.Type)).Set(float64(tc.Count))
	}
	return counts, err
}
