package database

import (
	"context"
	"database/sql"
	"time"

	"asset-atlas/internal/metrics"
)

func scanDependency(row interface{ Scan(...any) error }) (*Dependency, error) {
	var dep Dependency
	var toAssetID sql.NullString
	var createdAt int64

	err := row.Scan(&dep.ID, &dep.FromAssetID, &toAssetID, &dep.ToExternalID,
		&dep.RelationType, &dep.Confidence, &createdAt)
	if err != nil {
		return nil, err
	}

	dep.ToAssetID = toAssetID.String
	dep.CreatedAt = time.Unix(createdAt, 0)
	return &dep, nil
}

// ReplaceEdges atomically replaces all outgoing edges of an asset.
// Resolution is replace-on-resolve: every pass rewrites the edge set from
// the current descriptor, so stale edges never accumulate.
func (d *Database) ReplaceEdges(tx *sql.Tx, fromAssetID string, edges []*Dependency) error {
	ctx := context.Background()

	if _, err := tx.ExecContext(ctx, "DELETE FROM dependencies WHERE from_asset_id = ?", fromAssetID); err != nil {
		return err
	}

	if len(edges) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dependencies (id, from_asset_id, to_asset_id, to_external_id, relation_type, confidence)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, edge := range edges {
		_, err = stmt.ExecContext(ctx,
			edge.ID,
			fromAssetID,
			nullString(edge.ToAssetID),
			edge.ToExternalID,
			edge.RelationType,
			edge.Confidence,
		)
		if err != nil {
			return err
		}
	}

	metrics.DBRowsAffected.WithLabelValues("replace_edges").Observe(float64(len(edges)))
	return nil
}

// GetDependencies returns the outgoing edges of an asset.
func (d *Database) GetDependencies(ctx context.Context, assetID string) ([]Dependency, error) {
	return d.queryEdges(ctx, "get_dependencies", "from_asset_id", assetID)
}

// GetDependents returns the resolved incoming edges of an asset.
func (d *Database) GetDependents(ctx context.Context, assetID string) ([]Dependency, error) {
	return d.queryEdges(ctx, "get_dependents", "to_asset_id", assetID)
}

func (d *Database) queryEdges(ctx context.Context, operation, column, assetID string) ([]Dependency, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery(operation, start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		SELECT id, from_asset_id, to_asset_id, to_external_id, relation_type, confidence, created_at
		FROM dependencies WHERE ` + column + ` = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := d.db.QueryContext(ctx, query, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []Dependency
	for rows.Next() {
		dep, scanErr := scanDependency(rows)
		if scanErr != nil {
			err = scanErr
			return nil, scanErr
		}
		deps = append(deps, *dep)
	}
	err = rows.Err()
	return deps, err
}

// CountEdges returns the total number of dependency edges in a project.
func (d *Database) CountEdges(ctx context.Context, projectID string) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("count_edges", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var count int64
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dependencies
		WHERE from_asset_id IN (SELECT id FROM assets WHERE project_id = ?)
	`, projectID).Scan(&count)
	return count, err
}

// ResolveDanglingEdges points unresolved edges at newly indexed assets
// that now carry their external id. Returns the number of edges fixed up.
func (d *Database) ResolveDanglingEdges(ctx context.Context, projectID string) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("resolve_dangling_edges", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := d.db.ExecContext(ctx, `
		UPDATE dependencies SET to_asset_id = (
			SELECT a.id FROM assets a
			WHERE a.project_id = ? AND a.external_id = dependencies.to_external_id
		)
		WHERE to_asset_id IS NULL
		  AND from_asset_id IN (SELECT id FROM assets WHERE project_id = ?)
		  AND EXISTS (
			SELECT 1 FROM assets a
			WHERE a.project_id = ? AND a.external_id = dependencies.to_external_id
		  )
	`, projectID, projectID, projectID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
