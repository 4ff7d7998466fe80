package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrProjectNotFound is returned when a project lookup matches no row.
var ErrProjectNotFound = errors.New("project not found")

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	var lastScan sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&p.ID, &p.RootPath, &p.Name, &lastScan, &p.FileCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if lastScan.Valid {
		p.LastScanTime = time.Unix(lastScan.Int64, 0)
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// GetOrCreateProject returns the project registered for rootPath, creating
// it with a fresh id if none exists.
func (d *Database) GetOrCreateProject(ctx context.Context, rootPath, name string) (*Project, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_or_create_project", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	existing, err := d.getProjectBy(ctx, "root_path", rootPath)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrProjectNotFound) {
		return nil, err
	}

	p := &Project{
		ID:       uuid.NewString(),
		RootPath: rootPath,
		Name:     name,
	}

	now := time.Now()
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO projects (id, root_path, name, file_count, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, p.ID, p.RootPath, p.Name, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	p.CreatedAt = now
	p.UpdatedAt = now
	return p, nil
}

// GetProject retrieves a project by id.
func (d *Database) GetProject(ctx context.Context, id string) (*Project, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.getProjectBy(ctx, "id", id)
}

// GetProjectByPath retrieves a project by its root path.
func (d *Database) GetProjectByPath(ctx context.Context, rootPath string) (*Project, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.getProjectBy(ctx, "root_path", rootPath)
}

func (d *Database) getProjectBy(ctx context.Context, column, value string) (*Project, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT id, root_path, name, last_scan_time, file_count, created_at, updated_at
		FROM projects WHERE %s = ?
	`, column)

	p, err := scanProject(d.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	return p, err
}

// ListProjects returns all registered projects ordered by name.
func (d *Database) ListProjects(ctx context.Context) ([]Project, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_projects", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, root_path, name, last_scan_time, file_count, created_at, updated_at
		FROM projects ORDER BY name COLLATE NOCASE ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, scanErr := scanProject(rows)
		if scanErr != nil {
			err = scanErr
			return nil, scanErr
		}
		projects = append(projects, *p)
	}
	err = rows.Err()
	return projects, err
}

// UpdateProjectScanTime records a completed scan for the project.
func (d *Database) UpdateProjectScanTime(ctx context.Context, projectID string, fileCount int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_project_scan_time", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	now := time.Now().Unix()
	_, err = d.db.ExecContext(ctx, `
		UPDATE projects SET last_scan_time = ?, file_count = ?, updated_at = ? WHERE id = ?
	`, now, fileCount, now, projectID)
	return err
}
