package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/agent-workbench/internal/domain"
)

const projectCols = `id, name, path, git_repo_url, main_branch, git_provider,
	setup_script, dev_script, last_opened_at, created_at, updated_at`

// CreateProject inserts a new project row. Zero timestamps are stamped
// with the current time so callers can hand back the struct as-is.
func (s *Store) CreateProject(p *domain.Project) error {
	stampNew(&p.CreatedAt, &p.UpdatedAt)
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, path, git_repo_url, main_branch, git_provider,
			setup_script, dev_script, last_opened_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.Name, p.Path, nullStr(p.GitRepoURL), p.MainBranch,
		nullStr(string(p.GitProvider)), nullStr(p.SetupScript), nullStr(p.DevScript),
		nullTime(p.LastOpenedAt), p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(id uuid.UUID) (*domain.Project, error) {
	row := s.db.QueryRow(`SELECT `+projectCols+` FROM projects WHERE id = ?`, id.String())
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, err
}

// ListProjects returns all projects ordered by name.
func (s *Store) ListProjects() ([]*domain.Project, error) {
	rows, err := s.db.Query(`SELECT ` + projectCols + ` FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// RecentProjects returns the most recently opened projects, newest first.
func (s *Store) RecentProjects(limit int) ([]*domain.Project, error) {
	rows, err := s.db.Query(`SELECT `+projectCols+` FROM projects
		WHERE last_opened_at IS NOT NULL
		ORDER BY last_opened_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject updates the mutable fields of a project.
func (s *Store) UpdateProject(p *domain.Project) error {
	res, err := s.db.Exec(`
		UPDATE projects SET name = ?, path = ?, git_repo_url = ?, main_branch = ?,
			git_provider = ?, setup_script = ?, dev_script = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Path, nullStr(p.GitRepoURL), p.MainBranch,
		nullStr(string(p.GitProvider)), nullStr(p.SetupScript), nullStr(p.DevScript),
		time.Now(), p.ID.String())
	if err != nil {
		return err
	}
	return requireRow(res, "project", p.ID)
}

// TouchProjectOpened records that the project was opened now.
func (s *Store) TouchProjectOpened(id uuid.UUID) error {
	res, err := s.db.Exec(`UPDATE projects SET last_opened_at = ?, updated_at = ? WHERE id = ?`,
		time.Now(), time.Now(), id.String())
	if err != nil {
		return err
	}
	return requireRow(res, "project", id)
}

// DeleteProject removes a project; child rows cascade.
func (s *Store) DeleteProject(id uuid.UUID) error {
	res, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	return requireRow(res, "project", id)
}

func scanProject(sc scanner) (*domain.Project, error) {
	var p domain.Project
	var id string
	var repoURL, provider, setup, dev sql.NullString
	var lastOpened sql.NullTime

	err := sc.Scan(&id, &p.Name, &p.Path, &repoURL, &p.MainBranch, &provider,
		&setup, &dev, &lastOpened, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("project id %q: %w", id, err)
	}
	p.GitRepoURL = repoURL.String
	p.GitProvider = domain.GitProvider(provider.String)
	p.SetupScript = setup.String
	p.DevScript = dev.String
	p.LastOpenedAt = timePtr(lastOpened)
	return &p, nil
}

func requireRow(res sql.Result, entity string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return nil
}
