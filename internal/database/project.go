package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

const projectColumns = `p.id, p.name, p.description, p.created_at, p.updated_at,
	(SELECT COUNT(*) FROM chats c WHERE c.project_id = p.id AND c.status = 'active')`

func scanProject(row rowScanner) (Project, error) {
	var p Project
	var createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &createdAt, &updatedAt, &p.ChatCount); err != nil {
		return p, err
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return p, err
	}
	return p, nil
}

func validateProjectName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", MakeInvalidArgumentError("project name is empty")
	}
	if utf8.RuneCountInString(name) > MaxChatNameLength {
		return "", MakeInvalidArgumentError("project name is longer than %d characters", MaxChatNameLength)
	}
	return name, nil
}

// CreateProject creates an empty project.
func (db *Database) CreateProject(ctx context.Context, name string, description string) (Project, error) {
	name, err := validateProjectName(name)
	if err != nil {
		return Project{}, err
	}

	at := now()
	p := Project{ID: GenerateID(), Name: name, Description: description, CreatedAt: at, UpdatedAt: at}
	_, err = db.ExecContext(ctx,
		"INSERT INTO projects (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Description, formatTime(at), formatTime(at))
	if err != nil {
		return Project{}, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

func getProject(ctx context.Context, db DbOrTx, projectID string) (Project, error) {
	p, err := scanProject(db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects p WHERE p.id = ?", projectID))
	if err != nil {
		return p, notFoundOr(err, "project", projectID)
	}
	return p, nil
}

// GetProject retrieves a project with its count of active chats.
func (db *Database) GetProject(ctx context.Context, projectID string) (Project, error) {
	return getProject(ctx, db, projectID)
}

// ListProjects returns every project, most recently updated first.
func (db *Database) ListProjects(ctx context.Context) ([]Project, error) {
	return listProjects(ctx, db)
}

func listProjects(ctx context.Context, db DbOrTx) ([]Project, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+projectColumns+" FROM projects p ORDER BY p.updated_at DESC, p.rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// RenameProject updates the name of a project.
func (db *Database) RenameProject(ctx context.Context, projectID string, name string) (Project, error) {
	name, err := validateProjectName(name)
	if err != nil {
		return Project{}, err
	}
	result, err := db.ExecContext(ctx, "UPDATE projects SET name = ?, updated_at = ? WHERE id = ?", name, formatTime(now()), projectID)
	if err != nil {
		return Project{}, fmt.Errorf("failed to update project name: %w", err)
	}
	if err := requireRowsAffected(result, "project", projectID); err != nil {
		return Project{}, err
	}
	return db.GetProject(ctx, projectID)
}

// ProjectChatIDs lists the ids of the chats in a project.
func (db *Database) ProjectChatIDs(ctx context.Context, projectID string) ([]string, error) {
	if _, err := getProject(ctx, db, projectID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT id FROM chats WHERE project_id = ? ORDER BY id", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query project chats: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteProject deletes a project and every chat in it, with everything those chats own.
func (db *Database) DeleteProject(ctx context.Context, projectID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getProject(ctx, tx, projectID); err != nil {
			return err
		}
		chats, err := listChats(ctx, tx, ChatFilter{ProjectID: &projectID})
		if err != nil {
			return err
		}
		for _, c := range chats {
			if err := deleteChatRows(ctx, tx, c.ID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", projectID); err != nil {
			return fmt.Errorf("failed to delete project %s: %w", projectID, err)
		}
		return nil
	})
}

// Dashboard reads all projects, the chats outside any project and the totals in one read transaction.
func (db *Database) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	err := db.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		if d.Projects, err = listProjects(ctx, tx); err != nil {
			return err
		}
		if d.StandaloneChats, err = listChats(ctx, tx, ChatFilter{Standalone: true}); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM chats").Scan(&d.TotalChats); err != nil {
			return fmt.Errorf("failed to count chats: %w", err)
		}
		d.TotalProjects = len(d.Projects)
		return nil
	})
	if err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

func touchProject(ctx context.Context, db DbOrTx, projectID string, at time.Time) error {
	result, err := db.ExecContext(ctx, "UPDATE projects SET updated_at = ? WHERE id = ?", formatTime(at), projectID)
	if err != nil {
		return fmt.Errorf("failed to update project updated_at: %w", err)
	}
	return requireRowsAffected(result, "project", projectID)
}
