package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

// MaxChatNameLength bounds chat display names, in characters.
const MaxChatNameLength = 255

const chatColumns = "id, project_id, name, status, active_branch_id, created_at, updated_at"

func scanChat(row rowScanner) (Chat, error) {
	var c Chat
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Status, &c.ActiveBranchID, &createdAt, &updatedAt); err != nil {
		return c, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return c, err
	}
	return c, nil
}

func validateChatName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", MakeInvalidArgumentError("chat name is empty")
	}
	if utf8.RuneCountInString(name) > MaxChatNameLength {
		return "", MakeInvalidArgumentError("chat name is longer than %d characters", MaxChatNameLength)
	}
	return name, nil
}

// CreateChat creates a standalone chat together with its initial branch, which has
// no head until the first message is appended. The initial branch becomes the active one.
func (db *Database) CreateChat(ctx context.Context, name string) (Chat, error) {
	return db.createChat(ctx, nil, name)
}

// CreateChatInProject is CreateChat for a chat belonging to a project.
func (db *Database) CreateChatInProject(ctx context.Context, projectID string, name string) (Chat, error) {
	return db.createChat(ctx, &projectID, name)
}

func (db *Database) createChat(ctx context.Context, projectID *string, name string) (Chat, error) {
	name, err := validateChatName(name)
	if err != nil {
		return Chat{}, err
	}

	at := now()
	chatID := GenerateID()
	branchID := GenerateID()
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if projectID != nil {
			if err := touchProject(ctx, tx, *projectID, at); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO chats (id, project_id, name, status, active_branch_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			chatID, projectID, name, string(ChatStatusActive), branchID, formatTime(at), formatTime(at))
		if err != nil {
			return fmt.Errorf("failed to create chat: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO branches (id, chat_id, head_message_id, forked_from_branch_id, fork_point_message_id, created_at) VALUES (?, ?, NULL, NULL, NULL, ?)",
			branchID, chatID, formatTime(at))
		if err != nil {
			return fmt.Errorf("failed to create initial branch for chat: %w", err)
		}
		return nil
	})
	if err != nil {
		return Chat{}, err
	}

	return Chat{
		ID:             chatID,
		ProjectID:      projectID,
		Name:           name,
		Status:         ChatStatusActive,
		ActiveBranchID: &branchID,
		CreatedAt:      at,
		UpdatedAt:      at,
	}, nil
}

func getChat(ctx context.Context, db DbOrTx, chatID string) (Chat, error) {
	c, err := scanChat(db.QueryRowContext(ctx, "SELECT "+chatColumns+" FROM chats WHERE id = ?", chatID))
	if err != nil {
		return c, notFoundOr(err, "chat", chatID)
	}
	return c, nil
}

// GetChat retrieves a chat by its ID.
func (db *Database) GetChat(ctx context.Context, chatID string) (Chat, error) {
	return getChat(ctx, db, chatID)
}

// ListChats returns chats, most recently updated first.
func (db *Database) ListChats(ctx context.Context, filter ChatFilter) ([]Chat, error) {
	return listChats(ctx, db, filter)
}

func listChats(ctx context.Context, db DbOrTx, filter ChatFilter) ([]Chat, error) {
	var where []string
	var args []interface{}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.ProjectID != nil {
		where = append(where, "project_id = ?")
		args = append(args, *filter.ProjectID)
	}
	if filter.Standalone {
		where = append(where, "project_id IS NULL")
	}

	query := "SELECT " + chatColumns + " FROM chats"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, rowid DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}
	return chats, nil
}

// RenameChat updates the name of a chat.
func (db *Database) RenameChat(ctx context.Context, chatID string, name string) (Chat, error) {
	name, err := validateChatName(name)
	if err != nil {
		return Chat{}, err
	}
	result, err := db.ExecContext(ctx, "UPDATE chats SET name = ?, updated_at = ? WHERE id = ?", name, formatTime(now()), chatID)
	if err != nil {
		return Chat{}, fmt.Errorf("failed to update chat name: %w", err)
	}
	if err := requireRowsAffected(result, "chat", chatID); err != nil {
		return Chat{}, err
	}
	return db.GetChat(ctx, chatID)
}

// SetChatStatus archives or reactivates a chat.
func (db *Database) SetChatStatus(ctx context.Context, chatID string, status ChatStatus) (Chat, error) {
	if !status.Valid() {
		return Chat{}, MakeInvalidArgumentError("unknown chat status %q", status)
	}
	result, err := db.ExecContext(ctx, "UPDATE chats SET status = ?, updated_at = ? WHERE id = ?", string(status), formatTime(now()), chatID)
	if err != nil {
		return Chat{}, fmt.Errorf("failed to update chat status: %w", err)
	}
	if err := requireRowsAffected(result, "chat", chatID); err != nil {
		return Chat{}, err
	}
	return db.GetChat(ctx, chatID)
}

// SetActiveBranch changes which branch of the chat is displayed by default.
func (db *Database) SetActiveBranch(ctx context.Context, chatID string, branchID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getBranch(ctx, tx, branchID)
		if err != nil {
			return err
		}
		if b.ChatID != chatID {
			return MakeNotFoundError("branch %s not found in chat %s", branchID, chatID)
		}
		_, err = tx.ExecContext(ctx, "UPDATE chats SET active_branch_id = ?, updated_at = ? WHERE id = ?", branchID, formatTime(now()), chatID)
		if err != nil {
			return fmt.Errorf("failed to update active branch: %w", err)
		}
		return nil
	})
}

// DeleteChat deletes a chat and all its associated messages, branches, edit records and pending forks.
func (db *Database) DeleteChat(ctx context.Context, chatID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getChat(ctx, tx, chatID); err != nil {
			return err
		}
		return deleteChatRows(ctx, tx, chatID)
	})
}

func deleteChatRows(ctx context.Context, tx *sql.Tx, chatID string) error {
	// Children first; branches hold references into messages.
	steps := []struct{ table, query string }{
		{"edit records", "DELETE FROM edit_records WHERE chat_id = ?"},
		{"pending forks", "DELETE FROM pending_forks WHERE chat_id = ?"},
		{"branches", "DELETE FROM branches WHERE chat_id = ?"},
		{"messages", "DELETE FROM messages WHERE chat_id = ?"},
		{"chat", "DELETE FROM chats WHERE id = ?"},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, chatID); err != nil {
			return fmt.Errorf("failed to delete %s for chat %s: %w", step.table, chatID, err)
		}
	}
	return nil
}
