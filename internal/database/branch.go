package database

import (
	"context"
	"database/sql"
	"fmt"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

const branchSelect = `
	SELECT b.id, b.chat_id, b.head_message_id, b.forked_from_branch_id, b.fork_point_message_id, b.created_at,
		c.active_branch_id IS b.id
	FROM branches b JOIN chats c ON c.id = b.chat_id`

func scanBranch(row rowScanner) (Branch, error) {
	var b Branch
	var createdAt string
	if err := row.Scan(&b.ID, &b.ChatID, &b.HeadMessageID, &b.ForkedFromBranchID, &b.ForkPointMessageID, &createdAt, &b.Active); err != nil {
		return b, err
	}
	var err error
	b.CreatedAt, err = parseTime(createdAt)
	return b, err
}

func getBranch(ctx context.Context, db DbOrTx, branchID string) (Branch, error) {
	b, err := scanBranch(db.QueryRowContext(ctx, branchSelect+" WHERE b.id = ?", branchID))
	if err != nil {
		return b, notFoundOr(err, "branch", branchID)
	}
	return b, nil
}

func listBranches(ctx context.Context, db DbOrTx, chatID string) ([]Branch, error) {
	rows, err := db.QueryContext(ctx, branchSelect+" WHERE b.chat_id = ? ORDER BY b.rowid", chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query branches: %w", err)
	}
	defer rows.Close()

	branches := []Branch{}
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate branches: %w", err)
	}
	return branches, nil
}

func insertBranch(ctx context.Context, db DbOrTx, b Branch) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO branches (id, chat_id, head_message_id, forked_from_branch_id, fork_point_message_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		b.ID, b.ChatID, b.HeadMessageID, b.ForkedFromBranchID, b.ForkPointMessageID, formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create branch: %w", err)
	}
	return nil
}

// GetBranch retrieves a branch by its ID.
func (db *Database) GetBranch(ctx context.Context, branchID string) (Branch, error) {
	return getBranch(ctx, db, branchID)
}

// ListBranches returns the branches of a chat in creation order.
func (db *Database) ListBranches(ctx context.Context, chatID string) ([]Branch, error) {
	var branches []Branch
	err := db.withReadTx(ctx, func(tx *sql.Tx) error {
		if _, err := getChat(ctx, tx, chatID); err != nil {
			return err
		}
		var err error
		branches, err = listBranches(ctx, tx, chatID)
		return err
	})
	return branches, err
}

// CreateBranch creates a branch whose head is an existing message of the chat.
// forkedFromBranchID and forkPointMessageID are optional fork metadata.
func (db *Database) CreateBranch(ctx context.Context, chatID string, headMessageID string, forkedFromBranchID *string, forkPointMessageID *string) (Branch, error) {
	if headMessageID == "" {
		return Branch{}, MakeInvalidArgumentError("head message id is required")
	}

	b := Branch{
		ID:                 GenerateID(),
		ChatID:             chatID,
		HeadMessageID:      &headMessageID,
		ForkedFromBranchID: forkedFromBranchID,
		ForkPointMessageID: forkPointMessageID,
		CreatedAt:          now(),
	}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getChat(ctx, tx, chatID); err != nil {
			return err
		}
		if err := checkParent(ctx, tx, chatID, &headMessageID); err != nil {
			return err
		}
		if forkedFromBranchID != nil {
			source, err := getBranch(ctx, tx, *forkedFromBranchID)
			if err != nil {
				return err
			}
			if source.ChatID != chatID {
				return MakeNotFoundError("branch %s not found in chat %s", *forkedFromBranchID, chatID)
			}
		}
		if forkPointMessageID != nil {
			if err := checkParent(ctx, tx, chatID, forkPointMessageID); err != nil {
				return err
			}
		}
		if err := insertBranch(ctx, tx, b); err != nil {
			return err
		}
		return touchChat(ctx, tx, chatID, b.CreatedAt)
	})
	if err != nil {
		return Branch{}, err
	}
	return b, nil
}

// UpdateBranchHead points a branch at another message of the same chat.
func (db *Database) UpdateBranchHead(ctx context.Context, branchID string, newHeadMessageID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getBranch(ctx, tx, branchID)
		if err != nil {
			return err
		}
		m, err := getMessage(ctx, tx, newHeadMessageID)
		if err != nil {
			return err
		}
		if m.ChatID != b.ChatID {
			return MakeConflictError("message %s belongs to chat %s, not to chat %s of branch %s", m.ID, m.ChatID, b.ChatID, branchID)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE branches SET head_message_id = ? WHERE id = ?", newHeadMessageID, branchID); err != nil {
			return fmt.Errorf("failed to update branch head: %w", err)
		}
		return touchChat(ctx, tx, b.ChatID, now())
	})
}
