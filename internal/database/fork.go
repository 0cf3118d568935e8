package database

import (
	"context"
	"database/sql"
	"fmt"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

// A fork is written in two transactions. InsertForkMessage stores the replacement
// message unattached, together with a pending_forks row describing the intent;
// CompleteFork then creates the branch and edit record and attaches the message.
// Until CompleteFork succeeds the message is invisible to every read, and the
// intent row lets reconciliation finish the job later.

// InsertForkMessage stores the replacement message for an edit of originalMessageID.
func (db *Database) InsertForkMessage(ctx context.Context, chatID string, parentID *string, role Role, content string, sourceBranchID string, originalMessageID string) (Message, error) {
	if err := validateMessage(role, content); err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:              GenerateID(),
		ChatID:          chatID,
		ParentMessageID: parentID,
		Role:            role,
		Content:         content,
		CreatedAt:       now(),
	}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getChat(ctx, tx, chatID); err != nil {
			return err
		}
		if err := checkParent(ctx, tx, chatID, parentID); err != nil {
			return err
		}
		if err := insertMessage(ctx, tx, msg, false); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO pending_forks (message_id, chat_id, source_branch_id, original_message_id, created_at) VALUES (?, ?, ?, ?, ?)",
			msg.ID, chatID, sourceBranchID, originalMessageID, formatTime(msg.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to record pending fork: %w", err)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func getPendingFork(ctx context.Context, db DbOrTx, messageID string) (PendingFork, error) {
	var p PendingFork
	var createdAt string
	err := db.QueryRowContext(ctx,
		"SELECT message_id, chat_id, source_branch_id, original_message_id, created_at FROM pending_forks WHERE message_id = ?",
		messageID).Scan(&p.MessageID, &p.ChatID, &p.SourceBranchID, &p.OriginalMessageID, &createdAt)
	if err != nil {
		return p, notFoundOr(err, "pending fork", messageID)
	}
	p.CreatedAt, err = parseTime(createdAt)
	return p, err
}

// CompleteFork finishes a fork started by InsertForkMessage: it creates the new
// branch headed at the fork message, appends the edit record, attaches the
// message and makes the new branch the chat's active branch.
func (db *Database) CompleteFork(ctx context.Context, messageID string) (Branch, EditRecord, error) {
	var b Branch
	var rec EditRecord
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		p, err := getPendingFork(ctx, tx, messageID)
		if err != nil {
			return err
		}

		at := now()
		headID := p.MessageID
		sourceID := p.SourceBranchID
		forkPointID := p.OriginalMessageID
		b = Branch{
			ID:                 GenerateID(),
			ChatID:             p.ChatID,
			HeadMessageID:      &headID,
			ForkedFromBranchID: &sourceID,
			ForkPointMessageID: &forkPointID,
			CreatedAt:          at,
			Active:             true,
		}
		if err := insertBranch(ctx, tx, b); err != nil {
			return err
		}

		rec = EditRecord{
			ID:                GenerateID(),
			ChatID:            p.ChatID,
			BranchID:          p.SourceBranchID,
			OriginalMessageID: p.OriginalMessageID,
			NewMessageID:      p.MessageID,
			NewBranchID:       b.ID,
			CreatedAt:         at,
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO edit_records (id, chat_id, branch_id, original_message_id, new_message_id, new_branch_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			rec.ID, rec.ChatID, rec.BranchID, rec.OriginalMessageID, rec.NewMessageID, rec.NewBranchID, formatTime(at))
		if err != nil {
			return fmt.Errorf("failed to append edit record: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "UPDATE messages SET attached = 1 WHERE id = ?", p.MessageID); err != nil {
			return fmt.Errorf("failed to attach fork message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM pending_forks WHERE message_id = ?", p.MessageID); err != nil {
			return fmt.Errorf("failed to clear pending fork: %w", err)
		}
		_, err = tx.ExecContext(ctx, "UPDATE chats SET active_branch_id = ?, updated_at = ? WHERE id = ?", b.ID, formatTime(at), p.ChatID)
		if err != nil {
			return fmt.Errorf("failed to update active branch: %w", err)
		}
		return nil
	})
	if err != nil {
		return Branch{}, EditRecord{}, err
	}
	return b, rec, nil
}

// ListPendingForks returns unfinished forks, oldest first. An empty chatID lists all chats.
func (db *Database) ListPendingForks(ctx context.Context, chatID string) ([]PendingFork, error) {
	query := "SELECT message_id, chat_id, source_branch_id, original_message_id, created_at FROM pending_forks"
	var args []interface{}
	if chatID != "" {
		query += " WHERE chat_id = ?"
		args = append(args, chatID)
	}
	query += " ORDER BY rowid"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending forks: %w", err)
	}
	defer rows.Close()

	forks := []PendingFork{}
	for rows.Next() {
		var p PendingFork
		var createdAt string
		if err := rows.Scan(&p.MessageID, &p.ChatID, &p.SourceBranchID, &p.OriginalMessageID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending fork: %w", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		forks = append(forks, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending forks: %w", err)
	}
	return forks, nil
}

// ListEditRecords returns the edit history of a chat, newest first.
func (db *Database) ListEditRecords(ctx context.Context, chatID string) ([]EditRecord, error) {
	records := []EditRecord{}
	err := db.withReadTx(ctx, func(tx *sql.Tx) error {
		if _, err := getChat(ctx, tx, chatID); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx,
			"SELECT id, chat_id, branch_id, original_message_id, new_message_id, new_branch_id, created_at FROM edit_records WHERE chat_id = ? ORDER BY rowid DESC",
			chatID)
		if err != nil {
			return fmt.Errorf("failed to query edit records: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var r EditRecord
			var createdAt string
			if err := rows.Scan(&r.ID, &r.ChatID, &r.BranchID, &r.OriginalMessageID, &r.NewMessageID, &r.NewBranchID, &createdAt); err != nil {
				return fmt.Errorf("failed to scan edit record: %w", err)
			}
			if r.CreatedAt, err = parseTime(createdAt); err != nil {
				return err
			}
			records = append(records, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
