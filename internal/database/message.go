package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

const messageColumns = "id, chat_id, parent_message_id, role, content, created_at"

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var createdAt string
	if err := row.Scan(&m.ID, &m.ChatID, &m.ParentMessageID, &m.Role, &m.Content, &createdAt); err != nil {
		return m, err
	}
	var err error
	m.CreatedAt, err = parseTime(createdAt)
	return m, err
}

func validateMessage(role Role, content string) error {
	if !role.Valid() {
		return MakeInvalidArgumentError("unknown role %q", role)
	}
	if strings.TrimSpace(content) == "" {
		return MakeInvalidArgumentError("message content is empty")
	}
	return nil
}

// getMessage returns an attached message. Messages of an unfinished fork are reported as absent.
func getMessage(ctx context.Context, db DbOrTx, messageID string) (Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = ? AND attached = 1", messageID))
	if err != nil {
		return m, notFoundOr(err, "message", messageID)
	}
	return m, nil
}

// checkParent verifies that parentID, if set, is an attached message of chatID.
func checkParent(ctx context.Context, db DbOrTx, chatID string, parentID *string) error {
	if parentID == nil {
		return nil
	}
	parent, err := getMessage(ctx, db, *parentID)
	if err != nil {
		return err
	}
	if parent.ChatID != chatID {
		return MakeNotFoundError("parent message %s not found in chat %s", *parentID, chatID)
	}
	return nil
}

func insertMessage(ctx context.Context, db DbOrTx, msg Message, attached bool) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO messages (id, chat_id, parent_message_id, role, content, attached, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.ChatID, msg.ParentMessageID, string(msg.Role), msg.Content, attached, formatTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add message to chat: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by its ID.
func (db *Database) GetMessage(ctx context.Context, messageID string) (Message, error) {
	return getMessage(ctx, db, messageID)
}

// CreateMessage stores a message under parentID (nil for the root of the chat)
// without moving any branch head.
func (db *Database) CreateMessage(ctx context.Context, chatID string, parentID *string, role Role, content string) (Message, error) {
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
		if err := insertMessage(ctx, tx, msg, true); err != nil {
			return err
		}
		return touchChat(ctx, tx, chatID, msg.CreatedAt)
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// AppendMessage atomically adds a message as a child of the branch head and moves
// the head onto it. expectedHead must match the branch's current head (nil for an
// empty branch); otherwise the head moved underneath the caller and Conflict is returned.
func (db *Database) AppendMessage(ctx context.Context, branchID string, expectedHead *string, role Role, content string) (Message, error) {
	if err := validateMessage(role, content); err != nil {
		return Message{}, err
	}

	var msg Message
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		b, err := getBranch(ctx, tx, branchID)
		if err != nil {
			return err
		}
		if !sameID(b.HeadMessageID, expectedHead) {
			return MakeConflictError("head of branch %s moved from %s to %s", branchID, idOrNone(expectedHead), idOrNone(b.HeadMessageID))
		}

		msg = Message{
			ID:              GenerateID(),
			ChatID:          b.ChatID,
			ParentMessageID: b.HeadMessageID,
			Role:            role,
			Content:         content,
			CreatedAt:       now(),
		}
		if err := insertMessage(ctx, tx, msg, true); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			"UPDATE branches SET head_message_id = ? WHERE id = ? AND head_message_id IS ?",
			msg.ID, branchID, expectedHead)
		if err != nil {
			return fmt.Errorf("failed to advance branch head: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		} else if n == 0 {
			return MakeConflictError("head of branch %s moved during append", branchID)
		}
		return touchChat(ctx, tx, b.ChatID, msg.CreatedAt)
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// MessageChatID returns the chat an attached message belongs to.
func (db *Database) MessageChatID(ctx context.Context, messageID string) (string, error) {
	var chatID string
	err := db.QueryRowContext(ctx, "SELECT chat_id FROM messages WHERE id = ? AND attached = 1", messageID).Scan(&chatID)
	if err != nil {
		return "", notFoundOr(err, "message", messageID)
	}
	return chatID, nil
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func idOrNone(id *string) string {
	if id == nil {
		return "<none>"
	}
	return *id
}
