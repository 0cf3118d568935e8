package database

import (
	"context"
	"database/sql"
	"fmt"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

// Snapshot reads a chat with all of its attached messages and its branches in one
// read transaction, so the result never mixes states from before and after a write.
func (db *Database) Snapshot(ctx context.Context, chatID string) (Snapshot, error) {
	var snap Snapshot
	err := db.withReadTx(ctx, func(tx *sql.Tx) error {
		chat, err := getChat(ctx, tx, chatID)
		if err != nil {
			return err
		}
		snap.Chat = chat

		rows, err := tx.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM messages WHERE chat_id = ? AND attached = 1 ORDER BY rowid", chatID)
		if err != nil {
			return fmt.Errorf("failed to query messages: %w", err)
		}
		defer rows.Close()

		snap.Messages = []Message{}
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return fmt.Errorf("failed to scan message: %w", err)
			}
			snap.Messages = append(snap.Messages, m)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate messages: %w", err)
		}

		snap.Branches, err = listBranches(ctx, tx, chatID)
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
