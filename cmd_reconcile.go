package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lifthrasiir/forkchat/internal/chat"
	"github.com/lifthrasiir/forkchat/internal/llm"
)

// NewReconcileCommand completes forks whose message was written but whose branch was not,
// the same work the server's housekeeping does periodically.
func NewReconcileCommand() *cobra.Command {
	var chatID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Complete interrupted message edits",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, _, err := loadConfig(cmd.Flags())
			if err != nil {
				return errors.WithMessage(err, "could not load configuration")
			}

			ctx := context.Background()
			db, err := openDatabase(ctx, config)
			if err != nil {
				return errors.WithMessage(err, "could not open database")
			}
			defer db.Close()

			// Reconciliation never asks the assistant for anything.
			service := chat.NewService(db, llm.EchoAssistant{}, config)
			n, err := service.Reconcile(ctx, chatID)
			fmt.Fprintf(os.Stdout, "completed %d pending fork(s)\n", n)
			return errors.WithMessage(err, "reconciliation failed")
		},
	}

	bindStorageFlags(cmd.Flags())
	cmd.Flags().StringVar(&chatID, "chat", "", "Only reconcile this chat")
	return cmd
}
