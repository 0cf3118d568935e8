package chat

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lifthrasiir/forkchat/internal/graph"
	. "github.com/lifthrasiir/forkchat/internal/types"
)

// EditWithBranch forks the chat at messageID: a replacement message with the
// same parent and role is written together with a new branch headed at it.
// Nothing that existed before is modified, and later turns are not replayed.
//
// branchID optionally names the branch the edit is made on; see selectSourceBranch.
func (s *Service) EditWithBranch(ctx context.Context, chatID, messageID, content, branchID string) (result EditResult, err error) {
	err = s.mutate(ctx, "edit", chatID, func() error {
		result, err = s.editLocked(ctx, chatID, messageID, content, branchID)
		return err
	})
	return result, err
}

func (s *Service) editLocked(ctx context.Context, chatID, messageID, content, branchID string) (EditResult, error) {
	original, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return EditResult{}, err
	}
	if original.ChatID != chatID {
		return EditResult{}, MakeNotFoundError("message %s not found in chat %s", messageID, chatID)
	}
	if strings.TrimSpace(content) == "" {
		return EditResult{}, MakeInvalidArgumentError("message content is empty")
	}
	if _, err := s.requireWritable(ctx, chatID); err != nil {
		return EditResult{}, err
	}

	arena, err := s.resolver.LoadFresh(ctx, chatID)
	if err != nil {
		return EditResult{}, err
	}
	source, err := selectSourceBranch(arena, messageID, branchID)
	if err != nil {
		return EditResult{}, err
	}

	msg, err := s.store.InsertForkMessage(ctx, chatID, original.ParentMessageID, original.Role, content, source.ID, original.ID)
	if err != nil {
		return EditResult{}, err
	}

	// The fork message exists now; finish the fork even if the caller goes away.
	writeCtx := context.WithoutCancel(ctx)
	logger := log.WithFields(log.Fields{"chat": chatID, "message": original.ID, "forkMessage": msg.ID})
	branch, record, err := s.completeFork(writeCtx, msg.ID)
	if err != nil {
		logger.WithError(err).Error("Fork message left pending")
		return EditResult{}, MakePartialFailureError([]string{msg.ID}, err,
			"message %s was written but its branch could not be created; it stays hidden until reconciled", msg.ID)
	}
	logger.WithField("branch", branch.ID).Info("Chat forked")
	s.resolver.Invalidate()

	result := EditResult{NewBranch: branch, NewMessage: msg, EditRecord: record}
	arena, err = s.resolver.LoadFresh(writeCtx, chatID)
	if err == nil {
		result.BranchMessages, err = arena.BranchChain(branch)
	}
	if err != nil {
		// The fork is complete; only the transcript for the response is missing.
		logger.WithError(err).Warn("Failed to load the transcript of a new branch")
		return result, MakePartialFailureError([]string{msg.ID, branch.ID}, err,
			"branch %s was created but its transcript could not be loaded", branch.ID)
	}
	result.AllBranches = arena.Branches()
	return result, nil
}

// completeFork retries CompleteFork with exponential backoff. A fork that is no
// longer pending is not retried.
func (s *Service) completeFork(ctx context.Context, messageID string) (Branch, EditRecord, error) {
	retries := s.config.EditRetries()
	backoff := s.config.EditBackoff()

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Branch{}, EditRecord{}, ctx.Err()
			case <-time.After(backoff * time.Duration(1<<(attempt-1))):
			}
		}

		branch, record, err := s.store.CompleteFork(ctx, messageID)
		if err == nil {
			return branch, record, nil
		}
		if IsNotFound(err) {
			return Branch{}, EditRecord{}, err
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt+1).Warn("Failed to complete fork")
	}
	return Branch{}, EditRecord{}, lastErr
}

// selectSourceBranch decides which branch an edit of messageID is made on.
// Only branches whose transcript contains the message qualify. An explicitly
// named branch must qualify; otherwise the active branch is preferred, then a
// unique qualifying branch. Anything else is ambiguous and reported as Conflict.
func selectSourceBranch(arena *graph.Arena, messageID, branchID string) (Branch, error) {
	candidates := arena.BranchesThrough(messageID)

	if branchID != "" {
		b, ok := arena.Branch(branchID)
		if !ok {
			return Branch{}, MakeNotFoundError("branch %s not found in chat %s", branchID, arena.Chat().ID)
		}
		for _, c := range candidates {
			if c.ID == b.ID {
				return b, nil
			}
		}
		return Branch{}, MakeConflictError("message %s is not on branch %s", messageID, branchID)
	}

	if active, ok := arena.ActiveBranch(); ok {
		for _, c := range candidates {
			if c.ID == active.ID {
				return active, nil
			}
		}
	}

	switch len(candidates) {
	case 0:
		return Branch{}, MakeConflictError("no branch passes through message %s", messageID)
	case 1:
		return candidates[0], nil
	default:
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		return Branch{}, MakeConflictError("message %s is on several branches (%s); name one", messageID, strings.Join(ids, ", "))
	}
}
