package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lifthrasiir/forkchat/internal/metrics"
	. "github.com/lifthrasiir/forkchat/internal/types"
)

// errAssistantTimeout marks an assistant reply that ran out of time on every attempt.
var errAssistantTimeout = errors.New("assistant reply timed out")

// Append adds one turn to a branch of the chat: the user message, then the
// assistant's reply to the resulting transcript. branchID may be empty to use
// the active branch.
//
// The user message stays committed even when the reply fails; that case is
// reported as UpstreamTimeout or PartialFailure, and the returned result still
// carries the user message.
func (s *Service) Append(ctx context.Context, chatID, branchID, content string) (result AppendResult, err error) {
	if strings.TrimSpace(content) == "" {
		err = MakeInvalidArgumentError("message content is empty")
		metrics.ObserveOperation("append", err)
		return result, err
	}

	err = s.mutate(ctx, "append", chatID, func() error {
		result, err = s.appendLocked(ctx, chatID, branchID, content)
		return err
	})
	return result, err
}

func (s *Service) appendLocked(ctx context.Context, chatID, branchID, content string) (AppendResult, error) {
	chat, err := s.requireWritable(ctx, chatID)
	if err != nil {
		return AppendResult{}, err
	}
	if branchID == "" {
		if chat.ActiveBranchID == nil {
			return AppendResult{}, MakeConflictError("chat %s has no active branch", chatID)
		}
		branchID = *chat.ActiveBranchID
	}
	branch, err := s.store.GetBranch(ctx, branchID)
	if err != nil {
		return AppendResult{}, err
	}
	if branch.ChatID != chatID {
		return AppendResult{}, MakeConflictError("branch %s belongs to chat %s, not %s", branchID, branch.ChatID, chatID)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.calls.start(chatID, cancel); err != nil {
		return AppendResult{}, err
	}
	var callErr error
	defer func() { s.calls.finish(chatID, callErr) }()

	// Nothing has been written yet, so a cancellation here leaves no trace.
	if callErr = callCtx.Err(); callErr != nil {
		return AppendResult{}, MakeCancelledError(callErr, "call was cancelled before anything was written")
	}

	user, err := s.store.AppendMessage(callCtx, branchID, branch.HeadMessageID, RoleUser, content)
	if err != nil {
		callErr = err
		if ctxErr := callCtx.Err(); ctxErr != nil && KindOf(err) == KindInternal {
			return AppendResult{}, MakeCancelledError(ctxErr, "call was cancelled before anything was written")
		}
		return AppendResult{}, err
	}
	s.resolver.Invalidate()
	result := AppendResult{UserMessage: user, BranchID: branchID}
	committed := []string{user.ID}
	logger := log.WithFields(log.Fields{"chat": chatID, "branch": branchID, "message": user.ID})

	assistant, err := s.answer(ctx, callCtx, chatID, branchID, user)
	if err == nil {
		result.AssistantMessage = &assistant
		return result, nil
	}

	callErr = err
	logger.WithError(err).Warn("Assistant turn failed after the user message was committed")
	switch {
	case errors.Is(err, errAssistantTimeout):
		return result, MakeUpstreamTimeoutError(committed, err,
			"assistant did not reply within %v; message %s was kept", s.config.AssistantTimeout(), user.ID)
	case errors.Is(err, context.Canceled):
		return result, MakePartialFailureError(committed, err, "call was cancelled; message %s was kept", user.ID)
	default:
		return result, MakePartialFailureError(committed, err, "assistant reply failed; message %s was kept", user.ID)
	}
}

// answer obtains the assistant's reply to the transcript ending at user and appends it.
// Writes use ctx without its cancellation; callCtx governs the assistant request.
func (s *Service) answer(ctx, callCtx context.Context, chatID, branchID string, user Message) (Message, error) {
	writeCtx := context.WithoutCancel(ctx)
	arena, err := s.resolver.LoadFresh(writeCtx, chatID)
	if err != nil {
		return Message{}, err
	}
	transcript, err := arena.Chain(user.ID)
	if err != nil {
		return Message{}, err
	}

	s.calls.dispatched(chatID)
	reply, err := s.reply(callCtx, transcript)
	if err != nil {
		return Message{}, err
	}
	if err := callCtx.Err(); err != nil {
		return Message{}, err
	}
	return s.store.AppendMessage(writeCtx, branchID, &user.ID, RoleAssistant, reply)
}

// reply asks the assistant for a reply, retrying once after a timeout.
func (s *Service) reply(ctx context.Context, transcript []Message) (string, error) {
	const attempts = 2

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.config.AssistantBackoff()):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.config.AssistantTimeout())
		start := time.Now()
		reply, err := s.assistant.Reply(attemptCtx, transcript)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		metrics.ObserveAssistant(time.Since(start), err)

		if err == nil {
			if strings.TrimSpace(reply) == "" {
				return "", fmt.Errorf("assistant returned an empty reply")
			}
			return reply, nil
		}
		if !timedOut {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", err
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt+1).Warn("Assistant reply timed out")
	}
	return "", fmt.Errorf("%w after %d attempts: %v", errAssistantTimeout, attempts, lastErr)
}
