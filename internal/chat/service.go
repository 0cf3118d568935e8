package chat

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/lifthrasiir/forkchat/internal/env"
	"github.com/lifthrasiir/forkchat/internal/graph"
	"github.com/lifthrasiir/forkchat/internal/llm"
	"github.com/lifthrasiir/forkchat/internal/metrics"
	. "github.com/lifthrasiir/forkchat/internal/types"
)

// GraphStore is the persistence the service runs on. *database.Database implements it.
type GraphStore interface {
	graph.Source

	CreateChat(ctx context.Context, name string) (Chat, error)
	GetChat(ctx context.Context, chatID string) (Chat, error)
	ListChats(ctx context.Context, filter ChatFilter) ([]Chat, error)
	RenameChat(ctx context.Context, chatID string, name string) (Chat, error)
	SetChatStatus(ctx context.Context, chatID string, status ChatStatus) (Chat, error)
	SetActiveBranch(ctx context.Context, chatID string, branchID string) error
	DeleteChat(ctx context.Context, chatID string) error

	CreateProject(ctx context.Context, name string, description string) (Project, error)
	GetProject(ctx context.Context, projectID string) (Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	RenameProject(ctx context.Context, projectID string, name string) (Project, error)
	ProjectChatIDs(ctx context.Context, projectID string) ([]string, error)
	DeleteProject(ctx context.Context, projectID string) error
	CreateChatInProject(ctx context.Context, projectID string, name string) (Chat, error)
	Dashboard(ctx context.Context) (Dashboard, error)

	GetMessage(ctx context.Context, messageID string) (Message, error)
	AppendMessage(ctx context.Context, branchID string, expectedHead *string, role Role, content string) (Message, error)

	ListBranches(ctx context.Context, chatID string) ([]Branch, error)
	CreateBranch(ctx context.Context, chatID string, headMessageID string, forkedFromBranchID *string, forkPointMessageID *string) (Branch, error)

	InsertForkMessage(ctx context.Context, chatID string, parentID *string, role Role, content string, sourceBranchID string, originalMessageID string) (Message, error)
	CompleteFork(ctx context.Context, messageID string) (Branch, EditRecord, error)
	ListPendingForks(ctx context.Context, chatID string) ([]PendingFork, error)
	ListEditRecords(ctx context.Context, chatID string) ([]EditRecord, error)
}

// Service serializes every mutation of a chat's graph behind that chat's lock.
// Reads go straight to the resolver and never wait for the lock.
type Service struct {
	store     GraphStore
	resolver  *graph.Resolver
	assistant llm.Assistant
	config    *env.EnvConfig
	locks     *Locks
	calls     *Calls
}

func NewService(store GraphStore, assistant llm.Assistant, config *env.EnvConfig) *Service {
	return &Service{
		store:     store,
		resolver:  graph.NewResolver(store),
		assistant: assistant,
		config:    config,
		locks:     NewLocks(),
		calls:     NewCalls(),
	}
}

func (s *Service) Resolver() *graph.Resolver { return s.resolver }
func (s *Service) Calls() *Calls             { return s.calls }

// mutate runs fn while holding the lock of chatID and counts the outcome.
func (s *Service) mutate(ctx context.Context, operation, chatID string, fn func() error) error {
	unlock, err := s.locks.Lock(ctx, chatID)
	if err != nil {
		err = classifyCancel(err, "gave up waiting for chat %s", chatID)
		metrics.ObserveOperation(operation, err)
		return err
	}
	defer unlock()

	err = fn()
	s.resolver.Invalidate()
	if ctx.Err() != nil {
		err = classifyCancel(err, "operation on chat %s was cancelled", chatID)
	}
	metrics.ObserveOperation(operation, err)
	return err
}

// classifyCancel turns a bare context error into a Cancelled error. Anything else,
// including already classified errors, is returned unchanged.
func classifyCancel(err error, format string, args ...interface{}) error {
	if KindOf(err) != KindInternal {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return MakeCancelledError(err, format, args...)
	}
	return err
}

// requireWritable loads the chat and rejects archived chats.
func (s *Service) requireWritable(ctx context.Context, chatID string) (Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return Chat{}, err
	}
	if chat.Status == ChatStatusArchived {
		return Chat{}, MakeConflictError("chat %s is archived", chatID)
	}
	return chat, nil
}

func (s *Service) CreateChat(ctx context.Context, name string) (Chat, error) {
	chat, err := s.store.CreateChat(ctx, name)
	metrics.ObserveOperation("create_chat", err)
	if err == nil {
		log.WithField("chat", chat.ID).Info("Chat created")
	}
	return chat, err
}

func (s *Service) GetChat(ctx context.Context, chatID string) (Chat, error) {
	return s.store.GetChat(ctx, chatID)
}

func (s *Service) ListChats(ctx context.Context, filter ChatFilter) ([]Chat, error) {
	return s.store.ListChats(ctx, filter)
}

func (s *Service) RenameChat(ctx context.Context, chatID, name string) (chat Chat, err error) {
	err = s.mutate(ctx, "rename_chat", chatID, func() error {
		chat, err = s.store.RenameChat(ctx, chatID, name)
		return err
	})
	return chat, err
}

func (s *Service) SetChatStatus(ctx context.Context, chatID string, status ChatStatus) (chat Chat, err error) {
	err = s.mutate(ctx, "set_chat_status", chatID, func() error {
		chat, err = s.store.SetChatStatus(ctx, chatID, status)
		return err
	})
	return chat, err
}

// DeleteChat removes the chat with everything that belongs to it.
func (s *Service) DeleteChat(ctx context.Context, chatID string) error {
	return s.mutate(ctx, "delete_chat", chatID, func() error {
		if err := s.store.DeleteChat(ctx, chatID); err != nil {
			return err
		}
		s.calls.remove(chatID)
		log.WithField("chat", chatID).Info("Chat deleted")
		return nil
	})
}

func (s *Service) ListBranches(ctx context.Context, chatID string) ([]Branch, error) {
	return s.store.ListBranches(ctx, chatID)
}

// CreateBranch adds a branch headed at an existing message. Existing branches are untouched.
func (s *Service) CreateBranch(ctx context.Context, chatID, headMessageID string) (branch Branch, err error) {
	err = s.mutate(ctx, "create_branch", chatID, func() error {
		if _, err := s.requireWritable(ctx, chatID); err != nil {
			return err
		}
		branch, err = s.store.CreateBranch(ctx, chatID, headMessageID, nil, nil)
		return err
	})
	return branch, err
}

// SwitchActiveBranch changes which branch the chat shows by default.
func (s *Service) SwitchActiveBranch(ctx context.Context, chatID, branchID string) error {
	return s.mutate(ctx, "switch_branch", chatID, func() error {
		return s.store.SetActiveBranch(ctx, chatID, branchID)
	})
}

// ActiveMessages returns the transcript of the chat's active branch.
func (s *Service) ActiveMessages(ctx context.Context, chatID string) ([]Message, error) {
	return s.resolver.ActiveMessages(ctx, chatID)
}

// BranchMessages returns the transcript ending at headMessageID, which must belong to chatID.
func (s *Service) BranchMessages(ctx context.Context, chatID, headMessageID string) ([]Message, error) {
	return s.resolver.ResolveInChat(ctx, chatID, headMessageID)
}

func (s *Service) Siblings(ctx context.Context, chatID, messageID string) ([]Message, error) {
	return s.resolver.Siblings(ctx, chatID, messageID)
}

func (s *Service) Heads(ctx context.Context, chatID string) ([]string, error) {
	return s.resolver.Heads(ctx, chatID)
}

func (s *Service) ListEditRecords(ctx context.Context, chatID string) ([]EditRecord, error) {
	return s.store.ListEditRecords(ctx, chatID)
}

// Compare compares two branches of the same chat.
func (s *Service) Compare(ctx context.Context, chatID, branchAID, branchBID string) (Comparison, error) {
	for _, id := range []string{branchAID, branchBID} {
		b, err := s.store.GetBranch(ctx, id)
		if err != nil {
			return Comparison{}, err
		}
		if b.ChatID != chatID {
			return Comparison{}, MakeNotFoundError("branch %s not found in chat %s", id, chatID)
		}
	}
	return s.resolver.Compare(ctx, branchAID, branchBID)
}

// Call returns the running or last append call of a chat.
func (s *Service) Call(chatID string) (Call, error) {
	call, ok := s.calls.Get(chatID)
	if !ok {
		return Call{}, MakeNotFoundError("no call found for chat %s", chatID)
	}
	return call, nil
}

// CancelCall cancels the running append of a chat.
func (s *Service) CancelCall(chatID string) error {
	err := s.calls.Cancel(chatID)
	if err == nil {
		log.WithField("chat", chatID).Info("Call cancelled")
	}
	return err
}
