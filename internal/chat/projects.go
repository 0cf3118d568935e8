package chat

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/lifthrasiir/forkchat/internal/metrics"
	. "github.com/lifthrasiir/forkchat/internal/types"
)

// Project mutations hold a lock keyed by the project, taken before any chat lock.
func projectKey(projectID string) string { return "project:" + projectID }

func (s *Service) CreateProject(ctx context.Context, name, description string) (Project, error) {
	project, err := s.store.CreateProject(ctx, name, description)
	metrics.ObserveOperation("create_project", err)
	if err == nil {
		log.WithField("project", project.ID).Info("Project created")
	}
	return project, err
}

func (s *Service) GetProject(ctx context.Context, projectID string) (Project, error) {
	return s.store.GetProject(ctx, projectID)
}

func (s *Service) ListProjects(ctx context.Context) ([]Project, error) {
	return s.store.ListProjects(ctx)
}

func (s *Service) RenameProject(ctx context.Context, projectID, name string) (project Project, err error) {
	err = s.mutate(ctx, "rename_project", projectKey(projectID), func() error {
		project, err = s.store.RenameProject(ctx, projectID, name)
		return err
	})
	return project, err
}

// CreateChatInProject creates a chat that belongs to projectID.
func (s *Service) CreateChatInProject(ctx context.Context, projectID, name string) (chat Chat, err error) {
	err = s.mutate(ctx, "create_chat", projectKey(projectID), func() error {
		chat, err = s.store.CreateChatInProject(ctx, projectID, name)
		return err
	})
	if err == nil {
		log.WithFields(log.Fields{"project": projectID, "chat": chat.ID}).Info("Chat created")
	}
	return chat, err
}

// ProjectChats lists the chats of a project, most recently updated first.
func (s *Service) ProjectChats(ctx context.Context, projectID string) ([]Chat, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListChats(ctx, ChatFilter{ProjectID: &projectID})
}

// DeleteProjectChat deletes a chat only if it belongs to projectID.
func (s *Service) DeleteProjectChat(ctx context.Context, projectID, chatID string) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.ProjectID == nil || *chat.ProjectID != projectID {
		return MakeNotFoundError("chat %s not found in project %s", chatID, projectID)
	}
	return s.DeleteChat(ctx, chatID)
}

// DeleteProject deletes a project with all of its chats. Every chat lock is held
// for the deletion, so no mutation of those chats is in progress meanwhile.
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	return s.mutate(ctx, "delete_project", projectKey(projectID), func() error {
		chatIDs, err := s.store.ProjectChatIDs(ctx, projectID)
		if err != nil {
			return err
		}
		// ProjectChatIDs is sorted, so concurrent deletions lock chats in the same order.
		for _, chatID := range chatIDs {
			unlock, err := s.locks.Lock(ctx, chatID)
			if err != nil {
				return classifyCancel(err, "gave up waiting for chat %s", chatID)
			}
			defer unlock()
		}

		if err := s.store.DeleteProject(ctx, projectID); err != nil {
			return err
		}
		for _, chatID := range chatIDs {
			s.calls.remove(chatID)
		}
		log.WithFields(log.Fields{"project": projectID, "chats": len(chatIDs)}).Info("Project deleted")
		return nil
	})
}

func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	return s.store.Dashboard(ctx)
}
