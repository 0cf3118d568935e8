package chat

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/lifthrasiir/forkchat/internal/metrics"
	. "github.com/lifthrasiir/forkchat/internal/types"
)

// Reconcile completes forks whose message was written but whose branch was not.
// An empty chatID reconciles every chat. It returns the number of forks completed.
func (s *Service) Reconcile(ctx context.Context, chatID string) (int, error) {
	pending, err := s.store.ListPendingForks(ctx, chatID)
	if err != nil {
		return 0, err
	}

	completed := 0
	var firstErr error
	for _, p := range pending {
		err := s.mutate(ctx, "reconcile", p.ChatID, func() error {
			branch, _, err := s.store.CompleteFork(ctx, p.MessageID)
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{"chat": p.ChatID, "forkMessage": p.MessageID, "branch": branch.ID}).Info("Reconciled pending fork")
			return nil
		})
		switch {
		case err == nil:
			completed++
		case IsNotFound(err):
			// Completed or deleted meanwhile.
		case ctx.Err() != nil:
			return completed, ctx.Err()
		default:
			log.WithError(err).WithField("forkMessage", p.MessageID).Warn("Failed to reconcile pending fork")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.AddReconciled(completed)

	if remaining, err := s.store.ListPendingForks(ctx, ""); err == nil {
		metrics.SetPendingForks(len(remaining))
	}
	return completed, firstErr
}

type reconcileJob struct {
	service *Service
}

// ReconcileJob returns a housekeeping job that periodically completes pending forks.
func ReconcileJob(service *Service) HousekeepingJob {
	return &reconcileJob{service: service}
}

func (job *reconcileJob) Name() string {
	return "Pending fork reconciliation"
}

func (job *reconcileJob) First() error     { return job.run() }
func (job *reconcileJob) Sometimes() error { return job.run() }
func (job *reconcileJob) Last() error      { return nil }

func (job *reconcileJob) run() error {
	_, err := job.service.Reconcile(context.Background(), "")
	return err
}
