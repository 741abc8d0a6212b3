package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildforge/buildforge/modules/requests/domain/request"
	"github.com/buildforge/buildforge/pkg/composables"
)

// AcceptScheduler fires the accept_at deadline: requests whose deadline
// elapsed and whose review quorum is met are accepted under system
// authority.
type AcceptScheduler struct {
	repo     request.Repository
	workflow *Workflow
	interval time.Duration
	logger   *logrus.Logger
}

func NewAcceptScheduler(repo request.Repository, workflow *Workflow, interval time.Duration, logger *logrus.Logger) *AcceptScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AcceptScheduler{repo: repo, workflow: workflow, interval: interval, logger: logger}
}

// Run blocks until ctx is done.
func (s *AcceptScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick accepts every due request. A failure on one request is logged and
// does not stop the others.
func (s *AcceptScheduler) Tick(ctx context.Context) {
	numbers, err := s.repo.DueForAcceptance(ctx, time.Now().UTC())
	if err != nil {
		s.logger.WithError(err).Error("accept scheduler scan failed")
		return
	}
	for _, number := range numbers {
		cmd := NewChangeStateCommand(number, composables.SystemActor(), request.StateAccepted, "accept_at deadline reached", nil)
		if _, err := s.workflow.Execute(ctx, cmd); err != nil {
			s.logger.WithError(err).WithField("request", number).Warn("deadline acceptance failed")
		}
	}
}
