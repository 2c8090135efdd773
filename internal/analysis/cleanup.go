package analysis

import (
	"context"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/logging"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
)

// CleanupService repairs submissions a previous process left half-way
// through a step.
type CleanupService struct {
	submissions Submissions
	logger      *zap.Logger
}

// NewCleanupService returns a cleanup service.
func NewCleanupService(submissions Submissions, logger *zap.Logger) *CleanupService {
	return &CleanupService{submissions: submissions, logger: logging.OrNop(logger)}
}

// SwitchInconsistentSubmissionsToError moves every submission stuck in
// PREPARING, SUBMITTING or COMPLETING to ERROR and returns them. Those
// states only exist while a step is running, so at startup they mean the
// step was interrupted.
func (c *CleanupService) SwitchInconsistentSubmissionsToError(ctx context.Context) ([]*models.AnalysisSubmission, error) {
	const op errors.Op = "analysis.CleanupService.SwitchInconsistentSubmissionsToError"

	ctx = security.AsSystem(ctx)
	subs, err := c.submissions.FindByState(ctx, models.InconsistentStates()...)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	var switched []*models.AnalysisSubmission
	for _, sub := range subs {
		updated, err := c.submissions.ChangeState(ctx, sub.ID, models.AnalysisError)
		if err != nil {
			return switched, errors.Wrap(op, err)
		}
		submissionsCleaned.Inc()
		c.logger.Warn("submission left in flight switched to ERROR",
			zap.Int64("submission_id", sub.ID), zap.String("state", string(sub.State)))
		switched = append(switched, updated)
	}
	return switched, nil
}
