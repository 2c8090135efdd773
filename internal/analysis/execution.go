package analysis

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/execution"
	"github.com/nishad/seqlims/internal/logging"
	"github.com/nishad/seqlims/internal/models"
)

// Submissions is the submission service the orchestration runs against.
// *service.AnalysisSubmissionService satisfies it.
type Submissions interface {
	Read(ctx context.Context, id int64) (*models.AnalysisSubmission, error)
	Exists(ctx context.Context, id int64) (bool, error)
	Update(ctx context.Context, id int64, fields map[string]interface{}) (*models.AnalysisSubmission, error)
	ChangeState(ctx context.Context, id int64, next models.AnalysisState) (*models.AnalysisSubmission, error)
	FindByState(ctx context.Context, states ...models.AnalysisState) ([]*models.AnalysisSubmission, error)
}

// Analyses stores analysis results. *service.AnalysisService satisfies it.
type Analyses interface {
	CreateForSubmission(ctx context.Context, submissionID int64, a *models.Analysis) (*models.Analysis, error)
}

// Workspace prepares and collects the files of a submission.
// *WorkspaceService satisfies it.
type Workspace interface {
	PrepareAnalysisWorkspace(ctx context.Context, sub *models.AnalysisSubmission) (string, error)
	PrepareAnalysisFiles(ctx context.Context, sub *models.AnalysisSubmission) (*PreparedWorkflow, error)
	GetAnalysisResults(ctx context.Context, sub *models.AnalysisSubmission, outputDir string) (*models.Analysis, error)
}

// ExecutionService performs the individual steps of running a submission.
// Each step checks that the submission is in the state the step expects.
type ExecutionService struct {
	submissions Submissions
	analyses    Analyses
	workspace   Workspace
	workflows   Workflows
	histories   Histories
	logger      *zap.Logger
}

// NewExecutionService returns an execution service.
func NewExecutionService(submissions Submissions, analyses Analyses, workspace Workspace,
	workflows Workflows, histories Histories, logger *zap.Logger) *ExecutionService {
	return &ExecutionService{
		submissions: submissions,
		analyses:    analyses,
		workspace:   workspace,
		workflows:   workflows,
		histories:   histories,
		logger:      logging.OrNop(logger),
	}
}

// PrepareSubmission validates the submission's workflow on the engine,
// creates its workspace and records the remote analysis id. The
// submission must be PREPARING and not yet have a remote analysis id.
func (s *ExecutionService) PrepareSubmission(ctx context.Context, sub *models.AnalysisSubmission) (*models.AnalysisSubmission, error) {
	const op errors.Op = "analysis.ExecutionService.PrepareSubmission"

	if sub.RemoteAnalysisID != "" {
		return nil, errors.E(op, errors.KindIllegalState,
			fmt.Sprintf("%s already has remote analysis id %s", sub.Label(), sub.RemoteAnalysisID))
	}
	if sub.State != models.AnalysisPreparing {
		return nil, errors.E(op, errors.KindIllegalState,
			fmt.Sprintf("%s is %s, not %s", sub.Label(), sub.State, models.AnalysisPreparing))
	}
	rw := sub.RemoteWorkflow
	if rw == nil {
		return nil, errors.E(op, errors.KindWorkflow, sub.Label()+" has no remote workflow")
	}

	if err := s.workflows.ValidateWorkflowByChecksum(ctx, rw.WorkflowChecksum, rw.WorkflowID); err != nil {
		return nil, errors.Wrap(op, err)
	}
	remoteID, err := s.workspace.PrepareAnalysisWorkspace(ctx, sub)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	updated, err := s.submissions.Update(ctx, sub.ID, map[string]interface{}{"remote_analysis_id": remoteID})
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	s.logger.Info("analysis workspace prepared", zap.Int64("submission_id", sub.ID), zap.String("remote_analysis_id", remoteID))
	return updated, nil
}

// ExecuteAnalysis uploads the submission's inputs and starts its workflow.
// The submission must be SUBMITTING.
func (s *ExecutionService) ExecuteAnalysis(ctx context.Context, sub *models.AnalysisSubmission) (*models.AnalysisSubmission, error) {
	const op errors.Op = "analysis.ExecutionService.ExecuteAnalysis"

	if sub.State != models.AnalysisSubmitting {
		return nil, errors.E(op, errors.KindIllegalState,
			fmt.Sprintf("%s is %s, not %s", sub.Label(), sub.State, models.AnalysisSubmitting))
	}

	prepared, err := s.workspace.PrepareAnalysisFiles(ctx, sub)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	out, err := s.workflows.RunWorkflow(ctx, prepared.Inputs)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if _, err := s.submissions.Update(ctx, sub.ID, map[string]interface{}{"remote_input_data_id": prepared.InputDataID}); err != nil {
		return nil, errors.Wrap(op, err)
	}
	s.logger.Info("workflow started", zap.Int64("submission_id", sub.ID), zap.String("invocation_id", out.InvocationID))

	updated, err := s.submissions.Read(ctx, sub.ID)
	return updated, errors.Wrap(op, err)
}

// GetWorkflowStatus reports the engine state of the submission's workflow.
func (s *ExecutionService) GetWorkflowStatus(ctx context.Context, sub *models.AnalysisSubmission) (*execution.WorkflowStatus, error) {
	const op errors.Op = "analysis.ExecutionService.GetWorkflowStatus"

	if sub.RemoteAnalysisID == "" {
		return nil, errors.E(op, errors.KindValidation, sub.Label()+" has no remote analysis id")
	}
	status, err := s.histories.GetStatusForHistory(ctx, sub.RemoteAnalysisID)
	return status, errors.Wrap(op, err)
}

// TransferAnalysisResults copies the submission's outputs into
// <output base>/<submission id>, stores the analysis and links it to the
// submission.
func (s *ExecutionService) TransferAnalysisResults(ctx context.Context, sub *models.AnalysisSubmission) (*models.Analysis, error) {
	const op errors.Op = "analysis.ExecutionService.TransferAnalysisResults"

	if sub.RemoteAnalysisID == "" {
		return nil, errors.E(op, errors.KindValidation, sub.Label()+" has no remote analysis id")
	}
	ok, err := s.submissions.Exists(ctx, sub.ID)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if !ok {
		return nil, errors.NotFound(op, "analysis submission", sub.ID)
	}

	results, err := s.workspace.GetAnalysisResults(ctx, sub, strconv.FormatInt(sub.ID, 10))
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	a, err := s.analyses.CreateForSubmission(ctx, sub.ID, results)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	s.logger.Info("analysis results transferred", zap.Int64("submission_id", sub.ID),
		zap.Int64("analysis_id", a.ID), zap.Int("outputs", len(a.OutputFiles)))
	return a, nil
}
