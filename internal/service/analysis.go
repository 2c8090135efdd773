package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
	"github.com/nishad/seqlims/internal/storage"
)

// workflowCatalog indexes the configured workflows by id.
type workflowCatalog map[string]config.WorkflowConfig

func catalogOf(workflows []config.WorkflowConfig) workflowCatalog {
	c := make(workflowCatalog, len(workflows))
	for _, w := range workflows {
		c[w.ID] = w
	}
	return c
}

// remoteWorkflow describes w as installed on the execution manager.
func remoteWorkflow(w config.WorkflowConfig) *models.RemoteWorkflow {
	return &models.RemoteWorkflow{
		WorkflowID:       w.RemoteID,
		WorkflowChecksum: w.Checksum,
		SequenceInput:    w.SequenceInput,
		ReferenceInput:   w.ReferenceInput,
		OutputLabels:     w.Outputs,
	}
}

// AnalysisSubmissionService manages requests to run pipelines.
type AnalysisSubmissionService struct {
	*base
	workflows workflowCatalog
}

// Workflows lists the workflows that can be submitted, ordered by id.
func (s *AnalysisSubmissionService) Workflows(ctx context.Context) ([]config.WorkflowConfig, error) {
	if _, err := security.RequirePrincipal(ctx, "service.AnalysisSubmissionService.Workflows"); err != nil {
		return nil, err
	}
	out := make([]config.WorkflowConfig, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Create stores a submission in state NEW for the caller. Every input
// object must be readable by the caller and the workflow must be known.
func (s *AnalysisSubmissionService) Create(ctx context.Context, sub *models.AnalysisSubmission) (*models.AnalysisSubmission, error) {
	const op errors.Op = "service.AnalysisSubmissionService.Create"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	if p.UserID == 0 {
		return nil, errors.E(op, errors.KindInvalidProperty, "submissions must belong to a user account")
	}
	w, ok := s.workflows[sub.WorkflowID]
	if !ok {
		return nil, errors.E(op, errors.KindInvalidProperty, fmt.Sprintf("unknown workflow %q", sub.WorkflowID))
	}
	if len(sub.InputObjectIDs) == 0 {
		return nil, errors.E(op, errors.KindInvalidProperty, "at least one input sequencing object is required")
	}
	for _, id := range sub.InputObjectIDs {
		ok, err := s.perms.CanReadSequencingObject(ctx, p, id)
		if err := allow(op, p, ok, err); err != nil {
			return nil, err
		}
	}
	if w.ReferenceInput != "" && sub.ReferenceFileID == nil {
		return nil, errors.E(op, errors.KindInvalidProperty, fmt.Sprintf("workflow %q requires a reference file", w.ID))
	}
	if sub.ReferenceFileID != nil {
		if _, err := s.db.GetReferenceFile(ctx, *sub.ReferenceFileID); err != nil {
			return nil, errors.Wrap(op, err)
		}
	}
	if strings.TrimSpace(sub.Name) == "" {
		sub.Name = w.Name
	}

	sub.SubmitterID = p.UserID
	sub.State = models.AnalysisNew
	sub.RemoteWorkflow = remoteWorkflow(w)
	sub.RemoteAnalysisID = ""
	sub.RemoteInputDataID = ""
	sub.AnalysisID = nil

	created, err := s.db.CreateAnalysisSubmission(ctx, sub)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	s.logger.Info("analysis submitted", zap.Int64("submission_id", created.ID), zap.String("workflow", w.ID),
		zap.Stringer("by", p))
	return created, nil
}

// Read returns a submission the caller submitted.
func (s *AnalysisSubmissionService) Read(ctx context.Context, id int64) (*models.AnalysisSubmission, error) {
	const op errors.Op = "service.AnalysisSubmissionService.Read"

	if err := s.requireReader(ctx, op, id); err != nil {
		return nil, err
	}
	sub, err := s.db.GetAnalysisSubmission(ctx, id)
	return sub, errors.Wrap(op, err)
}

// Exists reports whether a submission exists.
func (s *AnalysisSubmissionService) Exists(ctx context.Context, id int64) (bool, error) {
	const op errors.Op = "service.AnalysisSubmissionService.Exists"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return false, err
	}
	ok, err := s.db.AnalysisSubmissionExists(ctx, id)
	return ok, errors.Wrap(op, err)
}

// ListForUser returns the caller's submissions.
func (s *AnalysisSubmissionService) ListForUser(ctx context.Context) ([]*models.AnalysisSubmission, error) {
	const op errors.Op = "service.AnalysisSubmissionService.ListForUser"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	subs, err := s.db.ListAnalysisSubmissionsForUser(ctx, p.UserID)
	return subs, errors.Wrap(op, err)
}

// List returns every submission.
func (s *AnalysisSubmissionService) List(ctx context.Context) ([]*models.AnalysisSubmission, error) {
	const op errors.Op = "service.AnalysisSubmissionService.List"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleAdmin); err != nil {
		return nil, err
	}
	subs, err := s.db.ListAnalysisSubmissions(ctx)
	return subs, errors.Wrap(op, err)
}

// FindByState returns submissions in any of states, highest priority first.
func (s *AnalysisSubmissionService) FindByState(ctx context.Context, states ...models.AnalysisState) ([]*models.AnalysisSubmission, error) {
	const op errors.Op = "service.AnalysisSubmissionService.FindByState"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleAdmin); err != nil {
		return nil, err
	}
	subs, err := s.db.FindSubmissionsByState(ctx, states...)
	return subs, errors.Wrap(op, err)
}

// adminSubmissionFields link a submission to its execution and are written
// by the scheduler.
var adminSubmissionFields = []string{"analysis_id", "remote_analysis_id", "remote_input_data_id"}

// Update applies a partial update to a submission. Submitters may edit
// their own submissions; changing the analysis state or the execution
// links requires an administrator.
func (s *AnalysisSubmissionService) Update(ctx context.Context, id int64, fields map[string]interface{}) (*models.AnalysisSubmission, error) {
	const op errors.Op = "service.AnalysisSubmissionService.Update"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	if err := s.requireReader(ctx, op, id); err != nil {
		return nil, err
	}
	fields = normalizeFields(fields)
	if !p.IsAdmin() {
		for _, name := range adminSubmissionFields {
			if _, ok := fields[name]; ok {
				return nil, errors.Forbidden(op, "only administrators may set "+name)
			}
		}
	}
	if raw, ok, err := stringField(op, fields, "analysis_state"); err != nil {
		return nil, err
	} else if ok {
		if !p.IsAdmin() {
			return nil, errors.Forbidden(op, "only administrators may change the analysis state")
		}
		next, err := models.AsAnalysisState(raw)
		if err != nil {
			return nil, errors.E(op, errors.KindInvalidProperty, err)
		}
		current, err := s.db.GetAnalysisSubmission(ctx, id)
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
		if !current.State.CanTransitionTo(next) {
			return nil, errors.E(op, errors.KindIllegalState,
				fmt.Sprintf("cannot move submission [%d] from %s to %s", id, current.State, next))
		}
		fields["analysis_state"] = string(next)
	}
	if err := s.db.UpdateFields(ctx, "analysis_submissions", id, fields); err != nil {
		return nil, errors.Wrap(op, err)
	}
	sub, err := s.db.GetAnalysisSubmission(ctx, id)
	return sub, errors.Wrap(op, err)
}

// ChangeState moves a submission to next. The move fails with
// KindIllegalState when the state machine forbids it or the submission
// changed state concurrently.
func (s *AnalysisSubmissionService) ChangeState(ctx context.Context, id int64, next models.AnalysisState) (*models.AnalysisSubmission, error) {
	const op errors.Op = "service.AnalysisSubmissionService.ChangeState"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleAdmin); err != nil {
		return nil, err
	}
	current, err := s.db.GetAnalysisSubmission(ctx, id)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if !current.State.CanTransitionTo(next) {
		return nil, errors.E(op, errors.KindIllegalState,
			fmt.Sprintf("cannot move submission [%d] from %s to %s", id, current.State, next))
	}
	sub, err := s.db.TransitionAnalysisState(ctx, id, current.State, next)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	s.logger.Debug("analysis state changed", zap.Int64("submission_id", id),
		zap.String("from", string(current.State)), zap.String("to", string(next)))
	return sub, nil
}

// Delete removes a submission the caller submitted.
func (s *AnalysisSubmissionService) Delete(ctx context.Context, id int64) error {
	const op errors.Op = "service.AnalysisSubmissionService.Delete"

	if err := s.requireReader(ctx, op, id); err != nil {
		return err
	}
	return errors.Wrap(op, s.db.DeleteAnalysisSubmission(ctx, id))
}

func (s *AnalysisSubmissionService) requireReader(ctx context.Context, op errors.Op, id int64) error {
	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return err
	}
	ok, err := s.perms.CanReadAnalysisSubmission(ctx, p, id)
	return allow(op, p, ok, err)
}

// AnalysisService manages the results of completed submissions.
type AnalysisService struct {
	*base
	files *storage.Files
	links *RelationshipService
}

// Create stores an analysis and its output files.
func (s *AnalysisService) Create(ctx context.Context, a *models.Analysis) (*models.Analysis, error) {
	const op errors.Op = "service.AnalysisService.Create"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleAdmin); err != nil {
		return nil, err
	}
	created, err := s.db.CreateAnalysis(ctx, a)
	return created, errors.Wrap(op, err)
}

// CreateForSubmission stores a and attaches it to the submission.
func (s *AnalysisService) CreateForSubmission(ctx context.Context, submissionID int64, a *models.Analysis) (*models.Analysis, error) {
	const op errors.Op = "service.AnalysisService.CreateForSubmission"

	created, err := s.Create(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := s.db.UpdateFields(ctx, "analysis_submissions", submissionID, map[string]interface{}{"analysis_id": created.ID}); err != nil {
		return nil, errors.Wrap(op, err)
	}
	if s.links != nil {
		if _, err := s.links.Create(ctx, EntityAnalysisSubmission, submissionID, EntityAnalysis, created.ID); err != nil {
			s.logger.Warn("failed to link analysis", zap.Int64("submission_id", submissionID), zap.Error(err))
		}
	}
	return created, nil
}

// Read returns an analysis. Non-administrators may read the analyses of
// their own submissions.
func (s *AnalysisService) Read(ctx context.Context, id int64) (*models.Analysis, error) {
	const op errors.Op = "service.AnalysisService.Read"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() {
		subs, err := s.db.ListAnalysisSubmissionsForUser(ctx, p.UserID)
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
		owned := false
		for _, sub := range subs {
			if sub.AnalysisID != nil && *sub.AnalysisID == id {
				owned = true
				break
			}
		}
		if err := allow(op, p, owned, nil); err != nil {
			return nil, err
		}
	}
	a, err := s.db.GetAnalysis(ctx, id)
	return a, errors.Wrap(op, err)
}

// ReadForSubmission returns the analysis produced by a submission.
func (s *AnalysisService) ReadForSubmission(ctx context.Context, submissionID int64) (*models.Analysis, error) {
	const op errors.Op = "service.AnalysisService.ReadForSubmission"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	ok, err := s.perms.CanReadAnalysisSubmission(ctx, p, submissionID)
	if err := allow(op, p, ok, err); err != nil {
		return nil, err
	}
	sub, err := s.db.GetAnalysisSubmission(ctx, submissionID)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if sub.AnalysisID == nil {
		return nil, errors.E(op, errors.KindNotFound, fmt.Sprintf("submission [%d] has no analysis yet", submissionID))
	}
	a, err := s.db.GetAnalysis(ctx, *sub.AnalysisID)
	return a, errors.Wrap(op, err)
}

// OpenOutputFile opens an output of an analysis the caller can read.
func (s *AnalysisService) OpenOutputFile(ctx context.Context, analysisID int64, key string) (io.ReadCloser, *models.AnalysisOutputFile, error) {
	const op errors.Op = "service.AnalysisService.OpenOutputFile"

	a, err := s.Read(ctx, analysisID)
	if err != nil {
		return nil, nil, err
	}
	f, ok := a.OutputFile(key)
	if !ok {
		return nil, nil, errors.NotFound(op, "analysis output file", key)
	}
	if s.files == nil {
		return nil, nil, errors.E(op, errors.KindConfig, "file storage is not configured")
	}
	rc, err := s.files.OpenOutputFile(ctx, f)
	if err != nil {
		return nil, nil, errors.Wrap(op, err)
	}
	return rc, f, nil
}
