package security

import (
	"context"

	"github.com/nishad/seqlims/internal/models"
)

// PermissionStore answers membership questions for the evaluators.
// *database.DB implements it.
type PermissionStore interface {
	ProjectRoleFor(ctx context.Context, projectID, userID int64) (models.ProjectRole, bool, error)
	UserCanReadSample(ctx context.Context, userID, sampleID int64) (bool, error)
	UserOwnsSampleProject(ctx context.Context, userID, sampleID int64) (bool, error)
	UserCanReadSequenceFile(ctx context.Context, userID, fileID int64) (bool, error)
	UserCanReadSequencingObject(ctx context.Context, userID, objectID int64) (bool, error)
	UserCanReadAnalysisSubmission(ctx context.Context, userID, submissionID int64) (bool, error)
}

// Permissions evaluates object-level access. Administrators pass every check.
type Permissions struct {
	store PermissionStore
}

// NewPermissions returns evaluators backed by store.
func NewPermissions(store PermissionStore) *Permissions {
	return &Permissions{store: store}
}

// CanReadProject reports whether p is a member of the project.
func (e *Permissions) CanReadProject(ctx context.Context, p *Principal, projectID int64) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	if p == nil {
		return false, nil
	}
	_, ok, err := e.store.ProjectRoleFor(ctx, projectID, p.UserID)
	return ok, err
}

// IsProjectOwner reports whether p owns the project.
func (e *Permissions) IsProjectOwner(ctx context.Context, p *Principal, projectID int64) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	if p == nil {
		return false, nil
	}
	role, ok, err := e.store.ProjectRoleFor(ctx, projectID, p.UserID)
	return ok && role == models.ProjectOwner, err
}

// CanReadSample reports whether p is a member of a project holding the sample.
func (e *Permissions) CanReadSample(ctx context.Context, p *Principal, sampleID int64) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	if p == nil {
		return false, nil
	}
	return e.store.UserCanReadSample(ctx, p.UserID, sampleID)
}

// CanUpdateSample reports whether p owns a project holding the sample.
func (e *Permissions) CanUpdateSample(ctx context.Context, p *Principal, sampleID int64) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	if p == nil {
		return false, nil
	}
	return e.store.UserOwnsSampleProject(ctx, p.UserID, sampleID)
}

// CanReadSequenceFile reports whether p can read a sample holding the file.
func (e *Permissions) CanReadSequenceFile(ctx context.Context, p *Principal, fileID int64) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	if p == nil {
		return false, nil
	}
	return e.store.UserCanReadSequenceFile(ctx, p.UserID, fileID)
}

// CanReadSequencingObject reports whether p can read the object's sample.
func (e *Permissions) CanReadSequencingObject(ctx context.Context, p *Principal, objectID int64) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	if p == nil {
		return false, nil
	}
	return e.store.UserCanReadSequencingObject(ctx, p.UserID, objectID)
}

// CanReadAnalysisSubmission reports whether p submitted the analysis.
func (e *Permissions) CanReadAnalysisSubmission(ctx context.Context, p *Principal, submissionID int64) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	if p == nil {
		return false, nil
	}
	return e.store.UserCanReadAnalysisSubmission(ctx, p.UserID, submissionID)
}
