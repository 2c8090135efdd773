package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
)

// ProjectService manages projects, their members and their samples.
type ProjectService struct {
	*base
}

// Create stores a project; the creator becomes its owner.
func (s *ProjectService) Create(ctx context.Context, p *models.Project) (*models.Project, error) {
	const op errors.Op = "service.ProjectService.Create"

	caller, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, errors.E(op, errors.KindInvalidProperty, "project name is required")
	}
	if caller.UserID == 0 {
		return nil, errors.E(op, errors.KindInvalidProperty, "projects must be created by a user account")
	}
	created, err := s.db.CreateProject(ctx, p, caller.UserID)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	s.index(created)
	return created, nil
}

// Read returns a project the caller is a member of.
func (s *ProjectService) Read(ctx context.Context, id int64) (*models.Project, error) {
	const op errors.Op = "service.ProjectService.Read"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	ok, err := s.perms.CanReadProject(ctx, p, id)
	if err := allow(op, p, ok, err); err != nil {
		return nil, err
	}
	project, err := s.db.GetProject(ctx, id)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	return project, nil
}

// List returns the caller's projects; administrators see every project.
func (s *ProjectService) List(ctx context.Context) ([]*models.Project, error) {
	const op errors.Op = "service.ProjectService.List"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	if p.IsAdmin() {
		projects, err := s.db.ListProjects(ctx)
		return projects, errors.Wrap(op, err)
	}
	projects, err := s.db.ListProjectsForUser(ctx, p.UserID)
	return projects, errors.Wrap(op, err)
}

// ListForUser returns the projects of userID. Users may list their own
// projects; administrators may list anyone's.
func (s *ProjectService) ListForUser(ctx context.Context, userID int64) ([]*models.Project, error) {
	const op errors.Op = "service.ProjectService.ListForUser"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	if err := allow(op, p, p.IsAdmin() || p.UserID == userID, nil); err != nil {
		return nil, err
	}
	projects, err := s.db.ListProjectsForUser(ctx, userID)
	return projects, errors.Wrap(op, err)
}

// Update applies a partial update to a project the caller owns.
func (s *ProjectService) Update(ctx context.Context, id int64, fields map[string]interface{}) (*models.Project, error) {
	const op errors.Op = "service.ProjectService.Update"

	if err := s.requireOwner(ctx, op, id); err != nil {
		return nil, err
	}
	if name, ok, err := stringField(op, fields, "name"); err != nil {
		return nil, err
	} else if ok && strings.TrimSpace(name) == "" {
		return nil, errors.E(op, errors.KindInvalidProperty, "project name is required")
	}
	if err := s.db.UpdateFields(ctx, "projects", id, normalizeFields(fields)); err != nil {
		return nil, errors.Wrap(op, err)
	}
	project, err := s.db.GetProject(ctx, id)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	s.index(project)
	return project, nil
}

// Delete removes a project the caller owns. Its samples are kept.
func (s *ProjectService) Delete(ctx context.Context, id int64) error {
	const op errors.Op = "service.ProjectService.Delete"

	if err := s.requireOwner(ctx, op, id); err != nil {
		return err
	}
	if err := s.db.DeleteProject(ctx, id); err != nil {
		return errors.Wrap(op, err)
	}
	if err := s.indexer.DeleteProject(id); err != nil {
		s.logger.Warn("failed to remove project from index", zap.Int64("project_id", id), zap.Error(err))
	}
	return nil
}

// AddUser grants userID role on a project the caller owns.
func (s *ProjectService) AddUser(ctx context.Context, projectID, userID int64, role models.ProjectRole) (*models.ProjectUserJoin, error) {
	const op errors.Op = "service.ProjectService.AddUser"

	if err := s.requireOwner(ctx, op, projectID); err != nil {
		return nil, err
	}
	if _, err := models.AsProjectRole(string(role)); err != nil {
		return nil, errors.E(op, errors.KindInvalidProperty, err)
	}
	exists, err := s.db.UserExists(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if !exists {
		return nil, errors.NotFound(op, "user", userID)
	}
	join, err := s.db.AddUserToProject(ctx, projectID, userID, role)
	return join, errors.Wrap(op, err)
}

// RemoveUser revokes userID's membership. The last owner cannot be removed.
func (s *ProjectService) RemoveUser(ctx context.Context, projectID, userID int64) error {
	const op errors.Op = "service.ProjectService.RemoveUser"

	if err := s.requireOwner(ctx, op, projectID); err != nil {
		return err
	}
	members, err := s.db.ListProjectUsers(ctx, projectID)
	if err != nil {
		return errors.Wrap(op, err)
	}
	owners, removingOwner := 0, false
	for _, m := range members {
		if m.Role == models.ProjectOwner {
			owners++
			if m.UserID == userID {
				removingOwner = true
			}
		}
	}
	if removingOwner && owners == 1 {
		return errors.E(op, errors.KindValidation, "a project must keep at least one owner")
	}
	return errors.Wrap(op, s.db.RemoveUserFromProject(ctx, projectID, userID))
}

// Users lists the members of a project.
func (s *ProjectService) Users(ctx context.Context, projectID int64) ([]*models.ProjectUserJoin, error) {
	const op errors.Op = "service.ProjectService.Users"

	if err := s.requireReader(ctx, op, projectID); err != nil {
		return nil, err
	}
	members, err := s.db.ListProjectUsers(ctx, projectID)
	return members, errors.Wrap(op, err)
}

// AddSample shares an existing sample with a project. The caller must own
// the project and be able to read the sample.
func (s *ProjectService) AddSample(ctx context.Context, projectID, sampleID int64) (*models.ProjectSampleJoin, error) {
	const op errors.Op = "service.ProjectService.AddSample"

	if err := s.requireOwner(ctx, op, projectID); err != nil {
		return nil, err
	}
	p, _ := security.PrincipalFrom(ctx)
	ok, err := s.perms.CanReadSample(ctx, p, sampleID)
	if err := allow(op, p, ok, err); err != nil {
		return nil, err
	}
	join, err := s.db.AddSampleToProject(ctx, projectID, sampleID, false)
	return join, errors.Wrap(op, err)
}

// RemoveSample unlinks a sample from a project the caller owns.
func (s *ProjectService) RemoveSample(ctx context.Context, projectID, sampleID int64) error {
	const op errors.Op = "service.ProjectService.RemoveSample"

	if err := s.requireOwner(ctx, op, projectID); err != nil {
		return err
	}
	return errors.Wrap(op, s.db.RemoveSampleFromProject(ctx, projectID, sampleID))
}

// Samples returns the samples of a project.
func (s *ProjectService) Samples(ctx context.Context, projectID int64) ([]*models.Sample, error) {
	const op errors.Op = "service.ProjectService.Samples"

	if err := s.requireReader(ctx, op, projectID); err != nil {
		return nil, err
	}
	samples, err := s.db.ListSamplesForProject(ctx, projectID)
	return samples, errors.Wrap(op, err)
}

// SearchSamples returns the project's samples whose name contains name.
func (s *ProjectService) SearchSamples(ctx context.Context, projectID int64, name string) ([]*models.Sample, error) {
	const op errors.Op = "service.ProjectService.SearchSamples"

	if err := s.requireReader(ctx, op, projectID); err != nil {
		return nil, err
	}
	samples, err := s.db.SearchSamplesForProject(ctx, projectID, name)
	return samples, errors.Wrap(op, err)
}

func (s *ProjectService) requireOwner(ctx context.Context, op errors.Op, projectID int64) error {
	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return err
	}
	ok, err := s.perms.IsProjectOwner(ctx, p, projectID)
	return allow(op, p, ok, err)
}

func (s *ProjectService) requireReader(ctx context.Context, op errors.Op, projectID int64) error {
	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return err
	}
	ok, err := s.perms.CanReadProject(ctx, p, projectID)
	return allow(op, p, ok, err)
}

func (s *ProjectService) index(p *models.Project) {
	if err := s.indexer.IndexProject(p); err != nil {
		s.logger.Warn("failed to index project", zap.Int64("project_id", p.ID), zap.Error(err))
	}
}

// SampleService manages samples.
type SampleService struct {
	*base
}

// CreateInProject stores a sample owned by a project the caller owns.
func (s *SampleService) CreateInProject(ctx context.Context, projectID int64, sample *models.Sample) (*models.ProjectSampleJoin, error) {
	const op errors.Op = "service.SampleService.CreateInProject"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	ok, err := s.perms.IsProjectOwner(ctx, p, projectID)
	if err := allow(op, p, ok, err); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sample.SampleName) == "" {
		return nil, errors.E(op, errors.KindInvalidProperty, "sample name is required")
	}
	join, err := s.db.CreateSampleInProject(ctx, projectID, sample)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	s.index(sample)
	return join, nil
}

// Read returns a sample the caller can read.
func (s *SampleService) Read(ctx context.Context, id int64) (*models.Sample, error) {
	const op errors.Op = "service.SampleService.Read"

	if err := s.requireReader(ctx, op, id); err != nil {
		return nil, err
	}
	sample, err := s.db.GetSample(ctx, id)
	return sample, errors.Wrap(op, err)
}

// Update applies a partial update to a sample. The caller must own a
// project holding the sample.
func (s *SampleService) Update(ctx context.Context, id int64, fields map[string]interface{}) (*models.Sample, error) {
	const op errors.Op = "service.SampleService.Update"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	ok, err := s.perms.CanUpdateSample(ctx, p, id)
	if err := allow(op, p, ok, err); err != nil {
		return nil, err
	}

	fields = normalizeFields(fields)
	if name, ok, err := stringField(op, fields, "sample_name"); err != nil {
		return nil, err
	} else if ok && strings.TrimSpace(name) == "" {
		return nil, errors.E(op, errors.KindInvalidProperty, "sample name is required")
	}
	if raw, ok, err := stringField(op, fields, "collection_date"); err != nil {
		return nil, err
	} else if ok {
		date, err := parseDate(raw)
		if err != nil {
			return nil, errors.E(op, errors.KindInvalidProperty, err, "collection_date must be a date")
		}
		fields["collection_date"] = date
	}

	if err := s.db.UpdateFields(ctx, "samples", id, fields); err != nil {
		return nil, errors.Wrap(op, err)
	}
	sample, err := s.db.GetSample(ctx, id)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	s.index(sample)
	return sample, nil
}

// ListForProject returns the samples of a project the caller can read.
func (s *SampleService) ListForProject(ctx context.Context, projectID int64) ([]*models.Sample, error) {
	const op errors.Op = "service.SampleService.ListForProject"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	ok, err := s.perms.CanReadProject(ctx, p, projectID)
	if err := allow(op, p, ok, err); err != nil {
		return nil, err
	}
	samples, err := s.db.ListSamplesForProject(ctx, projectID)
	return samples, errors.Wrap(op, err)
}

// Projects returns the projects holding a sample that the caller can read.
func (s *SampleService) Projects(ctx context.Context, sampleID int64) ([]*models.Project, error) {
	const op errors.Op = "service.SampleService.Projects"

	if err := s.requireReader(ctx, op, sampleID); err != nil {
		return nil, err
	}
	p, _ := security.PrincipalFrom(ctx)
	projects, err := s.db.ListProjectsForSample(ctx, sampleID)
	if err != nil || p.IsAdmin() {
		return projects, errors.Wrap(op, err)
	}
	visible := projects[:0]
	for _, project := range projects {
		ok, err := s.perms.CanReadProject(ctx, p, project.ID)
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
		if ok {
			visible = append(visible, project)
		}
	}
	return visible, nil
}

// Delete removes a sample. The caller must own a project holding it.
func (s *SampleService) Delete(ctx context.Context, id int64) error {
	const op errors.Op = "service.SampleService.Delete"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return err
	}
	ok, err := s.perms.CanUpdateSample(ctx, p, id)
	if err := allow(op, p, ok, err); err != nil {
		return err
	}
	if err := s.db.DeleteSample(ctx, id); err != nil {
		return errors.Wrap(op, err)
	}
	if err := s.indexer.DeleteSample(id); err != nil {
		s.logger.Warn("failed to remove sample from index", zap.Int64("sample_id", id), zap.Error(err))
	}
	return nil
}

func (s *SampleService) requireReader(ctx context.Context, op errors.Op, sampleID int64) error {
	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return err
	}
	ok, err := s.perms.CanReadSample(ctx, p, sampleID)
	return allow(op, p, ok, err)
}

func (s *SampleService) index(sample *models.Sample) {
	if err := s.indexer.IndexSample(sample); err != nil {
		s.logger.Warn("failed to index sample", zap.Int64("sample_id", sample.ID), zap.Error(err))
	}
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}
