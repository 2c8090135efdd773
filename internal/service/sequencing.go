package service

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
	"github.com/nishad/seqlims/internal/storage"
)

// SequenceFileService manages sequence files and their content.
type SequenceFileService struct {
	*base
	files *storage.Files
	queue ProcessingQueue
}

// Create stores a sequence file record.
func (s *SequenceFileService) Create(ctx context.Context, f *models.SequenceFile) (*models.SequenceFile, error) {
	const op errors.Op = "service.SequenceFileService.Create"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleSequencer, models.RoleUser); err != nil {
		return nil, err
	}
	created, err := s.db.CreateSequenceFile(ctx, f)
	return created, errors.Wrap(op, err)
}

// Read returns a sequence file the caller can read.
func (s *SequenceFileService) Read(ctx context.Context, id int64) (*models.SequenceFile, error) {
	const op errors.Op = "service.SequenceFileService.Read"

	if err := s.requireReader(ctx, op, id); err != nil {
		return nil, err
	}
	f, err := s.db.GetSequenceFile(ctx, id)
	return f, errors.Wrap(op, err)
}

// CreateInSample wraps f in a single-end sequencing object held by the
// sample and returns the sample/file join.
func (s *SequenceFileService) CreateInSample(ctx context.Context, f *models.SequenceFile, sampleID int64) (*models.SampleSequenceFileJoin, error) {
	const op errors.Op = "service.SequenceFileService.CreateInSample"

	if err := s.requireSampleWriter(ctx, op, sampleID); err != nil {
		return nil, err
	}
	obj := &models.SequencingObject{Kind: models.ObjectSingleEnd, Files: []models.SequenceFile{*f}, SequencingRunID: f.SequencingRunID}
	join, err := s.db.CreateSequencingObjectInSample(ctx, sampleID, obj)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	created := join.Object.Files[0]
	return &models.SampleSequenceFileJoin{SampleID: sampleID, SequenceFile: &created, ObjectID: join.Object.ID}, nil
}

// ListForSample returns every file held by a sample.
func (s *SequenceFileService) ListForSample(ctx context.Context, sampleID int64) ([]*models.SampleSequenceFileJoin, error) {
	const op errors.Op = "service.SequenceFileService.ListForSample"

	if err := s.requireSampleWriter(ctx, op, sampleID); err != nil {
		return nil, err
	}
	objects, err := s.db.ListSequencingObjectsForSample(ctx, sampleID)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	var joins []*models.SampleSequenceFileJoin
	for _, j := range objects {
		for i := range j.Object.Files {
			joins = append(joins, &models.SampleSequenceFileJoin{
				SampleID:     sampleID,
				SequenceFile: &j.Object.Files[i],
				ObjectID:     j.Object.ID,
			})
		}
	}
	return joins, nil
}

// ListForSequencingRun returns the files produced by a run.
func (s *SequenceFileService) ListForSequencingRun(ctx context.Context, runID int64) ([]*models.SequenceFile, error) {
	const op errors.Op = "service.SequenceFileService.ListForSequencingRun"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleSequencer); err != nil {
		return nil, err
	}
	if _, err := s.db.GetSequencingRun(ctx, runID); err != nil {
		return nil, errors.Wrap(op, err)
	}
	files, err := s.db.ListSequenceFilesForRun(ctx, runID)
	return files, errors.Wrap(op, err)
}

// Update applies a partial update to a sequence file.
func (s *SequenceFileService) Update(ctx context.Context, id int64, fields map[string]interface{}) (*models.SequenceFile, error) {
	const op errors.Op = "service.SequenceFileService.Update"

	if err := s.requireWriter(ctx, op, id); err != nil {
		return nil, err
	}
	if err := s.db.UpdateFields(ctx, "sequence_files", id, normalizeFields(fields)); err != nil {
		return nil, errors.Wrap(op, err)
	}
	f, err := s.db.GetSequenceFile(ctx, id)
	return f, errors.Wrap(op, err)
}

// GetPair returns the other file of the pair holding id. Files that are not
// part of a pair fail with KindNotFound.
func (s *SequenceFileService) GetPair(ctx context.Context, id int64) (*models.SequenceFile, error) {
	const op errors.Op = "service.SequenceFileService.GetPair"

	if err := s.requireReader(ctx, op, id); err != nil {
		return nil, err
	}
	obj, err := s.db.SequencingObjectForFile(ctx, id)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	pair, ok := obj.Pair(id)
	if !ok {
		return nil, errors.E(op, errors.KindNotFound, fmt.Sprintf("sequence file [%d] is not paired", id))
	}
	return pair, nil
}

// WriteContent stores r as the next revision of a file's content and hands
// the file's sequencing object to the processing chain.
func (s *SequenceFileService) WriteContent(ctx context.Context, id int64, filename string, r io.Reader) (*models.SequenceFile, error) {
	const op errors.Op = "service.SequenceFileService.WriteContent"

	if err := s.requireWriter(ctx, op, id); err != nil {
		return nil, err
	}
	f, err := s.write(ctx, op, id, filename, r)
	if err != nil {
		return nil, err
	}
	if obj, err := s.db.SequencingObjectForFile(ctx, id); err == nil {
		s.process(ctx, obj.ID)
	}
	return f, nil
}

// OpenContent opens the current content of a file the caller can read.
func (s *SequenceFileService) OpenContent(ctx context.Context, id int64) (io.ReadCloser, *models.SequenceFile, error) {
	const op errors.Op = "service.SequenceFileService.OpenContent"

	f, err := s.Read(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.files == nil {
		return nil, nil, errors.E(op, errors.KindConfig, "file storage is not configured")
	}
	rc, err := s.files.OpenSequenceFile(ctx, f)
	if err != nil {
		return nil, nil, errors.Wrap(op, err)
	}
	return rc, f, nil
}

// QC returns the read statistics computed for a file.
func (s *SequenceFileService) QC(ctx context.Context, id int64) (*models.QCEntry, error) {
	const op errors.Op = "service.SequenceFileService.QC"

	if err := s.requireReader(ctx, op, id); err != nil {
		return nil, err
	}
	qc, err := s.db.GetQCEntry(ctx, id)
	return qc, errors.Wrap(op, err)
}

func (s *SequenceFileService) write(ctx context.Context, op errors.Op, id int64, filename string, r io.Reader) (*models.SequenceFile, error) {
	if s.files == nil {
		return nil, errors.E(op, errors.KindConfig, "file storage is not configured")
	}
	f, err := s.files.WriteSequenceFile(ctx, id, filename, r)
	return f, errors.Wrap(op, err)
}

func (s *SequenceFileService) process(ctx context.Context, objectID int64) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Submit(ctx, objectID); err != nil {
		s.logger.Warn("failed to queue sequencing object for processing",
			zap.Int64("sequencing_object_id", objectID), zap.Error(err))
	}
}

func (s *SequenceFileService) requireReader(ctx context.Context, op errors.Op, fileID int64) error {
	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return err
	}
	ok, err := s.perms.CanReadSequenceFile(ctx, p, fileID)
	return allow(op, p, ok, err)
}

// requireWriter passes sequencers and readers of the file.
func (s *SequenceFileService) requireWriter(ctx context.Context, op errors.Op, fileID int64) error {
	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return err
	}
	if p.HasRole(models.RoleSequencer) {
		return nil
	}
	ok, err := s.perms.CanReadSequenceFile(ctx, p, fileID)
	return allow(op, p, ok, err)
}

// requireSampleWriter passes sequencers and readers of the sample.
func (s *SequenceFileService) requireSampleWriter(ctx context.Context, op errors.Op, sampleID int64) error {
	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return err
	}
	if p.HasRole(models.RoleSequencer) {
		return nil
	}
	ok, err := s.perms.CanReadSample(ctx, p, sampleID)
	return allow(op, p, ok, err)
}

// Upload is one file of a sequencing object upload.
type Upload struct {
	Filename string
	Content  io.Reader
}

// SequencingObjectService manages sequencing objects.
type SequencingObjectService struct {
	*base
	files *SequenceFileService
}

// CreateInSample stores obj and its files in a sample.
func (s *SequencingObjectService) CreateInSample(ctx context.Context, sampleID int64, obj *models.SequencingObject) (*models.SampleSequencingObjectJoin, error) {
	const op errors.Op = "service.SequencingObjectService.CreateInSample"

	if err := s.files.requireSampleWriter(ctx, op, sampleID); err != nil {
		return nil, err
	}
	exists, err := s.db.SampleExists(ctx, sampleID)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if !exists {
		return nil, errors.NotFound(op, "sample", sampleID)
	}
	join, err := s.db.CreateSequencingObjectInSample(ctx, sampleID, obj)
	return join, errors.Wrap(op, err)
}

// Upload creates a single-end object (one upload) or a pair (two uploads)
// in a sample, stores the content and queues the object for processing.
func (s *SequencingObjectService) Upload(ctx context.Context, sampleID int64, runID *int64, uploads ...Upload) (*models.SampleSequencingObjectJoin, error) {
	const op errors.Op = "service.SequencingObjectService.Upload"

	obj := &models.SequencingObject{SequencingRunID: runID}
	switch len(uploads) {
	case 1:
		obj.Kind = models.ObjectSingleEnd
	case 2:
		obj.Kind = models.ObjectPair
	default:
		return nil, errors.E(op, errors.KindInvalidProperty, fmt.Sprintf("expected 1 or 2 files, got %d", len(uploads)))
	}
	obj.Files = make([]models.SequenceFile, len(uploads))

	join, err := s.CreateInSample(ctx, sampleID, obj)
	if err != nil {
		return nil, err
	}
	for i, u := range uploads {
		f, err := s.files.write(ctx, op, join.Object.Files[i].ID, u.Filename, u.Content)
		if err != nil {
			s.discard(ctx, join.Object.ID, join.Object.Files[:i])
			return nil, err
		}
		join.Object.Files[i] = *f
	}
	s.files.process(ctx, join.Object.ID)
	return join, nil
}

// discard removes an object whose upload failed along with the content
// already stored for its files.
func (s *SequencingObjectService) discard(ctx context.Context, objectID int64, written []models.SequenceFile) {
	for i := range written {
		errors.IgnoreError(s.files.files.RemoveSequenceContent(ctx, &written[i]), "remove content of failed upload")
	}
	if err := s.db.DeleteSequencingObject(ctx, objectID); err != nil {
		s.logger.Warn("failed to remove sequencing object of failed upload",
			zap.Int64("sequencing_object_id", objectID), zap.Error(err))
	}
}

// Read returns an object the caller can read.
func (s *SequencingObjectService) Read(ctx context.Context, id int64) (*models.SequencingObject, error) {
	const op errors.Op = "service.SequencingObjectService.Read"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return nil, err
	}
	ok, err := s.perms.CanReadSequencingObject(ctx, p, id)
	if err := allow(op, p, ok, err); err != nil {
		return nil, err
	}
	obj, err := s.db.GetSequencingObject(ctx, id)
	return obj, errors.Wrap(op, err)
}

// ListForSample returns the objects held by a sample.
func (s *SequencingObjectService) ListForSample(ctx context.Context, sampleID int64) ([]*models.SampleSequencingObjectJoin, error) {
	const op errors.Op = "service.SequencingObjectService.ListForSample"

	if err := s.files.requireSampleWriter(ctx, op, sampleID); err != nil {
		return nil, err
	}
	joins, err := s.db.ListSequencingObjectsForSample(ctx, sampleID)
	return joins, errors.Wrap(op, err)
}

// Delete removes an object and its files. The caller must be a sequencer or
// own a project holding the object's sample.
func (s *SequencingObjectService) Delete(ctx context.Context, id int64) error {
	const op errors.Op = "service.SequencingObjectService.Delete"

	p, err := security.RequirePrincipal(ctx, op)
	if err != nil {
		return err
	}
	if !p.HasRole(models.RoleSequencer) {
		sampleID, err := s.db.SampleForSequencingObject(ctx, id)
		if err != nil {
			return errors.Wrap(op, err)
		}
		ok, err := s.perms.CanUpdateSample(ctx, p, sampleID)
		if err := allow(op, p, ok, err); err != nil {
			return err
		}
	}
	return errors.Wrap(op, s.db.DeleteSequencingObject(ctx, id))
}

// SequencingRunService manages instrument runs.
type SequencingRunService struct {
	*base
}

// Create stores a run.
func (s *SequencingRunService) Create(ctx context.Context, r *models.SequencingRun) (*models.SequencingRun, error) {
	const op errors.Op = "service.SequencingRunService.Create"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleSequencer); err != nil {
		return nil, err
	}
	switch r.Layout {
	case models.LayoutSingle, models.LayoutPaired:
	default:
		return nil, errors.E(op, errors.KindInvalidProperty, fmt.Sprintf("unknown layout type %q", r.Layout))
	}
	if r.UploadStatus == "" {
		r.UploadStatus = models.UploadUploading
	}
	created, err := s.db.CreateSequencingRun(ctx, r)
	return created, errors.Wrap(op, err)
}

// Read returns a run.
func (s *SequencingRunService) Read(ctx context.Context, id int64) (*models.SequencingRun, error) {
	const op errors.Op = "service.SequencingRunService.Read"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	r, err := s.db.GetSequencingRun(ctx, id)
	return r, errors.Wrap(op, err)
}

// List returns every run.
func (s *SequencingRunService) List(ctx context.Context) ([]*models.SequencingRun, error) {
	const op errors.Op = "service.SequencingRunService.List"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleSequencer, models.RoleTechnician); err != nil {
		return nil, err
	}
	runs, err := s.db.ListSequencingRuns(ctx)
	return runs, errors.Wrap(op, err)
}

// Update applies a partial update to a run.
func (s *SequencingRunService) Update(ctx context.Context, id int64, fields map[string]interface{}) (*models.SequencingRun, error) {
	const op errors.Op = "service.SequencingRunService.Update"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleSequencer); err != nil {
		return nil, err
	}
	if err := s.db.UpdateFields(ctx, "sequencing_runs", id, normalizeFields(fields)); err != nil {
		return nil, errors.Wrap(op, err)
	}
	r, err := s.db.GetSequencingRun(ctx, id)
	return r, errors.Wrap(op, err)
}

// ReferenceFileService manages reference files.
type ReferenceFileService struct {
	*base
	files *storage.Files
}

// Create stores a reference file with the content of r.
func (s *ReferenceFileService) Create(ctx context.Context, filename string, r io.Reader) (*models.ReferenceFile, error) {
	const op errors.Op = "service.ReferenceFileService.Create"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	if s.files == nil {
		return nil, errors.E(op, errors.KindConfig, "file storage is not configured")
	}
	rf, err := s.db.CreateReferenceFile(ctx, &models.ReferenceFile{})
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	stored, err := s.files.WriteReferenceFile(ctx, rf.ID, filename, r)
	if err != nil {
		if derr := s.db.DeleteReferenceFile(ctx, rf.ID); derr != nil {
			s.logger.Warn("failed to remove reference file of failed upload",
				zap.Int64("reference_file_id", rf.ID), zap.Error(derr))
		}
		return nil, errors.Wrap(op, err)
	}
	return stored, nil
}

// Read returns a reference file.
func (s *ReferenceFileService) Read(ctx context.Context, id int64) (*models.ReferenceFile, error) {
	const op errors.Op = "service.ReferenceFileService.Read"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	rf, err := s.db.GetReferenceFile(ctx, id)
	return rf, errors.Wrap(op, err)
}

// List returns every reference file.
func (s *ReferenceFileService) List(ctx context.Context) ([]*models.ReferenceFile, error) {
	const op errors.Op = "service.ReferenceFileService.List"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	files, err := s.db.ListReferenceFiles(ctx)
	return files, errors.Wrap(op, err)
}
