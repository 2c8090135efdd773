package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/service"
)

// maxUploadMemory is the part of a multipart upload held in memory; the
// rest spills to temporary files.
const maxUploadMemory = 32 << 20

func (s *Server) sequenceFileLinks(r *http.Request, f *models.SequenceFile) models.Links {
	links := models.Links{
		link(models.RelSelf, s.href(r, "sequenceFiles", f.ID)),
		link("sequenceFile/content", s.href(r, "sequenceFiles", f.ID, "content")),
		link("sequenceFile/qc", s.href(r, "sequenceFiles", f.ID, "qc")),
	}
	if f.SequencingRunID != nil {
		links = append(links, link("sequencingRun", s.href(r, "sequencingRuns", *f.SequencingRunID)))
	}
	return links
}

func (s *Server) sequencingObjectLinks(r *http.Request, obj *models.SequencingObject) models.Links {
	links := models.Links{link(models.RelSelf, s.href(r, "sequencingObjects", obj.ID))}
	for _, f := range obj.Files {
		links = append(links, link("sequenceFile", s.href(r, "sequenceFiles", f.ID)))
	}
	return links
}

func (s *Server) handleGetSample(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sample, err := s.svc.Samples.Read(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, sample, append(s.sampleLinks(r, sample),
		link("sample/projects", s.href(r, "samples", id, "projects")),
		link("sample/sequencingObjects", s.href(r, "samples", id, "sequencingObjects"))))
}

func (s *Server) handleUpdateSample(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fields, err := decodeFields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sample, err := s.svc.Samples.Update(r.Context(), id, fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, sample, s.sampleLinks(r, sample))
}

func (s *Server) handleDeleteSample(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Samples.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSampleProjects(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	projects, err := s.svc.Samples.Projects(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeList(w, s.projectResources(r, projects), models.Links{s.self(r)})
}

func (s *Server) handleSampleSequenceFiles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	joins, err := s.svc.SequenceFiles.ListForSample(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]models.Resource[interface{}], 0, len(joins))
	for _, j := range joins {
		links := append(s.sequenceFileLinks(r, j.SequenceFile),
			link("sequencingObject", s.href(r, "sequencingObjects", j.ObjectID)))
		items = append(items, models.Resource[interface{}]{Object: j.SequenceFile, Links: links})
	}
	s.writeList(w, items, models.Links{s.self(r), link("sample", s.href(r, "samples", id))})
}

func (s *Server) handleSampleSequencingObjects(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	joins, err := s.svc.SequencingObjects.ListForSample(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]models.Resource[interface{}], 0, len(joins))
	for _, j := range joins {
		items = append(items, models.Resource[interface{}]{Object: j.Object, Links: s.sequencingObjectLinks(r, j.Object)})
	}
	s.writeList(w, items, models.Links{s.self(r), link("sample", s.href(r, "samples", id))})
}

// handleUploadSequenceFiles accepts one (single end) or two (pair) files in
// the "file" fields of a multipart form. An optional sequencingRunId field
// attaches the files to a run.
func (s *Server) handleUploadSequenceFiles(w http.ResponseWriter, r *http.Request) {
	const op errors.Op = "api.handleUploadSequenceFiles"

	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.writeError(w, r, errors.E(op, errors.KindParse, err, "expected a multipart upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var runID *int64
	if raw := r.FormValue("sequencingRunId"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, errors.E(op, errors.KindValidation, fmt.Sprintf("invalid sequencingRunId %q", raw)))
			return
		}
		runID = &v
	}

	headers := r.MultipartForm.File["file"]
	uploads := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, r, errors.E(op, errors.KindIO, err))
			return
		}
		defer closeQuietly(s, f)
		uploads = append(uploads, service.Upload{Filename: path.Base(fh.Filename), Content: f})
	}

	join, err := s.svc.SequencingObjects.Upload(r.Context(), id, runID, uploads...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", s.href(r, "sequencingObjects", join.Object.ID))
	s.writeResource(w, http.StatusCreated, join.Object, append(s.sequencingObjectLinks(r, join.Object),
		link("sample", s.href(r, "samples", id))))
}

func closeQuietly(s *Server, f multipart.File) {
	if err := f.Close(); err != nil {
		s.logger.Debug("failed to close upload part", zap.Error(err))
	}
}

func (s *Server) handleGetSequencingObject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	obj, err := s.svc.SequencingObjects.Read(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, obj, s.sequencingObjectLinks(r, obj))
}

func (s *Server) handleDeleteSequencingObject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.SequencingObjects.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSequenceFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.svc.SequenceFiles.Read(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, f, s.sequenceFileLinks(r, f))
}

func (s *Server) handleUpdateSequenceFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fields, err := decodeFields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.svc.SequenceFiles.Update(r.Context(), id, fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, f, s.sequenceFileLinks(r, f))
}

func (s *Server) handleSequenceFilePair(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pair, err := s.svc.SequenceFiles.GetPair(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, pair, append(s.sequenceFileLinks(r, pair),
		link(models.RelSequenceFilePair, s.href(r, "sequenceFiles", id))))
}

func (s *Server) handleSequenceFileContent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rc, f, err := s.svc.SequenceFiles.OpenContent(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := "text/plain"
	if f.IsGzipped() {
		contentType = "application/gzip"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.FileName()))
	if f.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(f.FileSize, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("sequence file download interrupted", zap.Int64("sequence_file_id", id), zap.Error(err))
	}
}

// handleWriteSequenceFileContent replaces a file's content with the request
// body. The stored name comes from the filename query parameter.
func (s *Server) handleWriteSequenceFileContent(w http.ResponseWriter, r *http.Request) {
	const op errors.Op = "api.handleWriteSequenceFileContent"

	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := path.Base(r.URL.Query().Get("filename"))
	if name == "." || name == "/" {
		s.writeError(w, r, errors.E(op, errors.KindValidation, "a filename is required"))
		return
	}
	f, err := s.svc.SequenceFiles.WriteContent(r.Context(), id, name, r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, f, s.sequenceFileLinks(r, f))
}

func (s *Server) handleSequenceFileQC(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	qc, err := s.svc.SequenceFiles.QC(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, qc, models.Links{
		s.self(r),
		link("sequenceFile", s.href(r, "sequenceFiles", id)),
	})
}

func (s *Server) runLinks(r *http.Request, run *models.SequencingRun) models.Links {
	return models.Links{
		link(models.RelSelf, s.href(r, "sequencingRuns", run.ID)),
		link("sequencingRun/sequenceFiles", s.href(r, "sequencingRuns", run.ID, "sequenceFiles")),
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.svc.SequencingRuns.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]models.Resource[interface{}], 0, len(runs))
	for _, run := range runs {
		items = append(items, models.Resource[interface{}]{Object: run, Links: s.runLinks(r, run)})
	}
	s.writeList(w, items, models.Links{s.self(r)})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var run models.SequencingRun
	if err := decodeJSON(r, &run); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.svc.SequencingRuns.Create(r.Context(), &run)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", s.href(r, "sequencingRuns", created.ID))
	s.writeResource(w, http.StatusCreated, created, s.runLinks(r, created))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	run, err := s.svc.SequencingRuns.Read(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, run, s.runLinks(r, run))
}

func (s *Server) handleUpdateRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fields, err := decodeFields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	run, err := s.svc.SequencingRuns.Update(r.Context(), id, fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, run, s.runLinks(r, run))
}

func (s *Server) handleRunSequenceFiles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	files, err := s.svc.SequenceFiles.ListForSequencingRun(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]models.Resource[interface{}], 0, len(files))
	for _, f := range files {
		items = append(items, models.Resource[interface{}]{Object: f, Links: s.sequenceFileLinks(r, f)})
	}
	s.writeList(w, items, models.Links{s.self(r)})
}

func (s *Server) handleListReferenceFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.svc.ReferenceFiles.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]models.Resource[interface{}], 0, len(files))
	for _, f := range files {
		items = append(items, models.Resource[interface{}]{Object: f, Links: models.Links{
			link(models.RelSelf, s.href(r, "referenceFiles", f.ID)),
		}})
	}
	s.writeList(w, items, models.Links{s.self(r)})
}

// handleUploadReferenceFile stores the "file" field of a multipart form.
func (s *Server) handleUploadReferenceFile(w http.ResponseWriter, r *http.Request) {
	const op errors.Op = "api.handleUploadReferenceFile"

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.writeError(w, r, errors.E(op, errors.KindParse, err, "expected a multipart upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, errors.E(op, errors.KindValidation, err, "a file is required"))
		return
	}
	defer closeQuietly(s, file)

	rf, err := s.svc.ReferenceFiles.Create(r.Context(), path.Base(header.Filename), file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", s.href(r, "referenceFiles", rf.ID))
	s.writeResource(w, http.StatusCreated, rf, models.Links{link(models.RelSelf, s.href(r, "referenceFiles", rf.ID))})
}

func (s *Server) handleGetReferenceFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rf, err := s.svc.ReferenceFiles.Read(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, rf, models.Links{s.self(r)})
}
