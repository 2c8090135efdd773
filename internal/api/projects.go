package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/service"
)

type addProjectUserRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"project_role"`
}

// exportTypes maps export formats to their media types.
var exportTypes = map[string]string{
	"csv":   "text/csv",
	"tsv":   "text/tab-separated-values",
	"json":  "application/json",
	"jsonl": "application/x-ndjson",
}

func (s *Server) projectLinks(r *http.Request, p *models.Project) models.Links {
	return models.Links{
		link(models.RelSelf, s.href(r, "projects", p.ID)),
		link(models.RelProjectSamples, s.href(r, "projects", p.ID, "samples")),
		link("project/users", s.href(r, "projects", p.ID, "users")),
		link("project/export", s.href(r, "projects", p.ID, "export")),
	}
}

func (s *Server) projectResources(r *http.Request, projects []*models.Project) []models.Resource[interface{}] {
	items := make([]models.Resource[interface{}], 0, len(projects))
	for _, p := range projects {
		items = append(items, models.Resource[interface{}]{Object: p, Links: s.projectLinks(r, p)})
	}
	return items
}

func (s *Server) sampleLinks(r *http.Request, sample *models.Sample) models.Links {
	return models.Links{
		link(models.RelSelf, s.href(r, "samples", sample.ID)),
		link(models.RelSampleFiles, s.href(r, "samples", sample.ID, "sequenceFiles")),
	}
}

func (s *Server) sampleResources(r *http.Request, samples []*models.Sample) []models.Resource[interface{}] {
	items := make([]models.Resource[interface{}], 0, len(samples))
	for _, sample := range samples {
		items = append(items, models.Resource[interface{}]{Object: sample, Links: s.sampleLinks(r, sample)})
	}
	return items
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.svc.Projects.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeList(w, s.projectResources(r, projects), models.Links{s.self(r)})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var p models.Project
	if err := decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.svc.Projects.Create(r.Context(), &p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", s.href(r, "projects", created.ID))
	s.writeResource(w, http.StatusCreated, created, s.projectLinks(r, created))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.Projects.Read(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, p, s.projectLinks(r, p))
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
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
	p, err := s.svc.Projects.Update(r.Context(), id, fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, p, s.projectLinks(r, p))
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Projects.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProjectSamples lists a project's samples, filtered by name when
// the search parameter is given.
func (s *Server) handleProjectSamples(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var samples []*models.Sample
	if q := r.URL.Query().Get("search"); q != "" {
		samples, err = s.svc.Projects.SearchSamples(r.Context(), id, q)
	} else {
		samples, err = s.svc.Projects.Samples(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeList(w, s.sampleResources(r, samples), models.Links{
		s.self(r),
		link("project", s.href(r, "projects", id)),
	})
}

func (s *Server) handleCreateSample(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var sample models.Sample
	if err := decodeJSON(r, &sample); err != nil {
		s.writeError(w, r, err)
		return
	}
	join, err := s.svc.Samples.CreateInProject(r.Context(), id, &sample)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.svc.Samples.Read(r.Context(), join.SampleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", s.href(r, "samples", created.ID))
	s.writeResource(w, http.StatusCreated, created, append(s.sampleLinks(r, created),
		link("project", s.href(r, "projects", id))))
}

func (s *Server) handleAddProjectSample(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sampleID, err := pathID(r, "sampleID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	join, err := s.svc.Projects.AddSample(r.Context(), projectID, sampleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusCreated, join, models.Links{
		link("project", s.href(r, "projects", projectID)),
		link("sample", s.href(r, "samples", sampleID)),
	})
}

func (s *Server) handleRemoveProjectSample(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sampleID, err := pathID(r, "sampleID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Projects.RemoveSample(r.Context(), projectID, sampleID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProjectUsers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	members, err := s.svc.Projects.Users(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]models.Resource[interface{}], 0, len(members))
	for _, m := range members {
		items = append(items, models.Resource[interface{}]{Object: m, Links: models.Links{
			link("user", s.href(r, "users", m.UserID)),
			link("project/user", s.href(r, "projects", id, "users", m.UserID)),
		}})
	}
	s.writeList(w, items, models.Links{s.self(r)})
}

func (s *Server) handleAddProjectUser(w http.ResponseWriter, r *http.Request) {
	const op errors.Op = "api.handleAddProjectUser"

	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addProjectUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Role == "" {
		req.Role = string(models.ProjectUser)
	}
	role, err := models.AsProjectRole(req.Role)
	if err != nil {
		s.writeError(w, r, errors.E(op, errors.KindInvalidProperty, err))
		return
	}
	join, err := s.svc.Projects.AddUser(r.Context(), id, req.UserID, role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusCreated, join, models.Links{
		link("user", s.href(r, "users", join.UserID)),
		link("project", s.href(r, "projects", id)),
	})
}

func (s *Server) handleRemoveProjectUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Projects.RemoveUser(r.Context(), id, userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportProject streams the project's sample line list. The export
// is rendered before the first byte is sent so failures keep their status.
func (s *Server) handleExportProject(w http.ResponseWriter, r *http.Request) {
	const op errors.Op = "api.handleExportProject"

	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	contentType, ok := exportTypes[format]
	if !ok {
		s.writeError(w, r, errors.E(op, errors.KindValidation, fmt.Sprintf("unsupported export format %q", format)))
		return
	}
	req := &service.ExportRequest{ProjectID: id, Format: format}
	if fields := r.URL.Query().Get("fields"); fields != "" {
		req.Fields = strings.Split(fields, ",")
	}

	var buf bytes.Buffer
	if err := s.svc.Export.Export(r.Context(), req, &buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="project-%d-samples.%s"`, id, format))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
