package api

import (
	"net/http"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

const defaultRemotePageSize = 20

// remoteStatus is the outcome of a connection test against a peer.
type remoteStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) remoteAPILinks(r *http.Request, api *models.RemoteAPI) models.Links {
	return models.Links{
		link(models.RelSelf, s.href(r, "remoteapis", api.ID)),
		link("remoteapi/status", s.href(r, "remoteapis", api.ID, "status")),
		link("remoteapi/projects", s.href(r, "remoteapis", api.ID, "projects")),
		link("remoteapi/service", api.ServiceURI),
	}
}

// requireRemote reports whether peer access is configured, writing the
// error otherwise.
func (s *Server) requireRemote(w http.ResponseWriter, r *http.Request) bool {
	if s.remote == nil {
		s.writeError(w, r, errors.E(errors.Op("api.requireRemote"), errors.KindConfig, "remote access is not configured"))
		return false
	}
	return true
}

// remoteAPI reads the peer named by the id route variable.
func (s *Server) remoteAPI(r *http.Request) (*models.RemoteAPI, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	return s.svc.RemoteAPIs.Read(r.Context(), id)
}

func (s *Server) handleListRemoteAPIs(w http.ResponseWriter, r *http.Request) {
	apis, err := s.svc.RemoteAPIs.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]models.Resource[interface{}], 0, len(apis))
	for _, api := range apis {
		items = append(items, models.Resource[interface{}]{Object: api, Links: s.remoteAPILinks(r, api)})
	}
	s.writeList(w, items, models.Links{s.self(r)})
}

// handleCreateRemoteAPI registers a peer. The client secret is write-only.
func (s *Server) handleCreateRemoteAPI(w http.ResponseWriter, r *http.Request) {
	var req struct {
		models.RemoteAPI
		ClientSecret string `json:"client_secret"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.RemoteAPI.ClientSecret = req.ClientSecret
	api, err := s.svc.RemoteAPIs.Create(r.Context(), &req.RemoteAPI)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", s.href(r, "remoteapis", api.ID))
	s.writeResource(w, http.StatusCreated, api, s.remoteAPILinks(r, api))
}

func (s *Server) handleGetRemoteAPI(w http.ResponseWriter, r *http.Request) {
	api, err := s.remoteAPI(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, api, s.remoteAPILinks(r, api))
}

func (s *Server) handleUpdateRemoteAPI(w http.ResponseWriter, r *http.Request) {
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
	api, err := s.svc.RemoteAPIs.Update(r.Context(), id, fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.remote != nil {
		s.remote.APIs.Flush()
	}
	s.writeResource(w, http.StatusOK, api, s.remoteAPILinks(r, api))
}

func (s *Server) handleDeleteRemoteAPI(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.RemoteAPIs.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.remote != nil {
		s.remote.APIs.Flush()
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRemoteAPIStatus tests the connection to a peer. A failed test is
// reported in the body, not the status code.
func (s *Server) handleRemoteAPIStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireRemote(w, r) {
		return
	}
	api, err := s.remoteAPI(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := remoteStatus{Status: "ok"}
	if err := s.remote.APIs.Test(r.Context(), api); err != nil {
		status = remoteStatus{Status: "error", Message: err.Error()}
		if errors.IsKind(err, errors.KindUnauthorized) || errors.IsKind(err, errors.KindCredentialsExpired) {
			status.Status = "unauthorized"
		}
	}
	s.writeResource(w, http.StatusOK, status, models.Links{s.self(r), link("remoteapi", s.href(r, "remoteapis", api.ID))})
}

// handleRemoteProjects lists the projects the caller can read on a peer.
// Each project keeps the links the peer returned.
func (s *Server) handleRemoteProjects(w http.ResponseWriter, r *http.Request) {
	if !s.requireRemote(w, r) {
		return
	}
	api, err := s.remoteAPI(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	projects, err := s.remote.Projects.GetProjectsForAPI(r.Context(), api)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]models.Resource[interface{}], 0, len(projects))
	for _, p := range projects {
		items = append(items, models.Resource[interface{}]{Object: p.Object, Links: p.Links})
	}
	s.writeList(w, items, models.Links{s.self(r), link("remoteapi", s.href(r, "remoteapis", api.ID))})
}

// handleRemoteProjectSamples pages through the samples of the peer project
// at the href query parameter, filtered by the search parameter.
func (s *Server) handleRemoteProjectSamples(w http.ResponseWriter, r *http.Request) {
	const op errors.Op = "api.handleRemoteProjectSamples"

	if !s.requireRemote(w, r) {
		return
	}
	api, err := s.remoteAPI(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	href := q.Get("href")
	if href == "" {
		s.writeError(w, r, errors.E(op, errors.KindValidation, "the href of a remote project is required"))
		return
	}
	page, err := queryInt(r, "page", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	size, err := queryInt(r, "size", defaultRemotePageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	project, err := s.remote.Projects.Read(r.Context(), href, api)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	samples, err := s.remote.Samples.SearchSamplesForProject(r.Context(), project, api, q.Get("search"), page, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, samples, models.Links{
		s.self(r),
		link("remoteapi", s.href(r, "remoteapis", api.ID)),
		link("project", href),
	})
}
