package api

import (
	"net/http"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
)

type createUserRequest struct {
	models.User
	Password string `json:"password"`
}

type changePasswordRequest struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

func (s *Server) userResource(r *http.Request, u *models.User) models.Resource[interface{}] {
	return models.Resource[interface{}]{Object: u, Links: s.userLinks(r, u)}
}

func (s *Server) userLinks(r *http.Request, u *models.User) models.Links {
	return models.Links{
		link(models.RelSelf, s.href(r, "users", u.ID)),
		link("user/projects", s.href(r, "users", u.ID, "projects")),
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.Users.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]models.Resource[interface{}], 0, len(users))
	for _, u := range users {
		items = append(items, s.userResource(r, u))
	}
	s.writeList(w, items, models.Links{s.self(r)})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.svc.Users.Create(r.Context(), &req.User, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", s.href(r, "users", u.ID))
	s.writeResource(w, http.StatusCreated, u, s.userLinks(r, u))
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	const op errors.Op = "api.handleCurrentUser"

	p, err := security.RequirePrincipal(r.Context(), op)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p.UserID == 0 {
		// client_credentials tokens carry no account
		s.writeResource(w, http.StatusOK, p, models.Links{s.self(r)})
		return
	}
	u, err := s.svc.Users.Read(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, u, s.userLinks(r, u))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.svc.Users.Read(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, u, s.userLinks(r, u))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
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
	u, err := s.svc.Users.Update(r.Context(), id, fields)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResource(w, http.StatusOK, u, s.userLinks(r, u))
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Users.ChangePassword(r.Context(), id, req.Current, req.New); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserProjects(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	projects, err := s.svc.Projects.ListForUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeList(w, s.projectResources(r, projects), models.Links{s.self(r)})
}
