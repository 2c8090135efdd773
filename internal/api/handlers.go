package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
)

// oauthError is the RFC 6749 error body of the token endpoint.
type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// handleRoot serves the discovery document peers start from.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	links := models.Links{
		link(models.RelSelf, s.href(r)),
		link("users", s.href(r, "users")),
		link("users/current", s.href(r, "users", "current")),
		link("projects", s.href(r, "projects")),
		link("sequencingRuns", s.href(r, "sequencingRuns")),
		link("referenceFiles", s.href(r, "referenceFiles")),
		link("workflows", s.href(r, "workflows")),
		link("analysisSubmissions", s.href(r, "analysisSubmissions")),
		link("remoteapis", s.href(r, "remoteapis")),
		link("search", s.href(r, "search")),
		link("taxonomy", s.href(r, "taxonomy")),
		link("oauth/token", s.href(r, "oauth", "token")),
	}
	s.writeResource(w, http.StatusOK, map[string]interface{}{"version": "1"}, links)
}

// handleToken implements the password and client_credentials grants.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, oauthError{Error: "invalid_request", Description: err.Error()})
		return
	}

	var principal *security.Principal
	switch grant := r.PostForm.Get("grant_type"); grant {
	case "password":
		u, err := s.svc.Users.Authenticate(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
		if err != nil {
			desc := "bad credentials"
			if errors.IsKind(err, errors.KindCredentialsExpired) {
				desc = "user credentials have expired"
			}
			s.writeJSON(w, http.StatusBadRequest, oauthError{Error: "invalid_grant", Description: desc})
			return
		}
		principal = security.PrincipalFor(u)

	case "client_credentials":
		id, secret, ok := r.BasicAuth()
		if !ok {
			id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
		}
		client, known := s.clients[id]
		if !known || subtle.ConstantTimeCompare([]byte(client.Secret), []byte(secret)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="seqlims"`)
			s.writeJSON(w, http.StatusUnauthorized, oauthError{Error: "invalid_client"})
			return
		}
		role := models.RoleUser
		if client.Role != "" {
			parsed, err := models.AsRole(client.Role)
			if err != nil {
				s.writeError(w, r, errors.E(errors.Op("api.handleToken"), errors.KindConfig, err))
				return
			}
			role = parsed
		}
		principal = &security.Principal{Username: "client:" + client.ID, Role: role, ClientID: client.ID}

	default:
		s.writeJSON(w, http.StatusBadRequest, oauthError{Error: "unsupported_grant_type", Description: grant})
		return
	}

	token, err := s.tokens.Issue(principal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	s.writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			status["status"] = "unavailable"
			status["database"] = err.Error()
			s.writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	s.writeJSON(w, http.StatusOK, status)
}
