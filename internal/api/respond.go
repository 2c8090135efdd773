package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch errors.GetKind(err) {
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindExists, errors.KindIllegalState:
		return http.StatusConflict
	case errors.KindValidation, errors.KindInvalidProperty, errors.KindParse:
		return http.StatusBadRequest
	case errors.KindUnauthorized, errors.KindCredentialsExpired:
		return http.StatusUnauthorized
	case errors.KindForbidden:
		return http.StatusForbidden
	case errors.KindWorkflow, errors.KindWorkflowChecksum, errors.KindExecutionManager, errors.KindNetwork:
		return http.StatusBadGateway
	case errors.KindConfig, errors.KindSearch:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", zap.String("method", r.Method), zap.String("uri", r.RequestURI), zap.Error(err))
	}
	resp := ErrorResponse{Error: err.Error()}
	if kind := errors.GetKind(err); kind != errors.KindUnknown {
		resp.Kind = kind.String()
	}
	s.writeJSON(w, status, resp)
}

// writeResource wraps v and its links in the resource envelope.
func (s *Server) writeResource(w http.ResponseWriter, status int, v interface{}, links models.Links) {
	s.writeJSON(w, status, models.ResourceEnvelope[models.Resource[interface{}]]{
		Resource: models.Resource[interface{}]{Object: v, Links: links},
	})
}

// writeList wraps items in a resource list envelope.
func (s *Server) writeList(w http.ResponseWriter, items []models.Resource[interface{}], links models.Links) {
	if items == nil {
		items = []models.Resource[interface{}]{}
	}
	s.writeJSON(w, http.StatusOK, models.ResourceEnvelope[models.ResourceList[interface{}]]{
		Resource: models.ResourceList[interface{}]{Resources: items, TotalResources: len(items), Links: links},
	})
}

// baseURL is the externally visible root of the server.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

// href builds an absolute API URL from path segments.
func (s *Server) href(r *http.Request, parts ...interface{}) string {
	var b strings.Builder
	b.WriteString(s.baseURL(r))
	b.WriteString("/api")
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(fmt.Sprint(p))
	}
	return b.String()
}

func link(rel, href string) models.Link { return models.Link{Rel: rel, Href: href} }

// self links to the requested URL.
func (s *Server) self(r *http.Request) models.Link {
	return link(models.RelSelf, s.baseURL(r)+strings.TrimRight(r.URL.Path, "/"))
}

// pathID reads a numeric route variable.
func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.E(errors.Op("api.pathID"), errors.KindValidation, fmt.Sprintf("invalid %s %q", name, raw))
	}
	return id, nil
}

// decodeJSON reads a JSON body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	const op errors.Op = "api.decodeJSON"
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return errors.E(op, errors.KindParse, err, "invalid request body")
	}
	return nil
}

// decodeFields reads a partial update. Numbers stay json.Number; the
// services convert them.
func decodeFields(r *http.Request) (map[string]interface{}, error) {
	const op errors.Op = "api.decodeFields"
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.UseNumber()
	fields := map[string]interface{}{}
	if err := dec.Decode(&fields); err != nil {
		return nil, errors.E(op, errors.KindParse, err, "invalid request body")
	}
	if len(fields) == 0 {
		return nil, errors.E(op, errors.KindValidation, "no fields to update")
	}
	return fields, nil
}

// queryInt reads an integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.E(errors.Op("api.queryInt"), errors.KindValidation, fmt.Sprintf("invalid %s %q", name, raw))
	}
	return v, nil
}
