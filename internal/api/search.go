package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/service"
)

const maxSearchLimit = 1000

type createRelationshipRequest struct {
	SubjectType string `json:"subject_type"`
	SubjectID   int64  `json:"subject_id"`
	ObjectType  string `json:"object_type"`
	ObjectID    int64  `json:"object_id"`
}

func (s *Server) relationshipResource(r *http.Request, rel *models.Relationship) models.Resource[interface{}] {
	return models.Resource[interface{}]{Object: rel, Links: models.Links{
		link(models.RelSelf, s.href(r, "relationships", rel.ID)),
	}}
}

func (s *Server) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req createRelationshipRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rel, err := s.svc.Relationships.Create(r.Context(), req.SubjectType, req.SubjectID, req.ObjectType, req.ObjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res := s.relationshipResource(r, rel)
	w.Header().Set("Location", s.href(r, "relationships", rel.ID))
	s.writeResource(w, http.StatusCreated, res.Object, res.Links)
}

// entityRef reads a type/id pair of query parameters. Both or neither must
// be present.
func entityRef(r *http.Request, prefix string) (*service.EntityRef, error) {
	const op errors.Op = "api.entityRef"

	q := r.URL.Query()
	typ, rawID := q.Get(prefix+"_type"), q.Get(prefix+"_id")
	if typ == "" && rawID == "" {
		return nil, nil
	}
	if typ == "" || rawID == "" {
		return nil, errors.E(op, errors.KindValidation, prefix+"_type and "+prefix+"_id must be given together")
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, errors.E(op, errors.KindValidation, "invalid "+prefix+"_id "+strconv.Quote(rawID))
	}
	return &service.EntityRef{Type: typ, ID: id}, nil
}

// handleQueryRelationships finds relationships by subject, predicate and
// object query parameters.
func (s *Server) handleQueryRelationships(w http.ResponseWriter, r *http.Request) {
	subject, err := entityRef(r, "subject")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	object, err := entityRef(r, "object")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rels, err := s.svc.Relationships.GetLinks(r.Context(), subject, r.URL.Query().Get("predicate"), object)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]models.Resource[interface{}], 0, len(rels))
	for _, rel := range rels {
		items = append(items, s.relationshipResource(r, rel))
	}
	s.writeList(w, items, models.Links{s.self(r)})
}

func (s *Server) handleGetRelationship(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rel, err := s.svc.Relationships.Read(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res := s.relationshipResource(r, rel)
	s.writeResource(w, http.StatusOK, res.Object, res.Links)
}

func (s *Server) handleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Relationships.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch searches projects and samples. GET reads the query string;
// POST takes a JSON SearchRequest.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req service.SearchRequest

	if r.Method == http.MethodPost {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else {
		q := r.URL.Query()
		req.Query = q.Get("q")
		if req.Query == "" {
			req.Query = q.Get("query")
		}

		var err error
		if req.Limit, err = queryInt(r, "limit", 20); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Offset, err = queryInt(r, "offset", 0); err != nil {
			s.writeError(w, r, err)
			return
		}
		if types := q.Get("types"); types != "" {
			req.Types = strings.Split(types, ",")
		}
		req.Fuzzy, _ = strconv.ParseBool(q.Get("fuzzy"))
		req.Highlight, _ = strconv.ParseBool(q.Get("highlight"))

		// Filters
		for _, field := range []string{"organism", "strain", "collected_by", "geographic_location_name", "isolation_source"} {
			if v := q.Get(field); v != "" {
				if req.Filters == nil {
					req.Filters = make(map[string]string)
				}
				req.Filters[field] = v
			}
		}
	}
	if req.Limit > maxSearchLimit {
		req.Limit = maxSearchLimit
	}

	response, err := s.svc.Search.Search(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleTaxonomy looks up organism names for autocompletion.
func (s *Server) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	taxa, err := s.svc.Search.Taxonomy(r.Context(), r.URL.Query().Get("searchTerm"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, taxa)
}

// handleRebuildIndex reindexes every project and sample.
func (s *Server) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.Search.Rebuild(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Search.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
