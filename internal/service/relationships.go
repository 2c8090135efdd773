package service

import (
	"context"
	"fmt"

	"github.com/nishad/seqlims/internal/database"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
)

// Entity types that can take part in relationships.
const (
	EntityUser               = database.EntityUser
	EntityProject            = database.EntityProject
	EntitySample             = database.EntitySample
	EntitySequenceFile       = database.EntitySequenceFile
	EntitySequencingObject   = "sequencing_object"
	EntityReferenceFile      = database.EntityReferenceFile
	EntityAnalysisSubmission = database.EntityAnalysisSubmission
	EntityAnalysis           = "analysis"
)

// LinkType names the predicate relating a subject type to an object type
// and the predicate read in the other direction.
type LinkType struct {
	SubjectType string
	ObjectType  string
	Predicate   string
	Inverse     string
}

// DefaultLinks is the registry of relationships the platform records.
func DefaultLinks() []LinkType {
	return []LinkType{
		{EntityProject, EntitySample, "hasSample", "sampleOf"},
		{EntityProject, EntityUser, "hasMember", "memberOf"},
		{EntityProject, EntityReferenceFile, "hasReferenceFile", "referenceFileOf"},
		{EntitySample, EntitySequencingObject, "hasSequencingObject", "sequencingObjectOf"},
		{EntitySample, EntitySequenceFile, "hasSequenceFile", "sequenceFileOf"},
		{EntityAnalysisSubmission, EntityAnalysis, "hasAnalysis", "analysisOf"},
	}
}

// EntityRef identifies one end of a relationship.
type EntityRef struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

func (r *EntityRef) String() string {
	return fmt.Sprintf("%s[%d]", r.Type, r.ID)
}

// RelationshipService records typed links between entities.
type RelationshipService struct {
	*base
	links   map[[2]string]LinkType
	inverse map[string]string
	exists  map[string]func(ctx context.Context, id int64) (bool, error)
}

// NewRelationshipService returns a service recording the given link types.
func NewRelationshipService(b *base, links []LinkType) *RelationshipService {
	s := &RelationshipService{
		base:    b,
		links:   make(map[[2]string]LinkType, len(links)),
		inverse: make(map[string]string, 2*len(links)),
	}
	for _, l := range links {
		s.links[[2]string{l.SubjectType, l.ObjectType}] = l
		s.inverse[l.Predicate] = l.Inverse
		s.inverse[l.Inverse] = l.Predicate
	}

	db := b.db
	found := func(err error) (bool, error) {
		if errors.IsKind(err, errors.KindNotFound) {
			return false, nil
		}
		return err == nil, err
	}
	s.exists = map[string]func(ctx context.Context, id int64) (bool, error){
		EntityUser:               db.UserExists,
		EntityProject:            db.ProjectExists,
		EntitySample:             db.SampleExists,
		EntityAnalysisSubmission: db.AnalysisSubmissionExists,
		EntitySequenceFile: func(ctx context.Context, id int64) (bool, error) {
			_, err := db.GetSequenceFile(ctx, id)
			return found(err)
		},
		EntitySequencingObject: func(ctx context.Context, id int64) (bool, error) {
			_, err := db.GetSequencingObject(ctx, id)
			return found(err)
		},
		EntityReferenceFile: func(ctx context.Context, id int64) (bool, error) {
			_, err := db.GetReferenceFile(ctx, id)
			return found(err)
		},
		EntityAnalysis: func(ctx context.Context, id int64) (bool, error) {
			_, err := db.GetAnalysis(ctx, id)
			return found(err)
		},
	}
	return s
}

// Predicate returns the registered predicate from subjectType to objectType.
func (s *RelationshipService) Predicate(subjectType, objectType string) (string, bool) {
	l, ok := s.links[[2]string{subjectType, objectType}]
	return l.Predicate, ok
}

// Create links a subject to an object using the registered predicate for
// their types. Both entities must exist.
func (s *RelationshipService) Create(ctx context.Context, subjectType string, subjectID int64, objectType string, objectID int64) (*models.Relationship, error) {
	const op errors.Op = "service.RelationshipService.Create"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	predicate, ok := s.Predicate(subjectType, objectType)
	if !ok {
		return nil, errors.E(op, errors.KindInvalidProperty,
			fmt.Sprintf("no relationship is defined from %s to %s", subjectType, objectType))
	}
	for _, end := range []EntityRef{{subjectType, subjectID}, {objectType, objectID}} {
		if err := s.requireExists(ctx, op, end); err != nil {
			return nil, err
		}
	}
	r, err := s.db.CreateRelationship(ctx, &models.Relationship{
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Predicate:   predicate,
		ObjectType:  objectType,
		ObjectID:    objectID,
	})
	return r, errors.Wrap(op, err)
}

// Read returns a relationship by id.
func (s *RelationshipService) Read(ctx context.Context, id int64) (*models.Relationship, error) {
	const op errors.Op = "service.RelationshipService.Read"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	r, err := s.db.GetRelationship(ctx, id)
	return r, errors.Wrap(op, err)
}

// ListObjects returns the ids of the objectType entities linked from a subject.
func (s *RelationshipService) ListObjects(ctx context.Context, subjectType string, subjectID int64, objectType string) ([]int64, error) {
	links, err := s.ListLinks(ctx, subjectID, subjectType, objectType)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(links))
	for _, r := range links {
		ids = append(ids, r.ObjectID)
	}
	return ids, nil
}

// ListSubjects returns the ids of the subjectType entities linking to an object.
func (s *RelationshipService) ListSubjects(ctx context.Context, objectType string, objectID int64, subjectType string) ([]int64, error) {
	const op errors.Op = "service.RelationshipService.ListSubjects"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	rels, err := s.db.RelationshipsForObject(ctx, objectType, objectID)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	ids := make([]int64, 0, len(rels))
	for _, r := range rels {
		if subjectType == "" || r.SubjectType == subjectType {
			ids = append(ids, r.SubjectID)
		}
	}
	return ids, nil
}

// ListLinks returns the relationships from a subject to entities of
// objectType; an empty objectType returns every outgoing relationship.
func (s *RelationshipService) ListLinks(ctx context.Context, subjectID int64, subjectType, objectType string) ([]*models.Relationship, error) {
	const op errors.Op = "service.RelationshipService.ListLinks"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	rels, err := s.db.RelationshipsForSubject(ctx, subjectType, subjectID)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	var out []*models.Relationship
	for _, r := range rels {
		if objectType == "" || r.ObjectType == objectType {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetLinks returns the relationships matching every non-empty part of
// (subject, predicate, object). A relationship stored in the other
// direction matches when its inverse predicate does. At least one part must
// be given.
func (s *RelationshipService) GetLinks(ctx context.Context, subject *EntityRef, predicate string, object *EntityRef) ([]*models.Relationship, error) {
	const op errors.Op = "service.RelationshipService.GetLinks"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	if subject == nil && object == nil && predicate == "" {
		return nil, errors.E(op, errors.KindValidation, "a subject, predicate or object is required")
	}

	var (
		candidates []*models.Relationship
		err        error
	)
	switch {
	case subject != nil:
		candidates, err = s.touching(ctx, *subject)
	case object != nil:
		candidates, err = s.touching(ctx, *object)
	default:
		predicates := []string{predicate}
		if inv, ok := s.inverse[predicate]; ok {
			predicates = append(predicates, inv)
		}
		candidates, err = s.db.RelationshipsByPredicate(ctx, predicates...)
	}
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	var out []*models.Relationship
	for _, r := range candidates {
		if s.matches(r, subject, predicate, object) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Delete removes a relationship.
func (s *RelationshipService) Delete(ctx context.Context, id int64) error {
	const op errors.Op = "service.RelationshipService.Delete"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleAdmin, models.RoleManager); err != nil {
		return err
	}
	return errors.Wrap(op, s.db.DeleteRelationship(ctx, id))
}

// touching returns the relationships with ref at either end, each once.
func (s *RelationshipService) touching(ctx context.Context, ref EntityRef) ([]*models.Relationship, error) {
	out, err := s.db.RelationshipsForSubject(ctx, ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	incoming, err := s.db.RelationshipsForObject(ctx, ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(out))
	for _, r := range out {
		seen[r.ID] = true
	}
	for _, r := range incoming {
		if !seen[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RelationshipService) matches(r *models.Relationship, subject *EntityRef, predicate string, object *EntityRef) bool {
	is := func(ref *EntityRef, typ string, id int64) bool {
		return ref == nil || (ref.Type == typ && ref.ID == id)
	}
	if is(subject, r.SubjectType, r.SubjectID) && (predicate == "" || r.Predicate == predicate) && is(object, r.ObjectType, r.ObjectID) {
		return true
	}
	inv, ok := s.inverse[r.Predicate]
	if !ok {
		return false
	}
	return is(subject, r.ObjectType, r.ObjectID) && (predicate == "" || inv == predicate) && is(object, r.SubjectType, r.SubjectID)
}

func (s *RelationshipService) requireExists(ctx context.Context, op errors.Op, ref EntityRef) error {
	check, ok := s.exists[ref.Type]
	if !ok {
		return errors.E(op, errors.KindInvalidProperty, fmt.Sprintf("unknown entity type %q", ref.Type))
	}
	found, err := check(ctx, ref.ID)
	if err != nil {
		return errors.Wrap(op, err)
	}
	if !found {
		return errors.NotFound(op, ref.Type, ref.ID)
	}
	return nil
}
