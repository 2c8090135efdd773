// Package service implements the platform operations on top of the
// database. Every method checks the principal carried by the context before
// delegating to the store.
package service

import (
	"context"
	"encoding/json"
	"math"

	"go.uber.org/zap"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/database"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/search"
	"github.com/nishad/seqlims/internal/security"
	"github.com/nishad/seqlims/internal/storage"
)

// Indexer keeps a search index in step with projects and samples.
type Indexer interface {
	IndexProject(p *models.Project) error
	IndexSample(s *models.Sample) error
	DeleteProject(id int64) error
	DeleteSample(id int64) error
}

// ProcessingQueue accepts sequencing objects whose files need processing.
type ProcessingQueue interface {
	Submit(ctx context.Context, objectID int64) error
}

// UserNotifier is told about newly created accounts.
type UserNotifier interface {
	NotifyUserCreated(ctx context.Context, u *models.User) error
}

// Options configures the services. Zero values disable the optional hooks.
type Options struct {
	BcryptCost         int
	PasswordExpiryDays int
	Workflows          []config.WorkflowConfig
	Files              *storage.Files
	Search             *search.Manager
	Taxonomy           *search.TaxonomyService
	Indexer            Indexer
	Processing         ProcessingQueue
	Notifier           UserNotifier
	Logger             *zap.Logger
}

// Services bundles every guarded service.
type Services struct {
	Users             *UserService
	Projects          *ProjectService
	Samples           *SampleService
	SequenceFiles     *SequenceFileService
	SequencingObjects *SequencingObjectService
	SequencingRuns    *SequencingRunService
	ReferenceFiles    *ReferenceFileService
	Submissions       *AnalysisSubmissionService
	Analyses          *AnalysisService
	RemoteAPIs        *RemoteAPIService
	Relationships     *RelationshipService
	Search            *SearchService
	Export            *ExportService
	Permissions       *security.Permissions
}

// New wires the services over db.
func New(db *database.DB, opts Options) *Services {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Indexer == nil && opts.Search != nil {
		opts.Indexer = opts.Search
	}
	if opts.Indexer == nil {
		opts.Indexer = nopIndexer{}
	}
	perms := security.NewPermissions(db)
	b := &base{db: db, perms: perms, logger: opts.Logger, indexer: opts.Indexer}

	files := &SequenceFileService{base: b, files: opts.Files, queue: opts.Processing}
	links := NewRelationshipService(b, DefaultLinks())
	return &Services{
		Users: &UserService{
			base:     b,
			cost:     opts.BcryptCost,
			expiry:   security.NewPasswordExpiryChecker(db, opts.PasswordExpiryDays),
			notifier: opts.Notifier,
		},
		Projects:          &ProjectService{base: b},
		Samples:           &SampleService{base: b},
		SequenceFiles:     files,
		SequencingObjects: &SequencingObjectService{base: b, files: files},
		SequencingRuns:    &SequencingRunService{base: b},
		ReferenceFiles:    &ReferenceFileService{base: b, files: opts.Files},
		Submissions:       &AnalysisSubmissionService{base: b, workflows: catalogOf(opts.Workflows)},
		Analyses:          &AnalysisService{base: b, files: opts.Files, links: links},
		RemoteAPIs:        &RemoteAPIService{base: b},
		Relationships:     links,
		Search:            &SearchService{base: b, manager: opts.Search, taxonomy: opts.Taxonomy},
		Export:            &ExportService{base: b},
		Permissions:       perms,
	}
}

// base holds what every service shares.
type base struct {
	db      *database.DB
	perms   *security.Permissions
	logger  *zap.Logger
	indexer Indexer
}

// allow fails with Forbidden unless allowed is true.
func allow(op errors.Op, p *security.Principal, allowed bool, err error) error {
	if err != nil {
		return errors.Wrap(op, err)
	}
	if !allowed {
		return errors.Forbidden(op, p.String()+" may not access this resource")
	}
	return nil
}

type nopIndexer struct{}

func (nopIndexer) IndexProject(*models.Project) error { return nil }
func (nopIndexer) IndexSample(*models.Sample) error { return nil }
func (nopIndexer) DeleteProject(int64) error { return nil }
func (nopIndexer) DeleteSample(int64) error { return nil }

// normalizeFields converts JSON-decoded values into column values: whole
// numbers become int64 and json.Number is resolved.
func normalizeFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case float64:
			if val == math.Trunc(val) {
				out[k] = int64(val)
				continue
			}
		case json.Number:
			if n, err := val.Int64(); err == nil {
				out[k] = n
				continue
			}
			if f, err := val.Float64(); err == nil {
				out[k] = f
				continue
			}
		}
		out[k] = v
	}
	return out
}

// stringField returns fields[key] as a string.
func stringField(op errors.Op, fields map[string]interface{}, key string) (string, bool, error) {
	v, ok := fields[key]
	if !ok {
		return "", false, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", true, errors.E(op, errors.KindInvalidProperty, "property "+key+" must be a string")
	}
	return s, true, nil
}
