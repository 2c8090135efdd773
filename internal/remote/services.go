package remote

import (
	"context"
	"strings"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

const (
	// SamplesCacheName prefixes cached sample lists.
	SamplesCacheName = "samplesForProject"
	// ProjectsCacheName prefixes cached project lists.
	ProjectsCacheName = "projectsForAPI"

	relProjects = "projects"
)

// root is the discovery document at a peer's service URI.
type root = models.Resource[struct{}]

// SampleRemoteService reads samples from peers.
type SampleRemoteService struct {
	repo *Repository[models.Sample]
}

// NewSampleRemoteService returns a sample service reading through client.
func NewSampleRemoteService(client *Client) *SampleRemoteService {
	return &SampleRemoteService{repo: NewRepository[models.Sample](client)}
}

// Read returns the sample at href.
func (s *SampleRemoteService) Read(ctx context.Context, href string, api *models.RemoteAPI) (*Sample, error) {
	return s.repo.Read(ctx, href, api)
}

// GetSamplesForProject follows the project's samples link.
func (s *SampleRemoteService) GetSamplesForProject(ctx context.Context, project *Project, api *models.RemoteAPI) ([]Sample, error) {
	const op errors.Op = "remote.SampleRemoteService.GetSamplesForProject"

	href, err := project.Links.HrefForRel(models.RelProjectSamples)
	if err != nil {
		return nil, errors.E(op, errors.KindNotFound, err)
	}
	samples, err := s.repo.cachedList(ctx, SamplesCacheName, href, api)
	return samples, errors.Wrap(op, err)
}

// SearchSamplesForProject returns page (zero based) of size samples whose
// names contain search, ignoring case. An empty search matches everything.
// TotalElements counts the matching samples.
func (s *SampleRemoteService) SearchSamplesForProject(ctx context.Context, project *Project, api *models.RemoteAPI,
	search string, page, size int) (*models.Page[Sample], error) {
	const op errors.Op = "remote.SampleRemoteService.SearchSamplesForProject"

	if size <= 0 {
		return nil, errors.E(op, errors.KindValidation, "page size must be positive")
	}
	samples, err := s.GetSamplesForProject(ctx, project, api)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if search != "" {
		needle := strings.ToLower(search)
		matched := make([]Sample, 0, len(samples))
		for _, sample := range samples {
			if strings.Contains(strings.ToLower(sample.Object.SampleName), needle) {
				matched = append(matched, sample)
			}
		}
		samples = matched
	}

	from := max(0, page*size)
	to := min(len(samples), (page+1)*size)
	content := []Sample{}
	if from < to {
		content = samples[from:to]
	}
	return &models.Page[Sample]{Content: content, Number: page, Size: size, TotalElements: len(samples)}, nil
}

// ProjectRemoteService reads projects from peers.
type ProjectRemoteService struct {
	client *Client
	repo   *Repository[models.Project]
}

// NewProjectRemoteService returns a project service reading through client.
func NewProjectRemoteService(client *Client) *ProjectRemoteService {
	return &ProjectRemoteService{client: client, repo: NewRepository[models.Project](client)}
}

// Read returns the project at href.
func (s *ProjectRemoteService) Read(ctx context.Context, href string, api *models.RemoteAPI) (*Project, error) {
	return s.repo.Read(ctx, href, api)
}

// List returns the projects of the list at href.
func (s *ProjectRemoteService) List(ctx context.Context, href string, api *models.RemoteAPI) ([]Project, error) {
	return s.repo.List(ctx, href, api)
}

// GetProjectsForAPI lists the projects the caller can read on the peer,
// found through the peer's discovery document.
func (s *ProjectRemoteService) GetProjectsForAPI(ctx context.Context, api *models.RemoteAPI) ([]Project, error) {
	const op errors.Op = "remote.ProjectRemoteService.GetProjectsForAPI"

	var doc models.ResourceEnvelope[root]
	if err := s.client.GetJSON(ctx, api, "", &doc); err != nil {
		return nil, errors.Wrap(op, err)
	}
	href, err := doc.Resource.Links.HrefForRel(relProjects)
	if err != nil {
		return nil, errors.E(op, errors.KindParse, err, api.Name+" does not advertise its projects")
	}
	projects, err := s.repo.cachedList(ctx, ProjectsCacheName, href, api)
	return projects, errors.Wrap(op, err)
}

// APIService checks the peers themselves.
type APIService struct {
	client *Client
}

// NewAPIService returns a peer checker using client.
func NewAPIService(client *Client) *APIService {
	return &APIService{client: client}
}

// Test obtains a token for the peer and reads its discovery document.
func (s *APIService) Test(ctx context.Context, api *models.RemoteAPI) error {
	const op errors.Op = "remote.APIService.Test"

	var doc models.ResourceEnvelope[root]
	if err := s.client.GetJSON(ctx, api, "", &doc); err != nil {
		return errors.Wrap(op, err)
	}
	if _, err := doc.Resource.Links.HrefForRel(models.RelSelf); err != nil {
		return errors.E(op, errors.KindParse, err, api.Name+" returned an unexpected root document")
	}
	return nil
}

// Flush drops every cached peer listing.
func (s *APIService) Flush() {
	s.client.Flush()
}
