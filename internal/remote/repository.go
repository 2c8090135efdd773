package remote

import (
	"context"
	"fmt"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

// Project is a project read from a peer, with the peer's links.
type Project = models.Resource[models.Project]

// Sample is a sample read from a peer, with the peer's links.
type Sample = models.Resource[models.Sample]

// Repository reads resources of one type from peers.
type Repository[T any] struct {
	client *Client
}

// NewRepository returns a repository reading through client.
func NewRepository[T any](client *Client) *Repository[T] {
	return &Repository[T]{client: client}
}

// Read returns the single resource at href.
func (r *Repository[T]) Read(ctx context.Context, href string, api *models.RemoteAPI) (*models.Resource[T], error) {
	const op errors.Op = "remote.Repository.Read"

	var env models.ResourceEnvelope[models.Resource[T]]
	if err := r.client.GetJSON(ctx, api, href, &env); err != nil {
		return nil, errors.Wrap(op, err)
	}
	return &env.Resource, nil
}

// List returns every resource of the list at href.
func (r *Repository[T]) List(ctx context.Context, href string, api *models.RemoteAPI) ([]models.Resource[T], error) {
	const op errors.Op = "remote.Repository.List"

	var env models.ResourceEnvelope[models.ResourceList[T]]
	if err := r.client.GetJSON(ctx, api, href, &env); err != nil {
		return nil, errors.Wrap(op, err)
	}
	return env.Resource.Resources, nil
}

// cachedList is List behind the client's response cache.
func (r *Repository[T]) cachedList(ctx context.Context, cacheName, href string, api *models.RemoteAPI) ([]models.Resource[T], error) {
	key := fmt.Sprintf("%s:%d:%d:%s", cacheName, api.ID, userID(ctx), href)
	v, err := r.client.cached(key, func() (interface{}, error) {
		return r.List(ctx, href, api)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Resource[T]), nil
}
