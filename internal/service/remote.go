package service

import (
	"context"
	"net/url"
	"strings"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
)

// RemoteAPIService manages the registered peer instances.
type RemoteAPIService struct {
	*base
}

// Create registers a peer.
func (s *RemoteAPIService) Create(ctx context.Context, api *models.RemoteAPI) (*models.RemoteAPI, error) {
	const op errors.Op = "service.RemoteAPIService.Create"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleAdmin); err != nil {
		return nil, err
	}
	if strings.TrimSpace(api.Name) == "" {
		return nil, errors.E(op, errors.KindInvalidProperty, "remote api name is required")
	}
	uri, err := normalizeServiceURI(api.ServiceURI)
	if err != nil {
		return nil, errors.E(op, errors.KindInvalidProperty, err, "service_uri must be an absolute http(s) URL")
	}
	api.ServiceURI = uri
	if api.ClientID == "" || api.ClientSecret == "" {
		return nil, errors.E(op, errors.KindInvalidProperty, "client_id and client_secret are required")
	}
	created, err := s.db.CreateRemoteAPI(ctx, api)
	return created, errors.Wrap(op, err)
}

// Read returns a peer.
func (s *RemoteAPIService) Read(ctx context.Context, id int64) (*models.RemoteAPI, error) {
	const op errors.Op = "service.RemoteAPIService.Read"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	api, err := s.db.GetRemoteAPI(ctx, id)
	return api, errors.Wrap(op, err)
}

// ReadByURI returns the peer whose service URI is uri.
func (s *RemoteAPIService) ReadByURI(ctx context.Context, uri string) (*models.RemoteAPI, error) {
	const op errors.Op = "service.RemoteAPIService.ReadByURI"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	normalized, err := normalizeServiceURI(uri)
	if err != nil {
		return nil, errors.E(op, errors.KindInvalidProperty, err)
	}
	api, err := s.db.GetRemoteAPIByURI(ctx, normalized)
	return api, errors.Wrap(op, err)
}

// List returns every peer.
func (s *RemoteAPIService) List(ctx context.Context) ([]*models.RemoteAPI, error) {
	const op errors.Op = "service.RemoteAPIService.List"

	if _, err := security.RequirePrincipal(ctx, op); err != nil {
		return nil, err
	}
	apis, err := s.db.ListRemoteAPIs(ctx)
	return apis, errors.Wrap(op, err)
}

// Update applies a partial update to a peer.
func (s *RemoteAPIService) Update(ctx context.Context, id int64, fields map[string]interface{}) (*models.RemoteAPI, error) {
	const op errors.Op = "service.RemoteAPIService.Update"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleAdmin); err != nil {
		return nil, err
	}
	if raw, ok, err := stringField(op, fields, "service_uri"); err != nil {
		return nil, err
	} else if ok {
		uri, err := normalizeServiceURI(raw)
		if err != nil {
			return nil, errors.E(op, errors.KindInvalidProperty, err, "service_uri must be an absolute http(s) URL")
		}
		fields["service_uri"] = uri
	}
	if err := s.db.UpdateFields(ctx, "remote_apis", id, fields); err != nil {
		return nil, errors.Wrap(op, err)
	}
	api, err := s.db.GetRemoteAPI(ctx, id)
	return api, errors.Wrap(op, err)
}

// Delete unregisters a peer and drops its stored tokens.
func (s *RemoteAPIService) Delete(ctx context.Context, id int64) error {
	const op errors.Op = "service.RemoteAPIService.Delete"

	if _, err := security.RequireAnyRole(ctx, op, models.RoleAdmin); err != nil {
		return err
	}
	return errors.Wrap(op, s.db.DeleteRemoteAPI(ctx, id))
}

// normalizeServiceURI checks uri is an absolute http(s) URL and gives it a
// trailing slash so that relative links resolve beneath it.
func normalizeServiceURI(uri string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.New("not an absolute http(s) URL: " + uri)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}
