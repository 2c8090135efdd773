// Package remote reads projects and samples from peer instances of the
// platform. Each peer is a models.RemoteAPI; requests carry an OAuth2
// token obtained with the peer's client credentials and kept per user.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/logging"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
)

// TokenPath is where a peer issues tokens, relative to its service URI.
const TokenPath = "oauth/token"

// defaultTokenLifetime applies when a peer's token response has no expiry.
const defaultTokenLifetime = time.Hour

var remoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "seqlims_remote_requests_total",
	Help: "Requests made to peer instances, by outcome.",
}, []string{"outcome"})

// TokenStore persists the tokens users hold for peers. *database.DB
// satisfies it.
type TokenStore interface {
	SaveRemoteAPIToken(ctx context.Context, t *models.RemoteAPIToken) (*models.RemoteAPIToken, error)
	GetRemoteAPIToken(ctx context.Context, apiID, userID int64, at time.Time) (*models.RemoteAPIToken, error)
	DeleteRemoteAPIToken(ctx context.Context, apiID, userID int64) error
}

// Client performs authenticated GETs against peers.
type Client struct {
	tokens     TokenStore
	httpClient *http.Client
	cache      *gocache.Cache
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for tokens and resources.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client storing tokens in tokens. Responses are cached
// for cfg.CacheTTL seconds; zero disables caching.
func NewClient(tokens TokenStore, cfg config.RemoteConfig, opts ...Option) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	if cfg.CacheTTL > 0 {
		ttl := time.Duration(cfg.CacheTTL) * time.Second
		c.cache = gocache.New(ttl, 2*ttl)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)
	return c
}

// userID is the token owner for the caller. The system principal uses 0.
func userID(ctx context.Context) int64 {
	if p, ok := security.PrincipalFrom(ctx); ok {
		return p.UserID
	}
	return 0
}

// Token returns a usable token for the caller, fetching a new one from the
// peer when none is stored or the stored one has expired.
func (c *Client) Token(ctx context.Context, api *models.RemoteAPI) (*models.RemoteAPIToken, error) {
	const op errors.Op = "remote.Client.Token"

	uid := userID(ctx)
	t, err := c.tokens.GetRemoteAPIToken(ctx, api.ID, uid, c.now())
	switch {
	case err == nil:
		return t, nil
	case errors.IsKind(err, errors.KindNotFound), errors.IsKind(err, errors.KindCredentialsExpired):
	default:
		return nil, errors.Wrap(op, err)
	}

	tokenURL, err := resolve(api.ServiceURI, TokenPath)
	if err != nil {
		return nil, errors.E(op, errors.KindConfig, err)
	}
	cc := clientcredentials.Config{
		ClientID:     api.ClientID,
		ClientSecret: api.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		remoteRequests.WithLabelValues("token_error").Inc()
		return nil, errors.E(op, errors.KindUnauthorized, err, "obtaining token from "+api.Name)
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = c.now().Add(defaultTokenLifetime)
	}
	saved, err := c.tokens.SaveRemoteAPIToken(ctx, &models.RemoteAPIToken{
		RemoteAPIID: api.ID,
		UserID:      uid,
		Token:       tok.AccessToken,
		ExpiryDate:  expiry,
	})
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	c.logger.Debug("obtained remote api token", zap.String("api", api.Name), zap.Int64("user_id", uid),
		zap.Time("expiry", expiry))
	return saved, nil
}

// GetJSON decodes the document at href into out. href may be relative to
// the peer's service URI. A token the peer rejects is discarded and the
// request is retried once with a fresh one.
func (c *Client) GetJSON(ctx context.Context, api *models.RemoteAPI, href string, out interface{}) error {
	const op errors.Op = "remote.Client.GetJSON"

	target, err := resolve(api.ServiceURI, href)
	if err != nil {
		return errors.E(op, errors.KindValidation, err)
	}
	for attempt := 0; ; attempt++ {
		status, err := c.get(ctx, api, target, out)
		if status == http.StatusUnauthorized && attempt == 0 {
			errors.IgnoreError(c.tokens.DeleteRemoteAPIToken(ctx, api.ID, userID(ctx)), "drop rejected remote token")
			continue
		}
		return errors.Wrap(op, err)
	}
}

func (c *Client) get(ctx context.Context, api *models.RemoteAPI, target string, out interface{}) (int, error) {
	const op errors.Op = "remote.Client.get"

	tok, err := c.Token(ctx, api)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, errors.E(op, errors.KindValidation, err)
	}
	req.Header.Set("Accept", "application/json")
	(&oauth2.Token{AccessToken: tok.Token, TokenType: "Bearer"}).SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		remoteRequests.WithLabelValues("network_error").Inc()
		return 0, errors.E(op, errors.KindNetwork, err, "GET "+target)
	}
	defer resp.Body.Close()
	remoteRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug("remote request", zap.String("api", api.Name), zap.String("url", target), zap.Int("status", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, errors.E(op, errors.KindCredentialsExpired, fmt.Sprintf("%s rejected the token", api.Name))
	case resp.StatusCode == http.StatusForbidden:
		return resp.StatusCode, errors.Forbidden(op, fmt.Sprintf("%s denied access to %s", api.Name, target))
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, errors.NotFound(op, "remote resource", target)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, errors.E(op, errors.KindNetwork, fmt.Sprintf("GET %s: %s: %s", target, resp.Status, body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, errors.E(op, errors.KindParse, err, "decoding "+target)
	}
	return resp.StatusCode, nil
}

// cached returns the value stored under key, or calls load and stores its
// result.
func (c *Client) cached(key string, load func() (interface{}, error)) (interface{}, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.SetDefault(key, v)
	}
	return v, nil
}

// Flush drops every cached response.
func (c *Client) Flush() {
	if c.cache != nil {
		c.cache.Flush()
	}
}

func resolve(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if !b.IsAbs() {
		return "", fmt.Errorf("service uri %q is not absolute", base)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}
