package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
	"github.com/nishad/seqlims/internal/testutil"
)

// peer is a fake platform instance.
type peer struct {
	server *httptest.Server

	mu       sync.Mutex
	issued   int
	valid    map[string]bool
	requests int
	samples  []string
}

func newPeer(t *testing.T, samples ...string) *peer {
	t.Helper()
	p := &peer{valid: make(map[string]bool), samples: samples}

	r := mux.NewRouter()
	r.HandleFunc("/api/oauth/token", p.token).Methods(http.MethodPost)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(p.auth)
	api.HandleFunc("/", p.root).Methods(http.MethodGet)
	api.HandleFunc("/projects", p.projects).Methods(http.MethodGet)
	api.HandleFunc("/projects/1", p.project).Methods(http.MethodGet)
	api.HandleFunc("/projects/1/samples", p.projectSamples).Methods(http.MethodGet)

	p.server = httptest.NewServer(r)
	t.Cleanup(p.server.Close)
	return p
}

func (p *peer) api() *models.RemoteAPI {
	return &models.RemoteAPI{ID: 7, Name: "peer", ServiceURI: p.server.URL + "/api/", ClientID: "client", ClientSecret: "secret"}
}

func (p *peer) href(path string) string { return p.server.URL + "/api" + path }

func (p *peer) revokeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.valid = make(map[string]bool)
}

func (p *peer) counts() (issued, requests int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issued, p.requests
}

func (p *peer) token(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	if r.FormValue("grant_type") != "client_credentials" || r.FormValue("client_id") != "client" || r.FormValue("client_secret") != "secret" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client"}`)
		return
	}
	p.mu.Lock()
	p.issued++
	tok := fmt.Sprintf("tok-%d", p.issued)
	p.valid[tok] = true
	p.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"access_token": tok, "token_type": "bearer", "expires_in": 3600})
}

func (p *peer) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		p.mu.Lock()
		ok := p.valid[tok]
		p.requests++
		p.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"resource": v})
}

func (p *peer) root(w http.ResponseWriter, r *http.Request) {
	reply(w, map[string]interface{}{"links": models.Links{
		{Rel: models.RelSelf, Href: p.href("/")},
		{Rel: "projects", Href: p.href("/projects")},
	}})
}

func (p *peer) projectDoc() map[string]interface{} {
	return map[string]interface{}{
		"id": 1, "name": "Outbreak 2024",
		"links": models.Links{
			{Rel: models.RelSelf, Href: p.href("/projects/1")},
			{Rel: models.RelProjectSamples, Href: p.href("/projects/1/samples")},
		},
	}
}

func (p *peer) projects(w http.ResponseWriter, r *http.Request) {
	reply(w, map[string]interface{}{"resources": []interface{}{p.projectDoc()}, "totalResources": 1})
}

func (p *peer) project(w http.ResponseWriter, r *http.Request) {
	reply(w, p.projectDoc())
}

func (p *peer) projectSamples(w http.ResponseWriter, r *http.Request) {
	var docs []interface{}
	for i, name := range p.samples {
		docs = append(docs, map[string]interface{}{
			"id": i + 1, "sample_name": name,
			"links": models.Links{{Rel: models.RelSelf, Href: p.href(fmt.Sprintf("/samples/%d", i+1))}},
		})
	}
	reply(w, map[string]interface{}{"resources": docs, "totalResources": len(docs)})
}

func userCtx(id int64) context.Context {
	return security.WithPrincipal(context.Background(), &security.Principal{UserID: id, Username: fmt.Sprintf("u%d", id), Role: models.RoleUser})
}

func TestTokenIsObtainedOncePerUser(t *testing.T) {
	p := newPeer(t)
	tokens := testutil.NewMockTokenStore()
	c := NewClient(tokens, config.RemoteConfig{})
	api := p.api()

	testutil.RequireNoError(t, NewAPIService(c).Test(userCtx(1), api), "first test")
	testutil.RequireNoError(t, NewAPIService(c).Test(userCtx(1), api), "second test")
	issued, _ := p.counts()
	testutil.AssertEqual(t, issued, 1, "tokens issued to one user")

	testutil.RequireNoError(t, NewAPIService(c).Test(userCtx(2), api), "other user")
	issued, _ = p.counts()
	testutil.AssertEqual(t, issued, 2, "tokens are kept per user")

	stored, err := tokens.GetRemoteAPIToken(context.Background(), api.ID, 1, time.Now())
	testutil.RequireNoError(t, err, "stored token")
	testutil.AssertEqual(t, stored.Token, "tok-1", "persisted access token")
	testutil.AssertTrue(t, stored.ExpiryDate.After(time.Now().Add(50*time.Minute)), "expiry from expires_in")
}

func TestRejectedTokenIsRenewed(t *testing.T) {
	p := newPeer(t)
	c := NewClient(testutil.NewMockTokenStore(), config.RemoteConfig{})
	api := p.api()
	ctx := userCtx(1)

	testutil.RequireNoError(t, NewAPIService(c).Test(ctx, api), "initial")
	p.revokeAll()
	testutil.RequireNoError(t, NewAPIService(c).Test(ctx, api), "after revocation")
	issued, _ := p.counts()
	testutil.AssertEqual(t, issued, 2, "token renewed after 401")
}

func TestBadCredentials(t *testing.T) {
	p := newPeer(t)
	api := p.api()
	api.ClientSecret = "wrong"

	err := NewAPIService(NewClient(testutil.NewMockTokenStore(), config.RemoteConfig{})).Test(userCtx(1), api)
	testutil.AssertTrue(t, errors.IsKind(err, errors.KindUnauthorized), "bad client secret")
}

func TestProjectsAndSamples(t *testing.T) {
	p := newPeer(t, "SE-001", "se-002", "PE-003")
	c := NewClient(testutil.NewMockTokenStore(), config.RemoteConfig{CacheTTL: 60})
	api := p.api()
	ctx := userCtx(1)

	projects, err := NewProjectRemoteService(c).GetProjectsForAPI(ctx, api)
	testutil.RequireNoError(t, err, "GetProjectsForAPI")
	testutil.AssertEqual(t, len(projects), 1, "projects")
	testutil.AssertEqual(t, projects[0].Object.Name, "Outbreak 2024", "project name")

	project, err := NewProjectRemoteService(c).Read(ctx, p.href("/projects/1"), api)
	testutil.RequireNoError(t, err, "Read project")

	samples := NewSampleRemoteService(c)
	all, err := samples.GetSamplesForProject(ctx, project, api)
	testutil.RequireNoError(t, err, "GetSamplesForProject")
	testutil.AssertEqual(t, len(all), 3, "samples")
	self, _ := all[0].Links.HrefForRel(models.RelSelf)
	testutil.AssertEqual(t, self, p.href("/samples/1"), "sample link")

	_, before := p.counts()
	_, err = samples.GetSamplesForProject(ctx, project, api)
	testutil.RequireNoError(t, err, "cached GetSamplesForProject")
	_, after := p.counts()
	testutil.AssertEqual(t, after, before, "second listing served from cache")
}

func TestSearchSamplesForProject(t *testing.T) {
	p := newPeer(t, "SE-001", "se-002", "PE-003", "SE-004", "se-005")
	c := NewClient(testutil.NewMockTokenStore(), config.RemoteConfig{})
	api := p.api()
	ctx := userCtx(1)
	project, err := NewProjectRemoteService(c).Read(ctx, p.href("/projects/1"), api)
	testutil.RequireNoError(t, err, "Read project")
	samples := NewSampleRemoteService(c)

	tests := []struct {
		name      string
		search    string
		page      int
		size      int
		wantNames []string
		wantTotal int
	}{
		{"first page of matches", "se-", 0, 2, []string{"SE-001", "se-002"}, 4},
		{"last partial page", "se-", 1, 3, []string{"se-005"}, 4},
		{"page past the end", "se-", 5, 2, nil, 4},
		{"negative page", "", -1, 2, nil, 5},
		{"empty search matches all", "", 0, 10, []string{"SE-001", "se-002", "PE-003", "SE-004", "se-005"}, 5},
		{"no matches", "zz", 0, 10, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := samples.SearchSamplesForProject(ctx, project, api, tt.search, tt.page, tt.size)
			testutil.RequireNoError(t, err, "SearchSamplesForProject")
			var names []string
			for _, s := range page.Content {
				names = append(names, s.Object.SampleName)
			}
			testutil.AssertEqual(t, strings.Join(names, ","), strings.Join(tt.wantNames, ","), "page content")
			testutil.AssertEqual(t, page.TotalElements, tt.wantTotal, "total")
		})
	}

	_, err = samples.SearchSamplesForProject(ctx, project, api, "", 0, 0)
	testutil.AssertTrue(t, errors.IsKind(err, errors.KindValidation), "zero page size")
}

func TestMissingSamplesLink(t *testing.T) {
	p := newPeer(t)
	c := NewClient(testutil.NewMockTokenStore(), config.RemoteConfig{})
	bare := &Project{Object: models.Project{Name: "no links"}}

	_, err := NewSampleRemoteService(c).GetSamplesForProject(userCtx(1), bare, p.api())
	testutil.AssertTrue(t, errors.IsKind(err, errors.KindNotFound), "project without samples link")
}
