package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/database"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
	"github.com/nishad/seqlims/internal/service"
	"github.com/nishad/seqlims/internal/storage"
	"github.com/nishad/seqlims/internal/testutil"
)

const (
	testSecret       = "api-test-secret-0123456789"
	testClientID     = "pipeline"
	testClientSecret = "pipeline-secret"
)

type testServer struct {
	*httptest.Server
	db *database.DB
	fx *testutil.Fixtures
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	db, fx, cleanup := testutil.TestDBWithFixtures(t)
	t.Cleanup(cleanup)

	dir, dirCleanup := testutil.TempDir(t)
	t.Cleanup(dirCleanup)
	stores, err := storage.Open(context.Background(), config.StorageConfig{
		SequenceFileDir:  dir + "/sequence",
		ReferenceFileDir: dir + "/reference",
		OutputFileDir:    dir + "/output",
	})
	testutil.RequireNoError(t, err, "open storage")

	svc := service.New(db, service.Options{
		BcryptCost: 4,
		Workflows: []config.WorkflowConfig{
			{ID: "assembly", Name: "Assembly", AnalysisType: "ASSEMBLY", RemoteID: "wf-1", SequenceInput: "reads",
				Outputs: map[string]string{"contigs": "contigs.fasta"}},
		},
		Files: storage.NewFiles(db, stores),
	})
	tokens, err := security.NewTokenIssuer(testSecret, time.Hour)
	testutil.RequireNoError(t, err, "token issuer")

	srv, err := NewServer(Options{
		Config:   config.ServerConfig{SessionTimeout: 1800},
		Services: svc,
		Tokens:   tokens,
		Clients:  []config.ClientConfig{{ID: testClientID, Secret: testClientSecret, Role: "sequencer"}},
		DB:       db,
	})
	testutil.RequireNoError(t, err, "NewServer")

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, db: db, fx: fx}
}

// login obtains an access token with the password grant.
func (ts *testServer) login(t *testing.T, username string) string {
	t.Helper()
	resp, err := http.PostForm(ts.URL+"/api/oauth/token", url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {testutil.FixturePassword},
	})
	testutil.RequireNoError(t, err, "token request")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	var tok security.Token
	testutil.RequireNoError(t, json.NewDecoder(resp.Body).Decode(&tok), "decode token")
	return tok.AccessToken
}

// do sends a request with an optional JSON body and decodes a JSON reply
// into a generic map.
func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		testutil.RequireNoError(t, err, "marshal body")
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	testutil.RequireNoError(t, err, "new request")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	testutil.RequireNoError(t, err, method+" "+path)
	defer resp.Body.Close()

	var out map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func resourceOf(doc map[string]interface{}) map[string]interface{} {
	res, _ := doc["resource"].(map[string]interface{})
	return res
}

func hrefFor(res map[string]interface{}, rel string) string {
	links, _ := res["links"].([]interface{})
	for _, l := range links {
		m, _ := l.(map[string]interface{})
		if m["rel"] == rel {
			s, _ := m["href"].(string)
			return s
		}
	}
	return ""
}

func TestRootIsPublic(t *testing.T) {
	ts := setupTestServer(t)

	resp, doc := ts.do(t, http.MethodGet, "/api", "", nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK, "root status")
	root := resourceOf(doc)
	testutil.AssertEqual(t, hrefFor(root, "projects"), ts.URL+"/api/projects", "projects link")
	testutil.AssertEqual(t, hrefFor(root, models.RelSelf), ts.URL+"/api", "self link")

	resp, _ = ts.do(t, http.MethodGet, "/api/health", "", nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK, "health status")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := setupTestServer(t)

	resp, doc := ts.do(t, http.MethodGet, "/api/projects", "", nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusUnauthorized, "no token")
	testutil.AssertContains(t, resp.Header.Get("WWW-Authenticate"), "Bearer", "challenge header")
	testutil.AssertEqual(t, doc["kind"], interface{}("unauthorized"), "error kind")

	resp, _ = ts.do(t, http.MethodGet, "/api/projects", "not-a-token", nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusUnauthorized, "garbage token")
}

func TestPasswordGrant(t *testing.T) {
	ts := setupTestServer(t)

	token := ts.login(t, "owner")
	resp, doc := ts.do(t, http.MethodGet, "/api/users/current", token, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK, "current user")
	testutil.AssertEqual(t, resourceOf(doc)["username"], interface{}("owner"), "username")
	testutil.AssertEqual(t, resp.Header.Get(SessionTimeoutHeader), "1800", "session timeout header")

	tests := []struct {
		name   string
		form   url.Values
		status int
		code   string
	}{
		{"wrong password", url.Values{"grant_type": {"password"}, "username": {"owner"}, "password": {"nope"}}, http.StatusBadRequest, "invalid_grant"},
		{"unknown user", url.Values{"grant_type": {"password"}, "username": {"ghost"}, "password": {"x"}}, http.StatusBadRequest, "invalid_grant"},
		{"unsupported grant", url.Values{"grant_type": {"implicit"}}, http.StatusBadRequest, "unsupported_grant_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.PostForm(ts.URL+"/api/oauth/token", tt.form)
			testutil.RequireNoError(t, err, "token request")
			defer resp.Body.Close()
			var body oauthError
			json.NewDecoder(resp.Body).Decode(&body)
			testutil.AssertEqual(t, resp.StatusCode, tt.status, "status")
			testutil.AssertEqual(t, body.Error, tt.code, "oauth error")
		})
	}
}

func TestClientCredentialsGrant(t *testing.T) {
	ts := setupTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/oauth/token",
		strings.NewReader(url.Values{"grant_type": {"client_credentials"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testClientSecret)
	resp, err := http.DefaultClient.Do(req)
	testutil.RequireNoError(t, err, "token request")
	var tok security.Token
	json.NewDecoder(resp.Body).Decode(&tok)
	resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK, "basic auth client")
	testutil.AssertTrue(t, tok.AccessToken != "", "access token issued")
	testutil.AssertEqual(t, tok.TokenType, "bearer", "token type")

	resp, doc := ts.do(t, http.MethodGet, "/api/users/current", tok.AccessToken, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK, "client principal")
	current := resourceOf(doc)
	testutil.AssertEqual(t, current["username"], interface{}("client:"+testClientID), "client username")
	testutil.AssertEqual(t, current["role"], interface{}(string(models.RoleSequencer)), "client role")

	resp, err = http.PostForm(ts.URL+"/api/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {testClientID},
		"client_secret": {"wrong"},
	})
	testutil.RequireNoError(t, err, "token request")
	resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusUnauthorized, "wrong client secret")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind errors.Kind
		want int
	}{
		{errors.KindNotFound, http.StatusNotFound},
		{errors.KindExists, http.StatusConflict},
		{errors.KindIllegalState, http.StatusConflict},
		{errors.KindValidation, http.StatusBadRequest},
		{errors.KindInvalidProperty, http.StatusBadRequest},
		{errors.KindParse, http.StatusBadRequest},
		{errors.KindUnauthorized, http.StatusUnauthorized},
		{errors.KindCredentialsExpired, http.StatusUnauthorized},
		{errors.KindForbidden, http.StatusForbidden},
		{errors.KindWorkflowChecksum, http.StatusBadGateway},
		{errors.KindNetwork, http.StatusBadGateway},
		{errors.KindConfig, http.StatusServiceUnavailable},
		{errors.KindDatabase, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := errors.E(errors.Op("test"), tt.kind, "boom")
			testutil.AssertEqual(t, statusFor(err), tt.want, "status")
		})
	}
	testutil.AssertEqual(t, statusFor(fmt.Errorf("plain")), http.StatusInternalServerError, "unknown kind")
}

func TestProjectLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	owner := ts.login(t, "owner")
	outsider := ts.login(t, "outsider")

	resp, doc := ts.do(t, http.MethodPost, "/api/projects", owner, map[string]string{
		"name": "Listeria 2024", "organism": "Listeria monocytogenes",
	})
	testutil.AssertEqual(t, resp.StatusCode, http.StatusCreated, "create project")
	project := resourceOf(doc)
	self := hrefFor(project, models.RelSelf)
	testutil.AssertEqual(t, resp.Header.Get("Location"), self, "location header")
	path := strings.TrimPrefix(self, ts.URL)

	resp, doc = ts.do(t, http.MethodPatch, path, owner, map[string]string{"description": "outbreak cluster"})
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK, "update project")
	testutil.AssertEqual(t, resourceOf(doc)["description"], interface{}("outbreak cluster"), "updated description")

	resp, _ = ts.do(t, http.MethodPatch, path, owner, map[string]string{})
	testutil.AssertEqual(t, resp.StatusCode, http.StatusBadRequest, "empty update")

	resp, doc = ts.do(t, http.MethodPost, path+"/samples", owner, map[string]string{"sample_name": "LM-0001"})
	testutil.AssertEqual(t, resp.StatusCode, http.StatusCreated, "create sample")
	testutil.AssertContains(t, hrefFor(resourceOf(doc), models.RelSampleFiles), "/sequenceFiles", "sample files link")

	resp, doc = ts.do(t, http.MethodGet, path+"/samples", owner, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK, "list samples")
	testutil.AssertEqual(t, resourceOf(doc)["totalResources"], interface{}(float64(1)), "sample count")

	resp, _ = ts.do(t, http.MethodGet, path, outsider, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusForbidden, "outsider read")

	resp, _ = ts.do(t, http.MethodPost, path+"/users", owner, map[string]interface{}{
		"user_id": ts.fx.Outsider.ID, "project_role": "PROJECT_USER",
	})
	testutil.AssertEqual(t, resp.StatusCode, http.StatusCreated, "add member")
	resp, _ = ts.do(t, http.MethodGet, path, outsider, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK, "member read")

	resp, _ = ts.do(t, http.MethodPost, path+"/users", owner, map[string]interface{}{
		"user_id": ts.fx.Member.ID, "project_role": "PROJECT_BOSS",
	})
	testutil.AssertEqual(t, resp.StatusCode, http.StatusBadRequest, "bad project role")

	resp, _ = ts.do(t, http.MethodDelete, path, owner, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusNoContent, "delete project")
	resp, _ = ts.do(t, http.MethodGet, path, ts.login(t, "admin"), nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusNotFound, "deleted project")
}

func TestUploadAndDownloadSequenceFiles(t *testing.T) {
	ts := setupTestServer(t)
	owner := ts.login(t, "owner")
	reads := "@r1\nACGTACGT\n+\nIIIIIIII\n"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "isolate_R1.fastq")
	testutil.RequireNoError(t, err, "form file")
	io.WriteString(part, reads)
	mw.WriteField("sequencingRunId", fmt.Sprint(ts.fx.Run.ID))
	testutil.RequireNoError(t, mw.Close(), "close multipart")

	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/samples/%d/sequenceFiles", ts.URL, ts.fx.Sample.ID), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+owner)
	resp, err := http.DefaultClient.Do(req)
	testutil.RequireNoError(t, err, "upload")
	var doc map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&doc)
	resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusCreated, "upload status")

	obj := resourceOf(doc)
	testutil.AssertEqual(t, obj["kind"], interface{}(string(models.ObjectSingleEnd)), "object kind")
	fileHref := hrefFor(obj, "sequenceFile")
	testutil.AssertTrue(t, fileHref != "", "file link")

	req, _ = http.NewRequest(http.MethodGet, fileHref+"/content", nil)
	req.Header.Set("Authorization", "Bearer "+owner)
	resp, err = http.DefaultClient.Do(req)
	testutil.RequireNoError(t, err, "download")
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK, "download status")
	testutil.AssertEqual(t, string(data), reads, "downloaded content")
	testutil.AssertContains(t, resp.Header.Get("Content-Disposition"), "isolate_R1.fastq", "download filename")

	outsider := ts.login(t, "outsider")
	resp, _ = ts.do(t, http.MethodGet, strings.TrimPrefix(fileHref, ts.URL)+"/content", outsider, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusForbidden, "outsider download")
}

func TestUploadRejectsThreeFiles(t *testing.T) {
	ts := setupTestServer(t)
	owner := ts.login(t, "owner")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i := 1; i <= 3; i++ {
		part, _ := mw.CreateFormFile("file", fmt.Sprintf("r%d.fastq", i))
		io.WriteString(part, "@r\nA\n+\nI\n")
	}
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/samples/%d/sequenceFiles", ts.URL, ts.fx.Sample.ID), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+owner)
	resp, err := http.DefaultClient.Do(req)
	testutil.RequireNoError(t, err, "upload")
	resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusBadRequest, "three files")
}

func TestExportProject(t *testing.T) {
	ts := setupTestServer(t)
	owner := ts.login(t, "owner")

	req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/projects/%d/export?format=csv", ts.URL, ts.fx.Project.ID), nil)
	req.Header.Set("Authorization", "Bearer "+owner)
	resp, err := http.DefaultClient.Do(req)
	testutil.RequireNoError(t, err, "export")
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK, "export status")
	testutil.AssertEqual(t, resp.Header.Get("Content-Type"), "text/csv", "content type")
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	testutil.AssertEqual(t, len(lines), 2, "header and one sample")
	testutil.AssertTrue(t, strings.HasPrefix(lines[0], "id,sample_name"), "csv header")
	testutil.AssertContains(t, lines[1], "SE-2024-001", "sample row")

	resp, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/api/projects/%d/export?format=xlsx", ts.fx.Project.ID), owner, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusBadRequest, "unknown format")
}

func TestSubmissionStatus(t *testing.T) {
	ts := setupTestServer(t)
	owner := ts.login(t, "owner")
	path := fmt.Sprintf("/api/analysisSubmissions/%d", ts.fx.Submission.ID)

	resp, doc := ts.do(t, http.MethodGet, path+"/status", owner, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK, "status")
	status := resourceOf(doc)
	testutil.AssertEqual(t, status["analysis_state"], interface{}(string(models.AnalysisNew)), "state")
	testutil.AssertEqual(t, status["percent_complete"], interface{}(float64(0)), "progress")

	resp, _ = ts.do(t, http.MethodGet, path+"/analysis", owner, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusNotFound, "no analysis yet")

	outsider := ts.login(t, "outsider")
	resp, _ = ts.do(t, http.MethodGet, path, outsider, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusForbidden, "outsider submission")
}

func TestCreateSubmission(t *testing.T) {
	ts := setupTestServer(t)
	owner := ts.login(t, "owner")

	resp, doc := ts.do(t, http.MethodPost, "/api/analysisSubmissions", owner, map[string]interface{}{
		"workflow_id":              "assembly",
		"input_sequencing_objects": []int64{ts.fx.Object.ID},
	})
	testutil.AssertEqual(t, resp.StatusCode, http.StatusCreated, "create submission")
	sub := resourceOf(doc)
	testutil.AssertEqual(t, sub["analysis_state"], interface{}(string(models.AnalysisNew)), "new state")
	testutil.AssertEqual(t, sub["name"], interface{}("Assembly"), "default name")

	resp, _ = ts.do(t, http.MethodPost, "/api/analysisSubmissions", owner, map[string]interface{}{
		"workflow_id":              "unknown",
		"input_sequencing_objects": []int64{ts.fx.Object.ID},
	})
	testutil.AssertEqual(t, resp.StatusCode, http.StatusBadRequest, "unknown workflow")

	resp, doc = ts.do(t, http.MethodGet, "/api/workflows", owner, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusOK, "workflows")
	testutil.AssertEqual(t, resourceOf(doc)["totalResources"], interface{}(float64(1)), "workflow count")
}

func TestRemoteRoutesWithoutRemoteAccess(t *testing.T) {
	ts := setupTestServer(t)
	admin := ts.login(t, "admin")

	resp, doc := ts.do(t, http.MethodPost, "/api/remoteapis", admin, map[string]string{
		"name": "peer", "service_uri": "https://peer.example.org/api", "client_id": "c", "client_secret": "s",
	})
	testutil.AssertEqual(t, resp.StatusCode, http.StatusCreated, "register peer")
	api := resourceOf(doc)
	_, hasSecret := api["client_secret"]
	testutil.AssertFalse(t, hasSecret, "secret is not returned")

	resp, _ = ts.do(t, http.MethodGet, strings.TrimPrefix(hrefFor(api, "remoteapi/status"), ts.URL), admin, nil)
	testutil.AssertEqual(t, resp.StatusCode, http.StatusServiceUnavailable, "status without remote clients")
}

func TestCORSPreflight(t *testing.T) {
	ts := setupTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/projects", nil)
	resp, err := http.DefaultClient.Do(req)
	testutil.RequireNoError(t, err, "preflight")
	resp.Body.Close()
	testutil.AssertEqual(t, resp.StatusCode, http.StatusNoContent, "preflight status")
}
