package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/database"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/search"
	"github.com/nishad/seqlims/internal/security"
	"github.com/nishad/seqlims/internal/storage"
	"github.com/nishad/seqlims/internal/testutil"
)

var testWorkflows = []config.WorkflowConfig{
	{ID: "assembly", Name: "Assembly", AnalysisType: "ASSEMBLY", RemoteID: "wf-1", SequenceInput: "reads"},
	{ID: "snvphyl", Name: "SNVPhyl", AnalysisType: "PHYLOGENOMICS", RemoteID: "wf-2", SequenceInput: "reads", ReferenceInput: "reference"},
}

type env struct {
	db       *database.DB
	fx       *testutil.Fixtures
	svc      *Services
	queue    *testutil.MockProcessingQueue
	notifier *testutil.MockMailer
	search   *search.Manager
	dir      string
}

func newEnv(t *testing.T) *env {
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
	require.NoError(t, err)

	manager, err := search.NewMemManager(nil)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	e := &env{db: db, fx: fx, queue: &testutil.MockProcessingQueue{}, notifier: &testutil.MockMailer{}, search: manager, dir: dir}
	e.svc = New(db, Options{
		BcryptCost: 4,
		Workflows:  testWorkflows,
		Files:      storage.NewFiles(db, stores),
		Search:     manager,
		Processing: e.queue,
		Notifier:   e.notifier,
	})
	return e
}

func as(u *models.User) context.Context {
	return security.WithPrincipal(context.Background(), security.PrincipalFor(u))
}

func TestUserCreateAndAuthenticate(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Users.Create(as(e.fx.Owner), &models.User{Username: "x", Email: "x@example.org"}, "Password1!")
	assert.True(t, errors.IsKind(err, errors.KindForbidden), "plain users cannot create accounts")

	_, err = e.svc.Users.Create(as(e.fx.Manager), &models.User{Username: "boss", Email: "b@example.org", Role: models.RoleAdmin}, "Password1!")
	assert.True(t, errors.IsKind(err, errors.KindForbidden), "managers cannot create admins")

	_, err = e.svc.Users.Create(as(e.fx.Manager), &models.User{Username: "weak", Email: "w@example.org"}, "password")
	assert.Error(t, err, "password policy")

	created, err := e.svc.Users.Create(as(e.fx.Manager), &models.User{Username: "newbie", Email: "n@example.org"}, "Password1!")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, created.Role)
	assert.Equal(t, []string{"newbie"}, e.notifier.Users())

	u, err := e.svc.Users.Authenticate(context.Background(), "newbie", "Password1!")
	require.NoError(t, err)
	assert.NotNil(t, u.LastLogin)

	_, err = e.svc.Users.Authenticate(context.Background(), "newbie", "wrong")
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))
	_, err = e.svc.Users.Authenticate(context.Background(), "nobody", "Password1!")
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))
}

func TestUserUpdateRestrictions(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Users.Update(as(e.fx.Owner), e.fx.Member.ID, map[string]interface{}{"first_name": "Eve"})
	assert.True(t, errors.IsKind(err, errors.KindForbidden), "users may only edit themselves")

	_, err = e.svc.Users.Update(as(e.fx.Owner), e.fx.Owner.ID, map[string]interface{}{"system_role": "ROLE_ADMIN"})
	assert.True(t, errors.IsKind(err, errors.KindForbidden), "users cannot promote themselves")

	updated, err := e.svc.Users.Update(as(e.fx.Owner), e.fx.Owner.ID, map[string]interface{}{"first_name": "Olive"})
	require.NoError(t, err)
	assert.Equal(t, "Olive", updated.FirstName)

	err = e.svc.Users.ChangePassword(as(e.fx.Owner), e.fx.Owner.ID, "wrong", "Newpass1!")
	assert.Error(t, err)
	require.NoError(t, e.svc.Users.ChangePassword(as(e.fx.Owner), e.fx.Owner.ID, testutil.FixturePassword, "Newpass1!"))
	_, err = e.svc.Users.Authenticate(context.Background(), "owner", "Newpass1!")
	assert.NoError(t, err)
}

func TestProjectMembership(t *testing.T) {
	e := newEnv(t)
	pid := e.fx.Project.ID

	_, err := e.svc.Projects.Read(as(e.fx.Outsider), pid)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	got, err := e.svc.Projects.Read(as(e.fx.Member), pid)
	require.NoError(t, err)
	assert.Equal(t, e.fx.Project.Name, got.Name)

	_, err = e.svc.Projects.AddUser(as(e.fx.Member), pid, e.fx.Outsider.ID, models.ProjectUser)
	assert.True(t, errors.IsKind(err, errors.KindForbidden), "members cannot share the project")

	_, err = e.svc.Projects.AddUser(as(e.fx.Owner), pid, e.fx.Outsider.ID, models.ProjectUser)
	require.NoError(t, err)
	_, err = e.svc.Projects.Read(as(e.fx.Outsider), pid)
	assert.NoError(t, err)

	err = e.svc.Projects.RemoveUser(as(e.fx.Owner), pid, e.fx.Owner.ID)
	assert.True(t, errors.IsKind(err, errors.KindValidation), "last owner stays")

	list, err := e.svc.Projects.List(as(e.fx.Outsider))
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestProjectAndSampleAreIndexed(t *testing.T) {
	e := newEnv(t)
	ctx := as(e.fx.Owner)

	project, err := e.svc.Projects.Create(ctx, &models.Project{Name: "Listeria cluster", Organism: "Listeria monocytogenes"})
	require.NoError(t, err)
	_, err = e.svc.Samples.CreateInProject(ctx, project.ID, &models.Sample{SampleName: "LM-001", Organism: "Listeria monocytogenes"})
	require.NoError(t, err)

	resp, err := e.svc.Search.Search(ctx, &SearchRequest{Query: "listeria"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TotalResults)

	// Hits the caller cannot read are dropped.
	resp, err = e.svc.Search.Search(as(e.fx.Outsider), &SearchRequest{Query: "listeria"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalResults)

	resp, err = e.svc.Search.Search(as(e.fx.Admin), &SearchRequest{Query: "listeria", Types: []string{"sample"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "LM-001", resp.Results[0].Name)

	_, err = e.svc.Search.Search(ctx, &SearchRequest{Query: "x", Types: []string{"run"}})
	assert.True(t, errors.IsKind(err, errors.KindInvalidProperty))

	require.NoError(t, e.svc.Projects.Delete(ctx, project.ID))
	resp, err = e.svc.Search.Search(as(e.fx.Admin), &SearchRequest{Query: "cluster", Types: []string{"project"}})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalResults)
}

func TestSearchRebuild(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Search.Rebuild(as(e.fx.Owner))
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	resp, err := e.svc.Search.Rebuild(as(e.fx.Admin))
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Documents, "fixture project and sample")

	found, err := e.svc.Search.Search(as(e.fx.Member), &SearchRequest{Query: "salmonella"})
	require.NoError(t, err)
	assert.Equal(t, 2, found.TotalResults)
}

func TestSampleUpdate(t *testing.T) {
	e := newEnv(t)
	sid := e.fx.Sample.ID

	_, err := e.svc.Samples.Update(as(e.fx.Member), sid, map[string]interface{}{"strain": "Enteritidis"})
	assert.True(t, errors.IsKind(err, errors.KindForbidden), "members cannot modify samples")

	updated, err := e.svc.Samples.Update(as(e.fx.Owner), sid, map[string]interface{}{
		"strain":          "Enteritidis",
		"collection_date": "2024-03-05",
	})
	require.NoError(t, err)
	assert.Equal(t, "Enteritidis", updated.Strain)
	require.NotNil(t, updated.CollectionDate)
	assert.Equal(t, 2024, updated.CollectionDate.Year())

	_, err = e.svc.Samples.Update(as(e.fx.Owner), sid, map[string]interface{}{"id": 99})
	assert.True(t, errors.IsKind(err, errors.KindInvalidProperty))
}

func TestUploadQueuesProcessing(t *testing.T) {
	e := newEnv(t)
	ctx := as(e.fx.Owner)
	sid := e.fx.Sample.ID

	join, err := e.svc.SequencingObjects.Upload(ctx, sid, nil,
		Upload{Filename: "r1.fastq", Content: strings.NewReader("@a\nACGT\n+\nIIII\n")},
		Upload{Filename: "r2.fastq", Content: strings.NewReader("@a\nTTTT\n+\nIIII\n")})
	require.NoError(t, err)
	assert.Equal(t, models.ObjectPair, join.Object.Kind)
	require.Len(t, join.Object.Files, 2)
	assert.Equal(t, int64(15), join.Object.Files[0].FileSize)
	assert.Equal(t, []int64{join.Object.ID}, e.queue.Objects())

	_, err = e.svc.SequencingObjects.Upload(ctx, sid, nil)
	assert.True(t, errors.IsKind(err, errors.KindInvalidProperty), "no files")

	_, err = e.svc.SequencingObjects.Upload(as(e.fx.Outsider), sid, nil,
		Upload{Filename: "r.fastq", Content: strings.NewReader("")})
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	rc, f, err := e.svc.SequenceFiles.OpenContent(as(e.fx.Member), join.Object.Files[1].ID)
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(rc)
	assert.Equal(t, "@a\nTTTT\n+\nIIII\n", buf.String())
	assert.Equal(t, "r2.fastq", f.FileName())
}

// blobCount counts the files stored under one storage class directory.
func (e *env) blobCount(t *testing.T, class string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(filepath.Join(e.dir, class), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func (e *env) rows(t *testing.T, table string) int64 {
	t.Helper()
	n, err := e.db.CountTable(context.Background(), table)
	require.NoError(t, err)
	return n
}

func TestUploadRecordsChecksum(t *testing.T) {
	e := newEnv(t)
	content := "@r1\nACGT\n+\nIIII\n"
	sum := sha256.Sum256([]byte(content))

	join, err := e.svc.SequencingObjects.Upload(as(e.fx.Owner), e.fx.Sample.ID, nil,
		Upload{Filename: "r1.fastq", Content: strings.NewReader(content)})
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), join.Object.Files[0].Checksum)

	stored, err := e.svc.SequenceFiles.Read(as(e.fx.Owner), join.Object.Files[0].ID)
	require.NoError(t, err)
	assert.Equal(t, join.Object.Files[0].Checksum, stored.Checksum)

	_, err = e.svc.SequenceFiles.Update(as(e.fx.Owner), stored.ID, map[string]interface{}{"upload_sha256": "forged"})
	assert.Error(t, err, "checksum is not client writable")
}

func TestFailedPairedUploadIsRolledBack(t *testing.T) {
	e := newEnv(t)
	objects := e.rows(t, "sequencing_objects")
	files := e.rows(t, "sequence_files")

	_, err := e.svc.SequencingObjects.Upload(as(e.fx.Owner), e.fx.Sample.ID, nil,
		Upload{Filename: "r1.fastq", Content: strings.NewReader("@a\nACGT\n+\nIIII\n")},
		Upload{Filename: "r2.fastq", Content: iotest.ErrReader(io.ErrUnexpectedEOF)})
	require.Error(t, err)

	assert.Equal(t, objects, e.rows(t, "sequencing_objects"))
	assert.Equal(t, files, e.rows(t, "sequence_files"))
	assert.Zero(t, e.blobCount(t, "sequence"), "forward read content removed")
	assert.Empty(t, e.queue.Objects())
}

func TestFailedReferenceUploadIsRolledBack(t *testing.T) {
	e := newEnv(t)
	before := e.rows(t, "reference_files")

	_, err := e.svc.ReferenceFiles.Create(as(e.fx.Owner), "ref.fasta", iotest.ErrReader(io.ErrUnexpectedEOF))
	require.Error(t, err)
	assert.Equal(t, before, e.rows(t, "reference_files"))

	rf, err := e.svc.ReferenceFiles.Create(as(e.fx.Owner), "ref.fasta", strings.NewReader(">chr\nACGT\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), rf.FileSize)
	assert.Equal(t, before+1, e.rows(t, "reference_files"))
}

func TestSequenceFileGuards(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.SequenceFiles.Create(as(e.fx.Manager), &models.SequenceFile{})
	assert.True(t, errors.IsKind(err, errors.KindForbidden), "managers cannot create files")
	created, err := e.svc.SequenceFiles.Create(as(e.fx.Sequencer), &models.SequenceFile{})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	_, err = e.svc.SequenceFiles.Create(as(e.fx.Owner), &models.SequenceFile{})
	assert.NoError(t, err)

	fileID := e.fx.Object.Files[0].ID
	_, err = e.svc.SequenceFiles.Read(as(e.fx.Outsider), fileID)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))
	got, err := e.svc.SequenceFiles.Read(as(e.fx.Member), fileID)
	require.NoError(t, err)
	assert.Equal(t, fileID, got.ID)

	_, err = e.svc.SequenceFiles.Update(as(e.fx.Outsider), fileID, map[string]interface{}{"sequencing_run_id": e.fx.Run.ID})
	assert.True(t, errors.IsKind(err, errors.KindForbidden))
	updated, err := e.svc.SequenceFiles.Update(as(e.fx.Sequencer), fileID, map[string]interface{}{"sequencing_run_id": e.fx.Run.ID})
	require.NoError(t, err)
	require.NotNil(t, updated.SequencingRunID)
	assert.Equal(t, e.fx.Run.ID, *updated.SequencingRunID)
}

func TestSequenceFileInSampleAndRun(t *testing.T) {
	e := newEnv(t)
	sid := e.fx.Sample.ID

	_, err := e.svc.SequenceFiles.CreateInSample(as(e.fx.Outsider), &models.SequenceFile{}, sid)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	join, err := e.svc.SequenceFiles.CreateInSample(as(e.fx.Sequencer), &models.SequenceFile{}, sid)
	require.NoError(t, err)
	assert.Equal(t, sid, join.SampleID)
	assert.NotZero(t, join.ObjectID)

	inSample, err := e.svc.SequenceFiles.ListForSample(as(e.fx.Member), sid)
	require.NoError(t, err)
	assert.Len(t, inSample, 4, "single, pair and the new file")

	_, err = e.svc.SequenceFiles.ListForSequencingRun(as(e.fx.Owner), e.fx.Run.ID)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))
	inRun, err := e.svc.SequenceFiles.ListForSequencingRun(as(e.fx.Sequencer), e.fx.Run.ID)
	require.NoError(t, err)
	assert.Len(t, inRun, 2)
	_, err = e.svc.SequenceFiles.ListForSequencingRun(as(e.fx.Sequencer), 9999)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestSequenceFileGetPair(t *testing.T) {
	e := newEnv(t)
	forward, reverse := e.fx.Pair.Files[0].ID, e.fx.Pair.Files[1].ID

	pair, err := e.svc.SequenceFiles.GetPair(as(e.fx.Member), forward)
	require.NoError(t, err)
	assert.Equal(t, reverse, pair.ID)

	_, err = e.svc.SequenceFiles.GetPair(as(e.fx.Member), e.fx.Object.Files[0].ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "single-end file has no pair")

	_, err = e.svc.SequenceFiles.GetPair(as(e.fx.Outsider), forward)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))
}

func TestSubmissionExecutionLinksAreAdminOnly(t *testing.T) {
	e := newEnv(t)
	sub := e.fx.Submission

	for _, field := range []string{"analysis_id", "remote_analysis_id", "remote_input_data_id"} {
		_, err := e.svc.Submissions.Update(as(e.fx.Owner), sub.ID, map[string]interface{}{field: "x"})
		assert.True(t, errors.IsKind(err, errors.KindForbidden), field)
	}

	renamed, err := e.svc.Submissions.Update(as(e.fx.Owner), sub.ID, map[string]interface{}{"name": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", renamed.Name)

	linked, err := e.svc.Submissions.Update(as(e.fx.Admin), sub.ID, map[string]interface{}{"remote_analysis_id": "history-9"})
	require.NoError(t, err)
	assert.Equal(t, "history-9", linked.RemoteAnalysisID)
}

func TestSubmissionLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := as(e.fx.Owner)

	_, err := e.svc.Submissions.Create(ctx, &models.AnalysisSubmission{WorkflowID: "unknown", InputObjectIDs: []int64{e.fx.Object.ID}})
	assert.True(t, errors.IsKind(err, errors.KindInvalidProperty))

	_, err = e.svc.Submissions.Create(ctx, &models.AnalysisSubmission{WorkflowID: "snvphyl", InputObjectIDs: []int64{e.fx.Object.ID}})
	assert.True(t, errors.IsKind(err, errors.KindInvalidProperty), "reference required")

	_, err = e.svc.Submissions.Create(as(e.fx.Outsider), &models.AnalysisSubmission{WorkflowID: "assembly", InputObjectIDs: []int64{e.fx.Object.ID}})
	assert.True(t, errors.IsKind(err, errors.KindForbidden), "inputs must be readable")

	sub, err := e.svc.Submissions.Create(ctx, &models.AnalysisSubmission{WorkflowID: "assembly", InputObjectIDs: []int64{e.fx.Object.ID, e.fx.Pair.ID}})
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisNew, sub.State)
	assert.Equal(t, "Assembly", sub.Name)
	assert.Equal(t, e.fx.Owner.ID, sub.SubmitterID)
	require.NotNil(t, sub.RemoteWorkflow)
	assert.Equal(t, "wf-1", sub.RemoteWorkflow.WorkflowID)

	_, err = e.svc.Submissions.Read(as(e.fx.Member), sub.ID)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	_, err = e.svc.Submissions.ChangeState(as(e.fx.Owner), sub.ID, models.AnalysisPreparing)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	_, err = e.svc.Submissions.ChangeState(as(e.fx.Admin), sub.ID, models.AnalysisCompleted)
	assert.True(t, errors.IsKind(err, errors.KindIllegalState), "NEW cannot jump to COMPLETED")

	moved, err := e.svc.Submissions.ChangeState(as(e.fx.Admin), sub.ID, models.AnalysisPreparing)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisPreparing, moved.State)

	found, err := e.svc.Submissions.FindByState(as(e.fx.Admin), models.AnalysisPreparing)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, sub.ID, found[0].ID)

	mine, err := e.svc.Submissions.ListForUser(ctx)
	require.NoError(t, err)
	assert.Len(t, mine, 2, "fixture submission and the new one")
}

func TestAnalysisForSubmission(t *testing.T) {
	e := newEnv(t)
	sub := e.fx.Submission

	_, err := e.svc.Analyses.ReadForSubmission(as(e.fx.Owner), sub.ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	a, err := e.svc.Analyses.CreateForSubmission(as(e.fx.Admin), sub.ID, &models.Analysis{
		AnalysisType:       "ASSEMBLY",
		ExecutionManagerID: "history-1",
	})
	require.NoError(t, err)

	got, err := e.svc.Analyses.ReadForSubmission(as(e.fx.Owner), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = e.svc.Analyses.Read(as(e.fx.Outsider), a.ID)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	links, err := e.svc.Relationships.ListObjects(as(e.fx.Admin), EntityAnalysisSubmission, sub.ID, EntityAnalysis)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, links)
}

func TestRelationships(t *testing.T) {
	e := newEnv(t)
	ctx := as(e.fx.Owner)

	_, err := e.svc.Relationships.Create(ctx, EntitySample, e.fx.Sample.ID, EntityProject, e.fx.Project.ID)
	assert.True(t, errors.IsKind(err, errors.KindInvalidProperty), "no sample->project link type")

	_, err = e.svc.Relationships.Create(ctx, EntityProject, e.fx.Project.ID, EntitySample, 9999)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	r, err := e.svc.Relationships.Create(ctx, EntityProject, e.fx.Project.ID, EntitySample, e.fx.Sample.ID)
	require.NoError(t, err)
	assert.Equal(t, "hasSample", r.Predicate)

	// The inverse predicate finds the link from the sample's side.
	links, err := e.svc.Relationships.GetLinks(ctx, &EntityRef{Type: EntitySample, ID: e.fx.Sample.ID}, "sampleOf", nil)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, r.ID, links[0].ID)

	links, err = e.svc.Relationships.GetLinks(ctx, nil, "hasSample", nil)
	require.NoError(t, err)
	assert.Len(t, links, 1)

	_, err = e.svc.Relationships.GetLinks(ctx, nil, "", nil)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	err = e.svc.Relationships.Delete(ctx, r.ID)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))
	require.NoError(t, e.svc.Relationships.Delete(as(e.fx.Admin), r.ID))
}

func TestRemoteAPIs(t *testing.T) {
	e := newEnv(t)

	api := &models.RemoteAPI{Name: "peer", ServiceURI: "https://peer.example.org/api", ClientID: "c", ClientSecret: "s"}
	_, err := e.svc.RemoteAPIs.Create(as(e.fx.Owner), api)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	created, err := e.svc.RemoteAPIs.Create(as(e.fx.Admin), api)
	require.NoError(t, err)
	assert.Equal(t, "https://peer.example.org/api/", created.ServiceURI)

	byURI, err := e.svc.RemoteAPIs.ReadByURI(as(e.fx.Owner), "https://peer.example.org/api")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byURI.ID)

	_, err = e.svc.RemoteAPIs.Create(as(e.fx.Admin), &models.RemoteAPI{Name: "bad", ServiceURI: "ftp://x", ClientID: "c", ClientSecret: "s"})
	assert.True(t, errors.IsKind(err, errors.KindInvalidProperty))
}

func TestExportProjectSamples(t *testing.T) {
	e := newEnv(t)
	req := &ExportRequest{ProjectID: e.fx.Project.ID, Format: "csv"}

	var buf bytes.Buffer
	err := e.svc.Export.Export(as(e.fx.Outsider), req, &buf)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	require.NoError(t, e.svc.Export.Export(as(e.fx.Member), req, &buf))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, sampleColumns, records[0])
	assert.Equal(t, "SE-2024-001", records[1][1])
	assert.Equal(t, "2", records[1][len(records[1])-1], "single and paired object")

	buf.Reset()
	req = &ExportRequest{ProjectID: e.fx.Project.ID, Format: "tsv", Fields: []string{"sample_name", "strain"}}
	require.NoError(t, e.svc.Export.Export(as(e.fx.Member), req, &buf))
	assert.Equal(t, "id\tsample_name\tstrain", strings.SplitN(buf.String(), "\n", 2)[0])

	err = e.svc.Export.Export(as(e.fx.Member), &ExportRequest{ProjectID: e.fx.Project.ID, Format: "xml"}, &buf)
	assert.True(t, errors.IsKind(err, errors.KindInvalidProperty))
}

func TestTaxonomyRequiresLoadedTree(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Search.Taxonomy(as(e.fx.Owner), "coli")
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}
