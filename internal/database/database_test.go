package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/models"
)

// Helper to create a temporary test database
func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "seqlims-db-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(dir, "test.db")
	db, err := Initialize(dbPath)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to initialize database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(dir)
	}

	return db, cleanup
}

func createUser(t *testing.T, db *DB, username string, role models.Role) *models.User {
	t.Helper()
	u, err := db.CreateUser(context.Background(), &models.User{
		Username:              username,
		Email:                 username + "@example.org",
		Password:              "$2a$10$hash-" + username,
		Role:                  role,
		Enabled:               true,
		CredentialsNonExpired: true,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s) failed: %v", username, err)
	}
	return u
}

func TestInitialize(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("expected non-nil database")
	}

	// Test that we can ping the database
	if err := db.Ping(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if db.Driver() != DriverSQLite {
		t.Errorf("expected driver %s, got %s", DriverSQLite, db.Driver())
	}
}

func TestInitializeInvalidPath(t *testing.T) {
	// Try to initialize in a non-existent directory
	_, err := Initialize("/nonexistent/path/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	got := pg.rebind("SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?")
	want := "SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	lite := &DB{driver: DriverSQLite}
	if q := lite.rebind("a = ?"); q != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", q)
	}
}

func TestUserOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	u := createUser(t, db, "alice", models.RoleUser)
	if u.ID == 0 {
		t.Fatal("expected user id to be assigned")
	}

	got, err := db.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if got.Email != "alice@example.org" || got.Role != models.RoleUser {
		t.Errorf("unexpected user: %+v", got)
	}

	if _, err := db.GetUser(ctx, 999); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	// Duplicate usernames are rejected as existing entities
	_, err = db.CreateUser(ctx, &models.User{Username: "alice", Email: "other@example.org", Password: "x", Role: models.RoleUser})
	if !errors.IsKind(err, errors.KindExists) {
		t.Errorf("expected Exists for duplicate username, got %v", err)
	}

	if err := db.UpdateUserPassword(ctx, u.ID, "new-hash"); err != nil {
		t.Fatalf("UpdateUserPassword failed: %v", err)
	}
	passwords, err := db.UserRevisionPasswords(ctx, u.ID)
	if err != nil {
		t.Fatalf("UserRevisionPasswords failed: %v", err)
	}
	if len(passwords) != 2 {
		t.Fatalf("expected 2 password revisions, got %d", len(passwords))
	}
	if passwords[0].Password != "new-hash" || passwords[1].Password != u.Password {
		t.Errorf("unexpected password history: %+v", passwords)
	}

	at := time.Now()
	if err := db.RecordLogin(ctx, u.ID, at); err != nil {
		t.Fatalf("RecordLogin failed: %v", err)
	}
	got, _ = db.GetUser(ctx, u.ID)
	if got.LastLogin == nil {
		t.Error("expected last login to be recorded")
	}
}

func TestProjectOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	owner := createUser(t, db, "owner", models.RoleUser)
	member := createUser(t, db, "member", models.RoleUser)
	outsider := createUser(t, db, "outsider", models.RoleUser)

	p, err := db.CreateProject(ctx, &models.Project{Name: "Outbreak 2024", Organism: "Salmonella enterica"}, owner.ID)
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	role, ok, err := db.ProjectRoleFor(ctx, p.ID, owner.ID)
	if err != nil || !ok || role != models.ProjectOwner {
		t.Errorf("expected owner role, got %v %v %v", role, ok, err)
	}

	if _, err := db.AddUserToProject(ctx, p.ID, member.ID, models.ProjectUser); err != nil {
		t.Fatalf("AddUserToProject failed: %v", err)
	}
	projects, err := db.ListProjectsForUser(ctx, member.ID)
	if err != nil {
		t.Fatalf("ListProjectsForUser failed: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != p.ID {
		t.Errorf("expected member to see one project, got %d", len(projects))
	}

	join, err := db.CreateSampleInProject(ctx, p.ID, &models.Sample{SampleName: "S-001", Organism: "Salmonella"})
	if err != nil {
		t.Fatalf("CreateSampleInProject failed: %v", err)
	}
	if !join.Owner {
		t.Error("expected project to own a sample created in it")
	}

	can, err := db.UserCanReadSample(ctx, member.ID, join.SampleID)
	if err != nil || !can {
		t.Errorf("member should read sample: %v %v", can, err)
	}
	can, err = db.UserCanReadSample(ctx, outsider.ID, join.SampleID)
	if err != nil || can {
		t.Errorf("outsider should not read sample: %v %v", can, err)
	}

	found, err := db.SearchSamplesForProject(ctx, p.ID, "s-0")
	if err != nil {
		t.Fatalf("SearchSamplesForProject failed: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("expected case-insensitive match, got %d samples", len(found))
	}

	if err := db.RemoveUserFromProject(ctx, p.ID, member.ID); err != nil {
		t.Fatalf("RemoveUserFromProject failed: %v", err)
	}
	if _, ok, _ := db.ProjectRoleFor(ctx, p.ID, member.ID); ok {
		t.Error("expected membership to be removed")
	}

	if err := db.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
	if _, err := db.GetProject(ctx, p.ID); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
	if err := db.DeleteProject(ctx, p.ID); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("expected NotFound deleting twice, got %v", err)
	}

	// Samples outlive the project
	if ok, _ := db.SampleExists(ctx, join.SampleID); !ok {
		t.Error("sample should survive project deletion")
	}
}

func TestRevisionsRecorded(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	author := createUser(t, db, "author", models.RoleAdmin)
	ctx := WithRevisionUser(context.Background(), author.ID)

	p, err := db.CreateProject(ctx, &models.Project{Name: "before"}, 0)
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if err := db.UpdateFields(ctx, "projects", p.ID, map[string]interface{}{"name": "after"}); err != nil {
		t.Fatalf("UpdateFields failed: %v", err)
	}
	if err := db.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}

	revisions, err := db.FindRevisions(ctx, EntityProject, p.ID)
	if err != nil {
		t.Fatalf("FindRevisions failed: %v", err)
	}
	if len(revisions) != 3 {
		t.Fatalf("expected 3 revisions, got %d", len(revisions))
	}
	if !revisions[0].Deleted || revisions[0].Number != 3 {
		t.Errorf("newest revision should be the deletion: %+v", revisions[0])
	}
	var snap models.Project
	if err := revisions[1].Decode(&snap); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if snap.Name != "after" {
		t.Errorf("expected updated name in snapshot, got %q", snap.Name)
	}
	if revisions[2].UserID == nil || *revisions[2].UserID != author.ID {
		t.Errorf("expected revision author %d, got %v", author.ID, revisions[2].UserID)
	}
}

func TestUpdateFieldsRejectsUnknownProperty(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p, err := db.CreateProject(ctx, &models.Project{Name: "p"}, 0)
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	tests := []struct {
		name   string
		table  string
		fields map[string]interface{}
	}{
		{"unknown column", "projects", map[string]interface{}{"colour": "red"}},
		{"protected column", "projects", map[string]interface{}{"created_date": time.Now()}},
		{"no fields", "projects", map[string]interface{}{}},
		{"unknown table", "project_user", map[string]interface{}{"project_role": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.UpdateFields(ctx, tt.table, p.ID, tt.fields)
			if !errors.IsKind(err, errors.KindInvalidProperty) {
				t.Errorf("expected InvalidProperty, got %v", err)
			}
		})
	}

	err = db.UpdateFields(ctx, "projects", 999, map[string]interface{}{"name": "x"})
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("expected NotFound for missing row, got %v", err)
	}
}

func TestSequencingObjectOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p, _ := db.CreateProject(ctx, &models.Project{Name: "p"}, 0)
	sj, err := db.CreateSampleInProject(ctx, p.ID, &models.Sample{SampleName: "s"})
	if err != nil {
		t.Fatalf("CreateSampleInProject failed: %v", err)
	}

	run, err := db.CreateSequencingRun(ctx, &models.SequencingRun{Platform: "MiSeq", Layout: models.LayoutPaired})
	if err != nil {
		t.Fatalf("CreateSequencingRun failed: %v", err)
	}

	obj := &models.SequencingObject{
		Kind:            models.ObjectPair,
		SequencingRunID: &run.ID,
		Files:           []models.SequenceFile{{FilePath: "r1.fastq"}, {FilePath: "r2.fastq"}},
	}
	join, err := db.CreateSequencingObjectInSample(ctx, sj.SampleID, obj)
	if err != nil {
		t.Fatalf("CreateSequencingObjectInSample failed: %v", err)
	}
	if join.Object.ID == 0 || join.Object.Files[0].ID == 0 {
		t.Fatal("expected object and files to get ids")
	}

	got, err := db.GetSequencingObject(ctx, join.Object.ID)
	if err != nil {
		t.Fatalf("GetSequencingObject failed: %v", err)
	}
	if len(got.Files) != 2 || got.Files[0].FilePath != "r1.fastq" {
		t.Errorf("expected files in position order, got %+v", got.Files)
	}

	pair, ok := got.Pair(got.Files[0].ID)
	if !ok || pair.ID != got.Files[1].ID {
		t.Errorf("expected pair of first file to be the second, got %+v", pair)
	}

	forRun, err := db.ListSequenceFilesForRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListSequenceFilesForRun failed: %v", err)
	}
	if len(forRun) != 2 {
		t.Errorf("expected 2 files in run, got %d", len(forRun))
	}

	sampleID, err := db.SampleForSequencingObject(ctx, got.ID)
	if err != nil || sampleID != sj.SampleID {
		t.Errorf("SampleForSequencingObject = %d, %v", sampleID, err)
	}

	updated, err := db.UpdateSequenceFileContent(ctx, got.Files[0].ID, "1/2/r1.fastq", 42, "abc123")
	if err != nil {
		t.Fatalf("UpdateSequenceFileContent failed: %v", err)
	}
	if updated.FileRevision != got.Files[0].FileRevision+1 || updated.FileSize != 42 {
		t.Errorf("expected revision bump and size, got %+v", updated)
	}
	if updated.Checksum != "abc123" {
		t.Errorf("expected checksum abc123, got %q", updated.Checksum)
	}

	// A single-end object with two files is invalid
	bad := &models.SequencingObject{Kind: models.ObjectSingleEnd, Files: []models.SequenceFile{{}, {}}}
	if _, err := db.CreateSequencingObjectInSample(ctx, sj.SampleID, bad); !errors.IsKind(err, errors.KindValidation) {
		t.Errorf("expected Validation error, got %v", err)
	}

	qc := &models.QCEntry{SequenceFileID: got.Files[0].ID, ReadCount: 10, TotalBases: 1500, MinLength: 150, MaxLength: 150, MeanLength: 150, GCContent: 0.5}
	if err := db.SaveQCEntry(ctx, qc); err != nil {
		t.Fatalf("SaveQCEntry failed: %v", err)
	}
	gotQC, err := db.GetQCEntry(ctx, got.Files[0].ID)
	if err != nil || gotQC.ReadCount != 10 {
		t.Errorf("GetQCEntry = %+v, %v", gotQC, err)
	}
}

func TestAnalysisSubmissionOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	u := createUser(t, db, "analyst", models.RoleUser)
	p, _ := db.CreateProject(ctx, &models.Project{Name: "p"}, u.ID)
	sj, _ := db.CreateSampleInProject(ctx, p.ID, &models.Sample{SampleName: "s"})
	oj, err := db.CreateSequencingObjectInSample(ctx, sj.SampleID, &models.SequencingObject{
		Kind:  models.ObjectSingleEnd,
		Files: []models.SequenceFile{{FilePath: "reads.fastq"}},
	})
	if err != nil {
		t.Fatalf("CreateSequencingObjectInSample failed: %v", err)
	}

	sub, err := db.CreateAnalysisSubmission(ctx, &models.AnalysisSubmission{
		Name:           "assembly",
		SubmitterID:    u.ID,
		WorkflowID:     "assembly-1",
		RemoteWorkflow: &models.RemoteWorkflow{WorkflowID: "wf", WorkflowChecksum: "abc", OutputLabels: map[string]string{"contigs": "contigs.fasta"}},
		InputObjectIDs: []int64{oj.Object.ID},
		Parameters:     map[string]string{"k": "21"},
	})
	if err != nil {
		t.Fatalf("CreateAnalysisSubmission failed: %v", err)
	}
	if sub.State != models.AnalysisNew {
		t.Errorf("expected NEW state, got %s", sub.State)
	}

	got, err := db.GetAnalysisSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetAnalysisSubmission failed: %v", err)
	}
	if got.RemoteWorkflow == nil || got.RemoteWorkflow.WorkflowChecksum != "abc" {
		t.Errorf("remote workflow not round-tripped: %+v", got.RemoteWorkflow)
	}
	if got.Parameters["k"] != "21" || len(got.InputObjectIDs) != 1 {
		t.Errorf("unexpected submission: %+v", got)
	}

	if _, err := db.TransitionAnalysisState(ctx, sub.ID, models.AnalysisNew, models.AnalysisPreparing); err != nil {
		t.Fatalf("TransitionAnalysisState failed: %v", err)
	}
	_, err = db.TransitionAnalysisState(ctx, sub.ID, models.AnalysisNew, models.AnalysisPreparing)
	if !errors.IsKind(err, errors.KindIllegalState) {
		t.Errorf("expected IllegalState for stale transition, got %v", err)
	}
	_, err = db.TransitionAnalysisState(ctx, 999, models.AnalysisNew, models.AnalysisPreparing)
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("expected NotFound for missing submission, got %v", err)
	}

	preparing, err := db.FindSubmissionsByState(ctx, models.InconsistentStates()...)
	if err != nil {
		t.Fatalf("FindSubmissionsByState failed: %v", err)
	}
	if len(preparing) != 1 || preparing[0].ID != sub.ID {
		t.Errorf("expected submission in inconsistent states, got %d", len(preparing))
	}

	can, _ := db.UserCanReadAnalysisSubmission(ctx, u.ID, sub.ID)
	if !can {
		t.Error("submitter should read own submission")
	}

	a, err := db.CreateAnalysis(ctx, &models.Analysis{
		ExecutionManagerID: "hist-1",
		AnalysisType:       "ASSEMBLY",
		OutputFiles: map[string]*models.AnalysisOutputFile{
			"contigs": {FilePath: "1/contigs.fasta", FileSize: 12},
		},
	})
	if err != nil {
		t.Fatalf("CreateAnalysis failed: %v", err)
	}
	if err := db.UpdateFields(ctx, "analysis_submissions", sub.ID, map[string]interface{}{"analysis_id": a.ID}); err != nil {
		t.Fatalf("link analysis failed: %v", err)
	}
	gotAnalysis, err := db.GetAnalysis(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if f, ok := gotAnalysis.OutputFile("contigs"); !ok || f.FilePath != "1/contigs.fasta" {
		t.Errorf("unexpected output file: %+v", f)
	}
}

func TestRemoteAPIOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	u := createUser(t, db, "fed", models.RoleUser)
	api, err := db.CreateRemoteAPI(ctx, &models.RemoteAPI{Name: "peer", ServiceURI: "https://peer.example.org/api", ClientID: "c", ClientSecret: "s"})
	if err != nil {
		t.Fatalf("CreateRemoteAPI failed: %v", err)
	}

	got, err := db.GetRemoteAPIByURI(ctx, "https://peer.example.org/api")
	if err != nil || got.ID != api.ID {
		t.Fatalf("GetRemoteAPIByURI = %+v, %v", got, err)
	}

	now := time.Now()
	if _, err := db.SaveRemoteAPIToken(ctx, &models.RemoteAPIToken{RemoteAPIID: api.ID, UserID: u.ID, Token: "old", ExpiryDate: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("SaveRemoteAPIToken failed: %v", err)
	}
	if _, err := db.GetRemoteAPIToken(ctx, api.ID, u.ID, now); !errors.IsKind(err, errors.KindCredentialsExpired) {
		t.Errorf("expected CredentialsExpired, got %v", err)
	}

	if _, err := db.SaveRemoteAPIToken(ctx, &models.RemoteAPIToken{RemoteAPIID: api.ID, UserID: u.ID, Token: "new", ExpiryDate: now.Add(time.Hour)}); err != nil {
		t.Fatalf("SaveRemoteAPIToken failed: %v", err)
	}
	token, err := db.GetRemoteAPIToken(ctx, api.ID, u.ID, now)
	if err != nil || token.Token != "new" {
		t.Errorf("GetRemoteAPIToken = %+v, %v", token, err)
	}

	if err := db.DeleteRemoteAPI(ctx, api.ID); err != nil {
		t.Fatalf("DeleteRemoteAPI failed: %v", err)
	}
	if _, err := db.GetRemoteAPIToken(ctx, api.ID, u.ID, now); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("tokens should cascade with their api, got %v", err)
	}
}

func TestRelationshipOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	r, err := db.CreateRelationship(ctx, &models.Relationship{
		SubjectType: "project", SubjectID: 1, Predicate: "hasSample", ObjectType: "sample", ObjectID: 2,
	})
	if err != nil {
		t.Fatalf("CreateRelationship failed: %v", err)
	}

	_, err = db.CreateRelationship(ctx, &models.Relationship{
		SubjectType: "project", SubjectID: 1, Predicate: "hasSample", ObjectType: "sample", ObjectID: 2,
	})
	if !errors.IsKind(err, errors.KindExists) {
		t.Errorf("expected Exists for duplicate relationship, got %v", err)
	}

	bySubject, _ := db.RelationshipsForSubject(ctx, "project", 1)
	byObject, _ := db.RelationshipsForObject(ctx, "sample", 2)
	byPredicate, _ := db.FindRelationships(ctx, "project", 1, "hasSample")
	if len(bySubject) != 1 || len(byObject) != 1 || len(byPredicate) != 1 {
		t.Errorf("expected one relationship per query, got %d %d %d", len(bySubject), len(byObject), len(byPredicate))
	}

	if err := db.DeleteRelationship(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRelationship failed: %v", err)
	}
	revisions, _ := db.FindRevisions(ctx, EntityRelationship, r.ID)
	if len(revisions) != 2 || !revisions[0].Deleted {
		t.Errorf("expected create and delete revisions, got %+v", revisions)
	}
}

func TestMigrateAbsoluteToRelativePaths(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	dirs := BaseDirectories{SequenceFiles: "/data/sequence", ReferenceFiles: "/data/reference", OutputFiles: "/data/output"}

	abs, _ := db.CreateSequenceFile(ctx, &models.SequenceFile{FilePath: "/data/sequence/1/1/a.fastq"})
	rel, _ := db.CreateSequenceFile(ctx, &models.SequenceFile{FilePath: "2/1/b.fastq"})
	ref, _ := db.CreateReferenceFile(ctx, &models.ReferenceFile{FilePath: "/data/reference/1/1/ref.fasta"})

	result, err := db.MigrateAbsoluteToRelativePaths(ctx, dirs)
	if err != nil {
		t.Fatalf("MigrateAbsoluteToRelativePaths failed: %v", err)
	}
	if result.Rewritten["sequence_files"] != 1 || result.Rewritten["reference_files"] != 1 {
		t.Errorf("unexpected rewrite counts: %v", result.Rewritten)
	}

	got, _ := db.GetSequenceFile(ctx, abs.ID)
	if got.FilePath != "1/1/a.fastq" {
		t.Errorf("expected relative path, got %q", got.FilePath)
	}
	got, _ = db.GetSequenceFile(ctx, rel.ID)
	if got.FilePath != "2/1/b.fastq" {
		t.Errorf("relative path should be untouched, got %q", got.FilePath)
	}
	gotRef, _ := db.GetReferenceFile(ctx, ref.ID)
	if gotRef.FilePath != "1/1/ref.fasta" {
		t.Errorf("expected relative reference path, got %q", gotRef.FilePath)
	}
}

func TestMigratePathsOutsideBase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	inside, _ := db.CreateSequenceFile(ctx, &models.SequenceFile{FilePath: "/data/sequence/1/1/a.fastq"})
	// shares the prefix string but not the directory
	db.CreateSequenceFile(ctx, &models.SequenceFile{FilePath: "/data/sequence-old/1/1/b.fastq"})

	_, err := db.MigrateAbsoluteToRelativePaths(ctx, BaseDirectories{
		SequenceFiles: "/data/sequence", ReferenceFiles: "/data/reference", OutputFiles: "/data/output",
	})
	if !errors.IsKind(err, errors.KindValidation) {
		t.Fatalf("expected Validation error, got %v", err)
	}

	got, _ := db.GetSequenceFile(ctx, inside.ID)
	if got.FilePath != "/data/sequence/1/1/a.fastq" {
		t.Errorf("nothing should be rewritten when validation fails, got %q", got.FilePath)
	}
}

func TestCountTable(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	createUser(t, db, "a", models.RoleUser)
	createUser(t, db, "b", models.RoleUser)

	count, err := db.CountTable(ctx, "users")
	if err != nil {
		t.Fatalf("CountTable failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 users, got %d", count)
	}

	info, err := db.GetInfo(ctx)
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if info.Counts["users"] != 2 {
		t.Errorf("expected info to count 2 users, got %d", info.Counts["users"])
	}
}

func TestCountTableInvalidTable(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := db.CountTable(context.Background(), "users; DROP TABLE users")
	if err == nil {
		t.Error("expected error for invalid table name")
	}
}
