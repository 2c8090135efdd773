package analysis

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/database"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/execution"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
	"github.com/nishad/seqlims/internal/service"
	"github.com/nishad/seqlims/internal/storage"
	"github.com/nishad/seqlims/internal/testutil"
)

const (
	reads   = "@r1\nACGTACGT\n+\nIIIIIIII\n"
	contigs = ">c1\nACGT\n"
)

type env struct {
	db        *database.DB
	fx        *testutil.Fixtures
	svc       *service.Services
	files     *storage.Files
	engine    *testutil.FakeEngine
	exec      *ExecutionService
	scheduler *Scheduler
	cleanup   *CleanupService
	mailer    *testutil.MockMailer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db, fx, cleanup := testutil.TestDBWithFixtures(t)
	t.Cleanup(cleanup)

	dir, dirCleanup := testutil.TempDir(t)
	t.Cleanup(dirCleanup)
	stores, err := storage.Open(ctx, config.StorageConfig{
		SequenceFileDir:  dir + "/sequence",
		ReferenceFileDir: dir + "/reference",
		OutputFileDir:    dir + "/output",
	})
	require.NoError(t, err)
	files := storage.NewFiles(db, stores)
	_, err = files.WriteSequenceFile(ctx, fx.Object.Files[0].ID, "reads.fastq", strings.NewReader(reads))
	require.NoError(t, err)

	engine := testutil.NewFakeEngine(t)
	sum := engine.InstallWorkflow("remote-assembly", `{"name":"assembly","steps":{}}`, map[string]string{"contigs.fasta": contigs})
	workflows := []config.WorkflowConfig{
		{
			ID: "assembly", Name: "Assembly", AnalysisType: "ASSEMBLY", RemoteID: "remote-assembly",
			Checksum: sum, SequenceInput: "sequence_reads", Outputs: map[string]string{"contigs": "contigs.fasta"},
		},
		{
			ID: "tampered", Name: "Tampered", AnalysisType: "ASSEMBLY", RemoteID: "remote-assembly",
			Checksum: "deadbeef", SequenceInput: "sequence_reads", Outputs: map[string]string{"contigs": "contigs.fasta"},
		},
	}

	client, err := execution.NewClient(config.ExecutionConfig{EngineURL: engine.URL(), APIKey: testutil.FakeEngineKey})
	require.NoError(t, err)
	workflowsSvc := execution.NewWorkflowService(client)
	histories := execution.NewHistoriesService(client, 2)

	svc := service.New(db, service.Options{BcryptCost: 4, Workflows: workflows, Files: files})
	types := map[string]string{}
	for _, w := range workflows {
		types[w.ID] = w.AnalysisType
	}
	workspace := NewWorkspaceService(db, files, histories, types, nil)
	exec := NewExecutionService(svc.Submissions, svc.Analyses, workspace, workflowsSvc, histories, nil)
	mailer := &testutil.MockMailer{}

	return &env{
		db:     db,
		fx:     fx,
		svc:    svc,
		files:  files,
		engine: engine,
		exec:   exec,
		scheduler: NewScheduler(exec, svc.Submissions, SchedulerOptions{
			Workers:      2,
			PollInterval: 10 * time.Millisecond,
			Notifier:     mailer,
			Users:        db,
		}),
		cleanup: NewCleanupService(svc.Submissions, nil),
		mailer:  mailer,
	}
}

func as(u *models.User) context.Context {
	return security.WithPrincipal(context.Background(), security.PrincipalFor(u))
}

func (e *env) submit(t *testing.T, workflowID string) *models.AnalysisSubmission {
	t.Helper()
	sub, err := e.svc.Submissions.Create(as(e.fx.Owner), &models.AnalysisSubmission{
		Name:              "contigs for " + workflowID,
		WorkflowID:        workflowID,
		InputObjectIDs:    []int64{e.fx.Object.ID},
		Parameters:        map[string]string{"spades.kmers": "21,33", "orphan": "x"},
		EmailOnCompletion: true,
	})
	require.NoError(t, err)
	return sub
}

func (e *env) read(t *testing.T, id int64) *models.AnalysisSubmission {
	t.Helper()
	sub, err := e.db.GetAnalysisSubmission(context.Background(), id)
	require.NoError(t, err)
	return sub
}

// state is safe to call from Eventually conditions.
func (e *env) state(id int64) models.AnalysisState {
	sub, err := e.db.GetAnalysisSubmission(context.Background(), id)
	if err != nil {
		return ""
	}
	return sub.State
}

func TestSchedulerRunsSubmissionToCompletion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sub := e.submit(t, "assembly")

	require.NoError(t, e.scheduler.RunOnce(ctx))
	sub = e.read(t, sub.ID)
	require.Equal(t, models.AnalysisRunning, sub.State)
	require.NotEmpty(t, sub.RemoteAnalysisID)
	assert.NotEmpty(t, sub.RemoteInputDataID)

	invocations := e.engine.Invocations()
	require.Len(t, invocations, 1)
	assert.Equal(t, "remote-assembly", invocations[0].WorkflowID)
	assert.Equal(t, sub.RemoteAnalysisID, invocations[0].HistoryID)
	assert.Equal(t, "hdca", invocations[0].Inputs["sequence_reads"]["src"])

	history, ok := e.engine.History(sub.RemoteAnalysisID)
	require.True(t, ok)
	uploaded, ok := e.engine.Dataset(history.Datasets[0])
	require.True(t, ok)
	assert.Equal(t, reads, string(uploaded.Content))
	assert.True(t, strings.HasSuffix(uploaded.Name, "_reads.fastq"), uploaded.Name)

	// still running on the engine
	require.NoError(t, e.scheduler.RunOnce(ctx))
	assert.Equal(t, models.AnalysisRunning, e.read(t, sub.ID).State)
	assert.Empty(t, e.mailer.Analyses())

	e.engine.SetHistoryState(sub.RemoteAnalysisID, "ok")
	require.NoError(t, e.scheduler.RunOnce(ctx))
	sub = e.read(t, sub.ID)
	require.Equal(t, models.AnalysisCompleted, sub.State)
	require.NotNil(t, sub.AnalysisID)

	a, err := e.svc.Analyses.ReadForSubmission(as(e.fx.Owner), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "ASSEMBLY", a.AnalysisType)
	assert.Equal(t, sub.RemoteAnalysisID, a.ExecutionManagerID)

	rc, of, err := e.svc.Analyses.OpenOutputFile(as(e.fx.Owner), a.ID, "contigs")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, contigs, string(body))
	assert.Equal(t, fmt.Sprintf("%d/contigs.fasta", sub.ID), of.FilePath)
	assert.Equal(t, int64(len(contigs)), of.FileSize)

	assert.Equal(t, []string{fmt.Sprintf("owner:%d:COMPLETED", sub.ID)}, e.mailer.Analyses())
}

func TestSubmissionWithoutRemoteWorkflowFails(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.scheduler.RunOnce(context.Background()))
	assert.Equal(t, models.AnalysisError, e.read(t, e.fx.Submission.ID).State)
	assert.Empty(t, e.engine.Invocations())
}

func TestChecksumMismatchFailsSubmission(t *testing.T) {
	e := newEnv(t)
	sub := e.submit(t, "tampered")

	require.NoError(t, e.scheduler.RunOnce(context.Background()))
	sub = e.read(t, sub.ID)
	assert.Equal(t, models.AnalysisError, sub.State)
	assert.Empty(t, sub.RemoteAnalysisID, "no workspace for an unverified workflow")
	assert.Equal(t, []string{fmt.Sprintf("owner:%d:ERROR", sub.ID)}, e.mailer.Analyses())
}

func TestEngineFailures(t *testing.T) {
	t.Run("invocation rejected", func(t *testing.T) {
		e := newEnv(t)
		e.engine.FailInvocations(true)
		sub := e.submit(t, "assembly")

		require.NoError(t, e.scheduler.RunOnce(context.Background()))
		sub = e.read(t, sub.ID)
		assert.Equal(t, models.AnalysisError, sub.State)
		assert.NotEmpty(t, sub.RemoteAnalysisID, "workspace was prepared before the run failed")
	})

	t.Run("workflow errored", func(t *testing.T) {
		e := newEnv(t)
		sub := e.submit(t, "assembly")
		ctx := context.Background()

		require.NoError(t, e.scheduler.RunOnce(ctx))
		sub = e.read(t, sub.ID)
		require.Equal(t, models.AnalysisRunning, sub.State)

		e.engine.SetHistoryState(sub.RemoteAnalysisID, "error")
		require.NoError(t, e.scheduler.RunOnce(ctx))
		assert.Equal(t, models.AnalysisError, e.read(t, sub.ID).State)
		assert.Nil(t, e.read(t, sub.ID).AnalysisID)
	})
}

func TestExecutionServiceGuards(t *testing.T) {
	e := newEnv(t)
	ctx := security.AsSystem(context.Background())
	rw := &models.RemoteWorkflow{WorkflowID: "remote-assembly", SequenceInput: "sequence_reads"}

	_, err := e.exec.PrepareSubmission(ctx, &models.AnalysisSubmission{ID: 1, State: models.AnalysisNew, RemoteWorkflow: rw})
	assert.True(t, errors.IsKind(err, errors.KindIllegalState), "prepare outside PREPARING: %v", err)

	_, err = e.exec.PrepareSubmission(ctx, &models.AnalysisSubmission{
		ID: 1, State: models.AnalysisPreparing, RemoteWorkflow: rw, RemoteAnalysisID: "h1",
	})
	assert.True(t, errors.IsKind(err, errors.KindIllegalState), "prepare twice: %v", err)

	_, err = e.exec.ExecuteAnalysis(ctx, &models.AnalysisSubmission{ID: 1, State: models.AnalysisPrepared, RemoteWorkflow: rw})
	assert.True(t, errors.IsKind(err, errors.KindIllegalState), "execute outside SUBMITTING: %v", err)

	_, err = e.exec.GetWorkflowStatus(ctx, &models.AnalysisSubmission{ID: 1})
	assert.True(t, errors.IsKind(err, errors.KindValidation), "status without remote id: %v", err)

	_, err = e.exec.TransferAnalysisResults(ctx, &models.AnalysisSubmission{ID: 1})
	assert.True(t, errors.IsKind(err, errors.KindValidation), "transfer without remote id: %v", err)

	_, err = e.exec.TransferAnalysisResults(ctx, &models.AnalysisSubmission{ID: 9999, RemoteAnalysisID: "h1"})
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "transfer for a missing submission: %v", err)
}

func TestCleanupSwitchesInFlightSubmissions(t *testing.T) {
	e := newEnv(t)
	ctx := security.AsSystem(context.Background())

	_, err := e.svc.Submissions.ChangeState(ctx, e.fx.Submission.ID, models.AnalysisPreparing)
	require.NoError(t, err)
	other := e.submit(t, "assembly")
	_, err = e.svc.Submissions.ChangeState(ctx, other.ID, models.AnalysisPreparing)
	require.NoError(t, err)
	_, err = e.svc.Submissions.ChangeState(ctx, other.ID, models.AnalysisPrepared)
	require.NoError(t, err)

	switched, err := e.cleanup.SwitchInconsistentSubmissionsToError(context.Background())
	require.NoError(t, err)
	require.Len(t, switched, 1)
	assert.Equal(t, e.fx.Submission.ID, switched[0].ID)
	assert.Equal(t, models.AnalysisError, e.read(t, e.fx.Submission.ID).State)
	assert.Equal(t, models.AnalysisPrepared, e.read(t, other.ID).State)

	switched, err = e.cleanup.SwitchInconsistentSubmissionsToError(context.Background())
	require.NoError(t, err)
	assert.Empty(t, switched)
}

func TestSchedulerRunUntilCancelled(t *testing.T) {
	e := newEnv(t)
	sub := e.submit(t, "assembly")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.scheduler.Run(ctx) }()

	require.Eventually(t, func() bool {
		return e.state(sub.ID) == models.AnalysisRunning
	}, 5*time.Second, 10*time.Millisecond)

	e.engine.SetHistoryState(e.read(t, sub.ID).RemoteAnalysisID, "ok")
	require.Eventually(t, func() bool {
		return e.state(sub.ID) == models.AnalysisCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerRejectsUnknownPolicy(t *testing.T) {
	e := newEnv(t)
	s := NewScheduler(e.exec, e.svc.Submissions, SchedulerOptions{Policy: "sometimes"})

	err := s.Run(context.Background())
	assert.True(t, errors.IsKind(err, errors.KindConfig), "got %v", err)
}

func TestSchedulerBacklogPolicyStopsWhenIdle(t *testing.T) {
	e := newEnv(t)
	sub := e.submit(t, "assembly")
	s := NewScheduler(e.exec, e.svc.Submissions, SchedulerOptions{Policy: "backlog", Users: e.db})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("backlog scheduler did not stop")
	}
	assert.NotEqual(t, models.AnalysisNew, e.read(t, sub.ID).State)
}

func TestSchedulerStepTimeout(t *testing.T) {
	e := newEnv(t)
	e.submit(t, "assembly")
	s := NewScheduler(e.exec, e.svc.Submissions, SchedulerOptions{StepTimeout: time.Nanosecond})

	assert.Error(t, s.RunOnce(context.Background()))
}
