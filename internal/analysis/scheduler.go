package analysis

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/execution"
	"github.com/nishad/seqlims/internal/logging"
	"github.com/nishad/seqlims/internal/loop"
	"github.com/nishad/seqlims/internal/models"
	"github.com/nishad/seqlims/internal/security"
)

// Notifier tells submitters how their analysis ended.
type Notifier interface {
	NotifyAnalysisFinished(ctx context.Context, u *models.User, sub *models.AnalysisSubmission) error
}

// Users looks up submitters. *database.DB satisfies it.
type Users interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// Workers bounds how many submissions one step handles at a time.
	Workers int
	// PollInterval is the idle wait between runs that found no work.
	PollInterval time.Duration
	// Policy is a loop policy such as "forever:30s" or "backlog". Empty
	// means forever with PollInterval as the idle wait.
	Policy string
	// StepTimeout bounds each run of a step. Zero leaves runs unbounded.
	StepTimeout time.Duration
	Notifier    Notifier
	Users       Users
	Logger      *zap.Logger
}

// Scheduler moves submissions through their lifecycle. Each step picks up
// the submissions waiting in one state and hands them to the
// ExecutionService.
type Scheduler struct {
	exec        *ExecutionService
	submissions Submissions
	notifier    Notifier
	users       Users
	workers     int
	poll        time.Duration
	policy      string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewScheduler returns a scheduler driving exec.
func NewScheduler(exec *ExecutionService, submissions Submissions, opts SchedulerOptions) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	return &Scheduler{
		exec:        exec,
		submissions: submissions,
		notifier:    opts.Notifier,
		users:       opts.Users,
		workers:     opts.Workers,
		poll:        opts.PollInterval,
		policy:      opts.Policy,
		timeout:     opts.StepTimeout,
		logger:      logging.OrNop(opts.Logger),
	}
}

type step struct {
	name string
	from models.AnalysisState
	run  func(ctx context.Context, sub *models.AnalysisSubmission) (bool, error)
}

func (s *Scheduler) steps() []step {
	return []step{
		{name: "prepare", from: models.AnalysisNew, run: s.prepare},
		{name: "execute", from: models.AnalysisPrepared, run: s.execute},
		{name: "monitor", from: models.AnalysisRunning, run: s.monitor},
		{name: "transfer", from: models.AnalysisFinishedRunning, run: s.transfer},
	}
}

// Run starts one loop per step, each governed by the configured policy,
// and blocks until ctx ends or every loop stops. Steps run as the system
// principal.
func (s *Scheduler) Run(ctx context.Context) error {
	const op errors.Op = "analysis.Scheduler.Run"

	policy := loop.Forever(s.poll)
	if s.policy != "" {
		p, err := loop.ParsePolicy(s.policy)
		if err != nil {
			return errors.E(op, errors.KindConfig, err)
		}
		policy = p
	}
	ctx = security.AsSystem(ctx)

	g, ctx := errgroup.WithContext(ctx)
	for _, st := range s.steps() {
		st := st
		task := s.recurring(st).Applied(policy)
		g.Go(func() error {
			s.logger.Info("analysis step started", zap.String("step", st.name), zap.Stringer("policy", policy))
			_, err := loop.Start(ctx, struct{}{}, task, s.options()...)
			return err
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunOnce drains every step in lifecycle order: a step repeats until a run
// finds no work, so submissions arriving meanwhile are handled too.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	const op errors.Op = "analysis.Scheduler.RunOnce"

	ctx = security.AsSystem(ctx)
	for _, st := range s.steps() {
		if _, err := loop.Start(ctx, struct{}{}, s.recurring(st).Applied(loop.Backlog()), s.options()...); err != nil {
			return errors.Wrap(op, err)
		}
	}
	return nil
}

func (s *Scheduler) recurring(st step) loop.Recurring[struct{}] {
	return func(ctx context.Context, v struct{}) (struct{}, bool, error) {
		worked, err := s.runStep(ctx, st)
		if err != nil {
			s.logger.Warn("analysis step failed", zap.String("step", st.name), zap.Error(err))
		}
		return v, worked, err
	}
}

func (s *Scheduler) options() []loop.Option {
	if s.timeout <= 0 {
		return nil
	}
	return []loop.Option{loop.WithTimeout(s.timeout)}
}

// runStep applies st to every submission waiting in st.from. Failures of
// single submissions are recorded on them; only lookup and context errors
// are returned. It reports whether any submission changed.
func (s *Scheduler) runStep(ctx context.Context, st step) (bool, error) {
	subs, err := s.submissions.FindByState(ctx, st.from)
	if err != nil {
		return false, err
	}
	if len(subs) == 0 {
		return false, nil
	}

	changed := make([]bool, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			worked, err := st.run(gctx, sub)
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				worked = s.fail(gctx, st.name, sub, err)
			}
			changed[i] = worked
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	for _, c := range changed {
		if c {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scheduler) prepare(ctx context.Context, sub *models.AnalysisSubmission) (bool, error) {
	sub, err := s.transition(ctx, sub, models.AnalysisPreparing)
	if err != nil {
		return false, err
	}
	sub, err = s.exec.PrepareSubmission(ctx, sub)
	if err != nil {
		return false, err
	}
	_, err = s.transition(ctx, sub, models.AnalysisPrepared)
	return true, err
}

func (s *Scheduler) execute(ctx context.Context, sub *models.AnalysisSubmission) (bool, error) {
	sub, err := s.transition(ctx, sub, models.AnalysisSubmitting)
	if err != nil {
		return false, err
	}
	sub, err = s.exec.ExecuteAnalysis(ctx, sub)
	if err != nil {
		return false, err
	}
	_, err = s.transition(ctx, sub, models.AnalysisRunning)
	return true, err
}

func (s *Scheduler) monitor(ctx context.Context, sub *models.AnalysisSubmission) (bool, error) {
	status, err := s.exec.GetWorkflowStatus(ctx, sub)
	if err != nil {
		return false, err
	}
	switch status.State {
	case execution.StateOK:
		_, err := s.transition(ctx, sub, models.AnalysisFinishedRunning)
		return true, err
	case execution.StateError:
		return false, errors.E(errors.Op("analysis.Scheduler.monitor"), errors.KindWorkflow,
			"workflow failed on the execution engine for "+sub.Label())
	}
	s.logger.Debug("analysis still running", zap.Int64("submission_id", sub.ID),
		zap.String("engine_state", string(status.State)), zap.Float64("percent_complete", status.PercentComplete))
	return false, nil
}

func (s *Scheduler) transfer(ctx context.Context, sub *models.AnalysisSubmission) (bool, error) {
	sub, err := s.transition(ctx, sub, models.AnalysisCompleting)
	if err != nil {
		return false, err
	}
	if _, err := s.exec.TransferAnalysisResults(ctx, sub); err != nil {
		return false, err
	}
	sub, err = s.transition(ctx, sub, models.AnalysisCompleted)
	if err != nil {
		return false, err
	}
	s.notify(ctx, sub)
	return true, nil
}

func (s *Scheduler) transition(ctx context.Context, sub *models.AnalysisSubmission, next models.AnalysisState) (*models.AnalysisSubmission, error) {
	updated, err := s.submissions.ChangeState(ctx, sub.ID, next)
	if err != nil {
		return nil, err
	}
	stateTransitions.WithLabelValues(string(sub.State), string(next)).Inc()
	return updated, nil
}

// fail moves sub to ERROR and tells its submitter. It reports whether sub
// left the state its step picks up.
func (s *Scheduler) fail(ctx context.Context, stepName string, sub *models.AnalysisSubmission, cause error) bool {
	stepFailures.WithLabelValues(stepName).Inc()
	s.logger.Error("analysis failed", zap.String("step", stepName), zap.Int64("submission_id", sub.ID), zap.Error(cause))

	current, err := s.submissions.Read(ctx, sub.ID)
	if err != nil {
		s.logger.Error("re-reading failed submission", zap.Int64("submission_id", sub.ID), zap.Error(err))
		return false
	}
	if current.State.IsTerminal() {
		return true
	}
	updated, err := s.transition(ctx, current, models.AnalysisError)
	if err != nil {
		s.logger.Error("moving submission to ERROR", zap.Int64("submission_id", sub.ID), zap.Error(err))
		return false
	}
	s.notify(ctx, updated)
	return true
}

func (s *Scheduler) notify(ctx context.Context, sub *models.AnalysisSubmission) {
	if !sub.EmailOnCompletion || s.notifier == nil || s.users == nil {
		return
	}
	u, err := s.users.GetUser(ctx, sub.SubmitterID)
	if err != nil {
		s.logger.Warn("looking up submitter", zap.Int64("submission_id", sub.ID), zap.Error(err))
		return
	}
	if err := s.notifier.NotifyAnalysisFinished(ctx, u, sub); err != nil {
		s.logger.Warn("sending analysis notice", zap.Int64("submission_id", sub.ID), zap.Error(err))
	}
}
