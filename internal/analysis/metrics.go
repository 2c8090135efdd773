package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqlims_analysis_state_transitions_total",
		Help: "Analysis submission state changes made by the scheduler.",
	}, []string{"from", "to"})

	stepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqlims_analysis_step_failures_total",
		Help: "Scheduler steps that moved a submission to ERROR.",
	}, []string{"step"})

	submissionsCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqlims_analysis_submissions_cleaned_total",
		Help: "Submissions switched to ERROR at startup because they were left in flight.",
	})
)
